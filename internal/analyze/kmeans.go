package analyze

import (
	"math"
	"sort"
)

const clusterCount = 3

var clusterLabels = [clusterCount]string{ClusterFast, ClusterMedium, ClusterSlow}

// AdaptiveClassifier is a one-dimensional k-means model (k=3) over recent RTTs.
// It labels samples Fast/Medium/Slow independently of the threshold bands.
type AdaptiveClassifier struct {
	cfg       Config
	centroids [clusterCount]float64
	trained   bool
	trainings int
}

// NewAdaptiveClassifier creates an untrained model
func NewAdaptiveClassifier(cfg Config) *AdaptiveClassifier {
	return &AdaptiveClassifier{cfg: cfg.withDefaults()}
}

// Observe is called after each valid sample with every valid RTT collected so
// far. It retrains on every RetrainEvery-th sample once MinTrainSamples exist
// and reports whether it did.
func (a *AdaptiveClassifier) Observe(valid []float64) bool {
	n := len(valid)
	if n < a.cfg.MinTrainSamples || n%a.cfg.RetrainEvery != 0 {
		return false
	}
	return a.Train(tail(valid, a.cfg.ClusterWindow))
}

// Train fits the model to data. With fewer than k points the previous model is
// kept and false is returned.
func (a *AdaptiveClassifier) Train(data []float64) bool {
	if len(data) < clusterCount {
		return false
	}

	// Seed at evenly spaced positions of the sorted sample
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	step := len(sorted) / clusterCount

	var centroids [clusterCount]float64
	for i := range clusterCount {
		centroids[i] = sorted[min(i*step, len(sorted)-1)]
	}

	for range a.cfg.MaxIterations {
		var sums [clusterCount]float64
		var counts [clusterCount]int
		for _, v := range data {
			idx := nearest(centroids[:], v)
			sums[idx] += v
			counts[idx]++
		}

		moved := 0.0
		for i := range clusterCount {
			if counts[i] == 0 {
				continue // empty cluster keeps its centroid
			}
			next := sums[i] / float64(counts[i])
			moved = math.Max(moved, math.Abs(next-centroids[i]))
			centroids[i] = next
		}
		if moved <= a.cfg.ConvergenceDelta {
			break
		}
	}

	sort.Float64s(centroids[:])
	a.centroids = centroids
	a.trained = true
	a.trainings++
	return true
}

// Classify returns the label of the nearest centroid, or Unknown if untrained
func (a *AdaptiveClassifier) Classify(rtt float64) string {
	if !a.trained {
		return ClusterUnknown
	}
	return clusterLabels[nearest(a.centroids[:], rtt)]
}

// Centroids returns the sorted centroids, or nil if untrained
func (a *AdaptiveClassifier) Centroids() []float64 {
	if !a.trained {
		return nil
	}
	out := make([]float64, clusterCount)
	copy(out, a.centroids[:])
	return out
}

// Trained reports whether the model has been fitted at least once
func (a *AdaptiveClassifier) Trained() bool {
	return a.trained
}

// Trainings returns how many times the model was fitted
func (a *AdaptiveClassifier) Trainings() int {
	return a.trainings
}

// Reset returns the model to the untrained state
func (a *AdaptiveClassifier) Reset() {
	a.centroids = [clusterCount]float64{}
	a.trained = false
	a.trainings = 0
}

// nearest returns the index of the closest centroid; ties go to the lower index
func nearest(centroids []float64, v float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := math.Abs(v - c); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
