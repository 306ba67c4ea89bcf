package analyze

// bandAlphabet fixes the symbol order; ties between successors go to the earlier symbol
var bandAlphabet = []Band{BandForeground, BandScreenOn, BandScreenOff, BandOffline}

// StatePredictor predicts the next band from first-order transitions over the
// recent band history
type StatePredictor struct {
	cfg Config
}

// NewStatePredictor creates a predictor with the configured window
func NewStatePredictor(cfg Config) *StatePredictor {
	return &StatePredictor{cfg: cfg.withDefaults()}
}

// TransitionCounts counts consecutive band pairs over the last PredictWindow
// entries of bands. Calibrating entries are dropped before pairing.
func (p *StatePredictor) TransitionCounts(bands []Band) map[Band]map[Band]int {
	symbols := p.discretize(bands)
	counts := make(map[Band]map[Band]int)
	for i := 1; i < len(symbols); i++ {
		from, to := symbols[i-1], symbols[i]
		if counts[from] == nil {
			counts[from] = make(map[Band]int)
		}
		counts[from][to]++
	}
	return counts
}

// Predict returns the most frequent successor of the current band, or nil when
// there are fewer than PredictMinSamples bands or the current band has no
// observed outgoing transition
func (p *StatePredictor) Predict(bands []Band) *Prediction {
	if len(bands) < p.cfg.PredictMinSamples {
		return nil
	}
	symbols := p.discretize(bands)
	if len(symbols) == 0 {
		return nil
	}
	current := symbols[len(symbols)-1]
	successors := p.TransitionCounts(bands)[current]

	total := 0
	for _, c := range successors {
		total += c
	}
	if total == 0 {
		return nil
	}

	var best Band
	bestCount := 0
	for _, b := range bandAlphabet {
		if c := successors[b]; c > bestCount {
			best, bestCount = b, c
		}
	}
	return &Prediction{
		Band:       best,
		Confidence: float64(bestCount) / float64(total),
		Observed:   total,
	}
}

func (p *StatePredictor) discretize(bands []Band) []Band {
	window := bands
	if len(window) > p.cfg.PredictWindow {
		window = window[len(window)-p.cfg.PredictWindow:]
	}
	symbols := make([]Band, 0, len(window))
	for _, b := range window {
		if b.Discrete() {
			symbols = append(symbols, b)
		}
	}
	return symbols
}
