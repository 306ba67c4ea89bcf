package analyze

// RollingAverager batches raw measurements into non-overlapping windows and
// emits one averaged measurement per full window
type RollingAverager struct {
	size int
	buf  []Measurement
}

// NewRollingAverager creates an averager with the given window size
func NewRollingAverager(size int) *RollingAverager {
	if size <= 0 {
		size = DefaultConfig().BatchSize
	}
	return &RollingAverager{size: size, buf: make([]Measurement, 0, size)}
}

// Add buffers m. When the window fills it returns the averaged measurement and
// empties the buffer.
//
// The averaged record carries the newest raw measurement's classification. Its
// RTT is the mean of the valid samples in the window; a window made only of
// timeouts averages to an OFFLINE record without RTT.
func (r *RollingAverager) Add(m Measurement) (Measurement, bool) {
	r.buf = append(r.buf, m)
	if len(r.buf) < r.size {
		return Measurement{}, false
	}

	newest := r.buf[len(r.buf)-1]
	samples := make([]float64, 0, len(r.buf))
	for _, b := range r.buf {
		if b.Valid() {
			samples = append(samples, b.RTT())
		}
	}
	r.buf = r.buf[:0]

	avg := newest
	avg.IsAveraged = true
	avg.RawRTT = newest.RTTms
	avg.WindowSamples = samples
	if len(samples) == 0 {
		avg.RTTms = nil
		avg.Band = BandOffline
		return avg, true
	}
	avg.RTTms = floatPtr(mean(samples))
	return avg, true
}

// Len returns the number of buffered measurements
func (r *RollingAverager) Len() int {
	return len(r.buf)
}

// Size returns the window size
func (r *RollingAverager) Size() int {
	return r.size
}

// Reset drops buffered measurements
func (r *RollingAverager) Reset() {
	r.buf = r.buf[:0]
}
