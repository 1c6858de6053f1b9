package estimator

// history is a pair of parallel FIFO rings of features and targets.
// Both rings always hold the same number of rows; once full, a push evicts the oldest row.
type history struct {
	features []Features
	targets  []float64
	head     int // next write position
	count    int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{
		features: make([]Features, capacity),
		targets:  make([]float64, capacity),
	}
}

func (h *history) push(f Features, target float64) {
	h.features[h.head] = f
	h.targets[h.head] = target
	h.head = (h.head + 1) % len(h.features)
	if h.count < len(h.features) {
		h.count++
	}
}

func (h *history) len() int { return h.count }

func (h *history) capacity() int { return len(h.features) }

// rows returns copies of the history, oldest first.
func (h *history) rows() ([]Features, []float64) {
	fs := make([]Features, 0, h.count)
	ys := make([]float64, 0, h.count)
	start := (h.head - h.count + len(h.features)) % len(h.features)
	for i := 0; i < h.count; i++ {
		idx := (start + i) % len(h.features)
		fs = append(fs, h.features[idx])
		ys = append(ys, h.targets[idx])
	}
	return fs, ys
}
