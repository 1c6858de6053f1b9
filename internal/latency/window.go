package latency

// window is a fixed-capacity FIFO ring of millisecond samples.
// Once full, each push overwrites the oldest sample.
type window struct {
	samples []float64
	head    int // next write position
	count   int
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{samples: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	w.samples[w.head] = v
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

func (w *window) len() int { return w.count }

// values returns a copy of the samples, oldest first.
func (w *window) values() []float64 {
	out := make([]float64, 0, w.count)
	start := (w.head - w.count + len(w.samples)) % len(w.samples)
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%len(w.samples)])
	}
	return out
}

func (w *window) reset() {
	w.head = 0
	w.count = 0
}
