package processors

import "sync"

// Recorder accumulates the cost an extract phase incurs, line item by line
// item. Safe for concurrent use so fan-out extracts can share one.
type Recorder struct {
	mu    sync.Mutex
	total int64
	items map[string]int64
}

func NewRecorder() *Recorder {
	return &Recorder{items: map[string]int64{}}
}

// Record adds cents under the given line item label.
func (r *Recorder) Record(label string, cents int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += cents
	r.items[label] += cents
}

// TotalCents returns the accumulated cost.
func (r *Recorder) TotalCents() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Breakdown returns a copy of the per-item totals.
func (r *Recorder) Breakdown() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.items))
	for k, v := range r.items {
		out[k] = v
	}
	return out
}
