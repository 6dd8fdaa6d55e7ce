package dsp

// RingFloat is a fixed-capacity ring buffer for float64 values. The oldest
// value is overwritten once the buffer is full.
type RingFloat struct {
	data []float64
	pos  int
	full bool
	cap  int
}

// NewRingFloat creates a RingFloat with the given capacity.
func NewRingFloat(capacity int) *RingFloat {
	if capacity < 1 {
		capacity = 1
	}
	return &RingFloat{
		data: make([]float64, capacity),
		cap:  capacity,
	}
}

// Push adds a value, evicting the oldest one when full.
func (r *RingFloat) Push(v float64) {
	r.data[r.pos] = v
	r.pos++
	if r.pos >= r.cap {
		r.pos = 0
		r.full = true
	}
}

// Len returns the number of stored values.
func (r *RingFloat) Len() int {
	if r.full {
		return r.cap
	}
	return r.pos
}

// Cap returns the capacity.
func (r *RingFloat) Cap() int {
	return r.cap
}

// Reset drops every stored value.
func (r *RingFloat) Reset() {
	r.pos = 0
	r.full = false
}

// Slice returns the contents oldest-first.
func (r *RingFloat) Slice() []float64 {
	n := r.Len()
	out := make([]float64, n)
	if r.full {
		copy(out, r.data[r.pos:])
		copy(out[r.cap-r.pos:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Latest returns the most recent n values oldest-first (all of them when n
// exceeds Len).
func (r *RingFloat) Latest(n int) []float64 {
	all := r.Slice()
	if n >= len(all) || n < 0 {
		return all
	}
	return all[len(all)-n:]
}
