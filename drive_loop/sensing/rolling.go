// Package sensing holds the small signal filters that sit between raw sensor
// values and the arbiter: a fixed-window rolling sum and the ranging obstacle
// check.
package sensing

import "gonum.org/v1/gonum/floats"

// Rolling is a fixed-capacity FIFO window over scalar samples.
//
// Its sum is used as a hysteresis filter: a single noisy frame cannot cross a
// threshold on its own, the accumulated window has to.
type Rolling struct {
	capacity int
	window   []float64
}

// NewRolling creates a window holding at most capacity samples. Capacities
// below 1 are raised to 1.
func NewRolling(capacity int) *Rolling {
	if capacity < 1 {
		capacity = 1
	}
	return &Rolling{
		capacity: capacity,
		window:   make([]float64, 0, capacity),
	}
}

// Push appends v, evicting the oldest sample when the window is full.
func (r *Rolling) Push(v float64) {
	if len(r.window) == r.capacity {
		copy(r.window, r.window[1:])
		r.window = r.window[:len(r.window)-1]
	}
	r.window = append(r.window, v)
}

// Sum returns the sum of the samples currently held.
func (r *Rolling) Sum() float64 {
	if len(r.window) == 0 {
		return 0
	}
	return floats.Sum(r.window)
}

// Reset empties the window.
func (r *Rolling) Reset() {
	r.window = r.window[:0]
}

// Len returns the number of samples held.
func (r *Rolling) Len() int { return len(r.window) }

// Cap returns the window capacity.
func (r *Rolling) Cap() int { return r.capacity }

// Values returns a copy of the window, oldest first.
func (r *Rolling) Values() []float64 {
	out := make([]float64, len(r.window))
	copy(out, r.window)
	return out
}
