// v0
// internal/control/ranges.go
package control

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidRange = errors.New("invalid range")

// ErrUnknownQuantity is returned for quantities the store does not track.
var ErrUnknownQuantity = errors.New("unknown quantity")

// Ranges stores the operator-configured bands. Writers are HTTP handlers; the control
// loop reads once per cycle so an update takes effect on the next decision.
type Ranges struct {
	mu     sync.RWMutex
	values [len(Quantities)]Range
}

func NewRanges(temperature, humidity Range) (*Ranges, error) {
	if err := temperature.Validate(); err != nil {
		return nil, fmt.Errorf("temperature: %w", err)
	}
	if err := humidity.Validate(); err != nil {
		return nil, fmt.Errorf("humidity: %w", err)
	}
	rs := &Ranges{}
	rs.values[Temperature] = temperature
	rs.values[Humidity] = humidity
	return rs, nil
}

func DefaultRanges() *Ranges {
	rs, _ := NewRanges(DefaultRange(Temperature), DefaultRange(Humidity))
	return rs
}

func (r *Ranges) Get(q Quantity) Range {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[q]
}

// Set replaces the band for q after validation. The previous band is returned so the
// caller can announce the change.
func (r *Ranges) Set(q Quantity, rg Range) (Range, error) {
	if q != Temperature && q != Humidity {
		return Range{}, fmt.Errorf("%w: %d", ErrUnknownQuantity, int(q))
	}
	if err := rg.Validate(); err != nil {
		return Range{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.values[q]
	r.values[q] = rg
	return prev, nil
}

// All returns both bands keyed by quantity name.
func (r *Ranges) All() map[string]Range {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Range, len(r.values))
	for _, q := range Quantities {
		out[q.String()] = r.values[q]
	}
	return out
}
