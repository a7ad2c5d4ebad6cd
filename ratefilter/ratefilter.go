// Package ratefilter estimates a rate from irregular samples with an
// exponential decay.
package ratefilter

import (
	"math"
	"time"

	"github.com/aethiopicuschan/p2ptp/timestamp"
)

// Filter accumulates input between observations and folds the resulting
// instantaneous rate into an exponentially decaying average. During
// silence the output falls toward zero. Filter is not safe for concurrent
// use.
type Filter struct {
	decay float64 // ticks
	unit  float64 // ticks

	acc    float64
	output float64

	last    timestamp.Time32
	started bool
}

// New returns a filter whose output is expressed per unit and which forgets
// old input with the given decay time constant.
func New(decay, unit time.Duration) *Filter {
	if decay <= 0 {
		decay = time.Second
	}
	if unit <= 0 {
		unit = time.Second
	}
	return &Filter{
		decay: float64(timestamp.Ticks(decay)),
		unit:  float64(timestamp.Ticks(unit)),
	}
}

// Input adds v to the quantity observed since the last call to Observe.
func (f *Filter) Input(v float64) {
	f.acc += v
}

// Observe closes the current interval at now and updates the output.
func (f *Filter) Observe(now timestamp.Time32) {
	if !f.started {
		f.last = now
		f.started = true
		return
	}
	if !f.last.Before(now) {
		return
	}
	dt := float64(uint32(now - f.last))
	rate := f.acc * f.unit / dt
	alpha := 1 - math.Exp(-dt/f.decay)
	f.output += alpha * (rate - f.output)
	f.acc = 0
	f.last = now
}

// OutputPerUnit returns the current estimate.
func (f *Filter) OutputPerUnit() float64 {
	return f.output
}

// SetOutputPerUnit overrides the current estimate.
func (f *Filter) SetOutputPerUnit(v float64) {
	f.output = v
}
