package simulation

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultTickHz is the physics rate used when none is configured.
const DefaultTickHz = 50

// maxCatchUpSteps bounds how many fixed steps one wake-up may run after a stall.
const maxCatchUpSteps = 5

// StepFunc advances the simulation by one fixed timestep.
type StepFunc func(tick uint64, step time.Duration)

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	ticker   *time.Ticker
	done     chan struct{}
	ticks    uint64
	dropped  atomic.Uint64
}

// NewLoop configures a loop that targets the provided ticks per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = DefaultTickHz
	}
	if step == nil {
		step = func(uint64, time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / DefaultTickHz
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	l.ticker = time.NewTicker(l.step)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				steps := 0
				for accumulator >= l.step && steps < maxCatchUpSteps {
					l.ticks++
					l.stepFunc(l.ticks, l.step)
					accumulator -= l.step
					steps++
				}
				//2.- Drop the backlog after a long stall instead of spiralling.
				for accumulator >= l.step {
					accumulator -= l.step
					l.dropped.Add(1)
				}
			}
		}
	}()
}

// Stop waits for the loop goroutine to exit. The context passed to Start must
// be cancelled first.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Dropped reports how many steps were skipped after stalls.
func (l *Loop) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}
