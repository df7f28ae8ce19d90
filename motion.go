package dualarm

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// DefaultStepInterval is the interpolation tick (~50 Hz), matching the
// drain pump cadence so each step lands on the wire.
const DefaultStepInterval = 20 * time.Millisecond

// MotionPlanner interpolates joint angles toward targets over a fixed
// duration, writing each step into the shared ServoState. Starting a new
// motion cancels the one in flight: newest wins.
type MotionPlanner struct {
	state        *ServoState
	logger       logging.Logger
	stepInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMotionPlanner(state *ServoState, logger logging.Logger) *MotionPlanner {
	return &MotionPlanner{
		state:        state,
		logger:       logger,
		stepInterval: DefaultStepInterval,
	}
}

// MoveAll starts interpolating every channel in targets toward its angle
// over the given duration. Any motion already running is cancelled and
// joined first, so at most one interpolation loop writes to the state at a
// time. onComplete (optional) fires only if the motion runs to completion.
func (m *MotionPlanner) MoveAll(targets map[int]float64, duration time.Duration, onComplete func()) {
	if len(targets) == 0 {
		return
	}

	m.mu.Lock()
	m.cancelLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	starts := make(map[int]float64, len(targets))
	goals := make(map[int]float64, len(targets))
	for ch, goal := range targets {
		if cur, ok := m.state.Desired(ch); ok {
			starts[ch] = cur
		} else {
			// No known position: snap rather than sweep from an
			// arbitrary origin.
			starts[ch] = goal
		}
		goals[ch] = goal
	}

	goutils.PanicCapturingGo(func() {
		defer close(done)
		m.run(ctx, starts, goals, duration, onComplete)
	})
}

// Stop cancels any in-flight motion and waits for its loop to exit.
func (m *MotionPlanner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
}

// cancelLocked cancels the current motion and joins its goroutine with a
// bounded wait so a wedged loop cannot deadlock the caller.
func (m *MotionPlanner) cancelLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	if m.done != nil {
		select {
		case <-m.done:
		case <-time.After(2 * m.stepInterval):
			if m.logger != nil {
				m.logger.Warn("previous motion did not exit promptly")
			}
		}
		m.done = nil
	}
}

func (m *MotionPlanner) run(ctx context.Context, starts, goals map[int]float64, duration time.Duration, onComplete func()) {
	numSteps := int(duration / m.stepInterval)
	if numSteps < 1 {
		numSteps = 1
	}

	for step := 1; step <= numSteps; step++ {
		if !goutils.SelectContextOrWait(ctx, m.stepInterval) {
			return
		}
		if step == numSteps {
			// Land exactly on the target regardless of float drift.
			for ch, goal := range goals {
				m.state.UpdateAngle(ch, goal)
			}
			break
		}
		t := float64(step) / float64(numSteps)
		for ch, goal := range goals {
			m.state.UpdateAngle(ch, starts[ch]+(goal-starts[ch])*t)
		}
	}

	if onComplete != nil {
		onComplete()
	}
}
