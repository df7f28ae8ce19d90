package dualarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServoStateDesired(t *testing.T) {
	s := NewServoState()

	_, ok := s.Desired(0)
	assert.False(t, ok)

	s.UpdateAngle(0, 90)
	angle, ok := s.Desired(0)
	assert.True(t, ok)
	assert.Equal(t, 90.0, angle)

	// Later updates overwrite.
	s.UpdateAngle(0, 135)
	angle, _ = s.Desired(0)
	assert.Equal(t, 135.0, angle)
}

func TestServoStateIgnoresOutOfRangeChannels(t *testing.T) {
	s := NewServoState()
	s.UpdateAngle(-1, 90)
	s.UpdateAngle(16, 90)
	assert.Empty(t, s.GetPendingUpdates())

	s.UpdateAngle(MinChannel, 10)
	s.UpdateAngle(MaxChannel, 20)
	assert.Len(t, s.GetPendingUpdates(), 2)
}

func TestServoStateDedup(t *testing.T) {
	s := NewServoState()

	s.UpdateAngle(3, 45)
	pending := s.GetPendingUpdates()
	assert.Equal(t, map[int]float64{3: 45}, pending)

	// Pending stays until marked as sent; reading is not consuming.
	assert.Equal(t, map[int]float64{3: 45}, s.GetPendingUpdates())

	s.MarkAsSent(3, 45)
	assert.Empty(t, s.GetPendingUpdates())

	// Re-requesting the already-sent angle is not pending again.
	s.UpdateAngle(3, 45)
	assert.Empty(t, s.GetPendingUpdates())

	// A different angle is.
	s.UpdateAngle(3, 46)
	assert.Equal(t, map[int]float64{3: 46}, s.GetPendingUpdates())
}

func TestServoStateClearHistory(t *testing.T) {
	s := NewServoState()
	s.UpdateAngle(1, 90)
	s.UpdateAngle(2, 120)
	s.MarkAsSent(1, 90)
	s.MarkAsSent(2, 120)
	assert.Empty(t, s.GetPendingUpdates())

	// After a reconnect every desired angle goes back on the wire.
	s.ClearHistory()
	assert.Equal(t, map[int]float64{1: 90, 2: 120}, s.GetPendingUpdates())
}
