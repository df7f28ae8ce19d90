package dualarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestGripper(t *testing.T) {
	cfg := DefaultWorkspaceConfig()
	state := NewServoState()
	logger := logging.NewTestLogger(t)

	g, err := NewGripper(RoleLeft, cfg.LeftArm, state, logger)
	require.NoError(t, err)
	ch := cfg.LeftArm.Joints.Gripper.Channel

	require.NoError(t, g.Open())
	angle, _ := state.Desired(ch)
	assert.Equal(t, cfg.LeftArm.Joints.Gripper.Max, angle)

	require.NoError(t, g.Close())
	angle, _ = state.Desired(ch)
	assert.Equal(t, cfg.LeftArm.Joints.Gripper.Min, angle)

	require.NoError(t, g.SetPercent(0.5))
	angle, _ = state.Desired(ch)
	assert.InDelta(t, 90.0, angle, 1e-9) // midpoint of [30,150]
	assert.True(t, g.IsHoldingAt(0.5, 0.01))
	assert.False(t, g.IsHoldingAt(1.0, 0.01))

	assert.Error(t, g.SetPercent(1.5))
	assert.Error(t, g.SetPercent(-0.1))

	t.Run("missing gripper joint", func(t *testing.T) {
		arm := &ArmConfig{}
		_, err := NewGripper(RoleRight, arm, state, logger)
		assert.ErrorIs(t, err, ErrConfigMissing)
	})
}
