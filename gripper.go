package dualarm

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Gripper commands one arm's gripper servo through the shared servo state.
// The gripper is deliberately outside the motion-planner path: grip changes
// are instantaneous setpoints, not interpolated trajectories, and they must
// not cancel an in-flight arm motion.
type Gripper struct {
	role   Role
	joint  *JointConfig
	state  *ServoState
	logger logging.Logger
}

func NewGripper(role Role, arm *ArmConfig, state *ServoState, logger logging.Logger) (*Gripper, error) {
	if arm.Joints.Gripper == nil {
		return nil, errors.Wrapf(ErrConfigMissing, "%s has no gripper joint", role)
	}
	return &Gripper{role: role, joint: arm.Joints.Gripper, state: state, logger: logger}, nil
}

// SetPercent commands the gripper opening as a fraction of its configured
// range: 0 fully closed (joint min), 1 fully open (joint max).
func (g *Gripper) SetPercent(fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return errors.Errorf("gripper fraction %.2f outside [0,1]", fraction)
	}
	angle := g.joint.Min + fraction*(g.joint.Max-g.joint.Min)
	g.state.UpdateAngle(g.joint.Channel, angle)
	if g.logger != nil {
		g.logger.Debugf("%s gripper set to %.0f%% (%.1f deg on channel %d)",
			g.role, fraction*100, angle, g.joint.Channel)
	}
	return nil
}

// Open drives the gripper to its configured maximum.
func (g *Gripper) Open() error {
	return g.SetPercent(1)
}

// Close drives the gripper to its configured minimum.
func (g *Gripper) Close() error {
	return g.SetPercent(0)
}

// IsHoldingAt reports whether the last commanded angle is within tolerance
// of the given fraction. Position feedback is not available on the wire, so
// this reflects intent, not measurement.
func (g *Gripper) IsHoldingAt(fraction, tolerance float64) bool {
	angle, ok := g.state.Desired(g.joint.Channel)
	if !ok {
		return false
	}
	want := g.joint.Min + fraction*(g.joint.Max-g.joint.Min)
	diff := angle - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance*(g.joint.Max-g.joint.Min)
}
