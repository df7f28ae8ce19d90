package dualarm

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Kinematic branch choices for the two-link planar sub-chain.
const (
	ElbowUp   = "Elbow Up"
	ElbowDown = "Elbow Down"
	// Pointing marks a target outside the kinematic envelope: the solution
	// carries only a best-effort pointing direction, never a solvable pose.
	Pointing = "Pointing"
)

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// IKSolution is the result of one inverse-kinematics solve. Angles are
// math-frame degrees: theta1 is yaw about the vertical axis, theta2 the
// shoulder elevation, theta3 the elbow bend.
type IKSolution struct {
	Theta1     float64 `json:"theta1"`
	Theta2     float64 `json:"theta2"`
	Theta3     float64 `json:"theta3"`
	Valid      bool    `json:"valid"`
	ConfigName string  `json:"config_name"`
	Reach      float64 `json:"reach"`
	R          float64 `json:"r"`
	S          float64 `json:"s"`
}

// SolveIK converts a Cartesian target (mm, robot-local frame) into joint
// angles for a two-link arm with base column d1, upper arm a2 and forearm
// a3. Out-of-reach targets return Valid=false with ConfigName Pointing and
// a best-effort pointing estimate. The branch policy must be ElbowUp or
// ElbowDown; ambiguity is resolved by policy, not search.
func SolveIK(x, y, z float64, links LinkSet, policy string) IKSolution {
	var theta1 float64
	if x != 0 || y != 0 {
		theta1 = degrees(math.Atan2(x, y))
	}

	r := math.Hypot(x, y)
	s := z - links.D1
	d := math.Hypot(r, s)
	alpha := math.Atan2(s, r)

	sol := IKSolution{Theta1: theta1, Reach: d, R: r, S: s}

	if d > links.A2+links.A3 || d < math.Abs(links.A2-links.A3) {
		sol.Valid = false
		sol.ConfigName = Pointing
		sol.Theta2 = degrees(alpha)
		sol.Theta3 = 0
		return sol
	}

	// Law of cosines for the elbow; clamp absorbs floating-point overshoot
	// at the reach boundary.
	cosTheta3 := (d*d - links.A2*links.A2 - links.A3*links.A3) / (2 * links.A2 * links.A3)
	cosTheta3 = math.Max(-1, math.Min(1, cosTheta3))
	mag := math.Acos(cosTheta3)

	beta := math.Atan2(links.A3*math.Sin(mag), links.A2+links.A3*math.Cos(mag))

	sol.Valid = true
	switch policy {
	case ElbowDown:
		sol.ConfigName = ElbowDown
		sol.Theta2 = degrees(alpha - beta)
		sol.Theta3 = degrees(mag)
	default:
		sol.ConfigName = ElbowUp
		sol.Theta2 = degrees(alpha + beta)
		sol.Theta3 = -degrees(mag)
	}
	return sol
}

// Forward computes the Cartesian position (mm) reached by the given
// math-frame joint angles (degrees).
func Forward(theta1, theta2, theta3 float64, links LinkSet) (x, y, z float64) {
	t1 := radians(theta1)
	t2 := radians(theta2)
	t3 := radians(theta3)

	planar := links.A2*math.Cos(t2) + links.A3*math.Cos(t2+t3)
	x = planar * math.Sin(t1)
	y = planar * math.Cos(t1)
	z = links.D1 + links.A2*math.Sin(t2) + links.A3*math.Sin(t2+t3)
	return x, y, z
}

// JointTarget is one per-joint physical command produced for the motion
// planner. WithinLimits is false when the computed physical angle falls
// outside the joint's configured range; the value is reported unclamped so
// the caller can tell "unreachable" from "reachable but over joint limit".
type JointTarget struct {
	Joint        string
	Channel      int
	Angle        float64
	WithinLimits bool
}

// CheckJointLimits returns ErrJointLimit naming every flagged joint, or nil.
func CheckJointLimits(targets []JointTarget) error {
	var over []string
	for _, t := range targets {
		if !t.WithinLimits {
			over = append(over, t.Joint)
		}
	}
	if len(over) > 0 {
		return errors.Wrapf(ErrJointLimit, "joints %s", strings.Join(over, ", "))
	}
	return nil
}

// KinematicsSolver binds the pure IK/FK math to one arm's configured links
// and joint mappings.
type KinematicsSolver struct {
	role   Role
	cfg    *ArmConfig
	logger logging.Logger
}

func NewKinematicsSolver(role Role, cfg *ArmConfig, logger logging.Logger) *KinematicsSolver {
	return &KinematicsSolver{role: role, cfg: cfg, logger: logger}
}

// ComputeIKDetail solves for a robot-local target with no z-offset applied.
// Pure: identical inputs produce identical output.
func (k *KinematicsSolver) ComputeIKDetail(x, y, z float64, policy string) IKSolution {
	if policy == "" {
		policy = ElbowUp
	}
	return SolveIK(x, y, z, k.cfg.Links, policy)
}

// ComputeIKForMotion layers the arm's gripper z-offset and an optional
// wrist-roll orientation onto a solve, returning one physical target per
// actuated joint (gripper excluded) in dispatch order. A nil orientation
// keeps the wrist roll at math zero; a non-nil one changes only the last
// target. Unreachable targets return ErrUnreachable; joint-limit violations
// are flagged per target, not clamped, and motion must not be sent for them.
func (k *KinematicsSolver) ComputeIKForMotion(x, y, z float64, orientation *float64) ([]JointTarget, error) {
	sol := SolveIK(x, y, z+k.cfg.GripperZOffsetMM, k.cfg.Links, ElbowUp)
	if !sol.Valid {
		return nil, errors.Wrapf(ErrUnreachable, "%s target (%.1f, %.1f, %.1f) at reach %.1f", k.role, x, y, z, sol.Reach)
	}

	// Keep the tool level: the wrist pitch cancels the shoulder+elbow sum.
	wristPitch := -(sol.Theta2 + sol.Theta3)
	wristRoll := 0.0
	if orientation != nil {
		wristRoll = *orientation
	}

	mathAngles := []float64{sol.Theta1, sol.Theta2, sol.Theta3, wristPitch, wristRoll}
	names := []string{JointBaseYaw, JointShoulder, JointElbow, JointWristPitch, JointWristRoll}

	joints := k.cfg.Joints.Actuated()
	targets := make([]JointTarget, len(joints))
	for i, j := range joints {
		physical := j.PhysicalFromMath(mathAngles[i])
		targets[i] = JointTarget{
			Joint:        names[i],
			Channel:      j.Channel,
			Angle:        physical,
			WithinLimits: j.WithinLimits(physical),
		}
		if !targets[i].WithinLimits && k.logger != nil {
			k.logger.Debugf("%s joint %s physical angle %.1f outside [%.1f, %.1f]",
				k.role, names[i], physical, j.Min, j.Max)
		}
	}
	return targets, nil
}
