package dualarm

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Role identifies one independently calibrated and actuated arm.
type Role string

const (
	RoleLeft  Role = "left_arm"
	RoleRight Role = "right_arm"
)

func (r Role) Valid() bool {
	return r == RoleLeft || r == RoleRight
}

// Joint names used throughout configuration, vertices and share points.
const (
	JointBaseYaw    = "base_yaw"
	JointShoulder   = "shoulder"
	JointElbow      = "elbow"
	JointWristPitch = "wrist_pitch"
	JointWristRoll  = "wrist_roll"
	JointGripper    = "gripper"
)

// LinkSet holds the configured link lengths for one arm in millimeters.
// Immutable per configuration load; read-only to the solver and the
// geometry engine.
type LinkSet struct {
	D1 float64 `json:"d1"` // base column height
	A2 float64 `json:"a2"` // upper arm
	A3 float64 `json:"a3"` // forearm
	A4 float64 `json:"a4"` // wrist
	A6 float64 `json:"a6"` // gripper
}

// JointConfig describes one servo slot: its physical command range in
// degrees, the zero offset between the math frame and the physical frame,
// and the polarity anchor that fixes the sign of the mapping.
type JointConfig struct {
	Channel    int     `json:"channel"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	ZeroOffset float64 `json:"zero_offset"`
	MinPos     string  `json:"min_pos"` // top|bottom|left|right|cw|ccw
	Type       string  `json:"type"`    // vertical|horizontal
	Length     float64 `json:"length,omitempty"`
}

// Direction returns +1 when the joint's minimum-position anchor lies on the
// math-zero side (bottom, left, ccw) and -1 otherwise, so that
// physical = zero_offset + direction*math.
func (j *JointConfig) Direction() float64 {
	switch j.MinPos {
	case "bottom", "left", "ccw":
		return 1
	default:
		return -1
	}
}

// PhysicalFromMath converts a math-frame angle (degrees) to the servo's
// physical command value.
func (j *JointConfig) PhysicalFromMath(angle float64) float64 {
	return j.ZeroOffset + j.Direction()*angle
}

// MathFromPhysical converts a physical command value back to the math frame.
func (j *JointConfig) MathFromPhysical(physical float64) float64 {
	return (physical - j.ZeroOffset) * j.Direction()
}

// WithinLimits reports whether a physical command value respects the
// configured range. Violations are reachability failures, never clamped
// silently at this level.
func (j *JointConfig) WithinLimits(physical float64) bool {
	return physical >= j.Min && physical <= j.Max
}

// JointSet names every servo slot of one arm.
type JointSet struct {
	BaseYaw    *JointConfig `json:"base_yaw"`
	Shoulder   *JointConfig `json:"shoulder"`
	Elbow      *JointConfig `json:"elbow"`
	WristPitch *JointConfig `json:"wrist_pitch"`
	WristRoll  *JointConfig `json:"wrist_roll"`
	Gripper    *JointConfig `json:"gripper"`
}

// Actuated returns the five motion joints in dispatch order. The gripper is
// excluded: it is commanded separately, never by the motion path.
func (js *JointSet) Actuated() []*JointConfig {
	return []*JointConfig{js.BaseYaw, js.Shoulder, js.Elbow, js.WristPitch, js.WristRoll}
}

// ByName resolves a joint by its configuration key.
func (js *JointSet) ByName(name string) *JointConfig {
	switch name {
	case JointBaseYaw:
		return js.BaseYaw
	case JointShoulder:
		return js.Shoulder
	case JointElbow:
		return js.Elbow
	case JointWristPitch:
		return js.WristPitch
	case JointWristRoll:
		return js.WristRoll
	case JointGripper:
		return js.Gripper
	default:
		return nil
	}
}

// SharePoint holds the measured physical angles (degrees per joint) of the
// reference pose common to both arms' coordinate derivations.
type SharePoint struct {
	Angles map[string]float64 `json:"angles"`
}

// VertexConfig is a fixed workspace corner owned by exactly one arm, with
// the measured physical angles from which its position is derived. Derived
// fields are recomputed by the geometry engine, never stored here.
type VertexConfig struct {
	Owner  Role               `json:"owner"`
	Angles map[string]float64 `json:"angles"`
}

// ArmConfig is the full static description of one arm.
type ArmConfig struct {
	Links      LinkSet    `json:"links"`
	Joints     JointSet   `json:"joints"`
	SharePoint SharePoint `json:"share_point"`

	// GripperZOffsetMM is added to motion targets so the gripper tip, not
	// the wrist, lands on the requested point.
	GripperZOffsetMM float64 `json:"gripper_z_offset_mm,omitempty"`

	// XOffsetMM shifts global workspace X into this arm's local frame for
	// the midpoint-dispatch path (no homography).
	XOffsetMM float64 `json:"x_offset_mm,omitempty"`

	// VertexSpanMM is the measured millimeter distance between this arm's
	// two owned vertices, used to derive the camera scale factor.
	VertexSpanMM float64 `json:"vertex_span_mm,omitempty"`
}

// WorkspaceConfig is the root configuration document. The geometry section
// (bases, vertex positions) is derived by the GeometryEngine, not
// hand-authored here.
type WorkspaceConfig struct {
	LeftArm  *ArmConfig               `json:"left_arm"`
	RightArm *ArmConfig               `json:"right_arm"`
	Vertices map[string]*VertexConfig `json:"vertices"`

	WorkspaceWidthMM  float64 `json:"workspace_width_mm,omitempty"`
	WorkspaceHeightMM float64 `json:"workspace_height_mm,omitempty"`
}

// Arm returns the configuration for a role.
func (c *WorkspaceConfig) Arm(role Role) (*ArmConfig, error) {
	switch role {
	case RoleLeft:
		if c.LeftArm == nil {
			return nil, errors.Wrapf(ErrConfigMissing, "no configuration for %s", role)
		}
		return c.LeftArm, nil
	case RoleRight:
		if c.RightArm == nil {
			return nil, errors.Wrapf(ErrConfigMissing, "no configuration for %s", role)
		}
		return c.RightArm, nil
	default:
		return nil, errors.Errorf("unknown arm role %q", role)
	}
}

// VerticesOwnedBy returns the sorted names of the vertices owned by a role.
func (c *WorkspaceConfig) VerticesOwnedBy(role Role) []string {
	names := make([]string, 0, len(c.Vertices))
	for name, v := range c.Vertices {
		if v.Owner == role {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Vertex returns a named vertex, or ErrVertexUndefined.
func (c *WorkspaceConfig) Vertex(name string) (*VertexConfig, error) {
	v, ok := c.Vertices[name]
	if !ok {
		return nil, errors.Wrapf(ErrVertexUndefined, "vertex %q", name)
	}
	return v, nil
}

var validMinPos = map[string]bool{
	"top": true, "bottom": true, "left": true, "right": true, "cw": true, "ccw": true,
}

// Validate fills defaults and rejects structurally broken configuration.
// Reachability (zero-offset-derived values inside [min,max]) is checked at
// solve time per target, not here.
func (c *WorkspaceConfig) Validate(path string) error {
	if c.LeftArm == nil || c.RightArm == nil {
		return errors.Errorf("%s: both left_arm and right_arm must be configured", path)
	}
	if c.WorkspaceWidthMM == 0 {
		c.WorkspaceWidthMM = 400
	}
	if c.WorkspaceHeightMM == 0 {
		c.WorkspaceHeightMM = 300
	}

	for _, role := range []Role{RoleLeft, RoleRight} {
		arm, _ := c.Arm(role)
		if err := validateArm(path, role, arm); err != nil {
			return err
		}
	}

	for name, v := range c.Vertices {
		if !v.Owner.Valid() {
			return errors.Errorf("%s: vertex %q has unknown owner %q", path, name, v.Owner)
		}
		for _, joint := range []string{JointBaseYaw, JointShoulder, JointElbow} {
			if _, ok := v.Angles[joint]; !ok {
				return errors.Errorf("%s: vertex %q missing required angle %q", path, name, joint)
			}
		}
	}
	return nil
}

func validateArm(path string, role Role, arm *ArmConfig) error {
	if arm.Links.A2 <= 0 || arm.Links.A3 <= 0 {
		return errors.Errorf("%s: %s link lengths a2 and a3 must be positive", path, role)
	}
	joints := map[string]*JointConfig{
		JointBaseYaw:    arm.Joints.BaseYaw,
		JointShoulder:   arm.Joints.Shoulder,
		JointElbow:      arm.Joints.Elbow,
		JointWristPitch: arm.Joints.WristPitch,
		JointWristRoll:  arm.Joints.WristRoll,
		JointGripper:    arm.Joints.Gripper,
	}
	for name, j := range joints {
		if j == nil {
			return errors.Errorf("%s: %s joint %q is not configured", path, role, name)
		}
		if j.Min >= j.Max {
			return errors.Errorf("%s: %s joint %q has min %.1f >= max %.1f", path, role, name, j.Min, j.Max)
		}
		if j.MinPos != "" && !validMinPos[j.MinPos] {
			return errors.Errorf("%s: %s joint %q has invalid min_pos %q", path, role, name, j.MinPos)
		}
		if j.Type != "" && j.Type != "vertical" && j.Type != "horizontal" {
			return errors.Errorf("%s: %s joint %q has invalid type %q", path, role, name, j.Type)
		}
		if j.Channel < MinChannel || j.Channel > MaxChannel {
			return errors.Errorf("%s: %s joint %q channel %d out of range", path, role, name, j.Channel)
		}
	}
	for _, joint := range []string{JointBaseYaw, JointShoulder, JointElbow} {
		if _, ok := arm.SharePoint.Angles[joint]; !ok {
			return errors.Errorf("%s: %s share point missing required angle %q", path, role, joint)
		}
	}
	return nil
}

// LoadWorkspaceConfig reads and validates a configuration document.
// A missing file is ErrConfigMissing; a malformed one is a parse error.
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrConfigMissing, path)
		}
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	var cfg WorkspaceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveWorkspaceConfig writes a configuration document.
func SaveWorkspaceConfig(path string, cfg *WorkspaceConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// ConfigCache rereads a configuration document only when its modification
// time advances. Callers own the instance; there is no process-wide cached
// configuration.
type ConfigCache struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cfg     *WorkspaceConfig
}

func NewConfigCache(path string) *ConfigCache {
	return &ConfigCache{path: path}
}

// Load returns the cached configuration, reparsing the source only when its
// mtime differs from the cached one.
func (c *ConfigCache) Load() (*WorkspaceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrConfigMissing, c.path)
		}
		return nil, errors.Wrapf(err, "failed to stat config %s", c.path)
	}

	if c.cfg != nil && info.ModTime().Equal(c.modTime) {
		return c.cfg, nil
	}

	cfg, err := LoadWorkspaceConfig(c.path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.modTime = info.ModTime()
	return cfg, nil
}

// Invalidate drops the cached document so the next Load reparses.
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.cfg = nil
	c.modTime = time.Time{}
	c.mu.Unlock()
}

// DefaultWorkspaceConfig returns a configuration for the reference dual-arm
// rig: two mirrored 5-joint arms over a 400x300 mm workspace. Useful for
// tests and as a starting document for a new installation.
func DefaultWorkspaceConfig() *WorkspaceConfig {
	links := LinkSet{D1: 60, A2: 105, A3: 100, A4: 60, A6: 110}

	joints := func(base int) JointSet {
		return JointSet{
			BaseYaw:    &JointConfig{Channel: base, Min: 0, Max: 180, ZeroOffset: 90, MinPos: "left", Type: "horizontal"},
			Shoulder:   &JointConfig{Channel: base + 1, Min: 10, Max: 170, ZeroOffset: 90, MinPos: "bottom", Type: "vertical", Length: links.A2},
			Elbow:      &JointConfig{Channel: base + 2, Min: 10, Max: 170, ZeroOffset: 90, MinPos: "bottom", Type: "vertical", Length: links.A3},
			WristPitch: &JointConfig{Channel: base + 3, Min: 0, Max: 180, ZeroOffset: 90, MinPos: "bottom", Type: "vertical", Length: links.A4},
			WristRoll:  &JointConfig{Channel: base + 4, Min: 0, Max: 180, ZeroOffset: 90, MinPos: "ccw", Type: "horizontal"},
			Gripper:    &JointConfig{Channel: base + 5, Min: 30, Max: 150, ZeroOffset: 90, MinPos: "ccw", Type: "horizontal", Length: links.A6},
		}
	}

	share := func(yaw float64) SharePoint {
		return SharePoint{Angles: map[string]float64{
			JointBaseYaw:  yaw,
			JointShoulder: 135,
			JointElbow:    45,
		}}
	}

	vertex := func(owner Role, yaw, shoulder, elbow float64) *VertexConfig {
		return &VertexConfig{Owner: owner, Angles: map[string]float64{
			JointBaseYaw:  yaw,
			JointShoulder: shoulder,
			JointElbow:    elbow,
		}}
	}

	return &WorkspaceConfig{
		LeftArm: &ArmConfig{
			Links:            links,
			Joints:           joints(0),
			SharePoint:       share(120),
			GripperZOffsetMM: 25,
			XOffsetMM:        -100,
			VertexSpanMM:     212,
		},
		RightArm: &ArmConfig{
			Links:            links,
			Joints:           joints(8),
			SharePoint:       share(60),
			GripperZOffsetMM: 25,
			XOffsetMM:        100,
			VertexSpanMM:     212,
		},
		Vertices: map[string]*VertexConfig{
			"front_left":  vertex(RoleLeft, 60, 120, 70),
			"back_left":   vertex(RoleLeft, 110, 150, 40),
			"front_right": vertex(RoleRight, 120, 120, 70),
			"back_right":  vertex(RoleRight, 70, 150, 40),
		},
		WorkspaceWidthMM:  400,
		WorkspaceHeightMM: 300,
	}
}
