package dualarm

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Stance classifies the shoulder/elbow/wrist triangle at a pose.
type Stance string

const (
	StanceOpen   Stance = "open"
	StanceClosed Stance = "closed"
)

// An arm counts as open once the elbow interior angle passes half
// extension (straight arm = 180 degrees).
const halfExtendedDeg = 90.0

// VertexReach is the derived diagnostic for one vertex pose. Deltas are
// math-frame degrees recovered from the measured physical angles; stance is
// recomputed from them, never hand-set.
type VertexReach struct {
	YawDelta      float64
	ShoulderDelta float64
	ElbowDelta    float64
	InternalAngle float64
	Stance        Stance
	R3D           float64
	RXY           float64
	ZFinal        float64
}

// VertexGeometry is one resolved workspace corner. Err is non-nil when the
// defining circles do not intersect; the position is then unset rather than
// fabricated.
type VertexGeometry struct {
	Name     string
	Owner    Role
	Position r2.Point
	Z        float64
	Reach    VertexReach
	Err      error
}

// WorkspaceGeometry is the static geometry snapshot derived from one
// configuration: per-arm base positions and resolved vertices.
type WorkspaceGeometry struct {
	Bases    map[Role]r2.Point
	Yaws     map[Role]float64 // radians
	Reaches  map[Role]float64 // share-point reach, mm
	Vertices map[string]*VertexGeometry
}

// GeometryEngine derives static workspace facts from configuration. All
// outputs are pure functions of the config; no state is cached across
// calls.
type GeometryEngine struct {
	cfg    *WorkspaceConfig
	logger logging.Logger
}

func NewGeometryEngine(cfg *WorkspaceConfig, logger logging.Logger) *GeometryEngine {
	return &GeometryEngine{cfg: cfg, logger: logger}
}

// mathAngles recovers the math-frame degrees for yaw, shoulder, elbow and
// wrist pitch (when present) from a map of measured physical angles.
func mathAngles(arm *ArmConfig, angles map[string]float64) (yaw, shoulder, elbow float64, wristPitch float64, hasWrist bool) {
	yaw = arm.Joints.BaseYaw.MathFromPhysical(angles[JointBaseYaw])
	shoulder = arm.Joints.Shoulder.MathFromPhysical(angles[JointShoulder])
	elbow = arm.Joints.Elbow.MathFromPhysical(angles[JointElbow])
	if physical, ok := angles[JointWristPitch]; ok {
		wristPitch = arm.Joints.WristPitch.MathFromPhysical(physical)
		hasWrist = true
	}
	return yaw, shoulder, elbow, wristPitch, hasWrist
}

// ComputeReach runs forward kinematics over the shoulder/elbow/forearm
// links for a measured pose, returning the horizontal reach and the 3D
// reach from the shoulder pivot. When isVertex is true the wrist-length
// link is chained in as well.
func (g *GeometryEngine) ComputeReach(role Role, angles map[string]float64, isVertex bool) (reachHorizontal, reach3D float64, err error) {
	arm, err := g.cfg.Arm(role)
	if err != nil {
		return 0, 0, err
	}

	_, shoulder, elbow, wristPitch, hasWrist := mathAngles(arm, angles)
	sh := radians(shoulder)
	se := sh + radians(elbow)

	rXY := arm.Links.A2*math.Cos(sh) + arm.Links.A3*math.Cos(se)
	z := arm.Links.D1 + arm.Links.A2*math.Sin(sh) + arm.Links.A3*math.Sin(se)

	if isVertex {
		sew := se
		if hasWrist {
			sew += radians(wristPitch)
		}
		rXY += arm.Links.A4 * math.Cos(sew)
		z += arm.Links.A4 * math.Sin(sew)
	}

	return rXY, math.Hypot(rXY, z-arm.Links.D1), nil
}

// Compute3DReach derives the full reach diagnostic for a vertex pose:
// math-frame deltas, the elbow interior angle, the open/closed stance and
// the 3D/planar reach with the wrist link included.
func (g *GeometryEngine) Compute3DReach(role Role, vertex *VertexConfig) (VertexReach, error) {
	arm, err := g.cfg.Arm(role)
	if err != nil {
		return VertexReach{}, err
	}

	yaw, shoulder, elbow, _, _ := mathAngles(arm, vertex.Angles)

	internal := 180 - math.Abs(elbow)
	stance := StanceClosed
	if internal > halfExtendedDeg {
		stance = StanceOpen
	}

	rXY, r3D, err := g.ComputeReach(role, vertex.Angles, true)
	if err != nil {
		return VertexReach{}, err
	}

	sh := radians(shoulder)
	se := sh + radians(elbow)
	zFinal := arm.Links.D1 + arm.Links.A2*math.Sin(sh) + arm.Links.A3*math.Sin(se)

	return VertexReach{
		YawDelta:      yaw,
		ShoulderDelta: shoulder,
		ElbowDelta:    elbow,
		InternalAngle: internal,
		Stance:        stance,
		R3D:           r3D,
		RXY:           rXY,
		ZFinal:        zFinal,
	}, nil
}

// ComputeYaw returns the yaw (radians) implied by a pose's base-yaw
// physical angle, independent of reach.
func (g *GeometryEngine) ComputeYaw(role Role, angles map[string]float64) (float64, error) {
	arm, err := g.cfg.Arm(role)
	if err != nil {
		return 0, err
	}
	physical, ok := angles[JointBaseYaw]
	if !ok {
		return 0, errors.Errorf("%s pose has no %s angle", role, JointBaseYaw)
	}
	return radians(arm.Joints.BaseYaw.MathFromPhysical(physical)), nil
}

// CircleIntersection intersects two circles. It returns ErrNoIntersection
// when the circles are too far apart or one contains the other, and
// ErrSingularGeometry for coincident centers. Otherwise the two (possibly
// equal) intersection points are returned, each at distance r1 from c1 and
// r2 from c2.
func CircleIntersection(c1 r2.Point, radius1 float64, c2 r2.Point, radius2 float64) ([2]r2.Point, error) {
	delta := c2.Sub(c1)
	d := delta.Norm()

	if d == 0 {
		return [2]r2.Point{}, errors.Wrap(ErrSingularGeometry, "coincident circle centers")
	}
	if d > radius1+radius2 || d < math.Abs(radius1-radius2) {
		return [2]r2.Point{}, errors.Wrapf(ErrNoIntersection,
			"d=%.2f r1=%.2f r2=%.2f", d, radius1, radius2)
	}

	a := (radius1*radius1 - radius2*radius2 + d*d) / (2 * d)
	h2 := radius1*radius1 - a*a
	if h2 < 0 {
		h2 = 0 // tangent, within float tolerance
	}
	h := math.Sqrt(h2)

	mid := c1.Add(delta.Mul(a / d))
	perp := r2.Point{X: -delta.Y, Y: delta.X}.Mul(h / d)

	return [2]r2.Point{mid.Add(perp), mid.Sub(perp)}, nil
}

// ComputeGeometry derives the full workspace snapshot: each arm's base
// position from its share-point reach and yaw, then every vertex position
// by intersecting the share-origin circle with the circle around the owning
// arm's base whose radius is the vertex's 3D reach.
func (g *GeometryEngine) ComputeGeometry() (*WorkspaceGeometry, error) {
	geo := &WorkspaceGeometry{
		Bases:    make(map[Role]r2.Point),
		Yaws:     make(map[Role]float64),
		Reaches:  make(map[Role]float64),
		Vertices: make(map[string]*VertexGeometry),
	}

	for _, role := range []Role{RoleLeft, RoleRight} {
		arm, err := g.cfg.Arm(role)
		if err != nil {
			return nil, err
		}
		reach, _, err := g.ComputeReach(role, arm.SharePoint.Angles, false)
		if err != nil {
			return nil, err
		}
		yaw, err := g.ComputeYaw(role, arm.SharePoint.Angles)
		if err != nil {
			return nil, err
		}

		// The base sits on a circle of radius reach around the shared
		// origin, opposite the bearing the arm points along.
		geo.Bases[role] = r2.Point{X: -reach * math.Sin(yaw), Y: -reach * math.Cos(yaw)}
		geo.Yaws[role] = yaw
		geo.Reaches[role] = reach
	}

	for name, vertex := range g.cfg.Vertices {
		vg := &VertexGeometry{Name: name, Owner: vertex.Owner}
		geo.Vertices[name] = vg

		shareReach, _, err := g.ComputeReach(vertex.Owner, vertex.Angles, false)
		if err != nil {
			vg.Err = err
			continue
		}
		reach, err := g.Compute3DReach(vertex.Owner, vertex)
		if err != nil {
			vg.Err = err
			continue
		}
		vg.Reach = reach
		vg.Z = reach.ZFinal

		base := geo.Bases[vertex.Owner]
		candidates, err := CircleIntersection(r2.Point{}, shareReach, base, reach.R3D)
		if err != nil {
			vg.Err = err
			if g.logger != nil {
				g.logger.Warnf("vertex %s unresolvable: %v", name, err)
			}
			continue
		}

		vg.Position = pickOwnerSide(candidates, base)
	}

	return geo, nil
}

// pickOwnerSide disambiguates two circle intersections by the owner's
// half-plane: the candidate whose X sign matches the owning arm's base.
// When neither or both match, the first candidate is kept; this fallback is
// a best-effort approximation, not a guarantee.
func pickOwnerSide(candidates [2]r2.Point, base r2.Point) r2.Point {
	first := math.Signbit(candidates[0].X) == math.Signbit(base.X)
	second := math.Signbit(candidates[1].X) == math.Signbit(base.X)
	if second && !first {
		return candidates[1]
	}
	return candidates[0]
}
