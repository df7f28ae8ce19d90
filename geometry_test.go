package dualarm

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestCircleIntersection(t *testing.T) {
	t.Run("two symmetric points", func(t *testing.T) {
		pts, err := CircleIntersection(r2.Point{}, 5, r2.Point{X: 8}, 5)
		require.NoError(t, err)

		assert.InDelta(t, 4.0, pts[0].X, 1e-9)
		assert.InDelta(t, 4.0, pts[1].X, 1e-9)
		assert.InDelta(t, 3.0, math.Abs(pts[0].Y), 1e-9)
		assert.InDelta(t, pts[0].Y, -pts[1].Y, 1e-9)
	})

	t.Run("points are equidistant for unequal radii", func(t *testing.T) {
		c1, c2 := r2.Point{X: -20, Y: 10}, r2.Point{X: 35, Y: -5}
		r1, r2v := 40.0, 30.0
		pts, err := CircleIntersection(c1, r1, c2, r2v)
		require.NoError(t, err)

		for _, p := range pts {
			assert.InDelta(t, r1, p.Sub(c1).Norm(), 1e-9)
			assert.InDelta(t, r2v, p.Sub(c2).Norm(), 1e-9)
		}
	})

	t.Run("tangent circles", func(t *testing.T) {
		pts, err := CircleIntersection(r2.Point{}, 3, r2.Point{X: 5}, 2)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, pts[0].X, 1e-9)
		assert.InDelta(t, pts[0].X, pts[1].X, 1e-9)
	})

	t.Run("too far apart", func(t *testing.T) {
		_, err := CircleIntersection(r2.Point{}, 1, r2.Point{X: 10}, 1)
		assert.ErrorIs(t, err, ErrNoIntersection)
	})

	t.Run("one inside the other", func(t *testing.T) {
		_, err := CircleIntersection(r2.Point{}, 10, r2.Point{X: 1}, 2)
		assert.ErrorIs(t, err, ErrNoIntersection)
	})

	t.Run("coincident centers", func(t *testing.T) {
		_, err := CircleIntersection(r2.Point{X: 2, Y: 2}, 4, r2.Point{X: 2, Y: 2}, 4)
		assert.ErrorIs(t, err, ErrSingularGeometry)
	})
}

func TestComputeReach(t *testing.T) {
	cfg := DefaultWorkspaceConfig()
	engine := NewGeometryEngine(cfg, logging.NewTestLogger(t))

	// Straight-out pose: shoulder and elbow at math zero.
	angles := map[string]float64{
		JointBaseYaw:  90,
		JointShoulder: 90,
		JointElbow:    90,
	}
	rXY, r3D, err := engine.ComputeReach(RoleLeft, angles, false)
	require.NoError(t, err)
	assert.InDelta(t, 205.0, rXY, 1e-9) // a2 + a3 fully extended
	assert.InDelta(t, 205.0, r3D, 1e-9) // level with the shoulder pivot

	// Including the wrist link extends the chain by a4.
	withWrist, _, err := engine.ComputeReach(RoleLeft, angles, true)
	require.NoError(t, err)
	assert.InDelta(t, 265.0, withWrist, 1e-9)
}

func TestCompute3DReachStance(t *testing.T) {
	cfg := DefaultWorkspaceConfig()
	engine := NewGeometryEngine(cfg, logging.NewTestLogger(t))

	t.Run("shallow elbow is open", func(t *testing.T) {
		v := &VertexConfig{Owner: RoleLeft, Angles: map[string]float64{
			JointBaseYaw: 60, JointShoulder: 120, JointElbow: 70,
		}}
		reach, err := engine.Compute3DReach(RoleLeft, v)
		require.NoError(t, err)
		assert.InDelta(t, -20.0, reach.ElbowDelta, 1e-9)
		assert.InDelta(t, 160.0, reach.InternalAngle, 1e-9)
		assert.Equal(t, StanceOpen, reach.Stance)
	})

	t.Run("deep elbow bend is closed", func(t *testing.T) {
		v := &VertexConfig{Owner: RoleLeft, Angles: map[string]float64{
			JointBaseYaw: 60, JointShoulder: 120, JointElbow: -10,
		}}
		reach, err := engine.Compute3DReach(RoleLeft, v)
		require.NoError(t, err)
		assert.InDelta(t, 80.0, reach.InternalAngle, 1e-9)
		assert.Equal(t, StanceClosed, reach.Stance)
	})
}

func TestComputeGeometry(t *testing.T) {
	cfg := DefaultWorkspaceConfig()
	engine := NewGeometryEngine(cfg, logging.NewTestLogger(t))

	geo, err := engine.ComputeGeometry()
	require.NoError(t, err)

	require.Len(t, geo.Bases, 2)
	require.Len(t, geo.Vertices, 4)

	// Mirrored rig: left base in negative X, right in positive, same reach.
	left, right := geo.Bases[RoleLeft], geo.Bases[RoleRight]
	assert.Less(t, left.X, 0.0)
	assert.Greater(t, right.X, 0.0)
	assert.InDelta(t, left.X, -right.X, 1e-9)
	assert.InDelta(t, left.Y, right.Y, 1e-9)
	assert.InDelta(t, geo.Reaches[RoleLeft], geo.Reaches[RoleRight], 1e-9)

	for name, vg := range geo.Vertices {
		require.NoError(t, vg.Err, "vertex %s should resolve", name)

		// Each resolved vertex must sit on both defining circles: the
		// owner-base circle uses the pose's 3D reach, not the planar one.
		base := geo.Bases[vg.Owner]
		assert.InDelta(t, vg.Reach.R3D, vg.Position.Sub(base).Norm(), 1e-9, "vertex %s owner-circle radius", name)
		assert.Greater(t, vg.Reach.R3D, vg.Reach.RXY, "vertex %s pose is above the shoulder plane", name)

		shareReach, _, err := engine.ComputeReach(vg.Owner, cfg.Vertices[name].Angles, false)
		require.NoError(t, err)
		assert.InDelta(t, shareReach, vg.Position.Norm(), 1e-9, "vertex %s share-circle radius", name)
	}
}

func TestPickOwnerSide(t *testing.T) {
	base := r2.Point{X: -100, Y: -150}

	// Candidate on the owner's half-plane wins.
	picked := pickOwnerSide([2]r2.Point{{X: 40, Y: 10}, {X: -40, Y: 10}}, base)
	assert.Equal(t, r2.Point{X: -40, Y: 10}, picked)

	// Ambiguous: both on the same side, the first is kept.
	picked = pickOwnerSide([2]r2.Point{{X: -10, Y: 5}, {X: -20, Y: 5}}, base)
	assert.Equal(t, r2.Point{X: -10, Y: 5}, picked)
}
