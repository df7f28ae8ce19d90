package dualarm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func testCalibration() *RoleCalibration {
	return &RoleCalibration{
		Timestamp:  time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Resolution: Resolution{Width: 1280, Height: 720},
		HomographyMatrix: Homography{
			{2, 0, 100},
			{0, 2, 50},
			{0, 0, 1},
		},
		PixelCoords: PixelCoords{
			Vertices: map[string][2]float64{
				"back_left":  {100, 100},
				"front_left": {100, 312},
			},
		},
		ReprojectionError: 1.8,
		IsValid:           true,
	}
}

func newTestStore(t *testing.T) *CalibrationStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.json")
	return NewCalibrationStore(path, DefaultWorkspaceConfig(), logging.NewTestLogger(t))
}

func TestCalibrationStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetForRole(RoleLeft)
	assert.ErrorIs(t, err, ErrCalibrationMissing)

	cal := testCalibration()
	require.NoError(t, store.SaveForRole(RoleLeft, cal))

	// Reload from disk through a fresh store.
	fresh := NewCalibrationStore(store.path, store.cfg, store.logger)
	got, err := fresh.GetForRole(RoleLeft)
	require.NoError(t, err)
	assert.Equal(t, cal.HomographyMatrix, got.HomographyMatrix)
	assert.Equal(t, cal.Resolution, got.Resolution)
	assert.True(t, cal.Timestamp.Equal(got.Timestamp))
	assert.InDelta(t, cal.ReprojectionError, got.ReprojectionError, 1e-9)

	// The other role stays independent.
	_, err = fresh.GetForRole(RoleRight)
	assert.ErrorIs(t, err, ErrCalibrationMissing)
}

func TestCalibrationStoreInvalidatedEntryFailsClosed(t *testing.T) {
	store := newTestStore(t)

	cal := testCalibration()
	cal.IsValid = false
	require.NoError(t, store.SaveForRole(RoleLeft, cal))

	_, err := store.GetForRole(RoleLeft)
	assert.ErrorIs(t, err, ErrCalibrationMissing)
}

func TestCalibrationStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveForRole(RoleRight, testCalibration()))
	require.NoError(t, store.DeleteForRole(RoleRight))

	_, err := store.GetForRole(RoleRight)
	assert.ErrorIs(t, err, ErrCalibrationMissing)

	// Deleting an absent role is a no-op.
	assert.NoError(t, store.DeleteForRole(RoleRight))
}

func TestCalibrationStoreRejectsUnknownRole(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.SaveForRole(Role("middle_arm"), testCalibration()))
	assert.Error(t, store.SetGripperOffset(Role("middle_arm"), GripperOffset{}))
}

func TestGripperOffsets(t *testing.T) {
	store := newTestStore(t)

	// Absent offsets read as zero.
	assert.Equal(t, GripperOffset{}, store.GripperOffsetFor(RoleLeft))

	offset := GripperOffset{X: 3.5, Y: -1.25}
	require.NoError(t, store.SetGripperOffset(RoleLeft, offset))

	fresh := NewCalibrationStore(store.path, store.cfg, store.logger)
	assert.Equal(t, offset, fresh.GripperOffsetFor(RoleLeft))
	assert.Equal(t, GripperOffset{}, fresh.GripperOffsetFor(RoleRight))
}

func TestComputeMMPerPixel(t *testing.T) {
	t.Run("derives scale from owned vertex diagonal", func(t *testing.T) {
		store := newTestStore(t)
		// back_left -> front_left pixel distance is 212; configured span 212 mm.
		require.NoError(t, store.SaveForRole(RoleLeft, testCalibration()))

		scale, err := store.ComputeMMPerPixel(RoleLeft)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, scale, 1e-9)
	})

	t.Run("missing calibration", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.ComputeMMPerPixel(RoleLeft)
		assert.ErrorIs(t, err, ErrCalibrationMissing)
	})

	t.Run("missing vertex pixels", func(t *testing.T) {
		store := newTestStore(t)
		cal := testCalibration()
		delete(cal.PixelCoords.Vertices, "front_left")
		require.NoError(t, store.SaveForRole(RoleLeft, cal))

		_, err := store.ComputeMMPerPixel(RoleLeft)
		assert.ErrorIs(t, err, ErrScaleUnavailable)
	})

	t.Run("coincident vertex pixels", func(t *testing.T) {
		store := newTestStore(t)
		cal := testCalibration()
		cal.PixelCoords.Vertices["front_left"] = cal.PixelCoords.Vertices["back_left"]
		require.NoError(t, store.SaveForRole(RoleLeft, cal))

		_, err := store.ComputeMMPerPixel(RoleLeft)
		assert.ErrorIs(t, err, ErrScaleUnavailable)
	})

	t.Run("no configured span", func(t *testing.T) {
		store := newTestStore(t)
		store.cfg.LeftArm.VertexSpanMM = 0
		require.NoError(t, store.SaveForRole(RoleLeft, testCalibration()))

		_, err := store.ComputeMMPerPixel(RoleLeft)
		assert.ErrorIs(t, err, ErrScaleUnavailable)
	})
}

func TestBuildCameraMetadata(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveForRole(RoleLeft, testCalibration()))
	require.NoError(t, store.SetGripperOffset(RoleLeft, GripperOffset{X: 2, Y: 1}))

	meta, err := store.BuildCameraMetadata(RoleLeft)
	require.NoError(t, err)

	assert.Equal(t, RoleLeft, meta.Role)
	assert.Equal(t, Resolution{Width: 1280, Height: 720}, meta.Resolution)
	assert.InDelta(t, 1.0, meta.MMPerPixel, 1e-9)
	assert.Equal(t, GripperOffset{X: 2, Y: 1}, meta.GripperOffset)
	assert.Len(t, meta.PixelVertices, 2)

	// The mm-space vertices come from the geometry engine, left-owned only.
	assert.Len(t, meta.MMVertices, 2)
	assert.Contains(t, meta.MMVertices, "front_left")
	assert.Contains(t, meta.MMVertices, "back_left")
}
