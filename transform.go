package dualarm

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Homography maps robot-local millimeter coordinates to camera pixels for
// one calibrated role. Row-major 3x3.
type Homography [3][3]float64

const singularDetThreshold = 1e-10

// Vision-normalized coordinates always live on a 1000x1000 grid regardless
// of the actual image resolution.
const normalizedGridSize = 1000.0

// Apply runs the projective transform on a point.
func (h Homography) Apply(p r2.Point) r2.Point {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	return r2.Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}
}

// Invert returns the closed-form adjugate/determinant inverse, or
// ErrSingularGeometry when |det| falls below threshold.
func (h Homography) Invert() (Homography, error) {
	det := h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])

	if math.Abs(det) < singularDetThreshold {
		return Homography{}, errors.Wrapf(ErrSingularGeometry, "homography determinant %.3e", det)
	}

	inv := Homography{
		{
			(h[1][1]*h[2][2] - h[1][2]*h[2][1]) / det,
			(h[0][2]*h[2][1] - h[0][1]*h[2][2]) / det,
			(h[0][1]*h[1][2] - h[0][2]*h[1][1]) / det,
		},
		{
			(h[1][2]*h[2][0] - h[1][0]*h[2][2]) / det,
			(h[0][0]*h[2][2] - h[0][2]*h[2][0]) / det,
			(h[0][2]*h[1][0] - h[0][0]*h[1][2]) / det,
		},
		{
			(h[1][0]*h[2][1] - h[1][1]*h[2][0]) / det,
			(h[0][1]*h[2][0] - h[0][0]*h[2][1]) / det,
			(h[0][0]*h[1][1] - h[0][1]*h[1][0]) / det,
		},
	}
	return inv, nil
}

// PixelToRobot maps a camera pixel into robot millimeters by inverting the
// robot→pixel homography and flipping Y from the screen's Y-down convention
// to the robot's Y-up one. The Y flip is a fixed part of the contract.
func PixelToRobot(h Homography, pixel r2.Point) (r2.Point, error) {
	inv, err := h.Invert()
	if err != nil {
		return r2.Point{}, err
	}
	p := inv.Apply(pixel)
	return r2.Point{X: p.X, Y: -p.Y}, nil
}

// GeminiToPixel scales a vision-normalized coordinate pair (0–1000 on both
// axes) to pixel space for the given image resolution.
func GeminiToPixel(gx, gy float64, width, height int) r2.Point {
	return r2.Point{
		X: gx / normalizedGridSize * float64(width),
		Y: gy / normalizedGridSize * float64(height),
	}
}

// GeminiToRobot composes GeminiToPixel and PixelToRobot: a vision-normalized
// target becomes robot-local millimeters in one step.
func GeminiToRobot(gx, gy float64, h Homography, width, height int) (r2.Point, error) {
	return PixelToRobot(h, GeminiToPixel(gx, gy, width, height))
}

// normalizedMidpoint splits the vision grid between the two arms.
const normalizedMidpoint = 500.0

// ArmForTarget picks the arm that serves a vision-normalized X: left of the
// midpoint goes to the left arm.
func ArmForTarget(gx float64) Role {
	if gx < normalizedMidpoint {
		return RoleLeft
	}
	return RoleRight
}

// GlobalToArmLocal converts a global workspace point (mm) into one arm's
// local frame: a per-arm X offset and a workspace-height Y flip. This is
// the simpler convention used when no homography calibration exists; it is
// a distinct path and must never be substituted for the homography one.
func GlobalToArmLocal(p r2.Point, arm *ArmConfig, workspaceHeightMM float64) r2.Point {
	return r2.Point{
		X: p.X - arm.XOffsetMM,
		Y: workspaceHeightMM - p.Y,
	}
}
