package dualarm

import "github.com/pkg/errors"

// Recoverable failure classes. Callers surface ErrUnreachable and
// ErrJointLimit as "target rejected", ErrSingularGeometry and
// ErrCalibrationMissing as "calibration/geometry unavailable", and
// ErrLinkFailure as a transient condition worth a reconnect-and-retry.
// Nothing in this package aborts the process.
var (
	// ErrUnreachable marks a target outside the kinematic envelope. The
	// raw solver reports this via IKSolution.Valid=false; the motion
	// facade returns it as an error.
	ErrUnreachable = errors.New("target unreachable")

	// ErrJointLimit marks a reachable target whose physical angle falls
	// outside a joint's configured [min,max].
	ErrJointLimit = errors.New("joint limit exceeded")

	// ErrSingularGeometry marks a degenerate configuration: a 3x3 matrix
	// with |det| below threshold, or equivalent.
	ErrSingularGeometry = errors.New("singular geometry")

	// ErrNoIntersection is returned when two workspace circles do not
	// intersect and a vertex position cannot be resolved.
	ErrNoIntersection = errors.New("circles do not intersect")

	// ErrLinkFailure marks a serial timeout, NACK or I/O fault.
	ErrLinkFailure = errors.New("serial link failure")

	// ErrNotConnected is returned when a command is issued on a link that
	// is not in the Connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrCalibrationMissing means no persisted homography exists for the
	// requested role. Coordinate conversion fails closed on it.
	ErrCalibrationMissing = errors.New("calibration missing for role")

	// ErrConfigMissing means the configuration document is absent.
	ErrConfigMissing = errors.New("configuration file missing")

	// ErrVertexUndefined means a vertex named by a caller is not present
	// in configuration or calibration.
	ErrVertexUndefined = errors.New("vertex undefined")

	// ErrScaleUnavailable means mm-per-pixel cannot be derived for a role.
	ErrScaleUnavailable = errors.New("mm-per-pixel scale unavailable")
)
