package dualarm

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Resolution is the camera resolution a calibration was captured at.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PixelCoords records where the calibration procedure saw the workspace
// landmarks in pixel space.
type PixelCoords struct {
	Vertices   map[string][2]float64 `json:"vertices"`
	SharePoint *[2]float64           `json:"share_point,omitempty"`
	Bases      map[Role][2]float64   `json:"bases,omitempty"`
}

// RoleCalibration is the persisted homography for one arm role, created by
// the external calibration procedure. Entries are replaced wholesale; there
// are no partial field updates.
type RoleCalibration struct {
	Timestamp         time.Time   `json:"timestamp"`
	Resolution        Resolution  `json:"resolution"`
	HomographyMatrix  Homography  `json:"homography_matrix"`
	PixelCoords       PixelCoords `json:"pixel_coords"`
	ReprojectionError float64     `json:"reprojection_error"`
	IsValid           bool        `json:"is_valid"`
}

// GripperOffset is the per-arm gripper-camera offset in millimeters.
// Defaults to zero when absent from the document.
type GripperOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type calibrationDocument struct {
	Roles          map[Role]*RoleCalibration `json:"roles"`
	GripperOffsets map[Role]GripperOffset    `json:"gripper_offsets,omitempty"`
}

// CameraMetadata composes everything a consumer needs to convert between
// camera and robot coordinates without redoing calibration math.
type CameraMetadata struct {
	Role              Role
	Timestamp         time.Time
	Resolution        Resolution
	MMPerPixel        float64
	PixelVertices     map[string][2]float64
	MMVertices        map[string][2]float64
	GripperOffset     GripperOffset
	ReprojectionError float64
}

// CalibrationStore is the single owner of the calibration document: one
// JSON file keyed by role, loaded lazily, written atomically.
type CalibrationStore struct {
	path   string
	cfg    *WorkspaceConfig
	logger logging.Logger

	mu  sync.Mutex
	doc *calibrationDocument
}

func NewCalibrationStore(path string, cfg *WorkspaceConfig, logger logging.Logger) *CalibrationStore {
	return &CalibrationStore{path: path, cfg: cfg, logger: logger}
}

// load reads the document if not yet cached. A missing file yields an empty
// document; a malformed one is an error. Callers hold s.mu.
func (s *CalibrationStore) load() (*calibrationDocument, error) {
	if s.doc != nil {
		return s.doc, nil
	}

	doc := &calibrationDocument{
		Roles:          make(map[Role]*RoleCalibration),
		GripperOffsets: make(map[Role]GripperOffset),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		// First run: no calibration yet.
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read calibration %s", s.path)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, errors.Wrapf(err, "failed to parse calibration %s", s.path)
		}
		if doc.Roles == nil {
			doc.Roles = make(map[Role]*RoleCalibration)
		}
		if doc.GripperOffsets == nil {
			doc.GripperOffsets = make(map[Role]GripperOffset)
		}
	}

	s.doc = doc
	return doc, nil
}

// save writes the whole document atomically: temp file in the same
// directory, then rename. Callers hold s.mu.
func (s *CalibrationStore) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calibration-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create calibration temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write calibration temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close calibration temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to replace calibration %s", s.path)
	}
	return nil
}

// GetForRole returns the persisted calibration for a role. Missing or
// invalidated entries fail closed with ErrCalibrationMissing; coordinate
// conversion must never guess a transform.
func (s *CalibrationStore) GetForRole(role Role) (*RoleCalibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	cal, ok := doc.Roles[role]
	if !ok {
		return nil, errors.Wrapf(ErrCalibrationMissing, "%s", role)
	}
	if !cal.IsValid {
		return nil, errors.Wrapf(ErrCalibrationMissing, "%s calibration invalidated", role)
	}
	return cal, nil
}

// SaveForRole replaces a role's calibration wholesale and persists the
// document.
func (s *CalibrationStore) SaveForRole(role Role, cal *RoleCalibration) error {
	if !role.Valid() {
		return errors.Errorf("unknown arm role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Roles[role] = cal
	if err := s.save(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Infof("saved calibration for %s (reprojection error %.3f px)", role, cal.ReprojectionError)
	}
	return nil
}

// DeleteForRole removes a role's calibration and persists the document.
// Deleting a role that has no entry is not an error.
func (s *CalibrationStore) DeleteForRole(role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Roles[role]; !ok {
		return nil
	}
	delete(doc.Roles, role)
	return s.save()
}

// GripperOffsetFor returns the stored gripper-camera offset for a role,
// zero when absent.
func (s *CalibrationStore) GripperOffsetFor(role Role) GripperOffset {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return GripperOffset{}
	}
	return doc.GripperOffsets[role]
}

// SetGripperOffset persists a per-arm gripper-camera offset.
func (s *CalibrationStore) SetGripperOffset(role Role, offset GripperOffset) error {
	if !role.Valid() {
		return errors.Errorf("unknown arm role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.GripperOffsets[role] = offset
	return s.save()
}

// ComputeMMPerPixel derives the camera scale for a role from the diagonal
// pixel distance between the arm's two owned vertices against their
// configured millimeter span. Returns ErrScaleUnavailable when either
// vertex is missing from calibration or configuration.
func (s *CalibrationStore) ComputeMMPerPixel(role Role) (float64, error) {
	cal, err := s.GetForRole(role)
	if err != nil {
		return 0, err
	}
	arm, err := s.cfg.Arm(role)
	if err != nil {
		return 0, err
	}
	if arm.VertexSpanMM <= 0 {
		return 0, errors.Wrapf(ErrScaleUnavailable, "%s has no configured vertex span", role)
	}

	names := s.cfg.VerticesOwnedBy(role)
	if len(names) < 2 {
		return 0, errors.Wrapf(ErrScaleUnavailable, "%s owns %d vertices, need 2", role, len(names))
	}

	a, okA := cal.PixelCoords.Vertices[names[0]]
	b, okB := cal.PixelCoords.Vertices[names[1]]
	if !okA || !okB {
		return 0, errors.Wrapf(ErrScaleUnavailable, "%s calibration missing vertex pixels", role)
	}

	pixels := math.Hypot(b[0]-a[0], b[1]-a[1])
	if pixels == 0 {
		return 0, errors.Wrapf(ErrScaleUnavailable, "%s calibration vertices coincide", role)
	}
	return arm.VertexSpanMM / pixels, nil
}

// BuildCameraMetadata composes resolution, scale and both pixel- and
// mm-space vertex sets into one snapshot. Fails when the calibration or the
// scale is unavailable.
func (s *CalibrationStore) BuildCameraMetadata(role Role) (*CameraMetadata, error) {
	cal, err := s.GetForRole(role)
	if err != nil {
		return nil, err
	}
	scale, err := s.ComputeMMPerPixel(role)
	if err != nil {
		return nil, err
	}

	geo, err := NewGeometryEngine(s.cfg, s.logger).ComputeGeometry()
	if err != nil {
		return nil, err
	}

	mmVertices := make(map[string][2]float64)
	for name, vg := range geo.Vertices {
		if vg.Owner != role || vg.Err != nil {
			continue
		}
		mmVertices[name] = [2]float64{vg.Position.X, vg.Position.Y}
	}

	return &CameraMetadata{
		Role:              role,
		Timestamp:         cal.Timestamp,
		Resolution:        cal.Resolution,
		MMPerPixel:        scale,
		PixelVertices:     cal.PixelCoords.Vertices,
		MMVertices:        mmVertices,
		GripperOffset:     s.GripperOffsetFor(role),
		ReprojectionError: cal.ReprojectionError,
	}, nil
}
