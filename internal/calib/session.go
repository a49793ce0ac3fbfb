// Package calib drives one camera-set's calibration from seed points to a
// converged, validated calibration per camera.
//
// A Session is a state machine: Uninitialized → Initialized → Detected →
// GridSorted → RawOriented → Refined, with a Combined modifier when
// multi-plane data feeds the refinement. Restore rolls any state back to
// Initialized from the .bck backups, which are the session's only
// persistence safety net.
package calib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tracerlab/flowtrace/internal/fsutil"
	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/ptv/engine"
)

// State names a session's position in the calibration progression.
type State int

const (
	Uninitialized State = iota
	Initialized
	Detected
	GridSorted
	RawOriented
	Refined
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Detected:
		return "detected"
	case GridSorted:
		return "grid-sorted"
	case RawOriented:
		return "raw-oriented"
	case Refined:
		return "refined"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BackupSuffix is appended to calibration file names by Backup.
const BackupSuffix = ".bck"

// Session owns one camera-set's calibration progression and the lifecycle
// of its .ori/.addpar files.
type Session struct {
	ws ptv.Workspace
	fs fsutil.FileSystem

	cp params.CameraParams
	tp params.TargetParams
	co params.CalOriParams
	op params.OrientParams
	ex params.ExamineParams
	mp params.MultiPlaneParams
	mo params.ManOriParams

	cals     []ptv.Calibration
	fix      []ptv.FixPoint
	detected [][]ptv.Target
	sorted   [][]ptv.Target

	state    State
	combined bool
	residual float64
}

// NewSession translates the configuration document and loads every input
// the progression needs: camera and detection parameters, the control
// point set, and any prior calibration on disk. A camera without prior
// .ori/.addpar files starts from the neutral calibration.
func NewSession(doc *params.ConfigDocument, ws ptv.Workspace) (*Session, error) {
	return NewSessionFS(doc, ws, fsutil.OSFileSystem{})
}

// NewSessionFS is NewSession with an explicit filesystem, for tests.
func NewSessionFS(doc *params.ConfigDocument, ws ptv.Workspace, fs fsutil.FileSystem) (*Session, error) {
	s := &Session{ws: ws, fs: fs}

	var err error
	if s.cp, err = params.PopulateCameraParams(doc); err != nil {
		return nil, err
	}
	if s.tp, err = params.PopulateCalibTargetParams(doc); err != nil {
		return nil, err
	}
	if s.co, err = params.PopulateCalOriParams(doc); err != nil {
		return nil, err
	}
	if s.op, err = params.PopulateOrientParams(doc); err != nil {
		return nil, err
	}
	if s.mo, err = params.PopulateManOriParams(doc); err != nil {
		return nil, err
	}
	// examine is optional: a document without it runs single-plane.
	if s.ex, err = params.PopulateExamineParams(doc); err != nil {
		if !errors.Is(err, params.ErrMissingField) {
			return nil, err
		}
		s.ex = params.ExamineParams{}
	}
	if s.ex.Combine {
		if s.mp, err = params.PopulateMultiPlaneParams(doc); err != nil {
			return nil, err
		}
	}

	if s.fix, err = ptv.ReadFixPointsFS(fs, ws.Resolve(s.co.FixpName)); err != nil {
		return nil, err
	}

	s.cals = make([]ptv.Calibration, s.cp.NumCams)
	for cam := 0; cam < s.cp.NumCams; cam++ {
		ori := ws.Resolve(s.co.OriName[cam])
		if !fs.Exists(ori) {
			s.cals[cam] = *ptv.NewCalibration()
			continue
		}
		cal, err := ptv.ReadCalibrationFS(fs, ori, addParPath(ori))
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", cam+1, err)
		}
		s.cals[cam] = *cal
	}

	s.state = Initialized
	ptv.Opsf("calibration session initialized: %d cameras, %d control points, combine=%v",
		s.cp.NumCams, len(s.fix), s.ex.Combine)
	return s, nil
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Combined reports whether the refinement consumed multi-plane data.
func (s *Session) Combined() bool { return s.combined }

// Residual returns the mean reprojection residual in pixels from the last
// orientation or refinement run.
func (s *Session) Residual() float64 { return s.residual }

// Calibration returns a copy of one camera's current calibration.
func (s *Session) Calibration(cam int) ptv.Calibration { return s.cals[cam] }

// SeedCalibration installs an operator-supplied initial guess for one
// camera, replacing the in-memory calibration. A camera without prior
// files starts from the neutral calibration, which cannot project; grid
// sorting and raw orientation need a rough pose and principal distance
// to start from. Nothing is written to disk until the next orientation
// run.
func (s *Session) SeedCalibration(cam int, cal ptv.Calibration) error {
	if cam < 0 || cam >= s.cp.NumCams {
		return fmt.Errorf("seed calibration: camera %d out of range", cam+1)
	}
	if !cal.Valid() {
		return fmt.Errorf("camera %d: %w", cam+1, ErrInvalidCalibration)
	}
	s.cals[cam] = cal
	return nil
}

// SortedTargets returns one camera's grid-sorted target set, aligned with
// the control points.
func (s *Session) SortedTargets(cam int) []ptv.Target { return s.sorted[cam] }

// Detect runs blob detection on every camera's calibration image.
// Detections come back sorted by vertical pixel coordinate so downstream
// matching is deterministic.
func (s *Session) Detect() error {
	if s.state < Initialized {
		return fmt.Errorf("%w: detect from %s", ErrState, s.state)
	}
	detected := make([][]ptv.Target, s.cp.NumCams)
	for cam := 0; cam < s.cp.NumCams; cam++ {
		img, err := engine.LoadImageFS(s.fs, s.ws.Resolve(s.co.ImgName[cam]))
		if err != nil {
			return fmt.Errorf("camera %d: %w", cam+1, err)
		}
		prepared, err := engine.PrepareImage(img, s.cp, nil)
		if err != nil {
			return fmt.Errorf("camera %d: %w", cam+1, err)
		}
		ts, err := engine.Detect(prepared, s.tp, cam)
		if err != nil {
			return fmt.Errorf("camera %d: %w", cam+1, err)
		}
		ptv.Diagf("camera %d: %d calibration targets detected", cam+1, len(ts))
		detected[cam] = ts
	}
	s.detected = detected
	s.state = Detected
	return nil
}

// SortGrid matches every camera's detections to the control-point set
// within the given pixel radius (DefaultSortGridRadius when zero).
// Unmatched control points carry the -999 sentinel and are excluded from
// later stages.
func (s *Session) SortGrid(radius float64) error {
	if s.state < Detected {
		return fmt.Errorf("%w: sortgrid from %s", ErrState, s.state)
	}
	if radius <= 0 {
		radius = engine.DefaultSortGridRadius
	}
	sorted := make([][]ptv.Target, s.cp.NumCams)
	for cam := 0; cam < s.cp.NumCams; cam++ {
		c := engine.NewCamera(s.cals[cam], s.cp)
		sorted[cam] = engine.SortGrid(c, s.fix, s.detected[cam], radius)
		ptv.Diagf("camera %d: %d of %d control points matched",
			cam+1, ptv.CountMatched(sorted[cam]), len(s.fix))
	}
	s.sorted = sorted
	s.state = GridSorted
	return nil
}

// RawOrient computes a linear exterior estimate per camera from the four
// operator-selected point pairs. Calibration files are backed up before
// anything on disk changes.
func (s *Session) RawOrient() error {
	if s.state < GridSorted {
		return fmt.Errorf("%w: raworient from %s", ErrState, s.state)
	}

	pairs := make([][]engine.PointPair, s.cp.NumCams)
	for cam := 0; cam < s.cp.NumCams; cam++ {
		c := engine.NewCamera(s.cals[cam], s.cp)
		for _, id := range s.mo.Points[cam] {
			t, ok := findTarget(s.sorted[cam], id)
			if !ok {
				return fmt.Errorf("camera %d: seed point %d is not among the matched grid points", cam+1, id)
			}
			x, y := c.PixelToMetric(t.X, t.Y)
			obj, ok := findFix(s.fix, id)
			if !ok {
				return fmt.Errorf("camera %d: seed point %d is not a known control point", cam+1, id)
			}
			pairs[cam] = append(pairs[cam], engine.PointPair{Obj: obj, X: x, Y: y})
		}
	}

	if err := s.Backup(); err != nil {
		return err
	}
	for cam := 0; cam < s.cp.NumCams; cam++ {
		cal, err := engine.RawOrient(s.cals[cam], s.cp, pairs[cam])
		if err != nil {
			return fmt.Errorf("camera %d: %w: %v", cam+1, ErrConvergenceFailure, err)
		}
		if err := s.writeCalibration(cam, cal); err != nil {
			return err
		}
		s.cals[cam] = cal
	}
	s.state = RawOriented
	return nil
}

// Refine runs the nonlinear adjustment of the flagged parameters per
// camera. Single-plane mode refines against the grid-sorted target set;
// with the combine flag set it concatenates the configured planes into one
// globally re-indexed point set first. The refined calibration is checked
// for non-finite fields before anything is written.
func (s *Session) Refine() error {
	if s.state < RawOriented {
		return fmt.Errorf("%w: refine from %s", ErrState, s.state)
	}

	if err := s.Backup(); err != nil {
		return err
	}
	total := 0.0
	for cam := 0; cam < s.cp.NumCams; cam++ {
		var pairs []engine.PointPair
		if s.ex.Combine {
			planes, err := s.loadPlanes(cam)
			if err != nil {
				return err
			}
			fix, crd, err := CombinePlanes(planes)
			if err != nil {
				return fmt.Errorf("camera %d: %w", cam+1, err)
			}
			pairs = make([]engine.PointPair, len(fix))
			for i := range fix {
				pairs[i] = engine.PointPair{Obj: fix[i].Pos, X: crd[i].X, Y: crd[i].Y}
			}
		} else {
			c := engine.NewCamera(s.cals[cam], s.cp)
			pairs = engine.MatchedPairs(c, s.fix, s.sorted[cam])
		}

		cal, residual, err := engine.Refine(s.cals[cam], s.cp, pairs, s.op.Adjust)
		if err != nil {
			return fmt.Errorf("camera %d: %w: %v", cam+1, ErrConvergenceFailure, err)
		}
		ptv.Diagf("camera %d: refined over %d points, mean residual %.4f px",
			cam+1, len(pairs), residual)
		if s.op.PointNumbers {
			s.logResiduals(cam, cal, pairs)
		}
		if err := s.writeCalibration(cam, cal); err != nil {
			return err
		}
		s.cals[cam] = cal
		total += residual
	}
	s.residual = total / float64(s.cp.NumCams)
	s.combined = s.ex.Combine
	s.state = Refined
	return nil
}

// RefineDumbbell adjusts all cameras jointly against a dumbbell recording:
// a sequence whose frames each show the two dumbbell tips. Frames where
// any camera did not detect exactly two targets are skipped.
func (s *Session) RefineDumbbell(db params.DumbbellParams, sp params.SequenceParams) error {
	if s.state < Initialized {
		return fmt.Errorf("%w: dumbbell refine from %s", ErrState, s.state)
	}

	step := db.Step
	if step < 1 {
		step = 1
	}
	cams := make([]*engine.Camera, s.cp.NumCams)
	cps := make([]params.CameraParams, s.cp.NumCams)
	for cam := range cams {
		cams[cam] = engine.NewCamera(s.cals[cam], s.cp)
		cps[cam] = s.cp
	}

	var frames []engine.DumbbellFrame
	for f := sp.First; f <= sp.Last; f += step {
		frame, ok, err := s.dumbbellFrame(cams, sp, f)
		if err != nil {
			return err
		}
		if !ok {
			ptv.Tracef("dumbbell: frame %d skipped", f)
			continue
		}
		frames = append(frames, frame)
	}

	if err := s.Backup(); err != nil {
		return err
	}
	cals, residual, err := engine.DumbbellRefine(s.cals, cps, frames, s.op.Adjust, db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConvergenceFailure, err)
	}
	if db.Eps > 0 && residual > db.Eps {
		return fmt.Errorf("%w: mean residual %.4f px exceeds tolerance %.4f",
			ErrConvergenceFailure, residual, db.Eps)
	}
	for cam := range cals {
		if err := s.writeCalibration(cam, cals[cam]); err != nil {
			return err
		}
	}
	s.cals = cals
	s.residual = residual
	s.state = Refined
	ptv.Opsf("dumbbell refinement over %d frames, mean residual %.4f px", len(frames), residual)
	return nil
}

// dumbbellFrame reads one frame's targets from every camera and builds the
// two-tip observation set. ok is false when any camera did not see exactly
// two targets. Tips are ordered by horizontal position in each camera;
// the rig geometry must keep that order consistent across cameras.
func (s *Session) dumbbellFrame(cams []*engine.Camera, sp params.SequenceParams, f int) (engine.DumbbellFrame, bool, error) {
	var frame engine.DumbbellFrame
	for cam := 0; cam < s.cp.NumCams; cam++ {
		ts, err := ptv.ReadTargetsFS(s.fs, s.ws.TargetsPath(sp.BaseNames[cam], f))
		if err != nil {
			if errors.Is(err, ptv.ErrFileNotFound) {
				return frame, false, nil
			}
			return frame, false, err
		}
		if len(ts) != 2 {
			return frame, false, nil
		}
		a, b := ts[0], ts[1]
		if b.X < a.X {
			a, b = b, a
		}
		for tip, t := range []ptv.Target{a, b} {
			x, y := cams[cam].PixelToMetric(t.X, t.Y)
			frame.Tips[tip] = append(frame.Tips[tip], engine.PointTip{Cam: cam, X: x, Y: y})
		}
	}
	return frame, true, nil
}

// logResiduals writes the per-point residual listing requested by the
// point-numbers flag.
func (s *Session) logResiduals(cam int, cal ptv.Calibration, pairs []engine.PointPair) {
	c := engine.NewCamera(cal, s.cp)
	for i, p := range pairs {
		px, py := c.Project(p.Obj)
		ptv.Tracef("camera %d point %d: residual (%.5f, %.5f)", cam+1, i, px-p.X, py-p.Y)
	}
}

// writeCalibration guards against persisting a corrupt calibration and
// writes the camera's .ori/.addpar pair.
func (s *Session) writeCalibration(cam int, cal ptv.Calibration) error {
	if !cal.Valid() {
		return fmt.Errorf("camera %d: %w", cam+1, ErrInvalidCalibration)
	}
	ori := s.ws.Resolve(s.co.OriName[cam])
	return ptv.WriteCalibrationFS(s.fs, ori, addParPath(ori), &cal)
}

func findTarget(ts []ptv.Target, pnr int) (ptv.Target, bool) {
	for i := range ts {
		if ts[i].Pnr == pnr {
			return ts[i], true
		}
	}
	return ptv.Target{}, false
}

func findFix(fix []ptv.FixPoint, id int) (ptv.Vec3, bool) {
	for i := range fix {
		if fix[i].ID == id {
			return fix[i].Pos, true
		}
	}
	return ptv.Vec3{}, false
}

// addParPath derives the .addpar path from its .ori sibling.
func addParPath(ori string) string {
	if strings.HasSuffix(ori, ".ori") {
		return strings.TrimSuffix(ori, ".ori") + ".addpar"
	}
	return ori + ".addpar"
}
