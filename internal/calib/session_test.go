package calib

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracerlab/flowtrace/internal/fsutil"
	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/ptv/engine"
	"github.com/tracerlab/flowtrace/internal/testutil"
)

// calibFixture is a complete two-camera calibration workspace on disk:
// synthetic plate images, the control-point file, prior calibrations at
// the true rig pose, and a configuration document naming them.
type calibFixture struct {
	doc *params.ConfigDocument
	ws  ptv.Workspace
	rig [2]ptv.Calibration
	cp  params.CameraParams
	fix []ptv.FixPoint
}

func newCalibFixture(t *testing.T) *calibFixture {
	t.Helper()
	dir := t.TempDir()
	ws := ptv.Workspace{Root: dir, ResDir: filepath.Join(dir, "res")}
	if err := os.MkdirAll(ws.ResDir, 0o755); err != nil {
		t.Fatal(err)
	}

	f := &calibFixture{
		ws:  ws,
		rig: testutil.StereoRig(10, 0.8, 0.15),
		cp:  testutil.CameraParams(2),
	}

	// A 3x3 plate grid in the z=0 plane, ids 1..9.
	id := 1
	for _, y := range []float64{-3, 0, 3} {
		for _, x := range []float64{-3, 0, 3} {
			f.fix = append(f.fix, ptv.FixPoint{ID: id, Pos: ptv.Vec3{X: x, Y: y}})
			id++
		}
	}
	if err := ptv.WriteFixPoints(filepath.Join(dir, "calblock.txt"), f.fix); err != nil {
		t.Fatal(err)
	}

	for cam := 0; cam < 2; cam++ {
		c := engine.NewCamera(f.rig[cam], f.cp)
		img := image.NewGray(image.Rect(0, 0, f.cp.ImX, f.cp.ImY))
		for _, fp := range f.fix {
			px, py := c.ProjectPixel(fp.Pos)
			testutil.PaintBlob(img, int(math.Round(px)), int(math.Round(py)), 2, 200)
		}
		f.writePNG(t, filepath.Join(dir, calImageName(cam)), img)
		testutil.WriteCalibrationPair(t, dir, oriBase(cam), f.rig[cam])
	}

	f.doc = calibDocument()
	return f
}

func calImageName(cam int) string { return []string{"cal1.png", "cal2.png"}[cam] }
func oriBase(cam int) string      { return []string{"cam1", "cam2"}[cam] }

func (f *calibFixture) writePNG(t *testing.T, path string, img *image.Gray) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func calibDocument() *params.ConfigDocument {
	doc := params.NewConfigDocument(2)
	doc.SetSection("ptv", params.Section{
		"img_cal":     []any{"cal1.png", "cal2.png"},
		"hp_flag":     false,
		"allcam_flag": false,
		"tiff_flag":   false,
		"imx":         256, "imy": 256,
		"pix_x": 0.01, "pix_y": 0.01,
		"chfield": 0,
		"mmp_n1":  1, "mmp_n2": 1, "mmp_n3": 1, "mmp_d": 1,
	})
	doc.SetSection("detect_plate", params.Section{
		"gvth_1": 100, "gvth_2": 100,
		"tol_dis":  50,
		"min_npix": 4, "max_npix": 200,
		"min_npix_x": 2, "max_npix_x": 20,
		"min_npix_y": 2, "max_npix_y": 20,
		"sum_grey": 100,
	})
	doc.SetSection("cal_ori", params.Section{
		"fixp_name":    "calblock.txt",
		"img_cal_name": []any{"cal1.png", "cal2.png"},
		"img_ori":      []any{"cam1.ori", "cam2.ori"},
		"tiff_flag":    false,
		"chfield":      0,
	})
	doc.SetSection("orient", params.Section{
		"pnfo": false,
		"cc":   true, "xh": false, "yh": false,
		"k1": false, "k2": false, "k3": false,
		"p1": false, "p2": false,
		"scale": false, "shear": false,
	})
	doc.SetSection("man_ori", params.Section{
		"nr": []any{1, 3, 7, 9, 1, 3, 7, 9},
	})
	return doc
}

func TestSession_Progression(t *testing.T) {
	f := newCalibFixture(t)
	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.State() != Initialized {
		t.Fatalf("state = %s, want initialized", s.State())
	}

	if err := s.Detect(); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if s.State() != Detected {
		t.Fatalf("state = %s, want detected", s.State())
	}

	if err := s.SortGrid(0); err != nil {
		t.Fatalf("SortGrid: %v", err)
	}
	if s.State() != GridSorted {
		t.Fatalf("state = %s, want grid-sorted", s.State())
	}
	for cam := 0; cam < 2; cam++ {
		if got := ptv.CountMatched(s.SortedTargets(cam)); got != len(f.fix) {
			t.Errorf("camera %d: matched %d of %d control points", cam+1, got, len(f.fix))
		}
	}

	if err := s.RawOrient(); err != nil {
		t.Fatalf("RawOrient: %v", err)
	}
	if s.State() != RawOriented {
		t.Fatalf("state = %s, want raw-oriented", s.State())
	}

	if err := s.Refine(); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if s.State() != Refined {
		t.Fatalf("state = %s, want refined", s.State())
	}
	if s.Combined() {
		t.Error("single-plane refinement reported combined")
	}
	if s.Residual() > 1.0 {
		t.Errorf("mean residual %f px, want below 1.0", s.Residual())
	}

	// The refined calibration landed on disk and stays close to the rig.
	for cam := 0; cam < 2; cam++ {
		ori := filepath.Join(f.ws.Root, oriBase(cam)+".ori")
		got, err := ptv.ReadCalibration(ori, filepath.Join(f.ws.Root, oriBase(cam)+".addpar"))
		if err != nil {
			t.Fatalf("camera %d: %v", cam+1, err)
		}
		if math.Abs(got.Int.CC-f.rig[cam].Int.CC) > 0.05 {
			t.Errorf("camera %d: cc drifted to %f from %f", cam+1, got.Int.CC, f.rig[cam].Int.CC)
		}
	}
}

func TestSession_StateGuards(t *testing.T) {
	f := newCalibFixture(t)
	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.SortGrid(0); !errors.Is(err, ErrState) {
		t.Errorf("SortGrid before Detect: err = %v, want ErrState", err)
	}
	if err := s.RawOrient(); !errors.Is(err, ErrState) {
		t.Errorf("RawOrient before SortGrid: err = %v, want ErrState", err)
	}
	if err := s.Refine(); !errors.Is(err, ErrState) {
		t.Errorf("Refine before RawOrient: err = %v, want ErrState", err)
	}
}

func TestSession_MissingPriorCalibrationStartsNeutral(t *testing.T) {
	f := newCalibFixture(t)
	if err := os.Remove(filepath.Join(f.ws.Root, "cam2.ori")); err != nil {
		t.Fatal(err)
	}

	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if got := s.Calibration(1); got != *ptv.NewCalibration() {
		t.Errorf("camera 2 calibration = %+v, want neutral", got)
	}
	if got := s.Calibration(0); got != f.rig[0] {
		t.Errorf("camera 1 calibration = %+v, want prior from disk", got)
	}
}

func TestSession_FreshWorkspaceProgression(t *testing.T) {
	f := newCalibFixture(t)
	for cam := 0; cam < 2; cam++ {
		for _, ext := range []string{".ori", ".addpar"} {
			if err := os.Remove(filepath.Join(f.ws.Root, oriBase(cam)+ext)); err != nil {
				t.Fatal(err)
			}
		}
	}

	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for cam := 0; cam < 2; cam++ {
		if got := s.Calibration(cam); got != *ptv.NewCalibration() {
			t.Fatalf("camera %d calibration = %+v, want neutral", cam+1, got)
		}
	}

	bad := f.rig[0]
	bad.Int.CC = math.NaN()
	if err := s.SeedCalibration(0, bad); !errors.Is(err, ErrInvalidCalibration) {
		t.Errorf("non-finite seed: err = %v, want ErrInvalidCalibration", err)
	}
	if err := s.SeedCalibration(2, f.rig[0]); err == nil {
		t.Error("out-of-range camera accepted a seed")
	}

	// Operator seeds: the true rig nudged off pose, as a survey guess
	// would be.
	for cam := 0; cam < 2; cam++ {
		seed := f.rig[cam]
		seed.Ext.X += 0.1
		seed.Ext.Kappa += 0.01
		if err := s.SeedCalibration(cam, seed); err != nil {
			t.Fatalf("SeedCalibration: %v", err)
		}
	}

	if err := s.Detect(); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if err := s.SortGrid(0); err != nil {
		t.Fatalf("SortGrid: %v", err)
	}
	if err := s.RawOrient(); err != nil {
		t.Fatalf("RawOrient: %v", err)
	}

	// The first orientation run had nothing to back up but created the
	// calibration files; the refinement run backs those up.
	for cam := 0; cam < 2; cam++ {
		ori := filepath.Join(f.ws.Root, oriBase(cam)+".ori")
		if _, err := os.Stat(ori + BackupSuffix); !os.IsNotExist(err) {
			t.Errorf("camera %d: unexpected backup after first orientation", cam+1)
		}
		if _, err := os.Stat(ori); err != nil {
			t.Errorf("camera %d: orientation did not create %s: %v", cam+1, ori, err)
		}
	}

	if err := s.Refine(); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if s.State() != Refined {
		t.Fatalf("state = %s, want refined", s.State())
	}
	if s.Residual() > 1.0 {
		t.Errorf("mean residual %f px, want below 1.0", s.Residual())
	}
	for cam := 0; cam < 2; cam++ {
		bck := filepath.Join(f.ws.Root, oriBase(cam)+".ori"+BackupSuffix)
		if _, err := os.Stat(bck); err != nil {
			t.Errorf("camera %d: no backup after refinement: %v", cam+1, err)
		}
	}
}

func TestSession_MemoryFilesystemProgression(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	ws := ptv.Workspace{Root: "/ws", ResDir: "/ws/res"}
	rig := testutil.StereoRig(10, 0.8, 0.15)
	cp := testutil.CameraParams(2)

	var fix []ptv.FixPoint
	id := 1
	for _, y := range []float64{-3, 0, 3} {
		for _, x := range []float64{-3, 0, 3} {
			fix = append(fix, ptv.FixPoint{ID: id, Pos: ptv.Vec3{X: x, Y: y}})
			id++
		}
	}
	if err := ptv.WriteFixPointsFS(fsys, "/ws/calblock.txt", fix); err != nil {
		t.Fatal(err)
	}
	for cam := 0; cam < 2; cam++ {
		c := engine.NewCamera(rig[cam], cp)
		img := image.NewGray(image.Rect(0, 0, cp.ImX, cp.ImY))
		for _, fp := range fix {
			px, py := c.ProjectPixel(fp.Pos)
			testutil.PaintBlob(img, int(math.Round(px)), int(math.Round(py)), 2, 200)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatal(err)
		}
		if err := fsys.WriteFile("/ws/"+calImageName(cam), buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		ori := "/ws/" + oriBase(cam) + ".ori"
		if err := ptv.WriteCalibrationFS(fsys, ori, addParPath(ori), &rig[cam]); err != nil {
			t.Fatal(err)
		}
	}

	s, err := NewSessionFS(calibDocument(), ws, fsys)
	if err != nil {
		t.Fatalf("NewSessionFS: %v", err)
	}
	if err := s.Detect(); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if err := s.SortGrid(0); err != nil {
		t.Fatalf("SortGrid: %v", err)
	}
	if err := s.RawOrient(); err != nil {
		t.Fatalf("RawOrient: %v", err)
	}
	if err := s.Refine(); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if s.State() != Refined {
		t.Fatalf("state = %s, want refined", s.State())
	}
	if s.Residual() > 1.0 {
		t.Errorf("mean residual %f px, want below 1.0", s.Residual())
	}

	// Everything the session wrote landed in the injected filesystem.
	for cam := 0; cam < 2; cam++ {
		ori := "/ws/" + oriBase(cam) + ".ori"
		if !fsys.Exists(ori + BackupSuffix) {
			t.Errorf("camera %d: no backup in memory filesystem", cam+1)
		}
		got, err := ptv.ReadCalibrationFS(fsys, ori, addParPath(ori))
		if err != nil {
			t.Fatalf("camera %d: %v", cam+1, err)
		}
		if math.Abs(got.Int.CC-rig[cam].Int.CC) > 0.05 {
			t.Errorf("camera %d: cc drifted to %f from %f", cam+1, got.Int.CC, rig[cam].Int.CC)
		}
	}
}

func TestSession_CombinedRefine(t *testing.T) {
	f := newCalibFixture(t)
	f.doc.SetSection("examine", params.Section{
		"examine_flag": false,
		"combine_flag": true,
	})
	f.doc.SetSection("multi_planes", params.Section{
		"n_planes":   2,
		"plane_name": []any{"plane_a", "plane_b"},
	})

	// Two noise-free planes at different depths, projected through the
	// true rig.
	for pi, base := range []string{"plane_a", "plane_b"} {
		z := float64(pi*2 - 1)
		var fix []ptv.FixPoint
		id := 1
		for _, y := range []float64{-2, 0, 2} {
			for _, x := range []float64{-2, 0, 2} {
				fix = append(fix, ptv.FixPoint{ID: id, Pos: ptv.Vec3{X: x, Y: y, Z: z}})
				id++
			}
		}
		if err := ptv.WriteFixPoints(filepath.Join(f.ws.Root, base+".fix"), fix); err != nil {
			t.Fatal(err)
		}
		for cam := 0; cam < 2; cam++ {
			c := engine.NewCamera(f.rig[cam], f.cp)
			var crd []ptv.CoordPoint
			for _, fp := range fix {
				x, y := c.Project(fp.Pos)
				crd = append(crd, ptv.CoordPoint{ID: fp.ID, X: x, Y: y})
			}
			path := filepath.Join(f.ws.Root, fmt.Sprintf("%s.c%d.crd", base, cam+1))
			if err := ptv.WriteCoordPoints(path, crd); err != nil {
				t.Fatal(err)
			}
		}
	}

	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Detect(); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if err := s.SortGrid(0); err != nil {
		t.Fatalf("SortGrid: %v", err)
	}
	if err := s.RawOrient(); err != nil {
		t.Fatalf("RawOrient: %v", err)
	}
	if err := s.Refine(); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if !s.Combined() {
		t.Error("multi-plane refinement did not report combined")
	}
	if s.Residual() > 0.5 {
		t.Errorf("mean residual %f px over noise-free planes, want below 0.5", s.Residual())
	}
}

func TestSession_RefineDumbbell(t *testing.T) {
	f := newCalibFixture(t)
	s, err := NewSession(f.doc, f.ws)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	sp := params.SequenceParams{BaseNames: []string{"db1.", "db2."}, First: 1, Last: 5}
	db := params.DumbbellParams{Eps: 1, Scale: 2, PenaltyWeight: 1, Step: 1, NIter: 50}

	cams := [2]*engine.Camera{
		engine.NewCamera(f.rig[0], f.cp),
		engine.NewCamera(f.rig[1], f.cp),
	}
	centers := []ptv.Vec3{
		{X: -1, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{X: 0, Y: -1, Z: -1},
		{X: 0.5, Y: 0.5, Z: 0.5},
	}
	for fi, c := range centers {
		frame := sp.First + fi
		tips := [2]ptv.Vec3{
			{X: c.X - db.Scale/2, Y: c.Y, Z: c.Z},
			{X: c.X + db.Scale/2, Y: c.Y, Z: c.Z},
		}
		for cam := 0; cam < 2; cam++ {
			var ts []ptv.Target
			for _, tip := range tips {
				px, py := cams[cam].ProjectPixel(tip)
				ts = append(ts, ptv.Target{
					Pnr: len(ts), X: px, Y: py,
					N: 9, NX: 3, NY: 3, SumG: 900, Tnr: ptv.UnlinkedTnr,
				})
			}
			if err := ptv.WriteTargets(f.ws.TargetsPath(sp.BaseNames[cam], frame), ts); err != nil {
				t.Fatal(err)
			}
		}
	}
	// Frame 5 has no target files and must be skipped, not fatal.

	if err := s.RefineDumbbell(db, sp); err != nil {
		t.Fatalf("RefineDumbbell: %v", err)
	}
	if s.State() != Refined {
		t.Errorf("state = %s, want refined", s.State())
	}
	if s.Residual() > db.Eps {
		t.Errorf("mean residual %f px above tolerance %f", s.Residual(), db.Eps)
	}
}
