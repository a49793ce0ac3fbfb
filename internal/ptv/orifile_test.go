package ptv

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestCalibrationRoundTrip(t *testing.T) {
	dir := t.TempDir()
	oriPath := filepath.Join(dir, "cam1.ori")
	addPath := filepath.Join(dir, "cam1.addpar")

	orig := NewCalibration()
	orig.Ext = Exterior{
		X: 105.2632, Y: -68.4, Z: 309.0,
		Omega: 0.01, Phi: -0.05, Kappa: 1.0 / 3.0,
	}
	orig.Int = Interior{XH: 0.1, YH: -0.2, CC: 85.04}
	orig.Rad = Radial{K1: 1e-5, K2: -2e-9, K3: 3e-13}
	orig.Dec = Decentering{P1: 4e-6, P2: -5e-6}
	orig.Aff = Affine{Scale: 1.0008, Shear: -0.0002}

	if err := WriteCalibration(oriPath, addPath, orig); err != nil {
		t.Fatalf("write calibration: %v", err)
	}
	got, err := ReadCalibration(oriPath, addPath)
	if err != nil {
		t.Fatalf("read calibration: %v", err)
	}
	if *got != *orig {
		t.Errorf("round trip changed calibration:\n got %+v\nwant %+v", got, orig)
	}

	// Writing the read-back values must reproduce the files byte for byte.
	ori2 := filepath.Join(dir, "again.ori")
	add2 := filepath.Join(dir, "again.addpar")
	if err := WriteCalibration(ori2, add2, got); err != nil {
		t.Fatalf("rewrite calibration: %v", err)
	}
	for _, pair := range [][2]string{{oriPath, ori2}, {addPath, add2}} {
		a, err := os.ReadFile(pair[0])
		if err != nil {
			t.Fatalf("read %s: %v", pair[0], err)
		}
		b, err := os.ReadFile(pair[1])
		if err != nil {
			t.Fatalf("read %s: %v", pair[1], err)
		}
		if string(a) != string(b) {
			t.Errorf("%s and %s differ after round trip:\n%q\n%q", pair[0], pair[1], a, b)
		}
	}
}

func TestReadCalibrationMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadCalibration(filepath.Join(dir, "no.ori"), filepath.Join(dir, "no.addpar"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file: got %v, want ErrFileNotFound", err)
	}
}

func TestReadCalibrationBadLineCount(t *testing.T) {
	dir := t.TempDir()
	oriPath := filepath.Join(dir, "short.ori")
	addPath := filepath.Join(dir, "short.addpar")
	// 8 lines instead of 9.
	if err := os.WriteFile(oriPath, []byte("1\n2\n3\n4\n5\n6\n7\n8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(addPath, []byte("0\n0\n0\n0\n0\n1\n0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadCalibration(oriPath, addPath)
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("truncated ori: got %v, want ErrMalformedFile", err)
	}
}

func TestReadCalibrationBadValue(t *testing.T) {
	dir := t.TempDir()
	oriPath := filepath.Join(dir, "bad.ori")
	addPath := filepath.Join(dir, "bad.addpar")
	if err := os.WriteFile(oriPath, []byte("1\n2\nthree\n4\n5\n6\n7\n8\n9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(addPath, []byte("0\n0\n0\n0\n0\n1\n0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadCalibration(oriPath, addPath)
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("non-numeric ori line: got %v, want ErrMalformedFile", err)
	}
}

func TestCalibrationValid(t *testing.T) {
	c := NewCalibration()
	c.Int.CC = 85.0
	if !c.Valid() {
		t.Error("finite calibration reported invalid")
	}
	c.Ext.Omega = math.NaN()
	if c.Valid() {
		t.Error("NaN omega reported valid")
	}
	c.Ext.Omega = 0
	c.Rad.K2 = math.Inf(1)
	if c.Valid() {
		t.Error("Inf k2 reported valid")
	}
}

func TestFieldsOrder(t *testing.T) {
	c := NewCalibration()
	c.Ext = Exterior{X: 1, Y: 2, Z: 3, Omega: 4, Phi: 5, Kappa: 6}
	c.Int = Interior{XH: 7, YH: 8, CC: 9}
	c.Rad = Radial{K1: 10, K2: 11, K3: 12}
	c.Dec = Decentering{P1: 13, P2: 14}
	c.Aff = Affine{Scale: 15, Shear: 16}
	got := c.Fields()
	if len(got) != 16 {
		t.Fatalf("Fields() returned %d values, want 16", len(got))
	}
	for i, v := range got {
		if v != float64(i+1) {
			t.Errorf("Fields()[%d] = %v, want %d", i, v, i+1)
		}
	}
}
