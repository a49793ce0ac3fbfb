// Package testutil provides shared fixtures for the calibration and
// pipeline test suites: synthetic camera rigs, painted detection images
// and on-disk calibration pairs.
package testutil

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// CameraParams returns a small synthetic sensor: 256x256 pixels of
// 0.01 length units pitch, homogeneous optical path.
func CameraParams(numCams int) params.CameraParams {
	return params.CameraParams{
		NumCams: numCams,
		ImX:     256, ImY: 256,
		PixX: 0.01, PixY: 0.01,
		Media: params.Media{N1: 1, N2: 1, N3: 1, D: 1},
	}
}

// Calibration returns a finite calibration at distance dist on the +Z
// axis looking at the origin, with principal distance cc.
func Calibration(dist, cc float64) ptv.Calibration {
	c := ptv.NewCalibration()
	c.Ext = ptv.Exterior{Z: dist}
	c.Int = ptv.Interior{CC: cc}
	return *c
}

// StereoRig returns two calibrations converging on the origin from
// ±angle radians about the y axis at distance dist.
func StereoRig(dist, cc, angle float64) [2]ptv.Calibration {
	rig := [2]ptv.Calibration{}
	for i, phi := range []float64{-angle, angle} {
		c := ptv.NewCalibration()
		c.Ext = ptv.Exterior{
			X:   dist * math.Sin(phi),
			Z:   dist * math.Cos(phi),
			Phi: phi,
		}
		c.Int = ptv.Interior{CC: cc}
		rig[i] = *c
	}
	return rig
}

// PaintBlob paints a bright square of half-width half centered at
// (cx, cy), brightest in the middle so centroids are well defined.
func PaintBlob(img *image.Gray, cx, cy, half int, grey uint8) {
	b := img.Bounds()
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			v := int(grey) - 10*(abs(dx)+abs(dy))
			if v < 0 {
				v = 0
			}
			if v > int(img.GrayAt(x, y).Y) {
				img.SetGray(x, y, color.Gray{Y: uint8(v)})
			}
		}
	}
}

// WriteCalibrationPair writes cal as <name>.ori/<name>.addpar under dir
// and returns the .ori path.
func WriteCalibrationPair(t testing.TB, dir, name string, cal ptv.Calibration) string {
	t.Helper()
	ori := filepath.Join(dir, name+".ori")
	add := filepath.Join(dir, name+".addpar")
	if err := ptv.WriteCalibration(ori, add, &cal); err != nil {
		t.Fatalf("write calibration pair: %v", err)
	}
	return ori
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
