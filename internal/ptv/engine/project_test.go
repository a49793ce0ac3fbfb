package engine

import (
	"math"
	"testing"

	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/testutil"
)

func testCamera(cal ptv.Calibration) *Camera {
	return NewCamera(cal, testutil.CameraParams(1))
}

func TestProjectPixel_OriginAtPrincipalPoint(t *testing.T) {
	rig := testutil.StereoRig(100, 0.8, 0.25)
	for i := range rig {
		cam := testCamera(rig[i])
		xp, yp := cam.ProjectPixel(ptv.Vec3{})
		if math.Abs(xp-128) > 1e-9 || math.Abs(yp-128) > 1e-9 {
			t.Errorf("camera %d: origin projects to (%f, %f), want sensor center", i, xp, yp)
		}
	}
}

func TestPixelMetricRoundTrip(t *testing.T) {
	cam := testCamera(testutil.Calibration(100, 0.8))
	for _, p := range [][2]float64{{0, 0}, {128, 128}, {255, 255}, {17.5, 200.25}} {
		x, y := cam.PixelToMetric(p[0], p[1])
		xp, yp := cam.MetricToPixel(x, y)
		if math.Abs(xp-p[0]) > 1e-9 || math.Abs(yp-p[1]) > 1e-9 {
			t.Errorf("pixel (%f, %f) round trips to (%f, %f)", p[0], p[1], xp, yp)
		}
	}
}

func TestPixelToMetric_YAxisFlips(t *testing.T) {
	cam := testCamera(testutil.Calibration(100, 0.8))
	_, yTop := cam.PixelToMetric(128, 0)
	_, yBot := cam.PixelToMetric(128, 255)
	if yTop <= 0 || yBot >= 0 {
		t.Errorf("metric y: top = %f, bottom = %f, want positive above center", yTop, yBot)
	}
}

func TestDistToFlat_InvertsDistortion(t *testing.T) {
	cal := testutil.Calibration(100, 0.8)
	cal.Int.XH = 0.01
	cal.Int.YH = -0.02
	cal.Rad = ptv.Radial{K1: 0.05, K2: -0.002}
	cal.Dec = ptv.Decentering{P1: 0.001, P2: -0.0005}
	cal.Aff = ptv.Affine{Scale: 1.002, Shear: 0.003}
	cam := testCamera(cal)

	for _, p := range [][2]float64{{0, 0}, {0.3, -0.2}, {-0.8, 0.5}, {1.0, 1.0}} {
		xd, yd := cam.FlatToDist(p[0], p[1])
		x, y := cam.DistToFlat(xd, yd)
		if math.Abs(x-p[0]) > 1e-8 || math.Abs(y-p[1]) > 1e-8 {
			t.Errorf("flat (%f, %f) round trips to (%f, %f)", p[0], p[1], x, y)
		}
	}
}

func TestRotationMatrix_Orthonormal(t *testing.T) {
	r := RotationMatrix(ptv.Exterior{Omega: 0.2, Phi: -0.4, Kappa: 1.1})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := 0.0
			for k := 0; k < 3; k++ {
				dot += r.At(k, i) * r.At(k, j)
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > 1e-12 {
				t.Errorf("column %d . column %d = %f, want %f", i, j, dot, want)
			}
		}
	}
}

func TestRay_PassesThroughProjectedPoint(t *testing.T) {
	rig := testutil.StereoRig(100, 0.8, 0.25)
	cam := testCamera(rig[0])
	p := ptv.Vec3{X: 2, Y: -1.5, Z: 3}

	fx, fy := cam.ProjectFlat(p)
	origin, dir := cam.Ray(fx, fy)

	// The ray should pass within numerical noise of the original point.
	d := sub(p, origin)
	along := dot(d, dir)
	closest := ptv.Vec3{X: origin.X + along*dir.X, Y: origin.Y + along*dir.Y, Z: origin.Z + along*dir.Z}
	if miss := norm(sub(p, closest)); miss > 1e-9 {
		t.Errorf("ray misses projected point by %g", miss)
	}
	if math.Abs(norm(dir)-1) > 1e-12 {
		t.Errorf("ray direction norm = %f, want 1", norm(dir))
	}
}
