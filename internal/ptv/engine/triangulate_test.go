package engine

import (
	"math"
	"testing"

	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/testutil"
)

func stereoCameras(t *testing.T) []*Camera {
	t.Helper()
	rig := testutil.StereoRig(100, 0.8, 0.25)
	cp := testutil.CameraParams(2)
	return []*Camera{NewCamera(rig[0], cp), NewCamera(rig[1], cp)}
}

func TestTriangulate_RecoversKnownPoints(t *testing.T) {
	cams := stereoCameras(t)
	points := []ptv.Vec3{
		{},
		{X: 1.5, Y: -2, Z: 0.5},
		{X: -3, Y: 1, Z: -2},
		{X: 0.1, Y: 0.1, Z: 4},
	}
	for _, p := range points {
		flat := make([][2]float64, len(cams))
		for i, cam := range cams {
			fx, fy := cam.ProjectFlat(p)
			flat[i] = [2]float64{fx, fy}
		}
		got, err := Triangulate(cams, flat)
		if err != nil {
			t.Fatalf("Triangulate(%+v): %v", p, err)
		}
		if miss := norm(sub(got, p)); miss > 1e-6 {
			t.Errorf("point %+v recovered as %+v (off by %g)", p, got, miss)
		}
	}
}

func TestTriangulate_RejectsSingleCamera(t *testing.T) {
	cams := stereoCameras(t)
	_, err := Triangulate(cams[:1], [][2]float64{{0, 0}})
	if err == nil {
		t.Fatal("expected error for a single observation")
	}
}

func TestTriangulate_RejectsMismatchedObservations(t *testing.T) {
	cams := stereoCameras(t)
	_, err := Triangulate(cams, [][2]float64{{0, 0}})
	if err == nil {
		t.Fatal("expected error for mismatched camera/observation counts")
	}
}

func TestRayDistance(t *testing.T) {
	o1 := ptv.Vec3{X: 0, Y: 0, Z: 0}
	d1 := ptv.Vec3{X: 1, Y: 0, Z: 0}
	o2 := ptv.Vec3{X: 0, Y: 1, Z: 5}
	d2 := ptv.Vec3{X: 0, Y: 0, Z: 1}

	dist, mid := rayDistance(o1, d1, o2, d2)
	if math.Abs(dist-1) > 1e-12 {
		t.Errorf("distance = %f, want 1", dist)
	}
	want := ptv.Vec3{X: 0, Y: 0.5, Z: 5}
	if miss := norm(sub(mid, want)); miss > 1e-12 {
		t.Errorf("midpoint = %+v, want %+v", mid, want)
	}
}

func TestRayDistance_ParallelRays(t *testing.T) {
	o1 := ptv.Vec3{}
	o2 := ptv.Vec3{Y: 3}
	d := ptv.Vec3{X: 1}

	dist, _ := rayDistance(o1, d, o2, d)
	if math.Abs(dist-3) > 1e-12 {
		t.Errorf("distance = %f, want 3", dist)
	}
}
