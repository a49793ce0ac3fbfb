package engine

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

var errTriangulation = errors.New("triangulation failed")

// projectionMatrix builds the 3x4 homogeneous projection onto flat
// coordinates: diag(-cc, -cc, 1) * [R' | -R'*pos].
func (c *Camera) projectionMatrix() *mat.Dense {
	pos := ptv.Vec3{X: c.Cal.Ext.X, Y: c.Cal.Ext.Y, Z: c.Cal.Ext.Z}
	t := c.worldToCamera(pos)
	cc := c.Cal.Int.CC

	p := mat.NewDense(3, 4, nil)
	for col := 0; col < 3; col++ {
		p.Set(0, col, -cc*c.R.At(col, 0))
		p.Set(1, col, -cc*c.R.At(col, 1))
		p.Set(2, col, c.R.At(col, 2))
	}
	p.Set(0, 3, cc*t.X)
	p.Set(1, 3, cc*t.Y)
	p.Set(2, 3, -t.Z)
	return p
}

// Triangulate recovers the 3D point behind one flat observation per
// camera by homogeneous direct linear transform: two rows per camera,
// solved with a thin SVD.
func Triangulate(cams []*Camera, flat [][2]float64) (ptv.Vec3, error) {
	if len(cams) < 2 || len(cams) != len(flat) {
		return ptv.Vec3{}, fmt.Errorf("%w: need matched observations from at least 2 cameras", errTriangulation)
	}

	a := mat.NewDense(2*len(cams), 4, nil)
	for i, cam := range cams {
		p := cam.projectionMatrix()
		u, v := flat[i][0], flat[i][1]
		for col := 0; col < 4; col++ {
			a.Set(2*i, col, v*p.At(2, col)-p.At(1, col))
			a.Set(2*i+1, col, p.At(0, col)-u*p.At(2, col))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return ptv.Vec3{}, fmt.Errorf("%w: SVD did not factorize", errTriangulation)
	}
	var v mat.Dense
	svd.VTo(&v)

	w := v.At(3, 3)
	if w == 0 {
		return ptv.Vec3{}, fmt.Errorf("%w: point at infinity", errTriangulation)
	}
	return ptv.Vec3{
		X: v.At(0, 3) / w,
		Y: v.At(1, 3) / w,
		Z: v.At(2, 3) / w,
	}, nil
}

// rayDistance returns the closest-approach distance between two rays
// and the midpoint of the connecting segment.
func rayDistance(o1, d1, o2, d2 ptv.Vec3) (dist float64, mid ptv.Vec3) {
	// Solve for the parameters of the two closest points.
	w := ptv.Vec3{X: o1.X - o2.X, Y: o1.Y - o2.Y, Z: o1.Z - o2.Z}
	b := dot(d1, d2)
	d := dot(d1, w)
	e := dot(d2, w)
	denom := 1 - b*b

	var s, t float64
	if denom > 1e-12 {
		s = (b*e - d) / denom
		t = (e - b*d) / denom
	} else {
		// Parallel rays: measure at the first origin.
		s = 0
		t = e
	}
	p1 := ptv.Vec3{X: o1.X + s*d1.X, Y: o1.Y + s*d1.Y, Z: o1.Z + s*d1.Z}
	p2 := ptv.Vec3{X: o2.X + t*d2.X, Y: o2.Y + t*d2.Y, Z: o2.Z + t*d2.Z}
	diff := ptv.Vec3{X: p1.X - p2.X, Y: p1.Y - p2.Y, Z: p1.Z - p2.Z}
	mid = ptv.Vec3{X: (p1.X + p2.X) / 2, Y: (p1.Y + p2.Y) / 2, Z: (p1.Z + p2.Z) / 2}
	return norm(diff), mid
}

func dot(a, b ptv.Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func norm(v ptv.Vec3) float64 {
	return mat.Norm(mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}), 2)
}
