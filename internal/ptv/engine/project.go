package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Coordinate frames, in the order a projection passes through them:
//
//	world   3D object space, length units
//	flat    metric image plane, relative to the principal point,
//	        undistorted
//	dist    metric image plane, relative to the sensor center, after
//	        distortion and the affine correction
//	pixel   image rows/columns, y growing downward
//
// The refractive indices in params.Media are carried through but the
// reference kernels treat the optical path as homogeneous; a layered
// model slots in behind the same Camera surface.

const (
	undistortMaxIter = 100
	undistortTol     = 1e-12
)

// Camera bundles a calibration with its precomputed rotation matrix and
// the sensor geometry needed for pixel conversions.
type Camera struct {
	Cal ptv.Calibration
	R   *mat.Dense

	imx, imy   int
	pixX, pixY float64
}

// NewCamera builds a projection-ready camera from a calibration and the
// sensor description.
func NewCamera(cal ptv.Calibration, cp params.CameraParams) *Camera {
	return &Camera{
		Cal:  cal,
		R:    RotationMatrix(cal.Ext),
		imx:  cp.ImX,
		imy:  cp.ImY,
		pixX: cp.PixX,
		pixY: cp.PixY,
	}
}

// RotationMatrix builds the 3x3 camera-to-world rotation from the
// omega/phi/kappa angles. World-to-camera transforms apply its
// transpose.
func RotationMatrix(ext ptv.Exterior) *mat.Dense {
	co, so := math.Cos(ext.Omega), math.Sin(ext.Omega)
	cp, sp := math.Cos(ext.Phi), math.Sin(ext.Phi)
	ck, sk := math.Cos(ext.Kappa), math.Sin(ext.Kappa)

	return mat.NewDense(3, 3, []float64{
		cp * ck, -cp * sk, sp,
		co*sk + so*sp*ck, co*ck - so*sp*sk, -so * cp,
		so*sk - co*sp*ck, so*ck + co*sp*sk, co * cp,
	})
}

// worldToCamera rotates a world displacement into the camera frame.
func (c *Camera) worldToCamera(d ptv.Vec3) ptv.Vec3 {
	r := c.R
	return ptv.Vec3{
		X: r.At(0, 0)*d.X + r.At(1, 0)*d.Y + r.At(2, 0)*d.Z,
		Y: r.At(0, 1)*d.X + r.At(1, 1)*d.Y + r.At(2, 1)*d.Z,
		Z: r.At(0, 2)*d.X + r.At(1, 2)*d.Y + r.At(2, 2)*d.Z,
	}
}

// cameraToWorld rotates a camera-frame direction back into world space.
func (c *Camera) cameraToWorld(d ptv.Vec3) ptv.Vec3 {
	r := c.R
	return ptv.Vec3{
		X: r.At(0, 0)*d.X + r.At(0, 1)*d.Y + r.At(0, 2)*d.Z,
		Y: r.At(1, 0)*d.X + r.At(1, 1)*d.Y + r.At(1, 2)*d.Z,
		Z: r.At(2, 0)*d.X + r.At(2, 1)*d.Y + r.At(2, 2)*d.Z,
	}
}

// ProjectFlat maps a world point to flat image coordinates.
func (c *Camera) ProjectFlat(p ptv.Vec3) (x, y float64) {
	ext := c.Cal.Ext
	d := ptv.Vec3{X: p.X - ext.X, Y: p.Y - ext.Y, Z: p.Z - ext.Z}
	pc := c.worldToCamera(d)
	x = -c.Cal.Int.CC * pc.X / pc.Z
	y = -c.Cal.Int.CC * pc.Y / pc.Z
	return x, y
}

// Project maps a world point all the way to distorted metric image
// coordinates.
func (c *Camera) Project(p ptv.Vec3) (x, y float64) {
	return c.FlatToDist(c.ProjectFlat(p))
}

// ProjectPixel maps a world point to pixel coordinates.
func (c *Camera) ProjectPixel(p ptv.Vec3) (xp, yp float64) {
	x, y := c.Project(p)
	return c.MetricToPixel(x, y)
}

// FlatToDist applies distortion and the affine sensor correction. The
// distortion polynomial operates on sensor-centered coordinates, so the
// principal point offset is folded in first.
func (c *Camera) FlatToDist(x, y float64) (xd, yd float64) {
	x += c.Cal.Int.XH
	y += c.Cal.Int.YH

	rad := c.Cal.Rad
	dec := c.Cal.Dec
	r2 := x*x + y*y
	factor := 1 + rad.K1*r2 + rad.K2*r2*r2 + rad.K3*r2*r2*r2
	xd = x*factor + dec.P1*(r2+2*x*x) + 2*dec.P2*x*y
	yd = y*factor + dec.P2*(r2+2*y*y) + 2*dec.P1*x*y

	aff := c.Cal.Aff
	return aff.Scale*xd - math.Sin(aff.Shear)*yd, math.Cos(aff.Shear) * yd
}

// DistToFlat inverts FlatToDist by fixed-point iteration, the same
// scheme OpenCV-style undistortion uses.
func (c *Camera) DistToFlat(xd, yd float64) (x, y float64) {
	aff := c.Cal.Aff
	y = yd / math.Cos(aff.Shear)
	x = (xd + math.Sin(aff.Shear)*y) / aff.Scale

	rad := c.Cal.Rad
	dec := c.Cal.Dec
	x0, y0 := x, y
	for i := 0; i < undistortMaxIter; i++ {
		r2 := x*x + y*y
		factor := 1 + rad.K1*r2 + rad.K2*r2*r2 + rad.K3*r2*r2*r2
		dx := dec.P1*(r2+2*x*x) + 2*dec.P2*x*y
		dy := dec.P2*(r2+2*y*y) + 2*dec.P1*x*y
		xPrev, yPrev := x, y
		x = (x0 - dx) / factor
		y = (y0 - dy) / factor
		if (x-xPrev)*(x-xPrev)+(y-yPrev)*(y-yPrev) < undistortTol {
			break
		}
	}
	return x - c.Cal.Int.XH, y - c.Cal.Int.YH
}

// PixelToMetric converts pixel coordinates to sensor-centered metric
// coordinates. Pixel y grows downward, metric y upward.
func (c *Camera) PixelToMetric(xp, yp float64) (x, y float64) {
	x = (xp - float64(c.imx)/2) * c.pixX
	y = (float64(c.imy)/2 - yp) * c.pixY
	return x, y
}

// MetricToPixel is the inverse of PixelToMetric.
func (c *Camera) MetricToPixel(x, y float64) (xp, yp float64) {
	xp = x/c.pixX + float64(c.imx)/2
	yp = float64(c.imy)/2 - y/c.pixY
	return xp, yp
}

// TargetFlat converts a detected target's pixel position to flat
// coordinates.
func (c *Camera) TargetFlat(t ptv.Target) (x, y float64) {
	return c.DistToFlat(c.PixelToMetric(t.X, t.Y))
}

// Ray casts the world-space ray behind a flat image point. The origin
// is the camera position; the direction is unit length, pointing into
// the scene.
func (c *Camera) Ray(x, y float64) (origin, dir ptv.Vec3) {
	origin = ptv.Vec3{X: c.Cal.Ext.X, Y: c.Cal.Ext.Y, Z: c.Cal.Ext.Z}
	d := c.cameraToWorld(ptv.Vec3{X: x, Y: y, Z: -c.Cal.Int.CC})
	n := math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
	return origin, ptv.Vec3{X: d.X / n, Y: d.Y / n, Z: d.Z / n}
}
