package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/maorshutman/lm"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// ErrOrientation is returned when an orientation or refinement run cannot
// converge: too few point pairs, a singular adjustment, or a non-finite
// solution.
var ErrOrientation = errors.New("orientation did not converge")

// PointPair is one 3D/2D observation: a known world point and its measured
// image position in sensor-centered metric units (distorted, as detected).
type PointPair struct {
	Obj  ptv.Vec3
	X, Y float64
}

// Levenberg-Marquardt settings shared by all adjustment entry points.
const (
	orientIterations = 200
	orientTau        = 1e-3
	orientEps        = 1e-10
)

// fieldIndex maps each adjustable calibration parameter to its slot in
// Calibration.Fields order.
var fieldIndex = map[string]int{
	"xh": 6, "yh": 7, "cc": 8,
	"k1": 9, "k2": 10, "k3": 11,
	"p1": 12, "p2": 13,
	"scale": 14, "shear": 15,
}

// adjustIndices expands an AdjustFlags subset into Fields indices.
// Position covers the whole exterior: the three coordinates and the three
// angles move together, as in every predecessor of this code.
func adjustIndices(flags params.AdjustFlags) []int {
	var idx []int
	if flags.Position {
		idx = append(idx, 0, 1, 2, 3, 4, 5)
	}
	for _, f := range []struct {
		on  bool
		key string
	}{
		{flags.XH, "xh"}, {flags.YH, "yh"}, {flags.CC, "cc"},
		{flags.K1, "k1"}, {flags.K2, "k2"}, {flags.K3, "k3"},
		{flags.P1, "p1"}, {flags.P2, "p2"},
		{flags.Scale, "scale"}, {flags.Shear, "shear"},
	} {
		if f.on {
			idx = append(idx, fieldIndex[f.key])
		}
	}
	return idx
}

// RawOrient estimates the camera exterior from operator-selected point
// pairs, starting from the current (approximate) calibration. At least 4
// pairs are required; interior and distortion are left untouched.
func RawOrient(cal ptv.Calibration, cp params.CameraParams, pairs []PointPair) (ptv.Calibration, error) {
	if len(pairs) < 4 {
		return cal, fmt.Errorf("%w: %d point pairs, need at least 4", ErrOrientation, len(pairs))
	}
	refined, _, err := Refine(cal, cp, pairs, params.AdjustFlags{Position: true})
	return refined, err
}

// Refine runs a bundle-style adjustment of the flagged calibration
// parameters against many point pairs, minimizing the reprojection
// residual. It returns the refined calibration and the mean residual in
// pixels. An empty flag set is legal and just measures the residual.
func Refine(cal ptv.Calibration, cp params.CameraParams, pairs []PointPair, flags params.AdjustFlags) (ptv.Calibration, float64, error) {
	idx := adjustIndices(flags)
	if len(idx) == 0 {
		return cal, meanResidualPx(&cal, cp, pairs), nil
	}
	if 2*len(pairs) < len(idx) {
		return cal, 0, fmt.Errorf("%w: %d observations for %d parameters",
			ErrOrientation, 2*len(pairs), len(idx))
	}

	fields := cal.Fields()
	init := make([]float64, len(idx))
	for i, fi := range idx {
		init[i] = fields[fi]
	}

	residuals := func(dst, x []float64) {
		c := applyParams(cal, idx, x)
		cam := NewCamera(c, cp)
		for i, p := range pairs {
			px, py := cam.Project(p.Obj)
			dst[2*i] = px - p.X
			dst[2*i+1] = py - p.Y
		}
	}

	jac := lm.NumJac{Func: residuals}
	prob := lm.LMProblem{
		Dim:        len(idx),
		Size:       2 * len(pairs),
		Func:       residuals,
		Jac:        jac.Jac,
		InitParams: init,
		Tau:        orientTau,
		Eps1:       orientEps,
		Eps2:       orientEps,
	}
	res, err := lm.LM(prob, &lm.Settings{Iterations: orientIterations, ObjectiveTol: 1e-16})
	if err != nil {
		return cal, 0, fmt.Errorf("%w: %v", ErrOrientation, err)
	}
	for _, v := range res.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return cal, 0, fmt.Errorf("%w: non-finite solution", ErrOrientation)
		}
	}

	refined := applyParams(cal, idx, res.X)
	return refined, meanResidualPx(&refined, cp, pairs), nil
}

// applyParams copies cal and overwrites the selected fields.
func applyParams(cal ptv.Calibration, idx []int, x []float64) ptv.Calibration {
	fields := cal.Fields()
	for i, fi := range idx {
		fields[fi] = x[i]
	}
	c := cal
	c.SetFields(fields)
	return c
}

// meanResidualPx measures the mean reprojection residual in pixels.
func meanResidualPx(cal *ptv.Calibration, cp params.CameraParams, pairs []PointPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	cam := NewCamera(*cal, cp)
	sum := 0.0
	for _, p := range pairs {
		px, py := cam.Project(p.Obj)
		sum += math.Hypot((px-p.X)/cp.PixX, (py-p.Y)/cp.PixY)
	}
	return sum / float64(len(pairs))
}

// DumbbellFrame is one frame of a dumbbell recording: the two tip
// observations per camera, in sensor-centered metric units. Tip order must
// be consistent across cameras within a frame.
type DumbbellFrame struct {
	Tips [2][]PointTip
}

// PointTip is one camera's observation of a dumbbell tip.
type PointTip struct {
	Cam  int
	X, Y float64
}

// DumbbellRefine jointly adjusts the flagged parameters of every camera
// against a dumbbell recording. Each frame contributes the reprojection
// residuals of the two triangulated tips plus a penalty on the tip
// separation deviating from the known dumbbell length.
func DumbbellRefine(cals []ptv.Calibration, cps []params.CameraParams, frames []DumbbellFrame,
	flags params.AdjustFlags, db params.DumbbellParams) ([]ptv.Calibration, float64, error) {

	idx := adjustIndices(flags)
	if len(idx) == 0 {
		return cals, 0, fmt.Errorf("%w: no parameters selected", ErrOrientation)
	}
	if len(frames) == 0 {
		return cals, 0, fmt.Errorf("%w: no usable dumbbell frames", ErrOrientation)
	}

	dim := len(idx) * len(cals)
	init := make([]float64, 0, dim)
	for _, cal := range cals {
		fields := cal.Fields()
		for _, fi := range idx {
			init = append(init, fields[fi])
		}
	}

	// Residual layout per frame: two metric reprojection residuals per tip
	// observation, then one length-penalty entry.
	size := 0
	for _, f := range frames {
		size += 2 * (len(f.Tips[0]) + len(f.Tips[1]))
	}
	size += len(frames)

	penalty := math.Sqrt(math.Max(db.PenaltyWeight, 0))
	residuals := func(dst, x []float64) {
		cams := make([]*Camera, len(cals))
		for ci := range cals {
			c := applyParams(cals[ci], idx, x[ci*len(idx):(ci+1)*len(idx)])
			cams[ci] = NewCamera(c, cps[ci])
		}
		k := 0
		for _, f := range frames {
			var tipPos [2]ptv.Vec3
			for tip := 0; tip < 2; tip++ {
				obs := f.Tips[tip]
				tcams := make([]*Camera, len(obs))
				flat := make([][2]float64, len(obs))
				for i, o := range obs {
					tcams[i] = cams[o.Cam]
					fx, fy := cams[o.Cam].DistToFlat(o.X, o.Y)
					flat[i] = [2]float64{fx, fy}
				}
				pos, err := Triangulate(tcams, flat)
				if err != nil {
					// Push the solver away from degenerate geometry.
					for range obs {
						dst[k] = 1e3
						dst[k+1] = 1e3
						k += 2
					}
					continue
				}
				tipPos[tip] = pos
				for _, o := range obs {
					px, py := cams[o.Cam].Project(pos)
					dst[k] = px - o.X
					dst[k+1] = py - o.Y
					k += 2
				}
			}
			d := tipPos[0]
			e := tipPos[1]
			length := math.Sqrt((d.X-e.X)*(d.X-e.X) + (d.Y-e.Y)*(d.Y-e.Y) + (d.Z-e.Z)*(d.Z-e.Z))
			dst[k] = penalty * (length - db.Scale)
			k++
		}
	}

	iters := db.NIter
	if iters <= 0 {
		iters = orientIterations
	}
	tau := db.GradientDescent
	if tau <= 0 {
		tau = orientTau
	}
	jac := lm.NumJac{Func: residuals}
	prob := lm.LMProblem{
		Dim:        dim,
		Size:       size,
		Func:       residuals,
		Jac:        jac.Jac,
		InitParams: init,
		Tau:        tau,
		Eps1:       orientEps,
		Eps2:       orientEps,
	}
	res, err := lm.LM(prob, &lm.Settings{Iterations: iters, ObjectiveTol: 1e-16})
	if err != nil {
		return cals, 0, fmt.Errorf("%w: %v", ErrOrientation, err)
	}

	out := make([]ptv.Calibration, len(cals))
	for ci := range cals {
		out[ci] = applyParams(cals[ci], idx, res.X[ci*len(idx):(ci+1)*len(idx)])
	}

	meter := residualMeter{cals: out, cps: cps, frames: frames}
	return out, meter.meanPx(), nil
}

// residualMeter measures dumbbell reprojection residuals at a solution.
type residualMeter struct {
	cals   []ptv.Calibration
	cps    []params.CameraParams
	frames []DumbbellFrame
}

func (r residualMeter) meanPx() float64 {
	cams := make([]*Camera, len(r.cals))
	for i := range r.cals {
		cams[i] = NewCamera(r.cals[i], r.cps[i])
	}
	sum, n := 0.0, 0
	for _, f := range r.frames {
		for tip := 0; tip < 2; tip++ {
			obs := f.Tips[tip]
			if len(obs) < 2 {
				continue
			}
			tcams := make([]*Camera, len(obs))
			flat := make([][2]float64, len(obs))
			for i, o := range obs {
				tcams[i] = cams[o.Cam]
				fx, fy := cams[o.Cam].DistToFlat(o.X, o.Y)
				flat[i] = [2]float64{fx, fy}
			}
			pos, err := Triangulate(tcams, flat)
			if err != nil {
				continue
			}
			for _, o := range obs {
				px, py := cams[o.Cam].Project(pos)
				cp := r.cps[o.Cam]
				sum += math.Hypot((px-o.X)/cp.PixX, (py-o.Y)/cp.PixY)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
