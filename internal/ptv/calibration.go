package ptv

import "math"

// Exterior is a camera's pose: position in world units and the three
// rotation angles (omega, phi, kappa) in radians.
type Exterior struct {
	X, Y, Z           float64
	Omega, Phi, Kappa float64
}

// Interior holds the principal point offset (XH, YH) and the principal
// distance CC, all in metric image units.
type Interior struct {
	XH, YH float64
	CC     float64
}

// Radial holds the three radial distortion coefficients.
type Radial struct {
	K1, K2, K3 float64
}

// Decentering holds the two decentering distortion coefficients.
type Decentering struct {
	P1, P2 float64
}

// Affine holds the sensor affine correction: scale applied to the x axis
// and shear between the axes.
type Affine struct {
	Scale, Shear float64
}

// Calibration is the full per-camera parameter bundle. It is a value
// object: sessions copy it rather than share it.
type Calibration struct {
	Ext Exterior
	Int Interior
	Rad Radial
	Dec Decentering
	Aff Affine
}

// NewCalibration returns a neutral calibration: identity pose at the
// origin, unit affine scale and no distortion. The principal distance
// starts at zero and must come from an .ori file or an orientation run
// before the calibration can project anything.
func NewCalibration() *Calibration {
	return &Calibration{Aff: Affine{Scale: 1}}
}

// Fields returns every numeric field in a fixed order. Used by validity
// checking and by the refinement parameter packing.
func (c *Calibration) Fields() []float64 {
	return []float64{
		c.Ext.X, c.Ext.Y, c.Ext.Z,
		c.Ext.Omega, c.Ext.Phi, c.Ext.Kappa,
		c.Int.XH, c.Int.YH, c.Int.CC,
		c.Rad.K1, c.Rad.K2, c.Rad.K3,
		c.Dec.P1, c.Dec.P2,
		c.Aff.Scale, c.Aff.Shear,
	}
}

// SetFields is the inverse of Fields: it overwrites every numeric field
// from a slice in the same fixed order.
func (c *Calibration) SetFields(vals []float64) {
	c.Ext.X, c.Ext.Y, c.Ext.Z = vals[0], vals[1], vals[2]
	c.Ext.Omega, c.Ext.Phi, c.Ext.Kappa = vals[3], vals[4], vals[5]
	c.Int.XH, c.Int.YH, c.Int.CC = vals[6], vals[7], vals[8]
	c.Rad.K1, c.Rad.K2, c.Rad.K3 = vals[9], vals[10], vals[11]
	c.Dec.P1, c.Dec.P2 = vals[12], vals[13]
	c.Aff.Scale, c.Aff.Shear = vals[14], vals[15]
}

// Valid reports whether every field is finite. A calibration holding NaN
// or Inf anywhere must never be written to disk.
func (c *Calibration) Valid() bool {
	for _, v := range c.Fields() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
