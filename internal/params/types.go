package params

// Typed parameter records produced by the translators in populate.go.
// All of them are value objects: a translator builds a fresh record per
// call and nothing mutates one afterwards. There is no partial-update
// API; re-translate the document instead.

// Media holds the refractive model along the optical path: the indices
// of the three media (air, glass, water) and the glass thickness.
type Media struct {
	N1, N2, N3 float64
	D          float64
}

// CameraParams is the per-run camera bundle from the ptv section.
type CameraParams struct {
	NumCams int

	// ImgName holds the per-camera default image bases. The field is
	// recognized but optional; sequence runs take their bases from
	// SequenceParams.
	ImgName []string
	// ImgCal holds the per-camera calibration image paths. Exactly
	// NumCams entries.
	ImgCal []string

	HighPass bool // apply highpass filtering before detection
	AllCam   bool // require all cameras to contribute to a point
	TIFF     bool // image files carry TIFF headers
	Invert   bool // invert grey values before detection

	ImX, ImY   int     // sensor size, pixels
	PixX, PixY float64 // pixel pitch, length units

	// ChField selects frame/field processing: 0 whole frame, 1 odd
	// field, 2 even field. Field splitting is a legacy interlaced-video
	// concern; only 0 is accepted by detection.
	ChField int

	Media Media
}

// TargetParams bounds the blob detector. Both legacy schemas (targ_rec
// and detect_plate) translate onto this one record.
type TargetParams struct {
	// GreyThresh is the per-camera detection threshold. Exactly NumCams
	// entries.
	GreyThresh []int

	Discont int // max grey-value discontinuity within a blob

	MinNPix, MaxNPix   int // total pixel count bounds
	MinNPixX, MaxNPixX int // horizontal extent bounds
	MinNPixY, MaxNPixY int // vertical extent bounds

	SumGreyMin int // minimum summed grey value

	// CrossSize is the marker size used by point-display front ends.
	// Carried for round-trip fidelity; detection ignores it.
	CrossSize int
}

// SequenceParams names the frame range and per-camera image bases of a
// sequence run.
type SequenceParams struct {
	BaseNames   []string
	First, Last int
}

// VolumeParams bounds the correspondence search: the illuminated volume
// and the tolerances for matching candidate pairs.
type VolumeParams struct {
	// XLay, ZMin, ZMax describe the illuminated slab: x bounds and the
	// z range at each x bound.
	XLay [2]float64
	ZMin [2]float64
	ZMax [2]float64

	CNX, CNY float64 // pixel-extent similarity tolerances
	CN       float64 // pixel-count similarity tolerance
	CSumG    float64 // summed-grey similarity tolerance
	CorrMin  float64 // minimum acceptable candidate correlation
	Eps0     float64 // epipolar / ray-distance band, image units
}

// TrackingParams bounds the frame-to-frame linker.
type TrackingParams struct {
	DVxMin, DVxMax float64
	DVyMin, DVyMax float64
	DVzMin, DVzMax float64

	DAngle float64 // max direction change, degrees
	DAcc   float64 // max acceleration, length units per frame squared

	// AddParticles starts a new trajectory for every point the linker
	// could not attach to an existing one.
	AddParticles bool
}

// AdjustFlags selects which calibration parameters a refinement run may
// move. Any subset is legal, including none.
type AdjustFlags struct {
	Position     bool // exterior position and angles
	CC, XH, YH   bool
	K1, K2, K3   bool
	P1, P2       bool
	Scale, Shear bool
}

// Count returns the number of enabled flags.
func (f AdjustFlags) Count() int {
	n := 0
	for _, b := range []bool{
		f.Position, f.CC, f.XH, f.YH,
		f.K1, f.K2, f.K3, f.P1, f.P2, f.Scale, f.Shear,
	} {
		if b {
			n++
		}
	}
	return n
}

// OrientParams configures orientation and refinement runs.
type OrientParams struct {
	// PointNumbers writes per-point residual listings during refinement.
	PointNumbers bool

	Adjust AdjustFlags

	// Interfaces enables the refractive-interface correction during
	// orientation. Carried for round-trip fidelity.
	Interfaces bool
}

// ExamineParams holds the calibration examine/combine switches.
type ExamineParams struct {
	Examine bool // dump intermediate orientation data
	Combine bool // multi-plane combined refinement
}

// MultiPlaneParams names the independently captured calibration planes
// combined by a multi-plane refinement.
type MultiPlaneParams struct {
	// PlaneNames holds one file base per plane; <base>.fix is the known
	// point set, <base>.crd the detected one.
	PlaneNames []string
}

// NumPlanes returns the plane count.
func (m MultiPlaneParams) NumPlanes() int { return len(m.PlaneNames) }

// ManOriParams carries the operator-selected seed points: for every
// camera, the point numbers of the four clicked reference points.
type ManOriParams struct {
	// Points[cam] lists the four control-point ids for that camera.
	Points [][4]int
}

// DumbbellParams configures the distance-constrained dumbbell refinement.
type DumbbellParams struct {
	Eps             float64 // target acceptance tolerance, image units
	Scale           float64 // dumbbell length, length units
	GradientDescent float64 // descent step scale
	PenaltyWeight   float64 // weight of the length-violation penalty
	Step            int     // frame step between processed frames
	NIter           int     // outer iterations
}

// MaskingParams configures subtractive per-camera detection masks.
type MaskingParams struct {
	Enabled bool
	// BaseNames holds one mask image base per camera; empty when
	// masking is disabled.
	BaseNames []string
}

// PluginParams names the available and selected sequence/tracking
// strategies. Selection is resolved once per run by the pipeline.
type PluginParams struct {
	AvailableSequence []string
	AvailableTracking []string
	SelectedSequence  string
	SelectedTracking  string
}

// CalOriParams names the calibration inputs: the known control-point
// file and the per-camera calibration image and orientation file paths.
type CalOriParams struct {
	// FixpName is the known 3D control-point file for the plate.
	FixpName string
	// ImgName holds the per-camera calibration images.
	ImgName []string
	// OriName holds the per-camera .ori paths; the .addpar path is
	// derived by swapping the extension.
	OriName []string

	TIFF    bool
	Pair    bool // plate captured as image pairs
	ChField int
}
