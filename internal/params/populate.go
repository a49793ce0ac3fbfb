package params

import (
	"fmt"
	"math"
)

// fieldReader reads typed values out of one section, recording the first
// failure. Translators chain reads and check err once at the end, so a
// record is either fully populated or rejected with the field that broke
// it.
type fieldReader struct {
	section string
	sec     Section
	err     error
}

func newFieldReader(doc *ConfigDocument, section string) (*fieldReader, error) {
	sec, ok := doc.Section(section)
	if !ok {
		return nil, fmt.Errorf("%w: section %q", ErrMissingField, section)
	}
	return &fieldReader{section: section, sec: sec}, nil
}

func (r *fieldReader) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *fieldReader) missing(key string) {
	r.setErr(fmt.Errorf("%w: %s.%s", ErrMissingField, r.section, key))
}

func (r *fieldReader) badType(key string, v any, want string) {
	r.setErr(fmt.Errorf("%s.%s: cannot read %T as %s", r.section, key, v, want))
}

// Float reads a required number.
func (r *fieldReader) Float(key string) float64 {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return 0
	}
	f, ok := asFloat(v)
	if !ok {
		r.badType(key, v, "number")
		return 0
	}
	return f
}

// Int reads a required integer. JSON numbers arrive as float64; a
// fractional value is a type error, not a truncation.
func (r *fieldReader) Int(key string) int {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return 0
	}
	n, ok := asInt(v)
	if !ok {
		r.badType(key, v, "integer")
		return 0
	}
	return n
}

// Bool reads a required flag. Legacy documents carry flags as 0/1
// numbers; JSON documents may use real booleans. Both are accepted.
func (r *fieldReader) Bool(key string) bool {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return false
	}
	b, ok := asBool(v)
	if !ok {
		r.badType(key, v, "flag")
		return false
	}
	return b
}

// String reads a required string.
func (r *fieldReader) String(key string) string {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.badType(key, v, "string")
		return ""
	}
	return s
}

// Strings reads a required string array.
func (r *fieldReader) Strings(key string) []string {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		r.badType(key, v, "string array")
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			r.badType(fmt.Sprintf("%s[%d]", key, i), item, "string")
			return nil
		}
		out[i] = s
	}
	return out
}

// Floats reads a required number array.
func (r *fieldReader) Floats(key string) []float64 {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		r.badType(key, v, "number array")
		return nil
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := asFloat(item)
		if !ok {
			r.badType(fmt.Sprintf("%s[%d]", key, i), item, "number")
			return nil
		}
		out[i] = f
	}
	return out
}

// Ints reads a required integer array.
func (r *fieldReader) Ints(key string) []int {
	v, ok := r.sec[key]
	if !ok {
		r.missing(key)
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		r.badType(key, v, "integer array")
		return nil
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, ok := asInt(item)
		if !ok {
			r.badType(fmt.Sprintf("%s[%d]", key, i), item, "integer")
			return nil
		}
		out[i] = n
	}
	return out
}

// OptionalBool reads a flag that may be absent.
func (r *fieldReader) OptionalBool(key string, def bool) bool {
	if _, ok := r.sec[key]; !ok {
		return def
	}
	return r.Bool(key)
}

// OptionalInt reads an integer that may be absent.
func (r *fieldReader) OptionalInt(key string, def int) int {
	if _, ok := r.sec[key]; !ok {
		return def
	}
	return r.Int(key)
}

// OptionalStrings reads a string array that may be absent.
func (r *fieldReader) OptionalStrings(key string) []string {
	if _, ok := r.sec[key]; !ok {
		return nil
	}
	return r.Strings(key)
}

// cameraStrings reads a per-camera string array and enforces the global
// cardinality invariant: fewer entries than cameras is a hard failure.
// Longer arrays are truncated to the camera count unless exact is set.
func (r *fieldReader) cameraStrings(key string, numCams int, exact bool) []string {
	vals := r.Strings(key)
	if r.err != nil {
		return nil
	}
	if len(vals) < numCams || (exact && len(vals) != numCams) {
		r.setErr(fmt.Errorf("%w: %s.%s has %d entries for %d cameras",
			ErrCardinalityMismatch, r.section, key, len(vals), numCams))
		return nil
	}
	return vals[:numCams:numCams]
}

// cameraInts is cameraStrings for integer arrays, truncating rule.
func (r *fieldReader) cameraInts(key string, numCams int) []int {
	vals := r.Ints(key)
	if r.err != nil {
		return nil
	}
	if len(vals) < numCams {
		r.setErr(fmt.Errorf("%w: %s.%s has %d entries for %d cameras",
			ErrCardinalityMismatch, r.section, key, len(vals), numCams))
		return nil
	}
	return vals[:numCams:numCams]
}

// pair reads an exactly-two-element number array.
func (r *fieldReader) pair(key string) [2]float64 {
	vals := r.Floats(key)
	if r.err != nil {
		return [2]float64{}
	}
	if len(vals) != 2 {
		r.setErr(fmt.Errorf("%w: %s.%s has %d entries, want 2",
			ErrCardinalityMismatch, r.section, key, len(vals)))
		return [2]float64{}
	}
	return [2]float64{vals[0], vals[1]}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	}
	return false, false
}

// PopulateCameraParams translates the ptv section. Every listed field is
// required; img_cal must name exactly one calibration image per camera.
func PopulateCameraParams(doc *ConfigDocument) (CameraParams, error) {
	r, err := newFieldReader(doc, "ptv")
	if err != nil {
		return CameraParams{}, err
	}
	n := doc.NumCams
	p := CameraParams{
		NumCams:  n,
		ImgCal:   r.cameraStrings("img_cal", n, true),
		HighPass: r.Bool("hp_flag"),
		AllCam:   r.Bool("allcam_flag"),
		TIFF:     r.Bool("tiff_flag"),
		Invert:   r.OptionalBool("inverse", false),
		ImX:      r.Int("imx"),
		ImY:      r.Int("imy"),
		PixX:     r.Float("pix_x"),
		PixY:     r.Float("pix_y"),
		ChField:  r.Int("chfield"),
		Media: Media{
			N1: r.Float("mmp_n1"),
			N2: r.Float("mmp_n2"),
			N3: r.Float("mmp_n3"),
			D:  r.Float("mmp_d"),
		},
	}
	if _, ok := r.sec["img_name"]; ok {
		p.ImgName = r.cameraStrings("img_name", n, false)
	}
	if r.err != nil {
		return CameraParams{}, r.err
	}
	return p, nil
}

// PopulateTargetParams translates detection bounds for sequence runs,
// preferring the targ_rec schema and falling back to detect_plate.
func PopulateTargetParams(doc *ConfigDocument) (TargetParams, error) {
	return populateTargets(doc, "targ_rec", "detect_plate")
}

// PopulateCalibTargetParams translates detection bounds for calibration
// plate detection, preferring the detect_plate schema. Equivalent
// documents produce identical records through either entry point.
func PopulateCalibTargetParams(doc *ConfigDocument) (TargetParams, error) {
	return populateTargets(doc, "detect_plate", "targ_rec")
}

func populateTargets(doc *ConfigDocument, order ...string) (TargetParams, error) {
	for _, name := range order {
		if _, ok := doc.Section(name); !ok {
			continue
		}
		if name == "targ_rec" {
			return populateTargRec(doc)
		}
		return populateDetectPlate(doc)
	}
	return TargetParams{}, fmt.Errorf("%w: need a targ_rec or detect_plate section", ErrSchemaNotFound)
}

func populateTargRec(doc *ConfigDocument) (TargetParams, error) {
	r, err := newFieldReader(doc, "targ_rec")
	if err != nil {
		return TargetParams{}, err
	}
	p := TargetParams{
		GreyThresh: r.cameraInts("gvthres", doc.NumCams),
		Discont:    r.Int("disco"),
		MinNPix:    r.Int("nnmin"),
		MaxNPix:    r.Int("nnmax"),
		MinNPixX:   r.Int("nxmin"),
		MaxNPixX:   r.Int("nxmax"),
		MinNPixY:   r.Int("nymin"),
		MaxNPixY:   r.Int("nymax"),
		SumGreyMin: r.Int("sumg_min"),
		CrossSize:  r.OptionalInt("cr_sz", 0),
	}
	if r.err != nil {
		return TargetParams{}, r.err
	}
	return p, nil
}

func populateDetectPlate(doc *ConfigDocument) (TargetParams, error) {
	r, err := newFieldReader(doc, "detect_plate")
	if err != nil {
		return TargetParams{}, err
	}
	thresh := make([]int, doc.NumCams)
	for i := range thresh {
		thresh[i] = r.Int(fmt.Sprintf("gvth_%d", i+1))
	}
	p := TargetParams{
		GreyThresh: thresh,
		Discont:    r.Int("tol_dis"),
		MinNPix:    r.Int("min_npix"),
		MaxNPix:    r.Int("max_npix"),
		MinNPixX:   r.Int("min_npix_x"),
		MaxNPixX:   r.Int("max_npix_x"),
		MinNPixY:   r.Int("min_npix_y"),
		MaxNPixY:   r.Int("max_npix_y"),
		SumGreyMin: r.Int("sum_grey"),
		CrossSize:  r.OptionalInt("size_cross", 0),
	}
	if r.err != nil {
		return TargetParams{}, r.err
	}
	return p, nil
}

// PopulateSequenceParams translates the sequence section.
func PopulateSequenceParams(doc *ConfigDocument) (SequenceParams, error) {
	r, err := newFieldReader(doc, "sequence")
	if err != nil {
		return SequenceParams{}, err
	}
	p := SequenceParams{
		BaseNames: r.cameraStrings("base_name", doc.NumCams, false),
		First:     r.Int("first"),
		Last:      r.Int("last"),
	}
	if r.err != nil {
		return SequenceParams{}, r.err
	}
	return p, nil
}

// PopulateVolumeParams translates the criteria section bounding the
// correspondence search.
func PopulateVolumeParams(doc *ConfigDocument) (VolumeParams, error) {
	r, err := newFieldReader(doc, "criteria")
	if err != nil {
		return VolumeParams{}, err
	}
	p := VolumeParams{
		XLay:    r.pair("X_lay"),
		ZMin:    r.pair("Zmin_lay"),
		ZMax:    r.pair("Zmax_lay"),
		CNX:     r.Float("cnx"),
		CNY:     r.Float("cny"),
		CN:      r.Float("cn"),
		CSumG:   r.Float("csumg"),
		CorrMin: r.Float("corrmin"),
		Eps0:    r.Float("eps0"),
	}
	if r.err != nil {
		return VolumeParams{}, r.err
	}
	return p, nil
}

// PopulateTrackingParams translates the track section. A missing
// velocity bound is a hard failure: a silently-zeroed bound accepts no
// links at all while looking like a working configuration.
func PopulateTrackingParams(doc *ConfigDocument) (TrackingParams, error) {
	r, err := newFieldReader(doc, "track")
	if err != nil {
		return TrackingParams{}, err
	}
	p := TrackingParams{
		DVxMin:       r.Float("dvxmin"),
		DVxMax:       r.Float("dvxmax"),
		DVyMin:       r.Float("dvymin"),
		DVyMax:       r.Float("dvymax"),
		DVzMin:       r.Float("dvzmin"),
		DVzMax:       r.Float("dvzmax"),
		DAngle:       r.Float("dangle"),
		DAcc:         r.Float("dacc"),
		AddParticles: r.Bool("flagNewParticles"),
	}
	if r.err != nil {
		return TrackingParams{}, r.err
	}
	return p, nil
}

// PopulateOrientParams translates the orient section. The pos flag is
// optional and defaults to adjusting the exterior, which is what every
// legacy document implied.
func PopulateOrientParams(doc *ConfigDocument) (OrientParams, error) {
	r, err := newFieldReader(doc, "orient")
	if err != nil {
		return OrientParams{}, err
	}
	p := OrientParams{
		PointNumbers: r.Bool("pnfo"),
		Adjust: AdjustFlags{
			Position: r.OptionalBool("pos", true),
			CC:       r.Bool("cc"),
			XH:       r.Bool("xh"),
			YH:       r.Bool("yh"),
			K1:       r.Bool("k1"),
			K2:       r.Bool("k2"),
			K3:       r.Bool("k3"),
			P1:       r.Bool("p1"),
			P2:       r.Bool("p2"),
			Scale:    r.Bool("scale"),
			Shear:    r.Bool("shear"),
		},
		Interfaces: r.OptionalBool("interf", false),
	}
	if r.err != nil {
		return OrientParams{}, r.err
	}
	return p, nil
}

// PopulateExamineParams translates the examine section.
func PopulateExamineParams(doc *ConfigDocument) (ExamineParams, error) {
	r, err := newFieldReader(doc, "examine")
	if err != nil {
		return ExamineParams{}, err
	}
	p := ExamineParams{
		Examine: r.Bool("examine_flag"),
		Combine: r.Bool("combine_flag"),
	}
	if r.err != nil {
		return ExamineParams{}, r.err
	}
	return p, nil
}

// PopulateMultiPlaneParams translates the multi_planes section.
func PopulateMultiPlaneParams(doc *ConfigDocument) (MultiPlaneParams, error) {
	r, err := newFieldReader(doc, "multi_planes")
	if err != nil {
		return MultiPlaneParams{}, err
	}
	n := r.Int("n_planes")
	names := r.Strings("plane_name")
	if r.err != nil {
		return MultiPlaneParams{}, r.err
	}
	if len(names) < n {
		return MultiPlaneParams{}, fmt.Errorf("%w: multi_planes.plane_name has %d entries for %d planes",
			ErrCardinalityMismatch, len(names), n)
	}
	return MultiPlaneParams{PlaneNames: names[:n:n]}, nil
}

// PopulateManOriParams translates the man_ori section: four clicked
// control-point numbers per camera, camera-major.
func PopulateManOriParams(doc *ConfigDocument) (ManOriParams, error) {
	r, err := newFieldReader(doc, "man_ori")
	if err != nil {
		return ManOriParams{}, err
	}
	nr := r.Ints("nr")
	if r.err != nil {
		return ManOriParams{}, r.err
	}
	want := 4 * doc.NumCams
	if len(nr) < want {
		return ManOriParams{}, fmt.Errorf("%w: man_ori.nr has %d entries for %d cameras",
			ErrCardinalityMismatch, len(nr), doc.NumCams)
	}
	p := ManOriParams{Points: make([][4]int, doc.NumCams)}
	for cam := 0; cam < doc.NumCams; cam++ {
		copy(p.Points[cam][:], nr[cam*4:cam*4+4])
	}
	return p, nil
}

// PopulateDumbbellParams translates the dumbbell section.
func PopulateDumbbellParams(doc *ConfigDocument) (DumbbellParams, error) {
	r, err := newFieldReader(doc, "dumbbell")
	if err != nil {
		return DumbbellParams{}, err
	}
	p := DumbbellParams{
		Eps:             r.Float("dumbbell_eps"),
		Scale:           r.Float("dumbbell_scale"),
		GradientDescent: r.Float("dumbbell_gradient_descent"),
		PenaltyWeight:   r.Float("dumbbell_penalty_weight"),
		Step:            r.Int("dumbbell_step"),
		NIter:           r.Int("dumbbell_niter"),
	}
	if r.err != nil {
		return DumbbellParams{}, r.err
	}
	return p, nil
}

// PopulateMaskingParams translates the masking section. A document
// without one simply has masking disabled.
func PopulateMaskingParams(doc *ConfigDocument) (MaskingParams, error) {
	r, err := newFieldReader(doc, "masking")
	if err != nil {
		return MaskingParams{}, nil
	}
	p := MaskingParams{Enabled: r.Bool("mask_flag")}
	if p.Enabled {
		p.BaseNames = r.cameraStrings("mask_base_name", doc.NumCams, false)
	} else {
		p.BaseNames = r.OptionalStrings("mask_base_name")
	}
	if r.err != nil {
		return MaskingParams{}, r.err
	}
	return p, nil
}

// PopulatePluginParams translates the plugins section. A document
// without one selects the built-in strategies.
func PopulatePluginParams(doc *ConfigDocument) (PluginParams, error) {
	r, err := newFieldReader(doc, "plugins")
	if err != nil {
		return PluginParams{
			AvailableSequence: []string{"default"},
			AvailableTracking: []string{"default"},
			SelectedSequence:  "default",
			SelectedTracking:  "default",
		}, nil
	}
	p := PluginParams{
		AvailableSequence: r.Strings("available_sequence"),
		AvailableTracking: r.Strings("available_tracking"),
		SelectedSequence:  r.String("selected_sequence"),
		SelectedTracking:  r.String("selected_tracking"),
	}
	if r.err != nil {
		return PluginParams{}, r.err
	}
	return p, nil
}

// PopulateCalOriParams translates the cal_ori section naming the
// calibration inputs.
func PopulateCalOriParams(doc *ConfigDocument) (CalOriParams, error) {
	r, err := newFieldReader(doc, "cal_ori")
	if err != nil {
		return CalOriParams{}, err
	}
	n := doc.NumCams
	p := CalOriParams{
		FixpName: r.String("fixp_name"),
		ImgName:  r.cameraStrings("img_cal_name", n, false),
		OriName:  r.cameraStrings("img_ori", n, false),
		TIFF:     r.Bool("tiff_flag"),
		Pair:     r.OptionalBool("pair_flag", false),
		ChField:  r.Int("chfield"),
	}
	if r.err != nil {
		return CalOriParams{}, r.err
	}
	return p, nil
}
