package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Legacy parameter directory support: one text file per section, one
// value per line, fixed order. The layouts below are a compatibility
// contract with the predecessor system; conversion is lossless in both
// directions for every recognized field. Flags canonicalize to 0/1
// numbers on the way through.

// legacyFiles maps section names to their legacy file names, in read
// order. ptv.par is handled separately because it carries the camera
// count every other per-camera file depends on.
var legacyFiles = []struct {
	section string
	file    string
}{
	{"cal_ori", "cal_ori.par"},
	{"sequence", "sequence.par"},
	{"criteria", "criteria.par"},
	{"targ_rec", "targ_rec.par"},
	{"detect_plate", "detect_plate.par"},
	{"track", "track.par"},
	{"orient", "orient.par"},
	{"examine", "examine.par"},
	{"dumbbell", "dumbbell.par"},
	{"multi_planes", "multi_planes.par"},
	{"man_ori", "man_ori.par"},
	{"masking", "masking.par"},
	{"plugins", "plugins.par"},
}

// ReadLegacyDir loads a legacy parameter directory into a document.
// ptv.par must exist; every other recognized file is optional and
// becomes a section when present.
func ReadLegacyDir(dir string) (*ConfigDocument, error) {
	sc, err := scanLegacyFile(filepath.Join(dir, "ptv.par"))
	if err != nil {
		return nil, err
	}
	numCams := sc.nextInt()
	ptvSec := readLegacyPTV(sc, numCams)
	if sc.err != nil {
		return nil, sc.err
	}
	if numCams < 1 || numCams > ptv.MaxCameras {
		return nil, fmt.Errorf("%w: %s: camera count %d out of range",
			ptv.ErrMalformedFile, sc.file, numCams)
	}

	doc := NewConfigDocument(numCams)
	doc.SetSection("ptv", ptvSec)
	for _, lf := range legacyFiles {
		path := filepath.Join(dir, lf.file)
		sc, err := scanLegacyFile(path)
		if err != nil {
			if errors.Is(err, ptv.ErrFileNotFound) {
				continue
			}
			return nil, err
		}
		sec := readLegacySection(lf.section, sc, numCams)
		if sc.err != nil {
			return nil, sc.err
		}
		doc.SetSection(lf.section, sec)
	}
	return doc, nil
}

// WriteLegacyDir writes every recognized section of the document to its
// legacy file. Sections absent from the document are skipped; a ptv
// section is mandatory because its first line carries the camera count.
func WriteLegacyDir(dir string, doc *ConfigDocument) error {
	ptvSec, ok := doc.Section("ptv")
	if !ok {
		return fmt.Errorf("%w: section %q", ErrMissingField, "ptv")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	w := &lineWriter{}
	w.putInt(doc.NumCams)
	writeLegacyPTV(&fieldReader{section: "ptv", sec: ptvSec}, w, doc.NumCams)
	if err := w.flush(filepath.Join(dir, "ptv.par")); err != nil {
		return err
	}

	for _, lf := range legacyFiles {
		sec, ok := doc.Section(lf.section)
		if !ok {
			continue
		}
		w := &lineWriter{}
		r := &fieldReader{section: lf.section, sec: sec}
		writeLegacySection(lf.section, r, w, doc.NumCams)
		if r.err != nil {
			return r.err
		}
		if err := w.flush(filepath.Join(dir, lf.file)); err != nil {
			return err
		}
	}
	return nil
}

func readLegacySection(name string, sc *lineScanner, numCams int) Section {
	switch name {
	case "cal_ori":
		return readLegacyCalOri(sc, numCams)
	case "sequence":
		return readLegacySequence(sc, numCams)
	case "criteria":
		return readLegacyCriteria(sc)
	case "targ_rec":
		return readLegacyTargRec(sc)
	case "detect_plate":
		return readLegacyDetectPlate(sc)
	case "track":
		return readLegacyTrack(sc)
	case "orient":
		return readLegacyOrient(sc)
	case "examine":
		return readLegacyExamine(sc)
	case "dumbbell":
		return readLegacyDumbbell(sc)
	case "multi_planes":
		return readLegacyMultiPlanes(sc)
	case "man_ori":
		return readLegacyManOri(sc, numCams)
	case "masking":
		return readLegacyMasking(sc, numCams)
	case "plugins":
		return readLegacyPlugins(sc)
	}
	sc.err = fmt.Errorf("no legacy codec for section %q", name)
	return nil
}

func writeLegacySection(name string, r *fieldReader, w *lineWriter, numCams int) {
	switch name {
	case "cal_ori":
		writeLegacyCalOri(r, w, numCams)
	case "sequence":
		writeLegacySequence(r, w, numCams)
	case "criteria":
		writeLegacyCriteria(r, w)
	case "targ_rec":
		writeLegacyTargRec(r, w)
	case "detect_plate":
		writeLegacyDetectPlate(r, w)
	case "track":
		writeLegacyTrack(r, w)
	case "orient":
		writeLegacyOrient(r, w)
	case "examine":
		writeLegacyExamine(r, w)
	case "dumbbell":
		writeLegacyDumbbell(r, w)
	case "multi_planes":
		writeLegacyMultiPlanes(r, w)
	case "man_ori":
		writeLegacyManOri(r, w, numCams)
	case "masking":
		writeLegacyMasking(r, w, numCams)
	case "plugins":
		writeLegacyPlugins(r, w)
	default:
		r.setErr(fmt.Errorf("no legacy codec for section %q", name))
	}
}

// ptv.par: n_img; per camera img_name, img_cal; hp_flag, allcam_flag,
// tiff_flag, imx, imy, pix_x, pix_y, chfield, mmp_n1..n3, mmp_d.
// The leading n_img line is consumed by the caller.
func readLegacyPTV(sc *lineScanner, numCams int) Section {
	imgName := make([]any, 0, numCams)
	imgCal := make([]any, 0, numCams)
	for i := 0; i < numCams; i++ {
		imgName = append(imgName, sc.next())
		imgCal = append(imgCal, sc.next())
	}
	return Section{
		"img_name":    imgName,
		"img_cal":     imgCal,
		"hp_flag":     sc.nextNum(),
		"allcam_flag": sc.nextNum(),
		"tiff_flag":   sc.nextNum(),
		"imx":         sc.nextNum(),
		"imy":         sc.nextNum(),
		"pix_x":       sc.nextNum(),
		"pix_y":       sc.nextNum(),
		"chfield":     sc.nextNum(),
		"mmp_n1":      sc.nextNum(),
		"mmp_n2":      sc.nextNum(),
		"mmp_n3":      sc.nextNum(),
		"mmp_d":       sc.nextNum(),
	}
}

func writeLegacyPTV(r *fieldReader, w *lineWriter, numCams int) {
	names := r.OptionalStrings("img_name")
	cals := r.Strings("img_cal")
	for i := 0; i < numCams; i++ {
		w.put(stringAt(names, i))
		w.put(stringAt(cals, i))
	}
	w.putBool(r.Bool("hp_flag"))
	w.putBool(r.Bool("allcam_flag"))
	w.putBool(r.Bool("tiff_flag"))
	w.putInt(r.Int("imx"))
	w.putInt(r.Int("imy"))
	w.putFloat(r.Float("pix_x"))
	w.putFloat(r.Float("pix_y"))
	w.putInt(r.Int("chfield"))
	w.putFloat(r.Float("mmp_n1"))
	w.putFloat(r.Float("mmp_n2"))
	w.putFloat(r.Float("mmp_n3"))
	w.putFloat(r.Float("mmp_d"))
}

// cal_ori.par: fixp_name; per camera img_cal_name, img_ori; tiff_flag,
// pair_flag, chfield.
func readLegacyCalOri(sc *lineScanner, numCams int) Section {
	fixp := sc.next()
	imgs := make([]any, 0, numCams)
	oris := make([]any, 0, numCams)
	for i := 0; i < numCams; i++ {
		imgs = append(imgs, sc.next())
		oris = append(oris, sc.next())
	}
	return Section{
		"fixp_name":    fixp,
		"img_cal_name": imgs,
		"img_ori":      oris,
		"tiff_flag":    sc.nextNum(),
		"pair_flag":    sc.nextNum(),
		"chfield":      sc.nextNum(),
	}
}

func writeLegacyCalOri(r *fieldReader, w *lineWriter, numCams int) {
	w.put(r.String("fixp_name"))
	imgs := r.Strings("img_cal_name")
	oris := r.Strings("img_ori")
	for i := 0; i < numCams; i++ {
		w.put(stringAt(imgs, i))
		w.put(stringAt(oris, i))
	}
	w.putBool(r.Bool("tiff_flag"))
	w.putBool(r.OptionalBool("pair_flag", false))
	w.putInt(r.Int("chfield"))
}

// sequence.par: per camera base_name; first; last.
func readLegacySequence(sc *lineScanner, numCams int) Section {
	bases := make([]any, 0, numCams)
	for i := 0; i < numCams; i++ {
		bases = append(bases, sc.next())
	}
	return Section{
		"base_name": bases,
		"first":     sc.nextNum(),
		"last":      sc.nextNum(),
	}
}

func writeLegacySequence(r *fieldReader, w *lineWriter, numCams int) {
	bases := r.Strings("base_name")
	for i := 0; i < numCams; i++ {
		w.put(stringAt(bases, i))
	}
	w.putInt(r.Int("first"))
	w.putInt(r.Int("last"))
}

// criteria.par: X_lay[0], Zmin_lay[0], Zmax_lay[0], X_lay[1],
// Zmin_lay[1], Zmax_lay[1], cnx, cny, cn, csumg, corrmin, eps0.
func readLegacyCriteria(sc *lineScanner) Section {
	x0 := sc.nextNum()
	zmin0 := sc.nextNum()
	zmax0 := sc.nextNum()
	x1 := sc.nextNum()
	zmin1 := sc.nextNum()
	zmax1 := sc.nextNum()
	return Section{
		"X_lay":    []any{x0, x1},
		"Zmin_lay": []any{zmin0, zmin1},
		"Zmax_lay": []any{zmax0, zmax1},
		"cnx":      sc.nextNum(),
		"cny":      sc.nextNum(),
		"cn":       sc.nextNum(),
		"csumg":    sc.nextNum(),
		"corrmin":  sc.nextNum(),
		"eps0":     sc.nextNum(),
	}
}

func writeLegacyCriteria(r *fieldReader, w *lineWriter) {
	x := r.pair("X_lay")
	zmin := r.pair("Zmin_lay")
	zmax := r.pair("Zmax_lay")
	w.putFloat(x[0])
	w.putFloat(zmin[0])
	w.putFloat(zmax[0])
	w.putFloat(x[1])
	w.putFloat(zmin[1])
	w.putFloat(zmax[1])
	w.putFloat(r.Float("cnx"))
	w.putFloat(r.Float("cny"))
	w.putFloat(r.Float("cn"))
	w.putFloat(r.Float("csumg"))
	w.putFloat(r.Float("corrmin"))
	w.putFloat(r.Float("eps0"))
}

// targ_rec.par: gvthres x4, disco, nnmin, nnmax, nxmin, nxmax, nymin,
// nymax, sumg_min, cr_sz. The threshold block is four lines regardless
// of the camera count.
func readLegacyTargRec(sc *lineScanner) Section {
	thresh := make([]any, 0, ptv.MaxCameras)
	for i := 0; i < ptv.MaxCameras; i++ {
		thresh = append(thresh, sc.nextNum())
	}
	return Section{
		"gvthres":  thresh,
		"disco":    sc.nextNum(),
		"nnmin":    sc.nextNum(),
		"nnmax":    sc.nextNum(),
		"nxmin":    sc.nextNum(),
		"nxmax":    sc.nextNum(),
		"nymin":    sc.nextNum(),
		"nymax":    sc.nextNum(),
		"sumg_min": sc.nextNum(),
		"cr_sz":    sc.nextNum(),
	}
}

func writeLegacyTargRec(r *fieldReader, w *lineWriter) {
	thresh := r.Ints("gvthres")
	for i := 0; i < ptv.MaxCameras; i++ {
		w.putInt(intAt(thresh, i))
	}
	w.putInt(r.Int("disco"))
	w.putInt(r.Int("nnmin"))
	w.putInt(r.Int("nnmax"))
	w.putInt(r.Int("nxmin"))
	w.putInt(r.Int("nxmax"))
	w.putInt(r.Int("nymin"))
	w.putInt(r.Int("nymax"))
	w.putInt(r.Int("sumg_min"))
	w.putInt(r.OptionalInt("cr_sz", 0))
}

// detect_plate.par: gvth_1..4, tol_dis, min_npix, max_npix, min_npix_x,
// max_npix_x, min_npix_y, max_npix_y, sum_grey, size_cross.
func readLegacyDetectPlate(sc *lineScanner) Section {
	sec := Section{}
	for i := 1; i <= ptv.MaxCameras; i++ {
		sec[fmt.Sprintf("gvth_%d", i)] = sc.nextNum()
	}
	sec["tol_dis"] = sc.nextNum()
	sec["min_npix"] = sc.nextNum()
	sec["max_npix"] = sc.nextNum()
	sec["min_npix_x"] = sc.nextNum()
	sec["max_npix_x"] = sc.nextNum()
	sec["min_npix_y"] = sc.nextNum()
	sec["max_npix_y"] = sc.nextNum()
	sec["sum_grey"] = sc.nextNum()
	sec["size_cross"] = sc.nextNum()
	return sec
}

func writeLegacyDetectPlate(r *fieldReader, w *lineWriter) {
	for i := 1; i <= ptv.MaxCameras; i++ {
		w.putInt(r.OptionalInt(fmt.Sprintf("gvth_%d", i), 0))
	}
	w.putInt(r.Int("tol_dis"))
	w.putInt(r.Int("min_npix"))
	w.putInt(r.Int("max_npix"))
	w.putInt(r.Int("min_npix_x"))
	w.putInt(r.Int("max_npix_x"))
	w.putInt(r.Int("min_npix_y"))
	w.putInt(r.Int("max_npix_y"))
	w.putInt(r.Int("sum_grey"))
	w.putInt(r.OptionalInt("size_cross", 0))
}

// track.par: dvxmin, dvxmax, dvymin, dvymax, dvzmin, dvzmax, dangle,
// dacc, add.
func readLegacyTrack(sc *lineScanner) Section {
	return Section{
		"dvxmin":           sc.nextNum(),
		"dvxmax":           sc.nextNum(),
		"dvymin":           sc.nextNum(),
		"dvymax":           sc.nextNum(),
		"dvzmin":           sc.nextNum(),
		"dvzmax":           sc.nextNum(),
		"dangle":           sc.nextNum(),
		"dacc":             sc.nextNum(),
		"flagNewParticles": sc.nextNum(),
	}
}

func writeLegacyTrack(r *fieldReader, w *lineWriter) {
	w.putFloat(r.Float("dvxmin"))
	w.putFloat(r.Float("dvxmax"))
	w.putFloat(r.Float("dvymin"))
	w.putFloat(r.Float("dvymax"))
	w.putFloat(r.Float("dvzmin"))
	w.putFloat(r.Float("dvzmax"))
	w.putFloat(r.Float("dangle"))
	w.putFloat(r.Float("dacc"))
	w.putBool(r.Bool("flagNewParticles"))
}

// orient.par: pnfo, cc, xh, yh, k1, k2, k3, p1, p2, scale, shear,
// interf.
func readLegacyOrient(sc *lineScanner) Section {
	return Section{
		"pnfo":   sc.nextNum(),
		"cc":     sc.nextNum(),
		"xh":     sc.nextNum(),
		"yh":     sc.nextNum(),
		"k1":     sc.nextNum(),
		"k2":     sc.nextNum(),
		"k3":     sc.nextNum(),
		"p1":     sc.nextNum(),
		"p2":     sc.nextNum(),
		"scale":  sc.nextNum(),
		"shear":  sc.nextNum(),
		"interf": sc.nextNum(),
	}
}

func writeLegacyOrient(r *fieldReader, w *lineWriter) {
	w.putBool(r.Bool("pnfo"))
	w.putBool(r.Bool("cc"))
	w.putBool(r.Bool("xh"))
	w.putBool(r.Bool("yh"))
	w.putBool(r.Bool("k1"))
	w.putBool(r.Bool("k2"))
	w.putBool(r.Bool("k3"))
	w.putBool(r.Bool("p1"))
	w.putBool(r.Bool("p2"))
	w.putBool(r.Bool("scale"))
	w.putBool(r.Bool("shear"))
	w.putBool(r.OptionalBool("interf", false))
}

// examine.par: examine_flag, combine_flag.
func readLegacyExamine(sc *lineScanner) Section {
	return Section{
		"examine_flag": sc.nextNum(),
		"combine_flag": sc.nextNum(),
	}
}

func writeLegacyExamine(r *fieldReader, w *lineWriter) {
	w.putBool(r.Bool("examine_flag"))
	w.putBool(r.Bool("combine_flag"))
}

// dumbbell.par: eps, scale, gradient_descent, penalty_weight, step,
// niter.
func readLegacyDumbbell(sc *lineScanner) Section {
	return Section{
		"dumbbell_eps":              sc.nextNum(),
		"dumbbell_scale":            sc.nextNum(),
		"dumbbell_gradient_descent": sc.nextNum(),
		"dumbbell_penalty_weight":   sc.nextNum(),
		"dumbbell_step":             sc.nextNum(),
		"dumbbell_niter":            sc.nextNum(),
	}
}

func writeLegacyDumbbell(r *fieldReader, w *lineWriter) {
	w.putFloat(r.Float("dumbbell_eps"))
	w.putFloat(r.Float("dumbbell_scale"))
	w.putFloat(r.Float("dumbbell_gradient_descent"))
	w.putFloat(r.Float("dumbbell_penalty_weight"))
	w.putInt(r.Int("dumbbell_step"))
	w.putInt(r.Int("dumbbell_niter"))
}

// multi_planes.par: n_planes; one plane base name per plane.
func readLegacyMultiPlanes(sc *lineScanner) Section {
	n := sc.nextInt()
	if sc.err != nil {
		return nil
	}
	names := make([]any, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, sc.next())
	}
	return Section{
		"n_planes":   float64(n),
		"plane_name": names,
	}
}

func writeLegacyMultiPlanes(r *fieldReader, w *lineWriter) {
	n := r.Int("n_planes")
	names := r.Strings("plane_name")
	w.putInt(n)
	for i := 0; i < n; i++ {
		w.put(stringAt(names, i))
	}
}

// man_ori.par: four control-point numbers per camera, camera-major.
func readLegacyManOri(sc *lineScanner, numCams int) Section {
	nr := make([]any, 0, 4*numCams)
	for i := 0; i < 4*numCams; i++ {
		nr = append(nr, sc.nextNum())
	}
	return Section{"nr": nr}
}

func writeLegacyManOri(r *fieldReader, w *lineWriter, numCams int) {
	nr := r.Ints("nr")
	for i := 0; i < 4*numCams; i++ {
		w.putInt(intAt(nr, i))
	}
}

// masking.par: mask_flag; one mask base name per camera. Disabled
// masking leaves the name lines empty, which trailing-blank trimming
// may have eaten, so they are read leniently.
func readLegacyMasking(sc *lineScanner, numCams int) Section {
	flag := sc.nextNum()
	bases := make([]any, 0, numCams)
	for i := 0; i < numCams; i++ {
		bases = append(bases, sc.nextOr(""))
	}
	return Section{
		"mask_flag":      flag,
		"mask_base_name": bases,
	}
}

func writeLegacyMasking(r *fieldReader, w *lineWriter, numCams int) {
	w.putBool(r.Bool("mask_flag"))
	bases := r.OptionalStrings("mask_base_name")
	for i := 0; i < numCams; i++ {
		w.put(stringAt(bases, i))
	}
}

// plugins.par: available sequence names (comma separated), selected
// sequence, available tracking names (comma separated), selected
// tracking.
func readLegacyPlugins(sc *lineScanner) Section {
	return Section{
		"available_sequence": splitNameList(sc.next()),
		"selected_sequence":  sc.next(),
		"available_tracking": splitNameList(sc.next()),
		"selected_tracking":  sc.next(),
	}
}

func writeLegacyPlugins(r *fieldReader, w *lineWriter) {
	w.put(strings.Join(r.Strings("available_sequence"), ","))
	w.put(r.String("selected_sequence"))
	w.put(strings.Join(r.Strings("available_tracking"), ","))
	w.put(r.String("selected_tracking"))
}

func splitNameList(line string) []any {
	out := []any{}
	for _, name := range strings.Split(line, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func stringAt(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

func intAt(vals []int, i int) int {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}

// lineScanner walks a legacy file line by line, recording the first
// failure with its position.
type lineScanner struct {
	file  string
	lines []string
	pos   int
	err   error
}

func scanLegacyFile(path string) (*lineScanner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ptv.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &lineScanner{file: path, lines: splitTextLines(string(data))}, nil
}

func (s *lineScanner) next() string {
	if s.err != nil {
		return ""
	}
	if s.pos >= len(s.lines) {
		s.err = fmt.Errorf("%w: %s: unexpected end of file after %d lines",
			ptv.ErrMalformedFile, s.file, s.pos)
		return ""
	}
	line := strings.TrimSpace(s.lines[s.pos])
	s.pos++
	return line
}

// nextOr returns def instead of failing when the file has run out.
func (s *lineScanner) nextOr(def string) string {
	if s.err != nil || s.pos >= len(s.lines) {
		return def
	}
	return s.next()
}

// nextNum reads a number line as float64, the representation every
// section value carries in a document.
func (s *lineScanner) nextNum() float64 {
	line := s.next()
	if s.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		s.err = fmt.Errorf("%w: %s line %d: %q is not a number",
			ptv.ErrMalformedFile, s.file, s.pos, line)
		return 0
	}
	return v
}

func (s *lineScanner) nextInt() int {
	line := s.next()
	if s.err != nil {
		return 0
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		s.err = fmt.Errorf("%w: %s line %d: %q is not an integer",
			ptv.ErrMalformedFile, s.file, s.pos, line)
		return 0
	}
	return v
}

// lineWriter accumulates output lines for one legacy file.
type lineWriter struct {
	lines []string
}

func (w *lineWriter) put(s string) { w.lines = append(w.lines, s) }

func (w *lineWriter) putInt(n int) { w.put(strconv.Itoa(n)) }

func (w *lineWriter) putFloat(v float64) {
	w.put(strconv.FormatFloat(v, 'g', -1, 64))
}

func (w *lineWriter) putBool(b bool) {
	if b {
		w.put("1")
	} else {
		w.put("0")
	}
}

func (w *lineWriter) flush(path string) error {
	content := strings.Join(w.lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func splitTextLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
