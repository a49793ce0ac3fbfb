package ptv

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Workspace resolves every on-disk artifact from explicit base directories.
// Nothing in this module ever consults the process working directory; all
// relative paths are anchored here.
type Workspace struct {
	Root   string // base directory for images and calibration inputs
	ResDir string // directory for per-frame outputs (targets, rt_is, ptv_is)
}

// Resolve anchors a possibly-relative path at the workspace root.
func (w Workspace) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.Root, path)
}

// ImagePath builds the source image path for one camera and frame. Base
// names may carry a printf-style frame placeholder ("cam3_%04d.tif");
// plain bases get the frame number appended ("img/cam1." → "img/cam1.98").
func (w Workspace) ImagePath(base string, frame int) string {
	if strings.Contains(base, "%") {
		return w.Resolve(fmt.Sprintf(base, frame))
	}
	return w.Resolve(fmt.Sprintf("%s%d", base, frame))
}

// TargetsPath builds the per-camera, per-frame target file path. All
// stages must obtain target paths through this method so detection,
// correspondence and tracking agree on the name.
func (w Workspace) TargetsPath(base string, frame int) string {
	return filepath.Join(w.ResDir, fmt.Sprintf("%s.%04d_targets", ShortBase(base), frame))
}

// CorresPath builds the per-frame 3D correspondence result path.
func (w Workspace) CorresPath(frame int) string {
	return filepath.Join(w.ResDir, fmt.Sprintf("rt_is.%d", frame))
}

// LinksPath builds the per-frame trajectory link file path.
func (w Workspace) LinksPath(frame int) string {
	return filepath.Join(w.ResDir, fmt.Sprintf("ptv_is.%d", frame))
}

// imageExts are the extensions stripped when deriving a short base.
// Anything else is assumed to be part of the stem.
var imageExts = map[string]bool{
	".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true,
	".bmp": true, ".pgm": true,
}

// ShortBase derives the camera-specific stem used in per-frame artifact
// names from a sequence base name: the directory and image extension are
// dropped and any printf-style frame placeholder is removed, along with
// the separator that joined it. "img/cam3_%04d.tif" and "img/cam3." both
// reduce to "cam3".
//
// Every stage that names a target file derives the stem through this one
// function; diverging derivations between detection and tracking was a
// recurring defect in the predecessors of this code.
func ShortBase(base string) string {
	s := filepath.Base(base)
	if i := strings.IndexByte(s, '%'); i >= 0 {
		j := i + 1
		for j < len(s) && (s[j] == '0' || s[j] == '-' || (s[j] >= '1' && s[j] <= '9')) {
			j++
		}
		if j < len(s) && s[j] == 'd' {
			j++
		}
		s = s[:i] + s[j:]
	}
	if ext := filepath.Ext(s); imageExts[strings.ToLower(ext)] {
		s = strings.TrimSuffix(s, ext)
	}
	return strings.TrimRight(s, "._-")
}

// CameraID extracts the 1-based camera number embedded in a base name and
// returns it as a 0-based index. The last digit run of the short base is
// taken as the number: "cam3_%04d.tif" → 2. ok is false when the stem
// carries no digits.
func CameraID(base string) (id int, ok bool) {
	s := ShortBase(base)
	end := len(s)
	for end > 0 && s[end-1] >= '0' && s[end-1] <= '9' {
		end--
	}
	if end == len(s) {
		return 0, false
	}
	n := 0
	for _, r := range s[end:] {
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}
