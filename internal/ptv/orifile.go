package ptv

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tracerlab/flowtrace/internal/fsutil"
)

// Calibration file pair layout. Both files are plain text, one value per
// line, fixed order. The layout is a compatibility contract: do not
// reorder, pad or extend.
//
//	*.ori:    x, y, z, omega, phi, kappa, xh, yh, cc          (9 lines)
//	*.addpar: p1, p2, k1, k2, k3, scale, shear                (7 lines)

const (
	oriLineCount    = 9
	addParLineCount = 7
)

// ReadCalibration loads a calibration from its .ori/.addpar pair.
func ReadCalibration(oriPath, addParPath string) (*Calibration, error) {
	return ReadCalibrationFS(fsutil.OSFileSystem{}, oriPath, addParPath)
}

// ReadCalibrationFS is ReadCalibration against an explicit filesystem.
func ReadCalibrationFS(fsys fsutil.FileSystem, oriPath, addParPath string) (*Calibration, error) {
	ori, err := readValueLines(fsys, oriPath, oriLineCount)
	if err != nil {
		return nil, err
	}
	add, err := readValueLines(fsys, addParPath, addParLineCount)
	if err != nil {
		return nil, err
	}

	c := NewCalibration()
	c.Ext = Exterior{
		X: ori[0], Y: ori[1], Z: ori[2],
		Omega: ori[3], Phi: ori[4], Kappa: ori[5],
	}
	c.Int = Interior{XH: ori[6], YH: ori[7], CC: ori[8]}
	c.Dec = Decentering{P1: add[0], P2: add[1]}
	c.Rad = Radial{K1: add[2], K2: add[3], K3: add[4]}
	c.Aff = Affine{Scale: add[5], Shear: add[6]}
	return c, nil
}

// WriteCalibration persists the calibration to its .ori/.addpar pair,
// overwriting both files. Callers are responsible for the NaN/Inf guard;
// the codec writes whatever it is given.
func WriteCalibration(oriPath, addParPath string, c *Calibration) error {
	return WriteCalibrationFS(fsutil.OSFileSystem{}, oriPath, addParPath, c)
}

// WriteCalibrationFS is WriteCalibration against an explicit filesystem.
func WriteCalibrationFS(fsys fsutil.FileSystem, oriPath, addParPath string, c *Calibration) error {
	ori := []float64{
		c.Ext.X, c.Ext.Y, c.Ext.Z,
		c.Ext.Omega, c.Ext.Phi, c.Ext.Kappa,
		c.Int.XH, c.Int.YH, c.Int.CC,
	}
	if err := writeValueLines(fsys, oriPath, ori); err != nil {
		return err
	}
	add := []float64{
		c.Dec.P1, c.Dec.P2,
		c.Rad.K1, c.Rad.K2, c.Rad.K3,
		c.Aff.Scale, c.Aff.Shear,
	}
	return writeValueLines(fsys, addParPath, add)
}

// readValueLines reads exactly want float values, one per line.
func readValueLines(fsys fsutil.FileSystem, path string, want int) ([]float64, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	lines := splitLines(string(data))
	if len(lines) != want {
		return nil, fmt.Errorf("%w: %s: %d value lines, want %d",
			ErrMalformedFile, path, len(lines), want)
	}
	vals := make([]float64, want)
	for i, line := range lines {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %q is not a number",
				ErrMalformedFile, path, i+1, line)
		}
		vals[i] = v
	}
	return vals, nil
}

func writeValueLines(fsys fsutil.FileSystem, path string, vals []float64) error {
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteByte('\n')
	}
	if err := fsys.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// splitLines splits file content into lines, dropping trailing blank
// lines but keeping interior ones so malformed layouts are noticed.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
