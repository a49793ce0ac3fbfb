package ptv

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tracerlab/flowtrace/internal/fsutil"
)

// FixPoint is one surveyed control point of a calibration body.
type FixPoint struct {
	ID  int
	Pos Vec3
}

// CoordPoint is one 2D reference observation: a control-point id with
// the measured image position in distorted metric sensor coordinates,
// directly comparable with a projection. Used by the combined-plane
// files that feed multi-plane refinement.
type CoordPoint struct {
	ID   int
	X, Y float64
}

// ReadFixPoints loads a control-point file: one `id x y z` row per
// point, no count line.
func ReadFixPoints(path string) ([]FixPoint, error) {
	return ReadFixPointsFS(fsutil.OSFileSystem{}, path)
}

// ReadFixPointsFS is ReadFixPoints against an explicit filesystem.
func ReadFixPointsFS(fsys fsutil.FileSystem, path string) ([]FixPoint, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var pts []FixPoint
	for i, line := range splitLines(string(data)) {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) != 4 {
			return nil, fmt.Errorf("%w: %s line %d: %d columns, want 4",
				ErrMalformedFile, path, i+1, len(f))
		}
		var convErr error
		p := FixPoint{
			ID: parseInt(f[0], &convErr),
			Pos: Vec3{
				X: parseFloat(f[1], &convErr),
				Y: parseFloat(f[2], &convErr),
				Z: parseFloat(f[3], &convErr),
			},
		}
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedFile, path, i+1, convErr)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// WriteFixPoints writes a control-point file in the format ReadFixPoints
// reads.
func WriteFixPoints(path string, pts []FixPoint) error {
	return WriteFixPointsFS(fsutil.OSFileSystem{}, path, pts)
}

// WriteFixPointsFS is WriteFixPoints against an explicit filesystem.
func WriteFixPointsFS(fsys fsutil.FileSystem, path string, pts []FixPoint) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, p := range pts {
		fmt.Fprintf(w, "%4d %10.3f %10.3f %10.3f\n", p.ID, p.Pos.X, p.Pos.Y, p.Pos.Z)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadCoordPoints loads a 2D reference file: one `id x y` row per
// point, no count line.
func ReadCoordPoints(path string) ([]CoordPoint, error) {
	return ReadCoordPointsFS(fsutil.OSFileSystem{}, path)
}

// ReadCoordPointsFS is ReadCoordPoints against an explicit filesystem.
func ReadCoordPointsFS(fsys fsutil.FileSystem, path string) ([]CoordPoint, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var pts []CoordPoint
	for i, line := range splitLines(string(data)) {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) != 3 {
			return nil, fmt.Errorf("%w: %s line %d: %d columns, want 3",
				ErrMalformedFile, path, i+1, len(f))
		}
		var convErr error
		p := CoordPoint{
			ID: parseInt(f[0], &convErr),
			X:  parseFloat(f[1], &convErr),
			Y:  parseFloat(f[2], &convErr),
		}
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedFile, path, i+1, convErr)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// WriteCoordPoints writes a 2D reference file in the format
// ReadCoordPoints reads.
func WriteCoordPoints(path string, pts []CoordPoint) error {
	return WriteCoordPointsFS(fsutil.OSFileSystem{}, path, pts)
}

// WriteCoordPointsFS is WriteCoordPoints against an explicit filesystem.
func WriteCoordPointsFS(fsys fsutil.FileSystem, path string, pts []CoordPoint) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, p := range pts {
		fmt.Fprintf(w, "%4d %12.5f %12.5f\n", p.ID, p.X, p.Y)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
