package ptv

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tracerlab/flowtrace/internal/fsutil"
)

// Target file layout: first line is the point count, then one row per
// target: pnr x y n nx ny sumg tnr. A count that disagrees with the rows
// present is malformed, never truncated or padded.

// ReadTargets loads one per-camera, per-frame target file.
func ReadTargets(path string) ([]Target, error) {
	return ReadTargetsFS(fsutil.OSFileSystem{}, path)
}

// ReadTargetsFS is ReadTargets against an explicit filesystem.
func ReadTargetsFS(fsys fsutil.FileSystem, path string) ([]Target, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	lines := splitLines(string(data))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s: missing count line", ErrMalformedFile, path)
	}
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: %s: bad count line %q", ErrMalformedFile, path, lines[0])
	}
	if len(lines)-1 != count {
		return nil, fmt.Errorf("%w: %s: declared %d targets, found %d rows",
			ErrMalformedFile, path, count, len(lines)-1)
	}

	ts := make([]Target, count)
	for i, line := range lines[1:] {
		f := strings.Fields(line)
		if len(f) != 8 {
			return nil, fmt.Errorf("%w: %s line %d: %d columns, want 8",
				ErrMalformedFile, path, i+2, len(f))
		}
		t := Target{}
		var convErr error
		t.Pnr = parseInt(f[0], &convErr)
		t.X = parseFloat(f[1], &convErr)
		t.Y = parseFloat(f[2], &convErr)
		t.N = parseInt(f[3], &convErr)
		t.NX = parseInt(f[4], &convErr)
		t.NY = parseInt(f[5], &convErr)
		t.SumG = parseInt(f[6], &convErr)
		t.Tnr = parseInt(f[7], &convErr)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedFile, path, i+2, convErr)
		}
		ts[i] = t
	}
	return ts, nil
}

// WriteTargets overwrites one per-camera, per-frame target file.
func WriteTargets(path string, ts []Target) error {
	return WriteTargetsFS(fsutil.OSFileSystem{}, path, ts)
}

// WriteTargetsFS is WriteTargets against an explicit filesystem.
func WriteTargetsFS(fsys fsutil.FileSystem, path string, ts []Target) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n", len(ts))
	for i := range ts {
		t := &ts[i]
		fmt.Fprintf(w, "%4d %9.4f %9.4f %5d %5d %5d %5d %5d\n",
			t.Pnr, t.X, t.Y, t.N, t.NX, t.NY, t.SumG, t.Tnr)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func parseInt(s string, errp *error) int {
	v, err := strconv.Atoi(s)
	if err != nil && *errp == nil {
		*errp = fmt.Errorf("%q is not an integer", s)
	}
	return v
}

func parseFloat(s string, errp *error) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && *errp == nil {
		*errp = fmt.Errorf("%q is not a number", s)
	}
	return v
}
