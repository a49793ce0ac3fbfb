package ptv

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Vec3 is a point or displacement in world coordinates.
type Vec3 struct {
	X, Y, Z float64
}

// CorresPoint is one determined 3D point in a frame's rt_is file: its row
// index, position, and the contributing target index per camera slot
// (NoCamera where a camera saw nothing).
type CorresPoint struct {
	Pnr     int
	Pos     Vec3
	Targets [MaxCameras]int
}

// Multiplicity returns how many cameras contributed to the point.
func (p *CorresPoint) Multiplicity() int {
	n := 0
	for _, t := range p.Targets {
		if t != NoCamera {
			n++
		}
	}
	return n
}

// LinkRow is one row of a frame's ptv_is file: the indices of the linked
// points in the previous and next frames (NoLink when absent) and the
// point position repeated for self-contained consumption.
type LinkRow struct {
	Prev, Next int
	Pos        Vec3
}

// ReadCorres loads a per-frame rt_is file.
func ReadCorres(path string) ([]CorresPoint, error) {
	lines, err := readCountedFile(path)
	if err != nil {
		return nil, err
	}
	pts := make([]CorresPoint, len(lines))
	for i, line := range lines {
		f := strings.Fields(line)
		if len(f) != 4+MaxCameras {
			return nil, fmt.Errorf("%w: %s line %d: %d columns, want %d",
				ErrMalformedFile, path, i+2, len(f), 4+MaxCameras)
		}
		var convErr error
		p := CorresPoint{}
		p.Pnr = parseInt(f[0], &convErr)
		p.Pos.X = parseFloat(f[1], &convErr)
		p.Pos.Y = parseFloat(f[2], &convErr)
		p.Pos.Z = parseFloat(f[3], &convErr)
		for c := 0; c < MaxCameras; c++ {
			p.Targets[c] = parseInt(f[4+c], &convErr)
		}
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedFile, path, i+2, convErr)
		}
		pts[i] = p
	}
	return pts, nil
}

// WriteCorres overwrites a per-frame rt_is file.
func WriteCorres(path string, pts []CorresPoint) error {
	return writeCountedFile(path, len(pts), func(w *bufio.Writer) {
		for i := range pts {
			p := &pts[i]
			fmt.Fprintf(w, "%4d %10.3f %10.3f %10.3f %4d %4d %4d %4d\n",
				p.Pnr, p.Pos.X, p.Pos.Y, p.Pos.Z,
				p.Targets[0], p.Targets[1], p.Targets[2], p.Targets[3])
		}
	})
}

// ReadLinks loads a per-frame ptv_is file.
func ReadLinks(path string) ([]LinkRow, error) {
	lines, err := readCountedFile(path)
	if err != nil {
		return nil, err
	}
	rows := make([]LinkRow, len(lines))
	for i, line := range lines {
		f := strings.Fields(line)
		if len(f) != 5 {
			return nil, fmt.Errorf("%w: %s line %d: %d columns, want 5",
				ErrMalformedFile, path, i+2, len(f))
		}
		var convErr error
		r := LinkRow{}
		r.Prev = parseInt(f[0], &convErr)
		r.Next = parseInt(f[1], &convErr)
		r.Pos.X = parseFloat(f[2], &convErr)
		r.Pos.Y = parseFloat(f[3], &convErr)
		r.Pos.Z = parseFloat(f[4], &convErr)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedFile, path, i+2, convErr)
		}
		rows[i] = r
	}
	return rows, nil
}

// WriteLinks overwrites a per-frame ptv_is file.
func WriteLinks(path string, rows []LinkRow) error {
	return writeCountedFile(path, len(rows), func(w *bufio.Writer) {
		for i := range rows {
			r := &rows[i]
			fmt.Fprintf(w, "%4d %4d %10.3f %10.3f %10.3f\n",
				r.Prev, r.Next, r.Pos.X, r.Pos.Y, r.Pos.Z)
		}
	})
}

// TrajectoryPoint is one sample of a reconstructed trajectory.
type TrajectoryPoint struct {
	Frame int
	Pos   Vec3
}

// Trajectory is an ordered, frame-indexed sequence of linked 3D points.
type Trajectory struct {
	Points []TrajectoryPoint
}

// ChainTrajectories reconstructs trajectories by walking Next links across
// the per-frame link files between first and last inclusive. Every point
// opens a trajectory unless an earlier frame links into it.
func ChainTrajectories(ws Workspace, first, last int) ([]Trajectory, error) {
	frames := make(map[int][]LinkRow, last-first+1)
	for f := first; f <= last; f++ {
		rows, err := ReadLinks(ws.LinksPath(f))
		if err != nil {
			return nil, err
		}
		frames[f] = rows
	}

	var trajs []Trajectory
	for f := first; f <= last; f++ {
		for i, row := range frames[f] {
			if row.Prev != NoLink {
				continue // continuation of an earlier trajectory
			}
			traj := Trajectory{}
			frame, idx := f, i
			for {
				rows := frames[frame]
				if idx < 0 || idx >= len(rows) {
					return nil, fmt.Errorf("%w: %s: link to row %d out of range",
						ErrMalformedFile, ws.LinksPath(frame), idx)
				}
				r := rows[idx]
				traj.Points = append(traj.Points, TrajectoryPoint{Frame: frame, Pos: r.Pos})
				if r.Next == NoLink || frame == last {
					break
				}
				frame, idx = frame+1, r.Next
			}
			trajs = append(trajs, traj)
		}
	}
	return trajs, nil
}

func readCountedFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
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
		return nil, fmt.Errorf("%w: %s: declared %d rows, found %d",
			ErrMalformedFile, path, count, len(lines)-1)
	}
	return lines[1:], nil
}

func writeCountedFile(path string, count int, body func(w *bufio.Writer)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n", count)
	body(w)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
