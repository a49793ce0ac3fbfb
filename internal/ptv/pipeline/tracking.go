package pipeline

import (
	"context"

	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/ptv/engine"
)

// defaultTracking is the built-in tracking strategy: it consumes the full
// written sequence of per-frame rt_is files and emits one ptv_is link file
// per frame. The target and result file names come from the shared
// workspace derivation, so they are guaranteed to match what the sequence
// stage wrote.
type defaultTracking struct{}

func (defaultTracking) DoTracking(ctx context.Context, rc *RunContext) error {
	frames, err := readFramePositions(rc)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	linker := engine.NewLinker(rc.Track)
	rows, stats := linker.Link(frames)
	if err := writeLinkRows(rc, rows); err != nil {
		return err
	}
	ptv.Opsf("tracking complete: %d links, %d trajectories started", stats.Links, stats.Started)
	return nil
}

// DoTrackingBack re-reads the written link files and runs the backward
// gap-closing pass over them.
func (defaultTracking) DoTrackingBack(ctx context.Context, rc *RunContext) error {
	first, last := rc.Seq.First, rc.Seq.Last
	rows := make([][]ptv.LinkRow, 0, last-first+1)
	for f := first; f <= last; f++ {
		r, err := ptv.ReadLinks(rc.Workspace.LinksPath(f))
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	linker := engine.NewLinker(rc.Track)
	added := linker.CloseGaps(rows)
	if err := writeLinkRows(rc, rows); err != nil {
		return err
	}
	ptv.Opsf("backward pass complete: %d gaps closed", added)
	return nil
}

// readFramePositions loads the determined 3D points of every frame in the
// configured range. A missing rt_is file is fatal: tracking depends on the
// whole sequence existing on disk.
func readFramePositions(rc *RunContext) ([][]ptv.Vec3, error) {
	first, last := rc.Seq.First, rc.Seq.Last
	frames := make([][]ptv.Vec3, 0, last-first+1)
	for f := first; f <= last; f++ {
		pts, err := ptv.ReadCorres(rc.Workspace.CorresPath(f))
		if err != nil {
			return nil, err
		}
		pos := make([]ptv.Vec3, len(pts))
		for i := range pts {
			pos[i] = pts[i].Pos
		}
		frames = append(frames, pos)
	}
	return frames, nil
}

// writeLinkRows persists one ptv_is file per frame and reports per-frame
// link counts to the stats callback.
func writeLinkRows(rc *RunContext, rows [][]ptv.LinkRow) error {
	for i, r := range rows {
		f := rc.Seq.First + i
		if err := ptv.WriteLinks(rc.Workspace.LinksPath(f), r); err != nil {
			return err
		}
		links := 0
		for j := range r {
			if r[j].Next != ptv.NoLink {
				links++
			}
		}
		ptv.Tracef("frame %d: %d forward links", f, links)
		if rc.OnFrame != nil {
			rc.OnFrame(f, nil, nil, links)
		}
	}
	return nil
}
