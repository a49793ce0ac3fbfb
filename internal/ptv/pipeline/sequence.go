package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/tracerlab/flowtrace/internal/ptv"
	"github.com/tracerlab/flowtrace/internal/ptv/engine"
)

// defaultSequence is the built-in sequence strategy: per frame, per
// camera, preprocessing → detection → target file; then cross-camera
// correspondence and the per-frame rt_is result. Frames are processed
// independently in increasing order and each frame's outputs are fully
// overwritten, so an aborted run can simply be re-run.
type defaultSequence struct{}

func (defaultSequence) DoSequence(ctx context.Context, rc *RunContext) error {
	ncams := rc.Cam.NumCams
	cams := make([]*engine.Camera, ncams)
	for cam := 0; cam < ncams; cam++ {
		cams[cam] = engine.NewCamera(rc.Cals[cam], rc.Cam)
	}

	masks, err := loadMasks(rc)
	if err != nil {
		return err
	}

	for f := rc.Seq.First; f <= rc.Seq.Last; f++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		targets := make([][]ptv.Target, ncams)
		counts := make([]int, ncams)
		for cam := 0; cam < ncams; cam++ {
			base := rc.Seq.BaseNames[cam]
			path := rc.Workspace.ImagePath(base, f)
			img, err := engine.LoadImage(path)
			if err != nil {
				if errors.Is(err, ptv.ErrFileNotFound) {
					return fmt.Errorf("%w: frame %d camera %d: %s", ErrFrameSourceMissing, f, cam+1, path)
				}
				return fmt.Errorf("frame %d camera %d: %w", f, cam+1, err)
			}
			prepared, err := engine.PrepareImage(img, rc.Cam, masks[cam])
			if err != nil {
				return fmt.Errorf("frame %d camera %d: %w", f, cam+1, err)
			}
			ts, err := engine.Detect(prepared, rc.Targ, cam)
			if err != nil {
				return fmt.Errorf("frame %d camera %d: %w", f, cam+1, err)
			}
			if err := ptv.WriteTargets(rc.Workspace.TargetsPath(base, f), ts); err != nil {
				return err
			}
			targets[cam] = ts
			counts[cam] = len(ts)
		}

		set, err := engine.Correspond(cams, targets, rc.Vol, rc.Cam.AllCam)
		if err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
		if err := ptv.WriteCorres(rc.Workspace.CorresPath(f), set.Flatten()); err != nil {
			return err
		}

		ptv.Tracef("frame %d: targets %v, correspondences %v", f, counts, set.ClassCounts())
		if rc.OnFrame != nil {
			rc.OnFrame(f, counts, set.ClassCounts(), 0)
		}
	}
	ptv.Opsf("sequence complete: frames %d..%d", rc.Seq.First, rc.Seq.Last)
	return nil
}

// loadMasks loads the per-camera subtraction masks once per run. Masking
// disabled means a nil mask for every camera.
func loadMasks(rc *RunContext) ([]*image.Gray, error) {
	masks := make([]*image.Gray, rc.Cam.NumCams)
	if !rc.Masks.Enabled {
		return masks, nil
	}
	for cam := 0; cam < rc.Cam.NumCams; cam++ {
		m, err := engine.LoadImage(rc.Workspace.Resolve(rc.Masks.BaseNames[cam]))
		if err != nil {
			return nil, fmt.Errorf("mask camera %d: %w", cam+1, err)
		}
		masks[cam] = m
	}
	return masks, nil
}
