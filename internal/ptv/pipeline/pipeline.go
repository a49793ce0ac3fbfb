// Package pipeline is the composition root of the per-frame processing
// chain: detection → correspondence → 3D determination → tracking. It owns
// strategy (plugin) resolution and the naming consistency of every
// per-frame artifact; the numerics live in the engine package.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

var (
	// ErrFrameSourceMissing reports a missing source image for a frame.
	// The run aborts rather than skipping: a silently shortened sequence
	// produces silently truncated trajectories.
	ErrFrameSourceMissing = errors.New("frame source image missing")

	// ErrPluginNotFound reports a selected sequence or tracking strategy
	// name that no registered strategy answers to.
	ErrPluginNotFound = errors.New("plugin not found")
)

// FrameStatsFunc receives per-frame pipeline statistics: target counts per
// camera, correspondence counts per multiplicity class (pairs first), and
// the number of forward links out of the frame. Slices may be nil for
// stages that do not produce them.
type FrameStatsFunc func(frame int, targets []int, classes []int, links int)

// RunContext bundles everything a sequence or tracking strategy needs:
// typed parameters, calibrations and working paths. The pipeline hands it
// to the resolved strategy and performs no further involvement until the
// call returns.
type RunContext struct {
	Workspace ptv.Workspace

	Cam   params.CameraParams
	Targ  params.TargetParams
	Seq   params.SequenceParams
	Vol   params.VolumeParams
	Track params.TrackingParams
	Masks params.MaskingParams

	Cals []ptv.Calibration

	OnFrame FrameStatsFunc
}

// Runner drives one processing run. Strategy names are resolved exactly
// once, at construction; an unresolvable name fails here rather than
// falling back to a default mid-run.
type Runner struct {
	rc  RunContext
	seq SequenceStrategy
	trk TrackingStrategy
}

// NewRunner translates the configuration document, loads every camera's
// calibration, and resolves the selected strategies against the registry.
func NewRunner(doc *params.ConfigDocument, ws ptv.Workspace, reg *Registry) (*Runner, error) {
	r := &Runner{rc: RunContext{Workspace: ws}}

	var err error
	if r.rc.Cam, err = params.PopulateCameraParams(doc); err != nil {
		return nil, err
	}
	if r.rc.Targ, err = params.PopulateTargetParams(doc); err != nil {
		return nil, err
	}
	if r.rc.Seq, err = params.PopulateSequenceParams(doc); err != nil {
		return nil, err
	}
	if r.rc.Vol, err = params.PopulateVolumeParams(doc); err != nil {
		return nil, err
	}
	if r.rc.Track, err = params.PopulateTrackingParams(doc); err != nil {
		return nil, err
	}
	if r.rc.Masks, err = params.PopulateMaskingParams(doc); err != nil {
		return nil, err
	}
	co, err := params.PopulateCalOriParams(doc)
	if err != nil {
		return nil, err
	}
	r.rc.Cals = make([]ptv.Calibration, r.rc.Cam.NumCams)
	for cam := 0; cam < r.rc.Cam.NumCams; cam++ {
		ori := ws.Resolve(co.OriName[cam])
		cal, err := ptv.ReadCalibration(ori, addParPath(ori))
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", cam+1, err)
		}
		r.rc.Cals[cam] = *cal
	}

	pp, err := params.PopulatePluginParams(doc)
	if err != nil {
		return nil, err
	}
	if !contains(pp.AvailableSequence, pp.SelectedSequence) {
		return nil, fmt.Errorf("%w: sequence %q is not in the available list", ErrPluginNotFound, pp.SelectedSequence)
	}
	if !contains(pp.AvailableTracking, pp.SelectedTracking) {
		return nil, fmt.Errorf("%w: tracking %q is not in the available list", ErrPluginNotFound, pp.SelectedTracking)
	}
	if r.seq, err = reg.ResolveSequence(pp.SelectedSequence); err != nil {
		return nil, err
	}
	if r.trk, err = reg.ResolveTracking(pp.SelectedTracking); err != nil {
		return nil, err
	}
	ptv.Opsf("pipeline: sequence=%q tracking=%q frames %d..%d",
		pp.SelectedSequence, pp.SelectedTracking, r.rc.Seq.First, r.rc.Seq.Last)
	return r, nil
}

// SetFrameStats installs the per-frame statistics callback.
func (r *Runner) SetFrameStats(fn FrameStatsFunc) { r.rc.OnFrame = fn }

// FrameRange returns the configured first and last frame.
func (r *Runner) FrameRange() (first, last int) { return r.rc.Seq.First, r.rc.Seq.Last }

// RunSequence processes every frame in the configured range through the
// resolved sequence strategy.
func (r *Runner) RunSequence(ctx context.Context) error {
	return r.seq.DoSequence(ctx, &r.rc)
}

// RunTracking forward-links the written per-frame 3D points.
func (r *Runner) RunTracking(ctx context.Context) error {
	return r.trk.DoTracking(ctx, &r.rc)
}

// RunTrackingBack runs the backward gap-closing pass over existing link
// files.
func (r *Runner) RunTrackingBack(ctx context.Context) error {
	return r.trk.DoTrackingBack(ctx, &r.rc)
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// addParPath derives the .addpar path from its .ori sibling.
func addParPath(ori string) string {
	if strings.HasSuffix(ori, ".ori") {
		return strings.TrimSuffix(ori, ".ori") + ".addpar"
	}
	return ori + ".addpar"
}
