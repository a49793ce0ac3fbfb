package engine

import (
	"testing"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

func trackingParams() params.TrackingParams {
	return params.TrackingParams{
		DVxMin: -2, DVxMax: 2,
		DVyMin: -2, DVyMax: 2,
		DVzMin: -2, DVzMax: 2,
		DAngle:       30,
		DAcc:         1,
		AddParticles: true,
	}
}

func TestLink_LinearMotion(t *testing.T) {
	l := NewLinker(trackingParams())
	frames := [][]ptv.Vec3{
		{{X: 0, Y: 0}, {X: 0, Y: 5}},
		{{X: 1, Y: 0}, {X: 1, Y: 5}},
		{{X: 2, Y: 0}, {X: 2, Y: 5}},
	}

	rows, stats := l.Link(frames)
	if stats.Links != 4 {
		t.Errorf("links = %d, want 4", stats.Links)
	}
	if stats.Started != 2 {
		t.Errorf("started = %d, want 2", stats.Started)
	}
	for f := 0; f+1 < len(rows); f++ {
		for i := range rows[f] {
			if rows[f][i].Next != i {
				t.Errorf("frame %d point %d: next = %d, want %d", f, i, rows[f][i].Next, i)
			}
		}
	}
	for i := range rows[0] {
		if rows[0][i].Prev != ptv.NoLink {
			t.Errorf("first frame point %d has incoming link %d", i, rows[0][i].Prev)
		}
	}
}

func TestLink_VelocityBounds(t *testing.T) {
	l := NewLinker(trackingParams())
	frames := [][]ptv.Vec3{
		{{X: 0}},
		{{X: 5}}, // displacement above DVxMax
	}

	_, stats := l.Link(frames)
	if stats.Links != 0 {
		t.Errorf("links = %d, want 0 for out-of-bounds displacement", stats.Links)
	}
}

func TestLink_DirectionChangeBound(t *testing.T) {
	tp := trackingParams()
	tp.DAcc = 10 // keep the acceleration bound out of the way
	l := NewLinker(tp)

	// Straight for one step, then a 90 degree turn.
	frames := [][]ptv.Vec3{
		{{X: 0}},
		{{X: 1}},
		{{X: 1, Y: 1}},
	}

	rows, stats := l.Link(frames)
	if stats.Links != 1 {
		t.Errorf("links = %d, want 1 (turn above DAngle rejected)", stats.Links)
	}
	if rows[1][0].Next != ptv.NoLink {
		t.Error("turning link was accepted despite the direction-change bound")
	}
}

func TestLink_AccelerationBound(t *testing.T) {
	l := NewLinker(trackingParams())

	// Same direction but the step doubles: |d - vel| = 1 > DAcc would
	// pass at exactly 1, so overshoot slightly.
	frames := [][]ptv.Vec3{
		{{X: 0}},
		{{X: 0.5}},
		{{X: 2.1}},
	}

	_, stats := l.Link(frames)
	if stats.Links != 1 {
		t.Errorf("links = %d, want 1 (acceleration above DAcc rejected)", stats.Links)
	}
}

func TestLink_AddParticlesDisabled(t *testing.T) {
	tp := trackingParams()
	tp.AddParticles = false
	l := NewLinker(tp)

	// The second particle appears in frame 1 and would start a new
	// trajectory there; with AddParticles off it must not be extended.
	frames := [][]ptv.Vec3{
		{{X: 0}},
		{{X: 1}, {X: 0, Y: 5}},
		{{X: 2}, {X: 1, Y: 5}},
	}

	rows, stats := l.Link(frames)
	if stats.Links != 2 {
		t.Errorf("links = %d, want 2", stats.Links)
	}
	if rows[1][1].Next != ptv.NoLink {
		t.Error("mid-sequence point without incoming link was extended")
	}
}

func TestCloseGaps(t *testing.T) {
	tp := trackingParams()
	tp.AddParticles = false
	l := NewLinker(tp)

	// The particle appears in frame 1, so the forward pass cannot touch
	// it; the backward pass recovers the frame-1 to frame-2 link.
	frames := [][]ptv.Vec3{
		{},
		{{X: 0}},
		{{X: 1}},
	}

	rows, stats := l.Link(frames)
	if stats.Links != 0 {
		t.Fatalf("forward links = %d, want 0", stats.Links)
	}
	added := l.CloseGaps(rows)
	if added != 1 {
		t.Fatalf("closed %d gaps, want 1", added)
	}
	if rows[2][0].Prev != 0 {
		t.Errorf("frame-2 point prev = %d, want 0", rows[2][0].Prev)
	}
	if rows[1][0].Next != 0 {
		t.Errorf("frame-1 point next = %d, want 0", rows[1][0].Next)
	}
}

func TestLink_OneIncomingLinkPerPoint(t *testing.T) {
	l := NewLinker(trackingParams())

	// Two points converge on one; only the nearer link survives.
	frames := [][]ptv.Vec3{
		{{X: 0}, {X: 1.5}},
		{{X: 1}},
	}

	rows, stats := l.Link(frames)
	if stats.Links != 1 {
		t.Fatalf("links = %d, want 1", stats.Links)
	}
	if rows[1][0].Prev != 1 {
		t.Errorf("prev = %d, want 1 (the nearer source)", rows[1][0].Prev)
	}
}
