package engine

import (
	"math"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

// DefaultSortGridRadius is the pixel search radius for matching detected
// targets to projected control points.
const DefaultSortGridRadius = 25.0

// SortGrid matches detected calibration targets to the known control-point
// set: every control point is projected through the current calibration and
// paired with the nearest unclaimed detection within radius pixels.
//
// The result is aligned with fix: entry i is the detection matched to
// fix[i] with Pnr set to fix[i].ID, or a sentinel target (Pnr
// UnmatchedPnr) when nothing was close enough. Each detection is claimed
// at most once, nearest control point first.
func SortGrid(cam *Camera, fix []ptv.FixPoint, detected []ptv.Target, radius float64) []ptv.Target {
	type match struct {
		fixIdx, detIdx int
		dist           float64
	}

	var candidates []match
	for fi := range fix {
		px, py := cam.ProjectPixel(fix[fi].Pos)
		for di := range detected {
			dx, dy := detected[di].X-px, detected[di].Y-py
			d := math.Hypot(dx, dy)
			if d <= radius {
				candidates = append(candidates, match{fixIdx: fi, detIdx: di, dist: d})
			}
		}
	}

	// Greedy ascending-distance assignment keeps every detection and every
	// control point in at most one pair.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].dist < candidates[j-1].dist; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	out := make([]ptv.Target, len(fix))
	for i := range out {
		out[i] = ptv.Target{Pnr: ptv.UnmatchedPnr, Tnr: ptv.UnlinkedTnr}
	}
	fixTaken := make([]bool, len(fix))
	detTaken := make([]bool, len(detected))
	for _, m := range candidates {
		if fixTaken[m.fixIdx] || detTaken[m.detIdx] {
			continue
		}
		fixTaken[m.fixIdx] = true
		detTaken[m.detIdx] = true
		t := detected[m.detIdx]
		t.Pnr = fix[m.fixIdx].ID
		out[m.fixIdx] = t
	}
	return out
}

// MatchedPairs extracts the 3D/2D point pairs from a grid-sorted target
// set, skipping sentinel entries. Measured coordinates are converted to
// sensor-centered metric units ready for orientation.
func MatchedPairs(cam *Camera, fix []ptv.FixPoint, sorted []ptv.Target) []PointPair {
	var pairs []PointPair
	for i := range sorted {
		if sorted[i].Pnr == ptv.UnmatchedPnr {
			continue
		}
		x, y := cam.PixelToMetric(sorted[i].X, sorted[i].Y)
		pairs = append(pairs, PointPair{Obj: fix[i].Pos, X: x, Y: y})
	}
	return pairs
}
