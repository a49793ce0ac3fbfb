package ptv

import "sort"

// Sentinel values used in target and frame records. These are part of the
// on-disk contract and must not change.
const (
	// UnmatchedPnr marks a target that was not matched to a reference point.
	UnmatchedPnr = -999
	// UnlinkedTnr marks a target that belongs to no trajectory.
	UnlinkedTnr = -1
	// NoLink marks a frame point with no forward or backward continuation.
	NoLink = -1
	// NoCamera marks an empty camera slot in a correspondence row.
	NoCamera = -1
)

// MaxCameras is the number of camera slots in the fixed rt_is row layout.
// Rigs with fewer cameras leave the remaining slots at NoCamera.
const MaxCameras = 4

// Target is one detected blob in one camera's image.
type Target struct {
	Pnr  int     // point number; UnmatchedPnr until matched
	X, Y float64 // weighted centroid, pixels
	N    int     // total pixel count
	NX   int     // horizontal extent, pixels
	NY   int     // vertical extent, pixels
	SumG int     // summed grey value
	Tnr  int     // trajectory tag; UnlinkedTnr until linked
}

// SortByVertical orders targets by their vertical pixel coordinate (ties
// broken horizontally) and renumbers Pnr sequentially. Detection output
// passes through here so downstream matching sees a deterministic order
// regardless of scanline traversal.
func SortByVertical(ts []Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Y != ts[j].Y {
			return ts[i].Y < ts[j].Y
		}
		return ts[i].X < ts[j].X
	})
	for i := range ts {
		ts[i].Pnr = i
	}
}

// CountMatched returns the number of targets carrying a real point number.
func CountMatched(ts []Target) int {
	n := 0
	for i := range ts {
		if ts[i].Pnr != UnmatchedPnr {
			n++
		}
	}
	return n
}
