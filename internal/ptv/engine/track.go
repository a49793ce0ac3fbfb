package engine

import (
	"math"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Linker links 3D points between consecutive frames under the configured
// velocity, acceleration and direction-change bounds. It is stateless
// between calls; all state lives in the link rows it produces.
type Linker struct {
	tp params.TrackingParams
}

// NewLinker builds a linker from tracking parameters.
func NewLinker(tp params.TrackingParams) *Linker {
	return &Linker{tp: tp}
}

// LinkStats summarizes one linking pass.
type LinkStats struct {
	Links   int // accepted frame-to-frame links
	Started int // points that opened a new trajectory
}

// Link runs the forward pass over a sequence of per-frame point sets and
// returns one link-row slice per frame. A point's candidates in the next
// frame must satisfy the per-axis velocity bounds; when the point already
// has an incoming link its established velocity additionally constrains
// the direction change and acceleration. The nearest acceptable candidate
// wins and every point receives at most one incoming link.
//
// With AddParticles disabled, points that appear after the first frame
// without an incoming link are not extended: they would start a new
// trajectory, which the configuration forbids.
func (l *Linker) Link(frames [][]ptv.Vec3) ([][]ptv.LinkRow, LinkStats) {
	rows := make([][]ptv.LinkRow, len(frames))
	for f := range frames {
		rows[f] = make([]ptv.LinkRow, len(frames[f]))
		for i := range rows[f] {
			rows[f][i] = ptv.LinkRow{Prev: ptv.NoLink, Next: ptv.NoLink, Pos: frames[f][i]}
		}
	}

	stats := LinkStats{}
	for f := 0; f+1 < len(frames); f++ {
		l.linkFrame(rows, f, &stats)
	}
	for f := range rows {
		for i := range rows[f] {
			if rows[f][i].Prev == ptv.NoLink && rows[f][i].Next != ptv.NoLink {
				stats.Started++
			}
		}
	}
	return rows, stats
}

// linkFrame links frame f forward into frame f+1.
func (l *Linker) linkFrame(rows [][]ptv.LinkRow, f int, stats *LinkStats) {
	cur, next := rows[f], rows[f+1]

	type cand struct {
		from, to int
		cost     float64
	}
	var cands []cand
	for i := range cur {
		if f > 0 && cur[i].Prev == ptv.NoLink && !l.tp.AddParticles {
			continue
		}
		vel, hasVel := l.velocity(rows, f, i)
		for j := range next {
			d := sub(next[j].Pos, cur[i].Pos)
			if !l.inVelocityBounds(d) {
				continue
			}
			cost := norm(d)
			if hasVel {
				if !l.acceptDynamics(vel, d) {
					continue
				}
				cost = norm(sub(d, vel))
			}
			cands = append(cands, cand{from: i, to: j, cost: cost})
		}
	}

	// Ascending-cost greedy assignment, each endpoint used once.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].cost < cands[j-1].cost; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	for _, c := range cands {
		if cur[c.from].Next != ptv.NoLink || next[c.to].Prev != ptv.NoLink {
			continue
		}
		cur[c.from].Next = c.to
		next[c.to].Prev = c.from
		stats.Links++
	}
}

// CloseGaps runs the backward pass: points that still have no incoming
// link search the previous frame for an unclaimed predecessor under the
// same bounds. Returns the number of links added.
func (l *Linker) CloseGaps(rows [][]ptv.LinkRow) int {
	added := 0
	for f := len(rows) - 1; f > 0; f-- {
		cur, prev := rows[f], rows[f-1]
		for i := range cur {
			if cur[i].Prev != ptv.NoLink {
				continue
			}
			best, bestCost := -1, math.Inf(1)
			for j := range prev {
				if prev[j].Next != ptv.NoLink {
					continue
				}
				d := sub(cur[i].Pos, prev[j].Pos)
				if !l.inVelocityBounds(d) {
					continue
				}
				if cost := norm(d); cost < bestCost {
					best, bestCost = j, cost
				}
			}
			if best >= 0 {
				prev[best].Next = i
				cur[i].Prev = best
				added++
			}
		}
	}
	return added
}

// velocity returns the established per-frame displacement of point i in
// frame f, derived from its incoming link.
func (l *Linker) velocity(rows [][]ptv.LinkRow, f, i int) (ptv.Vec3, bool) {
	if f == 0 || rows[f][i].Prev == ptv.NoLink {
		return ptv.Vec3{}, false
	}
	prev := rows[f-1][rows[f][i].Prev]
	return sub(rows[f][i].Pos, prev.Pos), true
}

func (l *Linker) inVelocityBounds(d ptv.Vec3) bool {
	return d.X >= l.tp.DVxMin && d.X <= l.tp.DVxMax &&
		d.Y >= l.tp.DVyMin && d.Y <= l.tp.DVyMax &&
		d.Z >= l.tp.DVzMin && d.Z <= l.tp.DVzMax
}

// acceptDynamics checks the direction-change and acceleration bounds
// between an established velocity and a candidate displacement.
func (l *Linker) acceptDynamics(vel, d ptv.Vec3) bool {
	if norm(sub(d, vel)) > l.tp.DAcc {
		return false
	}
	nv, nd := norm(vel), norm(d)
	if nv == 0 || nd == 0 {
		return true
	}
	cos := dot(vel, d) / (nv * nd)
	cos = math.Max(-1, math.Min(1, cos))
	angle := math.Acos(cos) * 180 / math.Pi
	return angle <= l.tp.DAngle
}

func sub(a, b ptv.Vec3) ptv.Vec3 {
	return ptv.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}
