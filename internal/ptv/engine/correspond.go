package engine

import (
	"sort"

	"github.com/tracerlab/flowtrace/internal/params"
	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Correspond searches one frame's detections for multi-camera matches.
// Every target casts an undistorted world ray; two targets are candidate
// partners when their rays pass within vp.Eps0 of each other, the midpoint
// of the closest approach lies inside the illuminated volume, and the
// targets look alike under the similarity tolerances. Candidates are
// assigned greedily by ascending ray distance, growing tuples across
// cameras; each target joins at most one tuple.
//
// With allCam set, only tuples covering every camera survive. Accepted
// tuples are triangulated and filed under their multiplicity class.
func Correspond(cams []*Camera, targets [][]ptv.Target, vp params.VolumeParams, allCam bool) (*ptv.CorrespondenceSet, error) {
	type ray struct {
		origin, dir ptv.Vec3
		flat        [2]float64
	}
	rays := make([][]ray, len(cams))
	for ci, cam := range cams {
		rays[ci] = make([]ray, len(targets[ci]))
		for ti := range targets[ci] {
			fx, fy := cam.TargetFlat(targets[ci][ti])
			o, d := cam.Ray(fx, fy)
			rays[ci][ti] = ray{origin: o, dir: d, flat: [2]float64{fx, fy}}
		}
	}

	type candidate struct {
		c1, t1, c2, t2 int
		dist           float64
	}
	var candidates []candidate
	for c1 := 0; c1 < len(cams); c1++ {
		for c2 := c1 + 1; c2 < len(cams); c2++ {
			for t1 := range targets[c1] {
				for t2 := range targets[c2] {
					if !similar(&targets[c1][t1], &targets[c2][t2], vp) {
						continue
					}
					r1, r2 := rays[c1][t1], rays[c2][t2]
					dist, mid := rayDistance(r1.origin, r1.dir, r2.origin, r2.dir)
					if dist > vp.Eps0 || !inVolume(mid, vp) {
						continue
					}
					candidates = append(candidates, candidate{c1, t1, c2, t2, dist})
				}
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	// Grow tuples: the best pair opens a tuple, later candidates extend it
	// into cameras it does not cover yet.
	type tuple struct {
		members [ptv.MaxCameras]int
	}
	var tuples []tuple
	assigned := make([]map[int]int, len(cams)) // target index -> tuple index
	for ci := range assigned {
		assigned[ci] = make(map[int]int)
	}
	for _, c := range candidates {
		i1, ok1 := assigned[c.c1][c.t1]
		i2, ok2 := assigned[c.c2][c.t2]
		switch {
		case !ok1 && !ok2:
			tp := tuple{}
			for i := range tp.members {
				tp.members[i] = ptv.NoCamera
			}
			tp.members[c.c1] = c.t1
			tp.members[c.c2] = c.t2
			tuples = append(tuples, tp)
			assigned[c.c1][c.t1] = len(tuples) - 1
			assigned[c.c2][c.t2] = len(tuples) - 1
		case ok1 && !ok2:
			if tuples[i1].members[c.c2] == ptv.NoCamera {
				tuples[i1].members[c.c2] = c.t2
				assigned[c.c2][c.t2] = i1
			}
		case !ok1 && ok2:
			if tuples[i2].members[c.c1] == ptv.NoCamera {
				tuples[i2].members[c.c1] = c.t1
				assigned[c.c1][c.t1] = i2
			}
		}
	}

	set := ptv.NewCorrespondenceSet()
	for _, tp := range tuples {
		var tcams []*Camera
		var flat [][2]float64
		mult := 0
		for ci, ti := range tp.members[:len(cams)] {
			if ti == ptv.NoCamera {
				continue
			}
			mult++
			tcams = append(tcams, cams[ci])
			flat = append(flat, rays[ci][ti].flat)
		}
		if mult < 2 || (allCam && mult < len(cams)) {
			continue
		}
		pos, err := Triangulate(tcams, flat)
		if err != nil {
			ptv.Diagf("correspondence: dropping tuple: %v", err)
			continue
		}
		p := ptv.CorresPoint{Pos: pos, Targets: tp.members}
		set.Add(p)
	}
	return set, nil
}

// similar applies the pixel-statistics tolerances: each feature ratio
// (smaller over larger) is weighted and the combined measure must reach
// CorrMin. Zero tolerances and a zero CorrMin disable the check.
func similar(a, b *ptv.Target, vp params.VolumeParams) bool {
	if vp.CorrMin <= 0 {
		return true
	}
	num, den := 0.0, 0.0
	for _, f := range []struct {
		w    float64
		x, y int
	}{
		{vp.CN, a.N, b.N},
		{vp.CNX, a.NX, b.NX},
		{vp.CNY, a.NY, b.NY},
		{vp.CSumG, a.SumG, b.SumG},
	} {
		if f.w <= 0 {
			continue
		}
		num += f.w * ratio(f.x, f.y)
		den += f.w
	}
	if den == 0 {
		return true
	}
	return num/den >= vp.CorrMin
}

func ratio(a, b int) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// inVolume checks the illuminated slab: x within the layer bounds, z
// within the bounds interpolated between the two layer edges.
func inVolume(p ptv.Vec3, vp params.VolumeParams) bool {
	x0, x1 := vp.XLay[0], vp.XLay[1]
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if p.X < x0 || p.X > x1 {
		return false
	}
	t := 0.5
	if x1 > x0 {
		t = (p.X - x0) / (x1 - x0)
	}
	zMin := vp.ZMin[0] + t*(vp.ZMin[1]-vp.ZMin[0])
	zMax := vp.ZMax[0] + t*(vp.ZMax[1]-vp.ZMax[0])
	return p.Z >= zMin && p.Z <= zMax
}
