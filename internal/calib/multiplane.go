package calib

import (
	"fmt"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Plane is one independently captured calibration plane: the surveyed
// control points and one camera's matched detections, row-aligned. Each
// plane base contributes <base>.fix (known points, shared by all cameras)
// and <base>.c<N>.crd (camera N's detections, 1-based).
type Plane struct {
	Base string
	Fix  []ptv.FixPoint
	Crd  []ptv.CoordPoint
}

// loadPlanes reads every configured plane for one camera.
func (s *Session) loadPlanes(cam int) ([]Plane, error) {
	planes := make([]Plane, 0, s.mp.NumPlanes())
	for _, base := range s.mp.PlaneNames {
		fix, err := ptv.ReadFixPointsFS(s.fs, s.ws.Resolve(base+".fix"))
		if err != nil {
			return nil, err
		}
		crd, err := ptv.ReadCoordPointsFS(s.fs, s.ws.Resolve(fmt.Sprintf("%s.c%d.crd", base, cam+1)))
		if err != nil {
			return nil, err
		}
		planes = append(planes, Plane{Base: base, Fix: fix, Crd: crd})
	}
	return planes, nil
}

// CombinePlanes concatenates multiple planes' point sets into one,
// re-numbering indices so they stay globally unique: each plane's indices
// are offset past the maximum index assigned to the previous plane.
//
// A plane whose detected-point count differs from its known-point count,
// or whose detected set carries unmatched sentinels, is a fatal input
// error: refinement must never silently drop points. Indices within a
// plane must be ascending and gap-free; the offset scheme assumes it, so
// it is checked rather than assumed.
func CombinePlanes(planes []Plane) ([]ptv.FixPoint, []ptv.CoordPoint, error) {
	var fix []ptv.FixPoint
	var crd []ptv.CoordPoint
	offset := 0
	for _, p := range planes {
		if len(p.Fix) != len(p.Crd) {
			return nil, nil, fmt.Errorf("plane %s: %d detected points for %d known points",
				p.Base, len(p.Crd), len(p.Fix))
		}
		if len(p.Fix) == 0 {
			return nil, nil, fmt.Errorf("plane %s: empty point set", p.Base)
		}
		for i := range p.Fix {
			if p.Crd[i].ID == ptv.UnmatchedPnr {
				return nil, nil, fmt.Errorf("plane %s: row %d carries an unmatched sentinel", p.Base, i)
			}
			if p.Fix[i].ID != p.Crd[i].ID {
				return nil, nil, fmt.Errorf("plane %s: row %d: known id %d does not match detected id %d",
					p.Base, i, p.Fix[i].ID, p.Crd[i].ID)
			}
			if i > 0 && p.Fix[i].ID != p.Fix[i-1].ID+1 {
				return nil, nil, fmt.Errorf("plane %s: indices not ascending gap-free at row %d", p.Base, i)
			}
		}
		for i := range p.Fix {
			f := p.Fix[i]
			c := p.Crd[i]
			f.ID = offset + i
			c.ID = offset + i
			fix = append(fix, f)
			crd = append(crd, c)
		}
		offset += len(p.Fix)
	}
	return fix, crd, nil
}
