package calib

import (
	"strings"
	"testing"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

// plane builds a synthetic plane whose ids run firstID..firstID+n-1.
func plane(base string, firstID, n int) Plane {
	p := Plane{Base: base}
	for i := 0; i < n; i++ {
		id := firstID + i
		p.Fix = append(p.Fix, ptv.FixPoint{ID: id, Pos: ptv.Vec3{X: float64(i)}})
		p.Crd = append(p.Crd, ptv.CoordPoint{ID: id, X: float64(i) * 0.1, Y: 0.5})
	}
	return p
}

func TestCombinePlanes_GlobalReindex(t *testing.T) {
	planes := []Plane{
		plane("a", 1, 3),
		plane("b", 1, 5),
		plane("c", 10, 2),
	}

	fix, crd, err := CombinePlanes(planes)
	if err != nil {
		t.Fatalf("CombinePlanes: %v", err)
	}
	if len(fix) != 10 || len(crd) != 10 {
		t.Fatalf("combined %d fix, %d crd points, want 10 each", len(fix), len(crd))
	}
	for i := 0; i < 10; i++ {
		if fix[i].ID != i {
			t.Errorf("fix[%d].ID = %d, want %d", i, fix[i].ID, i)
		}
		if crd[i].ID != i {
			t.Errorf("crd[%d].ID = %d, want %d", i, crd[i].ID, i)
		}
	}

	// Positions survive the renumbering untouched.
	if fix[3].Pos.X != 0 || crd[3].X != 0 {
		t.Errorf("second plane's first row moved: fix %+v, crd %+v", fix[3], crd[3])
	}
}

func TestCombinePlanes_Errors(t *testing.T) {
	good := plane("ok", 1, 3)

	countMismatch := plane("count", 1, 3)
	countMismatch.Crd = countMismatch.Crd[:2]

	sentinel := plane("sentinel", 1, 3)
	sentinel.Crd[1].ID = ptv.UnmatchedPnr

	disagree := plane("disagree", 1, 3)
	disagree.Crd[2].ID = 99

	gap := plane("gap", 1, 3)
	gap.Fix[2].ID = 9
	gap.Crd[2].ID = 9

	cases := []struct {
		name string
		p    Plane
		want string
	}{
		{"count mismatch", countMismatch, "detected points"},
		{"empty plane", Plane{Base: "empty"}, "empty point set"},
		{"unmatched sentinel", sentinel, "unmatched sentinel"},
		{"id disagreement", disagree, "does not match"},
		{"index gap", gap, "ascending gap-free"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := CombinePlanes([]Plane{good, tc.p})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
