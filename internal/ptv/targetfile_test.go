package ptv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTargetsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam1.0001_targets")
	orig := []Target{
		{Pnr: 0, X: 12.25, Y: 103.5, N: 25, NX: 5, NY: 5, SumG: 2550, Tnr: UnlinkedTnr},
		{Pnr: 1, X: 500.0, Y: 12.75, N: 9, NX: 3, NY: 3, SumG: 801, Tnr: 4},
		{Pnr: UnmatchedPnr, X: 0.5, Y: 0.5, N: 1, NX: 1, NY: 1, SumG: 30, Tnr: UnlinkedTnr},
	}
	if err := WriteTargets(path, orig); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	got, err := ReadTargets(path)
	if err != nil {
		t.Fatalf("read targets: %v", err)
	}
	if len(got) != len(orig) {
		t.Fatalf("got %d targets, want %d", len(got), len(orig))
	}
	for i := range orig {
		if got[i] != orig[i] {
			t.Errorf("target %d: got %+v, want %+v", i, got[i], orig[i])
		}
	}
}

func TestWriteTargetsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty_targets")
	if err := WriteTargets(path, nil); err != nil {
		t.Fatalf("write empty targets: %v", err)
	}
	got, err := ReadTargets(path)
	if err != nil {
		t.Fatalf("read empty targets: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d targets from empty file, want 0", len(got))
	}
}

func TestReadTargetsCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_targets")
	content := "5\n" +
		"0 1.0 2.0 4 2 2 100 -1\n" +
		"1 3.0 4.0 4 2 2 100 -1\n" +
		"2 5.0 6.0 4 2 2 100 -1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadTargets(path)
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("count mismatch: got %v, want ErrMalformedFile", err)
	}
}

func TestReadTargetsMissingFile(t *testing.T) {
	_, err := ReadTargets(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file: got %v, want ErrFileNotFound", err)
	}
}

func TestReadTargetsBadColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badcol_targets")
	content := "1\n0 1.0 oops 4 2 2 100 -1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadTargets(path)
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("bad column: got %v, want ErrMalformedFile", err)
	}
}

func TestSortByVertical(t *testing.T) {
	ts := []Target{
		{Pnr: 7, X: 50, Y: 200},
		{Pnr: 3, X: 10, Y: 100},
		{Pnr: 9, X: 5, Y: 100},
	}
	SortByVertical(ts)

	wantXY := [][2]float64{{5, 100}, {10, 100}, {50, 200}}
	for i, w := range wantXY {
		if ts[i].X != w[0] || ts[i].Y != w[1] {
			t.Errorf("position %d: got (%v,%v), want (%v,%v)", i, ts[i].X, ts[i].Y, w[0], w[1])
		}
		if ts[i].Pnr != i {
			t.Errorf("position %d: Pnr = %d, want %d", i, ts[i].Pnr, i)
		}
	}
}

func TestCountMatched(t *testing.T) {
	ts := []Target{
		{Pnr: 0},
		{Pnr: UnmatchedPnr},
		{Pnr: 2},
		{Pnr: UnmatchedPnr},
	}
	if got := CountMatched(ts); got != 2 {
		t.Errorf("CountMatched = %d, want 2", got)
	}
}
