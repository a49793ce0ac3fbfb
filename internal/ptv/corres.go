package ptv

// CorrespondenceSet groups one frame's matches by multiplicity class:
// Classes[0] holds pairs, Classes[1] triplets, and so on up to
// MaxCameras-tuples.
type CorrespondenceSet struct {
	Classes [][]CorresPoint
}

// NewCorrespondenceSet returns an empty set with every class allocated.
func NewCorrespondenceSet() *CorrespondenceSet {
	return &CorrespondenceSet{Classes: make([][]CorresPoint, MaxCameras-1)}
}

// Add files a match under its multiplicity class. Matches with fewer
// than two contributing cameras are ignored.
func (s *CorrespondenceSet) Add(p CorresPoint) {
	m := p.Multiplicity()
	if m < 2 {
		return
	}
	s.Classes[m-2] = append(s.Classes[m-2], p)
}

// Count returns the total number of matches across all classes.
func (s *CorrespondenceSet) Count() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c)
	}
	return n
}

// ClassCounts returns the per-class match counts, pairs first.
func (s *CorrespondenceSet) ClassCounts() []int {
	counts := make([]int, len(s.Classes))
	for i, c := range s.Classes {
		counts[i] = len(c)
	}
	return counts
}

// Flatten orders the set for persistence: highest multiplicity first,
// point numbers reassigned sequentially.
func (s *CorrespondenceSet) Flatten() []CorresPoint {
	out := make([]CorresPoint, 0, s.Count())
	for i := len(s.Classes) - 1; i >= 0; i-- {
		out = append(out, s.Classes[i]...)
	}
	for i := range out {
		out[i].Pnr = i
	}
	return out
}
