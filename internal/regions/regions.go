package regions

import (
	"sort"

	"github.com/cadenzalab/ensemble-backend/internal/models"
)

// Region is a derived, display-only clustering of nearby notes on a track: a
// half-open interval [Start, End) covering every assigned note's interval.
// Regions are recomputed from scratch on every track mutation and never
// mutated directly.
type Region struct {
	Start float64             `json:"start"`
	End   float64             `json:"end"`
	Notes []*models.NoteEvent `json:"notes"`
}

// GapForMeasure is the empirical clustering distance: two measures.
func GapForMeasure(measureLength float64) float64 {
	return 2 * measureLength
}

// Compute clusters a track's notes into a minimal set of disjoint regions.
// Any two notes whose intervals lie within regionGap of each other (overlap
// included) end up in the same region. Stateless: safe to rerun on every
// event mutation.
//
// Two passes. Pass one walks the notes in canonical (start, id) order and
// either grows the first region within regionGap of the note, or seeds a
// fresh region at [start, start+max(duration, measureLength)). Pass two
// unions any regions whose grown bounds landed within regionGap of each
// other, grouping indices with a union-find rather than a greedy scan, so
// the output is minimal and disjoint no matter how pass one grouped. The
// canonical walk
// order makes the output a pure function of the note set: which note seeds a
// cluster decides how much measure padding its region gets, so walking in
// raw insertion order would leak edit history into the display.
func Compute(events []*models.NoteEvent, measureLength, regionGap float64) []Region {
	ordered := make([]*models.NoteEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].ID < ordered[j].ID
	})

	var regs []Region
	for _, e := range ordered {
		start, end := e.Start, e.Start+e.Duration
		placed := false
		for i := range regs {
			if withinGap(regs[i].Start, regs[i].End, start, end, regionGap) {
				if start < regs[i].Start {
					regs[i].Start = start
				}
				if end > regs[i].End {
					regs[i].End = end
				}
				regs[i].Notes = append(regs[i].Notes, e)
				placed = true
				break
			}
		}
		if !placed {
			seedEnd := e.Start + e.Duration
			if minEnd := e.Start + measureLength; minEnd > seedEnd {
				seedEnd = minEnd
			}
			regs = append(regs, Region{Start: start, End: seedEnd, Notes: []*models.NoteEvent{e}})
		}
	}
	return mergeWithinGap(regs, regionGap)
}

// mergeWithinGap unions regions whose grown bounds sit within regionGap of
// each other, running over every pair of indices.
func mergeWithinGap(regs []Region, regionGap float64) []Region {
	if len(regs) < 2 {
		return regs
	}
	uf := newUnionFind(len(regs))
	for i := 0; i < len(regs); i++ {
		for j := i + 1; j < len(regs); j++ {
			if withinGap(regs[i].Start, regs[i].End, regs[j].Start, regs[j].End, regionGap) {
				uf.union(i, j)
			}
		}
	}

	grouped := make(map[int]*Region)
	var order []int
	for i := range regs {
		root := uf.find(i)
		g, ok := grouped[root]
		if !ok {
			r := regs[i]
			grouped[root] = &r
			order = append(order, root)
			continue
		}
		if regs[i].Start < g.Start {
			g.Start = regs[i].Start
		}
		if regs[i].End > g.End {
			g.End = regs[i].End
		}
		g.Notes = append(g.Notes, regs[i].Notes...)
	}

	merged := make([]Region, 0, len(order))
	for _, root := range order {
		merged = append(merged, *grouped[root])
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// withinGap reports whether the half-open intervals [s1,e1) and [s2,e2) are
// at most gap apart; overlapping intervals count as distance zero.
func withinGap(s1, e1, s2, e2, gap float64) bool {
	return s2-e1 <= gap && s1-e2 <= gap
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri != rj {
		uf.parent[rj] = ri
	}
}
