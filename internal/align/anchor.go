// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package align

import (
	"sort"

	"github.com/biogo/store/interval"
)

// Hit is one matched n-gram anchor: the token position it starts at in
// each of the two documents being compared.
type Hit struct {
	Pos1, Pos2 int
}

// Span is a candidate passage: a token-offset region in each document
// dense enough in anchor hits to be worth a full local alignment.
type Span struct {
	Start1, End1 int
	Start2, End2 int
	HitCount     int
}

// defaultMaxGap bounds how far apart (in token positions) two
// consecutive anchors may be while still belonging to the same chain,
// the same k-mer "tube" filtering a seed-and-extend aligner applies
// before its own DP stage.
const defaultMaxGap = 50

// defaultMinDensity is the minimum fraction of a span's token span that
// must be covered by distinct anchor starts for the span to be kept.
const defaultMinDensity = 0.05

// BestPassages chains anchor hits into zero or more dense passages by
// walking a sequence of n-gram hits. ngram is the n-gram length hits
// were drawn from, used to extend each hit's single-token anchor into
// its full covered span. The contract: a returned Span's bounds
// contain a region where matched-n-gram density exceeds a threshold
// and no internal gap between anchors exceeds a maximum.
func BestPassages(hits []Hit, ngram int) []Span {
	if len(hits) == 0 {
		return nil
	}
	sorted := make([]Hit, len(hits))
	copy(sorted, hits)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Pos1 != sorted[j].Pos1 {
			return sorted[i].Pos1 < sorted[j].Pos1
		}
		return sorted[i].Pos2 < sorted[j].Pos2
	})

	var spans []Span
	chainStart := 0
	flush := func(end int) {
		chain := sorted[chainStart:end]
		s := spanOf(chain, ngram)
		width := s.End1 - s.Start1
		if width <= 0 {
			return
		}
		density := float64(s.HitCount) / float64(width)
		if density >= defaultMinDensity {
			spans = append(spans, s)
		}
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		gap1 := cur.Pos1 - prev.Pos1
		gap2 := cur.Pos2 - prev.Pos2
		if gap2 < 0 {
			gap2 = -gap2
		}
		if gap1 > defaultMaxGap || gap2 > defaultMaxGap {
			flush(i)
			chainStart = i
		}
	}
	flush(len(sorted))
	return spans
}

// CullContained drops any passage whose first-document span is wholly
// contained within a denser passage: build an interval tree over the
// Start1:End1 ranges, then discard any span a higher-HitCount span
// completely covers.
func CullContained(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	var tree interval.IntTree
	for i, s := range spans {
		if err := tree.Insert(passageInterval{uid: uintptr(i), idx: i, Span: s}, true); err != nil {
			panic(err)
		}
	}
	tree.AdjustRanges()
	var kept []Span
outer:
	for i, s := range spans {
		for _, h := range tree.Get(passageInterval{Span: s}) {
			c := h.(passageInterval)
			if c.idx == i {
				continue
			}
			if c.HitCount > s.HitCount {
				continue outer
			}
		}
		kept = append(kept, s)
	}
	return kept
}

type passageInterval struct {
	uid uintptr
	idx int
	Span
}

// Overlap returns whether the b interval completely contains i.
func (i passageInterval) Overlap(b interval.IntRange) bool {
	return b.Start <= i.Start1 && i.End1 <= b.End
}
func (i passageInterval) ID() uintptr { return i.uid }
func (i passageInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.Start1, End: i.End1}
}

func spanOf(hits []Hit, ngram int) Span {
	s := Span{
		Start1: hits[0].Pos1,
		End1:   hits[0].Pos1 + ngram,
		Start2: hits[0].Pos2,
		End2:   hits[0].Pos2 + ngram,
	}
	seen := make(map[int]bool, len(hits))
	for _, h := range hits {
		if h.Pos1 < s.Start1 {
			s.Start1 = h.Pos1
		}
		if h.Pos1+ngram > s.End1 {
			s.End1 = h.Pos1 + ngram
		}
		if h.Pos2 < s.Start2 {
			s.Start2 = h.Pos2
		}
		if h.Pos2+ngram > s.End2 {
			s.End2 = h.Pos2 + ngram
		}
		if !seen[h.Pos1] {
			seen[h.Pos1] = true
			s.HitCount++
		}
	}
	return s
}
