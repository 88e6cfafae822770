// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package record defines the line-delimited wire formats exchanged between
// pipeline stages: the EDN-like pair-feature tuples between pairs and
// merge/scores, and the tab-separated alignment records emitted by scores.
package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Feature is one (key, totalFreq, tf1, tf2) tuple contributed to a
// candidate pair by a single n-gram. The enumerator always emits an
// empty Key; merge concatenates Features across repeated emissions for
// the same pair.
type Feature struct {
	Key       string
	TotalFreq int
	TF1       int
	TF2       int
}

// Pair is a candidate document pair together with the feature tuples
// that nominated it. Doc1 < Doc2 is an invariant enforced by every
// producer of a Pair.
type Pair struct {
	Doc1, Doc2 int
	Features   []Feature
}

// FeatureCount returns the number of feature tuples carried by the pair,
// the quantity PairMerger's --min-matches threshold is applied to.
func (p Pair) FeatureCount() int { return len(p.Features) }

// FormatPair renders p in the textual tuple form
// "[[docA docB] [[key totalFreq tf1 tf2] ...]]" used on the wire between
// pairs, merge, and scores.
func FormatPair(p Pair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[[%d %d] [", p.Doc1, p.Doc2)
	for i, f := range p.Features {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "[%q %d %d %d]", f.Key, f.TotalFreq, f.TF1, f.TF2)
	}
	b.WriteString("]]")
	return b.String()
}

var (
	pairHeadRe = regexp.MustCompile(`^\[\[(\d+)\s+(\d+)\]\s+\[(.*)\]\]$`)
	featureRe  = regexp.MustCompile(`\["((?:[^"\\]|\\.)*)"\s+(-?\d+)\s+(-?\d+)\s+(-?\d+)\]`)
)

// ParsePair parses one line produced by FormatPair. It returns an error
// for any line that doesn't match the expected tuple shape; callers
// should treat this as an input-format error and abort the stage.
func ParsePair(line string) (Pair, error) {
	line = strings.TrimSpace(line)
	m := pairHeadRe.FindStringSubmatch(line)
	if m == nil {
		return Pair{}, fmt.Errorf("record: malformed pair line: %q", line)
	}
	doc1, err := strconv.Atoi(m[1])
	if err != nil {
		return Pair{}, fmt.Errorf("record: bad doc1 in %q: %w", line, err)
	}
	doc2, err := strconv.Atoi(m[2])
	if err != nil {
		return Pair{}, fmt.Errorf("record: bad doc2 in %q: %w", line, err)
	}
	p := Pair{Doc1: doc1, Doc2: doc2}
	for _, fm := range featureRe.FindAllStringSubmatch(m[3], -1) {
		total, err := strconv.Atoi(fm[2])
		if err != nil {
			return Pair{}, fmt.Errorf("record: bad totalFreq in %q: %w", line, err)
		}
		tf1, err := strconv.Atoi(fm[3])
		if err != nil {
			return Pair{}, fmt.Errorf("record: bad tf1 in %q: %w", line, err)
		}
		tf2, err := strconv.Atoi(fm[4])
		if err != nil {
			return Pair{}, fmt.Errorf("record: bad tf2 in %q: %w", line, err)
		}
		p.Features = append(p.Features, Feature{
			Key:       unescape(fm[1]),
			TotalFreq: total,
			TF1:       tf1,
			TF2:       tf2,
		})
	}
	return p, nil
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// Alignment is one aligned passage between two documents, as emitted by
// the scores sub-command. Field order mirrors the aligner's 16-field
// TSV record exactly.
type Alignment struct {
	MatchLen1 int
	Frac1     float64 // matchLen1 / |w1|
	Frac2     float64 // matchLen2 / |w2|
	Matches   int
	Gaps      int
	SWScore   float64
	ID1, ID2  int
	Name1     string
	Name2     string
	S1, E1    int
	S2, E2    int
	Seq1      string
	Seq2      string
}

// MatchLen2 recovers matchLen2 from the stored fraction and document
// length; callers that have w2's length on hand should prefer computing
// it directly instead of inverting Frac2.
func (a Alignment) MatchLen2(len2 int) int {
	if len2 == 0 {
		return 0
	}
	return int(a.Frac2*float64(len2) + 0.5)
}

// FormatAlignment renders a as a tab-separated line in field order.
func FormatAlignment(a Alignment) string {
	fields := []string{
		strconv.Itoa(a.MatchLen1),
		formatFloat(a.Frac1),
		formatFloat(a.Frac2),
		strconv.Itoa(a.Matches),
		strconv.Itoa(a.Gaps),
		formatFloat(a.SWScore),
		strconv.Itoa(a.ID1),
		strconv.Itoa(a.ID2),
		a.Name1,
		a.Name2,
		strconv.Itoa(a.S1),
		strconv.Itoa(a.E1),
		strconv.Itoa(a.S2),
		strconv.Itoa(a.E2),
		a.Seq1,
		a.Seq2,
	}
	return strings.Join(fields, "\t")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseAlignment parses one line produced by FormatAlignment.
func ParseAlignment(line string) (Alignment, error) {
	f := strings.Split(line, "\t")
	if len(f) != 16 {
		return Alignment{}, fmt.Errorf("record: expected 16 fields, got %d: %q", len(f), line)
	}
	var a Alignment
	var err error
	if a.MatchLen1, err = strconv.Atoi(f[0]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad matchLen1: %w", err)
	}
	if a.Frac1, err = strconv.ParseFloat(f[1], 64); err != nil {
		return Alignment{}, fmt.Errorf("record: bad frac1: %w", err)
	}
	if a.Frac2, err = strconv.ParseFloat(f[2], 64); err != nil {
		return Alignment{}, fmt.Errorf("record: bad frac2: %w", err)
	}
	if a.Matches, err = strconv.Atoi(f[3]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad matches: %w", err)
	}
	if a.Gaps, err = strconv.Atoi(f[4]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad gaps: %w", err)
	}
	if a.SWScore, err = strconv.ParseFloat(f[5], 64); err != nil {
		return Alignment{}, fmt.Errorf("record: bad swscore: %w", err)
	}
	if a.ID1, err = strconv.Atoi(f[6]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad id1: %w", err)
	}
	if a.ID2, err = strconv.Atoi(f[7]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad id2: %w", err)
	}
	a.Name1 = f[8]
	a.Name2 = f[9]
	if a.S1, err = strconv.Atoi(f[10]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad s1: %w", err)
	}
	if a.E1, err = strconv.Atoi(f[11]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad e1: %w", err)
	}
	if a.S2, err = strconv.Atoi(f[12]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad s2: %w", err)
	}
	if a.E2, err = strconv.Atoi(f[13]); err != nil {
		return Alignment{}, fmt.Errorf("record: bad e2: %w", err)
	}
	a.Seq1 = f[14]
	a.Seq2 = f[15]
	return a, nil
}

// Swapped returns a with the two sides of the alignment exchanged: ids,
// names, spans and sequences swap, while Matches, Gaps and SWScore (and
// MatchLen1+MatchLen2, via Frac1/Frac2 swapping alongside MatchLen1) are
// preserved. This mirrors the alignment's expected symmetry property.
func (a Alignment) Swapped(len1, len2 int) Alignment {
	matchLen2 := a.MatchLen2(len2)
	s := a
	s.ID1, s.ID2 = a.ID2, a.ID1
	s.Name1, s.Name2 = a.Name2, a.Name1
	s.S1, s.E1, s.S2, s.E2 = a.S2, a.E2, a.S1, a.E1
	s.Seq1, s.Seq2 = a.Seq2, a.Seq1
	s.MatchLen1 = matchLen2
	if len2 != 0 {
		s.Frac1 = float64(matchLen2) / float64(len2)
	}
	if len1 != 0 {
		s.Frac2 = float64(a.MatchLen1) / float64(len1)
	}
	return s
}
