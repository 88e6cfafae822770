// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package align

import (
	"strings"

	"github.com/biogo/biogo/alphabet"
)

// gapLetter marks an inserted gap in a rendered alignment. Input text is
// not filtered, so a literal '-' in either input is rendered the same
// way as a gap.
const gapLetter = alphabet.Letter('-')

// Params holds Smith-Waterman-Gotoh affine gap parameters. The quote
// hunter uses GapOpen=5, GapExtend=0.5.
type Params struct {
	GapOpen   float64
	GapExtend float64
}

// DefaultParams matches the quote hunter's documented configuration.
var DefaultParams = Params{GapOpen: 5, GapExtend: 0.5}

// Result is the outcome of a local alignment: the gapped strings with
// '-' markers, the half-open character bounds the alignment covers in
// each input, and summary statistics.
type Result struct {
	Seq1, Seq2    string
	Start1, End1  int
	Start2, End2  int
	Matches, Gaps int
	SWScore       float64
}

// SWGAlign performs Smith-Waterman-Gotoh local alignment with affine gap
// penalties over two byte strings, scoring with an identity matrix:
// matching characters score +1, any mismatch -1. Sequences are
// converted through alphabet.BytesToLetters the same way a
// BLAST-backed caller converts extracted FASTA ranges before handing
// them to biogo, keeping the type discipline consistent even though
// the dynamic program itself is hand-written (biogo's align.SWAffine
// targets its own seq.Slicer/feat.Pair machinery tuned for
// nucleotide/protein alphabets, not arbitrary Unicode text with this
// package's exact parameterization; see DESIGN.md).
func SWGAlign(a, b []byte, p Params) Result {
	la := alphabet.BytesToLetters(a)
	lb := alphabet.BytesToLetters(b)
	n, m := len(la), len(lb)
	if n == 0 || m == 0 {
		return Result{}
	}

	type cell struct{ h, e, f float64 }
	// tb encodes the traceback choice taken to reach each H cell.
	const (
		tbNone = iota
		tbDiag
		tbUp
		tbLeft
	)
	grid := make([][]cell, n+1)
	tb := make([][]byte, n+1)
	for i := range grid {
		grid[i] = make([]cell, m+1)
		tb[i] = make([]byte, m+1)
	}

	neg := -1e18
	for j := 1; j <= m; j++ {
		grid[0][j] = cell{h: 0, e: neg, f: neg}
	}
	for i := 1; i <= n; i++ {
		grid[i][0] = cell{h: 0, e: neg, f: neg}
	}

	best := 0.0
	bestI, bestJ := 0, 0
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			e := max2(grid[i][j-1].h-p.GapOpen, grid[i][j-1].e-p.GapExtend)
			f := max2(grid[i-1][j].h-p.GapOpen, grid[i-1][j].f-p.GapExtend)
			diag := grid[i-1][j-1].h + score(la[i-1], lb[j-1])
			h := 0.0
			choice := byte(tbNone)
			if diag > h {
				h, choice = diag, tbDiag
			}
			if e > h {
				h, choice = e, tbLeft
			}
			if f > h {
				h, choice = f, tbUp
			}
			grid[i][j] = cell{h: h, e: e, f: f}
			tb[i][j] = choice
			if h > best {
				best, bestI, bestJ = h, i, j
			}
		}
	}

	if best <= 0 {
		return Result{}
	}

	var s1, s2 strings.Builder
	i, j := bestI, bestJ
	matches, gaps := 0, 0
	inGap := false
	for i > 0 && j > 0 && grid[i][j].h > 0 {
		switch tb[i][j] {
		case tbDiag:
			s1.WriteRune(rune(la[i-1]))
			s2.WriteRune(rune(lb[j-1]))
			if la[i-1] == lb[j-1] {
				matches++
			}
			i--
			j--
			inGap = false
		case tbLeft:
			s1.WriteRune(rune(gapLetter))
			s2.WriteRune(rune(lb[j-1]))
			if !inGap {
				gaps++
			}
			inGap = true
			j--
		case tbUp:
			s1.WriteRune(rune(la[i-1]))
			s2.WriteRune(rune(gapLetter))
			if !inGap {
				gaps++
			}
			inGap = true
			i--
		default:
			i, j = 0, 0
		}
	}

	rev1 := reverseString(s1.String())
	rev2 := reverseString(s2.String())
	return Result{
		Seq1:    rev1,
		Seq2:    rev2,
		Start1:  i,
		End1:    bestI,
		Start2:  j,
		End2:    bestJ,
		Matches: matches,
		Gaps:    gaps,
		SWScore: best,
	}
}

// score implements an identity substitution matrix:
// equal characters score +1, any mismatch scores -1. Case is
// significant, matching the quote hunter's character-level alignment
// of raw document text.
func score(x, y alphabet.Letter) float64 {
	if x == y {
		return 1
	}
	return -1
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
