// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worddiff implements an optional word-level diff utility:
// given an aligned pair of raw strings, it flags isolated word
// substitutions (a single differing word surrounded by matching
// neighbors) and renders them as a date-ordered TSV.
package worddiff

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/biogo/store/step"
)

// Pair is one whitespace-aligned word correspondence between two
// aligned raw strings.
type Pair struct {
	Word1, Word2 string
}

// AlignedWords splits two gapped alignment strings on whitespace and
// zips the resulting words positionally, the same correspondence the
// source's word-diff utility assumes between an aligner's Seq1/Seq2
// output.
func AlignedWords(seq1, seq2 string) []Pair {
	w1 := strings.Fields(seq1)
	w2 := strings.Fields(seq2)
	n := len(w1)
	if len(w2) < n {
		n = len(w2)
	}
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		pairs[i] = Pair{Word1: w1[i], Word2: w2[i]}
	}
	return pairs
}

// Config holds the diff window's tunables.
type Config struct {
	// Gram is the window width centered on the candidate substitution;
	// it is forced odd so a single word sits at the center. Zero means
	// a window of 5.
	Gram int
	Dict map[string]bool
}

func (c Config) gram() int {
	g := c.Gram
	if g <= 0 {
		g = 5
	}
	if g%2 == 0 {
		g++
	}
	return g
}

// Substitution is one flagged isolated word substitution.
type Substitution struct {
	Doc   string
	Date  string
	Pos   int
	Word1 string
	Word2 string
}

// Find scans pairs for windows whose central pair differs while every
// neighbor in the window matches, both words exceed 7 characters, and
// both appear in cfg.Dict.
func Find(doc, date string, pairs []Pair, cfg Config) []Substitution {
	gram := cfg.gram()
	half := gram / 2
	var subs []Substitution
	for i := half; i+half < len(pairs); i++ {
		center := pairs[i]
		if center.Word1 == center.Word2 {
			continue
		}
		if len(center.Word1) <= 7 || len(center.Word2) <= 7 {
			continue
		}
		if !cfg.Dict[center.Word1] || !cfg.Dict[center.Word2] {
			continue
		}
		isolated := true
		for j := i - half; j <= i+half; j++ {
			if j == i {
				continue
			}
			if pairs[j].Word1 != pairs[j].Word2 {
				isolated = false
				break
			}
		}
		if !isolated {
			continue
		}
		subs = append(subs, Substitution{Doc: doc, Date: date, Pos: i, Word1: center.Word1, Word2: center.Word2})
	}
	return subs
}

// marker is a step.Equaler wrapping a single "already reported" bit.
type marker bool

func (m marker) Equal(e step.Equaler) bool { return m == e.(marker) }

// Deduper suppresses repeat reports of the same word position within
// the same document across multiple overlapping alignment records (a
// document can appear in many pairs over a run). It keeps one
// biogo/store/step.Vector per document, marking each reported word
// position so later overlapping records don't repeat it.
type Deduper struct {
	seen map[string]*step.Vector
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]*step.Vector)}
}

// Mark records pos as reported for doc and returns true the first time
// it is seen, false on every subsequent call for the same (doc, pos).
func (d *Deduper) Mark(doc string, pos int) bool {
	v, ok := d.seen[doc]
	if !ok {
		var err error
		v, err = step.New(0, 1, marker(false))
		if err != nil {
			panic(err)
		}
		v.Relaxed = true
		d.seen[doc] = v
	}
	var already bool
	err := v.ApplyRange(pos, pos+1, func(e step.Equaler) step.Equaler {
		already = bool(e.(marker))
		return marker(true)
	})
	if err != nil {
		panic(err)
	}
	return !already
}

// Filter removes substitutions the Deduper has already seen, marking
// each surviving one as seen.
func (d *Deduper) Filter(subs []Substitution) []Substitution {
	var kept []Substitution
	for _, s := range subs {
		if d.Mark(s.Doc, s.Pos) {
			kept = append(kept, s)
		}
	}
	return kept
}

// WriteTSV renders subs ordered by document date, then
// by document name and position for determinism among same-date
// entries.
func WriteTSV(w io.Writer, subs []Substitution) error {
	sorted := make([]Substitution, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		if sorted[i].Doc != sorted[j].Doc {
			return sorted[i].Doc < sorted[j].Doc
		}
		return sorted[i].Pos < sorted[j].Pos
	})
	bw := bufio.NewWriter(w)
	for _, s := range sorted {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%d\t%s\t%s\n", s.Date, s.Doc, s.Pos, s.Word1, s.Word2); err != nil {
			return err
		}
	}
	return bw.Flush()
}
