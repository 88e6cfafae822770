// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pairalign implements the PairAligner stage:
// for each merged candidate pair, chain shared n-gram anchors into
// passages (or, with ngram=0, take the whole document pair), locally
// align each passage with Smith-Waterman-Gotoh, and emit the resulting
// alignment records.
package pairalign

import (
	"fmt"
	"sort"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/align"
	"github.com/textreuse/passim/internal/ngram"
	"github.com/textreuse/passim/internal/record"
)

// Config holds the scores sub-command's tunables.
type Config struct {
	Ngram  int
	Params align.Params
}

// Stats counts aligner degradations: the fallback path must be
// counted and reported, not silently swallowed.
type Stats struct {
	Pairs    int
	Degraded int
	Emitted  int
}

// Run aligns one merged pair and calls emit for every resulting
// alignment record. Per-passage alignment panics (the Go analogue of
// the source's caught OutOfMemoryError/Exception) are recovered and
// treated as alignment failures, falling back:
// a full-document alignment failure (ngram=0) falls back to the anchor
// passages; if nothing at all can be emitted, a single zero-span
// Alignment is emitted instead.
func Run(store index.Store, pair record.Pair, cfg Config, stats *Stats, emit func(record.Alignment) error) (err error) {
	stats.Pairs++
	defer func() {
		if r := recover(); r != nil {
			stats.Degraded++
			err = emitZero(store, pair, emit)
		}
	}()

	d1, e1 := store.DocTokens(pair.Doc1)
	if e1 != nil {
		return fmt.Errorf("pairalign: doc %d: %w", pair.Doc1, e1)
	}
	d2, e2 := store.DocTokens(pair.Doc2)
	if e2 != nil {
		return fmt.Errorf("pairalign: doc %d: %w", pair.Doc2, e2)
	}

	anchors := align.CullContained(anchorPassages(d1.Terms, d2.Terms, cfg.Ngram))

	var primary []align.Span
	if cfg.Ngram == 0 {
		primary = []align.Span{{Start1: 0, End1: len(d1.Terms), Start2: 0, End2: len(d2.Terms)}}
	} else {
		primary = anchors
	}

	any, sawFailure, err := emitPassages(d1, d2, pair, primary, cfg, stats, emit)
	if err != nil {
		return err
	}
	if !any && sawFailure && cfg.Ngram == 0 {
		stats.Degraded++
		if any, _, err = emitPassages(d1, d2, pair, anchors, cfg, stats, emit); err != nil {
			return err
		}
	}
	if !any {
		stats.Degraded++
		return emitZero(store, pair, emit)
	}
	return nil
}

func emitPassages(d1, d2 index.Document, pair record.Pair, passages []align.Span, cfg Config, stats *Stats, emit func(record.Alignment) error) (any, sawFailure bool, err error) {
	for _, p := range passages {
		if p.End1-p.Start1 < cfg.Ngram {
			continue
		}
		rec, ok, failed := safeAlignPassage(d1, d2, pair.Doc1, pair.Doc2, p, cfg.Params)
		if failed {
			sawFailure = true
			continue
		}
		if !ok {
			continue
		}
		any = true
		stats.Emitted++
		if err := emit(rec); err != nil {
			return any, sawFailure, err
		}
	}
	return any, sawFailure, nil
}

func safeAlignPassage(d1, d2 index.Document, id1, id2 int, p align.Span, params align.Params) (rec record.Alignment, ok, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			failed = true
		}
	}()
	rec, ok = alignPassage(d1, d2, id1, id2, p, params)
	return rec, ok, false
}

// anchorPassages recomputes shared n-gram anchor positions directly
// from the two token sequences and chains them into candidate passages.
// The pair record's feature counts are only used upstream
// (PairEnumerator/PairMerger) to decide whether a pair is worth
// aligning at all.
func anchorPassages(w1, w2 []string, n int) []align.Span {
	gram := n
	if gram <= 0 {
		gram = 1
	}
	if len(w1) < gram || len(w2) < gram {
		return nil
	}
	byKey := make(map[string][]int)
	for i := 0; i+gram <= len(w1); i++ {
		k := ngram.Key(w1[i : i+gram])
		byKey[k] = append(byKey[k], i)
	}
	var hits []align.Hit
	for j := 0; j+gram <= len(w2); j++ {
		k := ngram.Key(w2[j : j+gram])
		for _, i := range byKey[k] {
			hits = append(hits, align.Hit{Pos1: i, Pos2: j})
		}
	}
	return align.BestPassages(hits, gram)
}

// alignPassage runs SWGAlign over the character span covered by p and
// renders the resulting alignment record, narrowing the reported token
// bounds to whatever span of tokens the local alignment actually
// covered.
func alignPassage(d1, d2 index.Document, id1, id2 int, p align.Span, params align.Params) (record.Alignment, bool) {
	c1s, c1e := charRange(d1, p.Start1, p.End1)
	c2s, c2e := charRange(d2, p.Start2, p.End2)
	if c1s < 0 || c2s < 0 || c1e <= c1s || c2e <= c2s {
		return record.Alignment{}, false
	}
	a := []byte(d1.Raw[c1s:c1e])
	b := []byte(d2.Raw[c2s:c2e])
	res := align.SWGAlign(a, b, params)
	if res.Matches == 0 && res.Seq1 == "" {
		return record.Alignment{}, false
	}

	s1 := tokenForChar(d1, c1s+res.Start1)
	e1 := tokenEndForChar(d1, c1s+res.End1)
	s2 := tokenForChar(d2, c2s+res.Start2)
	e2 := tokenEndForChar(d2, c2s+res.End2)

	matchLen1 := e1 - s1
	matchLen2 := e2 - s2
	var f1, f2 float64
	if len(d1.Terms) > 0 {
		f1 = float64(matchLen1) / float64(len(d1.Terms))
	}
	if len(d2.Terms) > 0 {
		f2 = float64(matchLen2) / float64(len(d2.Terms))
	}

	return record.Alignment{
		MatchLen1: matchLen1,
		Frac1:     f1,
		Frac2:     f2,
		Matches:   res.Matches,
		Gaps:      res.Gaps,
		SWScore:   res.SWScore,
		ID1:       id1,
		ID2:       id2,
		Name1:     d1.Name,
		Name2:     d2.Name,
		S1:        s1,
		E1:        e1,
		S2:        s2,
		E2:        e2,
		Seq1:      res.Seq1,
		Seq2:      res.Seq2,
	}, true
}

// charRange maps a half-open token range to the half-open character
// range it spans in doc.Raw, using CharBegin/CharEnd.
func charRange(d index.Document, start, end int) (int, int) {
	if start < 0 || end > len(d.CharBegin) || start >= end {
		return -1, -1
	}
	return d.CharBegin[start], d.CharEnd[end-1]
}

// tokenForChar returns the index of the token whose characters contain
// offset c or, when c falls between tokens, of the first token whose
// CharBegin is >= c.
func tokenForChar(d index.Document, c int) int {
	i := sort.Search(len(d.CharBegin), func(i int) bool { return d.CharBegin[i] >= c })
	if i > 0 && i <= len(d.CharEnd) && d.CharEnd[i-1] > c {
		return i - 1
	}
	if i >= len(d.CharBegin) {
		return len(d.CharBegin)
	}
	return i
}

// tokenEndForChar returns the half-open token index ending at or after
// character offset c.
func tokenEndForChar(d index.Document, c int) int {
	i := sort.Search(len(d.CharEnd), func(i int) bool { return d.CharEnd[i] >= c })
	if i >= len(d.CharEnd) {
		return len(d.CharEnd)
	}
	return i + 1
}

// emitZero emits a single zero-span alignment record when both the
// anchor pass and the full alignment fail.
func emitZero(store index.Store, pair record.Pair, emit func(record.Alignment) error) error {
	name1, _ := store.DocName(pair.Doc1)
	name2, _ := store.DocName(pair.Doc2)
	return emit(record.Alignment{
		ID1:   pair.Doc1,
		ID2:   pair.Doc2,
		Name1: name1,
		Name2: name2,
	})
}
