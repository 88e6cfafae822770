// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pairenum implements the PairEnumerator stage:
// walking the n-gram index and emitting candidate cross-series document
// pairs, pruned by document frequency, stopwords, mean word length and
// the cross-series cross-count bound.
package pairenum

import (
	"hash/fnv"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/ngram"
	"github.com/textreuse/passim/internal/record"
	"github.com/textreuse/passim/internal/seriesmap"
)

// Config holds the pairs sub-command's tunables.
type Config struct {
	MaxSeries  int
	MaxDF      int
	ModP       int
	ModRec     int
	Step       int
	Stride     int
	WordLength float64
	Stop       map[string]bool
}

// SeriesOf abstracts the series lookup so callers can supply a
// *seriesmap.Map without this package importing it for anything but
// the interface shape.
type SeriesOf interface {
	Series(docID int) int32
}

var _ SeriesOf = (*seriesmap.Map)(nil)

// CountKey is a (seriesA, seriesB) histogram key for --counts mode.
type CountKey struct {
	SeriesA, SeriesB int32
}

// Stats accumulates the optional --counts histogram.
type Stats struct {
	Counts map[CountKey]int
}

// Run walks store's keys under cfg's step/stride/modp sharding and
// calls emit for every candidate pair record it produces. If counts is
// non-nil, each pair is tallied into it instead of being handed to emit,
// and emit is never called; callers implement the --counts vs.
// raw-record choice by passing a nil emit or nil counts respectively.
func Run(store index.Store, series SeriesOf, cfg Config, emit func(record.Pair) error, counts *Stats) error {
	it, err := store.Keys(cfg.Step, cfg.Stride)
	if err != nil {
		return err
	}
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if cfg.ModP > 1 && hashMod(entry.Key, cfg.ModP) != 0 {
			continue
		}
		tokens := ngram.Split(entry.Key)
		if ngram.HasStopword(tokens, cfg.Stop) {
			continue
		}
		if ngram.MeanLength(tokens) < cfg.WordLength {
			continue
		}

		docIDs := make([]int, len(entry.Postings))
		for i, p := range entry.Postings {
			docIDs[i] = p.DocID
		}
		groups := ngram.GroupSizes(func(id int) int32 { return series.Series(id) }, docIDs)
		upper := ngram.UpperBound(cfg.MaxSeries)
		if ngram.CrossCount(groups) > upper || int64(entry.DocFreq) > upper {
			continue
		}

		for a := 0; a < len(entry.Postings); a++ {
			for b := a + 1; b < len(entry.Postings); b++ {
				pa, pb := entry.Postings[a], entry.Postings[b]
				d1, d2 := pa.DocID, pb.DocID
				t1, t2 := pa.TermFreq, pb.TermFreq
				if d1 > d2 {
					d1, d2 = d2, d1
					t1, t2 = t2, t1
				}
				if d1 == d2 {
					continue
				}
				if series.Series(d1) == series.Series(d2) {
					continue
				}
				if pa.TermFreq > cfg.MaxDF || pb.TermFreq > cfg.MaxDF {
					continue
				}
				pair := record.Pair{
					Doc1: d1,
					Doc2: d2,
					Features: []record.Feature{{
						Key:       "",
						TotalFreq: entry.DocFreq,
						TF1:       t1,
						TF2:       t2,
					}},
				}
				if cfg.ModRec > 1 && hashMod(pairKey(pair), cfg.ModRec) != 0 {
					continue
				}
				if counts != nil {
					ck := CountKey{series.Series(d1), series.Series(d2)}
					if counts.Counts == nil {
						counts.Counts = make(map[CountKey]int)
					}
					counts.Counts[ck]++
					continue
				}
				if emit != nil {
					if err := emit(pair); err != nil {
						return err
					}
				}
			}
		}
	}
}

func hashMod(s string, mod int) int {
	if mod <= 1 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return int(h.Sum64() % uint64(mod))
}

func pairKey(p record.Pair) string {
	return record.FormatPair(p)
}
