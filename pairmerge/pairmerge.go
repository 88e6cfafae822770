// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pairmerge implements the PairMerger stage: a
// pure streaming reduction over pair-key-contiguous input, concatenating
// feature lists for repeated pairs and dropping any whose concatenated
// feature count falls below --min-matches.
package pairmerge

import "github.com/textreuse/passim/internal/record"

// Config holds the merge sub-command's tunables.
type Config struct {
	MinMatches int
}

// Merge streams pairs from next (which should return io.EOF-equivalent
// via ok=false, nil error at end) and calls emit once per contiguous run
// of equal (Doc1, Doc2) keys whose concatenated feature count satisfies
// cfg.MinMatches. It requires, and does not itself enforce, that next's
// pairs arrive sorted by (Doc1, Doc2) — the same contiguity an external
// sort guarantees between pipeline passes.
func Merge(next func() (record.Pair, bool, error), cfg Config, emit func(record.Pair) error) error {
	var (
		have    bool
		current record.Pair
	)
	flush := func() error {
		if !have {
			return nil
		}
		if current.FeatureCount() >= cfg.MinMatches {
			if err := emit(current); err != nil {
				return err
			}
		}
		have = false
		return nil
	}
	for {
		p, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}
		if have && p.Doc1 == current.Doc1 && p.Doc2 == current.Doc2 {
			current.Features = append(current.Features, p.Features...)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		current = p
		have = true
	}
}
