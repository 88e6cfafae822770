// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pairenum

import (
	"testing"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/record"
)

type fakeKeyIter struct {
	entries []index.Entry
	i       int
}

func (it *fakeKeyIter) Next() (index.Entry, bool, error) {
	if it.i >= len(it.entries) {
		return index.Entry{}, false, nil
	}
	e := it.entries[it.i]
	it.i++
	return e, true, nil
}

type fakeStore struct {
	entries []index.Entry
}

func (s *fakeStore) Close() error { return nil }
func (s *fakeStore) Keys(step, stride int) (index.KeyIter, error) {
	return &fakeKeyIter{entries: s.entries}, nil
}
func (s *fakeStore) Lookup(key string) (index.Entry, bool, error) { return index.Entry{}, false, nil }
func (s *fakeStore) DocName(id int) (string, error)               { return "", nil }
func (s *fakeStore) DocTokens(id int) (index.Document, error)     { return index.Document{}, nil }
func (s *fakeStore) MaxDocID() int                                { return 0 }

type fakeSeries map[int]int32

func (f fakeSeries) Series(docID int) int32 { return f[docID] }

func TestRunEmitsCrossSeriesPairs(t *testing.T) {
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "the~quick~brown",
			DocFreq: 2,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 1},
				{DocID: 2, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 10, 2: 20}
	var pairs []record.Pair
	err := Run(store, series, Config{MaxSeries: 100, MaxDF: 100}, func(p record.Pair) error {
		pairs = append(pairs, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1: %+v", len(pairs), pairs)
	}
	if pairs[0].Doc1 != 1 || pairs[0].Doc2 != 2 {
		t.Errorf("pair = %+v, want Doc1=1, Doc2=2", pairs[0])
	}
}

func TestRunSkipsWithinSeriesPairs(t *testing.T) {
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "the~quick~brown",
			DocFreq: 2,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 1},
				{DocID: 2, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 10, 2: 10} // same series
	var pairs []record.Pair
	err := Run(store, series, Config{MaxSeries: 100, MaxDF: 100}, func(p record.Pair) error {
		pairs = append(pairs, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("got %d pairs, want 0 (same-series pair should be suppressed)", len(pairs))
	}
}

func TestRunSkipsStopwordKeys(t *testing.T) {
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "the~a~an",
			DocFreq: 2,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 1},
				{DocID: 2, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 10, 2: 20}
	var pairs []record.Pair
	cfg := Config{MaxSeries: 100, MaxDF: 100, Stop: map[string]bool{"the": true}}
	err := Run(store, series, cfg, func(p record.Pair) error {
		pairs = append(pairs, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("got %d pairs, want 0 (stopword key should be skipped)", len(pairs))
	}
}

func TestRunSkipsOverMaxDF(t *testing.T) {
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "the~quick~brown",
			DocFreq: 2,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 10},
				{DocID: 2, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 10, 2: 20}
	var pairs []record.Pair
	cfg := Config{MaxSeries: 100, MaxDF: 5}
	err := Run(store, series, cfg, func(p record.Pair) error {
		pairs = append(pairs, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("got %d pairs, want 0 (term freq exceeds MaxDF)", len(pairs))
	}
}

func TestRunCounts(t *testing.T) {
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "the~quick~brown",
			DocFreq: 2,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 1},
				{DocID: 2, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 10, 2: 20}
	var stats Stats
	err := Run(store, series, Config{MaxSeries: 100, MaxDF: 100}, nil, &stats)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stats.Counts) != 1 {
		t.Fatalf("got %d count buckets, want 1: %+v", len(stats.Counts), stats.Counts)
	}
	if stats.Counts[CountKey{10, 20}] != 1 {
		t.Errorf("count for (10,20) = %d, want 1", stats.Counts[CountKey{10, 20}])
	}
}

func TestRunRespectsMaxSeries(t *testing.T) {
	// Three series sharing one n-gram: CrossCount(1,1,1) = 3, which
	// exceeds UpperBound(2) = 1, so the key should be pruned entirely.
	store := &fakeStore{entries: []index.Entry{
		{
			Key:     "shared~term~here",
			DocFreq: 3,
			Postings: []index.Posting{
				{DocID: 1, TermFreq: 1},
				{DocID: 2, TermFreq: 1},
				{DocID: 3, TermFreq: 1},
			},
		},
	}}
	series := fakeSeries{1: 1, 2: 2, 3: 3}
	var pairs []record.Pair
	cfg := Config{MaxSeries: 2, MaxDF: 100}
	err := Run(store, series, cfg, func(p record.Pair) error {
		pairs = append(pairs, p)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("got %d pairs, want 0 (cross-count exceeds max-series bound)", len(pairs))
	}
}
