// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pairalign

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/align"
	"github.com/textreuse/passim/internal/record"
)

var wordRe = regexp.MustCompile(`\S+`)

func tokenizeDoc(id int, name, raw string) index.Document {
	var terms []string
	var begin, end []int
	for _, loc := range wordRe.FindAllStringIndex(raw, -1) {
		terms = append(terms, raw[loc[0]:loc[1]])
		begin = append(begin, loc[0])
		end = append(end, loc[1])
	}
	return index.Document{ID: id, Name: name, Terms: terms, CharBegin: begin, CharEnd: end, Raw: raw}
}

type fakeStore struct {
	docs    map[int]index.Document
	missing map[int]bool
}

func (s *fakeStore) Close() error                                { return nil }
func (s *fakeStore) Keys(step, stride int) (index.KeyIter, error) { return nil, nil }
func (s *fakeStore) Lookup(key string) (index.Entry, bool, error) { return index.Entry{}, false, nil }
func (s *fakeStore) MaxDocID() int                                { return 0 }

func (s *fakeStore) DocName(id int) (string, error) {
	d, ok := s.docs[id]
	if !ok {
		return "", nil
	}
	return d.Name, nil
}

func (s *fakeStore) DocTokens(id int) (index.Document, error) {
	if s.missing[id] {
		return index.Document{}, fmt.Errorf("pairalign test: no such document %d", id)
	}
	return s.docs[id], nil
}

func TestRunEmitsAlignmentForSharedPassage(t *testing.T) {
	store := &fakeStore{docs: map[int]index.Document{
		1: tokenizeDoc(1, "doc-a", "zzz zzz the quick brown fox jumps over zzz zzz"),
		2: tokenizeDoc(2, "doc-b", "www www the quick brown fox jumps over www www"),
	}}
	cfg := Config{Ngram: 3, Params: align.DefaultParams}
	var stats Stats
	var out []record.Alignment
	err := Run(store, record.Pair{Doc1: 1, Doc2: 2}, cfg, &stats, func(a record.Alignment) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one alignment record")
	}
	if stats.Pairs != 1 {
		t.Errorf("Pairs = %d, want 1", stats.Pairs)
	}
	if stats.Emitted == 0 {
		t.Errorf("Emitted = %d, want > 0", stats.Emitted)
	}
}

func TestRunFullDocumentMode(t *testing.T) {
	store := &fakeStore{docs: map[int]index.Document{
		1: tokenizeDoc(1, "doc-a", "the quick brown fox"),
		2: tokenizeDoc(2, "doc-b", "the quick brown fox"),
	}}
	cfg := Config{Ngram: 0, Params: align.DefaultParams}
	var stats Stats
	var out []record.Alignment
	err := Run(store, record.Pair{Doc1: 1, Doc2: 2}, cfg, &stats, func(a record.Alignment) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d alignments, want 1 for whole-document mode", len(out))
	}
	if out[0].Matches == 0 {
		t.Error("expected a non-trivial match on identical documents")
	}
}

func TestRunEmitsZeroSpanWhenNothingAligns(t *testing.T) {
	store := &fakeStore{docs: map[int]index.Document{
		1: tokenizeDoc(1, "doc-a", "alpha beta gamma"),
		2: tokenizeDoc(2, "doc-b", "delta epsilon zeta"),
	}}
	cfg := Config{Ngram: 3, Params: align.DefaultParams}
	var stats Stats
	var out []record.Alignment
	err := Run(store, record.Pair{Doc1: 1, Doc2: 2}, cfg, &stats, func(a record.Alignment) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1 zero-span fallback", len(out))
	}
	if out[0].Matches != 0 || out[0].S1 != 0 || out[0].E1 != 0 {
		t.Errorf("expected an empty zero-span record, got %+v", out[0])
	}
	if stats.Degraded == 0 {
		t.Error("expected Degraded to be incremented for the fallback")
	}
}

func TestRunPropagatesDocTokensError(t *testing.T) {
	store := &fakeStore{
		docs:    map[int]index.Document{1: tokenizeDoc(1, "doc-a", "some text here")},
		missing: map[int]bool{2: true},
	}
	cfg := Config{Ngram: 3, Params: align.DefaultParams}
	var stats Stats
	err := Run(store, record.Pair{Doc1: 1, Doc2: 2}, cfg, &stats, func(a record.Alignment) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error when a document cannot be fetched")
	}
}
