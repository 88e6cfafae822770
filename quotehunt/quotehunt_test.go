// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quotehunt

import (
	"testing"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/ngram"
)

func TestTokenizeRecordsCharOffsets(t *testing.T) {
	toks, cb, ce := tokenize("the quick brown")
	want := []string{"the", "quick", "brown"}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i] != w {
			t.Errorf("token %d = %q, want %q", i, toks[i], w)
		}
	}
	if cb[0] != 0 || ce[0] != 3 {
		t.Errorf("first token bounds = [%d,%d), want [0,3)", cb[0], ce[0])
	}
	if cb[1] != 4 || ce[1] != 9 {
		t.Errorf("second token bounds = [%d,%d), want [4,9)", cb[1], ce[1])
	}
}

func TestBuildCorpusConcatenatesAndMapsNames(t *testing.T) {
	refs := []Reference{
		{Name: "ref-a", Text: "alpha beta"},
		{Name: "ref-b", Text: "gamma delta"},
	}
	c := buildCorpus(refs)
	if len(c.tokens) != 4 {
		t.Fatalf("got %d tokens, want 4", len(c.tokens))
	}
	if c.nameOf[0] != "ref-a" || c.nameOf[1] != "ref-a" {
		t.Errorf("first two tokens should map to ref-a, got %v", c.nameOf[:2])
	}
	if c.nameOf[2] != "ref-b" || c.nameOf[3] != "ref-b" {
		t.Errorf("last two tokens should map to ref-b, got %v", c.nameOf[2:])
	}
}

func TestChainSplitsOnGapExceedingMaxGap(t *testing.T) {
	hits := []hit{
		{refPos: 0, df: 1, cdocPos: []int{0}},
		{refPos: 1, df: 1, cdocPos: []int{1}},
		{refPos: 2, df: 1, cdocPos: []int{2}},
		// a big jump in reference position should start a new span
		{refPos: 500, df: 1, cdocPos: []int{3}},
	}
	spans := chain(hits, 50, 3)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].refStart != 0 || spans[0].refEnd != 5 {
		t.Errorf("first span = %+v, want refStart=0 refEnd=5", spans[0])
	}
	if spans[1].refStart != 500 {
		t.Errorf("second span refStart = %d, want 500", spans[1].refStart)
	}
}

func TestChainIgnoresCorpusSideJumps(t *testing.T) {
	// The corpus positions jump wildly (OCR column reflow) but the
	// reference positions stay contiguous: chain should not split.
	hits := []hit{
		{refPos: 0, df: 1, cdocPos: []int{0}},
		{refPos: 1, df: 1, cdocPos: []int{9000}},
		{refPos: 2, df: 1, cdocPos: []int{50}},
	}
	spans := chain(hits, 50, 3)
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1 (only ref-side gap should split)", len(spans))
	}
	if spans[0].corpusStart != 0 || spans[0].corpusEnd != 9003 {
		t.Errorf("span = %+v, want corpusStart=0 corpusEnd=9003", spans[0])
	}
}

func TestChainEmptyInput(t *testing.T) {
	if spans := chain(nil, 50, 3); spans != nil {
		t.Errorf("chain(nil) = %v, want nil", spans)
	}
}

func TestWindowClampsToBounds(t *testing.T) {
	lo, hi := window(5, 10, 3, 20)
	if lo != 2 || hi != 13 {
		t.Errorf("window = [%d,%d), want [2,13)", lo, hi)
	}
	lo, hi = window(0, 2, 10, 20)
	if lo != 0 {
		t.Errorf("window lo = %d, want clamped to 0", lo)
	}
	lo, hi = window(15, 19, 10, 20)
	if hi != 20 {
		t.Errorf("window hi = %d, want clamped to 20", hi)
	}
}

func TestWordBoundsNarrowsToAlignedChars(t *testing.T) {
	// "noise the quick brown noise" with the aligner only having
	// matched the middle "the quick brown" (chars 6..22): the word
	// bounds must shrink to that span, not the full window.
	joined := "noise the quick brown noise"
	start, end := wordBounds(joined, 6, 22, 0, 5)
	if start != 1 || end != 4 {
		t.Errorf("wordBounds = (%d,%d), want (1,4)", start, end)
	}
}

func TestWordBoundsOffsetsByWindowStart(t *testing.T) {
	joined := "quick brown"
	start, end := wordBounds(joined, 0, 5, 3, 5)
	if start != 3 || end != 4 {
		t.Errorf("wordBounds = (%d,%d), want (3,4)", start, end)
	}
}

func TestWordBoundsEmptyRangeCollapsesToWindowStart(t *testing.T) {
	start, end := wordBounds("the quick", 4, 4, 2, 4)
	if start != 2 || end != 2 {
		t.Errorf("wordBounds = (%d,%d), want (2,2)", start, end)
	}
}

func TestSpacesBeforeCountsWordIndex(t *testing.T) {
	s := "the quick brown"
	cases := []struct {
		pos  int
		want int
	}{
		{0, 0},
		{3, 0},
		{4, 1},
		{8, 1},
		{10, 2},
		{100, 2},
	}
	for _, c := range cases {
		if got := spacesBefore(s, c.pos); got != c.want {
			t.Errorf("spacesBefore(%q, %d) = %d, want %d", s, c.pos, got, c.want)
		}
	}
}

func TestCitesForDedupsAndSorts(t *testing.T) {
	c := buildCorpus([]Reference{
		{Name: "ref-b", Text: "one two"},
		{Name: "ref-a", Text: "three four"},
	})
	// span covering tokens from both references
	got := citesFor(c, 0, 4)
	if len(got) != 2 || got[0] != "ref-a" || got[1] != "ref-b" {
		t.Errorf("citesFor = %v, want sorted [ref-a ref-b]", got)
	}
}

func TestCharRangeForOutOfBounds(t *testing.T) {
	d := index.Document{CharBegin: []int{0, 4}, CharEnd: []int{3, 9}}
	if s, e := charRangeFor(d, 0, 2); s != 0 || e != 9 {
		t.Errorf("charRangeFor = (%d,%d), want (0,9)", s, e)
	}
	if s, e := charRangeFor(d, 0, 0); s != -1 || e != -1 {
		t.Errorf("charRangeFor with empty range = (%d,%d), want (-1,-1)", s, e)
	}
	if s, e := charRangeFor(d, -1, 1); s != -1 || e != -1 {
		t.Errorf("charRangeFor with negative start = (%d,%d), want (-1,-1)", s, e)
	}
}

func TestBuildURLPrefersCoords(t *testing.T) {
	meta := map[string]string{"url": "https://example.org/page/1"}
	raw := `<w coords="10,20,30,40">hello</w><w coords="50,20,10,10">world</w>`
	got := buildURL(meta, raw)
	want := "https://example.org/page/1#xywh=10,20,50,40"
	if got != want {
		t.Errorf("buildURL = %q, want %q", got, want)
	}
}

func TestBuildURLFallsBackToPageAnchor(t *testing.T) {
	meta := map[string]string{"url": "https://example.org/page/1"}
	raw := `<w p=7>hello</w>`
	got := buildURL(meta, raw)
	want := "https://example.org/page/1#page=7"
	if got != want {
		t.Errorf("buildURL = %q, want %q", got, want)
	}
}

func TestBuildURLFallsBackToBase(t *testing.T) {
	meta := map[string]string{"url": "https://example.org/page/1"}
	got := buildURL(meta, "plain text, no markup")
	if got != meta["url"] {
		t.Errorf("buildURL = %q, want bare base URL", got)
	}
}

func TestWordBoxesExtractsCoordsOnly(t *testing.T) {
	raw := `<w coords="1,2,3,4">hi</w><w>bye</w>`
	firstEnd := len(`<w coords="1,2,3,4">hi</w>`)
	d := index.Document{
		Terms:     []string{"hi", "bye"},
		CharBegin: []int{0, firstEnd},
		CharEnd:   []int{firstEnd, len(raw)},
		Raw:       raw,
	}
	boxes := wordBoxes(d, 0, 2)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1 (second token lacks coords)", len(boxes))
	}
	if boxes[0].Word != "hi" || boxes[0].X != 1 || boxes[0].H != 4 {
		t.Errorf("box = %+v, want Word=hi X=1 H=4", boxes[0])
	}
}

type fakeStore struct {
	entries map[string]index.Entry
	docs    map[int]index.Document
	names   map[int]string
	maxID   int
}

func (s *fakeStore) Close() error                                { return nil }
func (s *fakeStore) Keys(step, stride int) (index.KeyIter, error) { return nil, nil }
func (s *fakeStore) Lookup(key string) (index.Entry, bool, error) {
	e, ok := s.entries[key]
	return e, ok, nil
}
func (s *fakeStore) DocName(id int) (string, error) { return s.names[id], nil }
func (s *fakeStore) DocTokens(id int) (index.Document, error) {
	return s.docs[id], nil
}
func (s *fakeStore) MaxDocID() int { return s.maxID }

func TestRunEmitsMatchAboveMinScore(t *testing.T) {
	page := index.Document{
		ID:    1,
		Name:  "page-1",
		Terms: []string{"noise", "the", "quick", "brown", "fox", "noise"},
		Meta:  map[string]string{"url": "https://example.org/1"},
	}
	page.CharBegin = []int{0, 6, 10, 16, 22, 26}
	page.CharEnd = []int{5, 9, 15, 21, 25, 31}
	page.Raw = "noise the quick brown fox noise"

	key := ngram.Key([]string{"the", "quick", "brown"})
	store := &fakeStore{
		entries: map[string]index.Entry{
			key: {Key: key, DocFreq: 1, Postings: []index.Posting{{DocID: 1, TermFreq: 1, Positions: []int{1}}}},
		},
		docs: map[int]index.Document{1: page},
	}

	refs := []Reference{{Name: "ref-1", Text: "the quick brown"}}
	cfg := Config{Gram: 3, MaxCount: 10}
	var results []Result
	err := Run(store, refs, cfg, func(r Result) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Page != "page-1" {
		t.Errorf("Page = %q, want page-1", results[0].Page)
	}
	if results[0].Text1 != "the quick brown" {
		t.Errorf("Text1 = %q, want %q", results[0].Text1, "the quick brown")
	}
}

func TestRunSkipsBadDocs(t *testing.T) {
	key := ngram.Key([]string{"the", "quick", "brown"})
	store := &fakeStore{
		entries: map[string]index.Entry{
			key: {Key: key, DocFreq: 1, Postings: []index.Posting{{DocID: 1, TermFreq: 1, Positions: []int{0}}}},
		},
		docs: map[int]index.Document{1: {ID: 1, Name: "page-1", Terms: []string{"the", "quick", "brown"}}},
	}
	refs := []Reference{{Name: "ref-1", Text: "the quick brown"}}
	cfg := Config{Gram: 3, MaxCount: 10, BadDocs: map[int]bool{1: true}}
	var results []Result
	err := Run(store, refs, cfg, func(r Result) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (doc is on the bad-docs list)", len(results))
	}
}

func TestRunSkipsOverMaxCount(t *testing.T) {
	key := ngram.Key([]string{"the", "quick", "brown"})
	store := &fakeStore{
		entries: map[string]index.Entry{
			key: {Key: key, DocFreq: 100, Postings: []index.Posting{{DocID: 1, TermFreq: 1, Positions: []int{0}}}},
		},
		docs: map[int]index.Document{1: {ID: 1, Name: "page-1", Terms: []string{"the", "quick", "brown"}}},
	}
	refs := []Reference{{Name: "ref-1", Text: "the quick brown"}}
	cfg := Config{Gram: 3, MaxCount: 10}
	var results []Result
	err := Run(store, refs, cfg, func(r Result) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (entry's DocFreq exceeds MaxCount)", len(results))
	}
}

func TestResolveBadDocsMatchesByName(t *testing.T) {
	store := &fakeStore{
		names: map[int]string{0: "keep-me", 1: "drop-me", 2: "also-keep"},
		maxID: 2,
	}
	bad, err := ResolveBadDocs(store, map[string]bool{"drop-me": true})
	if err != nil {
		t.Fatalf("ResolveBadDocs: %v", err)
	}
	if !bad[1] || bad[0] || bad[2] {
		t.Errorf("ResolveBadDocs = %v, want only doc 1 flagged", bad)
	}
}

func TestResolveBadDocsEmptyNamesNoop(t *testing.T) {
	store := &fakeStore{maxID: 5}
	bad, err := ResolveBadDocs(store, nil)
	if err != nil {
		t.Fatalf("ResolveBadDocs: %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("got %d entries, want 0 for empty names set", len(bad))
	}
}
