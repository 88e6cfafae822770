// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quotehunt implements the QuoteHunter stage: a
// reference-text mode that tokenizes one or more known quotations,
// probes the n-gram index for corpus pages echoing them, chains the
// resulting hits into scored spans, and emits a fully aligned,
// URL-annotated JSON record for each.
package quotehunt

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/textreuse/passim/index"
	"github.com/textreuse/passim/internal/align"
	"github.com/textreuse/passim/internal/ngram"
)

// Config holds the quotes sub-command's tunables.
type Config struct {
	Gram     int // n-gram length the index was built with
	MaxCount int // skip terms whose posting list exceeds this document frequency
	MaxGap   int // max reference-position gap within one chained span
	MinScore float64
	Context  int // tokens of context fetched on each side before aligning; 0 means a default of 50
	Words    bool
	BadDocs  map[int]bool // docIds excluded from consideration entirely
}

func (c Config) context() int {
	if c.Context > 0 {
		return c.Context
	}
	return 50
}

// Reference is one tokenized reference document, the "(name, text)" TSV
// row of the reference table.
type Reference struct {
	Name string
	Text string
}

var wordRe = regexp.MustCompile(`\S+`)

// tokenize splits s into non-space runs, recording each token's
// character offsets the same way index.Document.CharBegin/CharEnd do
// for corpus documents, so both sides can share the charRange/context
// machinery.
func tokenize(s string) (tokens []string, charBegin, charEnd []int) {
	for _, loc := range wordRe.FindAllStringIndex(s, -1) {
		tokens = append(tokens, s[loc[0]:loc[1]])
		charBegin = append(charBegin, loc[0])
		charEnd = append(charEnd, loc[1])
	}
	return tokens, charBegin, charEnd
}

// corpus is the concatenated reference sequence: every reference
// document's tokens joined end to end, with a parallel table mapping
// each global token position back to the reference document name it
// came from.
type corpus struct {
	tokens    []string
	charBegin []int
	charEnd   []int
	raw       strings.Builder
	nameOf    []string
}

func buildCorpus(refs []Reference) *corpus {
	c := &corpus{}
	for _, r := range refs {
		base := c.raw.Len()
		c.raw.WriteString(r.Text)
		toks, cb, ce := tokenize(r.Text)
		for i := range toks {
			c.tokens = append(c.tokens, toks[i])
			c.charBegin = append(c.charBegin, base+cb[i])
			c.charEnd = append(c.charEnd, base+ce[i])
			c.nameOf = append(c.nameOf, r.Name)
		}
		c.raw.WriteByte('\n')
	}
	return c
}

// hit is one posting-list entry surviving the bad-docs filter, carrying
// every corpus-side position the matched n-gram occurred at on one
// page, as "(refPos, df, cdocPositions)".
type hit struct {
	refPos   int
	df       int
	cdocPos  []int
}

// span is one chained, scored hit run on one corpus page.
type span struct {
	refStart, refEnd   int
	corpusStart, corpusEnd int
	score              float64
}

// Result is one emitted quote match, rendered as JSON.
type Result struct {
	Date    string     `json:"date,omitempty"`
	Title   string     `json:"title,omitempty"`
	Language string    `json:"language,omitempty"`
	Score   float64    `json:"score"`
	Page    string     `json:"page"`
	Matches int        `json:"matches"`
	Gaps    int         `json:"gaps"`
	SWScore float64    `json:"swscore"`
	Text1   string     `json:"text1"`
	Text2   string     `json:"text2"`
	Align1  string     `json:"align1"`
	Align2  string     `json:"align2"`
	Cites   []string   `json:"cites"`
	Words   []WordBox  `json:"words,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// WordBox is one per-word alignment record with OCR bounding-box
// coordinates, emitted only when Config.Words is set and the
// underlying corpus markup carries coords attributes.
type WordBox struct {
	Word string `json:"word"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
	H    int    `json:"h"`
}

// Run probes store for every distinct n-gram in refs, chains and scores
// the resulting hits per corpus page, and calls emit for every span
// whose score passes cfg.MinScore.
func Run(store index.Store, refs []Reference, cfg Config, emit func(Result) error) error {
	ref := buildCorpus(refs)
	gram := cfg.Gram
	if gram <= 0 {
		gram = 1
	}
	if len(ref.tokens) < gram {
		return nil
	}

	byPage := make(map[int][]hit)
	for i := 0; i+gram <= len(ref.tokens); i++ {
		key := ngram.Key(ref.tokens[i : i+gram])
		entry, ok, err := store.Lookup(key)
		if err != nil {
			return fmt.Errorf("quotehunt: lookup %q: %w", key, err)
		}
		if !ok || entry.DocFreq > cfg.MaxCount {
			continue
		}
		for _, p := range entry.Postings {
			if cfg.BadDocs[p.DocID] {
				continue
			}
			positions := p.Positions
			if len(positions) == 0 {
				positions = []int{0}
			}
			byPage[p.DocID] = append(byPage[p.DocID], hit{refPos: i, df: entry.DocFreq, cdocPos: positions})
		}
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, page := range pages {
		hits := byPage[page]
		sort.Slice(hits, func(i, j int) bool { return hits[i].refPos < hits[j].refPos })
		for _, sp := range chain(hits, cfg.MaxGap, gram) {
			if sp.score < cfg.MinScore {
				continue
			}
			res, err := render(store, ref, page, sp, cfg)
			if err != nil {
				return err
			}
			if err := emit(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// chain groups refPos-sorted hits into spans, splitting whenever the
// gap to the next hit's reference position exceeds maxGap. Unlike
// internal/align.BestPassages, only the
// reference-side gap bounds a chain; the corpus side is free to jump
// (OCR noise, column reflow), consistent with the prose's "splitting
// wherever the gap ... exceeds max-gap (in reference positions)".
func chain(hits []hit, maxGap, gram int) []span {
	if len(hits) == 0 {
		return nil
	}
	if maxGap <= 0 {
		maxGap = 200
	}
	var spans []span
	start := 0
	flush := func(end int) {
		run := hits[start:end]
		var score float64
		refEnd := run[0].refPos + gram
		corpusMin, corpusMax := math.MaxInt32, 0
		for _, h := range run {
			score += math.Log1p(1 / float64(h.df))
			if h.refPos+gram > refEnd {
				refEnd = h.refPos + gram
			}
			for _, pos := range h.cdocPos {
				if pos < corpusMin {
					corpusMin = pos
				}
				if pos+gram > corpusMax {
					corpusMax = pos + gram
				}
			}
		}
		spans = append(spans, span{
			refStart:    run[0].refPos,
			refEnd:      refEnd,
			corpusStart: corpusMin,
			corpusEnd:   corpusMax,
			score:       score,
		})
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].refPos-hits[i-1].refPos > maxGap {
			flush(i)
			start = i
		}
	}
	flush(len(hits))
	return spans
}

// render fetches ±context tokens of context around sp on both sides,
// aligns the space-joined windows, and assembles the emitted record.
func render(store index.Store, ref *corpus, page int, sp span, cfg Config) (Result, error) {
	doc, err := store.DocTokens(page)
	if err != nil {
		return Result{}, fmt.Errorf("quotehunt: doc %d: %w", page, err)
	}

	ctx := cfg.context()
	rlo, rhi := window(sp.refStart, sp.refEnd, ctx, len(ref.tokens))
	clo, chi := window(sp.corpusStart, sp.corpusEnd, ctx, len(doc.Terms))

	extended1 := strings.Join(ref.tokens[rlo:rhi], " ")
	extended2 := strings.Join(doc.Terms[clo:chi], " ")
	res := align.SWGAlign([]byte(extended1), []byte(extended2), align.DefaultParams)

	// Realign the word-level bounds to what the aligner actually
	// matched, by counting the space characters consumed on each side
	// of the gapped alignment rather than trusting the pre-alignment
	// anchor span.
	refStart, refEnd := wordBounds(extended1, res.Start1, res.End1, rlo, rhi)
	corpusStart, corpusEnd := wordBounds(extended2, res.Start2, res.End2, clo, chi)

	quote := strings.Join(ref.tokens[refStart:refEnd], " ")
	cites := citesFor(ref, refStart, refEnd)

	c1s, c1e := charRangeFor(doc, corpusStart, corpusEnd)
	var rawSpan string
	if c1s >= 0 && c1e > c1s && c1e <= len(doc.Raw) {
		rawSpan = doc.Raw[c1s:c1e]
	}

	out := Result{
		Date:     doc.Meta["date"],
		Title:    doc.Meta["title"],
		Language: doc.Meta["language"],
		Score:    sp.score,
		Page:     doc.Name,
		Matches:  res.Matches,
		Gaps:     res.Gaps,
		SWScore:  res.SWScore,
		Text1:    quote,
		Text2:    rawSpan,
		Align1:   res.Seq1,
		Align2:   res.Seq2,
		Cites:    cites,
		URL:      buildURL(doc.Meta, rawSpan),
	}
	if cfg.Words {
		out.Words = wordBoxes(doc, corpusStart, corpusEnd)
	}
	return out, nil
}

// wordBounds converts a gapped-alignment character range [charStart,
// charEnd) within joined (a space-joined window of tokens[winLo:winHi])
// back into a token-index range, by counting the space runs consumed
// on either side of the match, then offsets the result by winLo to
// recover absolute token indices. An empty or degenerate character
// range collapses to the zero-width range at winLo.
func wordBounds(joined string, charStart, charEnd, winLo, winHi int) (int, int) {
	width := winHi - winLo
	if charEnd <= charStart || joined == "" {
		return winLo, winLo
	}
	start := spacesBefore(joined, charStart)
	end := spacesBefore(joined, charEnd-1) + 1
	if start > width {
		start = width
	}
	if end > width {
		end = width
	}
	return winLo + start, winLo + end
}

// spacesBefore counts the space characters in s[:pos], which equals the
// 0-based index of the whitespace-delimited token containing position
// pos in a single-space-joined token sequence.
func spacesBefore(s string, pos int) int {
	if pos > len(s) {
		pos = len(s)
	}
	if pos < 0 {
		pos = 0
	}
	return strings.Count(s[:pos], " ")
}

func window(start, end, ctx, n int) (int, int) {
	lo := start - ctx
	if lo < 0 {
		lo = 0
	}
	hi := end + ctx
	if hi > n {
		hi = n
	}
	if hi <= lo {
		hi = lo
	}
	return lo, hi
}

func citesFor(ref *corpus, start, end int) []string {
	seen := make(map[string]bool)
	var names []string
	for i := start; i < end && i < len(ref.nameOf); i++ {
		n := ref.nameOf[i]
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func charRangeFor(d index.Document, start, end int) (int, int) {
	if start < 0 || end > len(d.CharBegin) || start >= end {
		return -1, -1
	}
	return d.CharBegin[start], d.CharEnd[end-1]
}

var (
	coordsRe = regexp.MustCompile(`coords="(\d+),(\d+),(\d+),(\d+)"`)
	pageRe   = regexp.MustCompile(`<w\s+p=(\d+)`)
)

// buildURL constructs a source URL: prefer an
// OCR coordinate bounding box, then a page anchor, then the document's
// own metadata URL.
func buildURL(meta map[string]string, rawSpan string) string {
	base := meta["url"]
	if ms := coordsRe.FindAllStringSubmatch(rawSpan, -1); len(ms) > 0 {
		minX, minY := math.MaxInt32, math.MaxInt32
		maxX, maxY := 0, 0
		for _, m := range ms {
			x, _ := strconv.Atoi(m[1])
			y, _ := strconv.Atoi(m[2])
			w, _ := strconv.Atoi(m[3])
			h, _ := strconv.Atoi(m[4])
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x+w > maxX {
				maxX = x + w
			}
			if y+h > maxY {
				maxY = y + h
			}
		}
		return fmt.Sprintf("%s#xywh=%d,%d,%d,%d", base, minX, minY, maxX-minX, maxY-minY)
	}
	if m := pageRe.FindStringSubmatch(rawSpan); m != nil {
		return fmt.Sprintf("%s#page=%s", base, m[1])
	}
	return base
}

// wordBoxes extracts per-token OCR bounding boxes for the matched
// corpus span, when the underlying markup carries coords attributes;
// tokens without one are simply omitted rather than padded with zeros.
func wordBoxes(d index.Document, start, end int) []WordBox {
	var boxes []WordBox
	for i := start; i < end && i < len(d.CharBegin); i++ {
		c1s, c1e := d.CharBegin[i], d.CharEnd[i]
		if c1s < 0 || c1e > len(d.Raw) || c1s >= c1e {
			continue
		}
		m := coordsRe.FindStringSubmatch(d.Raw[c1s:c1e])
		if m == nil {
			continue
		}
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		w, _ := strconv.Atoi(m[3])
		h, _ := strconv.Atoi(m[4])
		boxes = append(boxes, WordBox{Word: d.Terms[i], X: x, Y: y, W: w, H: h})
	}
	return boxes
}

// ResolveBadDocs scans store's documents and returns the set of docIds
// whose name appears in names, the lookup Config.BadDocs expects.
func ResolveBadDocs(store index.Store, names map[string]bool) (map[int]bool, error) {
	out := make(map[int]bool)
	if len(names) == 0 {
		return out, nil
	}
	for id := 0; id <= store.MaxDocID(); id++ {
		name, err := store.DocName(id)
		if err != nil {
			continue
		}
		if names[name] {
			out[id] = true
		}
	}
	return out, nil
}

// WriteJSON renders one result per line.
func WriteJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
