// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seriesmap implements the static docId -> seriesId table
// used to suppress within-series candidate pairs.
package seriesmap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/textreuse/passim/index"
)

// Map is a dense docId -> seriesId lookup. Series 0 is the sentinel for
// "unknown document"; callers rely on equality tests so this is safe as
// long as it is used consistently.
type Map struct {
	bySeries []int32
	ids      map[string]int32
	names    []string
}

// Series returns the series id for docID, or 0 if docID is out of
// range (unknown documents all compare equal to each other, which is
// the documented, acceptable sentinel behaviour).
func (m *Map) Series(docID int) int32 {
	if docID < 0 || docID >= len(m.bySeries) {
		return 0
	}
	return m.bySeries[docID]
}

// SeriesName returns the series name for a series id, or "" if out of
// range.
func (m *Map) SeriesName(id int32) string {
	if id <= 0 || int(id) > len(m.names) {
		return ""
	}
	return m.names[id-1]
}

// Build scans the index's document names, derives each name's series
// prefix by splitting on delim, and constructs the dense table. delim
// should be the fixed delimiter convention documents use
// ("series/issue"), e.g. "/".
func Build(store index.Store, delim string) (*Map, error) {
	max := store.MaxDocID()
	m := &Map{
		bySeries: make([]int32, max+1),
		ids:      make(map[string]int32),
	}
	for id := 0; id <= max; id++ {
		name, err := store.DocName(id)
		if err != nil {
			// A gap in docId space (deleted/never-assigned id) is not
			// an error; leave it mapped to the sentinel series.
			continue
		}
		series := seriesOf(name, delim)
		m.bySeries[id] = m.internSeries(series)
	}
	return m, nil
}

func (m *Map) internSeries(series string) int32 {
	if id, ok := m.ids[series]; ok {
		return id
	}
	m.names = append(m.names, series)
	id := int32(len(m.names))
	m.ids[series] = id
	return id
}

func seriesOf(name, delim string) string {
	if delim == "" {
		return name
	}
	if i := strings.Index(name, delim); i >= 0 {
		return name[:i]
	}
	return name
}

// Load reads a precomputed "docId\tseriesId" TSV, ordered by ascending
// docId, and builds the dense table sized to the last line's id.
func Load(r io.Reader) (*Map, error) {
	var (
		docIDs   []int
		seriesID []int32
		maxDoc   = -1
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("seriesmap: malformed line: %q", line)
		}
		doc, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("seriesmap: bad docId in %q: %w", line, err)
		}
		series, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("seriesmap: bad seriesId in %q: %w", line, err)
		}
		docIDs = append(docIDs, doc)
		seriesID = append(seriesID, int32(series))
		if doc > maxDoc {
			maxDoc = doc
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("seriesmap: read: %w", err)
	}
	m := &Map{bySeries: make([]int32, maxDoc+1)}
	for i, doc := range docIDs {
		m.bySeries[doc] = seriesID[i]
	}
	return m, nil
}
