// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package index declares the contract the core consumes from the
// disk-resident n-gram inverted index: a key iterator over posting
// lists, single-key lookup, document-name resolution and tokenized
// document retrieval. Building the index itself is out of scope for
// this module; internal/kvstore provides one concrete backing
// implementation.
package index

import "io"

// Posting is one (docId, termFreq, positions) entry under an n-gram key.
type Posting struct {
	DocID     int
	TermFreq  int
	Positions []int
}

// Entry is a full posting list for one n-gram key, with the document
// frequency the index stored for it (the posting list's "totalFreq").
type Entry struct {
	Key      string
	DocFreq  int
	Postings []Posting
}

// KeyIter walks index keys in a fixed scan order. Once exhausted, Next
// reports ok=false with a nil error rather than returning io.EOF.
type KeyIter interface {
	// Next advances the iterator and returns the next entry. ok is
	// false and err is nil at normal end of iteration.
	Next() (e Entry, ok bool, err error)
}

// Document is a tokenized document and its metadata, as produced by the
// out-of-scope Tokenizer collaborator that builds the index.
type Document struct {
	ID        int
	Name      string
	Terms     []string
	CharBegin []int
	CharEnd   []int
	Raw       string
	Meta      map[string]string
}

// Store is the contract this core requires of the n-gram inverted
// index. Implementations must be safe for single-threaded, repeated use
// within one process: a handle is opened once per process and used
// single-threaded.
type Store interface {
	io.Closer

	// Keys returns an iterator that skips step*stride keys from the
	// start of the scan order, then yields the following stride keys.
	// A stride of 0 means "no limit".
	Keys(step, stride int) (KeyIter, error)

	// Lookup fetches the posting list for exactly one key. ok is false
	// if the key is absent.
	Lookup(key string) (Entry, bool, error)

	// DocName resolves a document's external name from its internal id.
	DocName(id int) (string, error)

	// DocTokens fetches a document's full token sequence and metadata.
	DocTokens(id int) (Document, error)

	// MaxDocID returns the largest internal document id the index
	// knows about; used to size dense docId->seriesId tables.
	MaxDocID() int
}
