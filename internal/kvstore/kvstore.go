// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kvstore backs the index.Store contract with a sorted on-disk
// key/value database (modernc.org/kv). Posting lists
// and documents are gob-encoded then snappy-compressed before storage.
// Open also maps the index file read-only and holds that mapping until
// Close; all reads go through the kv database, not through the mapping.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"modernc.org/kv"

	"github.com/textreuse/passim/index"
)

const (
	keyPrefix  = 'k' // n-gram feature key -> gob/snappy Entry
	namePrefix = 'n' // docId -> name
	docPrefix  = 'd' // docId -> gob/snappy Document
	metaKey    = "\xffmaxdoc"
)

// compare orders keys lexicographically by their raw bytes, which
// keeps n-gram feature keys ('k'+key), names ('n'+id) and documents
// ('d'+id) each contiguous and sorted within their own prefix band.
func compare(x, y []byte) int { return bytes.Compare(x, y) }

// Store implements index.Store on top of a modernc.org/kv database.
type Store struct {
	db     *kv.DB
	path   string
	mapped mmap.MMap
	file   *os.File
	maxDoc int
}

// Create makes a new, empty on-disk store at path.
func Create(path string) (*Store, error) {
	db, err := kv.Create(path, &kv.Options{Compare: compare})
	if err != nil {
		return nil, fmt.Errorf("kvstore: create %s: %w", path, err)
	}
	return &Store{db: db, path: path, maxDoc: -1}, nil
}

// Open opens an existing store for reading. The underlying file is
// additionally memory-mapped read-only when mapping succeeds; the map is
// released by Close. Lookup, DocName, DocTokens and Keys read through
// the kv database and do not use the map.
func Open(path string) (*Store, error) {
	db, err := kv.Open(path, &kv.Options{Compare: compare})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	s := &Store{db: db, path: path, maxDoc: -1}
	if f, err := os.Open(path); err == nil {
		if m, err := mmap.Map(f, mmap.RDONLY, 0); err == nil {
			s.file, s.mapped = f, m
		} else {
			f.Close()
		}
	}
	return s, nil
}

// Close releases the memory map, if any, and closes the database.
func (s *Store) Close() error {
	if s.mapped != nil {
		s.mapped.Unmap()
		s.file.Close()
	}
	return s.db.Close()
}

func gobSnappyEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func gobSnappyDecode(data []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

// PutEntry stores the posting list for one n-gram key. Callers building
// an index should batch calls inside BeginTransaction/Commit pairs, as
// a batched bulk load does for its own writes.
func (s *Store) PutEntry(e index.Entry) error {
	v, err := gobSnappyEncode(e)
	if err != nil {
		return fmt.Errorf("kvstore: encode entry %q: %w", e.Key, err)
	}
	return s.db.Set(append([]byte{keyPrefix}, e.Key...), v)
}

// PutDocument stores a document's token sequence, metadata and name,
// and extends MaxDocID if needed.
func (s *Store) PutDocument(d index.Document) error {
	v, err := gobSnappyEncode(d)
	if err != nil {
		return fmt.Errorf("kvstore: encode document %d: %w", d.ID, err)
	}
	if err := s.db.Set(docKey(d.ID), v); err != nil {
		return err
	}
	if err := s.db.Set(nameKey(d.ID), []byte(d.Name)); err != nil {
		return err
	}
	if d.ID > s.maxDoc {
		s.maxDoc = d.ID
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(d.ID))
		if err := s.db.Set([]byte(metaKey), b[:]); err != nil {
			return err
		}
	}
	return nil
}

// BeginTransaction and Commit delegate to the underlying kv.DB, so
// bulk loads can batch many Put calls into a single commit.
func (s *Store) BeginTransaction() error { return s.db.BeginTransaction() }
func (s *Store) Commit() error           { return s.db.Commit() }

func docKey(id int) []byte {
	var b [9]byte
	b[0] = docPrefix
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b[:]
}

func nameKey(id int) []byte {
	var b [9]byte
	b[0] = namePrefix
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b[:]
}

// Lookup implements index.Store.
func (s *Store) Lookup(key string) (index.Entry, bool, error) {
	v, err := s.db.Get(nil, append([]byte{keyPrefix}, key...))
	if err != nil {
		return index.Entry{}, false, fmt.Errorf("kvstore: lookup %q: %w", key, err)
	}
	if v == nil {
		return index.Entry{}, false, nil
	}
	var e index.Entry
	if err := gobSnappyDecode(v, &e); err != nil {
		return index.Entry{}, false, fmt.Errorf("kvstore: decode %q: %w", key, err)
	}
	return e, true, nil
}

// DocName implements index.Store.
func (s *Store) DocName(id int) (string, error) {
	v, err := s.db.Get(nil, nameKey(id))
	if err != nil {
		return "", fmt.Errorf("kvstore: name for %d: %w", id, err)
	}
	if v == nil {
		return "", fmt.Errorf("kvstore: no such document %d", id)
	}
	return string(v), nil
}

// DocTokens implements index.Store.
func (s *Store) DocTokens(id int) (index.Document, error) {
	v, err := s.db.Get(nil, docKey(id))
	if err != nil {
		return index.Document{}, fmt.Errorf("kvstore: tokens for %d: %w", id, err)
	}
	if v == nil {
		return index.Document{}, fmt.Errorf("kvstore: no such document %d", id)
	}
	var d index.Document
	if err := gobSnappyDecode(v, &d); err != nil {
		return index.Document{}, fmt.Errorf("kvstore: decode document %d: %w", id, err)
	}
	return d, nil
}

// MaxDocID implements index.Store.
func (s *Store) MaxDocID() int {
	if s.maxDoc >= 0 {
		return s.maxDoc
	}
	v, err := s.db.Get(nil, []byte(metaKey))
	if err != nil || v == nil {
		return -1
	}
	s.maxDoc = int(binary.BigEndian.Uint64(v))
	return s.maxDoc
}

// Keys implements index.Store, skipping step*stride keys from the start
// of the 'k'-prefixed band, then yielding up to stride further keys (or
// all remaining keys, if stride is 0).
func (s *Store) Keys(step, stride int) (index.KeyIter, error) {
	it, err := s.db.SeekFirst()
	if err != nil {
		if err == io.EOF {
			return &keyIter{done: true}, nil
		}
		return nil, fmt.Errorf("kvstore: seek first: %w", err)
	}
	ki := &keyIter{it: it, remaining: stride, unlimited: stride == 0}
	for i := 0; i < step*stride; i++ {
		if !ki.advancePast() {
			ki.done = true
			break
		}
	}
	return ki, nil
}

type kvIterator interface {
	Next() ([]byte, []byte, error)
}

type keyIter struct {
	it        kvIterator
	remaining int
	unlimited bool
	done      bool
}

// advancePast skips forward to the next key-prefixed entry, returning
// false once the database is exhausted.
func (k *keyIter) advancePast() bool {
	for {
		key, _, err := k.it.Next()
		if err != nil {
			return false
		}
		if len(key) > 0 && key[0] == keyPrefix {
			return true
		}
	}
}

func (k *keyIter) Next() (index.Entry, bool, error) {
	if k.done {
		return index.Entry{}, false, nil
	}
	if !k.unlimited {
		if k.remaining <= 0 {
			k.done = true
			return index.Entry{}, false, nil
		}
		k.remaining--
	}
	for {
		key, val, err := k.it.Next()
		if err != nil {
			k.done = true
			return index.Entry{}, false, nil
		}
		if len(key) == 0 || key[0] != keyPrefix {
			continue
		}
		var e index.Entry
		if err := gobSnappyDecode(val, &e); err != nil {
			return index.Entry{}, false, fmt.Errorf("kvstore: decode entry %q: %w", key[1:], err)
		}
		e.Key = string(key[1:])
		sort.Slice(e.Postings, func(i, j int) bool { return e.Postings[i].DocID < e.Postings[j].DocID })
		return e, true, nil
	}
}

var _ index.Store = (*Store)(nil)
