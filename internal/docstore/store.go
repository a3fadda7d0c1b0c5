// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package docstore implements the local, embedded document store that
// stands in for the external document index referenced by the rest of
// the pipeline. It is built on badger, the same embedded key-value
// engine used by the open-policy-agent disk storage backend: one
// logical "index" corresponds to one key prefix, documents are JSON
// encoded, and conflicting concurrent merges are resolved by retrying
// inside a fresh transaction, mirroring an ES retry_on_conflict loop.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a thin, typed-document wrapper around one badger.DB.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// key builds the "<index>/<id>" key used for every document.
func key(index, id string) []byte {
	return []byte(index + "/" + id)
}

func prefix(index string) []byte {
	return []byte(index + "/")
}

// Put writes doc as index/id, overwriting any previous value.
func (s *Store) Put(index, id string, doc any) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(index, id), buf)
	})
}

// GetByID loads the document stored at index/id into out. It returns
// badger.ErrKeyNotFound if no such document exists.
func (s *Store) GetByID(index, id string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(index, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// DeleteByID removes the document stored at index/id, if present.
func (s *Store) DeleteByID(index, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(index, id))
	})
}

// GetAll streams every document under index through decode, iterating
// keys in byte order.
func (s *Store) GetAll(index string, decode func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		pfx := prefix(index)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			if err := item.Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

// IDsWithPrefix lists the document ids stored under index whose id
// itself starts with idPrefix, sorted lexically. Used by batch-state
// scans (e.g. "list batches for date key X").
func (s *Store) IDsWithPrefix(index, idPrefix string) ([]string, error) {
	var ids []string
	pfx := append(prefix(index), []byte(idPrefix)...)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		base := prefix(index)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			full := it.Item().KeyCopy(nil)
			ids = append(ids, string(bytes.TrimPrefix(full, base)))
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

// BatchInsert writes many documents to index in one write batch,
// chunked by badger internally; this is the bulk-insert analogue of an
// ES _bulk index request.
func (s *Store) BatchInsert(index string, docs map[string]any) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for id, doc := range docs {
		buf, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := wb.Set(key(index, id), buf); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// MergeFunc loads the current document (or a zero value if absent)
// and returns the updated value to persist.
type MergeFunc func(current []byte, found bool) (updated any, err error)

// maxMergeRetries bounds the optimistic-concurrency retry loop below,
// mirroring an ES scripted_upsert with retry_on_conflict=3.
const maxMergeRetries = 3

// Merge performs a read-modify-write of index/id with automatic retry
// on a transaction conflict, the scripted-upsert analogue used by the
// summarization stage to fold a ScoreRecord into a rolling IPSummary.
func (s *Store) Merge(ctx context.Context, index, id string, fn MergeFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key(index, id))
			var current []byte
			found := true
			if err == badger.ErrKeyNotFound {
				found = false
			} else if err != nil {
				return err
			} else {
				current, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			}

			updated, err := fn(current, found)
			if err != nil {
				return err
			}
			buf, err := json.Marshal(updated)
			if err != nil {
				return err
			}
			return txn.Set(key(index, id), buf)
		})

		if err == nil {
			return nil
		}
		if err != badger.ErrConflict {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("docstore: merge %s/%s: %w after %d retries", index, id, lastErr, maxMergeRetries)
}

// DropIndex deletes every document stored under index along with its
// CreateIndex registration, used by the retention stage to expire old
// batches and daily summaries.
func (s *Store) DropIndex(index string) error {
	if err := s.db.DropPrefix(prefix(index)); err != nil {
		return err
	}
	return s.DeleteByID(indexRegistry, index)
}

// ScanPrefix decodes every document under index whose id starts with
// idPrefix, in key order. This is how the aggregation stage reads
// just one batch_id's worth of raw records out of a whole day's
// log_metadata_<date> index without an external aggregation engine to
// delegate the filter to.
func (s *Store) ScanPrefix(index, idPrefix string, decode func(id string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		base := prefix(index)
		pfx := append(append([]byte{}, base...), idPrefix...)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			id := string(bytes.TrimPrefix(item.KeyCopy(nil), base))
			if err := item.Value(func(val []byte) error {
				return decode(id, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// indexRegistry records index/template metadata for introspection
// only; badger has no index/template concept of its own, so
// CreateIndex is a bookkeeping call rather than a schema operation.
const indexRegistry = "__indices"

// CreateIndex registers name with its field template if not already
// present. Idempotent: re-registering an existing index is a no-op.
func (s *Store) CreateIndex(name string, template any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		k := key(indexRegistry, name)
		if _, err := txn.Get(k); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		buf, err := json.Marshal(template)
		if err != nil {
			return err
		}
		return txn.Set(k, buf)
	})
}

// IndexNames returns every index name registered via CreateIndex whose
// name starts with prefix, used by the retention sweep to discover
// which daily-dated indices actually exist without a native
// "list indices" call to delegate to.
func (s *Store) IndexNames(prefix string) ([]string, error) {
	return s.IDsWithPrefix(indexRegistry, prefix)
}

// BatchMerge applies fn to every id in ids, walking them in chunks of
// 1000 and running one Merge (its own transaction, with the same
// conflict retry) per id; it stops at the first id that fails. It is
// the bulk-upsert analogue used by the summarizer to fold a whole
// batch's score records into rolling per-IP summaries in one call.
func (s *Store) BatchMerge(ctx context.Context, index string, ids []string, fn func(id string) MergeFunc) error {
	const chunkSize = 1000
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			if err := s.Merge(ctx, index, id, fn(id)); err != nil {
				return fmt.Errorf("docstore: batch merge %s/%s: %w", index, id, err)
			}
		}
	}
	return nil
}
