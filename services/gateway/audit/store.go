// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// recordKeyPrefix namespaces interaction records inside the shared
// database. Keys embed the creation timestamp so iteration order is
// chronological.
const recordKeyPrefix = "rec/"

// BadgerStore persists anonymized records in an embedded BadgerDB.
type BadgerStore struct {
	db *badgerdb.DB
}

// NewBadgerStore wraps an opened database.
func NewBadgerStore(db *badgerdb.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Append writes one record.
func (s *BadgerStore) Append(rec StoredRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	key := fmt.Sprintf("%s%020d/%s", recordKeyPrefix, rec.CreatedAt.UnixNano(), rec.ID)

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Export walks all records in chronological order. fn returning an error
// stops the walk and propagates the error.
func (s *BadgerStore) Export(fn func(rec StoredRecord) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(recordKeyPrefix)); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec StoredRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode audit record: %w", err)
				}
				return fn(rec)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Store = (*BadgerStore)(nil)
