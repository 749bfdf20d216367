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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// aliasKeyPrefix namespaces anonymizer entries inside the shared database.
const aliasKeyPrefix = "alias/"

// Anonymizer maps real subject ids to stable pseudonyms.
//
// # Description
//
// The alias is derived from the SHA-256 of the subject id: six lowercase
// letters followed by two digits, e.g. "kqwrtz41". Derivation is
// deterministic, so the same subject gets the same alias on every
// gateway instance and across restarts. Known aliases are additionally
// written to the database so exports can enumerate them without
// replaying traffic.
//
// The mapping is one way. Nothing in this package can recover a subject
// id from its alias.
//
// # Thread Safety
//
// Safe for concurrent use.
type Anonymizer struct {
	db     *badgerdb.DB
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewAnonymizer creates an Anonymizer. db may be nil, in which case
// aliases are derived but not recorded.
func NewAnonymizer(db *badgerdb.DB, logger *slog.Logger) *Anonymizer {
	return &Anonymizer{
		db:     db,
		logger: logger,
		cache:  make(map[string]string),
	}
}

// Anonymize returns the stable alias for subject.
func (a *Anonymizer) Anonymize(subject string) string {
	a.mu.Lock()
	if alias, ok := a.cache[subject]; ok {
		a.mu.Unlock()
		return alias
	}
	a.mu.Unlock()

	alias := deriveAlias(subject)

	a.mu.Lock()
	a.cache[subject] = alias
	a.mu.Unlock()

	if a.db != nil {
		key := []byte(aliasKeyPrefix + alias)
		digest := sha256.Sum256([]byte(subject))
		err := a.db.Update(func(txn *badgerdb.Txn) error {
			// Value is the subject hash, not the subject: the stored
			// mapping must stay one way too.
			return txn.Set(key, digest[:])
		})
		if err != nil {
			a.logger.Warn("anonymizer alias persist failed", "error", err)
		}
	}
	return alias
}

// deriveAlias maps a subject id to its pseudonym.
func deriveAlias(subject string) string {
	digest := sha256.Sum256([]byte(subject))

	var letters [6]byte
	for i := range letters {
		letters[i] = 'a' + digest[i]%26
	}
	return fmt.Sprintf("%s%d%d", string(letters[:]), digest[6]%10, digest[7]%10)
}
