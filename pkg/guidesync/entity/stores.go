/* Copyright 2025 Guidesync Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package entity

import (
	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/clock"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

// Stores is the registry of per-kind stores over one local database
type Stores struct {
	db     *database.DB
	byKind map[Kind]*Store
}

// NewStores builds a store for every syncable kind
func NewStores(db *database.DB, bus *event.Bus, c clock.Clock) *Stores {
	byKind := make(map[Kind]*Store, len(Kinds))
	for _, k := range Kinds {
		byKind[k] = NewStore(db, k, bus, c)
	}

	return &Stores{
		db:     db,
		byKind: byKind,
	}
}

// Get returns the store for the kind
func (s *Stores) Get(k Kind) *Store {
	return s.byKind[k]
}

// Reset deletes every record of every kind. It is invoked on sign-out so
// that the next sign-in starts from an empty store.
func (s *Stores) Reset() error {
	if _, err := s.db.Exec("DELETE FROM records"); err != nil {
		return errors.Wrap(err, "deleting records")
	}

	return nil
}
