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

// Package sync implements the bidirectional synchronization engine: a
// resumable pull of remote changes into the local store, a push of local
// mutations back to the server, and the orchestrator coordinating the two.
package sync

import (
	"database/sql"
	"math"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

// Status values of the sync cursor. The strings are durable on-device state
// and are also reported to the server's progress endpoint.
const (
	StatusInitial    = "initial"
	StatusProgress   = "progress"
	StatusResume     = "resume"
	StatusPause      = "pause"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusNotSync    = "not_sync"
	StatusNoPushData = "no_push_data"
	// StatusCancel is only ever reported to the server; the cursor itself
	// settles on not_sync after a cancellation
	StatusCancel = "cancel"
)

// Cursor is the single persisted record tracking sync progress. Status
// tracks the pull lifecycle, PushStatus the push lifecycle; the two move
// independently because a push may overlap a pull.
type Cursor struct {
	Status             string
	PushStatus         string
	LastSyncProcessID  string
	LastSyncedAt       int64
	AppDataVersion     int64
	AllItemsCount      int
	LastElementNumber  int
	Percent            int
	SyncAvailable      bool
	PushAvailable      bool
	PushedItemsCount   int
	PushedItemsPercent int
}

// Percent computes a progress percentage, rounding half away from zero.
// A zero total reads as zero percent.
func Percent(n, total int) int {
	if total == 0 {
		return 0
	}

	return int(math.Round(float64(n) / float64(total) * 100))
}

// CursorStore reads and writes the sync cursor row. Writes are split by
// concern: pull-side fields, push-side fields and bare counters each have
// their own save so that overlapping pull and push cycles, or a concurrent
// pause, never clobber each other's columns.
type CursorStore struct {
	db  *database.DB
	bus *event.Bus
}

// NewCursorStore returns a cursor store over the given database
func NewCursorStore(db *database.DB, bus *event.Bus) *CursorStore {
	return &CursorStore{
		db:  db,
		bus: bus,
	}
}

// Get reads the cursor, creating the initial row if none exists yet
func (s *CursorStore) Get() (Cursor, error) {
	var ret Cursor

	err := s.db.QueryRow(`SELECT status, push_status, last_sync_process_id, last_synced_at, app_data_version,
		all_items_count, last_element_number, percent, is_sync_available, is_push_available,
		pushed_items_count, pushed_items_percent
		FROM sync_cursor WHERE id = 1`).Scan(
		&ret.Status, &ret.PushStatus, &ret.LastSyncProcessID, &ret.LastSyncedAt, &ret.AppDataVersion,
		&ret.AllItemsCount, &ret.LastElementNumber, &ret.Percent, &ret.SyncAvailable, &ret.PushAvailable,
		&ret.PushedItemsCount, &ret.PushedItemsPercent)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec("INSERT INTO sync_cursor (id) VALUES (1)"); err != nil {
			return ret, errors.Wrap(err, "creating cursor row")
		}

		ret.Status = StatusInitial
		ret.PushStatus = StatusInitial
		return ret, nil
	}
	if err != nil {
		return ret, errors.Wrap(err, "querying cursor")
	}

	return ret, nil
}

// SavePull persists the pull-side fields of the cursor
func (s *CursorStore) SavePull(c Cursor) error {
	_, err := s.db.Exec(`UPDATE sync_cursor
		SET status = ?, last_sync_process_id = ?, last_synced_at = ?, app_data_version = ?,
			all_items_count = ?, last_element_number = ?, percent = ?, is_sync_available = ?
		WHERE id = 1`,
		c.Status, c.LastSyncProcessID, c.LastSyncedAt, c.AppDataVersion,
		c.AllItemsCount, c.LastElementNumber, c.Percent, c.SyncAvailable)
	if err != nil {
		return errors.Wrap(err, "updating cursor")
	}

	s.publish(c)
	return nil
}

// SaveProgress persists only the pull counters. Status is deliberately left
// untouched so that a pause or cancel written by another goroutine survives
// the next counter update.
func (s *CursorStore) SaveProgress(c Cursor) error {
	_, err := s.db.Exec(`UPDATE sync_cursor
		SET all_items_count = ?, last_element_number = ?, percent = ?
		WHERE id = 1`,
		c.AllItemsCount, c.LastElementNumber, c.Percent)
	if err != nil {
		return errors.Wrap(err, "updating cursor counters")
	}

	s.publish(c)
	return nil
}

// SavePush persists the push-side fields of the cursor
func (s *CursorStore) SavePush(c Cursor) error {
	_, err := s.db.Exec(`UPDATE sync_cursor
		SET push_status = ?, app_data_version = ?, is_push_available = ?,
			pushed_items_count = ?, pushed_items_percent = ?
		WHERE id = 1`,
		c.PushStatus, c.AppDataVersion, c.PushAvailable,
		c.PushedItemsCount, c.PushedItemsPercent)
	if err != nil {
		return errors.Wrap(err, "updating push cursor")
	}

	s.publish(c)
	return nil
}

// SetStatus persists only the pull status
func (s *CursorStore) SetStatus(status string) error {
	if _, err := s.db.Exec("UPDATE sync_cursor SET status = ? WHERE id = 1", status); err != nil {
		return errors.Wrap(err, "updating cursor status")
	}

	return nil
}

// GetStatus reads only the pull status. The pull loop polls it between
// records to observe a pause or cancel written by another goroutine.
func (s *CursorStore) GetStatus() (string, error) {
	var ret string
	err := s.db.QueryRow("SELECT status FROM sync_cursor WHERE id = 1").Scan(&ret)
	if err == sql.ErrNoRows {
		return StatusInitial, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "querying cursor status")
	}

	return ret, nil
}

// SetSyncAvailable persists the remote-work-pending flag
func (s *CursorStore) SetSyncAvailable(available bool) error {
	if _, err := s.db.Exec("UPDATE sync_cursor SET is_sync_available = ? WHERE id = 1", available); err != nil {
		return errors.Wrap(err, "updating sync availability")
	}

	return nil
}

// SetPushAvailable persists the local-work-pending flag
func (s *CursorStore) SetPushAvailable(available bool) error {
	if _, err := s.db.Exec("UPDATE sync_cursor SET is_push_available = ? WHERE id = 1", available); err != nil {
		return errors.Wrap(err, "updating push availability")
	}

	return nil
}

// Reset zeroes the cursor. It is invoked on sign-out; the next sign-in
// starts from a not_sync state.
func (s *CursorStore) Reset() error {
	_, err := s.db.Exec(`UPDATE sync_cursor
		SET status = ?, push_status = ?, last_sync_process_id = '', last_synced_at = 0,
			app_data_version = 0, all_items_count = 0, last_element_number = 0, percent = 0,
			is_sync_available = ?, is_push_available = ?, pushed_items_count = 0, pushed_items_percent = 0
		WHERE id = 1`,
		StatusNotSync, StatusNotSync, false, false)
	if err != nil {
		return errors.Wrap(err, "resetting cursor")
	}

	c := Cursor{Status: StatusNotSync, PushStatus: StatusNotSync}
	s.publish(c)
	return nil
}

func (s *CursorStore) publish(c Cursor) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(event.TopicCursorUpdated, c)
}
