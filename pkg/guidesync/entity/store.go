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
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/clock"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

// auditFields are the record columns every wire body carries alongside the
// kind-specific fields
var auditFields = map[string]bool{
	"created_at":       true,
	"local_created_at": true,
	"updated_at":       true,
	"local_updated_at": true,
	"deleted_at":       true,
	"local_deleted_at": true,
}

// Store reads and writes records of one entity kind
type Store struct {
	db    *database.DB
	kind  Kind
	bus   *event.Bus
	clock clock.Clock
}

// NewStore returns a store for the given kind
func NewStore(db *database.DB, kind Kind, bus *event.Bus, c clock.Clock) *Store {
	return &Store{
		db:    db,
		kind:  kind,
		bus:   bus,
		clock: c,
	}
}

// Kind returns the entity kind the store operates on
func (s *Store) Kind() Kind {
	return s.kind
}

const recordColumns = `id, kind, remote_id, is_synced, fields,
	created_at, local_created_at, updated_at, local_updated_at, deleted_at, local_deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var rawFields string

	err := row.Scan(&rec.ID, &rec.Kind, &rec.RemoteID, &rec.Synced, &rawFields,
		&rec.CreatedAt, &rec.LocalCreatedAt, &rec.UpdatedAt, &rec.LocalUpdatedAt, &rec.DeletedAt, &rec.LocalDeletedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rawFields), &rec.Fields); err != nil {
		return nil, errors.Wrap(err, "decoding record fields")
	}

	return &rec, nil
}

// Find retrieves a record by its local id. It returns nil without an error
// if no such record exists.
func (s *Store) Find(id int64) (*Record, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM records WHERE kind = ? AND id = ?", recordColumns), s.kind, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding %s %d", s.kind, id)
	}

	return rec, nil
}

// FindByRemoteID retrieves a record by its server-side primary key. It
// returns nil without an error if no such record exists.
func (s *Store) FindByRemoteID(remoteID int64) (*Record, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM records WHERE kind = ? AND remote_id = ?", recordColumns), s.kind, remoteID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding %s with remote id %d", s.kind, remoteID)
	}

	return rec, nil
}

// Active retrieves all records of the kind that are not tombstones
func (s *Store) Active() ([]Record, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM records
		WHERE kind = ? AND deleted_at = 0 AND local_deleted_at = 0 ORDER BY id`, recordColumns), s.kind)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s records", s.kind)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// CollectDirty retrieves the records of the kind carrying local mutations
// that have not been acknowledged by the server, tombstones included
func (s *Store) CollectDirty() ([]Record, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM records
		WHERE kind = ? AND is_synced = ? ORDER BY id`, recordColumns), s.kind, false)
	if err != nil {
		return nil, errors.Wrapf(err, "querying dirty %s records", s.kind)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var ret []Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning record")
		}

		ret = append(ret, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating records")
	}

	return ret, nil
}

// Save persists a local mutation of the record. It stamps the local audit
// timestamps, marks the record dirty and publishes a created or updated
// event for the kind.
func (s *Store) Save(rec *Record) error {
	now := s.clock.Now().Unix()

	isInsert := rec.ID == 0
	if isInsert {
		rec.LocalCreatedAt = now
	}
	rec.LocalUpdatedAt = now
	rec.Synced = false

	if err := s.write(rec, isInsert); err != nil {
		return err
	}

	if isInsert {
		s.publish("created", rec)
	} else {
		s.publish("updated", rec)
	}

	return nil
}

// Put persists the record exactly as given, without stamping local
// timestamps or publishing events. The sync engine uses it to record the
// outcome of a push round trip.
func (s *Store) Put(rec *Record) error {
	return s.write(rec, rec.ID == 0)
}

// SaveSynced persists the record as acknowledged by the server
func (s *Store) SaveSynced(rec *Record) error {
	rec.Synced = true

	return s.Put(rec)
}

// Remove tombstones the record locally and marks it dirty so that the
// deletion is pushed. Records the server never saw are expunged outright.
func (s *Store) Remove(rec *Record) error {
	if rec.RemoteID == 0 {
		if err := s.Expunge(rec); err != nil {
			return err
		}

		s.publish("deleted", rec)

		return nil
	}

	rec.LocalDeletedAt = s.clock.Now().Unix()
	rec.Synced = false

	if err := s.write(rec, false); err != nil {
		return err
	}

	s.publish("deleted", rec)

	return nil
}

// Expunge removes the record's row from the local store
func (s *Store) Expunge(rec *Record) error {
	if _, err := s.db.Exec("DELETE FROM records WHERE kind = ? AND id = ?", s.kind, rec.ID); err != nil {
		return errors.Wrapf(err, "expunging %s %d", s.kind, rec.ID)
	}

	return nil
}

func (s *Store) write(rec *Record, isInsert bool) error {
	if rec.Fields == nil {
		rec.Fields = map[string]interface{}{}
	}

	rawFields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, "encoding record fields")
	}

	if isInsert {
		res, err := s.db.Exec(`INSERT INTO records
			(kind, remote_id, is_synced, fields, created_at, local_created_at, updated_at, local_updated_at, deleted_at, local_deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.kind, rec.RemoteID, rec.Synced, string(rawFields),
			rec.CreatedAt, rec.LocalCreatedAt, rec.UpdatedAt, rec.LocalUpdatedAt, rec.DeletedAt, rec.LocalDeletedAt)
		if err != nil {
			return errors.Wrapf(err, "inserting %s record", s.kind)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "getting inserted record id")
		}
		rec.ID = id

		return nil
	}

	_, err = s.db.Exec(`UPDATE records
		SET remote_id = ?, is_synced = ?, fields = ?, created_at = ?, local_created_at = ?,
			updated_at = ?, local_updated_at = ?, deleted_at = ?, local_deleted_at = ?
		WHERE kind = ? AND id = ?`,
		rec.RemoteID, rec.Synced, string(rawFields),
		rec.CreatedAt, rec.LocalCreatedAt, rec.UpdatedAt, rec.LocalUpdatedAt, rec.DeletedAt, rec.LocalDeletedAt,
		s.kind, rec.ID)
	if err != nil {
		return errors.Wrapf(err, "updating %s %d", s.kind, rec.ID)
	}

	return nil
}

// ApplyRemote ingests one wire body of the kind from a pull payload. Rows
// are matched by the kind's remote primary key and inserted or updated in
// place, so applying the same body twice converges to one record.
func (s *Store) ApplyRemote(body map[string]interface{}) (*Record, error) {
	spec := s.kind.Spec()

	remoteID, err := wireID(body[spec.RemotePK])
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s of %s body", spec.RemotePK, s.kind)
	}
	if remoteID == 0 {
		return nil, errors.Errorf("%s body carries no %s", s.kind, spec.RemotePK)
	}

	existing, err := s.FindByRemoteID(remoteID)
	if err != nil {
		return nil, err
	}

	rec := existing
	if rec == nil {
		rec = &Record{Kind: s.kind, RemoteID: remoteID}
	}

	fields := map[string]interface{}{}
	for key, val := range body {
		if key == spec.RemotePK || key == "_id" || auditFields[key] {
			continue
		}
		fields[key] = val
	}
	if existing != nil {
		// local-only fields, such as attachment paths, survive the refresh
		for key, val := range existing.Fields {
			if _, ok := fields[key]; !ok {
				fields[key] = val
			}
		}
	}
	rec.Fields = fields

	for key, dest := range map[string]*int64{
		"created_at":       &rec.CreatedAt,
		"local_created_at": &rec.LocalCreatedAt,
		"updated_at":       &rec.UpdatedAt,
		"local_updated_at": &rec.LocalUpdatedAt,
		"deleted_at":       &rec.DeletedAt,
		"local_deleted_at": &rec.LocalDeletedAt,
	} {
		if raw, ok := body[key]; ok {
			sec, err := ParseWireTime(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s of %s body", key, s.kind)
			}
			*dest = sec
		}
	}

	rec.Synced = true
	if err := s.write(rec, existing == nil); err != nil {
		return nil, err
	}

	if existing == nil {
		s.publish("created", rec)
	} else {
		s.publish("updated", rec)
	}

	return rec, nil
}

// Serialize renders the record as a wire body for a push. Audit timestamps
// are formatted to the API datetime layout and the local id rides along so
// that the response can be correlated back.
func (s *Store) Serialize(rec *Record) map[string]interface{} {
	spec := s.kind.Spec()

	body := map[string]interface{}{}
	for key, val := range rec.Fields {
		body[key] = val
	}

	body["_id"] = rec.ID
	if rec.RemoteID != 0 {
		body[spec.RemotePK] = rec.RemoteID
	} else {
		body[spec.RemotePK] = nil
	}

	body["created_at"] = FormatAPITime(rec.CreatedAt)
	body["local_created_at"] = FormatAPITime(rec.LocalCreatedAt)
	body["updated_at"] = FormatAPITime(rec.UpdatedAt)
	body["local_updated_at"] = FormatAPITime(rec.LocalUpdatedAt)
	body["deleted_at"] = FormatAPITime(rec.DeletedAt)
	body["local_deleted_at"] = FormatAPITime(rec.LocalDeletedAt)

	return body
}

func (s *Store) publish(action string, rec *Record) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(fmt.Sprintf("%s.%s", s.kind.WireKey(), action), rec)
}

// wireID coerces a remote primary key value from a wire body to int64
func wireID(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(val), nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case json.Number:
		return val.Int64()
	case string:
		if val == "" {
			return 0, nil
		}
		var n int64
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			return 0, errors.Errorf("unrecognized id %q", val)
		}

		return n, nil
	default:
		return 0, errors.Errorf("unrecognized id type %T", v)
	}
}
