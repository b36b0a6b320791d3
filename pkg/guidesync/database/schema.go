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

package database

import (
	"database/sql"
	"strconv"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
)

// InitSchema creates the tables of the local store if they do not exist and
// stamps the schema version.
//
// All timestamps are stored as unix epoch seconds with 0 meaning unset. The
// kind-specific fields of a record are stored as a JSON document; the sync
// engine treats them as opaque except for the attachment descriptors of the
// record's kind.
func InitSchema(db *DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS records
		(
			id integer PRIMARY KEY AUTOINCREMENT,
			kind text NOT NULL,
			remote_id integer NOT NULL DEFAULT 0,
			is_synced bool NOT NULL DEFAULT false,
			fields text NOT NULL DEFAULT '{}',
			created_at integer NOT NULL DEFAULT 0,
			local_created_at integer NOT NULL DEFAULT 0,
			updated_at integer NOT NULL DEFAULT 0,
			local_updated_at integer NOT NULL DEFAULT 0,
			deleted_at integer NOT NULL DEFAULT 0,
			local_deleted_at integer NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return errors.Wrap(err, "creating records table")
	}

	_, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_kind_remote_id
		ON records (kind, remote_id) WHERE remote_id != 0`)
	if err != nil {
		return errors.Wrap(err, "creating records remote id index")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS system
		(
			key string NOT NULL,
			value text NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "creating system table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sync_cursor
		(
			id integer PRIMARY KEY CHECK (id = 1),
			status text NOT NULL DEFAULT 'initial',
			push_status text NOT NULL DEFAULT 'initial',
			last_sync_process_id text NOT NULL DEFAULT '',
			last_synced_at integer NOT NULL DEFAULT 0,
			app_data_version integer NOT NULL DEFAULT 0,
			all_items_count integer NOT NULL DEFAULT 0,
			last_element_number integer NOT NULL DEFAULT 0,
			percent integer NOT NULL DEFAULT 0,
			is_sync_available bool NOT NULL DEFAULT false,
			is_push_available bool NOT NULL DEFAULT false,
			pushed_items_count integer NOT NULL DEFAULT 0,
			pushed_items_percent integer NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return errors.Wrap(err, "creating sync_cursor table")
	}

	if err := UpsertSystem(db, consts.SystemSchemaVersion, consts.SchemaVersion); err != nil {
		return errors.Wrap(err, "stamping schema version")
	}

	return nil
}

// IsMigrated checks that the local store has been migrated to the schema
// version this build requires. The sync engine refuses to run otherwise.
func IsMigrated(db *DB) (bool, error) {
	var raw string
	err := db.QueryRow("SELECT value FROM system WHERE key = ?", consts.SystemSchemaVersion).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "querying schema version")
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return false, errors.Wrapf(err, "parsing schema version %s", raw)
	}

	return version == consts.SchemaVersion, nil
}
