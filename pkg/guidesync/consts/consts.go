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

// Package consts provides definitions of constant values used across guidesync
package consts

const (
	// GuidesyncDirName is the name of the directory holding local data
	GuidesyncDirName = "guidesync"
	// GuidesyncDBFileName is the name of the local database file
	GuidesyncDBFileName = "guidesync.db"
	// ConfigFilename is the name of the config file
	ConfigFilename = "guidesyncrc"
	// FilesDirName is the name of the directory holding downloaded attachments
	FilesDirName = "files"
)

// Keys in the system table
const (
	// SystemSchemaVersion is the schema version of the local database
	SystemSchemaVersion = "schema_version"
	// SystemSessionKey is the session key for the remote API
	SystemSessionKey = "session_key"
	// SystemSessionKeyExpiry is the unix timestamp at which the session expires
	SystemSessionKeyExpiry = "session_key_expiry"
	// SystemDeviceID is a uuid identifying this installation to the server
	SystemDeviceID = "device_id"
)

// APITimeFormat is the datetime layout the remote API expects for the
// audit fields of a record body
const APITimeFormat = "2006-01-02 15:04:05"

// SchemaVersion is the current local database schema version. The sync
// engine refuses to run against a database that has not been migrated
// to this version.
const SchemaVersion = 1
