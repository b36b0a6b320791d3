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
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
)

// Record is a local row of one entity kind. RemoteID is the server-side
// primary key, 0 when the record has never been acknowledged by the server.
// Audit timestamps are epoch seconds, 0 when unset; the Local* columns track
// what happened on this device while the plain columns mirror the server.
type Record struct {
	ID             int64
	Kind           Kind
	RemoteID       int64
	Synced         bool
	Fields         map[string]interface{}
	CreatedAt      int64
	LocalCreatedAt int64
	UpdatedAt      int64
	LocalUpdatedAt int64
	DeletedAt      int64
	LocalDeletedAt int64
}

// Deleted reports whether the record is a tombstone, locally or remotely
func (r *Record) Deleted() bool {
	return r.DeletedAt != 0 || r.LocalDeletedAt != 0
}

// StringField reads a field value coerced to string. Absent fields read as
// the empty string.
func (r *Record) StringField(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// SetField writes a field value, allocating the field map if needed
func (r *Record) SetField(name string, value interface{}) {
	if r.Fields == nil {
		r.Fields = map[string]interface{}{}
	}

	r.Fields[name] = value
}

// FormatAPITime renders epoch seconds in the timestamp format the remote API
// exchanges. Zero renders as the empty string.
func FormatAPITime(sec int64) string {
	if sec == 0 {
		return ""
	}

	return time.Unix(sec, 0).UTC().Format(consts.APITimeFormat)
}

// ParseWireTime interprets a timestamp from a wire body. The API emits
// formatted strings while local serializations carry epoch seconds, so both
// forms are accepted. Nil and empty values parse to 0.
func ParseWireTime(v interface{}) (int64, error) {
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
		n, err := val.Int64()
		if err != nil {
			return 0, errors.Wrap(err, "reading numeric timestamp")
		}

		return n, nil
	case string:
		if val == "" {
			return 0, nil
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, nil
		}
		if t, err := time.Parse(consts.APITimeFormat, val); err == nil {
			return t.Unix(), nil
		}
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.Unix(), nil
		}

		return 0, errors.Errorf("unrecognized timestamp %q", val)
	default:
		return 0, errors.Errorf("unrecognized timestamp type %T", v)
	}
}
