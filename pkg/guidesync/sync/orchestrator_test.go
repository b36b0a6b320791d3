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

package sync

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
)

func TestStartSyncRunsPushAfterPull(t *testing.T) {
	var nextID int64 = 100

	mux := http.NewServeMux()
	env := newTestEnv(t, mux)
	mux.HandleFunc("/sync/save-progress", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"syncProcessId": "proc-1", "version": 3, "models": {"guide": [{"guide_id": 1}]}}`)
	})
	mux.HandleFunc("/feedback/batch", ackBatch(t, "feedback_id", &nextID))

	rec := saveDirtyFeedback(t, env, "while offline")

	ok := env.orch.StartSync(false)
	assert.Equal(t, ok, true, "sync result")

	// the pull landed
	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 1, "pulled count")

	// and the push ran afterwards
	got, err := env.stores.Get(entity.KindFeedback).Find(rec.ID)
	assert.NoError(t, err, "finding record")
	assert.Equal(t, got.Synced, true, "record pushed")
}

func TestStartSyncRunsPushDespitePullFailure(t *testing.T) {
	var nextID int64 = 100

	mux := http.NewServeMux()
	env := newTestEnv(t, mux)
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/feedback/batch", ackBatch(t, "feedback_id", &nextID))

	rec := saveDirtyFeedback(t, env, "still goes out")

	ok := env.orch.StartSync(false)
	assert.Equal(t, ok, false, "sync result")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusFailed, "pull status")

	got, err := env.stores.Get(entity.KindFeedback).Find(rec.ID)
	assert.NoError(t, err, "finding record")
	assert.Equal(t, got.Synced, true, "record pushed despite pull failure")
}

func TestStartSyncOffline(t *testing.T) {
	var requests int
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	env.monitor.Set(false)

	ok := env.orch.StartSync(false)
	assert.Equal(t, ok, false, "sync result")
	assert.Equal(t, requests, 0, "request count")
}

func TestCheckAvailableChanges(t *testing.T) {
	var requests int
	var gotPath string

	mux := http.NewServeMux()
	env := newTestEnv(t, mux)
	mux.HandleFunc("/sync/check-available-data", func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotPath = r.URL.String()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result": true}`)
	})

	ok := env.orch.CheckAvailableChanges()
	assert.Equal(t, ok, true, "first check")
	assert.Equal(t, gotPath, "/sync/check-available-data?appDataVersion=0", "request path")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.SyncAvailable, true, "availability flag")

	// a known true is cached; no second request goes out
	ok = env.orch.CheckAvailableChanges()
	assert.Equal(t, ok, true, "cached check")
	assert.Equal(t, requests, 1, "request count")
}

func TestCheckAvailableChangesOffline(t *testing.T) {
	var requests int
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	env.monitor.Set(false)

	ok := env.orch.CheckAvailableChanges()
	assert.Equal(t, ok, false, "check result")
	assert.Equal(t, requests, 0, "request count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.SyncAvailable, false, "availability flag untouched")
}

func TestSetPushAvailable(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	assert.NoError(t, env.orch.SetPushAvailable(true), "setting push available")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.PushAvailable, true, "push available flag")
}

func TestPauseIdleEngine(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// pausing with nothing in flight is a harmless no-op
	assert.Equal(t, env.orch.Pause(), true, "pause result")
	assert.Equal(t, env.orch.Pause(), true, "second pause result")
}
