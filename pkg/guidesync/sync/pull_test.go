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
	"strings"
	"sync"
	"testing"

	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

// guidePayload builds a sync payload with guide rows remoteID 1..count
func guidePayload(processID string, version, count int) string {
	var rows []string
	for i := 1; i <= count; i++ {
		rows = append(rows, fmt.Sprintf(`{"guide_id": %d, "name": "guide %d"}`, i, i))
	}

	return fmt.Sprintf(`{"syncProcessId": %q, "version": %d, "models": {"guide": [%s]}}`,
		processID, version, strings.Join(rows, ","))
}

func countRecords(t *testing.T, db *database.DB, kind entity.Kind) int {
	t.Helper()

	var ret int
	database.MustScan(t, "counting records",
		db.QueryRow("SELECT count(*) FROM records WHERE kind = ?", kind), &ret)

	return ret
}

func TestPullAppliesPayload(t *testing.T) {
	payload := `{
		"syncProcessId": "proc-1",
		"version": 12,
		"models": {
			"guide": [{"guide_id": 1, "name": "restart"}, {"guide_id": 2, "name": "shutdown"}],
			"guide_step": [{"guide_step_id": 7, "guide_id": 1, "position": 1}]
		}
	}`
	env := newTestEnv(t, newSyncMux(payload))

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, true, "pull result")

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 2, "guide count")
	assert.Equal(t, countRecords(t, env.db, entity.KindGuideStep), 1, "guide step count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.AllItemsCount, 3, "all items count")
	assert.Equal(t, cursor.LastElementNumber, 3, "last element number")
	assert.Equal(t, cursor.Percent, 100, "percent")
	assert.Equal(t, cursor.AppDataVersion, int64(12), "app data version")
	assert.Equal(t, cursor.LastSyncProcessID, "", "process id cleared")
	assert.Equal(t, cursor.LastSyncedAt, env.clock.Now().Unix(), "last synced at")
}

func TestPullResumeSkipsAppliedRows(t *testing.T) {
	env := newTestEnv(t, newSyncMux(guidePayload("proc-1", 3, 100)))

	seed := Cursor{
		Status:            StatusPause,
		LastSyncProcessID: "proc-1",
		AllItemsCount:     100,
		LastElementNumber: 40,
		Percent:           40,
	}
	assert.NoError(t, env.cursors.SavePull(seed), "seeding cursor")

	ok := env.orch.puller.Start(true)
	assert.Equal(t, ok, true, "pull result")

	// rows 1-40 were already applied in the interrupted cycle and must be
	// skipped; rows 41-100 get applied now
	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 60, "applied count")

	var minID int64
	database.MustScan(t, "reading min remote id",
		env.db.QueryRow("SELECT min(remote_id) FROM records WHERE kind = ?", entity.KindGuide), &minID)
	assert.Equal(t, minID, int64(41), "first applied remote id")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.LastElementNumber, 100, "last element number")
	assert.Equal(t, cursor.Percent, 100, "percent")
}

func TestPullStaleResume(t *testing.T) {
	env := newTestEnv(t, newSyncMux(guidePayload("proc-1", 3, 10)))

	seed := Cursor{
		Status:            StatusPause,
		LastSyncProcessID: "proc-1",
		AllItemsCount:     100,
		LastElementNumber: 40,
		Percent:           40,
	}
	assert.NoError(t, env.cursors.SavePull(seed), "seeding cursor")

	ok := env.orch.puller.Start(true)
	assert.Equal(t, ok, false, "pull result")

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 0, "applied count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.AllItemsCount, 0, "all items count")
	assert.Equal(t, cursor.LastElementNumber, 0, "last element number")
	assert.Equal(t, cursor.Percent, 0, "percent")
	assert.Equal(t, cursor.LastSyncedAt, env.clock.Now().Unix(), "last synced at")
}

func TestPullZeroData(t *testing.T) {
	env := newTestEnv(t, newSyncMux(`{"syncProcessId": "proc-1", "version": 5, "models": {}}`))

	var noData bool
	env.bus.Subscribe(event.TopicSyncNoData, func(interface{}) { noData = true })

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, true, "pull result")
	assert.Equal(t, noData, true, "no data event")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.AllItemsCount, 0, "all items count")
	assert.Equal(t, cursor.AppDataVersion, int64(5), "app data version")
	assert.Equal(t, cursor.LastSyncedAt, env.clock.Now().Unix(), "last synced at")
}

func TestPullMissingProcessID(t *testing.T) {
	env := newTestEnv(t, newSyncMux(`{"version": 5, "models": {"guide": [{"guide_id": 1}]}}`))

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, false, "pull result")

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 0, "applied count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusFailed, "status")
	assert.Equal(t, cursor.LastSyncProcessID, "", "process id")
}

func TestPullOffline(t *testing.T) {
	var requests int
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	env.monitor.Set(false)

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, false, "pull result")
	assert.Equal(t, requests, 0, "request count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusInitial, "status untouched")
}

func TestPullUnknownKindCounted(t *testing.T) {
	payload := `{
		"syncProcessId": "proc-1",
		"version": 2,
		"models": {
			"guide": [{"guide_id": 1}],
			"mystery": [{"mystery_id": 9}]
		}
	}`
	env := newTestEnv(t, newSyncMux(payload))

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, true, "pull result")

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 1, "guide count")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.AllItemsCount, 2, "unknown rows count toward total")
	assert.Equal(t, cursor.LastElementNumber, 2, "last element number")
}

func TestAtMostOnePull(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/sync/save-progress", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"syncProcessId": "proc-1", "version": 1, "models": {}}`))
	})

	env := newTestEnv(t, mux)

	done := make(chan bool)
	go func() {
		done <- env.orch.puller.Start(false)
	}()

	<-entered

	// the first cycle is mid-fetch; a second call must not start another
	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, false, "second pull result")

	close(release)
	assert.Equal(t, <-done, true, "first pull result")
}

func TestPullPauseAndResume(t *testing.T) {
	env := newTestEnv(t, newSyncMux(guidePayload("proc-1", 2, 5)))

	// flip the cursor to pause after the second row lands, as a concurrent
	// Pause call would
	cancel := env.bus.Subscribe(event.TopicCursorUpdated, func(payload interface{}) {
		c, ok := payload.(Cursor)
		if ok && c.LastElementNumber == 2 {
			env.cursors.SetStatus(StatusPause)
		}
	})

	ok := env.orch.puller.Start(false)
	assert.Equal(t, ok, false, "paused pull result")
	cancel()

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 2, "applied before pause")

	status, err := env.cursors.GetStatus()
	assert.NoError(t, err, "reading status")
	assert.Equal(t, status, StatusPause, "status")

	// resuming picks up at row 3
	ok = env.orch.puller.Start(true)
	assert.Equal(t, ok, true, "resumed pull result")

	assert.Equal(t, countRecords(t, env.db, entity.KindGuide), 5, "applied after resume")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusSuccess, "status")
	assert.Equal(t, cursor.Percent, 100, "percent")
}

func TestPullCancel(t *testing.T) {
	env := newTestEnv(t, newSyncMux(`{"syncProcessId": "proc-1", "version": 1, "models": {}}`))

	seed := Cursor{
		Status:            StatusPause,
		LastSyncProcessID: "proc-1",
		AllItemsCount:     10,
		LastElementNumber: 4,
		Percent:           40,
	}
	assert.NoError(t, env.cursors.SavePull(seed), "seeding cursor")

	ok := env.orch.puller.Cancel()
	assert.Equal(t, ok, true, "cancel result")

	cursor := mustCursor(t, env.cursors)
	assert.Equal(t, cursor.Status, StatusNotSync, "status")
	assert.Equal(t, cursor.LastSyncProcessID, "", "process id")
	assert.Equal(t, cursor.AllItemsCount, 0, "all items count")
	assert.Equal(t, cursor.LastElementNumber, 0, "last element number")
}
