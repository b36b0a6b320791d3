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
	"testing"

	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

func TestPercent(t *testing.T) {
	testCases := []struct {
		n        int
		total    int
		expected int
	}{
		{0, 0, 0},
		{0, 100, 0},
		{33, 100, 33},
		{1, 3, 33},
		{2, 3, 67},
		{50, 100, 50},
		{100, 100, 100},
	}

	for _, tc := range testCases {
		got := Percent(tc.n, tc.total)
		assert.Equal(t, got, tc.expected, "percent")
	}
}

func TestCursorDefaults(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	s := NewCursorStore(db, nil)

	c, err := s.Get()
	assert.NoError(t, err, "reading cursor")

	assert.Equal(t, c.Status, StatusInitial, "status")
	assert.Equal(t, c.PushStatus, StatusInitial, "push status")
	assert.Equal(t, c.LastSyncProcessID, "", "process id")
	assert.Equal(t, c.AllItemsCount, 0, "all items count")
}

func TestCursorRoundtrip(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	s := NewCursorStore(db, nil)

	saved := Cursor{
		Status:            StatusResume,
		LastSyncProcessID: "proc-1",
		LastSyncedAt:      1622624400,
		AppDataVersion:    12,
		AllItemsCount:     100,
		LastElementNumber: 40,
		Percent:           40,
		SyncAvailable:     true,
	}
	assert.NoError(t, s.SavePull(saved), "saving cursor")

	saved.PushStatus = StatusProgress
	saved.PushAvailable = true
	saved.PushedItemsCount = 3
	saved.PushedItemsPercent = 50
	assert.NoError(t, s.SavePush(saved), "saving push cursor")

	got, err := s.Get()
	assert.NoError(t, err, "reading cursor")
	assert.DeepEqual(t, got, saved, "round-tripped cursor")
}

func TestSaveProgressPreservesStatus(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	s := NewCursorStore(db, nil)

	c := Cursor{Status: StatusProgress, LastSyncProcessID: "proc-1", AllItemsCount: 10}
	assert.NoError(t, s.SavePull(c), "saving cursor")

	// a concurrent pause lands between two counter updates
	assert.NoError(t, s.SetStatus(StatusPause), "pausing")

	c.LastElementNumber = 5
	c.Percent = 50
	assert.NoError(t, s.SaveProgress(c), "saving counters")

	got, err := s.Get()
	assert.NoError(t, err, "reading cursor")
	assert.Equal(t, got.Status, StatusPause, "pause survives counter update")
	assert.Equal(t, got.LastElementNumber, 5, "last element number")
}

func TestCursorReset(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	s := NewCursorStore(db, nil)

	c := Cursor{Status: StatusSuccess, LastSyncProcessID: "proc-1", LastSyncedAt: 1622624400, AllItemsCount: 10, LastElementNumber: 10, Percent: 100}
	assert.NoError(t, s.SavePull(c), "saving cursor")

	assert.NoError(t, s.Reset(), "resetting cursor")

	got, err := s.Get()
	assert.NoError(t, err, "reading cursor")
	assert.Equal(t, got.Status, StatusNotSync, "status")
	assert.Equal(t, got.PushStatus, StatusNotSync, "push status")
	assert.Equal(t, got.LastSyncProcessID, "", "process id")
	assert.Equal(t, got.LastSyncedAt, int64(0), "last synced at")
	assert.Equal(t, got.AllItemsCount, 0, "all items count")
	assert.Equal(t, got.Percent, 0, "percent")
}

func TestCursorPublishesUpdates(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	bus := event.NewBus()
	s := NewCursorStore(db, bus)

	var updates int
	bus.Subscribe(event.TopicCursorUpdated, func(interface{}) { updates++ })

	c := Cursor{Status: StatusProgress}
	assert.NoError(t, s.SavePull(c), "saving cursor")
	assert.NoError(t, s.SaveProgress(c), "saving counters")
	assert.NoError(t, s.SavePush(c), "saving push cursor")

	assert.Equal(t, updates, 3, "published updates")
}
