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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taktwerk/guidesync/pkg/clock"
	"github.com/taktwerk/guidesync/pkg/guidesync/connectivity"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

type testEnv struct {
	ctx     context.Ctx
	db      *database.DB
	bus     *event.Bus
	clock   *clock.Mock
	stores  *entity.Stores
	monitor *connectivity.Static
	cursors *CursorStore
	orch    *Orchestrator
}

// newTestEnv wires a full engine stack against the given handler. The
// handler stands in for the remote API.
func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()

	db := database.InitTestMemoryDB(t)
	bus := event.NewBus()
	mock := clock.NewMock()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ctx := context.Ctx{
		APIEndpoint: server.URL,
		SessionKey:  "test-session",
		DeviceID:    "test-device",
		Version:     "test",
		DB:          db,
		Clock:       mock,
	}

	monitor := connectivity.NewStatic(true, bus)
	stores := entity.NewStores(db, bus, mock)
	orch := NewOrchestrator(ctx, stores, monitor, nil, bus)

	return &testEnv{
		ctx:     ctx,
		db:      db,
		bus:     bus,
		clock:   mock,
		stores:  stores,
		monitor: monitor,
		cursors: orch.Cursors(),
		orch:    orch,
	}
}

// newSyncMux routes the endpoints the engines hit during a cycle. The
// progress endpoint accepts silently; the sync endpoint serves the given
// payload verbatim.
func newSyncMux(syncPayload string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/save-progress", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(syncPayload))
	})

	return mux
}

func mustCursor(t *testing.T, s *CursorStore) Cursor {
	t.Helper()

	c, err := s.Get()
	if err != nil {
		t.Fatalf("reading cursor: %v", err)
	}

	return c
}
