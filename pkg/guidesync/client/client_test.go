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

package client

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
)

func newTestCtx(endpoint string) context.Ctx {
	return context.Ctx{
		APIEndpoint: endpoint,
		SessionKey:  "test-session",
		DeviceID:    "test-device",
		Version:     "0.1.0",
	}
}

func TestGetSync(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"syncProcessId": "proc-1",
			"version": 12,
			"models": {
				"guide": [{"guide_id": 1, "name": "restart"}],
				"guide_step": [{"guide_step_id": 4}]
			}
		}`)
	}))
	defer server.Close()

	resp, err := GetSync(newTestCtx(server.URL), 1622624400, "proc-1")
	assert.NoError(t, err, "getting sync payload")

	assert.Equal(t, gotPath, "/sync?lastUpdatedAt=2021-06-02T09%3A00%3A00Z&syncProcessId=proc-1", "request path")
	assert.Equal(t, gotAuth, "Bearer test-session", "authorization header")
	assert.Equal(t, resp.SyncProcessID, "proc-1", "sync process id")
	assert.Equal(t, resp.Version, int64(12), "version")
	assert.Equal(t, len(resp.Models["guide"]), 1, "guide row count")
	assert.Equal(t, resp.Models["guide"][0]["name"], "restart", "guide name")
}

func TestGetSyncWithoutCursor(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"syncProcessId": "proc-2", "version": 1, "models": {}}`)
	}))
	defer server.Close()

	_, err := GetSync(newTestCtx(server.URL), 0, "")
	assert.NoError(t, err, "getting sync payload")

	assert.Equal(t, gotPath, "/sync", "request path")
}

func TestCheckAvailableData(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result": true}`)
	}))
	defer server.Close()

	resp, err := CheckAvailableData(newTestCtx(server.URL), 7)
	assert.NoError(t, err, "checking available data")

	assert.Equal(t, gotPath, "/sync/check-available-data?appDataVersion=7", "request path")
	assert.Equal(t, resp.Result, true, "result")
}

func TestPushRecord(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"feedback_id": 99, "_id": 3, "message": "step 3 is unclear"}]`)
	}))
	defer server.Close()

	ack, err := PushRecord(newTestCtx(server.URL), "/feedback", map[string]interface{}{
		"_id":     3,
		"message": "step 3 is unclear",
	})
	assert.NoError(t, err, "pushing record")

	assert.Equal(t, gotMethod, "POST", "method")
	assert.Equal(t, gotPath, "/feedback/batch", "path")
	assert.Equal(t, ack["feedback_id"], float64(99), "acknowledged remote id")
}

func TestPushRecordIndexedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"0": {"protocol_id": 81, "_id": 5}}`)
	}))
	defer server.Close()

	ack, err := PushRecord(newTestCtx(server.URL), "/protocol", map[string]interface{}{"_id": 5})
	assert.NoError(t, err, "pushing record")

	assert.Equal(t, ack["protocol_id"], float64(81), "acknowledged remote id")
}

func TestPushRecordRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"_id": 3, "errors": {"message": ["required"]}}]`)
	}))
	defer server.Close()

	_, err := PushRecord(newTestCtx(server.URL), "/feedback", map[string]interface{}{"_id": 3})
	if errors.Cause(err) != ErrPushRejected {
		t.Fatalf("got %v, want ErrPushRejected", err)
	}
}

func TestPushRecordServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	_, err := PushRecord(newTestCtx(server.URL), "/feedback", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestSaveProgress(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := SaveProgress(newTestCtx(server.URL), "proc-1", ProgressPayload{
		ID:               "proc-1",
		UUID:             "test-device",
		Progress:         40,
		AllItemsCount:    100,
		SyncedItemsCount: 40,
		Status:           "progress",
	})
	assert.NoError(t, err, "saving progress")

	assert.Equal(t, gotPath, "/sync/save-progress?syncProcessId=proc-1", "request path")
	assert.Equal(t, gotBody,
		`{"id":"proc-1","uuid":"test-device","progress":40,"all_items_count":100,"synced_items_count":40,"status":"progress"}`,
		"request body")
}

func TestReportCancel(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := ReportCancel(newTestCtx(server.URL), "proc-1", "test-device")
	assert.NoError(t, err, "reporting cancellation")

	assert.Equal(t, gotPath, "/sync/save-progress?syncProcessId=proc-1", "request path")
	assert.Equal(t, gotBody, `{"id":"proc-1","uuid":"test-device","status":"cancel"}`, "request body")
}

func TestSigninInvalidLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ctx := newTestCtx(server.URL)
	ctx.SessionKey = ""

	_, err := Signin(ctx, "user@example.com", "wrong")
	assert.Equal(t, err, ErrInvalidLogin, "error")
}

func TestSignin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"key": "session-1", "expires_at": 1700000000}`)
	}))
	defer server.Close()

	ctx := newTestCtx(server.URL)
	ctx.SessionKey = ""

	resp, err := Signin(ctx, "user@example.com", "secret")
	assert.NoError(t, err, "signing in")

	assert.Equal(t, resp.Key, "session-1", "session key")
	assert.Equal(t, resp.ExpiresAt, int64(1700000000), "expiry")
}

func TestUnauthorizedWithoutSession(t *testing.T) {
	ctx := newTestCtx("http://localhost:0")
	ctx.SessionKey = ""

	_, err := GetSync(ctx, 0, "")
	if err == nil {
		t.Fatal("expected an error")
	}
}
