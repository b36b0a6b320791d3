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

package connectivity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
)

func TestStaticTransitions(t *testing.T) {
	bus := event.NewBus()

	var transitions []bool
	bus.Subscribe(event.TopicNetworkChanged, func(payload interface{}) {
		transitions = append(transitions, payload.(bool))
	})

	m := NewStatic(true, bus)
	assert.Equal(t, m.Online(), true, "initial state")

	m.Set(false)
	assert.Equal(t, m.Online(), false, "state after going offline")

	// setting the same state again is not a transition
	m.Set(false)
	m.Set(true)

	assert.DeepEqual(t, transitions, []bool{false, true}, "published transitions")
}

func TestProbeOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewProbe(server.URL, server.Client(), time.Minute, nil)
	assert.Equal(t, m.Online(), true, "probe against live server")
}

func TestProbeOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	m := NewProbe(server.URL, nil, time.Minute, nil)
	assert.Equal(t, m.Online(), false, "probe against closed server")
}

func TestProbeCachesResult(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewProbe(server.URL, server.Client(), time.Minute, nil)
	m.Online()
	m.Online()
	m.Online()

	assert.Equal(t, requests, 1, "probe request count")
}
