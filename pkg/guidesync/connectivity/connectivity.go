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

// Package connectivity reports whether the remote API is reachable. The
// sync engines consult it before any network work and refuse to start a
// cycle while offline.
package connectivity

import (
	"net/http"
	"sync"
	"time"

	"github.com/taktwerk/guidesync/pkg/guidesync/event"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
)

// Monitor reports the current network state
type Monitor interface {
	Online() bool
}

// Static is a monitor whose state is set explicitly. Transitions are
// published on the bus under the network changed topic with the new state
// as the payload.
type Static struct {
	mu     sync.RWMutex
	online bool
	bus    *event.Bus
}

// NewStatic returns a static monitor with the given initial state
func NewStatic(online bool, bus *event.Bus) *Static {
	return &Static{
		online: online,
		bus:    bus,
	}
}

// Online reports the last set state
func (m *Static) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.online
}

// Set records a state change, publishing an event if the state flipped
func (m *Static) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.Publish(event.TopicNetworkChanged, online)
	}
}

const probeTimeout = 5 * time.Second

// Probe is a monitor that decides reachability by requesting a probe URL.
// Results are cached for the poll interval so that back-to-back checks do
// not hammer the network.
type Probe struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu        sync.Mutex
	online    bool
	checkedAt time.Time
	bus       *event.Bus
}

// NewProbe returns a probe monitor against the given URL
func NewProbe(url string, client *http.Client, interval time.Duration, bus *event.Bus) *Probe {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	return &Probe{
		url:      url,
		client:   client,
		interval: interval,
		bus:      bus,
	}
}

// Online reports reachability, probing the URL if the cached result has
// expired
func (m *Probe) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkedAt.IsZero() && time.Since(m.checkedAt) < m.interval {
		return m.online
	}

	online := m.check()
	changed := !m.checkedAt.IsZero() && online != m.online

	m.online = online
	m.checkedAt = time.Now()

	if changed && m.bus != nil {
		m.bus.Publish(event.TopicNetworkChanged, online)
	}

	return online
}

func (m *Probe) check() bool {
	req, err := http.NewRequest("HEAD", m.url, nil)
	if err != nil {
		log.Debug("constructing probe request: %v\n", err)
		return false
	}

	res, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode < 500
}
