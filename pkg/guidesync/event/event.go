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

// Package event provides an in-process publish/subscribe registry. The sync
// engine publishes cursor and record lifecycle notifications on it so that
// consumers can observe sync progress without reaching into engine state.
package event

import (
	"sync"
)

// Topics published by the sync engine and the entity stores. Per-kind record
// topics are formed as "<wire key>.<created|updated|deleted>".
const (
	TopicCursorUpdated  = "cursor.updated"
	TopicSyncNoData     = "sync.no_data"
	TopicPushNoData     = "push.no_data"
	TopicNetworkChanged = "network.changed"
)

// Handler is a callback invoked with the payload of a published event
type Handler func(payload interface{})

// Bus is a concurrency-safe registry of event subscribers. Publishing is
// synchronous; handlers must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

// NewBus returns an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: map[string]map[int]Handler{},
	}
}

// Subscribe registers a handler for a topic and returns a function that
// removes the subscription
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = map[int]Handler{}
	}

	id := b.next
	b.next++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish invokes every handler subscribed to the topic with the payload
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
