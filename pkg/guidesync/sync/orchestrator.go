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
	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/taktwerk/guidesync/pkg/guidesync/client"
	"github.com/taktwerk/guidesync/pkg/guidesync/connectivity"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
	"github.com/taktwerk/guidesync/pkg/guidesync/filetransfer"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
)

// Orchestrator is the public face of the sync engine. It gates every entry
// point on migration state and connectivity, owns the single-flight guards
// through the engines it holds, and re-arms cycles from a poll schedule and
// network transitions.
type Orchestrator struct {
	ctx     context.Ctx
	cursors *CursorStore
	puller  *Puller
	pusher  *Pusher
	monitor connectivity.Monitor
	bus     *event.Bus

	cron        *cron.Cron
	unsubscribe func()
}

// NewOrchestrator wires the engines over one database and transport
func NewOrchestrator(ctx context.Ctx, stores *entity.Stores, monitor connectivity.Monitor, transfer filetransfer.Transfer, bus *event.Bus) *Orchestrator {
	cursors := NewCursorStore(ctx.DB, bus)

	return &Orchestrator{
		ctx:     ctx,
		cursors: cursors,
		puller:  NewPuller(ctx, cursors, stores, monitor, transfer, bus),
		pusher:  NewPusher(ctx, cursors, stores, monitor, transfer, bus),
		monitor: monitor,
		bus:     bus,
	}
}

// Cursors exposes the cursor store for observers
func (o *Orchestrator) Cursors() *CursorStore {
	return o.cursors
}

// Pusher exposes the push engine, for hook registration
func (o *Orchestrator) Pusher() *Pusher {
	return o.pusher
}

// StartSync runs one sync cycle: a pull followed unconditionally by a push.
// It resolves false without side effects when the database schema is not
// current, the device is offline, or a pull is already in flight. With
// resume set, the pull continues the interrupted process recorded in the
// cursor.
func (o *Orchestrator) StartSync(resume bool) bool {
	migrated, err := database.IsMigrated(o.ctx.DB)
	if err != nil {
		log.Error(errors.Wrap(err, "checking migration state").Error() + "\n")
		return false
	}
	if !migrated {
		log.Debug("sync skipped: database not migrated\n")
		return false
	}

	if !o.monitor.Online() {
		log.Debug("sync skipped: offline\n")
		return false
	}
	if o.puller.Busy() {
		log.Debug("sync skipped: pull in flight\n")
		return false
	}

	ok := o.puller.Start(resume)

	// push runs regardless of the pull outcome
	o.pusher.PushAll()

	return ok
}

// Pause pauses an in-flight pull. Idempotent.
func (o *Orchestrator) Pause() bool {
	return o.puller.Pause()
}

// Resume continues an interrupted pull from the persisted cursor
func (o *Orchestrator) Resume() bool {
	return o.StartSync(true)
}

// Cancel abandons the in-flight or paused pull and drops its progress
func (o *Orchestrator) Cancel() bool {
	return o.puller.Cancel()
}

// PushAll runs one push cycle without a preceding pull
func (o *Orchestrator) PushAll() bool {
	return o.pusher.PushAll()
}

// CheckAvailableChanges asks the server whether changes newer than the
// cursor's data version exist. A cached true is returned without a network
// call; offline short-circuits to false without touching the flag.
func (o *Orchestrator) CheckAvailableChanges() bool {
	cursor, err := o.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return false
	}
	if cursor.SyncAvailable {
		return true
	}

	if !o.monitor.Online() {
		return false
	}

	resp, err := client.CheckAvailableData(o.ctx, cursor.AppDataVersion)
	if err != nil {
		log.Debug("checking available data: %v\n", err)
		return false
	}

	if err := o.cursors.SetSyncAvailable(resp.Result); err != nil {
		log.Error(errors.Wrap(err, "persisting sync availability").Error() + "\n")
		return false
	}

	return resp.Result
}

// SetPushAvailable records that local mutations exist, persisted
// immediately
func (o *Orchestrator) SetPushAvailable(available bool) error {
	return o.cursors.SetPushAvailable(available)
}

// StartPolling arms the periodic re-check on the given cron schedule and
// subscribes to network transitions so a restored connection triggers a
// cycle immediately. The engines' own guards keep overlapping triggers
// single-flight.
func (o *Orchestrator) StartPolling(schedule string) error {
	if o.cron != nil {
		return errors.New("polling already started")
	}

	c := cron.New()
	if err := c.AddFunc(schedule, o.poll); err != nil {
		return errors.Wrap(err, "scheduling sync poll")
	}
	c.Start()
	o.cron = c

	o.unsubscribe = o.bus.Subscribe(event.TopicNetworkChanged, func(payload interface{}) {
		online, ok := payload.(bool)
		if !ok || !online {
			return
		}

		go o.poll()
	})

	return nil
}

// StopPolling disarms the periodic re-check
func (o *Orchestrator) StopPolling() {
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// poll runs one availability check and, when warranted, a sync cycle. An
// interrupted pull is resumed rather than restarted.
func (o *Orchestrator) poll() {
	cursor, err := o.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return
	}

	resume := cursor.Status == StatusPause || cursor.Status == StatusResume

	if !resume && !cursor.PushAvailable && !o.CheckAvailableChanges() {
		return
	}

	o.StartSync(resume)
}
