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
	"sync"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/client"
	"github.com/taktwerk/guidesync/pkg/guidesync/connectivity"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
	"github.com/taktwerk/guidesync/pkg/guidesync/filetransfer"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
)

// Hooks are per-kind callbacks around a push round trip. BeforePush lets a
// record stamp client-side metadata before serialization; isInsert reports
// whether the record has no remote id yet. AfterPush may yield derived
// records that need a push of their own in the same cycle.
type Hooks struct {
	BeforePush func(rec *entity.Record, isInsert bool)
	AfterPush  func(rec *entity.Record, ack map[string]interface{}) ([]*entity.Record, error)
}

// Pusher transmits locally mutated records to the server, one record at a
// time, reconciling server-assigned ids and uploading changed attachments.
type Pusher struct {
	ctx      context.Ctx
	cursors  *CursorStore
	stores   *entity.Stores
	monitor  connectivity.Monitor
	transfer filetransfer.Transfer
	bus      *event.Bus
	hooks    map[entity.Kind]Hooks

	mu   sync.Mutex
	busy bool
}

// NewPusher returns a push engine
func NewPusher(ctx context.Ctx, cursors *CursorStore, stores *entity.Stores, monitor connectivity.Monitor, transfer filetransfer.Transfer, bus *event.Bus) *Pusher {
	return &Pusher{
		ctx:      ctx,
		cursors:  cursors,
		stores:   stores,
		monitor:  monitor,
		transfer: transfer,
		bus:      bus,
		hooks:    map[entity.Kind]Hooks{},
	}
}

// SetHooks registers push hooks for a kind
func (p *Pusher) SetHooks(kind entity.Kind, hooks Hooks) {
	p.hooks[kind] = hooks
}

// Busy reports whether a push is in flight
func (p *Pusher) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.busy
}

func (p *Pusher) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy {
		return false
	}
	p.busy = true
	return true
}

func (p *Pusher) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// PushAll runs one push cycle over every push-eligible kind. It returns
// false without side effects when the device is offline or a push is
// already in flight, and false with the no_push_data status when nothing is
// dirty. A failed record aborts the remaining records of the cycle; rows
// already acknowledged stay acknowledged, so the next cycle picks up where
// this one stopped.
func (p *Pusher) PushAll() bool {
	if !p.monitor.Online() {
		log.Debug("push skipped: offline\n")
		return false
	}
	if !p.acquire() {
		log.Debug("push skipped: already in flight\n")
		return false
	}
	defer p.release()

	cursor, err := p.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return false
	}

	batches := map[entity.Kind][]entity.Record{}
	total := 0
	for _, kind := range entity.PushKinds() {
		dirty, err := p.stores.Get(kind).CollectDirty()
		if err != nil {
			log.Error(errors.Wrap(err, "collecting dirty records").Error() + "\n")
			return false
		}
		if len(dirty) == 0 {
			continue
		}

		batches[kind] = dirty
		total += len(dirty)
	}

	if total == 0 {
		cursor.PushStatus = StatusNoPushData
		cursor.PushAvailable = false
		cursor.PushedItemsCount = 0
		cursor.PushedItemsPercent = 0
		if err := p.cursors.SavePush(cursor); err != nil {
			log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		}

		p.publishNoData()
		return false
	}

	cursor.PushStatus = StatusProgress
	cursor.PushedItemsCount = 0
	cursor.PushedItemsPercent = 0
	if err := p.cursors.SavePush(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	for _, kind := range entity.PushKinds() {
		for i := range batches[kind] {
			rec := &batches[kind][i]

			if err := p.pushRecord(rec, &cursor, total); err != nil {
				log.Error(errors.Wrapf(err, "pushing %s %d", rec.Kind, rec.ID).Error() + "\n")

				cursor.PushStatus = StatusFailed
				if err := p.cursors.SavePush(cursor); err != nil {
					log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
				}

				return false
			}

			if err := p.cursors.SavePush(cursor); err != nil {
				log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
				return false
			}
		}
	}

	cursor.PushStatus = StatusSuccess
	cursor.PushAvailable = false
	if err := p.cursors.SavePush(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	return true
}

// pushRecord transmits one record and reconciles the acknowledgement.
// Derived records yielded by the after-push hook are pushed recursively
// under the same protocol; hooks never run for tombstones.
func (p *Pusher) pushRecord(rec *entity.Record, cursor *Cursor, total int) error {
	store := p.stores.Get(rec.Kind)
	spec := rec.Kind.Spec()

	if hooks, ok := p.hooks[rec.Kind]; ok && hooks.BeforePush != nil {
		hooks.BeforePush(rec, rec.RemoteID == 0)
	}

	body := store.Serialize(rec)

	ack, err := client.PushRecord(p.ctx, spec.BasePath, body)
	if err != nil {
		return errors.Wrap(err, "transmitting record")
	}

	if rec.Deleted() {
		// the tombstone has reached the server; the local row can go
		if err := store.Expunge(rec); err != nil {
			return errors.Wrap(err, "expunging tombstone")
		}

		p.recordPushed(cursor, total)
		return nil
	}

	remoteID, err := ackRemoteID(ack, spec.RemotePK)
	if err != nil {
		return err
	}
	if remoteID != 0 {
		rec.RemoteID = remoteID
	}

	if err := p.uploadAttachments(rec); err != nil {
		// keep the server-assigned id but leave the record dirty so
		// the upload is retried next cycle
		rec.Synced = false
		if putErr := store.Put(rec); putErr != nil {
			log.Error(errors.Wrap(putErr, "persisting record").Error() + "\n")
		}

		return errors.Wrap(err, "uploading attachments")
	}

	if err := store.SaveSynced(rec); err != nil {
		return errors.Wrap(err, "marking record synced")
	}

	p.recordPushed(cursor, total)

	if hooks, ok := p.hooks[rec.Kind]; ok && hooks.AfterPush != nil {
		derived, err := hooks.AfterPush(rec, ack)
		if err != nil {
			return errors.Wrap(err, "running after-push hook")
		}

		for _, child := range derived {
			if err := p.pushRecord(child, cursor, total); err != nil {
				return err
			}
		}
	}

	return nil
}

// recordPushed advances the version and the push counters after one
// acknowledged record. Derived records push the count past the dirty
// total, so the percentage caps at 100.
func (p *Pusher) recordPushed(cursor *Cursor, total int) {
	cursor.AppDataVersion++
	cursor.PushedItemsCount++

	pct := Percent(cursor.PushedItemsCount, total)
	if pct > 100 {
		pct = 100
	}
	cursor.PushedItemsPercent = pct
}

// ackRemoteID reads the kind's remote primary key from an acknowledgement
// body
func ackRemoteID(ack map[string]interface{}, remotePK string) (int64, error) {
	raw, ok := ack[remotePK]
	if !ok || raw == nil {
		return 0, nil
	}

	id, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("unexpected %s type %T in acknowledgement", remotePK, raw)
	}

	return int64(id), nil
}

// uploadAttachments transmits the local attachment files of the record
func (p *Pusher) uploadAttachments(rec *entity.Record) error {
	if p.transfer == nil {
		return nil
	}

	spec := rec.Kind.Spec()
	for _, att := range spec.Attachments {
		localPath := rec.StringField(att.LocalPathField)
		if localPath == "" || rec.StringField(att.URLField) != "" {
			// nothing local to send, or the server already holds the file
			continue
		}

		url := fmt.Sprintf("%s%s/%d/file", p.ctx.APIEndpoint, spec.BasePath, rec.RemoteID)
		if err := p.transfer.Upload(p.ctx, localPath, url); err != nil {
			return errors.Wrapf(err, "uploading %s", localPath)
		}
	}

	return nil
}

func (p *Pusher) publishNoData() {
	if p.bus == nil {
		return
	}

	p.bus.Publish(event.TopicPushNoData, nil)
}
