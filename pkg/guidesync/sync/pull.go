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
	"path"
	"path/filepath"
	"sort"
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

// Puller fetches the remote change payload and applies it to the local
// store, advancing the cursor after every applied row. A pull can be paused
// or cancelled between rows and resumed later from the persisted cursor.
type Puller struct {
	ctx      context.Ctx
	cursors  *CursorStore
	stores   *entity.Stores
	monitor  connectivity.Monitor
	transfer filetransfer.Transfer
	bus      *event.Bus

	mu   sync.Mutex
	busy bool
}

// NewPuller returns a pull engine
func NewPuller(ctx context.Ctx, cursors *CursorStore, stores *entity.Stores, monitor connectivity.Monitor, transfer filetransfer.Transfer, bus *event.Bus) *Puller {
	return &Puller{
		ctx:      ctx,
		cursors:  cursors,
		stores:   stores,
		monitor:  monitor,
		transfer: transfer,
		bus:      bus,
	}
}

// Busy reports whether a pull is in flight
func (p *Puller) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.busy
}

func (p *Puller) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy {
		return false
	}
	p.busy = true
	return true
}

func (p *Puller) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// pullItem is one row of the flattened change payload
type pullItem struct {
	wireKey string
	kind    entity.Kind
	known   bool
	row     map[string]interface{}
}

// flatten orders the payload rows deterministically: known kinds in their
// fixed application order, then unknown wire keys sorted alphabetically.
// Resumption depends on this order being stable for a given payload.
func flatten(models map[string][]map[string]interface{}) []pullItem {
	var ret []pullItem

	for _, k := range entity.Kinds {
		for _, row := range models[k.WireKey()] {
			ret = append(ret, pullItem{wireKey: k.WireKey(), kind: k, known: true, row: row})
		}
	}

	var unknown []string
	for key := range models {
		if _, ok := entity.KindForWireKey(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	for _, key := range unknown {
		for _, row := range models[key] {
			ret = append(ret, pullItem{wireKey: key, row: row})
		}
	}

	return ret
}

// Start runs one pull cycle. It returns false without side effects when the
// device is offline or a pull is already in flight. With resume set, the
// cycle continues the interrupted sync process recorded in the cursor
// instead of opening a fresh one.
func (p *Puller) Start(resume bool) bool {
	if !p.monitor.Online() {
		log.Debug("pull skipped: offline\n")
		return false
	}
	if !p.acquire() {
		log.Debug("pull skipped: already in flight\n")
		return false
	}
	defer p.release()

	cursor, err := p.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return false
	}

	processID := ""
	if resume && cursor.LastSyncProcessID != "" {
		cursor.Status = StatusResume
		processID = cursor.LastSyncProcessID
	} else {
		resume = false
		cursor.Status = StatusProgress
		cursor.LastSyncProcessID = ""
		cursor.AllItemsCount = 0
		cursor.LastElementNumber = 0
		cursor.Percent = 0
	}
	if err := p.cursors.SavePull(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	resp, err := client.GetSync(p.ctx, cursor.LastSyncedAt, processID)
	if err != nil {
		p.fail(cursor, errors.Wrap(err, "fetching sync payload"))
		return false
	}
	if resp.SyncProcessID == "" {
		// a missing process id means the server does not speak this
		// protocol; retrying would not help
		p.fail(cursor, errors.New("sync payload carries no process id"))
		return false
	}
	cursor.LastSyncProcessID = resp.SyncProcessID

	items := flatten(resp.Models)
	total := len(items)

	if resume && total < cursor.LastElementNumber {
		// the server no longer holds the transaction this cursor was
		// tracking; drop the stale progress and start over next cycle
		log.Debug("stale resume: server reports %d items, cursor at %d\n", total, cursor.LastElementNumber)

		cursor.Status = StatusSuccess
		cursor.LastSyncProcessID = ""
		cursor.LastSyncedAt = p.ctx.Clock.Now().Unix()
		cursor.AllItemsCount = 0
		cursor.LastElementNumber = 0
		cursor.Percent = 0
		if err := p.cursors.SavePull(cursor); err != nil {
			log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		}

		return false
	}

	if total == 0 {
		cursor.Status = StatusSuccess
		cursor.LastSyncProcessID = ""
		cursor.LastSyncedAt = p.ctx.Clock.Now().Unix()
		cursor.AppDataVersion = resp.Version
		cursor.SyncAvailable = false
		if err := p.cursors.SavePull(cursor); err != nil {
			log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
			return false
		}

		p.publishNoData()
		return true
	}

	skip := 0
	if resume {
		skip = cursor.LastElementNumber
		if total != cursor.AllItemsCount {
			// the transaction shifted size server-side; rescale progress
			cursor.Percent = Percent(skip, total)
		}
	}
	cursor.AllItemsCount = total
	if err := p.cursors.SavePull(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	warned := map[string]bool{}

	n := 0
	for _, item := range items {
		n++
		if n <= skip {
			continue
		}

		if !p.mayContinue(cursor) {
			return false
		}

		if !item.known {
			if !warned[item.wireKey] {
				log.Warnf("skipping rows of unknown kind %s\n", item.wireKey)
				warned[item.wireKey] = true
			}
		} else {
			store := p.stores.Get(item.kind)
			rec, err := store.ApplyRemote(item.row)
			if err != nil {
				p.fail(cursor, errors.Wrapf(err, "applying %s row", item.wireKey))
				return false
			}

			p.downloadAttachments(store, rec)
		}

		cursor.LastElementNumber = n
		cursor.Percent = Percent(n, total)
		if err := p.cursors.SaveProgress(cursor); err != nil {
			p.fail(cursor, errors.Wrap(err, "persisting progress"))
			return false
		}

		go p.report(cursor, StatusProgress, "")
	}

	go p.report(cursor, StatusSuccess, "")

	cursor.Status = StatusSuccess
	cursor.LastSyncProcessID = ""
	cursor.LastSyncedAt = p.ctx.Clock.Now().Unix()
	cursor.AppDataVersion = resp.Version
	cursor.SyncAvailable = false
	if err := p.cursors.SavePull(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	return true
}

// mayContinue decides whether the pull loop may apply the next row. It
// returns false when a pause or cancel was written by another goroutine, or
// when the device went offline mid-pull.
func (p *Puller) mayContinue(cursor Cursor) bool {
	status, err := p.cursors.GetStatus()
	if err != nil {
		p.fail(cursor, errors.Wrap(err, "reading cursor status"))
		return false
	}

	if status == StatusPause {
		go p.report(cursor, StatusPause, "")
		return false
	}
	if status != StatusProgress && status != StatusResume {
		return false
	}

	if !p.monitor.Online() {
		// going offline mid-pull pauses; the persisted cursor lets the
		// next cycle resume at this row
		if err := p.cursors.SetStatus(StatusPause); err != nil {
			log.Error(errors.Wrap(err, "pausing cursor").Error() + "\n")
		}
		return false
	}

	return true
}

// Pause flips an in-flight pull to the pause status. The pull loop observes
// the status between rows and stops; the cursor keeps the process id so a
// later cycle can resume. Pausing an idle engine is a no-op.
func (p *Puller) Pause() bool {
	if !p.Busy() {
		return true
	}

	cursor, err := p.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return false
	}
	if cursor.Status != StatusProgress && cursor.Status != StatusResume {
		return true
	}

	if err := p.cursors.SetStatus(StatusPause); err != nil {
		log.Error(errors.Wrap(err, "pausing cursor").Error() + "\n")
		return false
	}

	return true
}

// Cancel abandons the in-flight or paused pull: the server is told the
// process was cancelled and the cursor progress is dropped
func (p *Puller) Cancel() bool {
	cursor, err := p.cursors.Get()
	if err != nil {
		log.Error(errors.Wrap(err, "reading cursor").Error() + "\n")
		return false
	}

	if cursor.LastSyncProcessID != "" {
		go func(processID string) {
			if err := client.ReportCancel(p.ctx, processID, p.ctx.DeviceID); err != nil {
				log.Debug("reporting cancellation: %v\n", err)
			}
		}(cursor.LastSyncProcessID)
	}

	cursor.Status = StatusNotSync
	cursor.LastSyncProcessID = ""
	cursor.AllItemsCount = 0
	cursor.LastElementNumber = 0
	cursor.Percent = 0
	if err := p.cursors.SavePull(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
		return false
	}

	return true
}

// fail terminates the cycle: status becomes failed, the process id is
// dropped and the failure is reported to the server best-effort. The next
// trigger starts a fresh cycle.
func (p *Puller) fail(cursor Cursor, cause error) {
	log.Error(cause.Error() + "\n")

	go p.report(cursor, StatusFailed, cause.Error())

	cursor.Status = StatusFailed
	cursor.LastSyncProcessID = ""
	if err := p.cursors.SavePull(cursor); err != nil {
		log.Error(errors.Wrap(err, "persisting cursor").Error() + "\n")
	}
}

// report tells the server where this device stands in the sync process.
// Reporting is best-effort; a failed report never fails the cycle.
func (p *Puller) report(cursor Cursor, status, description string) {
	if cursor.LastSyncProcessID == "" {
		return
	}

	payload := client.ProgressPayload{
		ID:               cursor.LastSyncProcessID,
		UUID:             p.ctx.DeviceID,
		Progress:         cursor.Percent,
		AllItemsCount:    cursor.AllItemsCount,
		SyncedItemsCount: cursor.LastElementNumber,
		Status:           status,
		Description:      description,
	}
	if err := client.SaveProgress(p.ctx, cursor.LastSyncProcessID, payload); err != nil {
		log.Debug("reporting progress: %v\n", err)
	}
}

// downloadAttachments fetches the attachment files a freshly applied record
// points at. A failed download is logged and retried on the next pull of
// the record; it does not fail the cycle.
func (p *Puller) downloadAttachments(store *entity.Store, rec *entity.Record) {
	if p.transfer == nil {
		return
	}

	changed := false
	for _, att := range rec.Kind.Spec().Attachments {
		changed = p.downloadTriple(rec, att.FileTriple) || changed
		if att.Thumbnail != nil {
			changed = p.downloadTriple(rec, *att.Thumbnail) || changed
		}
	}

	if changed {
		if err := store.Put(rec); err != nil {
			log.Error(errors.Wrapf(err, "saving attachment paths of %s %d", rec.Kind, rec.ID).Error() + "\n")
		}
	}
}

func (p *Puller) downloadTriple(rec *entity.Record, triple entity.FileTriple) bool {
	url := rec.StringField(triple.URLField)
	if url == "" || rec.StringField(triple.LocalPathField) != "" {
		return false
	}

	dest := filepath.Join(p.ctx.FilesDir(), rec.Kind.WireKey(),
		fmt.Sprintf("%d_%s", rec.RemoteID, path.Base(url)))

	if err := p.transfer.Download(p.ctx, url, dest); err != nil {
		log.Warnf("downloading %s: %v\n", url, err)
		return false
	}

	rec.SetField(triple.LocalPathField, dest)
	return true
}

func (p *Puller) publishNoData() {
	if p.bus == nil {
		return
	}

	p.bus.Publish(event.TopicSyncNoData, nil)
}
