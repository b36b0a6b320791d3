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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/guidesync/config"
	"github.com/taktwerk/guidesync/pkg/guidesync/connectivity"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
	"github.com/taktwerk/guidesync/pkg/guidesync/filetransfer"
	"github.com/taktwerk/guidesync/pkg/guidesync/infra"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/sync"
)

var example = `
  guidesync sync
  guidesync sync --full
  guidesync sync --watch`

var isFullSync bool
var isWatch bool
var apiEndpointFlag string

// probeInterval is how long a connectivity probe result is trusted before
// the probe URL is hit again
const probeInterval = 30 * time.Second

// NewCmd returns a new sync command
func NewCmd(ctx context.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		Aliases: []string{"s"},
		Short:   "Sync data with the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&isFullSync, "full", "f", false, "discard the sync position and pull everything from scratch.")
	f.BoolVarP(&isWatch, "watch", "w", false, "keep running and sync on the configured schedule.")
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

func newMonitor(ctx context.Ctx, cf config.Config, bus *event.Bus) connectivity.Monitor {
	if cf.ProbeURL != "" {
		return connectivity.NewProbe(cf.ProbeURL, ctx.HTTPClient, probeInterval, bus)
	}

	return connectivity.NewStatic(true, bus)
}

func newRun(ctx context.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if !infra.SessionKeyValid(ctx) {
			log.Error("not logged in. please run `guidesync login`.\n")
			return nil
		}

		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		cf, err := config.Read(ctx)
		if err != nil {
			return errors.Wrap(err, "reading config")
		}

		bus := event.NewBus()
		stores := entity.NewStores(ctx.DB, bus, ctx.Clock)
		monitor := newMonitor(ctx, cf, bus)
		transfer := filetransfer.NewHTTP()
		orch := sync.NewOrchestrator(ctx, stores, monitor, transfer, bus)

		unsubscribe := bus.Subscribe(event.TopicCursorUpdated, func(payload interface{}) {
			c, ok := payload.(sync.Cursor)
			if !ok {
				return
			}
			if c.AllItemsCount > 0 {
				log.Debug("synced %d/%d (%d%%)\n", c.LastElementNumber, c.AllItemsCount, c.Percent)
			}
		})
		defer unsubscribe()

		cursors := orch.Cursors()

		if isFullSync {
			cursor, err := cursors.Get()
			if err != nil {
				return errors.Wrap(err, "reading sync cursor")
			}

			cursor.Status = sync.StatusInitial
			cursor.LastSyncProcessID = ""
			cursor.LastSyncedAt = 0
			cursor.AllItemsCount = 0
			cursor.LastElementNumber = 0
			cursor.Percent = 0
			if err := cursors.SavePull(cursor); err != nil {
				return errors.Wrap(err, "resetting sync cursor")
			}
		}

		if isWatch {
			return runWatch(orch, cf)
		}

		status, err := cursors.GetStatus()
		if err != nil {
			return errors.Wrap(err, "reading sync status")
		}
		resume := status == sync.StatusPause || status == sync.StatusResume

		log.Infof("downloading from the server\n")

		ok := orch.StartSync(resume)

		cursor, err := cursors.Get()
		if err != nil {
			return errors.Wrap(err, "reading sync cursor")
		}

		if !ok {
			log.Errorf("sync ended with status %s\n", cursor.Status)
			return nil
		}

		log.Successf("success (%d items)\n", cursor.AllItemsCount)

		return nil
	}
}

// runWatch blocks, syncing on the configured schedule until interrupted
func runWatch(orch *sync.Orchestrator, cf config.Config) error {
	if err := orch.StartPolling(cf.SyncSchedule); err != nil {
		return errors.Wrap(err, "starting the sync schedule")
	}
	defer orch.StopPolling()

	log.Infof("watching for changes on schedule %s\n", cf.SyncSchedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("stopping\n")

	return nil
}
