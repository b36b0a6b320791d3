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

package check

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/guidesync/config"
	"github.com/taktwerk/guidesync/pkg/guidesync/connectivity"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/event"
	"github.com/taktwerk/guidesync/pkg/guidesync/infra"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/sync"
)

var example = `
  guidesync check`

// NewCmd returns a new check command
func NewCmd(ctx context.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check",
		Short:   "Check whether the server has new data",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

func newRun(ctx context.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if !infra.SessionKeyValid(ctx) {
			log.Error("not logged in. please run `guidesync login`.\n")
			return nil
		}

		cf, err := config.Read(ctx)
		if err != nil {
			return errors.Wrap(err, "reading config")
		}

		bus := event.NewBus()
		stores := entity.NewStores(ctx.DB, bus, ctx.Clock)

		var monitor connectivity.Monitor
		if cf.ProbeURL != "" {
			monitor = connectivity.NewProbe(cf.ProbeURL, ctx.HTTPClient, 0, bus)
		} else {
			monitor = connectivity.NewStatic(true, bus)
		}

		orch := sync.NewOrchestrator(ctx, stores, monitor, nil, bus)

		if orch.CheckAvailableChanges() {
			log.Info("new data is available on the server\n")
		} else {
			log.Info("up to date\n")
		}

		return nil
	}
}
