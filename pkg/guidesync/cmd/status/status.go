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

package status

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/infra"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/sync"
)

var example = `
  guidesync status`

// NewCmd returns a new status command
func NewCmd(ctx context.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Print the sync status",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

func formatSyncedAt(ts int64) string {
	if ts == 0 {
		return "never"
	}

	return time.Unix(ts, 0).Format(time.RFC1123)
}

func newRun(ctx context.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		cursor, err := sync.NewCursorStore(ctx.DB, nil).Get()
		if err != nil {
			return errors.Wrap(err, "reading sync cursor")
		}

		log.Plainf("status          %s\n", cursor.Status)
		log.Plainf("push status     %s\n", cursor.PushStatus)
		log.Plainf("last synced     %s\n", formatSyncedAt(cursor.LastSyncedAt))
		log.Plainf("data version    %d\n", cursor.AppDataVersion)
		if cursor.AllItemsCount > 0 {
			log.Plainf("progress        %d/%d (%d%%)\n", cursor.LastElementNumber, cursor.AllItemsCount, cursor.Percent)
		}

		var dirty int
		for _, kind := range entity.PushKinds() {
			store := entity.NewStore(ctx.DB, kind, nil, ctx.Clock)
			records, err := store.CollectDirty()
			if err != nil {
				return errors.Wrapf(err, "collecting local changes for %s", kind)
			}
			dirty += len(records)
		}

		log.Plainf("local changes   %d\n", dirty)

		return nil
	}
}
