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

package logout

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/guidesync/client"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/entity"
	"github.com/taktwerk/guidesync/pkg/guidesync/infra"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/sync"
	"github.com/taktwerk/guidesync/pkg/guidesync/ui"
)

// ErrNotLoggedIn is an error for logging out when not logged in
var ErrNotLoggedIn = errors.New("not logged in")

// countDirty tallies local records that have not been pushed yet
func countDirty(ctx context.Ctx) (int, error) {
	var ret int

	for _, kind := range entity.PushKinds() {
		store := entity.NewStore(ctx.DB, kind, nil, ctx.Clock)
		records, err := store.CollectDirty()
		if err != nil {
			return 0, errors.Wrapf(err, "collecting local changes for %s", kind)
		}
		ret += len(records)
	}

	return ret, nil
}

var example = `
  guidesync logout`

var apiEndpointFlag string

// NewCmd returns a new logout command
func NewCmd(ctx context.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logout",
		Short:   "Logout from the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&apiEndpointFlag, "apiEndpoint", "", "API endpoint to connect to (defaults to value in config)")

	return cmd
}

// Do performs logout. Signing out discards the local replica: records and
// the sync cursor belong to the session that pulled them.
func Do(ctx context.Ctx) error {
	db := ctx.DB

	var key string
	err := database.GetSystem(db, consts.SystemSessionKey, &key)
	if errors.Cause(err) == sql.ErrNoRows {
		return ErrNotLoggedIn
	} else if err != nil {
		return errors.Wrap(err, "getting session key")
	}

	err = client.Signout(ctx, key)
	if err != nil {
		return errors.Wrap(err, "requesting logout")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	if _, err := tx.Exec("DELETE FROM system WHERE key = ? OR key = ?",
		consts.SystemSessionKey, consts.SystemSessionKeyExpiry); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "deleting session key")
	}
	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "clearing records")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing a transaction")
	}

	if err := sync.NewCursorStore(db, nil).Reset(); err != nil {
		return errors.Wrap(err, "resetting sync cursor")
	}

	return nil
}

func newRun(ctx context.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		// Override APIEndpoint if flag was provided
		if apiEndpointFlag != "" {
			ctx.APIEndpoint = apiEndpointFlag
		}

		dirty, err := countDirty(ctx)
		if err != nil {
			return errors.Wrap(err, "counting local changes")
		}
		if dirty > 0 {
			ok, err := ui.Confirm(fmt.Sprintf("you have %d unpushed changes that will be discarded. logout anyway?", dirty), false)
			if err != nil {
				return errors.Wrap(err, "getting confirmation")
			}
			if !ok {
				return nil
			}
		}

		err = Do(ctx)
		if err == ErrNotLoggedIn {
			log.Error("not logged in\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "logging out")
		}

		log.Success("logged out\n")

		return nil
	}
}
