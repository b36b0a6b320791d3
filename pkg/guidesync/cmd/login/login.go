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

package login

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/guidesync/client"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/infra"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/ui"
)

var example = `
  guidesync login`

// NewCmd returns a new login command
func NewCmd(ctx context.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Login to the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

// getServerDisplayURL returns the api endpoint stripped of its path so that
// it can be displayed to the user
func getServerDisplayURL(ctx context.Ctx) string {
	endpoint := ctx.APIEndpoint

	idx := strings.Index(endpoint, "://")
	if idx == -1 {
		return ""
	}

	rest := endpoint[idx+len("://"):]

	slashIdx := strings.Index(rest, "/")
	if slashIdx == -1 {
		return endpoint
	}

	return endpoint[:idx+len("://")+slashIdx]
}

// Do dispatches a signin request and stores the session in the local database
func Do(ctx context.Ctx, email, password string) error {
	resp, err := client.Signin(ctx, email, password)
	if err != nil {
		return errors.Wrap(err, "requesting session")
	}

	db := ctx.DB
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	if _, err := tx.Exec("DELETE FROM system WHERE key = ? OR key = ?",
		consts.SystemSessionKey, consts.SystemSessionKeyExpiry); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "clearing previous session")
	}
	if _, err := tx.Exec("INSERT INTO system (key, value) VALUES (?, ?)",
		consts.SystemSessionKey, resp.Key); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "saving session key")
	}
	if _, err := tx.Exec("INSERT INTO system (key, value) VALUES (?, ?)",
		consts.SystemSessionKeyExpiry, resp.ExpiresAt); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "saving session key expiry")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing a transaction")
	}

	return nil
}

func newRun(ctx context.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if infra.SessionKeyValid(ctx) {
			log.Plain("you are already logged in. please logout first.\n")
			return nil
		}

		log.Plainf("logging in to %s\n", getServerDisplayURL(ctx))

		var email, password string
		if err := ui.PromptInput("email", &email); err != nil {
			return errors.Wrap(err, "getting email input")
		}
		if email == "" {
			return errors.New("email is empty")
		}

		if err := ui.PromptPassword("password", &password); err != nil {
			return errors.Wrap(err, "getting password input")
		}
		if password == "" {
			return errors.New("password is empty")
		}

		err := Do(ctx, email, password)
		if errors.Cause(err) == client.ErrInvalidLogin {
			log.Error("wrong login\n")
			return nil
		} else if err != nil {
			return errors.Wrap(err, "logging in")
		}

		log.Success("logged in\n")

		return nil
	}
}
