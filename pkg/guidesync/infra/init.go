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

// Package infra provides operations and definitions for the
// local infrastructure for guidesync
package infra

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/taktwerk/guidesync/pkg/clock"
	"github.com/taktwerk/guidesync/pkg/guidesync/client"
	"github.com/taktwerk/guidesync/pkg/guidesync/config"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/utils"
)

// RunEFunc is a function type of guidesync commands
type RunEFunc func(*cobra.Command, []string) error

// getPaths resolves the base directories, honoring the XDG conventions
func getPaths() (context.Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return context.Paths{}, errors.Wrap(err, "getting home directory")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	return context.Paths{
		Home:   home,
		Config: configHome,
		Data:   dataHome,
	}, nil
}

func getDBPath(paths context.Paths, customPath string) string {
	if customPath != "" {
		return customPath
	}

	return filepath.Join(paths.Data, consts.GuidesyncDirName, consts.GuidesyncDBFileName)
}

// Init initializes the guidesync environment and returns a new context
func Init(versionTag, apiEndpoint, dbPath string) (*context.Ctx, error) {
	// a .env file in the working directory can override the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug("loading .env: %v\n", err)
	}

	paths, err := getPaths()
	if err != nil {
		return nil, errors.Wrap(err, "resolving paths")
	}

	if err := context.InitDirs(paths); err != nil {
		return nil, errors.Wrap(err, "initializing directories")
	}

	db, err := database.Open(getDBPath(paths, dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to db")
	}

	if err := database.InitSchema(db); err != nil {
		return nil, errors.Wrap(err, "initializing schema")
	}

	baseCtx := context.Ctx{
		Paths:   paths,
		Version: versionTag,
		DB:      db,
	}

	if err := initDeviceID(db); err != nil {
		return nil, errors.Wrap(err, "initializing device id")
	}

	ctx, err := setupCtx(baseCtx, apiEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "setting up the context")
	}

	log.Debug("context: %+v\n", context.Redact(ctx))

	return &ctx, nil
}

// initDeviceID assigns this installation a uuid on first run. The id is
// sent with every API request so the server can track per-device sync
// processes.
func initDeviceID(db *database.DB) error {
	ok, err := database.HasSystem(db, consts.SystemDeviceID)
	if err != nil {
		return errors.Wrap(err, "checking device id")
	}
	if ok {
		return nil
	}

	id, err := utils.GenerateUUID()
	if err != nil {
		return errors.Wrap(err, "generating device id")
	}

	return database.InsertSystem(db, consts.SystemDeviceID, id)
}

// setupCtx enriches the base context with values from the config file and
// the database
func setupCtx(ctx context.Ctx, apiEndpoint string) (context.Ctx, error) {
	db := ctx.DB

	var sessionKey string
	var sessionKeyExpiry int64
	var deviceID string

	err := db.QueryRow("SELECT value FROM system WHERE key = ?", consts.SystemSessionKey).Scan(&sessionKey)
	if err != nil && err != sql.ErrNoRows {
		return ctx, errors.Wrap(err, "finding session key")
	}
	err = db.QueryRow("SELECT value FROM system WHERE key = ?", consts.SystemSessionKeyExpiry).Scan(&sessionKeyExpiry)
	if err != nil && err != sql.ErrNoRows {
		return ctx, errors.Wrap(err, "finding session key expiry")
	}
	if err := database.GetSystem(db, consts.SystemDeviceID, &deviceID); err != nil {
		return ctx, errors.Wrap(err, "finding device id")
	}

	cf, err := config.Read(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "reading config")
	}

	endpoint := cf.APIEndpoint
	if apiEndpoint != "" {
		endpoint = apiEndpoint
	}
	if env := os.Getenv("GUIDESYNC_API_ENDPOINT"); env != "" {
		endpoint = env
	}

	ret := context.Ctx{
		Paths:            ctx.Paths,
		Version:          ctx.Version,
		DB:               ctx.DB,
		SessionKey:       sessionKey,
		SessionKeyExpiry: sessionKeyExpiry,
		DeviceID:         deviceID,
		APIEndpoint:      endpoint,
		Clock:            clock.New(),
		HTTPClient:       client.NewRateLimitedHTTPClient(),
	}

	return ret, nil
}

// SessionKeyValid checks whether the stored session has not expired
func SessionKeyValid(ctx context.Ctx) bool {
	if ctx.SessionKey == "" {
		return false
	}
	if ctx.SessionKeyExpiry == 0 {
		return true
	}

	return ctx.Clock.Now().Unix() < ctx.SessionKeyExpiry
}
