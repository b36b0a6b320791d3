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

// Package context provides the dependency container passed into guidesync
// commands and engines. Handles are injected explicitly at construction;
// there are no package-level singletons.
package context

import (
	"net/http"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/clock"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
	"github.com/taktwerk/guidesync/pkg/guidesync/database"
	"github.com/taktwerk/guidesync/pkg/guidesync/utils"
)

// Paths contain directory definitions
type Paths struct {
	Home   string
	Config string
	Data   string
}

// Ctx is a context holding the information of the current runtime
type Ctx struct {
	Paths            Paths
	APIEndpoint      string
	Version          string
	DB               *database.DB
	SessionKey       string
	SessionKeyExpiry int64
	DeviceID         string
	Clock            clock.Clock
	HTTPClient       *http.Client
}

// FilesDir returns the directory under which attachment files are stored
func (c Ctx) FilesDir() string {
	return filepath.Join(c.Paths.Data, consts.GuidesyncDirName, consts.FilesDirName)
}

// InitDirs creates the guidesync directories if they don't already exist.
func InitDirs(paths Paths) error {
	if paths.Config != "" {
		configDir := filepath.Join(paths.Config, consts.GuidesyncDirName)
		if err := utils.EnsureDir(configDir); err != nil {
			return errors.Wrap(err, "initializing config dir")
		}
	}
	if paths.Data != "" {
		dataDir := filepath.Join(paths.Data, consts.GuidesyncDirName)
		if err := utils.EnsureDir(dataDir); err != nil {
			return errors.Wrap(err, "initializing data dir")
		}
		filesDir := filepath.Join(dataDir, consts.FilesDirName)
		if err := utils.EnsureDir(filesDir); err != nil {
			return errors.Wrap(err, "initializing files dir")
		}
	}

	return nil
}

// Redact replaces private information from the context with a set of
// placeholder values.
func Redact(ctx Ctx) Ctx {
	var sessionKey string
	if ctx.SessionKey != "" {
		sessionKey = "1"
	} else {
		sessionKey = "0"
	}
	ctx.SessionKey = sessionKey

	return ctx
}
