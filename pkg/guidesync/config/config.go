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

// Package config provides interfaces to the guidesync configuration file
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/consts"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"gopkg.in/yaml.v2"
)

// Config holds guidesync configuration
type Config struct {
	// APIEndpoint is the base URL of the remote API
	APIEndpoint string `yaml:"apiEndpoint"`
	// SyncSchedule is a cron expression controlling how often the
	// orchestrator polls the server for available changes
	SyncSchedule string `yaml:"syncSchedule"`
	// ProbeURL is requested to decide whether the network is reachable.
	// Empty means the API endpoint itself is probed.
	ProbeURL string `yaml:"probeUrl"`
}

// Default returns the configuration used when no config file exists
func Default() Config {
	return Config{
		APIEndpoint:  "https://api.guidesync.example.com/v1",
		SyncSchedule: "@every 5m",
	}
}

// GetPath returns the path to the guidesync config file
func GetPath(ctx context.Ctx) string {
	return filepath.Join(ctx.Paths.Config, consts.GuidesyncDirName, consts.ConfigFilename)
}

// Read reads the config file. If the file does not exist, the default
// configuration is written and returned.
func Read(ctx context.Ctx) (Config, error) {
	var ret Config

	path := GetPath(ctx)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		ret = Default()
		if err := Write(ctx, ret); err != nil {
			return ret, errors.Wrap(err, "writing default config")
		}

		return ret, nil
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return ret, errors.Wrap(err, "reading config file")
	}

	if err := yaml.Unmarshal(b, &ret); err != nil {
		return ret, errors.Wrap(err, "unmarshalling config")
	}

	if ret.SyncSchedule == "" {
		ret.SyncSchedule = Default().SyncSchedule
	}

	return ret, nil
}

// Write writes the config to the config file
func Write(ctx context.Ctx, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}

	if err := ioutil.WriteFile(GetPath(ctx), b, 0644); err != nil {
		return errors.Wrap(err, "writing config file")
	}

	return nil
}
