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

// Package filetransfer moves attachment files between the local files
// directory and the server
package filetransfer

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"github.com/taktwerk/guidesync/pkg/guidesync/utils"
)

// Transfer moves attachment files to and from the server
type Transfer interface {
	// Download fetches the file at the url into destPath
	Download(ctx context.Ctx, url, destPath string) error
	// Upload transmits the file at localPath to the url as a multipart form
	Upload(ctx context.Ctx, localPath, url string) error
}

// HTTP is a Transfer over plain http requests
type HTTP struct{}

// NewHTTP returns a Transfer backed by http requests
func NewHTTP() *HTTP {
	return &HTTP{}
}

func httpClient(ctx context.Ctx) *http.Client {
	if ctx.HTTPClient != nil {
		return ctx.HTTPClient
	}

	return &http.Client{}
}

// Download fetches the file at the url into destPath. The file is written
// to a temporary sibling first and renamed into place so that a crashed
// download never leaves a truncated attachment behind.
func (t *HTTP) Download(ctx context.Ctx, url, destPath string) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return errors.Wrap(err, "constructing http request")
	}
	if ctx.SessionKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", ctx.SessionKey))
	}

	log.Debug("downloading %s\n", url)

	res, err := httpClient(ctx).Do(req)
	if err != nil {
		return errors.Wrap(err, "making http request")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return errors.Errorf("server responded with %d for %s", res.StatusCode, url)
	}

	if err := utils.EnsureDir(filepath.Dir(destPath)); err != nil {
		return errors.Wrap(err, "preparing destination dir")
	}

	tmpPath := destPath + ".partial"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}

	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "writing file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "closing file")
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "moving file into place")
	}

	return nil
}

// Upload transmits the file at localPath to the url as a multipart form
// under the field name "file"
func (t *HTTP) Upload(ctx context.Ctx, localPath, url string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", localPath)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return errors.Wrap(err, "creating form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return errors.Wrap(err, "copying file into form")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finalizing form")
	}

	req, err := http.NewRequest("POST", url, &buf)
	if err != nil {
		return errors.Wrap(err, "constructing http request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if ctx.SessionKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", ctx.SessionKey))
	}

	log.Debug("uploading %s to %s\n", localPath, url)

	res, err := httpClient(ctx).Do(req)
	if err != nil {
		return errors.Wrap(err, "making http request")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return errors.Errorf("server responded with %d for %s", res.StatusCode, url)
	}

	return nil
}
