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

package filetransfer

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/taktwerk/guidesync/pkg/assert"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
)

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "file content")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "files", "a.png")

	tr := NewHTTP()
	err := tr.Download(context.Ctx{SessionKey: "k"}, server.URL+"/a.png", dest)
	assert.NoError(t, err, "downloading")

	b, err := os.ReadFile(dest)
	assert.NoError(t, err, "reading downloaded file")
	assert.Equal(t, string(b), "file content", "file content")

	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Error("temporary file was left behind")
	}
}

func TestDownloadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "a.png")

	tr := NewHTTP()
	err := tr.Download(context.Ctx{}, server.URL+"/a.png", dest)
	if err == nil {
		t.Fatal("expected an error")
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination file was created for a failed download")
	}
}

func TestUpload(t *testing.T) {
	var gotFilename, gotContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("reading form file: %v", err)
			return
		}
		defer f.Close()

		gotFilename = header.Filename
		b := make([]byte, header.Size)
		f.Read(b)
		gotContent = string(b)
	}))
	defer server.Close()

	src := filepath.Join(t.TempDir(), "report.pdf")
	err := os.WriteFile(src, []byte("report body"), 0644)
	assert.NoError(t, err, "writing source file")

	tr := NewHTTP()
	err = tr.Upload(context.Ctx{SessionKey: "k"}, src, server.URL+"/protocol/upload")
	assert.NoError(t, err, "uploading")

	assert.Equal(t, gotFilename, "report.pdf", "uploaded filename")
	assert.Equal(t, gotContent, "report body", "uploaded content")
}
