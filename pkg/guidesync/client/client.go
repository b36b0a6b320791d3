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

// Package client provides interfaces for interacting with the guidesync
// server and the data structures for responses
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/taktwerk/guidesync/pkg/guidesync/context"
	"github.com/taktwerk/guidesync/pkg/guidesync/log"
	"golang.org/x/time/rate"
)

// ErrInvalidLogin is an error for invalid credentials for login
var ErrInvalidLogin = errors.New("wrong credentials")

// ErrContentTypeMismatch is an error for an unexpected response content type
var ErrContentTypeMismatch = errors.New("content type mismatch")

// HTTPError represents an HTTP error response from the server
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf(`response %d "%s"`, e.StatusCode, e.Message)
}

// IsAuth returns true if the error is a 401 Unauthorized error
func (e *HTTPError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized
}

var contentTypeApplicationJSON = "application/json"
var contentTypeNone = ""

// requestOptions contains options for requests
type requestOptions struct {
	HTTPClient *http.Client
	// ExpectedContentType is the Content-Type that the client is expecting from the server
	ExpectedContentType *string
}

const (
	// clientRateLimitPerSecond is the max requests per second the client will make
	clientRateLimitPerSecond = 50
	// clientRateLimitBurst is the burst capacity for rate limiting
	clientRateLimitBurst = 100
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewRateLimitedHTTPClient creates an HTTP client with rate limiting
func NewRateLimitedHTTPClient() *http.Client {
	interval := time.Second / time.Duration(clientRateLimitPerSecond)

	transport := &rateLimitedTransport{
		transport: http.DefaultTransport,
		limiter:   rate.NewLimiter(rate.Every(interval), clientRateLimitBurst),
	}
	return &http.Client{
		Transport: transport,
	}
}

func getHTTPClient(ctx context.Ctx, options *requestOptions) *http.Client {
	if options != nil && options.HTTPClient != nil {
		return options.HTTPClient
	}

	if ctx.HTTPClient != nil {
		return ctx.HTTPClient
	}

	return &http.Client{}
}

func getExpectedContentType(options *requestOptions) string {
	if options != nil && options.ExpectedContentType != nil {
		return *options.ExpectedContentType
	}

	return contentTypeApplicationJSON
}

func getReq(ctx context.Ctx, path, method, body string) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s%s", ctx.APIEndpoint, path)
	req, err := http.NewRequest(method, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "constructing http request")
	}

	req.Header.Set("Client-Version", ctx.Version)
	if ctx.DeviceID != "" {
		req.Header.Set("Device-Id", ctx.DeviceID)
	}
	if body != "" {
		req.Header.Set("Content-Type", contentTypeApplicationJSON)
	}

	if ctx.SessionKey != "" {
		credential := fmt.Sprintf("Bearer %s", ctx.SessionKey)
		req.Header.Set("Authorization", credential)
	}

	return req, nil
}

// checkRespErr checks if the given http response indicates an error. It returns a boolean indicating
// if the response is an error, and a decoded error message.
func checkRespErr(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "server responded with %d but client could not read the response body", res.StatusCode)
	}

	bodyStr := string(body)
	return &HTTPError{
		StatusCode: res.StatusCode,
		Message:    strings.TrimRight(bodyStr, "\n"),
	}
}

func checkContentType(res *http.Response, options *requestOptions) error {
	expected := getExpectedContentType(options)

	got := res.Header.Get("Content-Type")
	if got != expected {
		return errors.Wrapf(ErrContentTypeMismatch, "got: '%s' want: '%s'. Did you configure your endpoint correctly?", got, expected)
	}

	return nil
}

// doReq does a http request to the given path in the api endpoint
func doReq(ctx context.Ctx, method, path, body string, options *requestOptions) (*http.Response, error) {
	req, err := getReq(ctx, path, method, body)
	if err != nil {
		return nil, errors.Wrap(err, "getting request")
	}

	log.Debug("HTTP %s %s\n", method, path)

	hc := getHTTPClient(ctx, options)
	res, err := hc.Do(req)
	if err != nil {
		return res, errors.Wrap(err, "making http request")
	}

	log.Debug("HTTP %d %s\n", res.StatusCode, res.Status)

	if err = checkRespErr(res); err != nil {
		return res, errors.Wrap(err, "server responded with an error")
	}

	if err = checkContentType(res, options); err != nil {
		return res, errors.Wrap(err, "unexpected Content-Type")
	}

	return res, nil
}

// doAuthorizedReq does a http request to the given path in the api endpoint as a user,
// with the appropriate headers. The given path should include the preceding slash.
func doAuthorizedReq(ctx context.Ctx, method, path, body string, options *requestOptions) (*http.Response, error) {
	if ctx.SessionKey == "" {
		return nil, errors.New("no session key found")
	}

	return doReq(ctx, method, path, body, options)
}

// CheckAvailableDataResp is the response from the availability endpoint
type CheckAvailableDataResp struct {
	Result bool `json:"result"`
}

// CheckAvailableData asks the server whether changes newer than the given
// data version are available for this device
func CheckAvailableData(ctx context.Ctx, appDataVersion int64) (CheckAvailableDataResp, error) {
	var ret CheckAvailableDataResp

	path := fmt.Sprintf("/sync/check-available-data?appDataVersion=%d", appDataVersion)
	res, err := doAuthorizedReq(ctx, "GET", path, "", nil)
	if err != nil {
		return ret, errors.Wrap(err, "making http request")
	}

	if err := json.NewDecoder(res.Body).Decode(&ret); err != nil {
		return ret, errors.Wrap(err, "decoding payload")
	}

	return ret, nil
}

// GetSyncResp is the response from the sync endpoint. Models maps an entity
// kind wire key to the changed rows of that kind, in server order. The order
// is stable for a given sync process id so that an interrupted pull can
// resume by skipping already-applied rows.
type GetSyncResp struct {
	SyncProcessID string                              `json:"syncProcessId"`
	Version       int64                               `json:"version"`
	Models        map[string][]map[string]interface{} `json:"models"`
}

// GetSync fetches the change payload for this device. lastUpdatedAt narrows
// the payload to rows changed since that time; a non-empty processID asks
// the server to replay the payload of an earlier sync process.
func GetSync(ctx context.Ctx, lastUpdatedAt int64, processID string) (GetSyncResp, error) {
	v := url.Values{}
	if lastUpdatedAt != 0 {
		v.Set("lastUpdatedAt", time.Unix(lastUpdatedAt, 0).UTC().Format(time.RFC3339))
	}
	if processID != "" {
		v.Set("syncProcessId", processID)
	}

	path := "/sync"
	if queryStr := v.Encode(); queryStr != "" {
		path = fmt.Sprintf("/sync?%s", queryStr)
	}

	res, err := doAuthorizedReq(ctx, "GET", path, "", nil)
	if err != nil {
		return GetSyncResp{}, errors.Wrap(err, "making the request")
	}

	var resp GetSyncResp
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, errors.Wrap(err, "decoding payload")
	}

	return resp, nil
}

// ProgressPayload is a payload for the progress-report endpoint. ID echoes
// the sync process token of the query string.
type ProgressPayload struct {
	ID               string `json:"id"`
	UUID             string `json:"uuid"`
	Progress         int    `json:"progress"`
	AllItemsCount    int    `json:"all_items_count"`
	SyncedItemsCount int    `json:"synced_items_count"`
	Status           string `json:"status"`
	Description      string `json:"description,omitempty"`
}

// cancelPayload is the slim body reported when a sync process is abandoned
type cancelPayload struct {
	ID     string `json:"id"`
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// SaveProgress reports pull progress for a sync process to the server
func SaveProgress(ctx context.Ctx, processID string, payload ProgressPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling payload")
	}

	path := fmt.Sprintf("/sync/save-progress?syncProcessId=%s", url.QueryEscape(processID))
	opts := requestOptions{
		ExpectedContentType: &contentTypeNone,
	}
	if _, err := doAuthorizedReq(ctx, "POST", path, string(b), &opts); err != nil {
		return errors.Wrap(err, "posting progress to the server")
	}

	return nil
}

// ReportCancel tells the server a sync process was abandoned
func ReportCancel(ctx context.Ctx, processID, deviceID string) error {
	b, err := json.Marshal(cancelPayload{ID: processID, UUID: deviceID, Status: "cancel"})
	if err != nil {
		return errors.Wrap(err, "marshaling payload")
	}

	path := fmt.Sprintf("/sync/save-progress?syncProcessId=%s", url.QueryEscape(processID))
	opts := requestOptions{
		ExpectedContentType: &contentTypeNone,
	}
	if _, err := doAuthorizedReq(ctx, "POST", path, string(b), &opts); err != nil {
		return errors.Wrap(err, "posting cancellation to the server")
	}

	return nil
}

// ErrPushRejected is an error for a push response carrying record errors
var ErrPushRejected = errors.New("record rejected by the server")

// PushRecord transmits one serialized record body to the kind's batch
// endpoint. The returned body is the server's acknowledged version of the
// record, echoing the local id under "_id" and carrying the kind's remote
// primary key. A response whose entry carries an "errors" marker returns
// ErrPushRejected.
func PushRecord(ctx context.Ctx, basePath string, body map[string]interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling payload")
	}

	path := fmt.Sprintf("%s/batch", basePath)
	res, err := doAuthorizedReq(ctx, "POST", path, string(b), nil)
	if err != nil {
		return nil, errors.Wrap(err, "transmitting record to the server")
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading the response body")
	}

	ack, err := decodePushResp(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decoding push response")
	}

	if errMarker, ok := ack["errors"]; ok && errMarker != nil {
		return nil, errors.Wrapf(ErrPushRejected, "%v", errMarker)
	}

	return ack, nil
}

// decodePushResp extracts the first entry from a push response. The server
// returns a mapping keyed by index or id, or a single-element array,
// depending on the endpoint.
func decodePushResp(raw []byte) (map[string]interface{}, error) {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshalling the payload")
	}

	switch val := payload.(type) {
	case []interface{}:
		if len(val) == 0 {
			return nil, errors.New("empty response array")
		}
		body, ok := val[0].(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("unexpected element type %T", val[0])
		}

		return body, nil
	case map[string]interface{}:
		if elem, ok := val["0"]; ok {
			body, ok := elem.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("unexpected element type %T", elem)
			}

			return body, nil
		}

		return val, nil
	default:
		return nil, errors.Errorf("unexpected payload type %T", payload)
	}
}

// SigninPayload is a payload for the signin endpoint
type SigninPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

// SigninResponse is a response from the signin endpoint
type SigninResponse struct {
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expires_at"`
}

// Signin requests a session token
func Signin(ctx context.Ctx, email, password string) (SigninResponse, error) {
	payload := SigninPayload{
		Email:    email,
		Password: password,
		DeviceID: ctx.DeviceID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return SigninResponse{}, errors.Wrap(err, "marshaling payload")
	}
	res, err := doReq(ctx, "POST", "/signin", string(b), nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			return SigninResponse{}, ErrInvalidLogin
		}
		return SigninResponse{}, errors.Wrap(err, "making http request")
	}

	var resp SigninResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return SigninResponse{}, errors.Wrap(err, "decoding payload")
	}

	return resp, nil
}

// Signout deletes a user session on the server side
func Signout(ctx context.Ctx, sessionKey string) error {
	// share the transport, and thus the rate limiter, but do not follow redirects
	var hc *http.Client
	if ctx.HTTPClient != nil {
		hc = &http.Client{
			Transport: ctx.HTTPClient.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	} else {
		log.Warnf("No HTTP client configured for signout - falling back\n")
		hc = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	opts := requestOptions{
		HTTPClient:          hc,
		ExpectedContentType: &contentTypeNone,
	}
	_, err := doAuthorizedReq(ctx, "POST", "/signout", "", &opts)
	if err != nil {
		return errors.Wrap(err, "making http request")
	}

	return nil
}
