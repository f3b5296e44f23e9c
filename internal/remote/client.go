// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"

	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/pkg/httpclient"
)

// runResponse is the analytics server's JSON reply to a run-process call.
type runResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	ServerErrorRef string `json:"server_error_ref"`
	SessionID     string `json:"session_id"`
}

// Client is a pooled HTTP client for one logical analytics-server instance.
// It is safe for concurrent use by multiple callers, as the harness (C8)
// dispatches one call per task instance and many instances share a Client.
type Client struct {
	conn       Connection
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client for conn. httpCfg is the shared httpclient
// configuration (timeout, retry backoff) applied to every instance; only
// the per-instance connection details (address, auth, TLS) vary.
func NewClient(conn Connection, httpCfg httpclient.Config, logger *slog.Logger) (*Client, error) {
	hc, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("build http client for instance %q: %w", conn.Instance, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, httpClient: hc, logger: logger}, nil
}

// pollInterval bounds how often RunProcess re-checks a session that has
// not yet reached a terminal status.
const pollInterval = 200 * time.Millisecond

// terminalStatuses are the status strings the server uses for a completed
// run, whether or not it was fully successful.
var terminalStatuses = map[string]bool{
	"completed":                   true,
	"completed_with_minor_errors": true,
	"failed":                      true,
}

// RunProcess sends process and parameters to the instance and blocks until
// the server reports a terminal status, polling the session if the server
// does not complete synchronously. The returned session id is populated
// even when ctx is cancelled mid-poll, so the harness can still issue a
// best-effort cancel against it. The returned server error ref is only
// meaningful when success is false.
func (c *Client) RunProcess(ctx context.Context, process string, parameters map[string]string) (success bool, status string, serverErrorRef string, sessionID string, err error) {
	body, err := json.Marshal(map[string]interface{}{
		"process":         process,
		"parameters":      parameters,
		"session_context": c.conn.SessionContext,
	})
	if err != nil {
		return false, "", "", "", fmt.Errorf("encode run-process request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/processes/%s/run", c.conn.BaseURL(), c.conn.Namespace, process)
	req, err := c.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return false, "", "", "", &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}

	var out runResponse
	if err := c.doJSON(req, &out); err != nil {
		return false, "", "", "", err
	}
	if terminalStatuses[out.Status] {
		return out.Success, out.Status, out.ServerErrorRef, out.SessionID, nil
	}

	for {
		select {
		case <-ctx.Done():
			return false, out.Status, out.ServerErrorRef, out.SessionID, ctx.Err()
		case <-time.After(pollInterval):
		}

		statusURL := fmt.Sprintf("%s/%s/sessions/%s/status", c.conn.BaseURL(), c.conn.Namespace, out.SessionID)
		statusReq, err := c.newRequest(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return false, out.Status, out.ServerErrorRef, out.SessionID, &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
		}
		if err := c.doJSON(statusReq, &out); err != nil {
			return false, out.Status, out.ServerErrorRef, out.SessionID, err
		}
		if terminalStatuses[out.Status] {
			return out.Success, out.Status, out.ServerErrorRef, out.SessionID, nil
		}
	}
}

// ExpandSet evaluates queryExpr — a gojq expression — against the JSON the
// instance returns for a set-expansion query, and returns the matched
// element names. It implements task.Resolver.
func (c *Client) ExpandSet(ctx context.Context, instance, queryExpr string) ([]string, error) {
	url := fmt.Sprintf("%s/%s/sets/expand", c.conn.BaseURL(), c.conn.Namespace)
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &rerrors.TransportError{Instance: instance, Cause: err}
	}

	var raw interface{}
	if err := c.doJSON(req, &raw); err != nil {
		return nil, err
	}

	query, err := gojq.Parse(queryExpr)
	if err != nil {
		return nil, fmt.Errorf("parse set expression %q: %w", queryExpr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile set expression %q: %w", queryExpr, err)
	}

	var elements []string
	iter := code.Run(raw)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, isErr := v.(error); isErr {
			return nil, fmt.Errorf("evaluate set expression %q: %w", queryExpr, jqErr)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("set expression %q produced a non-string element: %v", queryExpr, v)
		}
		elements = append(elements, s)
	}
	return elements, nil
}

// Cancel asks the instance to terminate the process running under
// sessionID. If the server reports cancellation unsupported (HTTP 501),
// this logs a warning and returns nil rather than failing the caller —
// cancellation is always best-effort.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/%s/sessions/%s/cancel", c.conn.BaseURL(), c.conn.Namespace, sessionID)
	req, err := c.newRequest(ctx, http.MethodPost, url, nil)
	if err != nil {
		return &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotImplemented {
		c.logger.Warn("instance does not support cancellation",
			log.String("instance", c.conn.Instance), log.String("session_id", sessionID))
		return nil
	}
	if resp.StatusCode >= 300 {
		return &rerrors.TransportError{
			Instance: c.conn.Instance,
			Cause:    fmt.Errorf("cancel returned HTTP %d", resp.StatusCode),
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.conn.User != "" {
		password, perr := c.conn.Password()
		if perr != nil {
			return nil, perr
		}
		req.SetBasicAuth(c.conn.User, password)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}

	if resp.StatusCode >= 300 {
		return &rerrors.TransportError{
			Instance: c.conn.Instance,
			Cause:    fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &rerrors.TransportError{Instance: c.conn.Instance, Cause: fmt.Errorf("decode response: %w", err)}
		}
	}

	c.logger.Debug("remote call completed",
		log.String("instance", c.conn.Instance), log.String("method", req.Method),
		log.Duration("duration", time.Since(start).Milliseconds()))
	return nil
}
