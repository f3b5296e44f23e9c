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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/pkg/httpclient"
)

func connFor(t *testing.T, srv *httptest.Server) Connection {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Connection{
		Instance:  "test-instance",
		Address:   u.Hostname(),
		Port:      port,
		Namespace: "ns",
	}
}

func testHTTPConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return cfg
}

func TestClient_RunProcess_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ns/processes/my_proc/run", r.URL.Path)
		json.NewEncoder(w).Encode(runResponse{Success: true, Status: "completed"})
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	success, status, _, _, err := c.RunProcess(context.Background(), "my_proc", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, "completed", status)
}

func TestClient_RunProcess_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runResponse{Success: false, Status: "failed", ServerErrorRef: "ERR-42"})
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	success, status, ref, _, err := c.RunProcess(context.Background(), "my_proc", nil)
	require.NoError(t, err)
	require.False(t, success)
	require.Equal(t, "failed", status)
	require.Equal(t, "ERR-42", ref)
}

func TestClient_RunProcess_TransportFailureOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	_, _, _, _, err = c.RunProcess(context.Background(), "my_proc", nil)
	require.Error(t, err)
	var transportErr *rerrors.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestClient_ExpandSet_EvaluatesGojqExpression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ns/sets/expand", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"elements": []string{"alpha", "beta", "gamma"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	elements, err := c.ExpandSet(context.Background(), "test-instance", ".elements[]")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, elements)
}

func TestClient_ExpandSet_NonStringElementErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"elements": []int{1, 2}})
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	_, err = c.ExpandSet(context.Background(), "test-instance", ".elements[]")
	require.Error(t, err)
}

func TestClient_Cancel_UnsupportedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), "session-1"))
}

func TestClient_Cancel_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(connFor(t, srv), testHTTPConfig(), nil)
	require.NoError(t, err)

	err = c.Cancel(context.Background(), "session-1")
	require.Error(t, err)
}

func TestClient_BasicAuthSentWhenUserSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "svc", user)
		require.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(runResponse{Success: true, Status: "completed"})
	}))
	defer srv.Close()

	conn := connFor(t, srv)
	conn.User = "svc"
	conn.PasswordBase64 = "c2VjcmV0" // "secret"

	c, err := NewClient(conn, testHTTPConfig(), nil)
	require.NoError(t, err)

	_, _, _, _, err = c.RunProcess(context.Background(), "my_proc", nil)
	require.NoError(t, err)
}
