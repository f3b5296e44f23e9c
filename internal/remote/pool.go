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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/rerrors"
	"github.com/rushti/rushti/pkg/httpclient"
)

// Pool holds one Client per logical instance named in a connection
// descriptor file. Connection failures during setup are non-fatal: a
// failing instance is recorded as unreachable rather than aborting pool
// construction, so tasks for healthy instances still run.
type Pool struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	unreachable map[string]error
	logger      *slog.Logger
}

// NewPool builds a Client for every connection in conns, probing each with
// a health check before admitting it. httpCfg.Timeout also bounds the
// probe. A connection that fails to build or fails its probe is recorded
// as unreachable and omitted from the pool; it does not prevent the other
// connections from being pooled.
func NewPool(ctx context.Context, conns []Connection, httpCfg httpclient.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		clients:     make(map[string]*Client, len(conns)),
		unreachable: make(map[string]error),
		logger:      logger,
	}

	for _, conn := range conns {
		client, err := NewClient(conn, httpCfg, logger)
		if err != nil {
			p.unreachable[conn.Instance] = err
			logger.Warn("instance unreachable at pool setup",
				log.String("instance", conn.Instance), log.Error(err))
			continue
		}
		if err := probe(ctx, client); err != nil {
			p.unreachable[conn.Instance] = err
			logger.Warn("instance failed health probe at pool setup",
				log.String("instance", conn.Instance), log.Error(err))
			continue
		}
		p.clients[conn.Instance] = client
	}
	return p
}

// probe issues a lightweight HEAD request against the instance root to
// confirm it answers before tasks are dispatched to it. Only a transport
// failure marks the instance unreachable; any HTTP response, whatever its
// status (e.g. 404 for a server with no root handler), is treated as
// reachable, since the analytics servers this targets do not all expose a
// dedicated health endpoint.
func probe(ctx context.Context, c *Client) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.newRequest(probeCtx, http.MethodHead, c.conn.BaseURL()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &rerrors.TransportError{Instance: c.conn.Instance, Cause: err}
	}
	resp.Body.Close()
	return nil
}

// Get returns the Client for instance, or a transport error if the
// instance was never pooled or failed its setup probe.
func (p *Pool) Get(instance string) (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if client, ok := p.clients[instance]; ok {
		return client, nil
	}
	if err, ok := p.unreachable[instance]; ok {
		return nil, &rerrors.TransportError{Instance: instance, Cause: fmt.Errorf("instance unreachable: %w", err)}
	}
	return nil, &rerrors.TransportError{Instance: instance, Cause: fmt.Errorf("no connection descriptor for instance %q", instance)}
}

// Reachable reports whether instance was successfully pooled.
func (p *Pool) Reachable(instance string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.clients[instance]
	return ok
}

// Unreachable returns the set of instance names that failed setup, for
// surfacing in run-start diagnostics.
func (p *Pool) Unreachable() map[string]error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]error, len(p.unreachable))
	for k, v := range p.unreachable {
		out[k] = v
	}
	return out
}

// Resolver adapts the pool into a task.Resolver: evaluating a wildcard's
// query expression against the instance it targets.
func (p *Pool) Resolver(ctx context.Context, instance, queryExpr string) ([]string, error) {
	client, err := p.Get(instance)
	if err != nil {
		return nil, err
	}
	return client.ExpandSet(ctx, instance, queryExpr)
}
