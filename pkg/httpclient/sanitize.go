package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be redacted from logs.
// These are matched case-insensitively. The analytics server instances this
// client talks to never put secrets in the query string — an instance's
// connection descriptor (internal/remote.Connection) authenticates over
// HTTP Basic Auth set directly on the request header, and namespace,
// process, and session id all travel as URL path segments, never as
// query parameters — but this list stays as a defensive floor in case a
// future instance or proxy in front of one echoes credentials into a
// query string.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
}

// sanitizeURL removes sensitive query parameters and any embedded
// userinfo from a request URL before it is logged. RunProcess, session
// status, and cancel calls are all built from Connection.BaseURL(),
// which never embeds a user:password@ prefix — c.conn's Basic Auth
// credentials go on the Authorization header instead — but redacting u.User
// here means a URL is still safe to log even if a connection descriptor
// or a future BaseURL override puts credentials directly in the address.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	// Parse query parameters
	q := u.Query()

	// Check each query parameter against sensitive list (case-insensitive)
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}

	// Rebuild URL with sanitized query and userinfo stripped
	safe := *u
	safe.RawQuery = q.Encode()
	if safe.User != nil {
		safe.User = url.User("REDACTED")
	}
	return safe.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
// Comparison is case-insensitive to catch variants like "API_KEY", "Api_Key", etc.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
