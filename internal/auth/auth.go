// Package auth implements Maegashira's authentication strategies (C5):
// anonymous (always passes) and basic (RFC 7617), gating a request after
// pre-processing and before dispatch. Grounded on the teacher's
// middleware/basicauth package, in particular its constant-time credential
// comparison.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

// Check gates a request per the Route's Authentication policy (§4.5). A nil
// auth is treated as anonymous. On success it returns nil and dispatch may
// proceed; on failure it returns a *merr.Error of KindAuthFailed whose Meta
// carries "www_authenticate" when the caller should echo a
// WWW-Authenticate challenge header.
func Check(authn *routing.Authentication, r *http.Request) error {
	if authn == nil || authn.Type == routing.AuthAnonymous {
		return nil
	}
	if authn.Type != routing.AuthBasic {
		return nil
	}

	realm := authn.Realm
	if realm == "" {
		realm = requestHost(r)
	}
	challenge := fmt.Sprintf(`Basic realm=%q`, realm)

	user, pass, ok := parseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		return merr.New(merr.KindAuthFailed, "missing or malformed Authorization header").
			WithMeta("www_authenticate", challenge)
	}

	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(authn.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(authn.Password)) == 1
	if !userMatch || !passMatch {
		return merr.New(merr.KindAuthFailed, "invalid credentials").
			WithMeta("www_authenticate", challenge)
	}
	return nil
}

// requestHost strips the port from r.Host, mirroring engine.requestHost, so
// a default realm never leaks the client-facing port (e.g. "localhost:18080"
// becomes "localhost").
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// parseBasicAuth decodes an "Authorization: Basic <base64>" header value.
// Reimplemented rather than using net/http.Request.BasicAuth so Check can
// take the raw header string directly (pre-processing may have rewritten
// it without mutating the *http.Request's other fields).
func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}
