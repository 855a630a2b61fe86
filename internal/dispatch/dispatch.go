// Package dispatch implements the target dispatcher (C3): executing a
// matched Route's forward or static Target and producing a response.
// Grounded on the teacher router's static file handling conventions
// (router/static.go, router/file.go) and, for the forward path, on the
// reverse-proxy precedent in the zalando-skipper-style reference
// (http.Client with a bounded redirect chain and a per-request deadline).
package dispatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"

	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/routing"
)

// UserAgent is sent on every forwarded upstream request (§4.3).
const UserAgent = "maegashira/1.0"

// DefaultTimeoutMS is the armed deadline when a Route omits timeout_ms (§3, §6).
const DefaultTimeoutMS = 5000

// RedirectDepth is the maximum number of redirects a forward dispatch follows (§4.3).
const RedirectDepth = 20

// Result is what a dispatch produced, ready for the engine to turn into an
// HTTP response and feed to post-processing.
type Result struct {
	StatusCode int
	StatusText string
	Header     map[string][]string
	Body       []byte
	TargetType string
}

// SelectTarget implements the load-balancing tie-break of §4.6: a single
// target is always chosen outright; for multiple targets, "random" (the
// only defined strategy) and any unrecognized strategy both fall back to
// uniform random selection, the latter logging a warning.
func SelectTarget(route routing.Route, log *slog.Logger) routing.Target {
	if len(route.Targets) == 1 {
		return route.Targets[0]
	}

	strategy := "random"
	if route.LoadBalancing != nil && route.LoadBalancing.Type != "" {
		strategy = route.LoadBalancing.Type
	}
	if strategy != "random" && log != nil {
		log.Warn("unknown load_balancing strategy, falling back to random", "strategy", strategy, "hostname", route.Hostname)
	}
	return route.Targets[rand.IntN(len(route.Targets))]
}

// Dispatch selects a Target per SelectTarget and executes it against the
// Route's variant (§4.3). redirect is reserved and unimplemented (§9):
// selecting one yields a ServerInternal error rather than a panic.
// defaultTimeoutMS is the operator-configured fallback (§4.3, §6) used when
// the Route itself omits timeout_ms; 0 leaves DefaultTimeoutMS as the fallback.
func Dispatch(ctx context.Context, route routing.Route, r *http.Request, body []byte, log *slog.Logger, defaultTimeoutMS int) (*Result, error) {
	target := SelectTarget(route, log)
	switch target.Type {
	case routing.TargetForward:
		return Forward(ctx, target, route, r, body, route.TimeoutMS, defaultTimeoutMS)
	case routing.TargetStatic:
		return Static(target, route, r)
	case routing.TargetRedirect:
		return nil, merr.New(merr.KindServerInternal, "redirect target is reserved and not yet implemented")
	default:
		return nil, merr.New(merr.KindServerInternal, "unknown target type").WithMeta("type", target.Type)
	}
}
