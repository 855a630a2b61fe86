// Package engine implements the request state machine (C6): the
// per-request orchestration of §4.6, from RESOLVING through FINALIZE,
// producing one Transaction per request and the HTTP response written to
// the client. Implemented as a straight-line sequence of typed steps
// rather than a generic FSM library — grounded on the teacher's own
// router.ServeHTTP dispatch, itself an explicit, unrolled phase sequence
// rather than a table-driven state machine.
package engine

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maegashira/maegashira/internal/auth"
	"github.com/maegashira/maegashira/internal/dispatch"
	"github.com/maegashira/maegashira/internal/merr"
	"github.com/maegashira/maegashira/internal/pipeline"
	"github.com/maegashira/maegashira/internal/routing"
	"github.com/maegashira/maegashira/internal/txn"
)

// Sink receives one Transaction per request, at-least-once (invariant 2,
// §3). Implemented by internal/sink.Client.
type Sink interface {
	Enqueue(*txn.Transaction)
}

// Machine runs the per-request state machine over a worker's current
// routing table, middleware registry, and post-transaction sink.
type Machine struct {
	Store            *routing.Store
	Registry         *pipeline.Registry
	Sink             Sink
	Log              *slog.Logger
	Debug            bool // gates the x-maegashira-transaction-* response headers (§4.6)
	DefaultTimeoutMS int  // operator-configured upstream timeout fallback (§4.3, §6); 0 defers to dispatch.DefaultTimeoutMS
}

// ServeHTTP implements http.Handler, executing §4.6's full sequence.
func (m *Machine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := txn.New(uuid.NewString(), clientIP(r), r.Method, r.URL.String(), r.UserAgent(), r.ContentLength)
	t.Cache = txn.CacheNoCache

	defer func() {
		if m.Sink != nil {
			m.Sink.Enqueue(t)
		}
	}()

	// RESOLVING
	t.ResolvingStart = time.Now().UTC()
	table := m.Store.Get()
	route, ok := routing.Match(table, requestHost(r), r.URL.Path)
	t.ResolvingEnd = time.Now().UTC()
	if !ok {
		t.Cancel(txn.ReasonRouteMatch)
		m.respondError(w, t, merr.New(merr.KindRouteMatchMiss, "Route not found"))
		return
	}

	// PRE_PROCESSING
	body, err := pipeline.ReadBody(r)
	if err != nil {
		m.respondError(w, t, merr.Wrap(merr.KindServerInternal, "failed to read request body", err))
		return
	}

	t.PreprocessingStart = time.Now().UTC()
	preKeys := preMiddlewareKeys(route)
	pre := m.Registry.RunPre(m.Log, preKeys, pipeline.State{
		Transaction: t,
		Headers:     r.Header.Clone(),
		Body:        body,
	})
	t.PreprocessingEnd = time.Now().UTC()

	if pre.Action == pipeline.ActionCancel {
		t.Cancel(pre.CancellationReason)
		m.respondError(w, t, merr.New(merr.KindMiddlewareCancelled, "Request cancelled"))
		return
	}
	r.Header = pre.Headers
	body = pre.Body

	// AUTHENTICATING — runs after pre-processing so pre-processing may
	// inject or rewrite credentials (§4.5).
	if authErr := auth.Check(route.Authentication, r); authErr != nil {
		m.respondError(w, t, authErr)
		return
	}

	// DISPATCHING
	t.TargetRequestStart = time.Now().UTC()
	result, err := dispatch.Dispatch(r.Context(), route, r, body, m.Log, m.DefaultTimeoutMS)
	t.TargetRequestEnd = time.Now().UTC()
	if err != nil {
		switch merr.KindOf(err) {
		case merr.KindUpstreamTimeout:
			t.Cancel(txn.ReasonTimeout)
		case merr.KindUpstreamFetchFailed:
			t.Cancel(txn.ReasonFetchFailed)
		}
		t.TargetType = targetTypeHint(route)
		m.respondError(w, t, err)
		return
	}
	t.TargetType = result.TargetType
	// Cache is reserved (§3); the dispatcher never produces a cache hit, so
	// Transaction.Cache stays at the no-cache value set in ServeHTTP.

	// POST_PROCESSING
	t.PostprocessingStart = time.Now().UTC()
	postKeys := postMiddlewareKeys(route)
	post := m.Registry.RunPost(m.Log, postKeys, pipeline.State{
		Transaction: t,
		Headers:     headerFromMap(result.Header),
		Body:        result.Body,
	})
	t.PostprocessingEnd = time.Now().UTC()

	// FINALIZE
	m.respond(w, t, result.StatusCode, post.Headers, post.Body)
}

func (m *Machine) respondError(w http.ResponseWriter, t *txn.Transaction, err error) {
	headers := http.Header{}
	httpStatus := 500
	if me, ok := err.(*merr.Error); ok {
		httpStatus = me.HTTPStatus()
		if wwwAuth, ok := me.Meta["www_authenticate"].(string); ok {
			headers.Set("WWW-Authenticate", wwwAuth)
		}
	}
	m.respond(w, t, httpStatus, headers, []byte(errorBody(err)))
}

func errorBody(err error) string {
	if me, ok := err.(*merr.Error); ok {
		return me.Message
	}
	return err.Error()
}

func (m *Machine) respond(w http.ResponseWriter, t *txn.Transaction, status int, headers http.Header, body []byte) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	// body's length is already fully known, so Finish can run (and its
	// derived headers be set) before WriteHeader — setting response
	// headers after WriteHeader has no effect in net/http.
	t.Finish(status, http.StatusText(status), int64(len(body)))
	if m.Debug {
		w.Header().Set("x-maegashira-transaction-id", t.ID)
		w.Header().Set("x-maegashira-transaction-cache", t.Cache)
		w.Header().Set("x-maegashira-transaction-duration", formatMS(t.Duration()))
		w.Header().Set("x-maegashira-transaction-overhead", formatMS(t.TotalOverhead()))
		w.Header().Set("x-maegashira-transaction-overhead-percentage", formatMS(t.OverheadPct()))
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func preMiddlewareKeys(route routing.Route) []string {
	if route.Middlewares == nil {
		return nil
	}
	return route.Middlewares.Pre
}

func postMiddlewareKeys(route routing.Route) []string {
	if route.Middlewares == nil {
		return nil
	}
	return route.Middlewares.Post
}

func targetTypeHint(route routing.Route) string {
	if len(route.Targets) == 0 {
		return ""
	}
	return route.Targets[0].Type
}

func headerFromMap(m map[string][]string) http.Header {
	if m == nil {
		return http.Header{}
	}
	return http.Header(m)
}

func formatMS(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
