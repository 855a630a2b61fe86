// Package pipeline implements the middleware pipeline (C4): an ordered
// sequence of named, user-registered handlers run over a transaction state,
// once before dispatch and (symmetrically — see §9 resolution in
// SPEC_FULL.md) once after. Grounded on the teacher router's middleware
// chain convention (named, ordered, each handler producing the next
// state), generalized from a fixed Context type to the State contract
// §4.4 defines.
package pipeline

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/maegashira/maegashira/internal/txn"
)

// Action is a pre/post-processing handler's verdict.
type Action string

const (
	ActionNext   Action = "next"
	ActionCancel Action = "cancel"
)

// State is the value threaded through one phase's handler chain. The same
// shape serves pre-processing (Headers/Body are the inbound request's) and
// post-processing (Headers/Body are the outbound response's), per §4.4.
type State struct {
	Transaction        *txn.Transaction
	Headers            http.Header
	Body               []byte
	Action             Action
	CancellationReason string
}

// Handler is one middleware's function value for one phase. It returns the
// (possibly mutated) state for the next handler in the chain.
type Handler func(State) State

// Middleware is a named handler pair registered once at worker startup
// (§4.4, §4.7). Either Pre or Post may be nil if the middleware only
// participates in one phase.
type Middleware struct {
	Key  string
	Pre  Handler
	Post Handler
}

// Registry is the worker's immutable, built-at-startup set of registered
// middlewares, keyed by Middleware.Key.
type Registry struct {
	entries map[string]Middleware
}

// NewRegistry builds a Registry from a set of Middleware, later entries
// with a duplicate Key overriding earlier ones.
func NewRegistry(middlewares ...Middleware) *Registry {
	r := &Registry{entries: make(map[string]Middleware, len(middlewares))}
	for _, m := range middlewares {
		r.entries[m.Key] = m
	}
	return r
}

// RunPre runs the keyed pre-processing handlers in listed order over state,
// starting with action=next. Unknown keys are logged and skipped (§4.4).
func (r *Registry) RunPre(log *slog.Logger, keys []string, state State) State {
	return r.run(log, keys, state, func(m Middleware) Handler { return m.Pre })
}

// RunPost runs the keyed post-processing handlers in listed order over
// state. Post-processing cannot retroactively unblock a prior cancel; the
// caller (internal/engine) only invokes RunPost after a successful
// dispatch.
func (r *Registry) RunPost(log *slog.Logger, keys []string, state State) State {
	return r.run(log, keys, state, func(m Middleware) Handler { return m.Post })
}

func (r *Registry) run(log *slog.Logger, keys []string, state State, pick func(Middleware) Handler) State {
	state.Action = ActionNext
	for _, key := range keys {
		mw, ok := r.entries[key]
		if !ok {
			if log != nil {
				log.Warn("unknown middleware key, skipping", "key", key)
			}
			continue
		}
		handler := pick(mw)
		if handler == nil {
			continue
		}
		state = handler(state)
		if state.Action == ActionCancel {
			if state.CancellationReason == "" {
				state.CancellationReason = "middleware_cancelled:" + key
			}
			return state
		}
	}
	return state
}

// ReadBody fully reads and replaces r.Body with a rewindable copy,
// returning the bytes read, so a pre-processing handler chain can inspect
// and rewrite the body before it is forwarded (§5 suspension point (i)).
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
