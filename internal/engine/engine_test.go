package engine_test

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira/internal/engine"
	"github.com/maegashira/maegashira/internal/pipeline"
	"github.com/maegashira/maegashira/internal/routing"
	"github.com/maegashira/maegashira/internal/txn"
)

type recordingSink struct{ got []*txn.Transaction }

func (s *recordingSink) Enqueue(t *txn.Transaction) { s.got = append(s.got, t) }

func newMachine(store *routing.Store, sink *recordingSink, reg *pipeline.Registry) *engine.Machine {
	if reg == nil {
		reg = pipeline.NewRegistry()
	}
	return &engine.Machine{Store: store, Registry: reg, Sink: sink}
}

func TestMachine_RouteMiss404(t *testing.T) {
	store := routing.New(nil)
	sink := &recordingSink{}
	m := newMachine(store, sink, nil)

	r := httptest.NewRequest(http.MethodGet, "http://nohost/", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, sink.got, 1)
	assert.True(t, sink.got[0].Cancelled)
	assert.Equal(t, "route_match", sink.got[0].CancellationReason)
	assert.Equal(t, http.StatusNotFound, sink.got[0].Status)
}

func TestMachine_StaticServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{Hostname: "localhost", Path: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}}))

	m := newMachine(store, &recordingSink{}, nil)
	r := httptest.NewRequest(http.MethodGet, "http://localhost/readme.txt", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", w.Body.String())
}

func TestMachine_ForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream"))
	}))
	defer upstream.Close()

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{Hostname: "localhost", Path: "", Targets: []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}}}}))

	m := newMachine(store, &recordingSink{}, nil)
	r := httptest.NewRequest(http.MethodGet, "http://localhost/v1.0", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream", w.Body.String())
}

func TestMachine_BasicAuthChallengeAndSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{
		Hostname:       "localhost",
		Path:           "",
		Targets:        []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}},
		Authentication: &routing.Authentication{Type: routing.AuthBasic, Username: "u", Password: "p"},
	}}))

	m := newMachine(store, &recordingSink{}, nil)

	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="localhost"`, w.Header().Get("WWW-Authenticate"))

	r2 := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	r2.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("u:p")))
	w2 := httptest.NewRecorder()
	m.ServeHTTP(w2, r2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestMachine_MiddlewareCancelProduces400(t *testing.T) {
	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{
		Hostname:    "localhost",
		Path:        "",
		Targets:     []routing.Target{{Type: routing.TargetStatic, Directory: t.TempDir()}},
		Middlewares: &routing.Middlewares{Pre: []string{"deny"}},
	}}))

	reg := pipeline.NewRegistry(pipeline.Middleware{Key: "deny", Pre: func(s pipeline.State) pipeline.State {
		s.Action = pipeline.ActionCancel
		return s
	}})

	m := newMachine(store, &recordingSink{}, reg)
	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMachine_TimeoutProduces504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{
		Hostname:  "localhost",
		Path:      "",
		TimeoutMS: 100,
		Targets:   []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}},
	}}))

	sink := &recordingSink{}
	m := newMachine(store, sink, nil)
	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "timeout", sink.got[0].CancellationReason)
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(100))
}

func TestMachine_DefaultTimeoutMSAppliesWhenRouteOmitsOne(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{
		Hostname: "localhost",
		Path:     "",
		Targets:  []routing.Target{{Type: routing.TargetForward, URL: upstream.URL}},
	}}))

	sink := &recordingSink{}
	m := newMachine(store, sink, nil)
	m.DefaultTimeoutMS = 100

	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "timeout", sink.got[0].CancellationReason)
}

func TestMachine_DebugHeadersSetWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))

	store := routing.New(nil)
	require.NoError(t, store.Set(routing.Table{{Hostname: "localhost", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: dir}}}}))

	m := newMachine(store, &recordingSink{}, nil)
	m.Debug = true

	r := httptest.NewRequest(http.MethodGet, "http://localhost/readme.txt", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	assert.NotEmpty(t, w.Header().Get("x-maegashira-transaction-id"))
	assert.Equal(t, "no-cache", w.Header().Get("x-maegashira-transaction-cache"))
	assert.NotEmpty(t, w.Header().Get("x-maegashira-transaction-duration"))
	assert.NotEmpty(t, w.Header().Get("x-maegashira-transaction-overhead"))
	assert.NotEmpty(t, w.Header().Get("x-maegashira-transaction-overhead-percentage"))
}

func TestMachine_ExactlyOneTransactionPerRequest(t *testing.T) {
	store := routing.New(nil)
	sink := &recordingSink{}
	m := newMachine(store, sink, nil)

	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, r)

	require.Len(t, sink.got, 1)
	assert.Equal(t, sink.got[0].Status, w.Code)
}
