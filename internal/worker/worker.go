// Package worker implements the worker runtime (C7): one process binding
// the public listener, running the request state machine over its own
// local routing-table copy, and driving the post-transaction sink.
// Grounded on the teacher's app/server.go and app/lifecycle.go for the
// listen/serve/graceful-drain shape, generalized from its generic router
// Handler to internal/engine.Machine.
package worker

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/maegashira/maegashira/internal/control"
	"github.com/maegashira/maegashira/internal/engine"
	"github.com/maegashira/maegashira/internal/metrics"
	"github.com/maegashira/maegashira/internal/pipeline"
	"github.com/maegashira/maegashira/internal/routing"
)

// DefaultShutdownGrace is how long a worker drains in-flight requests
// before forcing exit on shutdown (§5).
const DefaultShutdownGrace = 500 * time.Millisecond

// Config configures a Worker.
type Config struct {
	Hostname      string
	Port          int
	Middlewares   []pipeline.Middleware
	Sink          engine.Sink
	Debug         bool
	ShutdownGrace time.Duration
	TimeoutMS     int // operator-configured upstream timeout fallback (§4.3, §6)
}

// Worker hosts the public listener, the request handler, and the
// post-transaction sink client for one OS process (§4.7).
type Worker struct {
	Store   *routing.Store
	Metrics *metrics.Registry

	machine *engine.Machine
	server  *http.Server
	log     *slog.Logger
	grace   time.Duration
}

// New builds a Worker with its own Store and middleware Registry,
// registered once at startup and immutable thereafter (§4.7, §5).
func New(cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	store := routing.New(log)
	reg := pipeline.NewRegistry(cfg.Middlewares...)
	registry := metrics.New()

	machine := &engine.Machine{
		Store:            store,
		Registry:         reg,
		Sink:             cfg.Sink,
		Log:              log,
		Debug:            cfg.Debug,
		DefaultTimeoutMS: cfg.TimeoutMS,
	}

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	w := &Worker{
		Store:   store,
		Metrics: registry,
		machine: machine,
		log:     log,
		grace:   grace,
	}
	w.server = &http.Server{
		Addr:    net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port)),
		Handler: w.instrumentedHandler(),
	}
	return w
}

// instrumentedHandler wraps the state machine so every response's status
// code and duration feed the worker's local metrics registry (§5, §6).
func (w *Worker) instrumentedHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		w.machine.ServeHTTP(rec, r)
		w.Metrics.ObserveResponse(rec.status, float64(time.Since(started).Milliseconds()))
	})
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to the configured grace period before forcing
// exit (§5, §7).
func (w *Worker) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.grace)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			_ = w.server.Close()
			return err
		}
		return nil
	}
}

// ApplyTable replaces the worker's local routing-table copy, called when
// the primary broadcasts a new snapshot (§4.7).
func (w *Worker) ApplyTable(t routing.Table) error {
	return w.Store.Set(t)
}

// RunControlLoop consumes control messages from the primary over enc/dec
// (recovered via Bootstrap) until the connection closes or ctx is
// cancelled: applying routing-table snapshots, and invoking shutdown when
// the primary asks the worker to drain (§4.7, §4.8). It reports itself
// online on entry.
func (w *Worker) RunControlLoop(ctx context.Context, inherited *Inherited, shutdown func()) {
	_ = inherited.Encoder.Encode(control.Message{Type: control.TypeOnline})

	for {
		msg, err := inherited.Decoder.Decode()
		if err != nil {
			if err != io.EOF {
				w.log.Warn("control loop read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case control.TypeTable:
			if err := w.ApplyTable(msg.Table); err != nil {
				w.log.Warn("failed to apply broadcast routing table", "error", err)
				_ = inherited.Encoder.Encode(control.Message{Type: control.TypeWorkerError, Error: err.Error()})
			}
		case control.TypeShutdown:
			shutdown()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// ReportMetrics gathers the worker's current metric families and sends
// them to the primary for aggregation (§4.9).
func (w *Worker) ReportMetrics(enc *control.Encoder) error {
	families, err := w.Metrics.Gather()
	if err != nil {
		return err
	}
	return enc.Encode(control.Message{Type: control.TypeMetrics, Metrics: families})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
