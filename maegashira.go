// Package maegashira is the embeddable entry point to the reverse proxy:
// wiring a routing.Store, an engine.Machine, an optional sink, and the
// management API into one process that can be started and stopped as a
// unit. cmd/maegashira is a thin CLI shell around this package.
package maegashira

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/maegashira/maegashira/internal/engine"
	"github.com/maegashira/maegashira/internal/manage"
	"github.com/maegashira/maegashira/internal/metrics"
	"github.com/maegashira/maegashira/internal/pipeline"
	"github.com/maegashira/maegashira/internal/routing"
	"github.com/maegashira/maegashira/internal/sink"
	"github.com/maegashira/maegashira/internal/worker"
)

// Config configures a single-process embedded Proxy (no fork/supervise
// topology; that is cmd/maegashira's concern via internal/primary). This
// is the shape a library consumer embeds directly in their own binary.
type Config struct {
	Hostname string
	Port     int

	APIEnabled  bool
	APIHostname string
	APIPort     int
	APIKey      string

	Middlewares []pipeline.Middleware
	Sink        engine.Sink

	Debug bool

	// TimeoutMS is the operator-configured default upstream timeout (§4.3,
	// §6), used when a Route omits timeout_ms. 0 defers to dispatch's
	// hardcoded DefaultTimeoutMS.
	TimeoutMS int
}

// Proxy runs the public listener and, optionally, the management API
// listener as one unit (§4.7, §4.9), using errgroup so either listener
// failing tears down the other (§5's concurrent-shutdown requirement).
type Proxy struct {
	Store   *routing.Store
	Metrics *metrics.Registry

	worker *worker.Worker
	api    *manage.Server

	cfg Config
	log *slog.Logger
}

// New builds a Proxy. The returned value's Store.Set installs the routing
// table used by both the public listener and the management API's
// GET/POST /routes endpoints.
func New(cfg Config, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	w := worker.New(worker.Config{
		Hostname:    cfg.Hostname,
		Port:        cfg.Port,
		Middlewares: cfg.Middlewares,
		Sink:        cfg.Sink,
		Debug:       cfg.Debug,
		TimeoutMS:   cfg.TimeoutMS,
	}, log)

	p := &Proxy{
		Store:   w.Store,
		Metrics: w.Metrics,
		worker:  w,
		cfg:     cfg,
		log:     log,
	}

	if cfg.APIEnabled {
		p.api = &manage.Server{
			Store:   w.Store,
			Metrics: w.Metrics.Handler(),
			APIKey:  cfg.APIKey,
			Log:     log,
		}
	}
	return p
}

// Run binds the public listener (and, if enabled, the management
// listener) and serves until ctx is cancelled, then drains both. Returns
// the first listener error, if any.
func (p *Proxy) Run(ctx context.Context) error {
	publicLn, err := net.Listen("tcp", net.JoinHostPort(p.cfg.Hostname, strconv.Itoa(p.cfg.Port)))
	if err != nil {
		return fmt.Errorf("maegashira: failed to bind public listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.worker.Serve(gctx, publicLn)
	})

	if p.api != nil {
		apiLn, err := net.Listen("tcp", net.JoinHostPort(p.cfg.APIHostname, strconv.Itoa(p.cfg.APIPort)))
		if err != nil {
			return fmt.Errorf("maegashira: failed to bind management listener: %w", err)
		}
		g.Go(func() error {
			return serveAPI(gctx, apiLn, p.api.Handler())
		})
	}

	return g.Wait()
}

// serveAPI runs the management HTTP server on ln until ctx is cancelled,
// mirroring worker.Worker.Serve's accept/drain shape for the second
// listener errgroup supervises (§5).
func serveAPI(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), worker.DefaultShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	}
}

// ApplyTable replaces the routing table the proxy serves against (§4.1).
func (p *Proxy) ApplyTable(t routing.Table) error {
	return p.worker.ApplyTable(t)
}

// NewSinkFromRedis is a convenience constructor used by cmd/maegashira: it
// wraps an already-connected go-redis client in the sink.Client backoff
// and buffering logic (§5, §6).
func NewSinkFromRedis(ctx context.Context, pusher sink.Pusher, log *slog.Logger) *sink.Client {
	return sink.New(ctx, pusher, log)
}
