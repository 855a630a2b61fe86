package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maegashira/maegashira"
	"github.com/maegashira/maegashira/internal/banner"
	"github.com/maegashira/maegashira/internal/envcfg"
	"github.com/maegashira/maegashira/internal/logz"
	"github.com/maegashira/maegashira/internal/manage"
	"github.com/maegashira/maegashira/internal/metrics"
	"github.com/maegashira/maegashira/internal/primary"
	"github.com/maegashira/maegashira/internal/routing"
	"github.com/maegashira/maegashira/internal/worker"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func runStart(ctx context.Context, args []string) error {
	if os.Getenv(primary.WorkerModeEnv) == "1" {
		return runWorkerMode(ctx, args)
	}
	return runPrimaryMode(ctx, args)
}

func parseFlags(args []string) (envcfg.Config, string, error) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfg := envcfg.Config{}
	var file string

	fs.StringVar(&cfg.Hostname, "hostname", "0.0.0.0", "public listener hostname")
	fs.IntVar(&cfg.Port, "port", 8080, "public listener port")
	fs.StringVar(&file, "file", "", "routing table JSON file")
	fs.IntVar(&cfg.Clustering, "clustering", 1, "number of worker processes")
	fs.StringVar(&cfg.RedisHost, "redis-host", "", "sink Redis host")
	fs.IntVar(&cfg.RedisPort, "redis-port", 6379, "sink Redis port")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "sink Redis password")
	fs.BoolVar(&cfg.APIEnabled, "api-enabled", false, "enable the management API")
	fs.StringVar(&cfg.APIHostname, "api-hostname", "0.0.0.0", "management listener hostname")
	fs.IntVar(&cfg.APIPort, "api-port", 8081, "management listener port")
	fs.StringVar(&cfg.APIKey, "api-key", "", "management API bearer token")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level")
	fs.IntVar(&cfg.TimeoutMS, "timeout", 0, "default upstream timeout in milliseconds")

	if err := fs.Parse(args); err != nil {
		return cfg, "", err
	}

	for _, err := range envcfg.ApplyTo(&cfg) {
		fmt.Fprintln(os.Stderr, "maegashira:", err)
	}

	return cfg, file, nil
}

func loadTable(file string) (routing.Table, error) {
	if file == "" {
		return routing.Table{}, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing table file: %w", err)
	}
	if errs := routing.ValidateJSON(raw); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.String())
		}
		return nil, fmt.Errorf("routing table file failed validation (%d error(s))", len(errs))
	}
	var table routing.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("routing table file is not valid JSON: %w", err)
	}
	return table, nil
}

// runPrimaryMode starts in-process (clustering <= 1) or forks and
// supervises clustering worker processes, per §4.7/§4.8.
func runPrimaryMode(ctx context.Context, args []string) error {
	cfg, file, err := parseFlags(args)
	if err != nil {
		return err
	}

	log := logz.New(logz.Options{Level: cfg.LogLevel, Handler: logz.HandlerText})

	table, err := loadTable(file)
	if err != nil {
		return err
	}

	banner.Print(os.Stdout, banner.Info{
		Version:     version,
		Hostname:    cfg.Hostname,
		Port:        cfg.Port,
		APIEnabled:  cfg.APIEnabled,
		APIHostname: cfg.APIHostname,
		APIPort:     cfg.APIPort,
		Clustering:  maxInt(cfg.Clustering, 1),
	})

	if cfg.Clustering <= 1 {
		return runEmbedded(ctx, cfg, table, log)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Hostname, itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to bind public listener: %w", err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("public listener is not a TCP listener, cannot share its fd with workers")
	}

	store := routing.New(log)
	if len(table) > 0 {
		if err := store.Set(table); err != nil {
			return fmt.Errorf("initial routing table rejected: %w", err)
		}
	}

	spawner := &primary.ExecSpawner{Listener: tcpLn, Log: log}
	p := primary.New(store, spawner, log)
	p.Aggregator = metrics.NewAggregator()
	if err := p.Start(ctx, cfg.Clustering); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	if cfg.APIEnabled {
		go serveManagement(ctx, cfg, store, p.Aggregator, log)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), primary.DefaultShutdownGrace)
	defer cancel()
	p.Shutdown(shutdownCtx)
	return nil
}

// runEmbedded runs a single-process proxy via the root maegashira package,
// used when clustering <= 1 (no re-exec topology needed).
func runEmbedded(ctx context.Context, cfg envcfg.Config, table routing.Table, log *slog.Logger) error {
	var proxyCfg maegashira.Config
	proxyCfg.Hostname = cfg.Hostname
	proxyCfg.Port = cfg.Port
	proxyCfg.APIEnabled = cfg.APIEnabled
	proxyCfg.APIHostname = cfg.APIHostname
	proxyCfg.APIPort = cfg.APIPort
	proxyCfg.APIKey = cfg.APIKey
	proxyCfg.Debug = logz.IsDebug(cfg.LogLevel)
	proxyCfg.TimeoutMS = cfg.TimeoutMS

	if cfg.RedisHost != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, itoa(cfg.RedisPort)),
			Password: cfg.RedisPassword,
		})
		proxyCfg.Sink = maegashira.NewSinkFromRedis(ctx, rc, log)
	}

	proxy := maegashira.New(proxyCfg, log)
	if len(table) > 0 {
		if err := proxy.ApplyTable(table); err != nil {
			return fmt.Errorf("initial routing table rejected: %w", err)
		}
	}

	return proxy.Run(ctx)
}

// runWorkerMode is entered when the process was re-exec'd by ExecSpawner:
// it recovers the inherited listener and control pipe instead of binding
// its own (§4.7).
func runWorkerMode(ctx context.Context, args []string) error {
	cfg, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	log := logz.New(logz.Options{Level: cfg.LogLevel, Handler: logz.HandlerText})

	inherited, err := worker.Bootstrap()
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	var workerCfg worker.Config
	workerCfg.Hostname = cfg.Hostname
	workerCfg.Port = cfg.Port
	workerCfg.Debug = logz.IsDebug(cfg.LogLevel)
	workerCfg.TimeoutMS = cfg.TimeoutMS

	if cfg.RedisHost != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, itoa(cfg.RedisPort)),
			Password: cfg.RedisPassword,
		})
		workerCfg.Sink = maegashira.NewSinkFromRedis(ctx, rc, log)
	}

	w := worker.New(workerCfg, log)

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.RunControlLoop(ctx, inherited, cancel)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				_ = w.ReportMetrics(inherited.Encoder)
			}
		}
	}()

	return w.Serve(shutdownCtx, inherited.Listener)
}

// serveManagement runs the management API in the primary process when
// clustering, reading cluster-wide metrics off aggregator rather than any
// single worker's own registry (so the primary is the single source of
// truth for both routing-table edits and the aggregated /metrics view).
func serveManagement(ctx context.Context, cfg envcfg.Config, store *routing.Store, aggregator *metrics.Aggregator, log *slog.Logger) {
	srv := &manage.Server{
		Store:   store,
		Metrics: aggregator.Registry.Handler(),
		APIKey:  cfg.APIKey,
		Log:     log,
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.APIHostname, itoa(cfg.APIPort)))
	if err != nil {
		log.Error("failed to bind management listener", "error", err)
		return
	}

	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), worker.DefaultShutdownGrace)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Error("management listener stopped", "error", err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
