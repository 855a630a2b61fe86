// Package discovery implements the optional Docker-label-based service
// discovery the primary controller can run instead of (or alongside) a
// static routing file: poll the local Docker daemon, read
// maegashira.* container labels, and synthesize a routing.Table (§4.8).
//
// No Docker SDK appears anywhere in the example corpus, so this talks to
// the daemon directly over its Unix socket with net/http + encoding/json
// rather than pulling in docker/docker/client — justified in DESIGN.md.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maegashira/maegashira/internal/routing"
)

// Strategy selects how the primary discovers routes.
type Strategy string

const (
	StrategyNone   Strategy = "none"
	StrategyDocker Strategy = "docker"
)

const (
	labelHostname = "maegashira.public.hostname"
	labelPath     = "maegashira.public.path"
	labelPort     = "maegashira.private.port"

	defaultSocket   = "/var/run/docker.sock"
	defaultInterval = 5 * time.Second
)

// container is the subset of `GET /containers/json` fields discovery needs.
type container struct {
	Names  []string          `json:"Names"`
	Labels map[string]string `json:"Labels"`
	State  string            `json:"State"`
}

// Docker polls the local daemon's container list and turns labeled
// containers into routing.Table entries forwarding to their private port.
type Docker struct {
	Socket   string
	Interval time.Duration
	Log      *slog.Logger

	client *http.Client
}

// NewDocker builds a Docker discoverer talking to socket (defaulted to
// /var/run/docker.sock) on interval (defaulted to 5s).
func NewDocker(socket string, interval time.Duration, log *slog.Logger) *Docker {
	if socket == "" {
		socket = defaultSocket
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Docker{
		Socket:   socket,
		Interval: interval,
		Log:      log,
		client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					d := net.Dialer{}
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

// Run polls until ctx is cancelled, invoking onTable with a freshly
// synthesized routing.Table after every successful poll. A poll failure
// is logged and the previous table left standing (§7): onTable is simply
// not called for that tick.
func (d *Docker) Run(ctx context.Context, onTable func(routing.Table)) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	d.pollOnce(ctx, onTable)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx, onTable)
		}
	}
}

func (d *Docker) pollOnce(ctx context.Context, onTable func(routing.Table)) {
	table, err := d.discover(ctx)
	if err != nil {
		d.Log.Warn("docker discovery poll failed, keeping previous table", "error", err)
		return
	}
	onTable(table)
}

func (d *Docker) discover(ctx context.Context) (routing.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://unix/containers/json?filters="+`{"status":["running"]}`, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: docker daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("discovery: docker daemon returned %d: %s", resp.StatusCode, string(body))
	}

	var containers []container
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return nil, fmt.Errorf("discovery: decode container list: %w", err)
	}

	var table routing.Table
	for _, c := range containers {
		hostname := c.Labels[labelHostname]
		portLabel := c.Labels[labelPort]
		if hostname == "" || portLabel == "" {
			continue
		}
		port, err := strconv.Atoi(portLabel)
		if err != nil {
			d.Log.Warn("discovery: ignoring container with non-numeric port label",
				"service", serviceName(c), "port_label", portLabel)
			continue
		}

		path := c.Labels[labelPath]
		table = append(table, routing.Route{
			Hostname: hostname,
			Path:     path,
			Targets: []routing.Target{{
				Type: routing.TargetForward,
				URL:  fmt.Sprintf("http://%s:%d", serviceName(c), port),
			}},
		})
	}
	return table, nil
}

// serviceName resolves the Open Question left unassigned in spec.md:
// Docker's API reports container names prefixed with "/"; the first
// entry in Names is the container's primary name and doubles as its
// resolvable hostname on the default bridge/compose network.
func serviceName(c container) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
