package discovery_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira/internal/primary/discovery"
	"github.com/maegashira/maegashira/internal/routing"
)

func fakeDaemon(t *testing.T, body string) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "docker.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/containers/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Close() })
	return socket
}

func TestDocker_DiscoverSynthesizesRoutesFromLabels(t *testing.T) {
	body := `[
		{
			"Names": ["/checkout-service"],
			"State": "running",
			"Labels": {
				"maegashira.public.hostname": "shop.example.com",
				"maegashira.public.path": "/checkout",
				"maegashira.private.port": "9000"
			}
		},
		{
			"Names": ["/unrelated"],
			"State": "running",
			"Labels": {}
		}
	]`
	socket := fakeDaemon(t, body)

	d := discovery.NewDocker(socket, time.Hour, nil)

	var got routing.Table
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		d.Run(ctx, func(t routing.Table) {
			got = t
			close(done)
			cancel()
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery never reported a table")
	}

	require.Len(t, got, 1)
	assert.Equal(t, "shop.example.com", got[0].Hostname)
	assert.Equal(t, "/checkout", got[0].Path)
	require.Len(t, got[0].Targets, 1)
	assert.Equal(t, routing.TargetForward, got[0].Targets[0].Type)
	assert.Equal(t, "http://checkout-service:9000", got[0].Targets[0].URL)
}

func TestDocker_PollFailureDoesNotInvokeCallback(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")
	_ = os.Remove(socket)

	d := discovery.NewDocker(socket, time.Hour, nil)

	called := false
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx, func(routing.Table) { called = true })

	assert.False(t, called)
}
