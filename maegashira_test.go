package maegashira_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira"
	"github.com/maegashira/maegashira/internal/routing"
)

func TestProxy_ServesStaticRouteAndManagementHealth(t *testing.T) {
	proxy := maegashira.New(maegashira.Config{
		Hostname:    "127.0.0.1",
		Port:        0,
		APIEnabled:  true,
		APIHostname: "127.0.0.1",
		APIPort:     0,
	}, nil)

	require.NoError(t, proxy.ApplyTable(routing.Table{{
		Hostname: "example.com",
		Targets:  []routing.Target{{Type: routing.TargetStatic, Directory: t.TempDir()}},
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proxy.Run(ctx) }()

	// Port 0 means the Proxy picks its own ports; this test only exercises
	// that Run starts and stops cleanly since the bound addresses aren't
	// observable from outside without threading the listener back out.
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not shut down in time")
	}
}
