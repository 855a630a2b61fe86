// Command maegashira runs the reverse proxy standalone. It wraps the root
// maegashira package (single-process embedding) or internal/primary (the
// fork/supervise cluster topology) depending on --clustering, following
// the teacher's flag-package CLI idiom rather than pulling in a CLI
// framework (none of the examples do for a service this size).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(ctx, os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "maegashira: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "maegashira:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  maegashira start [flags]
  maegashira check --file <path>

flags for start:
  --hostname string         public listener hostname (default "0.0.0.0")
  --port int                public listener port (default 8080)
  --file string             routing table JSON file, loaded before serving
  --clustering int          number of worker processes (default 1, in-process)
  --redis-host string       sink Redis host
  --redis-port int          sink Redis port (default 6379)
  --redis-password string   sink Redis password
  --api-enabled             enable the management API
  --api-hostname string     management listener hostname (default "0.0.0.0")
  --api-port int            management listener port (default 8081)
  --api-key string          bearer token required by the management API`)
}
