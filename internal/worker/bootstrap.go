package worker

import (
	"fmt"
	"net"
	"os"

	"github.com/maegashira/maegashira/internal/control"
)

// Inherited holds the file descriptors a worker process recovers from its
// parent when re-exec'd by internal/primary.ExecSpawner (§4.7): the shared
// public listener at fd 3, and a control pipe split across fd 4 (reads
// from the primary) and fd 5 (writes to the primary).
type Inherited struct {
	Listener net.Listener
	Decoder  *control.Decoder
	Encoder  *control.Encoder
}

// Bootstrap recovers the inherited listener and control pipe. Called once
// at process start when cmd/maegashira detects MAEGASHIRA_WORKER_MODE=1.
func Bootstrap() (*Inherited, error) {
	listenerFile := os.NewFile(3, "maegashira-listener")
	if listenerFile == nil {
		return nil, fmt.Errorf("worker: fd 3 (listener) not inherited")
	}
	ln, err := net.FileListener(listenerFile)
	if err != nil {
		return nil, fmt.Errorf("worker: failed to recover listener from fd 3: %w", err)
	}
	_ = listenerFile.Close()

	controlRead := os.NewFile(4, "maegashira-control-read")
	if controlRead == nil {
		return nil, fmt.Errorf("worker: fd 4 (control read) not inherited")
	}
	controlWrite := os.NewFile(5, "maegashira-control-write")
	if controlWrite == nil {
		return nil, fmt.Errorf("worker: fd 5 (control write) not inherited")
	}

	return &Inherited{
		Listener: ln,
		Decoder:  control.NewDecoder(controlRead),
		Encoder:  control.NewEncoder(controlWrite),
	}, nil
}
