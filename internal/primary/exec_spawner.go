package primary

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"

	"github.com/maegashira/maegashira/internal/control"
)

// WorkerModeEnv marks a re-exec'd process as a worker rather than a fresh
// primary invocation (§4.7's re-exec topology, the Go analogue of Node's
// cluster module / SO_REUSEPORT). Checked by cmd/maegashira at startup.
const WorkerModeEnv = "MAEGASHIRA_WORKER_MODE"

// ExecSpawner starts workers by re-executing the current binary
// (os.Executable), sharing the public listener via an inherited file
// descriptor (fd 3, cmd.ExtraFiles[0]) and a control pipe pair (fd 4 for
// the worker to read, cmd.ExtraFiles[1]; fd 5 for the worker to write,
// cmd.ExtraFiles[2]) carrying the newline-delimited JSON protocol of
// internal/control. No process-supervisor library in the example corpus
// covers this; built directly on os/exec (justified in DESIGN.md).
type ExecSpawner struct {
	Listener *net.TCPListener
	Log      *slog.Logger
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(id int) (WorkerHandle, error) {
	listenerFile, err := s.Listener.File()
	if err != nil {
		return nil, fmt.Errorf("primary: failed to dup listener fd: %w", err)
	}

	toWorker, toWorkerWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("primary: failed to create control pipe (to worker): %w", err)
	}
	fromWorkerRead, fromWorker, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("primary: failed to create control pipe (from worker): %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("primary: failed to resolve executable path: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), WorkerModeEnv+"=1")
	// fd 3 = public listener, fd 4 = control-read, fd 5 = control-write.
	cmd.ExtraFiles = []*os.File{listenerFile, toWorker, fromWorker}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("primary: failed to start worker %d: %w", id, err)
	}

	_ = listenerFile.Close()
	_ = toWorker.Close()
	_ = fromWorker.Close()

	h := &execWorkerHandle{
		id:      id,
		cmd:     cmd,
		enc:     control.NewEncoder(toWorkerWrite),
		encFile: toWorkerWrite,
		decFile: fromWorkerRead,
		dec:     control.NewDecoder(fromWorkerRead),
		inbox:   make(chan control.Message, 16),
		exited:  make(chan error, 1),
	}
	go h.readLoop()
	go h.waitLoop()
	return h, nil
}

type execWorkerHandle struct {
	id      int
	cmd     *exec.Cmd
	enc     *control.Encoder
	encFile *os.File
	decFile *os.File
	dec     *control.Decoder
	inbox   chan control.Message
	exited  chan error
}

func (h *execWorkerHandle) Send(m control.Message) error {
	return h.enc.Encode(m)
}

func (h *execWorkerHandle) Messages() <-chan control.Message { return h.inbox }

func (h *execWorkerHandle) Wait() error {
	return <-h.exited
}

func (h *execWorkerHandle) Stop() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

func (h *execWorkerHandle) readLoop() {
	defer close(h.inbox)
	for {
		msg, err := h.dec.Decode()
		if err != nil {
			return
		}
		h.inbox <- msg
	}
}

func (h *execWorkerHandle) waitLoop() {
	err := h.cmd.Wait()
	_ = h.encFile.Close()
	_ = h.decFile.Close()
	h.exited <- err
}
