// Package primary implements the primary controller (C8): it owns the
// authoritative routing table and forks and supervises worker processes.
// Primary does not run the discovery subpackage's Docker poller, and it
// does not serve the Management API; cmd/maegashira serves that API in the
// primary process.
// Grounded on the teacher's app/lifecycle.go for the start/supervise/
// shutdown shape, generalized from a single in-process server to a
// fork-and-supervise topology over the Spawner abstraction below.
package primary

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/maegashira/maegashira/internal/control"
	"github.com/maegashira/maegashira/internal/metrics"
	"github.com/maegashira/maegashira/internal/routing"
)

// DefaultShutdownGrace bounds how long Shutdown waits for workers to exit
// after broadcasting TypeShutdown (§4.8).
const DefaultShutdownGrace = 2 * time.Second

// WorkerHandle is the primary's view of one running worker process: a
// send side and receive side of the control channel, plus a way to learn
// the process has exited. Satisfied by *execWorkerHandle (real child
// processes) or a fake in tests.
type WorkerHandle interface {
	Send(control.Message) error
	Messages() <-chan control.Message
	Wait() error
	Stop()
}

// Spawner starts one new worker, identified by id for logging and metrics
// aggregation.
type Spawner interface {
	Spawn(id int) (WorkerHandle, error)
}

// Primary owns the authoritative Store and supervises N workers (§4.8).
type Primary struct {
	Store      *routing.Store
	Spawner    Spawner
	Log        *slog.Logger
	Aggregator *metrics.Aggregator

	Grace time.Duration

	mu      sync.Mutex
	workers map[int]WorkerHandle
	nextID  int
	stopped bool
}

// New builds a Primary. Its Store.OnChange is wired to Broadcast so any
// Store.Set (from the Management API or discovery) propagates to every
// worker (§4.1, §4.8).
func New(store *routing.Store, spawner Spawner, log *slog.Logger) *Primary {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Primary{
		Store:   store,
		Spawner: spawner,
		Log:     log,
		Grace:   DefaultShutdownGrace,
		workers: make(map[int]WorkerHandle),
	}
	store.OnChange = p.Broadcast
	return p
}

// Start forks n workers and begins supervising them; a worker that exits
// is respawned and the current table re-broadcast to all workers, to
// cover the race where the new worker joined mid-update (§4.7).
func (p *Primary) Start(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := p.spawnOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Primary) spawnOne(ctx context.Context) error {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	handle, err := p.Spawner.Spawn(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.workers[id] = handle
	p.mu.Unlock()

	go p.readMessages(id, handle)
	go p.supervise(ctx, id, handle)

	_ = handle.Send(control.Message{Type: control.TypeTable, Table: p.Store.Get()})
	return nil
}

func (p *Primary) readMessages(id int, handle WorkerHandle) {
	for msg := range handle.Messages() {
		switch msg.Type {
		case control.TypeTableRequest:
			_ = handle.Send(control.Message{Type: control.TypeTable, Table: p.Store.Get()})
		case control.TypeWorkerError:
			p.Log.Warn("worker reported error", "worker_id", id, "error", msg.Error)
		case control.TypeOnline:
			p.Log.Info("worker online", "worker_id", id)
		case control.TypeMetrics:
			if p.Aggregator != nil {
				p.Aggregator.Merge(strconv.Itoa(id), msg.Metrics)
			}
		}
	}
}

func (p *Primary) supervise(ctx context.Context, id int, handle WorkerHandle) {
	err := handle.Wait()

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	if err != nil {
		p.Log.Warn("worker exited, restarting", "worker_id", id, "error", err)
	} else {
		p.Log.Warn("worker exited, restarting", "worker_id", id)
	}

	p.mu.Lock()
	delete(p.workers, id)
	p.mu.Unlock()

	if respawnErr := p.spawnOne(ctx); respawnErr != nil {
		p.Log.Error("failed to respawn worker", "worker_id", id, "error", respawnErr)
		return
	}
	// Re-broadcast to every worker to close the race where the new worker
	// joined mid-update (§4.7).
	p.Broadcast(p.Store.Get())
}

// Broadcast sends the current table to every live worker. Registered as
// Store.OnChange by New.
func (p *Primary) Broadcast(table routing.Table) {
	p.mu.Lock()
	handles := make([]WorkerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		if err := h.Send(control.Message{Type: control.TypeTable, Table: table}); err != nil {
			p.Log.Warn("failed to broadcast routing table to worker", "error", err)
		}
	}
}

// Shutdown broadcasts TypeShutdown to every worker and waits up to Grace
// for them to exit before returning (§4.8).
func (p *Primary) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.stopped = true
	handles := make([]WorkerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.Send(control.Message{Type: control.TypeShutdown})
	}

	grace := p.Grace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	deadline := time.After(grace)
	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			_ = h.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-deadline:
		for _, h := range handles {
			h.Stop()
		}
	case <-ctx.Done():
		for _, h := range handles {
			h.Stop()
		}
	}
}

// WorkerCount reports the number of currently-tracked live workers, for
// tests and diagnostics.
func (p *Primary) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
