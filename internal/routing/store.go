package routing

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maegashira/maegashira/internal/merr"
)

// Store owns a single current routing-table snapshot (C1). Readers call Get
// and observe either the prior snapshot or the new one in full, never a
// partial update, via atomic.Pointer swap — the same copy-on-write technique
// the teacher router uses for its atomic route tree.
type Store struct {
	current atomic.Pointer[Table]

	mu       sync.Mutex // serializes Set; readers never block on it
	log      *slog.Logger
	resolver *net.Resolver

	// OnChange, if set, is invoked with the new snapshot after every
	// successful Set, under the Set mutex's happens-before edge (called
	// after the atomic swap). Used by the primary to broadcast to workers.
	OnChange func(Table)
}

// New builds an empty Store. A nil logger disables prefetch-failure logging.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Store{log: log, resolver: net.DefaultResolver}
	empty := Table{}
	s.current.Store(&empty)
	return s
}

// Get returns the current snapshot, or an empty Table if Set was never
// called (§4.1).
func (s *Store) Get() Table {
	t := s.current.Load()
	if t == nil {
		return Table{}
	}
	return *t
}

// Set validates candidate and, if valid, atomically replaces the current
// snapshot, then triggers propagation (OnChange) and DNS prefetch as
// side-effects. Fails with a *merr.Error of KindInvalidRoutingTable without
// touching the current snapshot when candidate is invalid.
func (s *Store) Set(candidate Table) error {
	if errs := Validate(candidate); len(errs) > 0 {
		meta := make([]string, len(errs))
		for i, e := range errs {
			meta[i] = e.String()
		}
		return merr.New(merr.KindInvalidRoutingTable, "routing table failed validation").
			WithMeta("errors", meta)
	}

	s.mu.Lock()
	snapshot := candidate.DeepCopy()
	s.current.Store(&snapshot)
	onChange := s.OnChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
	s.prefetchDNS(snapshot)
	return nil
}

// prefetchDNS warms the resolver cache for every forward target's host, in
// a background goroutine. Failure is non-fatal and merely logged (§4.1).
func (s *Store) prefetchDNS(table Table) {
	hosts := table.ForwardHosts()
	if len(hosts) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, host := range hosts {
			if _, err := s.resolver.LookupHost(ctx, host); err != nil {
				s.log.Warn("dns prefetch failed", "host", host, "error", err)
			}
		}
	}()
}
