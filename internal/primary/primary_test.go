package primary_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira/internal/control"
	"github.com/maegashira/maegashira/internal/primary"
	"github.com/maegashira/maegashira/internal/routing"
)

type fakeHandle struct {
	mu       sync.Mutex
	sent     []control.Message
	messages chan control.Message
	exit     chan error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{messages: make(chan control.Message, 8), exit: make(chan error, 1)}
}

func (h *fakeHandle) Send(m control.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, m)
	return nil
}

func (h *fakeHandle) Messages() <-chan control.Message { return h.messages }

func (h *fakeHandle) Wait() error { return <-h.exit }

func (h *fakeHandle) Stop() {
	select {
	case h.exit <- nil:
	default:
	}
}

func (h *fakeHandle) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

type fakeSpawner struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (s *fakeSpawner) Spawn(id int) (primary.WorkerHandle, error) {
	h := newFakeHandle()
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

func (s *fakeSpawner) all() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeHandle(nil), s.handles...)
}

func TestPrimary_StartSpawnsNWorkersAndSendsInitialTable(t *testing.T) {
	store := routing.New(nil)
	spawner := &fakeSpawner{}
	p := primary.New(store, spawner, nil)

	require.NoError(t, p.Start(context.Background(), 3))
	assert.Equal(t, 3, p.WorkerCount())

	for _, h := range spawner.all() {
		assert.Equal(t, 1, h.sentCount())
		assert.Equal(t, control.TypeTable, h.sent[0].Type)
	}
}

func TestPrimary_BroadcastOnStoreSet(t *testing.T) {
	store := routing.New(nil)
	spawner := &fakeSpawner{}
	p := primary.New(store, spawner, nil)
	require.NoError(t, p.Start(context.Background(), 2))

	table := routing.Table{{Hostname: "h", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: "."}}}}
	require.NoError(t, store.Set(table))

	for _, h := range spawner.all() {
		assert.Equal(t, 2, h.sentCount()) // initial + broadcast
		assert.Equal(t, table, h.sent[len(h.sent)-1].Table)
	}
}

func TestPrimary_RespawnsOnWorkerExit(t *testing.T) {
	store := routing.New(nil)
	spawner := &fakeSpawner{}
	p := primary.New(store, spawner, nil)
	require.NoError(t, p.Start(context.Background(), 1))

	handles := spawner.all()
	require.Len(t, handles, 1)
	handles[0].exit <- assert.AnError

	require.Eventually(t, func() bool { return len(spawner.all()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.WorkerCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPrimary_ShutdownBroadcastsAndWaits(t *testing.T) {
	store := routing.New(nil)
	spawner := &fakeSpawner{}
	p := primary.New(store, spawner, nil)
	p.Grace = 200 * time.Millisecond
	require.NoError(t, p.Start(context.Background(), 1))

	handles := spawner.all()
	go func() {
		time.Sleep(5 * time.Millisecond)
		handles[0].exit <- nil
	}()

	done := make(chan struct{})
	go func() {
		p.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return")
	}

	last := handles[0].sent[len(handles[0].sent)-1]
	assert.Equal(t, control.TypeShutdown, last.Type)
}
