package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/snapboxhq/snapbox/internal/remote"
)

// listStore stubs just the archive listing; the poller touches nothing
// else on the store.
type listStore struct {
	mu   sync.Mutex
	ids  []string
	err  error
}

func (s *listStore) set(ids []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids, s.err = ids, err
}

func (s *listStore) ListArchive(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids, s.err
}

func (s *listStore) GetMetadata(ctx context.Context, ref string) (remote.Tree, error) {
	return nil, errors.New("not implemented")
}

func (s *listStore) Download(ctx context.Context, contentID, dest string, mtime time.Time) error {
	return errors.New("not implemented")
}

func (s *listStore) UploadTree(ctx context.Context, localRoot string) (string, error) {
	return "", errors.New("not implemented")
}

type dispatchCall struct {
	target string
	skip   bool
}

type pollerFixture struct {
	clock    *clockwork.FakeClock
	store    *listStore
	calls    chan dispatchCall
	busy     func() bool
	snapshot func() string
	done     chan struct{}
}

func startPoller(t *testing.T, fx *pollerFixture) {
	t.Helper()
	if fx.busy == nil {
		fx.busy = func() bool { return false }
	}
	if fx.snapshot == nil {
		fx.snapshot = func() string { return "" }
	}
	fx.done = make(chan struct{})

	p := NewPoller(fx.clock, 20*time.Second, fx.store, fx.busy, fx.snapshot,
		func(target string, skipComparison bool) {
			fx.calls <- dispatchCall{target: target, skip: skipComparison}
		})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		p.Run(ctx)
		close(fx.done)
	}()
}

func newPollerFixture() *pollerFixture {
	return &pollerFixture{
		clock: clockwork.NewFakeClock(),
		store: &listStore{},
		calls: make(chan dispatchCall, 8),
	}
}

func (fx *pollerFixture) tick() {
	fx.clock.BlockUntil(1)
	fx.clock.Advance(20 * time.Second)
}

func expectDispatch(t *testing.T, fx *pollerFixture) dispatchCall {
	t.Helper()
	select {
	case call := <-fx.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("no dispatch")
		return dispatchCall{}
	}
}

func expectNoDispatch(t *testing.T, fx *pollerFixture) {
	t.Helper()
	select {
	case call := <-fx.calls:
		t.Fatalf("unexpected dispatch: %+v", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollerMissingArchiveSchedulesFirstBackup(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set(nil, &remote.NotFoundError{Op: "list archive", Ref: "archive"})
	startPoller(t, fx)

	fx.tick()
	call := expectDispatch(t, fx)
	assert.Equal(t, dispatchCall{target: "", skip: true}, call)
}

func TestPollerEmptyArchiveSchedulesFirstBackup(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set([]string{}, nil)
	startPoller(t, fx)

	fx.tick()
	call := expectDispatch(t, fx)
	assert.Equal(t, dispatchCall{target: "", skip: true}, call)
}

func TestPollerDispatchesNewerSnapshot(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set([]string{"2024-06-01T000001", "2024-06-02T000002"}, nil)
	startPoller(t, fx)

	fx.tick()
	call := expectDispatch(t, fx)
	assert.Equal(t, dispatchCall{target: "2024-06-02T000002", skip: false}, call)
}

func TestPollerQuietWhenPointerCurrent(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set([]string{"2024-06-01T000001"}, nil)
	fx.snapshot = func() string { return "2024-06-01T000001" }
	startPoller(t, fx)

	fx.tick()
	expectNoDispatch(t, fx)

	fx.tick()
	expectNoDispatch(t, fx)
}

func TestPollerDefersWhileBusy(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set([]string{"2024-06-01T000001"}, nil)
	fx.busy = func() bool { return true }
	startPoller(t, fx)

	fx.tick()
	expectNoDispatch(t, fx)
}

func TestPollerRetriesAfterTransientError(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set(nil, &remote.TransientError{Op: "list archive", Err: errors.New("503")})
	startPoller(t, fx)

	fx.tick()
	expectNoDispatch(t, fx)

	// the next tick sees a healthy remote and dispatches
	fx.store.set([]string{"2024-06-01T000001"}, nil)
	fx.tick()
	call := expectDispatch(t, fx)
	assert.Equal(t, "2024-06-01T000001", call.target)
}

func TestPollerSuspendsOnFatalError(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set(nil, &remote.FatalError{Op: "list archive", Status: 401, Err: errors.New("unauthorized")})
	startPoller(t, fx)

	fx.tick()
	select {
	case <-fx.done:
	case <-time.After(time.Second):
		t.Fatal("poller kept running after fatal error")
	}
	expectNoDispatch(t, fx)
}

func TestPollerStopsOnCancel(t *testing.T) {
	fx := newPollerFixture()
	fx.store.set([]string{"2024-06-01T000001"}, nil)

	p := NewPoller(fx.clock, 20*time.Second, fx.store,
		func() bool { return false }, func() string { return "" },
		func(string, bool) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	fx.clock.BlockUntil(1)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
