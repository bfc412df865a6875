package watcher

import (
	"sync"
	"testing"
	"time"
)

// fakeSource hands out scripted sessions so tests can drive raw events
// without a kernel backend.
type fakeSource struct {
	mu       sync.Mutex
	sessions []*fakeSession
	openErr  error
	opens    int
}

func newFakeSource() *fakeSource { return &fakeSource{} }

func (source *fakeSource) open(config sessionConfig) (nativeSession, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.opens++
	if source.openErr != nil {
		return nil, source.openErr
	}
	session := newFakeSession(config)
	source.sessions = append(source.sessions, session)
	return session, nil
}

func (source *fakeSource) setOpenError(err error) {
	source.mu.Lock()
	source.openErr = err
	source.mu.Unlock()
}

func (source *fakeSource) session(index int) *fakeSession {
	source.mu.Lock()
	defer source.mu.Unlock()
	if index < 0 || index >= len(source.sessions) {
		return nil
	}
	return source.sessions[index]
}

// waitSession blocks until the session at index has been opened.
func (source *fakeSource) waitSession(t *testing.T, index int) *fakeSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session := source.session(index); session != nil {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %d never opened", index)
	return nil
}

type fakeSession struct {
	config    sessionConfig
	eventCh   chan rawEvent
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSession(config sessionConfig) *fakeSession {
	return &fakeSession{
		config:  config,
		eventCh: make(chan rawEvent, 64),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (session *fakeSession) events() <-chan rawEvent { return session.eventCh }

func (session *fakeSession) errors() <-chan error { return session.errCh }

func (session *fakeSession) close() error {
	session.closeOnce.Do(func() {
		close(session.done)
		close(session.eventCh)
		close(session.errCh)
	})
	return nil
}

// emit feeds one raw event into the session. Tests sequence emits
// before close, so the unsynchronized closed check is enough.
func (session *fakeSession) emit(event rawEvent) {
	select {
	case <-session.done:
		return
	default:
	}
	session.eventCh <- event
}

func (session *fakeSession) isClosed() bool {
	select {
	case <-session.done:
		return true
	default:
		return false
	}
}

func waitForPathEvent(t *testing.T, events <-chan PathEvent) PathEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for path event")
		return PathEvent{}
	}
}

func waitForStreamEvent(t *testing.T, events <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream event")
		return StreamEvent{}
	}
}

func waitForPathState(t *testing.T, watcher *PathWatcher, want PathState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if watcher.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watcher never reached %s, still %s", want, watcher.State())
}

func waitForCondition(t *testing.T, describe string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", describe)
}
