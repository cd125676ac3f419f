package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/npmint/verdadesk/internal/logbuf"
	"github.com/npmint/verdadesk/internal/registry"
)

type fakeHandle struct {
	mu      sync.Mutex
	pid     int
	killed  bool
	killErr error
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return h.killErr
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

type fakeSpawner struct {
	mu       sync.Mutex
	specs    []LaunchSpec
	handle   *fakeHandle
	events   chan Event
	spawnErr error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		handle: &fakeHandle{pid: 4321},
		events: make(chan Event, 16),
	}
}

func (f *fakeSpawner) Spawn(spec LaunchSpec) (Handle, <-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, nil, f.spawnErr
	}
	f.specs = append(f.specs, spec)
	return f.handle, f.events, nil
}

func (f *fakeSpawner) lastSpec(t *testing.T) LaunchSpec {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.specs)
	return f.specs[len(f.specs)-1]
}

func testSupervisor(t *testing.T, sp Spawner) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	entry := filepath.Join(dir, "verdaccio-entry")
	return New(Options{
		Paths:          registry.Paths{Root: filepath.Join(dir, ".verdaccio")},
		EntryResolvers: []registry.Resolver{func() (string, bool) { return entry, true }},
		Spawner:        sp,
		Logs:           logbuf.New(100),
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestStartPopulatesRecord(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	st, err := s.Start(4873, false)
	require.NoError(t, err)
	require.True(t, st.Running)
	require.Equal(t, uint16(4873), st.Port)
	require.Equal(t, 4321, st.PID)
	require.NotEmpty(t, st.StoragePath)
	require.NotEmpty(t, st.ConfigPath)

	got := s.Status()
	require.True(t, got.Running)
	require.Equal(t, 4321, got.PID)
	require.Equal(t, StateRunning, s.State())
}

func TestListenAddressComputation(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	_, err := s.Start(4873, false)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4873", sp.lastSpec(t).ListenAddr())
	require.NoError(t, s.Stop())

	sp2 := newFakeSpawner()
	s2 := testSupervisor(t, sp2)
	_, err = s2.Start(4873, true)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:4873", sp2.lastSpec(t).ListenAddr())
}

func TestLaunchArgs(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	_, err := s.Start(5000, false)
	require.NoError(t, err)
	spec := sp.lastSpec(t)
	require.Equal(t, []string{spec.Entry, "--config", spec.ConfigPath, "--listen", "127.0.0.1:5000"}, spec.Args())
}

func TestLaunchEnvOverrides(t *testing.T) {
	sp := newFakeSpawner()
	dir := t.TempDir()
	entry := filepath.Join(dir, "verdaccio-entry")
	s := New(Options{
		Paths:          registry.Paths{Root: filepath.Join(dir, ".verdaccio")},
		EntryResolvers: []registry.Resolver{func() (string, bool) { return entry, true }},
		Spawner:        sp,
		Env:            map[string]string{"NODE_OPTIONS": "--max-old-space-size=512"},
		Logs:           logbuf.New(100),
	})

	_, err := s.Start(4873, false)
	require.NoError(t, err)
	require.Contains(t, sp.lastSpec(t).Env, "NODE_OPTIONS=--max-old-space-size=512")
}

func TestLaunchEnvNilWhenNoOverrides(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	_, err := s.Start(4873, false)
	require.NoError(t, err)
	require.Nil(t, sp.lastSpec(t).Env)
}

func TestStartTwiceRejectsSecond(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	_, err := s.Start(4873, false)
	require.NoError(t, err)
	_, err = s.Start(4873, false)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// Exactly one spawn happened.
	sp.mu.Lock()
	n := len(sp.specs)
	sp.mu.Unlock()
	require.Equal(t, 1, n)
}

func TestConcurrentStartsYieldOneRunning(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Start(4873, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	okCount, rejectCount := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrAlreadyRunning):
			rejectCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, n-1, rejectCount)
	require.True(t, s.Status().Running)
}

func TestTerminationEventClearsRecordAtomically(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)

	_, err := s.Start(4873, false)
	require.NoError(t, err)

	// Interleave output with the exit notification.
	sp.events <- Event{Kind: EventStdout, Line: "warn --- http server listening"}
	sp.events <- Event{Kind: EventExited, ExitCode: 1}

	waitFor(t, func() bool { return !s.Status().Running })
	st := s.Status()
	require.Zero(t, st.PID, "pid must be cleared together with the running flag")
	require.Equal(t, uint16(4873), st.Port, "port is retained as last-known")
	require.Equal(t, StateStopped, s.State())

	// The exit itself is recorded as an informational entry.
	waitFor(t, func() bool {
		for _, e := range s.Logs() {
			if e.Level == logbuf.LevelInfo && e.Message == "registry process exited, code: 1" {
				return true
			}
		}
		return false
	})

	// A fresh start is possible after the termination was processed.
	_, err = s.Start(4874, false)
	require.NoError(t, err)
	require.Equal(t, uint16(4874), s.Status().Port)
}

func TestNoWindowWithNotRunningAndStalePid(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			st := s.Status()
			if !st.Running && st.PID != 0 {
				t.Errorf("observed not-running status with stale pid %d", st.PID)
				return
			}
		}
	}()
	sp.events <- Event{Kind: EventExited, ExitCode: 0}
	<-done
	waitFor(t, func() bool { return !s.Status().Running })
}

func TestEventStreamFeedsLogBuffer(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	sp.events <- Event{Kind: EventStdout, Line: "\x1b[32minfo\x1b[0m --- loaded config"}
	sp.events <- Event{Kind: EventStderr, Line: "some warning"}
	sp.events <- Event{Kind: EventStdout, Line: "   "}
	sp.events <- Event{Kind: EventError, Err: errors.New("pipe broke")}

	waitFor(t, func() bool {
		msgs := map[string]logbuf.Level{}
		for _, e := range s.Logs() {
			msgs[e.Message] = e.Level
		}
		return msgs["info --- loaded config"] == logbuf.LevelStdout &&
			msgs["some warning"] == logbuf.LevelStderr &&
			msgs["process error: pipe broke"] == logbuf.LevelError
	})

	// Whitespace-only output was dropped.
	for _, e := range s.Logs() {
		require.NotEmpty(t, e.Message)
	}
}

func TestStopKillsAndClears(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.True(t, sp.handle.wasKilled())
	st := s.Status()
	require.False(t, st.Running)
	require.Zero(t, st.PID)
	require.Equal(t, StateStopped, s.State())
}

func TestStopWhenNeverStartedIsNoOp(t *testing.T) {
	s := testSupervisor(t, newFakeSpawner())
	before := s.Status()
	require.NoError(t, s.Stop())
	require.Equal(t, before, s.Status())
}

func TestStopSurfacesKillErrorButClearsBookkeeping(t *testing.T) {
	sp := newFakeSpawner()
	sp.handle.killErr = errors.New("operation not permitted")
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	err = s.Stop()
	require.Error(t, err)
	require.Contains(t, err.Error(), "operation not permitted")

	// Bookkeeping must be consistent despite the failed signal.
	st := s.Status()
	require.False(t, st.Running)
	require.Zero(t, st.PID)

	// And the supervisor is not wedged: a fresh start works.
	_, err = s.Start(4873, false)
	require.NoError(t, err)
}

func TestStartFailsWhenEntryMissing(t *testing.T) {
	sp := newFakeSpawner()
	dir := t.TempDir()
	s := New(Options{
		Paths:          registry.Paths{Root: filepath.Join(dir, ".verdaccio")},
		EntryResolvers: []registry.Resolver{func() (string, bool) { return "", false }},
		Spawner:        sp,
		Logs:           logbuf.New(100),
	})

	_, err := s.Start(4873, false)
	require.ErrorIs(t, err, registry.ErrRuntimeNotFound)
	require.Equal(t, StateStopped, s.State())

	// Retryable once the cause is fixed.
	s.resolvers = []registry.Resolver{func() (string, bool) { return "entry", true }}
	_, err = s.Start(4873, false)
	require.NoError(t, err)
}

func TestStartFailsWhenSpawnFails(t *testing.T) {
	sp := newFakeSpawner()
	sp.spawnErr = errors.New("fork/exec: no such file")
	s := testSupervisor(t, sp)

	_, err := s.Start(4873, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "spawn registry")
	require.Equal(t, StateStopped, s.State())
	require.False(t, s.Status().Running)
}

func TestStaleConsumerDoesNotClobberFreshStart(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	// Explicit stop, then a fresh start on a new event channel.
	require.NoError(t, s.Stop())
	oldEvents := sp.events
	sp.mu.Lock()
	sp.events = make(chan Event, 16)
	sp.handle = &fakeHandle{pid: 9999}
	sp.mu.Unlock()

	_, err = s.Start(4873, false)
	require.NoError(t, err)

	// The killed process's termination arrives late; it must not take the
	// new instance down with it.
	oldEvents <- Event{Kind: EventExited, ExitCode: -1}
	waitFor(t, func() bool {
		for _, e := range s.Logs() {
			if e.Message == fmt.Sprintf("registry process exited, code: %d", -1) {
				return true
			}
		}
		return false
	})
	st := s.Status()
	require.True(t, st.Running)
	require.Equal(t, 9999, st.PID)
}

func TestStartWritesDefaultConfigOnFirstLaunch(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	cfg, err := s.Paths().ReadConfig()
	require.NoError(t, err)
	require.Equal(t, registry.DefaultConfig, cfg)
}

func TestZeroPortFallsBackToDefault(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	st, err := s.Start(0, false)
	require.NoError(t, err)
	require.Equal(t, DefaultPort, st.Port)
	require.Equal(t, "127.0.0.1:4873", sp.lastSpec(t).ListenAddr())
}

// gatedSpawner holds Spawn until the test releases it, so a Stop can be
// issued while a launch is in flight.
type gatedSpawner struct {
	inner   *fakeSpawner
	entered chan struct{}
	release chan struct{}
}

func newGatedSpawner(inner *fakeSpawner) *gatedSpawner {
	return &gatedSpawner{
		inner:   inner,
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (g *gatedSpawner) Spawn(spec LaunchSpec) (Handle, <-chan Event, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.Spawn(spec)
}

func TestStopDuringLaunchAbortsCommit(t *testing.T) {
	sp := newFakeSpawner()
	gated := newGatedSpawner(sp)
	s := testSupervisor(t, gated)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Start(4873, false)
		errCh <- err
	}()
	<-gated.entered

	require.NoError(t, s.Stop())
	close(gated.release)

	require.ErrorIs(t, <-errCh, ErrStartAborted)
	require.Equal(t, StateStopped, s.State())
	st := s.Status()
	require.False(t, st.Running)
	require.Zero(t, st.PID)
	require.True(t, sp.handle.wasKilled())

	// the record is free again for a clean start
	st2, err := s.Start(4873, false)
	require.NoError(t, err)
	require.True(t, st2.Running)
}

// multiSpawner hands out a distinct handle per Spawn, each gated on its
// own token from release.
type multiSpawner struct {
	mu      sync.Mutex
	handles []*fakeHandle
	nextPID int
	entered chan struct{}
	release chan struct{}
}

func newMultiSpawner() *multiSpawner {
	return &multiSpawner{
		nextPID: 7000,
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (m *multiSpawner) Spawn(spec LaunchSpec) (Handle, <-chan Event, error) {
	m.entered <- struct{}{}
	<-m.release
	m.mu.Lock()
	m.nextPID++
	h := &fakeHandle{pid: m.nextPID}
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, make(chan Event, 4), nil
}

func (m *multiSpawner) snapshot() []*fakeHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeHandle(nil), m.handles...)
}

func TestStopThenRestartDuringLaunchKeepsOneInstance(t *testing.T) {
	m := newMultiSpawner()
	s := testSupervisor(t, m)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Start(4873, false)
		firstErr <- err
	}()
	<-m.entered

	require.NoError(t, s.Stop())

	type startResult struct {
		st  Status
		err error
	}
	secondRes := make(chan startResult, 1)
	go func() {
		st, err := s.Start(5000, false)
		secondRes <- startResult{st, err}
	}()
	<-m.entered

	close(m.release)

	require.ErrorIs(t, <-firstErr, ErrStartAborted)
	second := <-secondRes
	require.NoError(t, second.err)
	require.True(t, second.st.Running)

	require.Equal(t, StateRunning, s.State())
	st := s.Status()
	require.Equal(t, second.st.PID, st.PID)

	// exactly one of the two spawned processes survives
	waitFor(t, func() bool {
		handles := m.snapshot()
		if len(handles) != 2 {
			return false
		}
		killed := 0
		for _, h := range handles {
			if h.wasKilled() {
				killed++
			}
		}
		return killed == 1
	})
	for _, h := range m.snapshot() {
		if h.pid == st.PID {
			require.False(t, h.wasKilled())
		}
	}
}

type memWriteCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *memWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *memWriteCloser) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriteCloser) contents() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *memWriteCloser) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func TestProcessOutputTeedToFileWriters(t *testing.T) {
	sp := newFakeSpawner()
	outW := &memWriteCloser{}
	errW := &memWriteCloser{}
	dir := t.TempDir()
	entry := filepath.Join(dir, "verdaccio-entry")
	s := New(Options{
		Paths:          registry.Paths{Root: filepath.Join(dir, ".verdaccio")},
		EntryResolvers: []registry.Resolver{func() (string, bool) { return entry, true }},
		Spawner:        sp,
		Logs:           logbuf.New(100),
		ProcessWriters: func(name string) (io.WriteCloser, io.WriteCloser, error) {
			require.Equal(t, "registry", name)
			return outW, errW, nil
		},
	})

	_, err := s.Start(4873, false)
	require.NoError(t, err)

	sp.events <- Event{Kind: EventStdout, Line: "http address listening"}
	sp.events <- Event{Kind: EventStderr, Line: "deprecation warning"}
	waitFor(t, func() bool {
		return strings.Contains(outW.contents(), "http address listening\n") &&
			strings.Contains(errW.contents(), "deprecation warning\n")
	})

	sp.events <- Event{Kind: EventExited, ExitCode: 0}
	close(sp.events)
	waitFor(t, func() bool { return outW.isClosed() && errW.isClosed() })
}

func TestNoFileWritersWhenUnconfigured(t *testing.T) {
	sp := newFakeSpawner()
	s := testSupervisor(t, sp)
	_, err := s.Start(4873, false)
	require.NoError(t, err)

	sp.events <- Event{Kind: EventStdout, Line: "plain ring capture"}
	waitFor(t, func() bool {
		for _, e := range s.Logs() {
			if e.Message == "plain ring capture" {
				return true
			}
		}
		return false
	})
}
