package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/npmint/verdadesk/internal/env"
	"github.com/npmint/verdadesk/internal/logbuf"
	"github.com/npmint/verdadesk/internal/metrics"
	"github.com/npmint/verdadesk/internal/registry"
)

// State is the supervisor's lifecycle position.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ErrAlreadyRunning rejects a start while a registry instance is live or
// still being launched. There is no queueing of start requests.
var ErrAlreadyRunning = errors.New("registry is already running")

// ErrStartAborted reports a start whose launch was overtaken by a Stop
// before the process handle could be committed. The freshly spawned
// process is killed; nothing is left running.
var ErrStartAborted = errors.New("registry stopped during launch")

// DefaultPort is Verdaccio's conventional listen port.
const DefaultPort uint16 = 4873

// Status is a point-in-time view of the supervised registry. Port and PID
// are last-known values: Port survives a stop for display purposes, PID is
// zero whenever no process handle is held.
type Status struct {
	Running     bool   `json:"running"`
	Port        uint16 `json:"port"`
	PID         int    `json:"pid,omitempty"`
	StoragePath string `json:"storage_path"`
	ConfigPath  string `json:"config_path"`
}

// Options configures a Supervisor. Zero values get sensible defaults;
// Spawner and EntryResolvers are injectable so tests can run without a
// real node runtime or filesystem layout.
type Options struct {
	Paths          registry.Paths
	Runtime        string // script interpreter, default "node"
	EntryResolvers []registry.Resolver
	Spawner        Spawner
	Env            map[string]string // extra environment for the child, on top of the daemon's
	Logs           *logbuf.Ring
	Logger         *slog.Logger

	// ProcessWriters supplies stdout/stderr file writers for one launch,
	// typically logger.Config.ProcessWriters. Either writer may be nil;
	// writers are closed when the process exits. Optional.
	ProcessWriters func(name string) (io.WriteCloser, io.WriteCloser, error)

	// Lifecycle hooks for audit persistence. Optional.
	RecordStart func(st Status)
	RecordStop  func(st Status, err error)
	RecordExit  func(st Status, exitCode int)
}

// Supervisor owns the single supervised registry process: it launches it,
// consumes its event stream on a background goroutine, and presents a
// race-free status view. All mutable record fields (handle, pid, port,
// state) are guarded by one mutex and always change together.
type Supervisor struct {
	mu       sync.Mutex
	state    State
	handle   Handle
	pid      int
	port     uint16
	gen      uint64 // spawn generation; stale consumers must not touch the record
	startGen uint64 // bumped on every Starting entry; an in-flight launch may only commit its own generation

	paths     registry.Paths
	runtime   string
	resolvers []registry.Resolver
	spawner     Spawner
	launchEnv   *env.Env
	logs        *logbuf.Ring
	logger      *slog.Logger
	procWriters func(name string) (io.WriteCloser, io.WriteCloser, error)

	recordStart func(Status)
	recordStop  func(Status, error)
	recordExit  func(Status, int)
}

// New builds a Supervisor in the Stopped state.
func New(opts Options) *Supervisor {
	if opts.Paths.Root == "" {
		opts.Paths = registry.DefaultPaths()
	}
	if opts.Runtime == "" {
		opts.Runtime = "node"
	}
	if opts.EntryResolvers == nil {
		opts.EntryResolvers = registry.EntryResolvers("")
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.Logs == nil {
		opts.Logs = logbuf.New(logbuf.DefaultCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		state:       StateStopped,
		port:        DefaultPort,
		paths:       opts.Paths,
		runtime:     opts.Runtime,
		resolvers:   opts.EntryResolvers,
		spawner:     opts.Spawner,
		launchEnv:   launchEnv(opts.Env),
		logs:        opts.Logs,
		logger:      opts.Logger,
		procWriters: opts.ProcessWriters,
		recordStart: opts.RecordStart,
		recordStop:  opts.RecordStop,
		recordExit:  opts.RecordExit,
	}
}

// launchEnv builds the child environment composer, or nil when no
// overrides are configured and the child should inherit as-is.
func launchEnv(overrides map[string]string) *env.Env {
	if len(overrides) == 0 {
		return nil
	}
	return env.FromMap(overrides)
}

// Paths exposes the managed registry layout.
func (s *Supervisor) Paths() registry.Paths { return s.paths }

// Start launches the registry on the given port. It succeeds as soon as
// the OS accepts the spawn; callers needing readiness poll Status or Logs.
// Any failure leaves the supervisor Stopped and retryable.
func (s *Supervisor) Start(port uint16, allowLAN bool) (Status, error) {
	if port == 0 {
		port = DefaultPort
	}
	if err := s.paths.EnsureLayout(); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return Status{}, ErrAlreadyRunning
	}
	s.state = StateStarting
	s.startGen++
	g := s.startGen
	s.mu.Unlock()

	st, err := s.launch(port, allowLAN, g)
	if err != nil {
		s.mu.Lock()
		// Reset only if this start still owns the record; a concurrent
		// Stop or a newer Start may have moved it on already.
		if s.startGen == g && s.state == StateStarting {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return Status{}, err
	}
	return st, nil
}

func (s *Supervisor) launch(port uint16, allowLAN bool, g uint64) (Status, error) {
	entry, err := registry.ResolveEntry(s.resolvers)
	if err != nil {
		s.logs.Append(logbuf.LevelError, err.Error())
		return Status{}, err
	}

	host := ListenHost(allowLAN)
	spec := LaunchSpec{
		Runtime:    s.runtime,
		Entry:      entry,
		ConfigPath: s.paths.ConfigPath(),
		ListenHost: host,
		Port:       port,
	}
	if s.launchEnv != nil {
		spec.Env = s.launchEnv.Merge(nil)
	}

	s.logs.Append(logbuf.LevelInfo, "starting registry...")
	s.logs.Append(logbuf.LevelInfo, "entry: "+entry)
	s.logs.Append(logbuf.LevelInfo, "config: "+spec.ConfigPath)
	s.logs.Append(logbuf.LevelInfo, "listen: "+spec.ListenAddr())

	handle, events, err := s.spawner.Spawn(spec)
	if err != nil {
		msg := fmt.Sprintf("failed to start registry: %v", err)
		s.logs.Append(logbuf.LevelError, msg)
		return Status{}, fmt.Errorf("spawn registry: %w", err)
	}

	pid := handle.PID()
	s.mu.Lock()
	if s.state != StateStarting || s.startGen != g {
		// A Stop (or a Stop plus a newer Start) won the race while the
		// spawn was in flight. This launch must not commit: kill the
		// fresh process and drain its events so the pumps can finish.
		s.mu.Unlock()
		if err := handle.Kill(); err != nil {
			s.logger.Warn("aborted launch terminate failed", "pid", pid, "error", err)
		}
		go func() {
			for range events {
			}
		}()
		s.logs.Append(logbuf.LevelInfo, "registry launch aborted, stop requested during startup")
		return Status{}, ErrStartAborted
	}
	s.handle = handle
	s.pid = pid
	s.port = port
	s.state = StateRunning
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.logs.Append(logbuf.LevelInfo, fmt.Sprintf("registry process started, pid: %d", pid))
	s.logger.Info("registry started", "pid", pid, "listen", spec.ListenAddr())
	metrics.IncStart()
	metrics.SetRunning(true)

	var outW, errW io.WriteCloser
	if s.procWriters != nil {
		var werr error
		outW, errW, werr = s.procWriters("registry")
		if werr != nil {
			s.logger.Warn("registry file logs unavailable", "error", werr)
		}
	}

	go s.consume(events, gen, outW, errW)

	st := s.Status()
	if s.recordStart != nil {
		s.recordStart(st)
	}
	return st, nil
}

// consume drains one spawn's event channel in arrival order. Output lines
// feed the log ring and the optional file writers; the exit event flips
// the record back to Stopped in a single critical section and ends the
// goroutine, even if the channel has more buffered events behind it.
func (s *Supervisor) consume(events <-chan Event, gen uint64, outW, errW io.WriteCloser) {
	defer func() {
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
	}()
	for ev := range events {
		switch ev.Kind {
		case EventStdout:
			s.logs.Append(logbuf.LevelStdout, ev.Line)
			if outW != nil {
				_, _ = io.WriteString(outW, ev.Line+"\n")
			}
			metrics.IncLogLine("stdout")
		case EventStderr:
			s.logs.Append(logbuf.LevelStderr, ev.Line)
			if errW != nil {
				_, _ = io.WriteString(errW, ev.Line+"\n")
			}
			metrics.IncLogLine("stderr")
		case EventError:
			s.logs.Append(logbuf.LevelError, fmt.Sprintf("process error: %v", ev.Err))
			metrics.IncLogLine("error")
		case EventExited:
			s.logs.Append(logbuf.LevelInfo, fmt.Sprintf("registry process exited, code: %d", ev.ExitCode))
			s.mu.Lock()
			stale := s.gen != gen
			if !stale {
				s.state = StateStopped
				s.handle = nil
				s.pid = 0
			}
			s.mu.Unlock()
			if !stale {
				s.logger.Info("registry exited", "code", ev.ExitCode)
				metrics.IncExit()
				metrics.SetRunning(false)
				if s.recordExit != nil {
					s.recordExit(s.Status(), ev.ExitCode)
				}
			}
			return
		}
	}
}

// Stop terminates the registry. It is an idempotent no-op when nothing is
// running. The terminate signal is best-effort: bookkeeping is cleared
// unconditionally so a dead-but-unsignalable process can never wedge the
// supervisor, and any kill failure is surfaced for diagnostics only.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	handle := s.handle
	wasRunning := s.state == StateRunning || s.state == StateStarting
	s.handle = nil
	s.pid = 0
	s.state = StateStopped
	s.mu.Unlock()

	if !wasRunning && handle == nil {
		return nil
	}

	s.logs.Append(logbuf.LevelInfo, "stopping registry...")
	var killErr error
	if handle != nil {
		killErr = handle.Kill()
	}
	metrics.IncStop()
	metrics.SetRunning(false)
	if s.recordStop != nil {
		s.recordStop(s.Status(), killErr)
	}
	if killErr != nil {
		msg := fmt.Sprintf("failed to terminate registry: %v", killErr)
		s.logs.Append(logbuf.LevelError, msg)
		s.logger.Warn("registry terminate failed", "error", killErr)
		return fmt.Errorf("terminate registry: %w", killErr)
	}
	s.logs.Append(logbuf.LevelInfo, "registry stopped")
	s.logger.Info("registry stopped")
	return nil
}

// Status returns a consistent snapshot without mutating anything. Safe to
// call concurrently with Start, Stop and the event consumer.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		Running: s.state == StateRunning,
		Port:    s.port,
		PID:     s.pid,
	}
	s.mu.Unlock()
	st.StoragePath = s.paths.StoragePath()
	st.ConfigPath = s.paths.ConfigPath()
	return st
}

// State reports the lifecycle state for diagnostics.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Logs returns the buffered log entries, oldest first.
func (s *Supervisor) Logs() []logbuf.Entry { return s.logs.Snapshot() }

// ClearLogs empties the log buffer.
func (s *Supervisor) ClearLogs() { s.logs.Clear() }
