package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"sync"
)

// LaunchSpec describes one registry launch: the script interpreter, the
// entry script, and the flags Verdaccio expects.
type LaunchSpec struct {
	Runtime    string // script interpreter, normally "node"
	Entry      string // resolved path of the registry entry script
	ConfigPath string
	ListenHost string
	Port       uint16
	Env        []string // child environment in "K=V" form; nil inherits the parent's
}

// ListenAddr combines host and port into the --listen argument.
func (s LaunchSpec) ListenAddr() string {
	return net.JoinHostPort(s.ListenHost, strconv.Itoa(int(s.Port)))
}

// Args returns the interpreter arguments for this launch.
func (s LaunchSpec) Args() []string {
	return []string{s.Entry, "--config", s.ConfigPath, "--listen", s.ListenAddr()}
}

// ListenHost maps the LAN toggle to a bind address: loopback-only by
// default, all interfaces when LAN access is requested.
func ListenHost(allowLAN bool) string {
	if allowLAN {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// Handle is the supervisor's grip on a live child process.
type Handle interface {
	PID() int
	Kill() error
}

// Spawner launches a process and exposes it as an event channel instead of
// raw pipes. The channel carries output lines and errors in arrival order;
// an EventExited is always the final event before the channel closes.
// Tests substitute an in-memory implementation.
type Spawner interface {
	Spawn(spec LaunchSpec) (Handle, <-chan Event, error)
}

// ExecSpawner runs the launch spec with os/exec.
type ExecSpawner struct{}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

func (h *execHandle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

// Spawn starts the process and wires its combined output into one event
// channel. Spawn returns as soon as the OS accepts the process; readiness
// of the service behind it is the caller's concern.
func (s ExecSpawner) Spawn(spec LaunchSpec) (Handle, <-chan Event, error) {
	// ok: interpreter and entry are resolved by the supervisor, not user input
	// #nosec G204
	cmd := exec.Command(spec.Runtime, spec.Args()...)
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	events := make(chan Event, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(stdout, EventStdout, events, &wg)
	go pumpLines(stderr, EventStderr, events, &wg)
	go func() {
		// Both pipes must drain before Wait reaps the process, and the
		// exit event must be the last one on the channel.
		wg.Wait()
		events <- Event{Kind: EventExited, ExitCode: exitCode(cmd.Wait())}
		close(events)
	}()
	return &execHandle{cmd: cmd}, events, nil
}

func pumpLines(r io.Reader, kind EventKind, events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		events <- Event{Kind: kind, Line: sc.Text()}
	}
	if err := sc.Err(); err != nil {
		events <- Event{Kind: EventError, Err: err}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
