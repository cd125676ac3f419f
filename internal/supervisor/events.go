package supervisor

// EventKind distinguishes the three disjoint things a supervised process
// can tell us: a line of output, a runtime error, or its own death.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventError
	EventExited
)

// Event is a single notification from the supervised process. Events are
// delivered strictly in emission order over one channel per spawn.
type Event struct {
	Kind     EventKind
	Line     string // stdout/stderr payload
	Err      error  // runtime error detail
	ExitCode int    // exit status; -1 when unknown
}
