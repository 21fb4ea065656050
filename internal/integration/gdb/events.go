package gdb

import (
	"sync"

	"github.com/dshills/asmforge/internal/integration/gdb/mi"
)

// Event is a notification from a running session. The concrete types
// are StoppedEvent, RunningEvent, OutputEvent and ExitedEvent.
type Event interface {
	isEvent()
}

// StoppedEvent is emitted when the inferior halts.
type StoppedEvent struct {
	Reason       string
	ThreadID     int
	Frame        *StackFrame
	BreakpointID string
	Record       *mi.Record
}

// RunningEvent is emitted when the inferior resumes.
type RunningEvent struct {
	ThreadID string
}

// OutputCategory labels the source of an OutputEvent.
type OutputCategory string

const (
	// OutputConsole is GDB console stream text, passed through verbatim.
	OutputConsole OutputCategory = "console"
	// OutputDebugger is any other MI record, prefixed with "[GDB] ".
	OutputDebugger OutputCategory = "gdb"
	// OutputStderr is GDB's standard error, prefixed with "[GDB Error] ".
	OutputStderr OutputCategory = "stderr"
)

// OutputEvent carries text produced by the debugger.
type OutputEvent struct {
	Category OutputCategory
	Text     string
}

// ExitedEvent is the last event of a session. Code is the debugger's
// exit code, or -1 when it was killed.
type ExitedEvent struct {
	Code int
}

func (StoppedEvent) isEvent() {}
func (RunningEvent) isEvent() {}
func (OutputEvent) isEvent()  {}
func (ExitedEvent) isEvent()  {}

// eventQueue is an unbounded FIFO in front of a channel, so producers
// never block on slow consumers. Events pushed before start are held
// until the delivery goroutine runs.
type eventQueue struct {
	mu      sync.Mutex
	items   []Event
	closed  bool
	running bool
	signal  chan struct{}
	out     chan Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
	}
}

// start launches the delivery goroutine. It exits once the queue is
// closed and drained.
func (q *eventQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	go q.run()
}

func (q *eventQueue) started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.notify()
}

// close delivers the queued events and then closes the channel.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.out)
	for range q.signal {
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			e := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()

			q.out <- e
		}
	}
}
