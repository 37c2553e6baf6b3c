package pool

import (
	"bytes"
	"io"
	"strings"

	"github.com/mattjoyce/warmpool/internal/proc"
)

// State is a worker's position in its lifecycle. Each worker serves exactly
// one job: Idle until a dispatch claims it, Running until its process
// terminates, then Terminal. There is no transition back to Idle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Worker is the handle a dispatch returns: one spawned worker process plus
// its outcome events. Success and Error are derived strictly from the exit
// code and fire immediately after Exit; consumers should listen for them
// rather than re-inspect codes.
type Worker struct {
	id     string
	seq    int64
	handle proc.Handle
	state  State
	queue  string
	key    string

	// diag buffers the primary output stream in synchronous mode.
	diag *bytes.Buffer

	successFns []func()
	errorFns   []func(code int, diagnostic io.Reader)

	outcomeDone bool
}

// ID returns the worker's pool-assigned identifier.
func (w *Worker) ID() string {
	return w.id
}

// Queue returns the resolved queue name the worker was dispatched for.
func (w *Worker) Queue() string {
	return w.queue
}

// OnSuccess registers a subscriber for a zero exit code.
func (w *Worker) OnSuccess(fn func()) {
	w.successFns = append(w.successFns, fn)
}

// OnError registers a subscriber for a nonzero exit code. The diagnostic
// reader carries the buffered primary output in synchronous mode and is empty
// otherwise. With no subscriber registered the error is dropped; that is the
// documented contract, failures are reported, not retried.
func (w *Worker) OnError(fn func(code int, diagnostic io.Reader)) {
	w.errorFns = append(w.errorFns, fn)
}

// OnExit registers a subscriber for the raw exit notification.
func (w *Worker) OnExit(fn func(code int)) {
	w.handle.OnExit(fn)
}

// Running reports whether the worker process has not yet terminated.
func (w *Worker) Running() bool {
	return w.handle.Running()
}

// Terminate forcefully kills the worker process.
func (w *Worker) Terminate() error {
	return w.handle.Terminate()
}

// Write sends bytes to the worker's input stream.
func (w *Worker) Write(p []byte) error {
	return w.handle.Write(p)
}

// classify derives the worker's single outcome from its exit code. Called
// exactly once, when the worker reaches Terminal.
func (w *Worker) classify(code int) {
	if w.outcomeDone {
		panic("pool: outcome classified twice for worker " + w.id)
	}
	w.outcomeDone = true

	if code == 0 {
		for _, fn := range w.successFns {
			fn()
		}
		return
	}

	for _, fn := range w.errorFns {
		fn(code, w.diagnosticReader())
	}
}

// diagnosticReader rewinds the diagnostic buffer. Only the primary output
// stream is captured; the worker's structured report goes there.
func (w *Worker) diagnosticReader() io.Reader {
	if w.diag == nil {
		return strings.NewReader("")
	}
	return bytes.NewReader(w.diag.Bytes())
}
