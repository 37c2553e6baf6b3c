// Package proc abstracts one spawned worker process: its input stream, its
// two output streams, and its exit notification, all delivered through the
// cooperative loop.
package proc

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattjoyce/warmpool/internal/log"
	"github.com/mattjoyce/warmpool/internal/loop"
)

//go:generate mockgen -destination=../pool/mocks/mock_spawner.go -package=mocks github.com/mattjoyce/warmpool/internal/proc Spawner,Handle

// Spawner starts worker processes. captureOutput decides, once per spawn,
// whether the two output streams are readable pipes or discarded to a null
// sink.
type Spawner interface {
	Spawn(command string, captureOutput bool) (Handle, error)
}

// Handle is one spawned process. Output and exit callbacks are invoked on the
// loop goroutine; Exit fires exactly once, after all output data buffered at
// the OS boundary has been delivered to registered subscribers.
type Handle interface {
	// Write sends bytes to the process input stream.
	Write(p []byte) error
	// CloseInput closes the input stream. Idempotent.
	CloseInput() error
	// OnStdout registers a subscriber for primary output data. Data that
	// arrived before the first subscriber is replayed to it on the next tick.
	OnStdout(fn func(data []byte))
	// OnStderr registers a subscriber for secondary output data.
	OnStderr(fn func(data []byte))
	// OnExit registers a subscriber for process termination. A subscriber
	// registered after exit is delivered the stored code on the next tick.
	OnExit(fn func(code int))
	// Terminate forcefully kills the process. There is no graceful variant.
	Terminate() error
	// Running reports whether the process has not yet exited.
	Running() bool
}

// ExecSpawner spawns real processes via /bin/sh -c.
type ExecSpawner struct {
	lp     *loop.Loop
	logger *slog.Logger
}

// NewExecSpawner returns a spawner that delivers process events onto lp.
func NewExecSpawner(lp *loop.Loop) *ExecSpawner {
	return &ExecSpawner{
		lp:     lp,
		logger: log.WithComponent("proc"),
	}
}

// Spawn starts command. The input stream is always a pipe; the output streams
// are pipes only when captureOutput is true, otherwise the OS discards them.
func (s *ExecSpawner) Spawn(command string, captureOutput bool) (Handle, error) {
	if command == "" {
		return nil, fmt.Errorf("spawn: command is empty")
	}

	cmd := exec.Command("/bin/sh", "-c", command)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr io.ReadCloser
	if captureOutput {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}
	}
	// With nil Stdout/Stderr, os/exec connects the process to the null device.

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &execHandle{
		lp:      s.lp,
		cmd:     cmd,
		stdin:   stdin,
		logger:  s.logger.With("pid", cmd.Process.Pid),
		running: true,
	}
	h.logger.Debug("spawned worker process", "capture_output", captureOutput)

	var readers sync.WaitGroup
	if stdout != nil {
		readers.Add(1)
		go h.readStream(stdout, h.deliverStdout, &readers)
	}
	if stderr != nil {
		readers.Add(1)
		go h.readStream(stderr, h.deliverStderr, &readers)
	}

	go h.await(&readers)
	return h, nil
}

type execHandle struct {
	lp     *loop.Loop
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	mu            sync.Mutex
	stdoutFns     []func([]byte)
	stderrFns     []func([]byte)
	exitFns       []func(int)
	stdoutPending [][]byte
	stderrPending [][]byte
	running       bool
	exited        bool
	exitCode      int
	inputClosed   bool
}

func (h *execHandle) Write(p []byte) error {
	h.mu.Lock()
	closed := h.inputClosed
	h.mu.Unlock()
	if closed {
		return fmt.Errorf("write to worker: input stream closed")
	}
	if _, err := h.stdin.Write(p); err != nil {
		return fmt.Errorf("write to worker: %w", err)
	}
	return nil
}

func (h *execHandle) CloseInput() error {
	h.mu.Lock()
	if h.inputClosed {
		h.mu.Unlock()
		return nil
	}
	h.inputClosed = true
	h.mu.Unlock()
	return h.stdin.Close()
}

func (h *execHandle) OnStdout(fn func([]byte)) {
	h.mu.Lock()
	h.stdoutFns = append(h.stdoutFns, fn)
	pending := h.stdoutPending
	h.stdoutPending = nil
	h.mu.Unlock()
	h.replay(pending, fn)
}

func (h *execHandle) OnStderr(fn func([]byte)) {
	h.mu.Lock()
	h.stderrFns = append(h.stderrFns, fn)
	pending := h.stderrPending
	h.stderrPending = nil
	h.mu.Unlock()
	h.replay(pending, fn)
}

func (h *execHandle) OnExit(fn func(int)) {
	h.mu.Lock()
	if h.exited {
		code := h.exitCode
		h.mu.Unlock()
		// Late registration: deliver the stored code on the next tick so the
		// subscriber never misses the exit of a fast worker.
		h.lp.Schedule(func() { fn(code) })
		return
	}
	h.exitFns = append(h.exitFns, fn)
	h.mu.Unlock()
}

func (h *execHandle) Terminate() error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running || h.cmd.Process == nil {
		return nil
	}
	h.logger.Debug("terminating worker process")
	return h.cmd.Process.Kill()
}

func (h *execHandle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// readStream pumps one output pipe, posting each chunk onto the loop.
func (h *execHandle) readStream(r io.Reader, deliver func([]byte), readers *sync.WaitGroup) {
	defer readers.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.lp.Post(func() { deliver(chunk) })
		}
		if err != nil {
			return
		}
	}
}

// await waits for the output readers to drain and the process to exit, then
// posts the exit notification. Posting after the readers finish guarantees
// every output chunk is queued ahead of the exit callback.
func (h *execHandle) await(readers *sync.WaitGroup) {
	readers.Wait()

	code := 0
	if err := h.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			h.logger.Error("wait for worker process", "error", err)
			code = -1
		}
	}

	h.lp.Post(func() { h.deliverExit(code) })
}

func (h *execHandle) deliverStdout(data []byte) {
	h.mu.Lock()
	fns := h.stdoutFns
	if len(fns) == 0 {
		h.stdoutPending = append(h.stdoutPending, data)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (h *execHandle) deliverStderr(data []byte) {
	h.mu.Lock()
	fns := h.stderrFns
	if len(fns) == 0 {
		h.stderrPending = append(h.stderrPending, data)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (h *execHandle) deliverExit(code int) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		panic("proc: exit delivered twice for one handle")
	}
	h.exited = true
	h.running = false
	h.exitCode = code
	fns := h.exitFns
	h.exitFns = nil
	h.mu.Unlock()

	h.logger.Debug("worker process exited", "exit_code", code)
	for _, fn := range fns {
		fn(code)
	}
}

func (h *execHandle) replay(pending [][]byte, fn func([]byte)) {
	if len(pending) == 0 {
		return
	}
	h.lp.Schedule(func() {
		for _, chunk := range pending {
			fn(chunk)
		}
	})
}
