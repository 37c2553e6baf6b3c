// Package pool is the worker-process pool orchestrator. It keeps a warm set
// of preforked worker processes, dispatches payloads to them over a two-line
// handshake, classifies termination as success or failure, and exposes the
// outcomes as events, all driven by a single-threaded cooperative loop.
//
// Pool state is mutated only from loop callbacks and from the synchronous
// bodies of New, Dispatch, and Shutdown, never concurrently, so the pool
// itself takes no locks.
package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/mattjoyce/warmpool/internal/events"
	"github.com/mattjoyce/warmpool/internal/invoke"
	"github.com/mattjoyce/warmpool/internal/log"
	"github.com/mattjoyce/warmpool/internal/loop"
	"github.com/mattjoyce/warmpool/internal/payload"
	"github.com/mattjoyce/warmpool/internal/proc"
)

// Config is the pool construction surface.
type Config struct {
	// QueueName is the pool-level queue. Optional; a dispatch may supply its
	// own, but when both are set they must agree.
	QueueName string
	// OutputResults forwards worker output to the parent's streams, with the
	// shim's argument prompts suppressed.
	OutputResults bool
	// Async skips diagnostic capture. When false, the primary output stream
	// is buffered in memory and attached to Error outcomes.
	Async bool
	// PreforkSize is the warm idle-set size. Negative values clamp to zero.
	PreforkSize int
	// Command overrides the invocation builder when non-empty.
	Command string
	// Loop drives the pool. When nil the pool owns a freshly created loop;
	// there is no process-wide default instance.
	Loop *loop.Loop
}

// Pool owns the idle and running worker sets.
type Pool struct {
	cfg     Config
	lp      *loop.Loop
	spawner proc.Spawner
	store   payload.Store
	builder invoke.Builder
	hub     *events.Hub
	logger  *slog.Logger

	// workers is the arena of all non-terminal workers keyed by id; each
	// carries an explicit state field, so membership checks are O(1).
	workers   map[string]*Worker
	idleOrder []string // spawn order of idle workers; stale ids skipped on pop
	idleCount int
	running   int
	seq       int64

	// pendingKeys maps a dispatched worker to the payload key awaiting
	// removal, so a forced shutdown can sweep keys its workers will never
	// clean up naturally.
	pendingKeys map[string]string

	fwdStdout io.Writer
	fwdStderr io.Writer

	shutdown bool
}

// New builds a pool and eagerly warms the idle set to cfg.PreforkSize.
// Fails only if spawning a required idle worker fails.
func New(cfg Config, spawner proc.Spawner, store payload.Store, builder invoke.Builder, hub *events.Hub) (*Pool, error) {
	if cfg.PreforkSize < 0 {
		cfg.PreforkSize = 0
	}
	if store == nil {
		return nil, fmt.Errorf("pool: payload store is required")
	}
	if cfg.Command == "" && builder == nil {
		return nil, fmt.Errorf("pool: either Command or an invocation builder is required")
	}

	lp := cfg.Loop
	if lp == nil {
		lp = loop.New()
	}
	if spawner == nil {
		spawner = proc.NewExecSpawner(lp)
	}
	if hub == nil {
		hub = events.NewHub(128)
	}

	p := &Pool{
		cfg:         cfg,
		lp:          lp,
		spawner:     spawner,
		store:       store,
		builder:     builder,
		hub:         hub,
		logger:      log.WithComponent("pool"),
		workers:     make(map[string]*Worker),
		pendingKeys: make(map[string]string),
		fwdStdout:   os.Stdout,
		fwdStderr:   os.Stderr,
	}

	if err := p.ensureIdle(cfg.PreforkSize); err != nil {
		return nil, err
	}
	p.logger.Info("pool warmed", "prefork_size", cfg.PreforkSize)
	return p, nil
}

// Loop returns the loop driving this pool.
func (p *Pool) Loop() *loop.Loop {
	return p.lp
}

// Hub returns the pool's event hub.
func (p *Pool) Hub() *events.Hub {
	return p.hub
}

// Dispatch hands payload to a warm worker. It tops the idle set up to
// PreforkSize+1, claims the earliest-spawned idle worker, wires its output
// and outcome events, stores the payload record, and writes the two-line
// handshake before returning. The caller can therefore attach Exit, Success,
// and Error listeners on the returned worker with no race against a worker
// that exits immediately.
func (p *Pool) Dispatch(ctx context.Context, body []byte, queueName string) (*Worker, error) {
	// Resolved before any pool mutation so a bad call leaves the idle and
	// running sets untouched.
	qname, err := p.resolveQueueName(queueName)
	if err != nil {
		return nil, err
	}

	if err := p.ensureIdle(p.cfg.PreforkSize + 1); err != nil {
		return nil, err
	}

	w := p.popIdle()
	if w == nil {
		panic("pool: idle set empty after warming")
	}
	logger := p.logger.With("worker_id", w.id, "queue", qname)

	// The record is stored before any event wiring touches the worker so a
	// store failure can return the claimed worker to the idle set unchanged.
	rec := payload.NewRecord(body)
	key := rec.Key()
	if err := p.store.Set(ctx, key, rec); err != nil {
		p.requeueIdle(w)
		return nil, fmt.Errorf("store payload: %w", err)
	}

	if p.cfg.OutputResults {
		outFwd := newPromptWriter(p.fwdStdout)
		errFwd := newPromptWriter(p.fwdStderr)
		w.handle.OnStdout(func(data []byte) { _, _ = outFwd.Write(data) })
		w.handle.OnStderr(func(data []byte) { _, _ = errFwd.Write(data) })
		w.handle.OnExit(func(int) {
			_ = outFwd.Flush()
			_ = errFwd.Flush()
		})
	}

	if !p.cfg.Async {
		w.diag = &bytes.Buffer{}
		w.handle.OnStdout(func(data []byte) { w.diag.Write(data) })
	}

	w.queue = qname
	w.key = key
	p.pendingKeys[w.id] = key

	// One exit registration covers outcome classification, payload cleanup,
	// and removal from the running set.
	w.handle.OnExit(func(code int) { p.reap(w, code) })

	if err := p.writeHandshake(w, qname, key); err != nil {
		// The worker is unusable; count it running until its exit reaps it.
		w.state = StateRunning
		p.running++
		_ = w.handle.Terminate()
		return nil, err
	}

	w.state = StateRunning
	p.running++

	p.hub.Publish(events.TypeDispatched, map[string]any{
		"worker_id": w.id,
		"queue":     qname,
	})
	logger.Info("dispatched payload to worker", "payload_key", key, "payload_bytes", len(body))
	return w, nil
}

// RunLoop runs the cooperative loop until the application stops it. When
// callback is given it is scheduled for the very next tick, strictly after
// RunLoop takes control and never inline, so listener registrations made
// inside it are in place before the loop dispatches any I/O. The callback's
// result is returned once the loop stops.
func (p *Pool) RunLoop(callback func() any) any {
	var result any
	if callback != nil {
		p.lp.Schedule(func() {
			result = callback()
		})
	}
	p.lp.Run()
	return result
}

// Count returns the number of running workers.
func (p *Pool) Count() int {
	return p.running
}

// IdleCount returns the number of preforked workers awaiting dispatch.
func (p *Pool) IdleCount() int {
	return p.idleCount
}

// Shutdown forcefully terminates every idle and running worker and closes
// their input streams. It also sweeps payload keys its running workers would
// otherwise have cleaned up on natural exit. Idempotent; does not wait for
// terminations to complete.
func (p *Pool) Shutdown() {
	if p.shutdown {
		return
	}
	p.shutdown = true

	snapshot := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		snapshot = append(snapshot, w)
	}
	for _, w := range snapshot {
		if err := w.handle.Terminate(); err != nil {
			p.logger.Warn("terminate worker", "worker_id", w.id, "error", err)
		}
		if err := w.handle.CloseInput(); err != nil {
			p.logger.Warn("close worker input", "worker_id", w.id, "error", err)
		}
	}

	for id, key := range p.pendingKeys {
		delete(p.pendingKeys, id)
		if err := p.store.Remove(context.Background(), key); err != nil {
			p.logger.Warn("sweep payload key", "worker_id", id, "error", err)
		}
	}

	p.hub.Publish(events.TypeShutdown, map[string]any{"workers": len(snapshot)})
	p.logger.Info("pool shutdown requested", "workers", len(snapshot))
}

// resolveQueueName applies the queue-name contract: exactly one of the
// pool-level and call-level names must be set, or both must agree.
func (p *Pool) resolveQueueName(call string) (string, error) {
	poolName := p.cfg.QueueName
	switch {
	case poolName == "" && call == "":
		return "", &ConfigurationError{}
	case poolName != "" && call != "" && poolName != call:
		return "", &ConfigurationError{PoolQueue: poolName, CallQueue: call}
	case call != "":
		return call, nil
	default:
		return poolName, nil
	}
}

// ensureIdle prunes idle workers whose process already died, then spawns
// until the idle set holds target workers.
func (p *Pool) ensureIdle(target int) error {
	kept := p.idleOrder[:0]
	for _, id := range p.idleOrder {
		w, ok := p.workers[id]
		if !ok || w.state != StateIdle {
			continue
		}
		if !w.handle.Running() {
			w.state = StateTerminal
			delete(p.workers, id)
			p.idleCount--
			p.hub.Publish(events.TypePruned, map[string]any{"worker_id": id})
			p.logger.Warn("pruned dead idle worker", "worker_id", id)
			continue
		}
		kept = append(kept, id)
	}
	p.idleOrder = kept

	for p.idleCount < target {
		if err := p.spawnIdle(); err != nil {
			return err
		}
	}
	return nil
}

// spawnIdle starts one preforked worker and appends it to the idle set.
func (p *Pool) spawnIdle() error {
	command := p.cfg.Command
	if command == "" {
		built, err := p.builder.BuildWorkerCommand()
		if err != nil {
			return &SpawnError{Command: command, Err: err}
		}
		command = built
	}

	// Capture unless the pool is both silent and fully async.
	captureOutput := p.cfg.OutputResults || !p.cfg.Async

	h, err := p.spawner.Spawn(command, captureOutput)
	if err != nil {
		return &SpawnError{Command: command, Err: err}
	}

	p.seq++
	w := &Worker{
		id:     uuid.NewString(),
		seq:    p.seq,
		handle: h,
		state:  StateIdle,
	}
	p.workers[w.id] = w
	p.idleOrder = append(p.idleOrder, w.id)
	p.idleCount++
	p.logger.Debug("preforked worker", "worker_id", w.id)
	return nil
}

// popIdle removes and returns the earliest-spawned idle worker. FIFO order
// bounds how stale an idle worker can get.
func (p *Pool) popIdle() *Worker {
	for len(p.idleOrder) > 0 {
		id := p.idleOrder[0]
		p.idleOrder = p.idleOrder[1:]
		w, ok := p.workers[id]
		if !ok {
			continue
		}
		if w.state != StateIdle {
			panic(fmt.Sprintf("pool: worker %s in idle order with state %s", id, w.state))
		}
		p.idleCount--
		return w
	}
	return nil
}

// requeueIdle returns an unclaimed worker to the front of the idle set.
func (p *Pool) requeueIdle(w *Worker) {
	p.idleOrder = append([]string{w.id}, p.idleOrder...)
	p.idleCount++
}

// writeHandshake sends the two newline-terminated protocol lines: the
// resolved queue name, then the payload-store key. No further writes follow
// from this layer.
func (p *Pool) writeHandshake(w *Worker, queueName, key string) error {
	if err := w.handle.Write([]byte(queueName + "\n")); err != nil {
		return fmt.Errorf("write handshake queue line: %w", err)
	}
	if err := w.handle.Write([]byte(key + "\n")); err != nil {
		return fmt.Errorf("write handshake key line: %w", err)
	}
	return nil
}

// reap transitions a dispatched worker to Terminal: removes it from the
// running set, deletes its payload key, and derives its single outcome.
func (p *Pool) reap(w *Worker, code int) {
	if w.state == StateTerminal {
		panic("pool: worker " + w.id + " reached terminal state twice")
	}
	wasRunning := w.state == StateRunning
	w.state = StateTerminal
	if wasRunning {
		p.running--
	}
	delete(p.workers, w.id)

	if key, ok := p.pendingKeys[w.id]; ok {
		delete(p.pendingKeys, w.id)
		if err := p.store.Remove(context.Background(), key); err != nil {
			p.logger.Warn("remove payload key", "worker_id", w.id, "error", err)
		}
	}

	if code == 0 {
		p.hub.Publish(events.TypeSuccess, map[string]any{
			"worker_id": w.id,
			"queue":     w.queue,
		})
		p.logger.Info("worker succeeded", "worker_id", w.id)
	} else {
		p.hub.Publish(events.TypeError, map[string]any{
			"worker_id": w.id,
			"queue":     w.queue,
			"exit_code": code,
		})
		p.logger.Warn("worker failed", "worker_id", w.id, "exit_code", code)
	}

	w.classify(code)
}
