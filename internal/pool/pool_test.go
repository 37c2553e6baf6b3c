package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/warmpool/internal/log"
	"github.com/mattjoyce/warmpool/internal/loop"
	"github.com/mattjoyce/warmpool/internal/pool/mocks"
	"github.com/mattjoyce/warmpool/internal/proc"
	"github.com/mattjoyce/warmpool/internal/store"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeHandle is a scripted process handle: tests trigger output and exit
// synchronously, standing in for loop-delivered callbacks.
type fakeHandle struct {
	writes      bytes.Buffer
	stdoutFns   []func([]byte)
	stderrFns   []func([]byte)
	exitFns     []func(int)
	running     bool
	terminates  int
	inputCloses int
	writeErr    error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{running: true}
}

func (h *fakeHandle) Write(p []byte) error {
	if h.writeErr != nil {
		return h.writeErr
	}
	h.writes.Write(p)
	return nil
}

func (h *fakeHandle) CloseInput() error {
	h.inputCloses++
	return nil
}

func (h *fakeHandle) OnStdout(fn func([]byte)) { h.stdoutFns = append(h.stdoutFns, fn) }
func (h *fakeHandle) OnStderr(fn func([]byte)) { h.stderrFns = append(h.stderrFns, fn) }
func (h *fakeHandle) OnExit(fn func(int))      { h.exitFns = append(h.exitFns, fn) }

func (h *fakeHandle) Terminate() error {
	h.terminates++
	return nil
}

func (h *fakeHandle) Running() bool { return h.running }

func (h *fakeHandle) emitStdout(s string) {
	for _, fn := range h.stdoutFns {
		fn([]byte(s))
	}
}

func (h *fakeHandle) emitStderr(s string) {
	for _, fn := range h.stderrFns {
		fn([]byte(s))
	}
}

func (h *fakeHandle) exit(code int) {
	h.running = false
	for _, fn := range h.exitFns {
		fn(code)
	}
}

// fakeSpawner hands out fakeHandles in spawn order.
type fakeSpawner struct {
	handles  []*fakeHandle
	captures []bool
	err      error
}

func (s *fakeSpawner) Spawn(command string, captureOutput bool) (proc.Handle, error) {
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	s.captures = append(s.captures, captureOutput)
	return h, nil
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeSpawner, *store.MemoryStore) {
	t.Helper()
	if cfg.Command == "" {
		cfg.Command = "worker-shim"
	}
	spawner := &fakeSpawner{}
	st := store.NewMemoryStore()
	p, err := New(cfg, spawner, st, nil, nil)
	require.NoError(t, err)
	return p, spawner, st
}

func TestNewWarmsIdleSet(t *testing.T) {
	tests := []struct {
		name     string
		prefork  int
		wantIdle int
	}{
		{"zero", 0, 0},
		{"one", 1, 1},
		{"three", 3, 3},
		{"negative clamps to zero", -2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: tt.prefork})
			assert.Equal(t, tt.wantIdle, p.IdleCount())
			assert.Equal(t, 0, p.Count())
			assert.Len(t, spawner.handles, tt.wantIdle)
		})
	}
}

func TestDispatchMaintainsPreforkInvariant(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 2})

	w, err := p.Dispatch(context.Background(), []byte("payload"), "")
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, 2, p.IdleCount(), "idle set returns to prefork size")
	assert.Equal(t, 1, p.Count(), "running count increases by one")
	assert.Len(t, spawner.handles, 3, "warmed to prefork+1 before claiming")
}

func TestDispatchClaimsEarliestSpawnedWorker(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 2})

	_, err := p.Dispatch(context.Background(), []byte("payload"), "")
	require.NoError(t, err)

	// FIFO: the first preforked worker receives the handshake.
	assert.NotZero(t, spawner.handles[0].writes.Len())
	assert.Zero(t, spawner.handles[1].writes.Len())
	assert.Zero(t, spawner.handles[2].writes.Len())
}

func TestDispatchWritesTwoLineHandshake(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "orders", PreforkSize: 1})

	w, err := p.Dispatch(context.Background(), []byte("payload"), "")
	require.NoError(t, err)

	lines := bytes.Split(spawner.handles[0].writes.Bytes(), []byte("\n"))
	require.Len(t, lines, 3, "two newline-terminated lines")
	assert.Equal(t, "orders", string(lines[0]))
	assert.Len(t, string(lines[1]), 64, "payload store key")
	assert.Empty(t, lines[2])
	assert.Equal(t, "orders", w.Queue())
}

func TestDispatchQueueNameResolution(t *testing.T) {
	tests := []struct {
		name      string
		poolQueue string
		callQueue string
		want      string
		wantErr   bool
	}{
		{"pool level only", "a", "", "a", false},
		{"call level only", "", "b", "b", false},
		{"both equal", "a", "a", "a", false},
		{"both set and conflicting", "a", "b", "", true},
		{"neither set", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, spawner, _ := newTestPool(t, Config{QueueName: tt.poolQueue, PreforkSize: 1})
			spawned := len(spawner.handles)

			w, err := p.Dispatch(context.Background(), []byte("x"), tt.callQueue)
			if tt.wantErr {
				var confErr *ConfigurationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &confErr))
				// No mutation: counts and spawn calls are unchanged.
				assert.Equal(t, 1, p.IdleCount())
				assert.Equal(t, 0, p.Count())
				assert.Len(t, spawner.handles, spawned)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Queue())
		})
	}
}

func TestWorkerSuccessOutcome(t *testing.T) {
	// Scenario: preforkSize=1, outputResults=false, async=false.
	p, spawner, st := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	w, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	successes, failures := 0, 0
	w.OnSuccess(func() { successes++ })
	w.OnError(func(int, io.Reader) { failures++ })

	claimed := spawner.handles[0]
	claimed.emitStdout("ok")
	claimed.exit(0)

	assert.Equal(t, 1, successes, "exactly one Success event")
	assert.Equal(t, 0, failures, "zero Error events")
	assert.Equal(t, 1, p.IdleCount(), "idle count back to prefork size")
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, 0, st.Len(), "payload store key absent after exit")
}

func TestWorkerErrorOutcomeWithDiagnostic(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	w, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	var gotCode int
	var gotDiag string
	failures := 0
	w.OnSuccess(func() { t.Fatal("unexpected Success event") })
	w.OnError(func(code int, diagnostic io.Reader) {
		failures++
		gotCode = code
		data, readErr := io.ReadAll(diagnostic)
		require.NoError(t, readErr)
		gotDiag = string(data)
	})

	claimed := spawner.handles[0]
	claimed.emitStdout("boom")
	claimed.exit(2)

	assert.Equal(t, 1, failures, "exactly one Error event")
	assert.Equal(t, 2, gotCode)
	assert.Contains(t, gotDiag, "boom")
}

func TestErrorCarriesExitCode(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	w, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	gotCode := -1
	w.OnError(func(code int, _ io.Reader) { gotCode = code })
	spawner.handles[0].exit(7)

	assert.Equal(t, 7, gotCode)
}

func TestAsyncModeSkipsDiagnosticCapture(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1, Async: true, OutputResults: true})

	p.fwdStdout = io.Discard
	p.fwdStderr = io.Discard

	w, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	var gotDiag string
	w.OnError(func(_ int, diagnostic io.Reader) {
		data, _ := io.ReadAll(diagnostic)
		gotDiag = string(data)
	})

	claimed := spawner.handles[0]
	claimed.emitStdout("boom")
	claimed.exit(1)

	assert.Empty(t, gotDiag, "async mode carries no diagnostic")
}

func TestExitRemovesWorkerFromAllSets(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	w, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	exits := 0
	w.OnExit(func(int) { exits++ })

	claimed := spawner.handles[0]
	claimed.exit(0)

	assert.Equal(t, 1, exits, "exit fires exactly once")
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, 1, p.IdleCount())
	_, present := p.workers[w.ID()]
	assert.False(t, present, "terminal worker dropped from the arena")
}

func TestDoubleExitPanics(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	claimed := spawner.handles[0]
	claimed.exit(0)
	assert.Panics(t, func() { claimed.exit(0) }, "terminal twice is a programming error")
}

func TestPayloadKeyRemovedExactlyOnceAfterExit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	mockStore.EXPECT().Remove(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	spawner := &fakeSpawner{}
	p, err := New(Config{QueueName: "q", PreforkSize: 1, Command: "worker-shim"}, spawner, mockStore, nil, nil)
	require.NoError(t, err)

	_, err = p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	spawner.handles[0].exit(0)
}

func TestDispatchStoreFailureReturnsWorkerToIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("store down")).Times(1)

	spawner := &fakeSpawner{}
	p, err := New(Config{QueueName: "q", PreforkSize: 1, Command: "worker-shim"}, spawner, mockStore, nil, nil)
	require.NoError(t, err)

	_, err = p.Dispatch(context.Background(), []byte("P"), "")
	require.Error(t, err)
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, 2, p.IdleCount(), "claimed worker returned to the warmed idle set")
	assert.Zero(t, spawner.handles[0].writes.Len(), "no handshake reached the worker")
}

func TestNewPropagatesSpawnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSpawner := mocks.NewMockSpawner(ctrl)
	mockSpawner.EXPECT().Spawn("worker-shim", true).Return(nil, fmt.Errorf("fork failed")).Times(1)

	_, err := New(Config{QueueName: "q", PreforkSize: 1, Command: "worker-shim"}, mockSpawner, store.NewMemoryStore(), nil, nil)
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "worker-shim", spawnErr.Command)
}

func TestDispatchPropagatesSpawnError(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	spawner.err = fmt.Errorf("fork failed")
	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.Error(t, err)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, 1, p.IdleCount())
	assert.Equal(t, 0, p.Count())
}

func TestDeadIdleWorkerPrunedBeforeDispatch(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1})

	// The preforked worker dies while idle.
	spawner.handles[0].running = false

	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	assert.Len(t, spawner.handles, 3, "dead idle replaced plus warmed to prefork+1")
	assert.Zero(t, spawner.handles[0].writes.Len(), "dead worker never claimed")
	assert.NotZero(t, spawner.handles[1].writes.Len(), "replacement claimed in spawn order")
	assert.Equal(t, 1, p.IdleCount())
}

func TestCaptureOutputRequestedPerMode(t *testing.T) {
	tests := []struct {
		name          string
		outputResults bool
		async         bool
		wantCapture   bool
	}{
		{"silent and fully async", false, true, false},
		{"forwarding output", true, true, true},
		{"synchronous diagnostics", false, false, true},
		{"forwarding and synchronous", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, spawner, _ := newTestPool(t, Config{
				QueueName:     "q",
				PreforkSize:   1,
				OutputResults: tt.outputResults,
				Async:         tt.async,
			})
			require.Len(t, spawner.captures, 1)
			assert.Equal(t, tt.wantCapture, spawner.captures[0])
		})
	}
}

func TestOutputForwardingFiltersPrompts(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1, OutputResults: true, Async: true})

	var fwdOut, fwdErr bytes.Buffer
	p.fwdStdout = &fwdOut
	p.fwdStderr = &fwdErr

	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	claimed := spawner.handles[0]
	claimed.emitStdout("queue: ")
	claimed.emitStdout("payload key: real output\n")
	claimed.emitStderr("warning: slow\n")
	claimed.exit(0)

	assert.Equal(t, "real output\n", fwdOut.String(), "shim prompts suppressed")
	assert.Equal(t, "warning: slow\n", fwdErr.String())
}

func TestOutputForwardingFlushesCarryOnExit(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1, OutputResults: true, Async: true})

	var fwdOut bytes.Buffer
	p.fwdStdout = &fwdOut
	p.fwdStderr = io.Discard

	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	claimed := spawner.handles[0]
	// Looks like the start of a prompt but never completes; exit must flush it.
	claimed.emitStdout("queue")
	claimed.exit(0)

	assert.Equal(t, "queue", fwdOut.String())
}

func TestShutdownTerminatesEveryWorkerOnce(t *testing.T) {
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 2})

	_, err := p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)
	require.Len(t, spawner.handles, 3)

	p.Shutdown()
	for i, h := range spawner.handles {
		assert.Equal(t, 1, h.terminates, "handle %d terminated once", i)
		assert.Equal(t, 1, h.inputCloses, "handle %d input closed once", i)
	}

	// Idempotent: a second call issues nothing.
	p.Shutdown()
	for i, h := range spawner.handles {
		assert.Equal(t, 1, h.terminates, "handle %d not terminated again", i)
		assert.Equal(t, 1, h.inputCloses, "handle %d input not closed again", i)
	}
}

func TestShutdownWithZeroWorkers(t *testing.T) {
	p, _, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 0})
	p.Shutdown()
	p.Shutdown()
}

func TestShutdownSweepsPendingPayloadKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockStore.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	mockStore.EXPECT().Remove(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	spawner := &fakeSpawner{}
	p, err := New(Config{QueueName: "q", PreforkSize: 1, Command: "worker-shim"}, spawner, mockStore, nil, nil)
	require.NoError(t, err)

	_, err = p.Dispatch(context.Background(), []byte("P"), "")
	require.NoError(t, err)

	p.Shutdown()

	// The late exit must not remove the key a second time.
	spawner.handles[0].exit(1)
}

func TestRunLoopReturnsCallbackResult(t *testing.T) {
	lp := loop.New()
	p, spawner, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 1, Loop: lp})

	result := p.RunLoop(func() any {
		w, err := p.Dispatch(context.Background(), []byte("P"), "")
		require.NoError(t, err)
		w.OnSuccess(func() { lp.Stop() })
		spawner.handles[0].exit(0)
		return "dispatched"
	})

	assert.Equal(t, "dispatched", result)
	assert.Equal(t, 0, p.Count())
}

func TestRunLoopWithoutCallback(t *testing.T) {
	lp := loop.New()
	p, _, _ := newTestPool(t, Config{QueueName: "q", PreforkSize: 0, Loop: lp})

	lp.Schedule(lp.Stop)
	result := p.RunLoop(nil)
	assert.Nil(t, result)
}

func TestNewRequiresStoreAndCommandSource(t *testing.T) {
	_, err := New(Config{QueueName: "q", Command: "worker-shim"}, &fakeSpawner{}, nil, nil, nil)
	assert.Error(t, err, "store is required")

	_, err = New(Config{QueueName: "q"}, &fakeSpawner{}, store.NewMemoryStore(), nil, nil)
	assert.Error(t, err, "command or builder is required")
}
