package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/wol-power-agent/internal/services/supervisor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSupervisor struct {
	mu          sync.Mutex
	connects    int
	connectFunc func(ctx context.Context, attempt int) (bool, error)
	runFunc     func(ctx context.Context) error
}

func (m *mockSupervisor) Connect(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.connects++
	attempt := m.connects
	m.mu.Unlock()
	if m.connectFunc != nil {
		return m.connectFunc(ctx, attempt)
	}
	return true, nil
}

func (m *mockSupervisor) Run(ctx context.Context) error {
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *mockSupervisor) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// blockingRunner runs until ctx is done.
type blockingRunner struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started.Store(true)
	<-ctx.Done()
	r.stopped.Store(true)
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func listenWith(r Runner, bound *atomic.Bool) ListenFunc {
	return func(context.Context) (Runner, error) {
		if bound != nil {
			bound.Store(true)
		}
		return r, nil
	}
}

func runAsync(ctx context.Context, a *Impl) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
		return nil
	}
}

func TestRun_ConnectsThenRunsTasks(t *testing.T) {
	sup := &mockSupervisor{}
	listener := &blockingRunner{}
	background := &blockingRunner{}
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(listener, nil),
		Background: []Runner{background},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, a)

	require.Eventually(t, func() bool {
		return listener.started.Load() && background.started.Load()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sup.Connects())

	cancel()
	assert.NoError(t, wait(t, done))
	assert.True(t, listener.stopped.Load())
	assert.True(t, background.stopped.Load())
}

func TestRun_RetriesStartupConnect(t *testing.T) {
	sup := &mockSupervisor{
		connectFunc: func(_ context.Context, attempt int) (bool, error) {
			return attempt >= 3, nil
		},
	}
	listener := &blockingRunner{}
	var bound atomic.Bool
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(listener, &bound),
		RetryDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, a)

	require.Eventually(t, listener.started.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, sup.Connects())

	cancel()
	assert.NoError(t, wait(t, done))
}

func TestRun_ListenerNotBoundBeforeConnected(t *testing.T) {
	sup := &mockSupervisor{
		connectFunc: func(context.Context, int) (bool, error) { return false, nil },
	}
	var bound atomic.Bool
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(&blockingRunner{}, &bound),
		RetryDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, a)

	require.Eventually(t, func() bool { return sup.Connects() >= 5 }, time.Second, time.Millisecond)
	cancel()

	assert.NoError(t, wait(t, done))
	assert.False(t, bound.Load())
}

func TestRun_FatalDuringStartup(t *testing.T) {
	sup := &mockSupervisor{
		connectFunc: func(_ context.Context, attempt int) (bool, error) {
			if attempt == 3 {
				return false, supervisor.ErrFatalRestart
			}
			return false, nil
		},
	}
	var bound atomic.Bool
	background := &blockingRunner{}
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(&blockingRunner{}, &bound),
		Background: []Runner{background},
		RetryDelay: time.Millisecond,
	})

	err := wait(t, runAsync(context.Background(), a))

	assert.ErrorIs(t, err, supervisor.ErrFatalRestart)
	assert.False(t, bound.Load())
	assert.True(t, background.stopped.Load())
}

func TestRun_FatalWhileRunningStopsListener(t *testing.T) {
	sup := &mockSupervisor{
		runFunc: func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return supervisor.ErrFatalRestart
		},
	}
	listener := &blockingRunner{}
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(listener, nil),
	})

	err := wait(t, runAsync(context.Background(), a))

	assert.ErrorIs(t, err, supervisor.ErrFatalRestart)
	assert.True(t, listener.stopped.Load())
}

func TestRun_ListenError(t *testing.T) {
	a := New(testLogger(), Config{
		Supervisor: &mockSupervisor{},
		Listen: func(context.Context) (Runner, error) {
			return nil, errors.New("address already in use")
		},
	})

	err := wait(t, runAsync(context.Background(), a))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start listener")
}

func TestRun_BackgroundErrorCancelsTasks(t *testing.T) {
	listener := &blockingRunner{}
	a := New(testLogger(), Config{
		Supervisor: &mockSupervisor{},
		Listen:     listenWith(listener, nil),
		Background: []Runner{RunnerFunc(func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return errors.New("boom")
		})},
	})

	err := wait(t, runAsync(context.Background(), a))

	assert.EqualError(t, err, "boom")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	sup := &mockSupervisor{
		connectFunc: func(ctx context.Context, _ int) (bool, error) {
			return false, ctx.Err()
		},
	}
	var bound atomic.Bool
	a := New(testLogger(), Config{
		Supervisor: sup,
		Listen:     listenWith(&blockingRunner{}, &bound),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, a.Run(ctx))
	assert.False(t, bound.Load())
}

func TestNew_DefaultRetryDelay(t *testing.T) {
	a := New(testLogger(), Config{})

	assert.Equal(t, StartupRetryDelay, a.cfg.RetryDelay)
}
