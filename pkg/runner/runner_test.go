package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/runner"
)

type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type recordingService struct {
	name     string
	startErr error
	stopErr  error
	healthy  error
	log      *eventLog
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	s.log.add("start " + s.name)
	return s.startErr
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.log.add("stop " + s.name)
	return s.stopErr
}

func (s *recordingService) HealthCheck(ctx context.Context) error {
	return s.healthy
}

func TestRunnerStartsAndStops(t *testing.T) {
	log := &eventLog{}
	first := &recordingService{name: "first", log: log}
	second := &recordingService{name: "second", log: log}

	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New([]runner.Service{first, second})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}

	events := log.all()
	require.Equal(t, []string{"start first", "start second"}, events[:2],
		"services start in registration order")
	require.ElementsMatch(t, []string{"stop first", "stop second"}, events[2:],
		"every started service is stopped")
}

func TestRunnerStartFailureStopsStartedServices(t *testing.T) {
	log := &eventLog{}
	ok := &recordingService{name: "ok", log: log}
	bad := &recordingService{name: "bad", log: log, startErr: errors.New("bind failed")}
	never := &recordingService{name: "never", log: log}

	err := runner.New([]runner.Service{ok, bad, never}).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")

	require.Equal(t, []string{"start ok", "start bad", "stop ok"}, log.all(),
		"only already-started services are stopped; later ones never start")
}

func TestRunnerCollectsStopErrors(t *testing.T) {
	log := &eventLog{}
	clean := &recordingService{name: "clean", log: log}
	dirty := &recordingService{name: "dirty", log: log, stopErr: errors.New("flush failed")}

	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New([]runner.Service{clean, dirty})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	require.Contains(t, err.Error(), "dirty")
}

func TestRunnerHealthCheck(t *testing.T) {
	log := &eventLog{}
	healthy := &recordingService{name: "healthy", log: log}
	sick := &recordingService{name: "sick", log: log, healthy: errors.New("no quorum")}

	r := runner.New([]runner.Service{healthy})
	require.NoError(t, r.HealthCheck(context.Background()))

	r = runner.New([]runner.Service{healthy, sick})
	err := r.HealthCheck(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sick")
}

func TestBackgroundService(t *testing.T) {
	t.Run("StopCancelsAndReturnsLoopError", func(t *testing.T) {
		loopDone := make(chan struct{})
		svc := runner.NewBackground("loop", func(ctx context.Context) error {
			defer close(loopDone)
			<-ctx.Done()
			return nil
		})

		require.NoError(t, svc.Start(context.Background()))
		require.NoError(t, svc.Stop(context.Background()))

		select {
		case <-loopDone:
		case <-time.After(time.Second):
			t.Fatal("loop did not exit")
		}
	})

	t.Run("StopSurfacesLoopFailure", func(t *testing.T) {
		svc := runner.NewBackground("loop", func(ctx context.Context) error {
			<-ctx.Done()
			return errors.New("dispatcher wedged")
		})

		require.NoError(t, svc.Start(context.Background()))
		err := svc.Stop(context.Background())
		require.ErrorContains(t, err, "dispatcher wedged")
	})

	t.Run("StopBeforeStartIsNoOp", func(t *testing.T) {
		svc := runner.NewBackground("loop", func(ctx context.Context) error { return nil })
		require.NoError(t, svc.Stop(context.Background()))
	})
}
