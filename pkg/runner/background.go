package runner

import (
	"context"
	"sync"
)

// Background adapts a blocking run loop, like the acquisition
// dispatcher, into a Service. Start launches the loop in a goroutine;
// Stop cancels it and waits for it to return.
type Background struct {
	name string
	run  func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// NewBackground wraps run as a Service called name.
func NewBackground(name string, run func(ctx context.Context) error) *Background {
	return &Background{name: name, run: run}
}

// Name implements Service.
func (b *Background) Name() string {
	return b.name
}

// Start launches the loop. The loop gets its own context so it
// outlives the startup deadline.
func (b *Background) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		err := b.run(loopCtx)

		b.mu.Lock()
		b.runErr = err
		b.mu.Unlock()
	}()
	return nil
}

// Stop cancels the loop and waits for it, honoring ctx.
func (b *Background) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Service = (*Background)(nil)
