// Package relay wires the dispatch core's components into a runnable
// process: config, queue, access list, circular log, webhook ingress,
// worker pool, and the systemd readiness handshake.
package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Supervisor runs named goroutines against a shared, cancellable
// context, recovers panics, and cancels the group on the first error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log zerolog.Logger

	errOnce  sync.Once
	firstErr atomic.Value

	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSupervisor(parent context.Context, log zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log, doneCh: make(chan struct{})}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}

// Go starts fn in its own goroutine, tying it to the supervisor context.
// A panic is recovered and treated as an error. A non-nil, non-Canceled
// return value cancels the whole group.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.setErr(fmt.Errorf("panic in %s: %v\n%s", name, r, debug.Stack()))
				s.cancel()
			}
		}()

		s.log.Debug().Str("component", name).Msg("started")
		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.setErr(fmt.Errorf("%s: %w", name, err))
			s.cancel()
		}
		s.log.Debug().Str("component", name).Msg("stopped")
	}()
}

// Go0 is Go for functions with no error return.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Stop cancels the group and waits for every goroutine to exit.
func (s *Supervisor) Stop() error {
	s.cancel()
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	<-s.doneCh
	return s.Err()
}

// Wait blocks until every goroutine has exited, without cancelling.
func (s *Supervisor) Wait() error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	<-s.doneCh
	return s.Err()
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
