// Package worker implements the pool that drains the message queue,
// enforces per-sender reply pacing, and calls out to a completion
// service and a platform sender.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/envelope"
	"chatrelay/internal/queue"
)

// CompletionClient requests a reply from an external text-completion
// service.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// PlatformClient delivers the final reply to the messaging platform.
type PlatformClient interface {
	SendText(ctx context.Context, chat queue.ChatID, text string) error
}

// Factory constructs one CompletionClient and one PlatformClient per
// worker; each worker owns its own pair because the underlying HTTP
// transport in the reference implementation is single-threaded per
// handle.
type Factory struct {
	NewCompletion func() CompletionClient
	NewPlatform   func() PlatformClient
}

// Config sizes and paces the pool.
type Config struct {
	WorkerCount int
	ReplyDelay  time.Duration
}

const fallbackReply = "[no reply]"

// Pool drains a queue.Queue with Config.WorkerCount cooperative workers.
type Pool struct {
	cfg     Config
	q       *queue.Queue
	factory Factory
	log     zerolog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg Config, q *queue.Queue, factory Factory, log zerolog.Logger) *Pool {
	return &Pool{cfg: cfg, q: q, factory: factory, log: log}
}

// Run starts the worker goroutines and blocks until ctx is cancelled,
// then stops the pool and waits for every worker to exit. Calling Stop
// alone does not make Run return.
func (p *Pool) Run(ctx context.Context) {
	p.running.Store(true)
	p.wg.Add(p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		go p.workerLoop(ctx, i)
	}
	<-ctx.Done()
	p.Stop()
	p.wg.Wait()
}

// Stop flips the running flag. In-flight network calls observe ctx
// cancellation (the Go analogue of polling a progress-callback abort
// flag); the pacing sleep and the queue's own shutdown wake any blocked
// worker promptly.
func (p *Pool) Stop() {
	p.running.Store(false)
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()

	completion := p.factory.NewCompletion()
	platform := p.factory.NewPlatform()

	for {
		msg, err := p.q.Pop()
		if err == queue.ErrShutdown {
			return
		}
		if err != nil {
			continue
		}
		if !p.running.Load() {
			return
		}

		if wait := p.cfg.ReplyDelay - time.Since(msg.IngressAt); wait > 0 {
			if !p.sleepInterruptible(ctx, wait) {
				return
			}
		}
		if ctx.Err() != nil || !p.running.Load() {
			return
		}

		reply, err := completion.Complete(ctx, "", msg.Text)
		if err != nil {
			p.log.Warn().Err(err).Int("worker", id).Int64("sender", int64(msg.Sender)).Msg("completion request failed")
			continue
		}

		reply = envelope.Strip(reply)
		if reply == "" {
			reply = fallbackReply
		}

		if err := platform.SendText(ctx, msg.Chat, reply); err != nil {
			p.log.Warn().Err(err).Int("worker", id).Int64("chat", int64(msg.Chat)).Msg("send failed")
		}
	}
}

// sleepInterruptible blocks for d or until ctx is cancelled or the pool
// is stopped, whichever comes first. Returns false if it should not
// continue (cancelled or stopped).
func (p *Pool) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !p.running.Load() {
				return false
			}
		}
	}
}
