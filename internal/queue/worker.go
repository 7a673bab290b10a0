package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers one outbound message via the bridge, returning the
// bridge's external id on success for delivery-status correlation. The
// supervisor supplies it; the queue package has no bridge dependency.
type Sender func(ctx context.Context, m *OutboundMessage) (externalID string, err error)

// OnSent is invoked after a successful send so the caller can persist
// the external id against the stored Message.
type OnSent func(ctx context.Context, m *OutboundMessage, externalID string)

// WorkerPool runs N concurrent workers polling the queue. There is
// exactly one job type, so no handler registry; every item is a send.
type WorkerPool struct {
	queue        *Queue
	send         Sender
	onSent       OnSent
	concurrency  int
	pollInterval time.Duration
	sendTimeout  time.Duration

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

type WorkerPoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	SendTimeout  time.Duration
}

func NewWorkerPool(q *Queue, send Sender, onSent OnSent, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &WorkerPool{
		queue:        q,
		send:         send,
		onSent:       onSent,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		sendTimeout:  cfg.SendTimeout,
	}
}

// Start launches the worker goroutines; it returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	p.stopped = false
	p.mu.Unlock()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}
	log.Info().Int("workers", p.concurrency).Msg("queue: worker pool started")
}

// Stop signals every worker to stop and blocks until they drain.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wg.Wait()
	log.Info().Msg("queue: worker pool stopped")
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				return
			}
			p.processOne(ctx, id)
		}
	}
}

func (p *WorkerPool) processOne(ctx context.Context, workerID int) {
	m, err := p.queue.Dequeue(ctx)
	if err != nil {
		log.Error().Err(err).Int("worker", workerID).Msg("queue: dequeue failed")
		return
	}
	if m == nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	externalID, sendErr := p.send(sendCtx, m)
	if sendErr != nil {
		log.Warn().Err(sendErr).Str("id", m.ID.String()).Int("attempts", m.Attempts).
			Msg("queue: send failed")
		if markErr := p.queue.MarkFailed(ctx, m.ID, sendErr); markErr != nil {
			log.Error().Err(markErr).Str("id", m.ID.String()).Msg("queue: failed to record failure")
		}
		return
	}

	if p.onSent != nil {
		p.onSent(ctx, m, externalID)
	}
	if err := p.queue.MarkSent(ctx, m.ID); err != nil {
		log.Error().Err(err).Str("id", m.ID.String()).Msg("queue: failed to mark sent")
	}
}
