package security

import (
	"context"
	"log/slog"
	"time"

	audit "meshgate/pkg/platform/audit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Publisher buffers security events and drains them to a store in batches.
// Emit never blocks on the store.
type Publisher struct {
	buffer    *RingBuffer
	store     audit.Store
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	clock     func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithBufferCapacity(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		buffer:    NewRingBuffer(defaultCapacity),
		store:     store,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit buffers event, stamping its timestamp and severity if unset.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}
	p.buffer.Enqueue(event)
}

// Run drains the buffer every flush interval until ctx is cancelled, then
// flushes what is left with a short grace period.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush writes all buffered events. Events that fail to persist are logged
// and dropped.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			if err := p.store.Append(ctx, ev.ToEvent()); err != nil {
				p.logger.ErrorContext(ctx, "failed to persist security event",
					"error", err,
					"action", ev.Action,
					"request_id", ev.RequestID,
				)
			}
		}
	}
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int {
	return p.buffer.Len()
}
