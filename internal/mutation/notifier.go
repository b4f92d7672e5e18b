// Package mutation announces committed entity changes to the components whose
// cached state depends on them.
//
// Services run every write through Notifier.Mutate. Writes to the same entity
// are serialized, and subscribers see the resulting events synchronously and
// in commit order before Mutate returns.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meshgate/internal/platform/metrics"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/requestcontext"
)

// Subscriber reacts to a committed mutation. Returning an error fails the
// mutation's completion signal; the commit itself stands.
type Subscriber interface {
	HandleMutation(ctx context.Context, ev domain.MutationEvent) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev domain.MutationEvent) error

func (f SubscriberFunc) HandleMutation(ctx context.Context, ev domain.MutationEvent) error {
	return f(ctx, ev)
}

type registration struct {
	name string
	sub  Subscriber
}

// Notifier fans committed mutations out to its subscribers.
type Notifier struct {
	mu   sync.RWMutex
	subs []registration

	locks   *keyedMutex
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

func New(opts ...Option) *Notifier {
	n := &Notifier{
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers sub under name. Subscribers are called in registration
// order.
func (n *Notifier) Subscribe(name string, sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, registration{name: name, sub: sub})
}

// Publish delivers ev to every subscriber, even when an earlier one fails,
// and joins their errors.
func (n *Notifier) Publish(ctx context.Context, ev domain.MutationEvent) error {
	if ev.CommittedAt.IsZero() {
		ev.CommittedAt = n.clock()
	}
	n.mu.RLock()
	subs := make([]registration, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	var errs []error
	for _, r := range subs {
		if err := r.sub.HandleMutation(ctx, ev); err != nil {
			n.metrics.IncSubscriberError(r.name)
			n.logger.ErrorContext(ctx, "mutation subscriber failed",
				"error", err,
				"subscriber", r.name,
				"event", ev.String(),
				"request_id", requestcontext.RequestID(ctx),
			)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	n.metrics.IncMutationPublished(string(ev.Kind), string(ev.Change))
	return errors.Join(errs...)
}

// Mutate runs commit while holding the lock for (kind, id) and, when it
// succeeds, publishes the change before releasing the lock. A failed commit
// publishes nothing. A subscriber failure after a successful commit is
// reported as an unavailable error wrapping the subscriber errors.
func (n *Notifier) Mutate(ctx context.Context, kind domain.EntityKind, id string, change domain.ChangeKind, commit func(context.Context) error) error {
	if !change.IsValid() {
		return fmt.Errorf("mutate %s/%s: unknown change %q", kind, id, change)
	}
	unlock := n.locks.lock(string(kind) + "/" + id)
	defer unlock()

	if err := commit(ctx); err != nil {
		return err
	}

	// the write is durable; subscribers must see it even if the caller left
	ev := domain.MutationEvent{Kind: kind, ID: id, Change: change, CommittedAt: n.clock()}
	if err := n.Publish(context.WithoutCancel(ctx), ev); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "change saved but caches could not be refreshed")
	}
	return nil
}
