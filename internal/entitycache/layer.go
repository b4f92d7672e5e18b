// Package entitycache serves action results through a read-through cache and
// drops entries synchronously when the entities they depend on change.
package entitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meshgate/internal/platform/metrics"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
)

const tracerName = "meshgate/internal/entitycache"

// ComputeError wraps a failure of the compute function on a cache miss.
// Nothing is stored when it is returned.
type ComputeError struct {
	Err error
}

func (e *ComputeError) Error() string { return "cache compute failed: " + e.Err.Error() }

func (e *ComputeError) Unwrap() error { return e.Err }

// Layer is the read-through cache shared by all request handlers.
//
// Each entity kind carries a generation counter that Invalidate bumps before
// dropping entries. A compute whose dependencies changed generation while it
// ran returns its result to the caller but does not store it, and a store
// that raced an invalidation is deleted again.
type Layer struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu   sync.Mutex
	gens map[domain.EntityKind]uint64
}

// Option configures a Layer.
type Option func(*Layer)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Layer) { l.metrics = m }
}

func New(store Store, opts ...Option) *Layer {
	l := &Layer{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		gens:   make(map[domain.EntityKind]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ReadThrough returns the live entry for key, or runs compute, stores its
// result with key.TTL and returns it. A key with no TTL bypasses the cache.
func (l *Layer) ReadThrough(ctx context.Context, key Key, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if key.TTL <= 0 {
		l.metrics.IncEntityCache("disabled")
		return l.compute(ctx, compute)
	}

	ctx, span := l.tracer.Start(ctx, "entitycache.ReadThrough", trace.WithAttributes(
		attribute.String("fingerprint", key.Fingerprint),
	))
	defer span.End()

	cached, hit, err := l.store.Get(ctx, key.Fingerprint)
	if err != nil {
		span.RecordError(err)
		return nil, backendError(ctx, err)
	}
	if hit {
		l.metrics.IncEntityCache("hit")
		span.SetAttributes(attribute.Bool("hit", true))
		return cached, nil
	}
	l.metrics.IncEntityCache("miss")

	before := l.snapshot(key.Kinds)
	value, err := l.compute(ctx, compute)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// the request is over; a result computed past its deadline is
		// never stored
		return nil, backendError(ctx, ctx.Err())
	}
	if !l.unchanged(key.Kinds, before) {
		l.metrics.IncEntityCacheDiscarded()
		return value, nil
	}

	if err := l.store.Set(ctx, key.Fingerprint, value, key.TTL, key.Tags); err != nil {
		l.logger.WarnContext(ctx, "failed to store cache entry",
			"error", err,
			"fingerprint", key.Fingerprint,
		)
		return value, nil
	}
	if !l.unchanged(key.Kinds, before) {
		l.metrics.IncEntityCacheDiscarded()
		if err := l.store.Delete(ctx, key.Fingerprint); err != nil {
			l.logger.ErrorContext(ctx, "failed to drop cache entry stored during invalidation",
				"error", err,
				"fingerprint", key.Fingerprint,
			)
		}
	}
	return value, nil
}

func (l *Layer) compute(ctx context.Context, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	value, err := compute(ctx)
	if err != nil {
		cerr := &ComputeError{Err: err}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, dErrors.Wrap(cerr, dErrors.CodeTimeout, "request timed out")
		}
		return nil, cerr
	}
	return value, nil
}

// Invalidate removes every entry that depends on kind, or with id set, on
// that entity. Invalidating twice is a no-op the second time.
func (l *Layer) Invalidate(ctx context.Context, kind domain.EntityKind, id string) error {
	l.mu.Lock()
	l.gens[kind]++
	l.mu.Unlock()

	n, err := l.store.InvalidateTags(ctx, tagsToDrop(kind, id)...)
	if err != nil {
		return fmt.Errorf("invalidate %s cache: %w", kind, err)
	}
	l.metrics.IncInvalidation(string(kind))
	l.logger.DebugContext(ctx, "cache invalidated",
		"kind", string(kind),
		"id", id,
		"entries", n,
	)
	return nil
}

// HandleMutation subscribes the layer to the mutation notifier.
func (l *Layer) HandleMutation(ctx context.Context, ev domain.MutationEvent) error {
	return l.Invalidate(ctx, ev.Kind, ev.ID)
}

func (l *Layer) snapshot(kinds []domain.EntityKind) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(kinds))
	for i, k := range kinds {
		out[i] = l.gens[k]
	}
	return out
}

func (l *Layer) unchanged(kinds []domain.EntityKind, before []uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, k := range kinds {
		if l.gens[k] != before[i] {
			return false
		}
	}
	return true
}

func backendError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "cache backend unavailable")
}

// Cached runs ReadThrough for a typed result, encoding it as JSON.
func Cached[T any](ctx context.Context, l *Layer, key Key, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := l.ReadThrough(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode cached value: %w", err)
	}
	return out, nil
}
