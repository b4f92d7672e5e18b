package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"meshgate/pkg/domain"
)

// originHeader names the replica that committed a relayed mutation.
const originHeader = "origin"

type relayedKey struct{}

// withRelayed marks ctx as carrying an event that arrived from another
// replica, so it is not forwarded again.
func withRelayed(ctx context.Context) context.Context {
	return context.WithValue(ctx, relayedKey{}, true)
}

func isRelayed(ctx context.Context) bool {
	v, _ := ctx.Value(relayedKey{}).(bool)
	return v
}

// Producer is the subset of *kgo.Client the forwarder needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaForwarder copies locally committed mutations to a topic so other
// replicas can drop their cached state. Delivery is best-effort: a failed
// produce is logged and never fails the mutation.
type KafkaForwarder struct {
	producer Producer
	topic    string
	origin   string
	logger   *slog.Logger
}

func NewKafkaForwarder(producer Producer, topic, origin string, logger *slog.Logger) *KafkaForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaForwarder{producer: producer, topic: topic, origin: origin, logger: logger}
}

func (f *KafkaForwarder) HandleMutation(ctx context.Context, ev domain.MutationEvent) error {
	if isRelayed(ctx) {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to encode mutation for relay", "error", err, "event", ev.String())
		return nil
	}
	rec := &kgo.Record{
		Topic:   f.topic,
		Key:     []byte(string(ev.Kind) + "/" + ev.ID),
		Value:   payload,
		Headers: []kgo.RecordHeader{{Key: originHeader, Value: []byte(f.origin)}},
	}
	f.producer.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			f.logger.Warn("failed to relay mutation",
				"error", err,
				"topic", r.Topic,
				"key", string(r.Key),
			)
		}
	})
	return nil
}

// Fetcher is the subset of *kgo.Client the relay needs.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

// Relay applies mutations committed on other replicas to the local
// notifier's subscribers.
type Relay struct {
	fetcher  Fetcher
	notifier *Notifier
	origin   string
	logger   *slog.Logger
}

func NewRelay(fetcher Fetcher, notifier *Notifier, origin string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{fetcher: fetcher, notifier: notifier, origin: origin, logger: logger}
}

// ConsumerOptions returns the client options for a relay consumer. Every
// replica needs its own group so each one sees every event, and a fresh group
// starts at the end of the topic.
func ConsumerOptions(topic, group string) []kgo.Opt {
	return []kgo.Opt{
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
}

// Run polls until ctx is done or the client is closed.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "mutation relay started", "origin", r.origin)
	for {
		fetches := r.fetcher.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			r.logger.InfoContext(ctx, "mutation relay stopped")
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.WarnContext(ctx, "mutation relay fetch error",
				"error", err,
				"topic", topic,
				"partition", partition,
			)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if err := r.Handle(ctx, rec); err != nil {
				r.logger.ErrorContext(ctx, "failed to apply relayed mutation",
					"error", err,
					"key", string(rec.Key),
				)
			}
		})
	}
}

// Handle applies one record. Records from this replica and records that do
// not decode to a valid event are skipped.
func (r *Relay) Handle(ctx context.Context, rec *kgo.Record) error {
	for _, h := range rec.Headers {
		if h.Key == originHeader && string(h.Value) == r.origin {
			return nil
		}
	}
	var ev domain.MutationEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		r.logger.WarnContext(ctx, "skipping undecodable mutation record",
			"error", err,
			"key", string(rec.Key),
		)
		return nil
	}
	if ev.Kind == "" || !ev.Change.IsValid() {
		r.logger.WarnContext(ctx, "skipping invalid mutation record", "key", string(rec.Key))
		return nil
	}
	if err := r.notifier.Publish(withRelayed(ctx), ev); err != nil {
		return fmt.Errorf("apply %s: %w", ev.String(), err)
	}
	return nil
}
