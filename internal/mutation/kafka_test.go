package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"meshgate/pkg/domain"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	p.mu.Unlock()
	if promise != nil {
		promise(r, p.err)
	}
}

func (p *fakeProducer) produced() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kgo.Record(nil), p.records...)
}

func TestKafkaForwarder(t *testing.T) {
	ctx := context.Background()
	ev := domain.MutationEvent{Kind: domain.EntityUser, ID: "u1", Change: domain.ChangeUpdated}

	t.Run("local events are produced with origin header", func(t *testing.T) {
		p := &fakeProducer{}
		f := NewKafkaForwarder(p, "mutations", "replica-a", nil)

		require.NoError(t, f.HandleMutation(ctx, ev))
		recs := p.produced()
		require.Len(t, recs, 1)
		assert.Equal(t, "mutations", recs[0].Topic)
		assert.Equal(t, "user/u1", string(recs[0].Key))
		assert.Equal(t, []kgo.RecordHeader{{Key: "origin", Value: []byte("replica-a")}}, recs[0].Headers)

		var decoded domain.MutationEvent
		require.NoError(t, json.Unmarshal(recs[0].Value, &decoded))
		assert.Equal(t, ev.Kind, decoded.Kind)
		assert.Equal(t, ev.ID, decoded.ID)
	})

	t.Run("relayed events are not forwarded again", func(t *testing.T) {
		p := &fakeProducer{}
		f := NewKafkaForwarder(p, "mutations", "replica-a", nil)
		require.NoError(t, f.HandleMutation(withRelayed(ctx), ev))
		assert.Empty(t, p.produced())
	})

	t.Run("produce failure never fails the mutation", func(t *testing.T) {
		p := &fakeProducer{err: errors.New("broker unreachable")}
		n := New()
		n.Subscribe("kafka", NewKafkaForwarder(p, "mutations", "replica-a", nil))
		err := n.Mutate(ctx, domain.EntityUser, "u1", domain.ChangeRemoved, func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Len(t, p.produced(), 1)
	})
}

func record(t *testing.T, origin string, ev domain.MutationEvent) *kgo.Record {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return &kgo.Record{
		Topic:   "mutations",
		Value:   payload,
		Headers: []kgo.RecordHeader{{Key: originHeader, Value: []byte(origin)}},
	}
}

func TestRelayHandle(t *testing.T) {
	ctx := context.Background()
	ev := domain.MutationEvent{Kind: domain.EntityProduct, ID: "p1", Change: domain.ChangeRemoved}

	newRelay := func() (*Relay, *recorder, *fakeProducer) {
		rec := &recorder{}
		p := &fakeProducer{}
		n := New()
		n.Subscribe("cache", rec)
		n.Subscribe("kafka", NewKafkaForwarder(p, "mutations", "replica-b", nil))
		return NewRelay(nil, n, "replica-b", nil), rec, p
	}

	t.Run("remote event reaches local subscribers only once", func(t *testing.T) {
		relay, rec, p := newRelay()
		require.NoError(t, relay.Handle(ctx, record(t, "replica-a", ev)))
		require.Len(t, rec.seen(), 1)
		assert.Equal(t, ev.ID, rec.seen()[0].ID)
		assert.Empty(t, p.produced(), "relayed events must not loop back to the topic")
	})

	t.Run("own events are skipped", func(t *testing.T) {
		relay, rec, _ := newRelay()
		require.NoError(t, relay.Handle(ctx, record(t, "replica-b", ev)))
		assert.Empty(t, rec.seen())
	})

	t.Run("undecodable and invalid records are skipped", func(t *testing.T) {
		relay, rec, _ := newRelay()
		require.NoError(t, relay.Handle(ctx, &kgo.Record{Value: []byte("{not json")}))
		require.NoError(t, relay.Handle(ctx, record(t, "replica-a", domain.MutationEvent{Kind: domain.EntityUser, Change: "moved"})))
		assert.Empty(t, rec.seen())
	})

	t.Run("subscriber failure is returned", func(t *testing.T) {
		n := New()
		n.Subscribe("broken", &recorder{err: errors.New("down")})
		relay := NewRelay(nil, n, "replica-b", nil)
		require.Error(t, relay.Handle(ctx, record(t, "replica-a", ev)))
	})
}

type scriptedFetcher struct {
	batches []kgo.Fetches
	cancel  context.CancelFunc
}

func (f *scriptedFetcher) PollFetches(context.Context) kgo.Fetches {
	if len(f.batches) == 0 {
		f.cancel()
		return nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next
}

func TestRelayRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := domain.MutationEvent{Kind: domain.EntityUser, ID: "u9", Change: domain.ChangeUpdated}
	fetches := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic: "mutations",
		Partitions: []kgo.FetchPartition{{
			Records: []*kgo.Record{record(t, "replica-a", ev), record(t, "replica-b", ev)},
		}},
	}}}}

	rec := &recorder{}
	n := New()
	n.Subscribe("cache", rec)
	relay := NewRelay(&scriptedFetcher{batches: []kgo.Fetches{fetches}, cancel: cancel}, n, "replica-b", nil)

	require.NoError(t, relay.Run(ctx))
	require.Len(t, rec.seen(), 1)
	assert.Equal(t, "u9", rec.seen()[0].ID)
}

func TestConsumerOptions(t *testing.T) {
	assert.Len(t, ConsumerOptions("mutations", "meshgate-a"), 3)
}
