//go:build integration

package mutation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"meshgate/internal/mutation"
	"meshgate/internal/platform/config"
	"meshgate/internal/platform/kafka"
	"meshgate/pkg/domain"
	"meshgate/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	brokers []string
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
}

type received struct {
	mu     sync.Mutex
	events []domain.MutationEvent
}

func (r *received) HandleMutation(_ context.Context, ev domain.MutationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *received) snapshot() []domain.MutationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MutationEvent(nil), r.events...)
}

func (s *RelaySuite) newClient(opts ...kgo.Opt) *kgo.Client {
	client, err := kafka.NewClient(config.KafkaConfig{Brokers: s.brokers}, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(client.Close)
	return client
}

func (s *RelaySuite) TestMutationReachesOtherReplica() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "mutations-" + uuid.NewString()
	producer := s.newClient()
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, topic, 1))

	// Replica A commits and forwards.
	local := &received{}
	replicaA := mutation.New()
	replicaA.Subscribe("cache", local)
	replicaA.Subscribe("relay", mutation.NewKafkaForwarder(producer, topic, "replica-a", nil))

	// Replica B consumes from the start so the test does not race the group join.
	opts := append(mutation.ConsumerOptions(topic, "replica-b-"+uuid.NewString()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	consumer := s.newClient(opts...)
	remote := &received{}
	replicaB := mutation.New()
	replicaB.Subscribe("cache", remote)
	relay := mutation.NewRelay(consumer, replicaB, "replica-b", nil)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(runCtx) }()

	id := uuid.NewString()
	err := replicaA.Mutate(ctx, domain.EntityUser, id, domain.ChangeUpdated, func(context.Context) error { return nil })
	s.Require().NoError(err)
	s.Require().Len(local.snapshot(), 1)

	s.Eventually(func() bool { return len(remote.snapshot()) == 1 }, 30*time.Second, 100*time.Millisecond)
	got := remote.snapshot()[0]
	s.Equal(domain.EntityUser, got.Kind)
	s.Equal(id, got.ID)
	s.Equal(domain.ChangeUpdated, got.Change)

	stop()
	s.NoError(<-done)
}
