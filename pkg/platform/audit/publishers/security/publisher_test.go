package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshgate/pkg/domain"
	audit "meshgate/pkg/platform/audit"
	"meshgate/pkg/platform/audit/store/memory"
)

func TestRingBuffer(t *testing.T) {
	t.Run("dequeues in fifo order", func(t *testing.T) {
		b := NewRingBuffer(4)
		for _, r := range []string{"a", "b", "c"} {
			b.Enqueue(audit.SecurityEvent{Reason: r})
		}
		got := b.DequeueBatch(2)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Reason)
		assert.Equal(t, "b", got[1].Reason)
		assert.Equal(t, 1, b.Len())
	})

	t.Run("overwrites the oldest when full", func(t *testing.T) {
		b := NewRingBuffer(2)
		b.Enqueue(audit.SecurityEvent{Reason: "1"})
		b.Enqueue(audit.SecurityEvent{Reason: "2"})
		b.Enqueue(audit.SecurityEvent{Reason: "3"})
		assert.Equal(t, int64(1), b.Dropped())
		got := b.DequeueBatch(10)
		require.Len(t, got, 2)
		assert.Equal(t, "2", got[0].Reason)
		assert.Equal(t, "3", got[1].Reason)
	})

	t.Run("empty buffer returns nil", func(t *testing.T) {
		assert.Nil(t, NewRingBuffer(1).DequeueBatch(5))
	})
}

func TestPublisher_FlushPersistsEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
	userID := domain.NewUserID()

	pub.Emit(context.Background(), audit.SecurityEvent{
		UserID: userID,
		Action: audit.ActionAuthRejected,
		Reason: "invalid_credential",
	})
	assert.Equal(t, 1, pub.Pending())

	pub.Flush(context.Background())
	assert.Equal(t, 0, pub.Pending())

	events, err := store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
	assert.True(t, events[0].Timestamp.Equal(fixed))
}

func TestPublisher_RunDrainsOnShutdown(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithFlushInterval(time.Hour))
	for range 5 {
		pub.Emit(context.Background(), audit.SecurityEvent{Action: audit.ActionLoginFailed})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
	assert.Equal(t, 5, store.Len())
}

type failingStore struct{ calls int }

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.calls++
	return errors.New("store down")
}

func (f *failingStore) ListByUser(context.Context, domain.UserID) ([]audit.Event, error) {
	return nil, nil
}

func TestPublisher_StoreErrorsDoNotStall(t *testing.T) {
	store := &failingStore{}
	pub := NewPublisher(store)
	pub.Emit(context.Background(), audit.SecurityEvent{Action: audit.ActionAuthRejected})
	pub.Emit(context.Background(), audit.SecurityEvent{Action: audit.ActionAuthRejected})

	pub.Flush(context.Background())
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 0, pub.Pending())
}
