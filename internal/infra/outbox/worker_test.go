package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "exodrive/internal/app/outbox"
	domainmessaging "exodrive/internal/domain/messaging"
	"exodrive/internal/infra/outbox"
	"exodrive/internal/infra/storage/memory"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func recordMessageSent(t *testing.T, box *memory.Outbox) {
	t.Helper()
	ev := domainmessaging.MessageSentEvent{
		MessageID:      "m1",
		ConversationID: "alice_bob_L123",
		ListingID:      "L123",
		SenderID:       "bob",
		ReceiverID:     "alice",
		At:             time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, appoutbox.Record(context.Background(), box, appoutbox.JSONEventEncoder{IDGenerator: func() string { return "evt-1" }}, ev))
}

func TestWorkerPublishesCloudEvent(t *testing.T) {
	box := memory.NewOutbox()
	recordMessageSent(t, box)
	producer := &fakeProducer{}
	w := &outbox.Worker{Store: box, Producer: producer, TopicPrefix: "dev.", Source: "app://test"}

	claimed, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	require.Len(t, producer.sent, 1)

	msg := producer.sent[0]
	assert.Equal(t, "dev.messaging.events.v1", msg.topic)
	assert.Equal(t, "alice_bob_L123", msg.key)
	assert.Equal(t, "application/cloudevents+json", msg.headers["content-type"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &evt))
	assert.Equal(t, "messaging.message_sent.v1", evt["type"])
	assert.Equal(t, "app://test", evt["source"])
	assert.Equal(t, "evt-1", evt["id"])
	data, ok := evt["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m1", data["message_id"])
	assert.Equal(t, 0, box.Pending())

	claimed, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestWorkerReschedulesOnPublishFailure(t *testing.T) {
	box := memory.NewOutbox()
	recordMessageSent(t, box)
	producer := &fakeProducer{err: errors.New("broker down")}
	w := &outbox.Worker{Store: box, Producer: producer, Backoff: []time.Duration{time.Hour}}

	claimed, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, box.Pending())

	// backoff keeps the event out of reach
	claimed, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestWorkerRunRequiresDependencies(t *testing.T) {
	w := &outbox.Worker{}
	assert.ErrorIs(t, w.Run(context.Background()), outbox.ErrWorkerNotConfigured)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	box := memory.NewOutbox()
	recordMessageSent(t, box)
	producer := &fakeProducer{}
	w := &outbox.Worker{Store: box, Producer: producer, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return box.Pending() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
