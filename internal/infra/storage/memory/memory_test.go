package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "exodrive/internal/app/outbox"
	domainlistings "exodrive/internal/domain/listings"
	domainmessaging "exodrive/internal/domain/messaging"
	domainuser "exodrive/internal/domain/user"
)

func TestSetLastMessageOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, domainmessaging.UpsertConversationParams{
		ConversationID: "a_b_L1", Participants: []string{"b", "a"}, ListingID: "L1", At: t0,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetLastMessage(ctx, "a_b_L1", "m2", t0.Add(2*time.Second)))
	require.NoError(t, store.SetLastMessage(ctx, "a_b_L1", "m1", t0.Add(time.Second)))

	conv, err := store.ByConversationID(ctx, "a_b_L1")
	require.NoError(t, err)
	assert.Equal(t, "m2", conv.LastMessageID)
	assert.Equal(t, t0.Add(2*time.Second), conv.LastActivity)
	assert.Equal(t, []string{"b", "a"}, conv.Participants)

	assert.ErrorIs(t, store.SetLastMessage(ctx, "missing", "m", t0), domainmessaging.ErrNotFound)
}

func TestUpsertKeepsFirstParticipantsAndIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := store.Upsert(ctx, domainmessaging.UpsertConversationParams{
		ConversationID: "a_b_L1", Participants: []string{"b", "a"}, ListingID: "L1", At: t0,
	})
	require.NoError(t, err)
	second, err := store.Upsert(ctx, domainmessaging.UpsertConversationParams{
		ConversationID: "a_b_L1", Participants: []string{"a", "b"}, ListingID: "L1", At: t0.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"b", "a"}, second.Participants)
	assert.Equal(t, t0.Add(time.Minute), second.LastActivity)

	_, err = store.Upsert(ctx, domainmessaging.UpsertConversationParams{ConversationID: "x", Participants: []string{"a"}, ListingID: "L1"})
	assert.ErrorIs(t, err, domainmessaging.ErrValidation)
}

func TestMarkReadTouchesOnlyReceiver(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, m := range []domainmessaging.Message{
		{SenderID: "a", ReceiverID: "b", ConversationID: "a_b_L1", CreatedAt: at},
		{SenderID: "b", ReceiverID: "a", ConversationID: "a_b_L1", CreatedAt: at.Add(time.Second)},
		{SenderID: "a", ReceiverID: "b", ConversationID: "a_b_L2", CreatedAt: at},
	} {
		m := m
		require.NoError(t, store.Insert(ctx, &m))
	}

	n, err := store.MarkRead(ctx, "a_b_L1", "b", at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.MarkRead(ctx, "a_b_L1", "b", at)
	require.NoError(t, err)
	assert.Zero(t, n)

	unread, err := store.CountUnread(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	latest, err := store.Latest(ctx, "a_b_L1")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.SenderID)
	_, err = store.Latest(ctx, "none")
	assert.ErrorIs(t, err, domainmessaging.ErrNotFound)
}

func TestOutboxClaimAndRetry(t *testing.T) {
	ctx := context.Background()
	box := NewOutbox()
	require.NoError(t, box.Add(ctx, appoutbox.EventRecord{ID: "e1", Name: "messaging.message_sent", Payload: []byte(`{}`)}))

	ev, err := box.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "e1", ev.ID)

	again, err := box.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, again, "claimed events are not handed out twice")

	require.NoError(t, box.MarkFailed(ctx, "e1", time.Now().Add(time.Hour), "broker down"))
	later, err := box.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, later, "retry is not due yet")

	require.NoError(t, box.MarkFailed(ctx, "e1", time.Now().Add(-time.Second), "broker down"))
	ev, err = box.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 2, ev.Attempts)

	require.NoError(t, box.Add(ctx, appoutbox.EventRecord{ID: "e2", Name: "messaging.message_sent", Payload: []byte(`{}`)}))
	require.NoError(t, box.MarkSent(ctx, "e1"))
	assert.Equal(t, 1, box.Pending())
	records := box.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "e2", records[0].ID, "sent events are pruned")
}

func TestLoadFixtures(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fixtures.json")
	data := `{
  "users": [{"id": "u1", "name": "Ulla", "email": "ulla@example.com"}, {"id": " ", "name": "blank"}],
  "listings": [{"id": "L1", "owner": "u1", "title": "Volvo XC60", "brand": "Volvo", "model": "XC60", "images": ["a.jpg"]}]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	users := NewUserRepository()
	listings := NewListingRepository()
	require.NoError(t, LoadFixtures(ctx, path, users, listings, nil))

	u, err := users.ByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ulla@example.com", u.Email)
	l, err := listings.ByID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", l.Summary().Image)
	_, err = listings.ByID(ctx, "L2")
	assert.ErrorIs(t, err, domainlistings.ErrNotFound)
	got, err := users.ByIDs(ctx, []domainuser.ID{"u1", "nobody"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.NoError(t, LoadFixtures(ctx, filepath.Join(t.TempDir(), "missing.json"), users, listings, nil))
}
