package mongo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	domainmessaging "exodrive/internal/domain/messaging"
)

func TestObjectIDsSkipsInvalidAndDuplicates(t *testing.T) {
	a := primitive.NewObjectID()
	b := primitive.NewObjectID()
	got := objectIDs([]string{a.Hex(), "not-an-id", b.Hex(), a.Hex(), ""})
	assert.Equal(t, []primitive.ObjectID{a, b}, got)
}

func TestListingDocumentToDomain(t *testing.T) {
	owner := primitive.NewObjectID()
	doc := listingDocument{ID: primitive.NewObjectID(), User: owner, Title: "Golf", Images: []string{"x.jpg"}}
	l := doc.toDomain()
	assert.Equal(t, owner.Hex(), l.Owner)
	assert.Equal(t, "x.jpg", l.Summary().Image)

	assert.Empty(t, listingDocument{ID: primitive.NewObjectID()}.toDomain().Owner)
}

// integrationDB connects to MONGO_TEST_URI and returns a throwaway database.
func integrationDB(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" || testing.Short() {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := New(ctx, uri, "exodrive_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.DB.Drop(context.Background())
		_ = client.Close(context.Background())
	})
	return client
}

func TestConversationUpsertConvergesUnderRace(t *testing.T) {
	client := integrationDB(t)
	ctx := context.Background()
	repo, err := NewConversationRepository(ctx, client.DB)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := repo.Upsert(ctx, domainmessaging.UpsertConversationParams{
				ConversationID: "a_b_L1",
				Participants:   []string{"a", "b"},
				ListingID:      "L1",
				At:             at,
			})
			if assert.NoError(t, err) {
				ids <- conv.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
	list, err := repo.ListByParticipant(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSetLastMessageOnlyMovesForward(t *testing.T) {
	client := integrationDB(t)
	ctx := context.Background()
	repo, err := NewConversationRepository(ctx, client.DB)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	_, err = repo.Upsert(ctx, domainmessaging.UpsertConversationParams{ConversationID: "a_b_L1", Participants: []string{"a", "b"}, ListingID: "L1", At: at})
	require.NoError(t, err)

	require.NoError(t, repo.SetLastMessage(ctx, "a_b_L1", "newer", at.Add(2*time.Second)))
	require.NoError(t, repo.SetLastMessage(ctx, "a_b_L1", "older", at.Add(time.Second)))
	conv, err := repo.ByConversationID(ctx, "a_b_L1")
	require.NoError(t, err)
	assert.Equal(t, "newer", conv.LastMessageID)

	assert.ErrorIs(t, repo.SetLastMessage(ctx, "missing", "m", at), domainmessaging.ErrNotFound)
}

func TestMessageReadState(t *testing.T) {
	client := integrationDB(t)
	ctx := context.Background()
	repo, err := NewMessageRepository(ctx, client.DB)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	for i, content := range []string{"one", "two"} {
		msg, err := domainmessaging.NewMessage(domainmessaging.NewMessageParams{SenderID: "b", ReceiverID: "a", ListingID: "L1", Content: content, At: at.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, msg))
		assert.Len(t, msg.ID, 24)
	}

	count, err := repo.CountUnread(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	latest, err := repo.Latest(ctx, "a_b_L1")
	require.NoError(t, err)
	assert.Equal(t, "two", latest.Content)

	updated, err := repo.MarkRead(ctx, "a_b_L1", "a", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	updated, err = repo.MarkRead(ctx, "a_b_L1", "a", at)
	require.NoError(t, err)
	assert.Zero(t, updated)

	msgs, err := repo.ListByConversation(ctx, "a_b_L1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.True(t, msgs[0].IsRead)

	_, err = repo.Latest(ctx, "nothing")
	assert.ErrorIs(t, err, domainmessaging.ErrNotFound)
}
