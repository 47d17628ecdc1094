package messaging

import (
	"context"
	"sort"
	"strings"
	"time"
)

// DeriveConversationID builds the natural key of the conversation between two
// users about one listing. The user ids are ordered so the result does not
// depend on who sends first.
func DeriveConversationID(userA, userB, listingID string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1] + "_" + listingID
}

// Conversation is the single thread between two participants about one listing.
type Conversation struct {
	ID             string
	ConversationID string
	Participants   []string
	ListingID      string
	LastMessageID  string
	LastMessageAt  time.Time
	LastActivity   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	return &out
}

// UpsertConversationParams seeds a conversation on first send. Participants
// keep send order; they are only written when the row is created.
type UpsertConversationParams struct {
	ConversationID string
	Participants   []string
	ListingID      string
	At             time.Time
}

func (p UpsertConversationParams) Validate() error {
	if strings.TrimSpace(p.ConversationID) == "" {
		return Required("conversation_id")
	}
	if len(p.Participants) != 2 {
		return &FieldError{Field: "participants", Reason: "must contain exactly two users"}
	}
	if strings.TrimSpace(p.ListingID) == "" {
		return Required("listing_id")
	}
	return nil
}

// ConversationRepository persists conversations keyed by their natural key.
// Upsert must be safe under concurrent first sends: at most one row may exist
// per conversation id, and the loser of a creation race observes the winner's row.
type ConversationRepository interface {
	Upsert(ctx context.Context, params UpsertConversationParams) (*Conversation, error)
	ByConversationID(ctx context.Context, conversationID string) (*Conversation, error)
	// ListByParticipant returns conversations ordered by last activity, newest first.
	ListByParticipant(ctx context.Context, userID string) ([]Conversation, error)
	// SetLastMessage moves the denormalized pointer forward; older messages never replace newer ones.
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
}
