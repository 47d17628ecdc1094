package messaging

import (
	"context"
	"strings"
	"time"
)

// Message is a single directed communication unit. Only IsRead changes after creation.
type Message struct {
	ID             string
	SenderID       string
	ReceiverID     string
	ListingID      string
	ConversationID string
	Content        string
	IsRead         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewMessageParams struct {
	SenderID   string
	ReceiverID string
	ListingID  string
	Content    string
	At         time.Time
}

// NewMessage validates input and builds an unread message with its derived conversation id.
func NewMessage(params NewMessageParams) (*Message, error) {
	sender := strings.TrimSpace(params.SenderID)
	receiver := strings.TrimSpace(params.ReceiverID)
	listing := strings.TrimSpace(params.ListingID)
	switch {
	case sender == "":
		return nil, Required("sender_id")
	case receiver == "":
		return nil, Required("receiver_id")
	case listing == "":
		return nil, Required("listing_id")
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, &FieldError{Field: "content", Reason: "must not be empty"}
	}
	if sender == receiver {
		return nil, ErrSelfMessage
	}
	now := params.At
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Message{
		SenderID:       sender,
		ReceiverID:     receiver,
		ListingID:      listing,
		ConversationID: DeriveConversationID(sender, receiver, listing),
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

// MessageRepository persists messages. MarkRead only flips unread messages
// addressed to the receiver, so repeated calls are no-ops.
type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	ByIDs(ctx context.Context, ids []string) (map[string]*Message, error)
	// ListByConversation returns messages in chronological order.
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
	Latest(ctx context.Context, conversationID string) (*Message, error)
	MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
}
