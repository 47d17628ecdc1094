package dto

import (
	"time"

	domainlistings "exodrive/internal/domain/listings"
	domainuser "exodrive/internal/domain/user"
)

// Message is the display form of a chat message with both parties resolved.
type Message struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	ListingID      string             `json:"listing_id"`
	Sender         domainuser.Summary `json:"sender"`
	Receiver       domainuser.Summary `json:"receiver"`
	Content        string             `json:"content"`
	IsRead         bool               `json:"is_read"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Conversation describes a thread in the caller's inbox.
type Conversation struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Participants   []domainuser.Summary   `json:"participants"`
	Listing        domainlistings.Summary `json:"listing"`
	LastMessage    *Message               `json:"last_message,omitempty"`
	LastActivity   time.Time              `json:"last_activity"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

type MarkReadResult struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}
