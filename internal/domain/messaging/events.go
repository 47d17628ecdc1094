package messaging

import "time"

// MessageSentEvent is recorded after a message is persisted and delivered.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	At             time.Time `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return "messaging.message_sent" }
func (e MessageSentEvent) AggregateID() string   { return e.ConversationID }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }
