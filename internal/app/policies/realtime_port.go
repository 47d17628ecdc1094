package policies

import "context"

const (
	EventNewMessage  = "newMessage"
	EventMessageSent = "messageSent"
)

// RealtimePublisher pushes events to every live connection of a user.
// Delivery is best-effort and at most once per connection.
type RealtimePublisher interface {
	EmitToUser(ctx context.Context, userID string, event string, payload any) error
}
