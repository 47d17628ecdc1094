package policies

import "context"

const TemplateNewMessage = "new_message"

// Notifier delivers off-channel notifications. Callers treat failures as best-effort.
type Notifier interface {
	Send(ctx context.Context, to string, template string, data any) error
}

// NewMessageNotification is the payload of TemplateNewMessage.
type NewMessageNotification struct {
	RecipientName  string
	SenderName     string
	ListingID      string
	ListingTitle   string
	MessageContent string
}
