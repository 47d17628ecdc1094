package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"exodrive/internal/app/dto"
	appoutbox "exodrive/internal/app/outbox"
	"exodrive/internal/app/policies"
	domainlistings "exodrive/internal/domain/listings"
	domainmessaging "exodrive/internal/domain/messaging"
	domainuser "exodrive/internal/domain/user"
)

const defaultNotifyTimeout = 5 * time.Second

// Service is the only writer of conversations and messages.
type Service struct {
	Conversations domainmessaging.ConversationRepository
	Messages      domainmessaging.MessageRepository
	Users         domainuser.Repository
	Listings      domainlistings.Repository
	Realtime      policies.RealtimePublisher
	Notifier      policies.Notifier
	Outbox        appoutbox.Outbox
	Encoder       appoutbox.EventEncoder
	NotifyTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

type SendParams struct {
	SenderID   string
	ReceiverID string
	ListingID  string
	Content    string
}

// SendMessage persists a message, maintains its conversation and fans it out.
// Persistence continues even if the caller goes away.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (dto.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.Message{}, err
	}
	now := s.now()
	msg, err := domainmessaging.NewMessage(domainmessaging.NewMessageParams{
		SenderID:   params.SenderID,
		ReceiverID: params.ReceiverID,
		ListingID:  params.ListingID,
		Content:    params.Content,
		At:         now,
	})
	if err != nil {
		return dto.Message{}, err
	}
	ctx = context.WithoutCancel(ctx)

	listing, err := s.Listings.ByID(ctx, domainlistings.ListingID(msg.ListingID))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return dto.Message{}, domainmessaging.ErrListingNotFound
		}
		return dto.Message{}, unavailable("load listing", err)
	}
	users, err := s.Users.ByIDs(ctx, []domainuser.ID{domainuser.ID(msg.SenderID), domainuser.ID(msg.ReceiverID)})
	if err != nil {
		return dto.Message{}, unavailable("load users", err)
	}
	receiver, ok := users[domainuser.ID(msg.ReceiverID)]
	if !ok {
		return dto.Message{}, domainmessaging.ErrReceiverNotFound
	}

	conversation, err := s.Conversations.Upsert(ctx, domainmessaging.UpsertConversationParams{
		ConversationID: msg.ConversationID,
		Participants:   []string{msg.SenderID, msg.ReceiverID},
		ListingID:      msg.ListingID,
		At:             now,
	})
	if err != nil {
		return dto.Message{}, unavailable("upsert conversation", err)
	}
	if !conversation.HasParticipant(msg.SenderID) || !conversation.HasParticipant(msg.ReceiverID) {
		s.warn("conversation id collision", "conversation_id", conversation.ConversationID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
		return dto.Message{}, domainmessaging.ErrConversationMismatch
	}
	if err := s.Messages.Insert(ctx, msg); err != nil {
		return dto.Message{}, unavailable("insert message", err)
	}
	if err := s.Conversations.SetLastMessage(ctx, conversation.ConversationID, msg.ID, msg.CreatedAt); err != nil {
		// the message is durable; readers fall back to message history
		s.warn("last message pointer not updated", "error", err, "conversation_id", conversation.ConversationID, "message_id", msg.ID)
	}

	view := toMessageDTO(msg, users)
	s.emit(ctx, msg.ReceiverID, policies.EventNewMessage, view)
	s.emit(ctx, msg.SenderID, policies.EventMessageSent, view)

	s.notify(ctx, receiver, view.Sender.Name, listing, msg)
	if err := appoutbox.Record(ctx, s.Outbox, s.Encoder, domainmessaging.MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ListingID:      msg.ListingID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		At:             msg.CreatedAt,
	}); err != nil {
		s.warn("message event not recorded", "error", err, "message_id", msg.ID)
	}
	if s.Logger != nil {
		s.Logger.Info("message sent", "message_id", msg.ID, "conversation_id", msg.ConversationID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
	}
	return view, nil
}

// ListConversations returns the user's inbox, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]dto.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainmessaging.Required("user_id")
	}
	conversations, err := s.Conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, unavailable("list conversations", err)
	}
	if len(conversations) == 0 {
		return []dto.Conversation{}, nil
	}

	var (
		userIDs    []domainuser.ID
		listingIDs []domainlistings.ListingID
		messageIDs []string
		seenUsers  = make(map[string]struct{})
	)
	for _, conv := range conversations {
		for _, p := range conv.Participants {
			if _, ok := seenUsers[p]; !ok {
				seenUsers[p] = struct{}{}
				userIDs = append(userIDs, domainuser.ID(p))
			}
		}
		listingIDs = append(listingIDs, domainlistings.ListingID(conv.ListingID))
		if conv.LastMessageID != "" {
			messageIDs = append(messageIDs, conv.LastMessageID)
		}
	}
	users, err := s.Users.ByIDs(ctx, userIDs)
	if err != nil {
		return nil, unavailable("load users", err)
	}
	listings, err := s.Listings.ByIDs(ctx, listingIDs)
	if err != nil {
		return nil, unavailable("load listings", err)
	}
	lastMessages, err := s.Messages.ByIDs(ctx, messageIDs)
	if err != nil {
		return nil, unavailable("load last messages", err)
	}

	out := make([]dto.Conversation, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]
		last, ok := lastMessages[conv.LastMessageID]
		if !ok {
			last, err = s.Messages.Latest(ctx, conv.ConversationID)
			if errors.Is(err, domainmessaging.ErrNotFound) {
				// created by a send that never stored its message
				continue
			}
			if err != nil {
				return nil, unavailable("recompute last message", err)
			}
		}
		lastView := toMessageDTO(last, users)
		item := dto.Conversation{
			ID:             conv.ID,
			ConversationID: conv.ConversationID,
			Participants:   make([]domainuser.Summary, 0, len(conv.Participants)),
			Listing:        listingSummary(listings, conv.ListingID),
			LastMessage:    &lastView,
			LastActivity:   conv.LastActivity,
			CreatedAt:      conv.CreatedAt,
			UpdatedAt:      conv.UpdatedAt,
		}
		for _, p := range conv.Participants {
			item.Participants = append(item.Participants, userSummary(users, p))
		}
		out = append(out, item)
	}
	return out, nil
}

// GetConversationMessages returns the thread in chronological order and then
// marks the caller's unread messages as read. The returned snapshot keeps the
// read flags as they were before marking.
func (s *Service) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]dto.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	conversation, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.Messages.ListByConversation(ctx, conversation.ConversationID)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	ids := make([]domainuser.ID, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		ids = append(ids, domainuser.ID(p))
	}
	users, err := s.Users.ByIDs(ctx, ids)
	if err != nil {
		return nil, unavailable("load users", err)
	}
	out := make([]dto.Message, 0, len(messages))
	for i := range messages {
		out = append(out, toMessageDTO(&messages[i], users))
	}
	if _, err := s.Messages.MarkRead(context.WithoutCancel(ctx), conversation.ConversationID, userID, s.now()); err != nil {
		return nil, unavailable("mark read", err)
	}
	return out, nil
}

// MarkConversationRead flips every unread message addressed to userID. It only
// touches the caller's own messages, so no participant check is needed.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := s.ensureDependencies(); err != nil {
		return 0, err
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" {
		return 0, domainmessaging.Required("conversation_id")
	}
	if userID == "" {
		return 0, domainmessaging.Required("user_id")
	}
	updated, err := s.Messages.MarkRead(ctx, conversationID, userID, s.now())
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	return updated, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := s.ensureDependencies(); err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domainmessaging.Required("user_id")
	}
	count, err := s.Messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, unavailable("count unread", err)
	}
	return count, nil
}

// AuthorizeConversation succeeds only for participants of an existing conversation.
func (s *Service) AuthorizeConversation(ctx context.Context, conversationID, userID string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	_, err := s.participantConversation(ctx, conversationID, userID)
	return err
}

func (s *Service) participantConversation(ctx context.Context, conversationID, userID string) (*domainmessaging.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" {
		return nil, domainmessaging.Required("conversation_id")
	}
	if userID == "" {
		return nil, domainmessaging.Required("user_id")
	}
	conversation, err := s.Conversations.ByConversationID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domainmessaging.ErrNotFound) {
			return nil, domainmessaging.ErrConversationNotFound
		}
		return nil, unavailable("load conversation", err)
	}
	if !conversation.HasParticipant(userID) {
		return nil, domainmessaging.ErrConversationNotFound
	}
	return conversation, nil
}

func (s *Service) emit(ctx context.Context, userID, event string, payload dto.Message) {
	if s.Realtime == nil {
		return
	}
	if err := s.Realtime.EmitToUser(ctx, userID, event, payload); err != nil {
		s.warn("realtime emit failed", "error", err, "event", event, "user_id", userID, "message_id", payload.ID)
	}
}

func (s *Service) notify(ctx context.Context, receiver *domainuser.User, senderName string, listing *domainlistings.Listing, msg *domainmessaging.Message) {
	if s.Notifier == nil || receiver == nil || strings.TrimSpace(receiver.Email) == "" {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout())
	defer cancel()
	err := s.Notifier.Send(notifyCtx, receiver.Email, policies.TemplateNewMessage, policies.NewMessageNotification{
		RecipientName:  receiver.Name,
		SenderName:     senderName,
		ListingID:      string(listing.ID),
		ListingTitle:   listing.Title,
		MessageContent: msg.Content,
	})
	if err != nil {
		s.warn("message notification failed", "error", err, "message_id", msg.ID, "receiver_id", msg.ReceiverID)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) notifyTimeout() time.Duration {
	if s.NotifyTimeout > 0 {
		return s.NotifyTimeout
	}
	return defaultNotifyTimeout
}

func (s *Service) ensureDependencies() error {
	switch {
	case s.Conversations == nil:
		return errors.New("messaging: conversation repository required")
	case s.Messages == nil:
		return errors.New("messaging: message repository required")
	case s.Users == nil:
		return errors.New("messaging: user repository required")
	case s.Listings == nil:
		return errors.New("messaging: listing repository required")
	default:
		return nil
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domainmessaging.ErrUnavailable, err)
}

func toMessageDTO(msg *domainmessaging.Message, users map[domainuser.ID]*domainuser.User) dto.Message {
	return dto.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		ListingID:      msg.ListingID,
		Sender:         userSummary(users, msg.SenderID),
		Receiver:       userSummary(users, msg.ReceiverID),
		Content:        msg.Content,
		IsRead:         msg.IsRead,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}

func userSummary(users map[domainuser.ID]*domainuser.User, id string) domainuser.Summary {
	if u, ok := users[domainuser.ID(id)]; ok {
		return u.Summary()
	}
	return domainuser.Summary{ID: id}
}

func listingSummary(listings map[domainlistings.ListingID]*domainlistings.Listing, id string) domainlistings.Summary {
	if l, ok := listings[domainlistings.ListingID(id)]; ok {
		return l.Summary()
	}
	return domainlistings.Summary{ID: id}
}
