package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainmessaging "exodrive/internal/domain/messaging"
)

// ConversationStore keeps conversations keyed by their natural key. Not suitable for production.
type ConversationStore struct {
	mu    sync.RWMutex
	items map[string]*domainmessaging.Conversation
	ids   func() string
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		items: make(map[string]*domainmessaging.Conversation),
		ids:   uuid.NewString,
	}
}

func (s *ConversationStore) Upsert(ctx context.Context, params domainmessaging.UpsertConversationParams) (*domainmessaging.Conversation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	at := params.At.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[params.ConversationID]; ok {
		if at.After(existing.LastActivity) {
			existing.LastActivity = at
			existing.UpdatedAt = at
		}
		return existing.Clone(), nil
	}
	conv := &domainmessaging.Conversation{
		ID:             s.ids(),
		ConversationID: params.ConversationID,
		Participants:   append([]string(nil), params.Participants...),
		ListingID:      params.ListingID,
		LastActivity:   at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	s.items[conv.ConversationID] = conv
	return conv.Clone(), nil
}

func (s *ConversationStore) ByConversationID(ctx context.Context, conversationID string) (*domainmessaging.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.items[strings.TrimSpace(conversationID)]
	if !ok {
		return nil, domainmessaging.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainmessaging.Conversation, error) {
	s.mu.RLock()
	out := make([]domainmessaging.Conversation, 0)
	for _, conv := range s.items {
		if conv.HasParticipant(userID) {
			out = append(out, *conv.Clone())
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *ConversationStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return domainmessaging.ErrConversationNotFound
	}
	if conv.LastMessageID != "" && at.Before(conv.LastMessageAt) {
		return nil
	}
	conv.LastMessageID = messageID
	conv.LastMessageAt = at
	if at.After(conv.LastActivity) {
		conv.LastActivity = at
	}
	conv.UpdatedAt = at
	return nil
}

// MessageStore keeps messages in insertion order.
type MessageStore struct {
	mu    sync.RWMutex
	items []*domainmessaging.Message
	byID  map[string]*domainmessaging.Message
	ids   func() string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID: make(map[string]*domainmessaging.Message),
		ids:  uuid.NewString,
	}
}

func (s *MessageStore) Insert(ctx context.Context, msg *domainmessaging.Message) error {
	if msg == nil {
		return domainmessaging.Required("message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = s.ids()
	}
	stored := msg.Clone()
	s.items = append(s.items, stored)
	s.byID[stored.ID] = stored
	return nil
}

func (s *MessageStore) ByIDs(ctx context.Context, ids []string) (map[string]*domainmessaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domainmessaging.Message, len(ids))
	for _, id := range ids {
		if msg, ok := s.byID[id]; ok {
			out[id] = msg.Clone()
		}
	}
	return out, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]domainmessaging.Message, error) {
	s.mu.RLock()
	out := make([]domainmessaging.Message, 0)
	for _, msg := range s.items {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID string) (*domainmessaging.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domainmessaging.Message
	for _, msg := range s.items {
		if msg.ConversationID != conversationID {
			continue
		}
		if latest == nil || !msg.CreatedAt.Before(latest.CreatedAt) {
			latest = msg
		}
	}
	if latest == nil {
		return nil, domainmessaging.ErrMessageNotFound
	}
	return latest.Clone(), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, msg := range s.items {
		if msg.ConversationID == conversationID && msg.ReceiverID == receiverID && !msg.IsRead {
			msg.IsRead = true
			msg.UpdatedAt = at.UTC()
			updated++
		}
	}
	return updated, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, msg := range s.items {
		if msg.ReceiverID == receiverID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

var _ domainmessaging.ConversationRepository = (*ConversationStore)(nil)
var _ domainmessaging.MessageRepository = (*MessageStore)(nil)
