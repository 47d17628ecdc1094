package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"

	domainmessaging "exodrive/internal/domain/messaging"
)

var errNoSession = errors.New("scylla session not initialized")

const conversationColumns = `conversation_id, id, listing_id, participants, last_message_id, last_message_at, last_activity, created_at, updated_at`

const messageColumns = `conversation_id, message_id, sender_id, receiver_id, listing_id, content, is_read, created_at, updated_at`

// Store keeps conversations and messages in Scylla. Conversation creation
// goes through a lightweight transaction so concurrent first sends converge.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

// Conversations and Messages expose the store through the domain ports.
func (s *Store) Conversations() domainmessaging.ConversationRepository { return conversationStore{s} }
func (s *Store) Messages() domainmessaging.MessageRepository           { return messageStore{s} }

type conversationStore struct{ *Store }

type messageStore struct{ *Store }

func (s conversationStore) Upsert(ctx context.Context, params domainmessaging.UpsertConversationParams) (*domainmessaging.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	at := params.At.UTC()
	existing := map[string]interface{}{}
	applied, err := s.session.
		Query(`INSERT INTO conversations (conversation_id, id, listing_id, participants, last_activity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			params.ConversationID, gocql.TimeUUID(), params.ListingID, params.Participants, at, at, at).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		return nil, fmt.Errorf("scylla: create conversation %s: %w", params.ConversationID, err)
	}
	// index rows are idempotent; writing them on every send repairs a lost write
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, p := range params.Participants {
		batch.Query(`INSERT INTO conversations_by_user (user_id, conversation_id) VALUES (?, ?)`, p, params.ConversationID)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return nil, fmt.Errorf("scylla: index conversation %s: %w", params.ConversationID, err)
	}
	if !applied {
		if _, err := s.session.
			Query(`UPDATE conversations SET last_activity = ?, updated_at = ? WHERE conversation_id = ? IF last_activity < ?`,
				at, at, params.ConversationID, at).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{}); err != nil {
			return nil, fmt.Errorf("scylla: touch conversation %s: %w", params.ConversationID, err)
		}
	}
	return s.ByConversationID(ctx, params.ConversationID)
}

func (s conversationStore) ByConversationID(ctx context.Context, conversationID string) (*domainmessaging.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	row, err := scanConversation(s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ? LIMIT 1`, conversationID).
		WithContext(ctx))
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainmessaging.ErrConversationNotFound
		}
		return nil, err
	}
	return row, nil
}

func (s conversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainmessaging.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	idIter := s.session.
		Query(`SELECT conversation_id FROM conversations_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()
	var ids []string
	var id string
	for idIter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := idIter.Close(); err != nil {
		return nil, err
	}
	out := make([]domainmessaging.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	iter := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id IN ?`, ids).
		WithContext(ctx).
		Iter()
	for {
		var r conversationRow
		if !iter.Scan(r.dest()...) {
			break
		}
		out = append(out, *r.toDomain())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// SetLastMessage moves the pointer with a conditional update. A null
// last_message_at never satisfies a comparison, so the empty case has its own condition.
func (s conversationStore) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	if s.session == nil {
		return errNoSession
	}
	conv, err := s.ByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	at = at.UTC()
	empty := conv.LastMessageID == ""
	for attempt := 0; attempt < 2; attempt++ {
		clause, args := "IF last_message_at <= ?", []interface{}{messageID, at, at, at, conversationID, at}
		if empty {
			clause, args = "IF last_message_at = null", args[:5]
		}
		current := map[string]interface{}{}
		applied, err := s.session.
			Query(`UPDATE conversations SET last_message_id = ?, last_message_at = ?, last_activity = ?, updated_at = ? WHERE conversation_id = ? `+clause, args...).
			WithContext(ctx).
			MapScanCAS(current)
		if err != nil {
			return fmt.Errorf("scylla: set last message: %w", err)
		}
		if applied || !empty {
			// not applied here means a newer message already owns the pointer
			return nil
		}
		// another send set the first pointer; compare against it instead
		empty = false
	}
	return nil
}

func (s messageStore) Insert(ctx context.Context, msg *domainmessaging.Message) error {
	if s.session == nil {
		return errNoSession
	}
	if msg == nil {
		return domainmessaging.Required("message")
	}
	id := gocql.UUIDFromTime(msg.CreatedAt)
	if msg.ID != "" {
		parsed, err := gocql.ParseUUID(msg.ID)
		if err != nil {
			return &domainmessaging.FieldError{Field: "id", Reason: "must be a time uuid"}
		}
		id = parsed
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, id, msg.SenderID, msg.ReceiverID, msg.ListingID, msg.Content, msg.IsRead, msg.CreatedAt.UTC(), msg.UpdatedAt.UTC())
	batch.Query(`INSERT INTO messages_by_id (message_id, conversation_id) VALUES (?, ?)`, id, msg.ConversationID)
	if !msg.IsRead {
		batch.Query(`INSERT INTO unread_messages (receiver_id, conversation_id, message_id) VALUES (?, ?, ?)`,
			msg.ReceiverID, msg.ConversationID, id)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("scylla: insert message: %w", err)
	}
	msg.ID = id.String()
	return nil
}

func (s messageStore) ByIDs(ctx context.Context, ids []string) (map[string]*domainmessaging.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	out := make(map[string]*domainmessaging.Message, len(ids))
	for _, raw := range ids {
		id, err := gocql.ParseUUID(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		var conversationID string
		err = s.session.
			Query(`SELECT conversation_id FROM messages_by_id WHERE message_id = ?`, id).
			WithContext(ctx).
			Scan(&conversationID)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msg, err := scanMessage(s.session.
			Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id = ?`, conversationID, id).
			WithContext(ctx))
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[msg.ID] = msg
	}
	return out, nil
}

func (s messageStore) ListByConversation(ctx context.Context, conversationID string) ([]domainmessaging.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Iter()
	out := make([]domainmessaging.Message, 0)
	for {
		var r messageRow
		if !iter.Scan(r.dest()...) {
			break
		}
		out = append(out, *r.toDomain())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s messageStore) Latest(ctx context.Context, conversationID string) (*domainmessaging.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	msg, err := scanMessage(s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT 1`, conversationID).
		WithContext(ctx))
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, domainmessaging.ErrMessageNotFound
	}
	return msg, err
}

// MarkRead flips each unread message with a conditional update so that
// concurrent callers never count the same message twice.
func (s messageStore) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	if s.session == nil {
		return 0, errNoSession
	}
	at = at.UTC()
	iter := s.session.
		Query(`SELECT message_id FROM unread_messages WHERE receiver_id = ? AND conversation_id = ?`, receiverID, conversationID).
		WithContext(ctx).
		Iter()
	var pending []gocql.UUID
	var id gocql.UUID
	for iter.Scan(&id) {
		pending = append(pending, id)
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	var updated int64
	for _, id := range pending {
		applied, err := s.session.
			Query(`UPDATE messages SET is_read = true, updated_at = ? WHERE conversation_id = ? AND message_id = ? IF is_read = false`,
				at, conversationID, id).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return updated, fmt.Errorf("scylla: mark read: %w", err)
		}
		if applied {
			updated++
		}
		if err := s.session.
			Query(`DELETE FROM unread_messages WHERE receiver_id = ? AND conversation_id = ? AND message_id = ?`, receiverID, conversationID, id).
			WithContext(ctx).
			Exec(); err != nil && s.logger != nil {
			s.logger.Warn("unread index not cleared", "error", err, "conversation_id", conversationID, "message_id", id.String())
		}
	}
	return updated, nil
}

func (s messageStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	if s.session == nil {
		return 0, errNoSession
	}
	var count int64
	if err := s.session.
		Query(`SELECT COUNT(*) FROM unread_messages WHERE receiver_id = ?`, receiverID).
		WithContext(ctx).
		Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type conversationRow struct {
	conversationID string
	id             gocql.UUID
	listingID      string
	participants   []string
	lastMessageID  string
	lastMessageAt  time.Time
	lastActivity   time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{&r.conversationID, &r.id, &r.listingID, &r.participants, &r.lastMessageID, &r.lastMessageAt, &r.lastActivity, &r.createdAt, &r.updatedAt}
}

func (r *conversationRow) toDomain() *domainmessaging.Conversation {
	return &domainmessaging.Conversation{
		ID:             r.id.String(),
		ConversationID: r.conversationID,
		Participants:   append([]string(nil), r.participants...),
		ListingID:      r.listingID,
		LastMessageID:  r.lastMessageID,
		LastMessageAt:  r.lastMessageAt.UTC(),
		LastActivity:   r.lastActivity.UTC(),
		CreatedAt:      r.createdAt.UTC(),
		UpdatedAt:      r.updatedAt.UTC(),
	}
}

func scanConversation(q *gocql.Query) (*domainmessaging.Conversation, error) {
	var r conversationRow
	if err := q.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

type messageRow struct {
	conversationID string
	id             gocql.UUID
	senderID       string
	receiverID     string
	listingID      string
	content        string
	isRead         bool
	createdAt      time.Time
	updatedAt      time.Time
}

func (r *messageRow) dest() []interface{} {
	return []interface{}{&r.conversationID, &r.id, &r.senderID, &r.receiverID, &r.listingID, &r.content, &r.isRead, &r.createdAt, &r.updatedAt}
}

func (r *messageRow) toDomain() *domainmessaging.Message {
	return &domainmessaging.Message{
		ID:             r.id.String(),
		SenderID:       r.senderID,
		ReceiverID:     r.receiverID,
		ListingID:      r.listingID,
		ConversationID: r.conversationID,
		Content:        r.content,
		IsRead:         r.isRead,
		CreatedAt:      r.createdAt.UTC(),
		UpdatedAt:      r.updatedAt.UTC(),
	}
}

func scanMessage(q *gocql.Query) (*domainmessaging.Message, error) {
	var r messageRow
	if err := q.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}
