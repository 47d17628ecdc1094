package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainmessaging "exodrive/internal/domain/messaging"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(ctx context.Context, db *mongo.Database) (*MessageRepository, error) {
	col := db.Collection("messages")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: message indexes: %w", err)
	}
	return &MessageRepository{col: col}, nil
}

type messageDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	SenderID       string             `bson:"sender_id"`
	ReceiverID     string             `bson:"receiver_id"`
	ListingID      string             `bson:"listing_id"`
	ConversationID string             `bson:"conversation_id"`
	Content        string             `bson:"content"`
	IsRead         bool               `bson:"is_read"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func (d messageDocument) toDomain() *domainmessaging.Message {
	return &domainmessaging.Message{
		ID:             d.ID.Hex(),
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		ListingID:      d.ListingID,
		ConversationID: d.ConversationID,
		Content:        d.Content,
		IsRead:         d.IsRead,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

// Insert assigns an ObjectID when the message has none.
func (r *MessageRepository) Insert(ctx context.Context, msg *domainmessaging.Message) error {
	if msg == nil {
		return domainmessaging.Required("message")
	}
	id := primitive.NewObjectID()
	if msg.ID != "" {
		parsed, err := primitive.ObjectIDFromHex(msg.ID)
		if err != nil {
			return &domainmessaging.FieldError{Field: "id", Reason: "must be an object id"}
		}
		id = parsed
	}
	doc := messageDocument{
		ID:             id,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		ListingID:      msg.ListingID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		IsRead:         msg.IsRead,
		CreatedAt:      msg.CreatedAt.UTC(),
		UpdatedAt:      msg.UpdatedAt.UTC(),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert message: %w", err)
	}
	msg.ID = id.Hex()
	return nil
}

func (r *MessageRepository) ByIDs(ctx context.Context, ids []string) (map[string]*domainmessaging.Message, error) {
	oids := objectIDs(ids)
	out := make(map[string]*domainmessaging.Message, len(oids))
	if len(oids) == 0 {
		return out, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		msg := d.toDomain()
		out[msg.ID] = msg
	}
	return out, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]domainmessaging.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainmessaging.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.toDomain())
	}
	return out, nil
}

func (r *MessageRepository) Latest(ctx context.Context, conversationID string) (*domainmessaging.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var doc messageDocument
	if err := r.col.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmessaging.ErrMessageNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	filter := bson.M{"conversation_id": conversationID, "receiver_id": receiverID, "is_read": false}
	update := bson.M{"$set": bson.M{"is_read": true, "updated_at": at.UTC()}}
	res, err := r.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mongo: mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"receiver_id": receiverID, "is_read": false})
}

func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		out = append(out, oid)
	}
	return out
}

var _ domainmessaging.MessageRepository = (*MessageRepository)(nil)
