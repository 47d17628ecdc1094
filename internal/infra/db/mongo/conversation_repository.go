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

// ConversationRepository stores one document per conversation id. The unique
// index on conversation_id is what makes concurrent first sends converge.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(ctx context.Context, db *mongo.Database) (*ConversationRepository, error) {
	col := db.Collection("conversations")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: conversation indexes: %w", err)
	}
	return &ConversationRepository{col: col}, nil
}

type conversationDocument struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID string             `bson:"conversation_id"`
	Participants   []string           `bson:"participants"`
	ListingID      string             `bson:"listing_id"`
	LastMessage    string             `bson:"last_message,omitempty"`
	LastMessageAt  time.Time          `bson:"last_message_at,omitempty"`
	LastActivity   time.Time          `bson:"last_activity"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func (d conversationDocument) toDomain() *domainmessaging.Conversation {
	return &domainmessaging.Conversation{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID,
		Participants:   append([]string(nil), d.Participants...),
		ListingID:      d.ListingID,
		LastMessageID:  d.LastMessage,
		LastMessageAt:  d.LastMessageAt.UTC(),
		LastActivity:   d.LastActivity.UTC(),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func (r *ConversationRepository) Upsert(ctx context.Context, params domainmessaging.UpsertConversationParams) (*domainmessaging.Conversation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	at := params.At.UTC()
	filter := bson.M{"conversation_id": params.ConversationID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"participants": params.Participants,
			"listing_id":   params.ListingID,
			"created_at":   at,
		},
		"$max": bson.M{"last_activity": at, "updated_at": at},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc conversationDocument
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost the insert race; the winner's document now matches the filter
		err = r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: upsert conversation %s: %w", params.ConversationID, err)
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ByConversationID(ctx context.Context, conversationID string) (*domainmessaging.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmessaging.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]domainmessaging.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainmessaging.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.toDomain())
	}
	return out, nil
}

func (r *ConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	at = at.UTC()
	filter := bson.M{
		"conversation_id": conversationID,
		"$or": bson.A{
			bson.M{"last_message_at": bson.M{"$exists": false}},
			bson.M{"last_message_at": bson.M{"$lte": at}},
		},
	}
	update := bson.M{
		"$set": bson.M{"last_message": messageID, "last_message_at": at},
		"$max": bson.M{"last_activity": at, "updated_at": at},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo: set last message: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := r.col.CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return err
	}
	if n == 0 {
		return domainmessaging.ErrConversationNotFound
	}
	// a newer message already owns the pointer
	return nil
}

var _ domainmessaging.ConversationRepository = (*ConversationRepository)(nil)
