// Package data provides the message model and its stores.
package data

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultPartnerLimit caps GetRecentChats when the caller passes no limit.
const DefaultPartnerLimit = 50

// MessagesStore provides message database operations backed by MongoDB.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// SaveMessage inserts msg and returns it with its generated ID. The caller
// owns the timestamp; the store never rewrites it.
func (m *MessagesStore) SaveMessage(ctx context.Context, msg *Message) (*Message, error) {
	doc := *msg
	doc.ID = bson.ObjectID{}
	doc.SenderEmail = normalize.Email(doc.SenderEmail)
	doc.ReceiverEmail = normalize.Email(doc.ReceiverEmail)

	result, err := m.coll.InsertOne(ctx, &doc)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, ok := result.InsertedID.(bson.ObjectID)
	if !ok {
		return nil, fmt.Errorf("insert message: unexpected id type %T", result.InsertedID)
	}
	doc.ID = id
	return &doc, nil
}

// GetConversation returns every message exchanged between user1 and user2,
// in either direction, oldest first.
func (m *MessagesStore) GetConversation(ctx context.Context, user1, user2 string) ([]*Message, error) {
	// _id breaks ties between messages saved within the same millisecond.
	opts := options.Find().SetSort(bson.D{
		{Key: "timestamp", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := m.coll.Find(ctx, conversationFilter(user1, user2), opts)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return messages, nil
}

func conversationFilter(user1, user2 string) bson.M {
	u1 := normalize.Email(user1)
	u2 := normalize.Email(user2)

	return bson.M{
		"$or": bson.A{
			bson.M{"sender_email": u1, "receiver_email": u2},
			bson.M{"sender_email": u2, "receiver_email": u1},
		},
	}
}

// GetRecentChats returns one entry per conversation partner of userEmail with
// the last message exchanged, most recent conversation first.
func (m *MessagesStore) GetRecentChats(ctx context.Context, userEmail string, limit int64) ([]*ChatPartner, error) {
	if limit <= 0 {
		limit = DefaultPartnerLimit
	}
	userEmail = normalize.Email(userEmail)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender_email", Value: userEmail}},
				bson.D{{Key: "receiver_email", Value: userEmail}},
			}},
		}}},

		// $last below depends on documents arriving in chronological order.
		bson.D{{Key: "$sort", Value: bson.D{
			{Key: "timestamp", Value: 1},
			{Key: "_id", Value: 1},
		}}},

		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$sender_email", userEmail}}},
					"$receiver_email",
					"$sender_email",
				}},
			}},
			// File messages carry no text; show the attachment name instead.
			{Key: "last_message", Value: bson.D{{Key: "$last", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$message_text", "$original_name", ""}},
			}}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$last", Value: "$timestamp"}}},
		}}},

		bson.D{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate recent chats: %w", err)
	}
	defer cursor.Close(ctx)

	partners := []*ChatPartner{}
	if err = cursor.All(ctx, &partners); err != nil {
		return nil, fmt.Errorf("decode recent chats: %w", err)
	}
	return partners, nil
}
