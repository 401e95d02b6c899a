package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clinichub-backend/internal/domain"
)

// MessageRepository persists messages in the MongoDB messages collection
type MessageRepository struct {
	coll *mongo.Collection
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection("messages")}
}

// notDeleted extends a filter with the soft-delete guard. Every read
// path goes through this single helper so no query can forget it.
func notDeleted(filter bson.M) bson.M {
	filter["is_deleted"] = false
	return filter
}

// betweenUsers matches messages exchanged between a and b in either direction.
func betweenUsers(a, b string) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"sender": a, "receiver": b},
			bson.M{"sender": b, "receiver": a},
		},
	}
}

// Insert stores a new message record
func (r *MessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindByID returns a message by id, or nil when absent. Deleted records
// are returned too; callers decide whether deletion matters.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message %s: %w", id, err)
	}
	return &msg, nil
}

// MarkRead bulk-transitions all unread messages from sender to receiver,
// stamping read_at once per record. Idempotent: already-read records do
// not match the filter, so a repeat call reports zero.
func (r *MessageRepository) MarkRead(ctx context.Context, sender, receiver string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"sender": sender, "receiver": receiver, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.ModifiedCount, nil
}

// SoftDelete flags a message deleted without removing the record
func (r *MessageRepository) SoftDelete(ctx context.Context, id, deletedBy string) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"is_deleted": true,
		"deleted_at": time.Now(),
		"deleted_by": deletedBy,
	}})
	if err != nil {
		return fmt.Errorf("failed to soft delete message %s: %w", id, err)
	}
	return nil
}

// UnreadCount counts non-deleted unread messages addressed to user
func (r *MessageRepository) UnreadCount(ctx context.Context, user string) (int64, error) {
	count, err := r.coll.CountDocuments(ctx, notDeleted(bson.M{
		"receiver": user,
		"is_read":  false,
	}))
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// Conversation returns the messages between a and b, newest first,
// paginated by offset/limit. Deleted messages are excluded.
func (r *MessageRepository) Conversation(ctx context.Context, a, b string, limit, offset int) ([]*domain.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, notDeleted(betweenUsers(a, b)), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*domain.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return messages, nil
}

// Aggregate recomputes the per-counterparty summaries for user: latest
// message and unread count per partition, sorted by latest activity.
// Recomputed on every call; nothing here is cached or incrementally
// maintained.
func (r *MessageRepository) Aggregate(ctx context.Context, user string) ([]*domain.ConversationAggregate, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: notDeleted(bson.M{
			"$or": bson.A{bson.M{"sender": user}, bson.M{"receiver": user}},
		})}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.M{
				"if":   bson.M{"$eq": bson.A{"$sender", user}},
				"then": "$receiver",
				"else": "$sender",
			}},
			"last_message": bson.M{"$first": "$$ROOT"},
			"unread_count": bson.M{"$sum": bson.M{"$cond": bson.M{
				"if": bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver", user}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}},
				"then": 1,
				"else": 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_message.created_at", Value: -1}}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var aggregates []*domain.ConversationAggregate
	if err := cursor.All(ctx, &aggregates); err != nil {
		return nil, fmt.Errorf("failed to decode conversation aggregates: %w", err)
	}
	return aggregates, nil
}

// Search returns the user's own non-deleted messages whose content
// contains the substring, case-insensitive, newest first.
func (r *MessageRepository) Search(ctx context.Context, user, query string, limit int) ([]*domain.Message, error) {
	filter := notDeleted(bson.M{
		"$or":     bson.A{bson.M{"sender": user}, bson.M{"receiver": user}},
		"content": primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"},
	})
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*domain.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return messages, nil
}

// EnsureIndexes creates the compound indexes backing the hot queries
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "is_read", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}
