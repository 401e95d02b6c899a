package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"clinichub-backend/internal/domain"
)

// MessageRepository is an in-memory implementation of the message store
// contract. It mirrors the MongoDB repository's semantics exactly so
// service tests and local runs exercise the same behavior without a
// database.
type MessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
}

// NewMessageRepository creates an empty in-memory repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[string]*domain.Message),
	}
}

// Insert stores a new message record
func (r *MessageRepository) Insert(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *msg
	r.messages[msg.ID] = &clone
	return nil
}

// FindByID returns a message by id, or nil when absent. Deleted records
// are returned too; callers decide whether deletion matters.
func (r *MessageRepository) FindByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if msg, ok := r.messages[id]; ok {
		clone := *msg
		return &clone, nil
	}
	return nil, nil
}

// MarkRead bulk-transitions unread messages from sender to receiver.
// Idempotent: a repeat call matches nothing and reports zero.
func (r *MessageRepository) MarkRead(_ context.Context, sender, receiver string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var count int64
	for _, msg := range r.messages {
		if msg.Sender == sender && msg.Receiver == receiver && !msg.IsRead {
			msg.IsRead = true
			readAt := now
			msg.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

// SoftDelete flags a message deleted without removing the record
func (r *MessageRepository) SoftDelete(_ context.Context, id, deletedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.messages[id]; ok && !msg.IsDeleted {
		now := time.Now()
		msg.IsDeleted = true
		msg.DeletedAt = &now
		msg.DeletedBy = deletedBy
	}
	return nil
}

// UnreadCount counts non-deleted unread messages addressed to user
func (r *MessageRepository) UnreadCount(_ context.Context, user string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, msg := range r.messages {
		if msg.Receiver == user && !msg.IsRead && !msg.IsDeleted {
			count++
		}
	}
	return count, nil
}

// Conversation returns the messages between a and b, newest first,
// paginated by offset/limit. Deleted messages are excluded.
func (r *MessageRepository) Conversation(_ context.Context, a, b string, limit, offset int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := domain.ConversationKey(a, b)
	var result []*domain.Message
	for _, msg := range r.messages {
		if msg.IsDeleted || msg.ConversationKey() != key {
			continue
		}
		clone := *msg
		result = append(result, &clone)
	}
	sortNewestFirst(result)
	return page(result, limit, offset), nil
}

// Aggregate recomputes the per-counterparty summaries for user: latest
// message and unread count per partition, sorted by latest activity.
func (r *MessageRepository) Aggregate(_ context.Context, user string) ([]*domain.ConversationAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	partitions := make(map[string]*domain.ConversationAggregate)
	for _, msg := range r.messages {
		if msg.IsDeleted || (msg.Sender != user && msg.Receiver != user) {
			continue
		}
		other := msg.Counterparty(user)
		agg, ok := partitions[other]
		if !ok {
			agg = &domain.ConversationAggregate{Counterparty: other}
			partitions[other] = agg
		}
		if agg.LastMessage == nil || msg.CreatedAt.After(agg.LastMessage.CreatedAt) {
			clone := *msg
			agg.LastMessage = &clone
		}
		if msg.Receiver == user && !msg.IsRead {
			agg.UnreadCount++
		}
	}

	result := make([]*domain.ConversationAggregate, 0, len(partitions))
	for _, agg := range partitions {
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessage.CreatedAt.After(result[j].LastMessage.CreatedAt)
	})
	return result, nil
}

// Search returns the user's non-deleted messages whose content contains
// the substring, case-insensitive, newest first.
func (r *MessageRepository) Search(_ context.Context, user, query string, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	needle := strings.ToLower(query)
	var result []*domain.Message
	for _, msg := range r.messages {
		if msg.IsDeleted || (msg.Sender != user && msg.Receiver != user) {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			clone := *msg
			result = append(result, &clone)
		}
	}
	sortNewestFirst(result)
	return page(result, limit, 0), nil
}

func sortNewestFirst(messages []*domain.Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
}

func page(messages []*domain.Message, limit, offset int) []*domain.Message {
	if offset >= len(messages) {
		return nil
	}
	messages = messages[offset:]
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages
}
