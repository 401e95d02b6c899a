package messaging

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"clinichub-backend/internal/domain"
	apperrors "clinichub-backend/pkg/errors"
	"clinichub-backend/pkg/metrics"
)

// MessageRepository is the storage contract for messages. Each mutation
// is a single record insert or a single bulk update, atomic at the
// storage layer; the service adds no locking on top.
type MessageRepository interface {
	Insert(ctx context.Context, msg *domain.Message) error
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	MarkRead(ctx context.Context, sender, receiver string) (int64, error)
	SoftDelete(ctx context.Context, id, deletedBy string) error
	UnreadCount(ctx context.Context, user string) (int64, error)
	Conversation(ctx context.Context, a, b string, limit, offset int) ([]*domain.Message, error)
	Aggregate(ctx context.Context, user string) ([]*domain.ConversationAggregate, error)
	Search(ctx context.Context, user, query string, limit int) ([]*domain.Message, error)
}

// UserDirectory resolves principal ids to profile and role data.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// PresenceReader is the read side of the presence registry.
type PresenceReader interface {
	IsOnline(user string) bool
}

// Notifier receives delivery-protocol hooks after successful mutations.
// Implementations push to connected recipients at most once and treat
// offline recipients as a silent no-op, never as an error.
type Notifier interface {
	NewMessage(msg *domain.Message)
	MessageSent(msg *domain.Message)
	MessagesRead(recipient, readBy string, count int64)
	MessageDeleted(recipient, messageID string)
}

// SearchLimit caps content search results, matching the portal UI.
const SearchLimit = 20

// Service owns message validation, lifecycle transitions, and the
// conversation aggregation view.
type Service struct {
	messages MessageRepository
	users    UserDirectory
	presence PresenceReader
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewService creates a new messaging service. notifier may be nil when
// no real-time transport is attached (tests, offline tooling).
func NewService(
	messages MessageRepository,
	users UserDirectory,
	presence PresenceReader,
	notifier Notifier,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messages: messages,
		users:    users,
		presence: presence,
		notifier: notifier,
		metrics:  m,
	}
}

// SendInput contains the data for a new message.
type SendInput struct {
	Sender      string
	Receiver    string
	Content     string
	MessageType string
	ReplyTo     string
	FileURL     string
	FileName    string
	FileSize    int64
}

// Send validates and stores a message, then hands it to the delivery
// protocol. All validation happens before any write, so a rejected send
// mutates nothing. The stored record is stamped delivered immediately:
// durability lives here, not in the transport.
func (s *Service) Send(ctx context.Context, input *SendInput) (*domain.Message, error) {
	if input.Sender == input.Receiver {
		return nil, apperrors.SameParticipantError()
	}

	msgType := input.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !validMessageType(msgType) {
		return nil, apperrors.ValidationError("Unknown message type: " + msgType)
	}

	content := strings.TrimSpace(input.Content)
	if msgType == domain.MessageTypeText {
		if content == "" {
			return nil, apperrors.InvalidContentError("Message content is required")
		}
	} else if input.FileURL == "" {
		return nil, apperrors.InvalidContentError("File URL is required for non-text messages")
	}
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return nil, apperrors.InvalidContentError("Message content exceeds maximum length")
	}

	receiver, err := s.users.FindByID(ctx, input.Receiver)
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}
	if receiver == nil {
		return nil, apperrors.UserNotFoundError()
	}

	sender, err := s.users.FindByID(ctx, input.Sender)
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}
	if sender == nil {
		return nil, apperrors.UserNotFoundError()
	}

	// Conversations are restricted to cross-role pairs; admins are
	// exempt so support threads keep working.
	if sender.Role == receiver.Role && sender.Role != domain.RoleAdmin {
		return nil, apperrors.RoleConflictError()
	}

	if input.ReplyTo != "" {
		target, err := s.messages.FindByID(ctx, input.ReplyTo)
		if err != nil {
			return nil, apperrors.StorageUnavailableError(err)
		}
		if target == nil || target.IsDeleted {
			return nil, apperrors.ReplyTargetNotFoundError()
		}
	}

	now := time.Now()
	msg := &domain.Message{
		ID:          uuid.NewString(),
		Sender:      input.Sender,
		Receiver:    input.Receiver,
		Content:     content,
		MessageType: msgType,
		FileURL:     input.FileURL,
		FileName:    input.FileName,
		FileSize:    input.FileSize,
		ReplyTo:     input.ReplyTo,
		IsDelivered: true,
		DeliveredAt: &now,
		CreatedAt:   now,
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordMessageSent(msgType)
	}

	if s.notifier != nil {
		s.notifier.NewMessage(msg)
		s.notifier.MessageSent(msg)
	}

	return msg, nil
}

// MarkRead bulk-transitions all unread messages from sender to reader,
// then pushes a read receipt back to the original sender. Idempotent: a
// repeat call reports zero.
func (s *Service) MarkRead(ctx context.Context, sender, reader string) (int64, error) {
	count, err := s.messages.MarkRead(ctx, sender, reader)
	if err != nil {
		return 0, apperrors.StorageUnavailableError(err)
	}

	if s.metrics != nil && count > 0 {
		s.metrics.RecordMessagesRead(int(count))
	}

	if s.notifier != nil {
		s.notifier.MessagesRead(sender, reader, count)
	}

	return count, nil
}

// SoftDelete flags a message deleted. Only the original sender may
// delete; the record stays in storage and is filtered from every read.
func (s *Service) SoftDelete(ctx context.Context, messageID, requester string) error {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return apperrors.StorageUnavailableError(err)
	}
	if msg == nil {
		return apperrors.MessageNotFoundError()
	}
	if msg.Sender != requester {
		return apperrors.AccessDeniedError("Not authorized to delete this message")
	}

	if err := s.messages.SoftDelete(ctx, messageID, requester); err != nil {
		return apperrors.StorageUnavailableError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordMessageDeleted()
	}

	if s.notifier != nil {
		s.notifier.MessageDeleted(msg.Receiver, messageID)
	}

	return nil
}

// UnreadCount returns the number of non-deleted unread messages
// addressed to user.
func (s *Service) UnreadCount(ctx context.Context, user string) (int64, error) {
	count, err := s.messages.UnreadCount(ctx, user)
	if err != nil {
		return 0, apperrors.StorageUnavailableError(err)
	}
	return count, nil
}

// GetConversation returns one page of the conversation between user and
// other, oldest first within the page. The storage query runs newest
// first so page 1 is always the most recent slice.
func (s *Service) GetConversation(ctx context.Context, user, other string, limit, offset int) ([]*domain.Message, error) {
	messages, err := s.messages.Conversation(ctx, user, other, limit, offset)
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}

	// Reverse to oldest-first for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations recomputes the conversation summaries for user from
// the message store. Recompute-on-read keeps the summary exactly
// consistent with storage; there are no incremental counters to drift.
// A pair with no messages yields no summary.
func (s *Service) ListConversations(ctx context.Context, user string) ([]*domain.ConversationSummary, error) {
	aggregates, err := s.messages.Aggregate(ctx, user)
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}

	summaries := make([]*domain.ConversationSummary, 0, len(aggregates))
	for _, agg := range aggregates {
		summary := &domain.ConversationSummary{
			LastMessage: agg.LastMessage,
			UnreadCount: agg.UnreadCount,
		}

		counterparty, err := s.users.FindByID(ctx, agg.Counterparty)
		if err != nil {
			return nil, apperrors.StorageUnavailableError(err)
		}
		if counterparty != nil {
			summary.Counterparty = counterparty.ToSummary()
		} else {
			// Directory record gone; keep the conversation visible.
			summary.Counterparty = &domain.UserSummary{ID: agg.Counterparty}
		}
		if s.presence != nil {
			summary.Counterparty.IsOnline = s.presence.IsOnline(agg.Counterparty)
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Search returns the user's messages whose content contains the query,
// case-insensitive, newest first, capped at SearchLimit.
func (s *Service) Search(ctx context.Context, user, query string) ([]*domain.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.ValidationError("Search query is required")
	}

	messages, err := s.messages.Search(ctx, user, query, SearchLimit)
	if err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}
	return messages, nil
}

func validMessageType(t string) bool {
	switch t {
	case domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeFile,
		domain.MessageTypeAppointmentRequest, domain.MessageTypePrescription:
		return true
	}
	return false
}
