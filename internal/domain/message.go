package domain

import (
	"sort"
	"strings"
	"time"
)

// Message kinds. Every kind except "text" carries a file attachment.
const (
	MessageTypeText               = "text"
	MessageTypeImage              = "image"
	MessageTypeFile               = "file"
	MessageTypeAppointmentRequest = "appointment_request"
	MessageTypePrescription       = "prescription"
)

// MaxContentLength bounds text content, counted in code points.
const MaxContentLength = 2000

// Message represents a direct message between two principals.
// Maps to the MongoDB messages collection.
type Message struct {
	ID          string     `json:"id" bson:"_id"`
	Sender      string     `json:"sender" bson:"sender"`
	Receiver    string     `json:"receiver" bson:"receiver"`
	Content     string     `json:"content" bson:"content"`
	MessageType string     `json:"message_type" bson:"message_type"`
	FileURL     string     `json:"file_url,omitempty" bson:"file_url,omitempty"`
	FileName    string     `json:"file_name,omitempty" bson:"file_name,omitempty"`
	FileSize    int64      `json:"file_size,omitempty" bson:"file_size,omitempty"`
	ReplyTo     string     `json:"reply_to,omitempty" bson:"reply_to,omitempty"`
	IsRead      bool       `json:"is_read" bson:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty" bson:"read_at,omitempty"`
	IsDelivered bool       `json:"is_delivered" bson:"is_delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
	IsDeleted   bool       `json:"-" bson:"is_deleted"`
	DeletedAt   *time.Time `json:"-" bson:"deleted_at,omitempty"`
	DeletedBy   string     `json:"-" bson:"deleted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
}

// Counterparty returns the other participant relative to user.
func (m *Message) Counterparty(user string) string {
	if m.Sender == user {
		return m.Receiver
	}
	return m.Sender
}

// ConversationKey returns the stable identifier of the unordered
// participant pair. Identical regardless of who sent first.
func (m *Message) ConversationKey() string {
	return ConversationKey(m.Sender, m.Receiver)
}

// ConversationKey derives the order-independent key for a pair of
// principals: both ids sorted lexicographically and joined.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// ConversationAggregate is one partition of a user's message history,
// keyed by the other participant: the most recent message and the count
// of unread messages addressed to the user. The bson tags match the
// aggregation pipeline output.
type ConversationAggregate struct {
	Counterparty string   `bson:"_id"`
	LastMessage  *Message `bson:"last_message"`
	UnreadCount  int      `bson:"unread_count"`
}

// ConversationSummary is the derived per-counterparty view returned by
// the conversation listing. Never persisted; it is recomputed from the
// message store on every read so it cannot drift from the stored records.
type ConversationSummary struct {
	Counterparty *UserSummary `json:"counterparty"`
	LastMessage  *Message     `json:"last_message"`
	UnreadCount  int          `json:"unread_count"`
}
