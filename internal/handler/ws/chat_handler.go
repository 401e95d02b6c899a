package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clinichub-backend/internal/domain"
	"clinichub-backend/internal/presence"
	"clinichub-backend/pkg/jwt"
	"clinichub-backend/pkg/metrics"
)

// Inbound event names (client to server).
const (
	EventAuthenticate      = "authenticate"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventTyping            = "typing"
)

// Outbound event names (server to client).
const (
	EventAuthenticated  = "authenticated"
	EventError          = "error"
	EventNewMessage     = "newMessage"
	EventMessageSent    = "messageSent"
	EventMessagesRead   = "messagesRead"
	EventMessageDeleted = "messageDeleted"
	EventUserTyping     = "userTyping"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
)

// Envelope is the wire format for every WebSocket frame in both
// directions.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type userTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type presencePayload struct {
	UserID string `json:"userId"`
}

type messagesReadPayload struct {
	ReadBy string `json:"readBy"`
	Count  int64  `json:"count"`
}

type messageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// TokenValidator verifies a client credential and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwt.Claims, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev, restrict in production
	},
}

// ChatHub manages WebSocket connections for the messaging layer. It
// owns conversation subscriptions for typing relay and pushes message
// lifecycle events through the presence registry. The hub is the
// delivery transport only; durability lives in the message store.
type ChatHub struct {
	registry *presence.Registry
	tokens   TokenValidator
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu            sync.RWMutex
	clients       map[*Client]bool
	conversations map[string]map[*Client]bool
}

// Client represents one WebSocket connection and its per-connection
// state: unauthenticated until a valid token arrives, then optionally
// subscribed to a single conversation at a time.
type Client struct {
	hub  *ChatHub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	userID        string
	role          string
	conversation  string
	authenticated bool
	closed        bool
}

// NewChatHub creates a hub backed by the given presence registry.
func NewChatHub(registry *presence.Registry, tokens TokenValidator, m *metrics.Metrics, log *zap.Logger) *ChatHub {
	return &ChatHub{
		registry:      registry,
		tokens:        tokens,
		metrics:       m,
		logger:        log,
		clients:       make(map[*Client]bool),
		conversations: make(map[string]map[*Client]bool),
	}
}

// ServeWS upgrades the HTTP request and starts the connection pumps.
// Authentication happens in-band via the authenticate event, so the
// route is not behind the auth middleware.
func (h *ChatHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.addClient(client)

	go client.writePump()
	go client.readPump()
}

func (h *ChatHub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(count)
	}
}

// removeClient tears down all hub state for a departing connection. The
// presence slot is released only if this connection still holds it, so
// a slow disconnect never evicts a newer session of the same user.
func (h *ChatHub) removeClient(client *Client) {
	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return
	}
	client.closed = true
	close(client.send)
	userID := client.userID
	conversation := client.conversation
	authenticated := client.authenticated
	client.mu.Unlock()

	h.mu.Lock()
	delete(h.clients, client)
	if conversation != "" {
		h.dropSubscription(conversation, client)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(count)
	}

	if authenticated {
		h.registry.UnregisterConn(userID, client)
		if !h.registry.IsOnline(userID) {
			h.broadcast(EventUserOffline, presencePayload{UserID: userID}, client)
			h.logger.Info("user disconnected", zap.String("user_id", userID))
		}
	}
}

// dropSubscription must be called with h.mu held.
func (h *ChatHub) dropSubscription(conversation string, client *Client) {
	if subscribers, ok := h.conversations[conversation]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.conversations, conversation)
		}
	}
}

// handleMessage dispatches one inbound frame. Everything except
// authenticate requires an authenticated connection; frames from
// unauthenticated clients are answered with an error event.
func (h *ChatHub) handleMessage(client *Client, raw []byte) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage("inbound")
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.logger.Debug("invalid websocket frame", zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("decode")
		}
		client.Push(EventError, errorPayload{Message: "invalid message format"})
		return
	}

	if envelope.Event == EventAuthenticate {
		h.handleAuthenticate(client, envelope.Data)
		return
	}

	client.mu.Lock()
	authenticated := client.authenticated
	client.mu.Unlock()
	if !authenticated {
		client.Push(EventError, errorPayload{Message: "authentication required"})
		return
	}

	switch envelope.Event {
	case EventJoinConversation:
		h.handleJoin(client, envelope.Data)
	case EventLeaveConversation:
		h.handleLeave(client)
	case EventTyping:
		h.handleTyping(client, envelope.Data)
	default:
		client.Push(EventError, errorPayload{Message: "unknown event: " + envelope.Event})
	}
}

// handleAuthenticate verifies the token and registers the connection in
// the presence registry. The user id comes from the verified claims,
// never from the client payload.
func (h *ChatHub) handleAuthenticate(client *Client, data json.RawMessage) {
	var payload authenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		client.Push(EventError, errorPayload{Message: "token required"})
		return
	}

	claims, err := h.tokens.ValidateToken(payload.Token)
	if err != nil {
		h.logger.Warn("websocket authentication failed", zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("auth")
		}
		client.Push(EventError, errorPayload{Message: "invalid token"})
		client.disconnect()
		return
	}

	client.mu.Lock()
	client.userID = claims.UserID
	client.role = claims.Role
	client.authenticated = true
	client.mu.Unlock()

	h.registry.Register(claims.UserID, client)

	client.Push(EventAuthenticated, presencePayload{UserID: claims.UserID})
	h.broadcast(EventUserOnline, presencePayload{UserID: claims.UserID}, client)
	h.logger.Info("user authenticated", zap.String("user_id", claims.UserID))
}

// subscriptionKey validates a client-supplied conversation id and
// returns it in canonical form. The id must name a participant pair
// that includes userID; principal ids never contain underscores, so
// the split is unambiguous.
func subscriptionKey(userID, raw string) (string, bool) {
	parts := strings.SplitN(raw, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	if parts[0] != userID && parts[1] != userID {
		return "", false
	}
	return domain.ConversationKey(parts[0], parts[1]), true
}

func (h *ChatHub) handleJoin(client *Client, data json.RawMessage) {
	var payload conversationPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		client.Push(EventError, errorPayload{Message: "conversationId required"})
		return
	}

	client.mu.Lock()
	userID := client.userID
	client.mu.Unlock()

	key, ok := subscriptionKey(userID, payload.ConversationID)
	if !ok {
		client.Push(EventError, errorPayload{Message: "not a participant of this conversation"})
		return
	}

	h.mu.Lock()
	client.mu.Lock()
	if client.conversation != "" {
		h.dropSubscription(client.conversation, client)
	}
	client.conversation = key
	client.mu.Unlock()
	if h.conversations[key] == nil {
		h.conversations[key] = make(map[*Client]bool)
	}
	h.conversations[key][client] = true
	h.mu.Unlock()
}

func (h *ChatHub) handleLeave(client *Client) {
	h.mu.Lock()
	client.mu.Lock()
	if client.conversation != "" {
		h.dropSubscription(client.conversation, client)
		client.conversation = ""
	}
	client.mu.Unlock()
	h.mu.Unlock()
}

// handleTyping relays the indicator to the other subscribers of the
// same conversation. No persistence and no delivery guarantee; a
// dropped typing signal is not an error.
func (h *ChatHub) handleTyping(client *Client, data json.RawMessage) {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		return
	}

	client.mu.Lock()
	userID := client.userID
	conversation := client.conversation
	client.mu.Unlock()

	key, ok := subscriptionKey(userID, payload.ConversationID)
	if !ok || conversation != key {
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.conversations[key]))
	for subscriber := range h.conversations[key] {
		if subscriber != client {
			subscribers = append(subscribers, subscriber)
		}
	}
	h.mu.RUnlock()

	for _, subscriber := range subscribers {
		subscriber.Push(EventUserTyping, userTypingPayload{UserID: userID, IsTyping: payload.IsTyping})
	}
}

// broadcast pushes an event to every authenticated client except the
// origin.
func (h *ChatHub) broadcast(event string, payload any, except *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.mu.Lock()
		authenticated := client.authenticated
		client.mu.Unlock()
		if authenticated && client != except {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Push(event, payload)
	}
}

// pushTo delivers one event to a user if a live connection exists.
// Offline users are a silent no-op; the event is dropped and the state
// is discovered by the next fetch.
func (h *ChatHub) pushTo(userID, event string, payload any) {
	conn := h.registry.Lookup(userID)
	if conn == nil {
		if h.metrics != nil {
			h.metrics.RecordDeliveryMiss()
		}
		return
	}
	if !conn.Push(event, payload) {
		if h.metrics != nil {
			h.metrics.RecordDeliveryMiss()
		}
		return
	}
	if h.metrics != nil {
		h.metrics.RecordDeliveryPush(event)
	}
}

// NewMessage pushes the stored message to the receiver.
func (h *ChatHub) NewMessage(msg *domain.Message) {
	h.pushTo(msg.Receiver, EventNewMessage, msg)
}

// MessageSent confirms the stored message back to the sender. Sender
// and receiver get separate events because the two sides observe
// different projections of the record.
func (h *ChatHub) MessageSent(msg *domain.Message) {
	h.pushTo(msg.Sender, EventMessageSent, msg)
}

// MessagesRead notifies the original sender that the counterpart read
// their messages.
func (h *ChatHub) MessagesRead(recipient, readBy string, count int64) {
	h.pushTo(recipient, EventMessagesRead, messagesReadPayload{ReadBy: readBy, Count: count})
}

// MessageDeleted notifies the other participant about a deletion.
func (h *ChatHub) MessageDeleted(recipient, messageID string) {
	h.pushTo(recipient, EventMessageDeleted, messageDeletedPayload{MessageID: messageID})
}

// Push queues one event on the connection. It never blocks: when the
// send buffer is full the connection is considered dead, the push
// reports false and the connection is torn down.
func (c *Client) Push(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	frame, err := json.Marshal(Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	// Queue while holding the lock so a concurrent teardown cannot
	// close the channel between the check and the send.
	select {
	case c.send <- frame:
		c.mu.Unlock()
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage("outbound")
		}
		return true
	default:
		c.mu.Unlock()
		go c.disconnect()
		return false
	}
}

func (c *Client) disconnect() {
	c.hub.removeClient(c)
	c.conn.Close()
}

// readPump reads frames from the socket until the connection dies.
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.mu.Lock()
		userID := c.userID
		authenticated := c.authenticated
		c.mu.Unlock()
		if authenticated {
			c.hub.registry.Touch(userID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
		c.hub.handleMessage(c, message)
	}
}

// writePump drains the send channel to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
