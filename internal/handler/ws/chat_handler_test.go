package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clinichub-backend/internal/domain"
	"clinichub-backend/internal/presence"
	"clinichub-backend/pkg/jwt"
)

type hubFixture struct {
	hub      *ChatHub
	registry *presence.Registry
	tokens   *jwt.JWTManager
	server   *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry()
	tokens := jwt.NewJWTManager("test-secret", time.Hour)
	hub := NewChatHub(registry, tokens, nil, zap.NewNop())

	router := gin.New()
	router.GET("/ws/chat", hub.ServeWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &hubFixture{hub: hub, registry: registry, tokens: tokens, server: server}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) authenticate(t *testing.T, conn *websocket.Conn, userID, role string) {
	t.Helper()
	token, err := f.tokens.GenerateToken(userID, userID+"@clinic.test", role)
	require.NoError(t, err)

	sendEvent(t, conn, EventAuthenticate, authenticatePayload{Token: token})

	envelope := readEvent(t, conn)
	require.Equal(t, EventAuthenticated, envelope.Event)
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: data, Timestamp: time.Now()}))
}

func readEvent(t *testing.T, conn *websocket.Conn) *Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return &envelope
}

func TestAuthenticate_RegistersPresence(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t)
	f.authenticate(t, conn, "patient-1", domain.RolePatient)

	assert.True(t, f.registry.IsOnline("patient-1"))
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t)
	sendEvent(t, conn, EventAuthenticate, authenticatePayload{Token: "not-a-token"})

	envelope := readEvent(t, conn)
	assert.Equal(t, EventError, envelope.Event)

	// The connection is torn down and never registered.
	assert.Eventually(t, func() bool {
		return f.hubClientCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAuthenticate_ForeignAudienceToken(t *testing.T) {
	f := newHubFixture(t)

	// Signed with the shared secret but minted for a different service:
	// the signature verifies, the audience must not.
	claims := &jwt.Claims{
		UserID: "patient-1",
		Role:   domain.RolePatient,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    jwt.Issuer,
			Audience:  jwtlib.ClaimStrings{"some-other-service"},
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	conn := f.dial(t)
	sendEvent(t, conn, EventAuthenticate, authenticatePayload{Token: token})

	envelope := readEvent(t, conn)
	assert.Equal(t, EventError, envelope.Event)
	assert.False(t, f.registry.IsOnline("patient-1"))
}

func TestEventsRequireAuthentication(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t)
	sendEvent(t, conn, EventJoinConversation, conversationPayload{ConversationID: "a_b"})

	envelope := readEvent(t, conn)
	assert.Equal(t, EventError, envelope.Event)
}

func TestNewMessage_PushedToReceiver(t *testing.T) {
	f := newHubFixture(t)

	receiver := f.dial(t)
	f.authenticate(t, receiver, "doctor-1", domain.RoleDoctor)

	msg := &domain.Message{
		ID:       "msg-1",
		Sender:   "patient-1",
		Receiver: "doctor-1",
		Content:  "hello",
	}
	f.hub.NewMessage(msg)

	envelope := readEvent(t, receiver)
	require.Equal(t, EventNewMessage, envelope.Event)

	var got domain.Message
	require.NoError(t, json.Unmarshal(envelope.Data, &got))
	assert.Equal(t, "msg-1", got.ID)
	assert.Equal(t, "hello", got.Content)
}

func TestNewMessage_OfflineReceiverIsSilent(t *testing.T) {
	f := newHubFixture(t)

	// Nobody connected: push must be a no-op, not an error.
	f.hub.NewMessage(&domain.Message{ID: "msg-1", Sender: "a", Receiver: "nobody"})
}

func TestMessagesRead_PushedToOriginalSender(t *testing.T) {
	f := newHubFixture(t)

	sender := f.dial(t)
	f.authenticate(t, sender, "patient-1", domain.RolePatient)

	f.hub.MessagesRead("patient-1", "doctor-1", 3)

	envelope := readEvent(t, sender)
	require.Equal(t, EventMessagesRead, envelope.Event)

	var payload messagesReadPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "doctor-1", payload.ReadBy)
	assert.EqualValues(t, 3, payload.Count)
}

func TestMessageDeleted_PushedToOtherParticipant(t *testing.T) {
	f := newHubFixture(t)

	receiver := f.dial(t)
	f.authenticate(t, receiver, "doctor-1", domain.RoleDoctor)

	f.hub.MessageDeleted("doctor-1", "msg-9")

	envelope := readEvent(t, receiver)
	require.Equal(t, EventMessageDeleted, envelope.Event)

	var payload messageDeletedPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "msg-9", payload.MessageID)
}

func TestJoin_NonParticipantRejected(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t)
	f.authenticate(t, conn, "doctor-2", domain.RoleDoctor)

	sendEvent(t, conn, EventJoinConversation, conversationPayload{ConversationID: "doctor-1_patient-1"})

	envelope := readEvent(t, conn)
	assert.Equal(t, EventError, envelope.Event)

	f.hub.mu.RLock()
	defer f.hub.mu.RUnlock()
	assert.Empty(t, f.hub.conversations)
}

func TestJoin_NormalizesParticipantOrder(t *testing.T) {
	f := newHubFixture(t)

	alice := f.dial(t)
	f.authenticate(t, alice, "patient-1", domain.RolePatient)
	bob := f.dial(t)
	f.authenticate(t, bob, "doctor-1", domain.RoleDoctor)

	readEvent(t, alice) // doctor-1 online

	// The two clients name the pair in opposite orders; both land in
	// the same subscription.
	sendEvent(t, alice, EventJoinConversation, conversationPayload{ConversationID: "patient-1_doctor-1"})
	sendEvent(t, bob, EventJoinConversation, conversationPayload{ConversationID: "doctor-1_patient-1"})
	time.Sleep(100 * time.Millisecond)

	sendEvent(t, alice, EventTyping, typingPayload{ConversationID: "patient-1_doctor-1", IsTyping: true})

	envelope := readEvent(t, bob)
	require.Equal(t, EventUserTyping, envelope.Event)

	var payload userTypingPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "patient-1", payload.UserID)
	assert.True(t, payload.IsTyping)
}

func TestTyping_RelayedToSameConversationOnly(t *testing.T) {
	f := newHubFixture(t)

	alice := f.dial(t)
	f.authenticate(t, alice, "patient-1", domain.RolePatient)
	bob := f.dial(t)
	f.authenticate(t, bob, "doctor-1", domain.RoleDoctor)
	carol := f.dial(t)
	f.authenticate(t, carol, "doctor-2", domain.RoleDoctor)

	// alice sees bob come online, bob and alice see carol; drain those
	// presence broadcasts before the typing exchange.
	readEvent(t, alice) // doctor-1 online
	readEvent(t, alice) // doctor-2 online
	readEvent(t, bob)   // doctor-2 online

	sendEvent(t, alice, EventJoinConversation, conversationPayload{ConversationID: "doctor-1_patient-1"})
	sendEvent(t, bob, EventJoinConversation, conversationPayload{ConversationID: "doctor-1_patient-1"})
	sendEvent(t, carol, EventJoinConversation, conversationPayload{ConversationID: "doctor-2_patient-2"})
	time.Sleep(100 * time.Millisecond)

	sendEvent(t, alice, EventTyping, typingPayload{ConversationID: "doctor-1_patient-1", IsTyping: true})

	envelope := readEvent(t, bob)
	require.Equal(t, EventUserTyping, envelope.Event)

	var payload userTypingPayload
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "patient-1", payload.UserID)
	assert.True(t, payload.IsTyping)

	// carol is subscribed elsewhere and must not see it.
	carol.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var stray Envelope
	err := carol.ReadJSON(&stray)
	assert.Error(t, err)
}

func TestReconnect_SecondConnectionWins(t *testing.T) {
	f := newHubFixture(t)

	first := f.dial(t)
	f.authenticate(t, first, "patient-1", domain.RolePatient)

	second := f.dial(t)
	f.authenticate(t, second, "patient-1", domain.RolePatient)

	// Closing the stale connection must not evict the live one.
	first.Close()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, f.registry.IsOnline("patient-1"))

	// Pushes land on the second connection.
	f.hub.MessagesRead("patient-1", "doctor-1", 1)
	envelope := readEvent(t, second)
	assert.Equal(t, EventMessagesRead, envelope.Event)
}

func TestDisconnect_ReleasesPresence(t *testing.T) {
	f := newHubFixture(t)

	conn := f.dial(t)
	f.authenticate(t, conn, "patient-1", domain.RolePatient)
	require.True(t, f.registry.IsOnline("patient-1"))

	conn.Close()

	assert.Eventually(t, func() bool {
		return !f.registry.IsOnline("patient-1")
	}, 2*time.Second, 20*time.Millisecond)
}

func (f *hubFixture) hubClientCount() int {
	f.hub.mu.RLock()
	defer f.hub.mu.RUnlock()
	return len(f.hub.clients)
}
