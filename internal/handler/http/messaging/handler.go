package messaging

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clinichub-backend/internal/presence"
	"clinichub-backend/internal/service/messaging"
	"clinichub-backend/internal/service/storage"
	"clinichub-backend/pkg/pagination"
	"clinichub-backend/pkg/response"
)

// Handler handles messaging HTTP requests.
type Handler struct {
	messages    *messaging.Service
	attachments *storage.Service
	registry    *presence.Registry
}

// NewHandler creates a messaging handler. attachments may be nil when
// blob storage is not configured; file messages then return 503.
func NewHandler(messages *messaging.Service, attachments *storage.Service, registry *presence.Registry) *Handler {
	return &Handler{
		messages:    messages,
		attachments: attachments,
		registry:    registry,
	}
}

// RegisterRoutes mounts the messaging routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/messages", h.SendMessage)
	rg.POST("/messages/file", h.SendFileMessage)
	rg.GET("/messages/unread-count", h.UnreadCount)
	rg.GET("/messages/search", h.SearchMessages)
	rg.DELETE("/messages/:messageId", h.DeleteMessage)
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/:userId", h.GetConversation)
	rg.PUT("/conversations/:userId/read", h.MarkConversationRead)
	rg.GET("/online-users", h.OnlineUsers)
}

// SendMessageRequest represents a text message submission.
type SendMessageRequest struct {
	ReceiverID  string `json:"receiver_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
	MessageType string `json:"message_type"`
	ReplyTo     string `json:"reply_to"`
}

// SendMessage handles sending a new message.
// POST /v1/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), &messaging.SendInput{
		Sender:      c.GetString("user_id"),
		Receiver:    req.ReceiverID,
		Content:     req.Content,
		MessageType: req.MessageType,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// SendFileMessage handles a multipart upload that becomes a file or
// image message.
// POST /v1/messages/file
func (h *Handler) SendFileMessage(c *gin.Context) {
	if h.attachments == nil {
		response.Error(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "file storage is not configured")
		return
	}

	receiverID := c.PostForm("receiver_id")
	if receiverID == "" {
		response.ValidationError(c, "receiver_id is required")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "file is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.ValidationError(c, "unreadable file")
		return
	}
	defer file.Close()

	senderID := c.GetString("user_id")
	attachment, err := h.attachments.Upload(
		c.Request.Context(),
		senderID,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		response.AppError(c, err)
		return
	}

	content := c.PostForm("content")
	if content == "" {
		content = attachment.FileName
	}

	msg, err := h.messages.Send(c.Request.Context(), &messaging.SendInput{
		Sender:      senderID,
		Receiver:    receiverID,
		Content:     content,
		MessageType: attachment.MessageType,
		FileURL:     attachment.URL,
		FileName:    attachment.FileName,
		FileSize:    attachment.FileSize,
	})
	if err != nil {
		// The message was rejected after the blob landed; clean it up
		// best-effort.
		_ = h.attachments.DeleteByURL(c.Request.Context(), attachment.URL)
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// ListConversations returns the caller's conversation summaries, newest
// activity first.
// GET /v1/conversations
func (h *Handler) ListConversations(c *gin.Context) {
	summaries, err := h.messages.ListConversations(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, summaries)
}

// GetConversation returns a page of the conversation with the given
// counterpart, oldest first within the page.
// GET /v1/conversations/:userId?page=1&limit=50
func (h *Handler) GetConversation(c *gin.Context) {
	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	messages, err := h.messages.GetConversation(
		c.Request.Context(),
		c.GetString("user_id"),
		c.Param("userId"),
		params.Limit,
		params.Offset,
	)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":   messages,
		"pagination": pagination.BuildMeta(params, len(messages)),
	})
}

// MarkConversationRead marks all unread messages from the counterpart
// as read.
// PUT /v1/conversations/:userId/read
func (h *Handler) MarkConversationRead(c *gin.Context) {
	count, err := h.messages.MarkRead(c.Request.Context(), c.Param("userId"), c.GetString("user_id"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"marked_read": count})
}

// UnreadCount returns the caller's total unread message count.
// GET /v1/messages/unread-count
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.messages.UnreadCount(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread_count": count})
}

// DeleteMessage soft-deletes one of the caller's own messages.
// DELETE /v1/messages/:messageId
func (h *Handler) DeleteMessage(c *gin.Context) {
	err := h.messages.SoftDelete(c.Request.Context(), c.Param("messageId"), c.GetString("user_id"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// SearchMessages searches the caller's messages by content substring.
// GET /v1/messages/search?q=term
func (h *Handler) SearchMessages(c *gin.Context) {
	results, err := h.messages.Search(c.Request.Context(), c.GetString("user_id"), c.Query("q"))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// OnlineUsers returns the ids of currently connected principals.
// GET /v1/online-users
func (h *Handler) OnlineUsers(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"online": h.registry.Online()})
}
