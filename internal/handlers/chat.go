package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"association-chat/internal/middleware"
	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/repositories"
	"association-chat/internal/storage"
	"association-chat/internal/telemetry"
)

// ChatHandler serves the /chat endpoints.
type ChatHandler struct {
	users       repositories.UserRepository
	messages    repositories.MessageRepository
	attachments storage.AttachmentStore
	audit       *telemetry.AuditEmitter
	maxUpload   int64
	logger      logrus.FieldLogger
}

// NewChatHandler builds a ChatHandler. attachments may be nil when object
// storage is not configured.
func NewChatHandler(users repositories.UserRepository, messages repositories.MessageRepository, attachments storage.AttachmentStore, audit *telemetry.AuditEmitter, maxUpload int64, logger logrus.FieldLogger) *ChatHandler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &ChatHandler{
		users:       users,
		messages:    messages,
		attachments: attachments,
		audit:       audit,
		maxUpload:   maxUpload,
		logger:      logger,
	}
}

// Conversations returns one summary per counterpart, most recent first.
func (h *ChatHandler) Conversations(c *gin.Context) {
	userID := middleware.UserID(c)
	list, err := h.messages.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load conversations", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Staff returns every staff member except the caller.
func (h *ChatHandler) Staff(c *gin.Context) {
	userID := middleware.UserID(c)
	staff, err := h.users.ListStaff(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load staff", err)
		return
	}
	if staff == nil {
		staff = []models.Counterpart{}
	}
	c.JSON(http.StatusOK, staff)
}

// Messages returns the history between the caller and :userId, oldest first.
func (h *ChatHandler) Messages(c *gin.Context) {
	otherID, ok := counterpartParam(c)
	if !ok {
		return
	}
	msgs, err := h.messages.ListMessagesBetween(c.Request.Context(), middleware.UserID(c), otherID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load messages", err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// MarkRead flags every message from :userId to the caller as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	otherID, ok := counterpartParam(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	updated, err := h.messages.MarkRead(c.Request.Context(), userID, otherID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to mark messages read", err)
		return
	}
	if updated > 0 {
		h.audit.Emit(c.Request.Context(), telemetry.ActionMessagesRead, observability.RequestIDFromContext(c), userID, otherID, strconv.FormatInt(updated, 10))
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// UnreadCount returns the caller's unread total.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	count, err := h.messages.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to count unread messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// UploadAttachment stores the multipart "file" field and returns its URL.
func (h *ChatHandler) UploadAttachment(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": storage.ErrStorageDisabled.Error()})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	userID := middleware.UserID(c)
	att, err := h.attachments.Upload(c.Request.Context(), userID, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrStorageDisabled) {
			status = http.StatusServiceUnavailable
		}
		h.fail(c, status, "failed to store attachment", err)
		return
	}
	h.audit.Emit(c.Request.Context(), telemetry.ActionAttachment, observability.RequestIDFromContext(c), userID, 0, att.Name)
	c.JSON(http.StatusCreated, att)
}

func (h *ChatHandler) fail(c *gin.Context, status int, message string, err error) {
	_ = c.Error(err)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"path":       c.FullPath(),
		"request_id": observability.RequestIDFromContext(c),
	}).Warn(message)
	c.JSON(status, gin.H{"error": message})
}

func counterpartParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
