package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"association-chat/internal/middleware"
	"association-chat/internal/mocks"
	"association-chat/internal/models"
	"association-chat/internal/telemetry"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(1))
		c.Next()
	})
	r.GET("/chat/conversations", handler.Conversations)
	r.GET("/chat/staff", handler.Staff)
	r.GET("/chat/messages/:userId", handler.Messages)
	r.PUT("/chat/messages/read/:userId", handler.MarkRead)
	r.GET("/chat/unread/count", handler.UnreadCount)
	r.POST("/chat/attachments", handler.UploadAttachment)
	return r
}

func serve(r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestConversationsSuccess(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, nil, 0, nil))

	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	messages.On("ListConversations", mock.Anything, int64(1)).Return([]models.ConversationSummary{{
		User:        models.Counterpart{ID: 2, Name: "Ana Souza", Role: models.RoleStaff},
		LastMessage: models.LastMessage{Content: "ok", Type: models.MessageTypeText, CreatedAt: at},
		UnreadCount: 3,
	}}, nil).Once()

	rec := serve(router, http.MethodGet, "/chat/conversations", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.EqualValues(t, 3, resp[0]["unreadCount"])
	assert.Equal(t, "Ana Souza", resp[0]["user"].(map[string]any)["name"])
	assert.Equal(t, "ok", resp[0]["lastMessage"].(map[string]any)["content"])
	messages.AssertExpectations(t)
}

func TestConversationsRepoError(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, nil, 0, nil))
	messages.On("ListConversations", mock.Anything, int64(1)).Return(nil, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/chat/conversations", nil, "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load conversations")
}

func TestStaffExcludesCallerAndNeverNull(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	router := setupChatRouter(NewChatHandler(users, new(mocks.MessageRepositoryMock), nil, nil, 0, nil))
	users.On("ListStaff", mock.Anything, int64(1)).Return(nil, nil).Once()

	rec := serve(router, http.MethodGet, "/chat/staff", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	users.AssertExpectations(t)
}

func TestMessagesInvalidID(t *testing.T) {
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), nil, nil, 0, nil))

	for _, path := range []string{"/chat/messages/abc", "/chat/messages/0"} {
		rec := serve(router, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestMessagesReturnsHistory(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, nil, 0, nil))
	messages.On("ListMessagesBetween", mock.Anything, int64(1), int64(2)).Return([]models.Message{
		{ID: 1, Sender: models.Counterpart{ID: 2}, SenderID: 2, ReceiverID: 1, Content: "first", Type: models.MessageTypeText},
		{ID: 2, Sender: models.Counterpart{ID: 1}, SenderID: 1, ReceiverID: 2, Content: "second", Type: models.MessageTypeText},
	}, nil).Once()

	rec := serve(router, http.MethodGet, "/chat/messages/2", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "first", resp[0].Content)
	assert.Equal(t, int64(2), resp[0].Sender.ID)
}

func TestMarkReadEmitsAudit(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-api", "test", nil)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, audit, 0, nil))

	messages.On("MarkRead", mock.Anything, int64(1), int64(2)).Return(int64(4), nil).Once()
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == telemetry.ActionMessagesRead && env.Payload.Detail == "4"
	})).Return(nil).Once()

	rec := serve(router, http.MethodPut, "/chat/messages/read/2", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":4}`, rec.Body.String())
	publisher.AssertExpectations(t)
}

func TestMarkReadNothingToUpdate(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-api", "test", nil)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, audit, 0, nil))
	messages.On("MarkRead", mock.Anything, int64(1), int64(2)).Return(int64(0), nil).Once()

	rec := serve(router, http.MethodPut, "/chat/messages/read/2", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":0}`, rec.Body.String())
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnreadCount(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, nil, 0, nil))
	messages.On("UnreadCount", mock.Anything, int64(1)).Return(12, nil).Once()

	rec := serve(router, http.MethodGet, "/chat/unread/count", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":12}`, rec.Body.String())
}

func TestUnreadCountRepoError(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), messages, nil, nil, 0, nil))
	messages.On("UnreadCount", mock.Anything, int64(1)).Return(0, assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/chat/unread/count", nil, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func multipartFile(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadAttachment(t *testing.T) {
	store := new(mocks.AttachmentStoreMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), store, nil, 1024, nil))
	store.On("Upload", mock.Anything, int64(1), "shift.pdf", mock.Anything, int64(5), mock.Anything).
		Return(models.Attachment{URL: "http://files/chat/1/x-shift.pdf", Name: "shift.pdf"}, nil).Once()

	body, ct := multipartFile(t, "shift.pdf", []byte("hello"))
	rec := serve(router, http.MethodPost, "/chat/attachments", body, ct)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"url":"http://files/chat/1/x-shift.pdf","name":"shift.pdf"}`, rec.Body.String())
	store.AssertExpectations(t)
}

func TestUploadAttachmentLimits(t *testing.T) {
	store := new(mocks.AttachmentStoreMock)
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), store, nil, 4, nil))

	body, ct := multipartFile(t, "big.bin", []byte("too large"))
	rec := serve(router, http.MethodPost, "/chat/attachments", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = serve(router, http.MethodPost, "/chat/attachments", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadAttachmentStorageDisabled(t *testing.T) {
	router := setupChatRouter(NewChatHandler(new(mocks.UserRepositoryMock), new(mocks.MessageRepositoryMock), nil, nil, 0, nil))

	body, ct := multipartFile(t, "a.txt", []byte("x"))
	rec := serve(router, http.MethodPost, "/chat/attachments", body, ct)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
