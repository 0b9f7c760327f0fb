package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association-chat/internal/models"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		switch r.URL.Path {
		case "/api/chat/unread/count":
			_, _ = io.WriteString(w, `{"count":7}`)
		case "/api/chat/messages/3":
			_, _ = io.WriteString(w, `[{"id":1,"sender":{"id":3,"name":"Ana"},"receiverId":1,"content":"hi","type":"text","read":false,"createdAt":"2024-01-02T10:00:00Z"}]`)
		case "/api/chat/messages/read/3":
			assert.Equal(t, http.MethodPut, r.Method)
			_, _ = io.WriteString(w, `{"updated":2}`)
		case "/api/chat/conversations":
			_, _ = io.WriteString(w, `[{"user":{"id":3,"name":"Ana","role":"staff"},"lastMessage":{"content":"hi","type":"text","createdAt":"2024-01-02T10:00:00Z"},"unreadCount":1}]`)
		case "/api/chat/staff":
			_, _ = io.WriteString(w, `[{"id":3,"name":"Ana","role":"staff"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", WithToken("tok"), WithTimeout(time.Second))
	ctx := context.Background()

	count, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	msgs, err := c.Messages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(3), msgs[0].Sender.ID)
	assert.Equal(t, models.MessageTypeText, msgs[0].Type)

	updated, err := c.MarkRead(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	staff, err := c.Staff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", staff[0].Name)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid token"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).UnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid token", apiErr.Message)
}

func TestClientLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "marta@assoc.org", req.Email)
		_ = json.NewEncoder(w).Encode(models.LoginResponse{Token: "t", User: models.Counterpart{ID: 7}})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Login(context.Background(), "marta@assoc.org", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t", resp.Token)
	assert.Equal(t, int64(7), resp.User.ID)
}

func TestClientUploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		b, _ := io.ReadAll(file)
		assert.Equal(t, "roster.csv", header.Filename)
		assert.Equal(t, "a,b", string(b))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"url":"http://files/roster.csv","name":"roster.csv"}`)
	}))
	defer srv.Close()

	att, err := New(srv.URL, WithToken("tok")).UploadAttachment(context.Background(), "roster.csv", strings.NewReader("a,b"))
	require.NoError(t, err)
	assert.Equal(t, "http://files/roster.csv", att.URL)
}

func TestClientContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL).Staff(ctx)
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
}

func TestTimeoutAppliesOnlyToDefaultHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Minute}
	c := New("http://chat.test", WithHTTPClient(custom), WithTimeout(time.Second))
	assert.Same(t, custom, c.httpClient)
	assert.Equal(t, time.Minute, custom.Timeout)

	c = New("http://chat.test", WithTimeout(time.Second), WithHTTPClient(nil))
	require.NotNil(t, c.httpClient)
	assert.Equal(t, time.Second, c.httpClient.Timeout)

	c = New("http://chat.test")
	assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
}
