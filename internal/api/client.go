package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"association-chat/internal/models"
)

const defaultTimeout = 15 * time.Second

// Client calls the chat REST endpoints on behalf of one session.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client. It is used as is; WithTimeout
// does not apply to it.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a client rooted at baseURL, e.g. "http://host:8083" or
// "https://host/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// BaseURL returns the configured root.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the bearer token.
func (c *Client) Token() string { return c.token }

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &out)
	return out, err
}

// Conversations lists the caller's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	err := c.doJSON(ctx, http.MethodGet, "/chat/conversations", nil, &out)
	return out, err
}

// Staff lists every other staff member.
func (c *Client) Staff(ctx context.Context) ([]models.Counterpart, error) {
	var out []models.Counterpart
	err := c.doJSON(ctx, http.MethodGet, "/chat/staff", nil, &out)
	return out, err
}

// Messages returns the history with userID, oldest first.
func (c *Client) Messages(ctx context.Context, userID int64) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/chat/messages/"+strconv.FormatInt(userID, 10), nil, &out)
	return out, err
}

// MarkRead marks every message from userID as read.
func (c *Client) MarkRead(ctx context.Context, userID int64) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/chat/messages/read/"+strconv.FormatInt(userID, 10), nil, &out)
	return out.Updated, err
}

// UnreadCount returns the caller's unread total.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/chat/unread/count", nil, &out)
	return out.Count, err
}

// UploadAttachment sends r as the multipart "file" field.
func (c *Client) UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return models.Attachment{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Attachment{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/attachments", body)
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out models.Attachment
	err = c.do(req, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(b, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
