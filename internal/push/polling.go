package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"association-chat/internal/models"
)

// PollingDialer connects to the /push/poll long-polling fallback.
type PollingDialer struct {
	HTTPClient *http.Client
}

func (d PollingDialer) Name() string { return TransportPolling }

func (d PollingDialer) Dial(ctx context.Context, baseURL, token string) (Conn, error) {
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	base, err := endpoint(baseURL, "/push/poll", false)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling handshake: status %d", resp.StatusCode)
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.SID == "" {
		return nil, fmt.Errorf("polling handshake: missing session id")
	}

	closeCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{client: client, url: base + "/" + out.SID, ctx: closeCtx, cancel: cancel}, nil
}

type pollConn struct {
	client *http.Client
	url    string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	pending []models.Envelope
}

func (c *pollConn) Send(ctx context.Context, env models.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrSessionGone
	default:
		return fmt.Errorf("polling emit: status %d", resp.StatusCode)
	}
}

// Recv is called from a single goroutine.
func (c *pollConn) Recv(ctx context.Context) (models.Envelope, error) {
	for len(c.pending) == 0 {
		batch, err := c.poll(ctx)
		if err != nil {
			return models.Envelope{}, err
		}
		c.pending = batch
	}
	env := c.pending[0]
	c.pending = c.pending[1:]
	return env, nil
}

func (c *pollConn) poll(ctx context.Context) ([]models.Envelope, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrSessionGone
	default:
		return nil, fmt.Errorf("polling: status %d", resp.StatusCode)
	}
	var batch []models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("polling decode: %w", err)
	}
	return batch, nil
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
		if err != nil {
			return
		}
		if resp, err := c.client.Do(req); err == nil {
			resp.Body.Close()
		}
	})
	return nil
}
