package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"association-chat/internal/models"
)

var ErrPeerClosed = errors.New("peer closed")

// Peer is one push connection owned by a user. A user may hold several.
type Peer interface {
	ID() string
	UserID() int64
	Transport() string
	Send(env models.Envelope) error
	Close() error
}

// wsPeer writes envelopes to a websocket connection. Writes are serialized
// because gorilla connections support one concurrent writer.
type wsPeer struct {
	id           string
	userID       int64
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

func newWSPeer(id string, userID int64, conn *websocket.Conn, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{id: id, userID: userID, conn: conn, writeTimeout: writeTimeout}
}

func (p *wsPeer) ID() string        { return p.id }
func (p *wsPeer) UserID() int64     { return p.userID }
func (p *wsPeer) Transport() string { return TransportWebSocket }

func (p *wsPeer) Send(env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteJSON(env)
}

func (p *wsPeer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout))
}

func (p *wsPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
