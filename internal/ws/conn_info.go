package ws

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Transport names reported in metrics and events.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// ConnInfo is what the hub remembers about a push peer for lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	Transport   string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// logFields describes peer in log entries, enriched with what info knows.
func (i ConnInfo) logFields(peer Peer) logrus.Fields {
	fields := logrus.Fields{
		"user_id":   peer.UserID(),
		"conn_id":   peer.ID(),
		"transport": peer.Transport(),
	}
	if i.DeviceID != "" {
		fields["device_id"] = i.DeviceID
	}
	if i.RequestID != "" {
		fields["request_id"] = i.RequestID
	}
	if i.IP != "" {
		fields["ip"] = i.IP
	}
	if !i.ConnectedAt.IsZero() {
		fields["connected_for"] = time.Since(i.ConnectedAt).Round(time.Second).String()
	}
	return fields
}
