package feed

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes one subscribed feed connection.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}
