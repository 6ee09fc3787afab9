// Package notify pushes file status changes to the uploader's live
// WebSocket connections. The worker publishes through a Sink; the API
// process holds the actual sockets in a Hub.
package notify

import (
	"context"
	"time"

	"github.com/aleksmarkov/docpulse/internal/model"
)

// Event is the payload delivered to every live connection of a file's
// owner on a status change.
type Event struct {
	FileID    string           `json:"fileId"`
	Status    model.FileStatus `json:"status"`
	Data      any              `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(fileID string, status model.FileStatus, data any) Event {
	return Event{
		FileID:    fileID,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Sink delivers an event to whoever is listening for an owner. Delivery is
// fire-and-forget: implementations log failures and never block the
// caller's state transitions on a slow or absent client.
type Sink interface {
	Publish(ctx context.Context, ownerID string, ev Event)
}
