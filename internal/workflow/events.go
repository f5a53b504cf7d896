package workflow

import (
	"context"
	"time"
)

type EventType string

const (
	EventShipmentCreated   EventType = "shipment.created"
	EventDocumentUploaded  EventType = "document.uploaded"
	EventStageApproved     EventType = "stage.approved"
	EventStageAdvanced     EventType = "stage.advanced"
	EventShipmentFinalized EventType = "shipment.finalized"
)

// Event describes one committed change. Shipment is the snapshot right
// after the commit.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	ShipmentID string    `json:"shipmentId"`
	Actor      string    `json:"actor"`
	Stage      int       `json:"stage"`
	Document   string    `json:"document,omitempty"`
	At         time.Time `json:"at"`
	Shipment   Shipment  `json:"shipment"`
}

// Observer receives events after they are committed. Observers run while
// the shipment lock is held, in commit order; their errors are logged and
// never undo the commit.
type Observer interface {
	HandleEvent(ctx context.Context, event Event) error
}

type ObserverFunc func(ctx context.Context, event Event) error

func (f ObserverFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}
