package store

import (
	"context"
	"fmt"
	"time"

	"shipflow/api/internal/workflow"
)

// EventRecord is one row of the shipment audit trail.
type EventRecord struct {
	ID         string             `json:"id"`
	ShipmentID string             `json:"shipmentId"`
	Type       workflow.EventType `json:"type"`
	Actor      string             `json:"actor"`
	Stage      int                `json:"stage"`
	Document   string             `json:"document,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// HandleEvent appends the event to shipment_events. It makes the store a
// workflow.Observer.
func (s *PostgresStore) HandleEvent(ctx context.Context, event workflow.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shipment_events (id, shipment_id, type, actor, stage_index, document, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.ShipmentID, string(event.Type), event.Actor, event.Stage, event.Document, event.At)
	if err != nil {
		return fmt.Errorf("insert shipment event %s: %w", event.ID, err)
	}
	return nil
}

// ListEvents returns the newest events of a shipment first.
func (s *PostgresStore) ListEvents(ctx context.Context, shipmentID string, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shipment_id, type, actor, stage_index, document, occurred_at
		FROM shipment_events
		WHERE shipment_id=$1
		ORDER BY seq DESC
		LIMIT $2
	`, shipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list shipment events: %w", err)
	}
	defer rows.Close()

	items := make([]EventRecord, 0)
	for rows.Next() {
		var (
			item EventRecord
			kind string
		)
		if err := rows.Scan(&item.ID, &item.ShipmentID, &kind, &item.Actor, &item.Stage, &item.Document, &item.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan shipment event: %w", err)
		}
		item.Type = workflow.EventType(kind)
		items = append(items, item)
	}
	return items, rows.Err()
}
