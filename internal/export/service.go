package export

import (
	"context"
	"fmt"

	"shipflow/api/internal/ledger"
	"shipflow/api/internal/workflow"
)

// ShipmentSource loads the shipment being reported on.
type ShipmentSource interface {
	Shipment(ctx context.Context, id string) (workflow.Shipment, error)
}

// HistorySource supplies the ledger entries shown in the report.
type HistorySource interface {
	History(shipmentID string, limit int) ([]ledger.Entry, error)
}

// Service provides shipment report export functionality
type Service struct {
	shipments ShipmentSource
	history   HistorySource
}

// NewService creates a new export service. history may be nil.
func NewService(shipments ShipmentSource, history HistorySource) *Service {
	return &Service{shipments: shipments, history: history}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	shipment, err := s.shipments.Shipment(ctx, req.ShipmentID)
	if err != nil {
		return nil, err
	}

	data := BuildReport(shipment)
	if s.history != nil {
		limit := req.HistoryLimit
		if limit <= 0 {
			limit = 50
		}
		entries, err := s.history.History(shipment.ID, limit)
		if err == nil {
			for _, entry := range entries {
				data.History = append(data.History, ReportEvent{At: entry.At, Actor: entry.Actor, Message: entry.Message})
			}
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := "shipment-" + shipment.ID
	switch req.Format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: sanitizeFilename(title) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF, "":
		return exportPDF(ctx, html, title)
	case FormatDOCX:
		return exportDOCX(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// BuildReport derives the report rows from a shipment snapshot.
func BuildReport(shipment workflow.Shipment) ReportData {
	data := ReportData{
		ShipmentID: shipment.ID,
		Lifecycle:  string(shipment.Lifecycle),
		Status:     shipment.Status(),
		CreatedBy:  shipment.CreatedBy,
		CreatedAt:  shipment.CreatedAt,
		Stages:     make([]ReportStage, 0, len(shipment.Stages)),
	}
	for i, stage := range shipment.Stages {
		runtime := shipment.Runtime[i]
		status := "Pending"
		switch {
		case i < shipment.CurrentStage || (shipment.Finalized && i == shipment.CurrentStage):
			status = "Approved"
		case i == shipment.CurrentStage:
			status = "Current"
		}
		data.Stages = append(data.Stages, ReportStage{
			Index:            i,
			Name:             stage.Name,
			Status:           status,
			Uploaded:         runtime.Uploaded,
			PendingDocuments: shipment.PendingDocuments(i),
			Approved:         runtime.Approvals,
			PendingSigners:   shipment.PendingSigners(i),
		})
	}
	return data
}
