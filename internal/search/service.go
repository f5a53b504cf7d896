package search

import (
	"context"
	"log"

	"shipflow/api/internal/workflow"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured; pgfts may be nil when there is no database.
func NewService(meili *Meili, pgfts Searcher) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// HandleEvent keeps the Meilisearch indexes current. Indexing is
// fire-and-forget; Postgres full-text search never needs it.
func (s *Service) HandleEvent(_ context.Context, event workflow.Event) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	shipment := NewShipmentRecord(event.Shipment)
	var document *DocumentRecord
	if event.Type == workflow.EventDocumentUploaded {
		record := NewDocumentRecord(event.Shipment, event.Stage, event.Document)
		document = &record
	}
	go func() {
		if err := s.meili.IndexShipment(shipment); err != nil {
			log.Printf("search: index shipment %s: %v", shipment.ShipmentID, err)
		}
		if document == nil {
			return
		}
		if err := s.meili.IndexDocument(*document); err != nil {
			log.Printf("search: index document %s: %v", document.Key, err)
		}
	}()
	return nil
}

// ReindexAll pushes every shipment and its uploaded documents to
// Meilisearch.
func (s *Service) ReindexAll(shipments []workflow.Shipment) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]ShipmentRecord, 0, len(shipments))
	documents := make([]DocumentRecord, 0)
	for _, shipment := range shipments {
		records = append(records, NewShipmentRecord(shipment))
		for stage, runtime := range shipment.Runtime {
			for _, name := range runtime.Uploaded {
				documents = append(documents, NewDocumentRecord(shipment, stage, name))
			}
		}
	}
	if err := s.meili.IndexShipments(records); err != nil {
		log.Printf("search: reindex shipments: %v", err)
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		log.Printf("search: reindex documents: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
