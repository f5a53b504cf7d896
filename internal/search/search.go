package search

import (
	"fmt"
	"strings"

	"shipflow/api/internal/workflow"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultShipment ResultType = "shipment"
	ResultDocument ResultType = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ShipmentID string     `json:"shipmentId"`
	Stage      int        `json:"stage"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterShipmentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ShipmentRecord is the data we index for a shipment.
type ShipmentRecord struct {
	Key          string `json:"key"`
	ShipmentID   string `json:"shipmentId"`
	Lifecycle    string `json:"lifecycle"`
	Stages       string `json:"stages"`
	Actors       string `json:"actors"`
	Documents    string `json:"documents"`
	CurrentStage int    `json:"currentStage"`
	StageName    string `json:"stageName"`
	Status       string `json:"status"`
}

// DocumentRecord is the data we index for an uploaded stage document.
type DocumentRecord struct {
	Key        string `json:"key"`
	ShipmentID string `json:"shipmentId"`
	Stage      int    `json:"stage"`
	StageName  string `json:"stageName"`
	Name       string `json:"name"`
}

func NewShipmentRecord(shipment workflow.Shipment) ShipmentRecord {
	var stages, actors, documents []string
	seen := make(map[string]struct{})
	for _, stage := range shipment.Stages {
		stages = append(stages, stage.Name)
		documents = append(documents, stage.RequiredDocuments...)
		for _, actor := range append(append([]string{}, stage.Signers...), stage.InfoProviders...) {
			if _, dup := seen[actor]; dup {
				continue
			}
			seen[actor] = struct{}{}
			actors = append(actors, actor)
		}
	}
	summary := shipment.Summary()
	return ShipmentRecord{
		Key:          indexKey(shipment.ID),
		ShipmentID:   shipment.ID,
		Lifecycle:    string(shipment.Lifecycle),
		Stages:       strings.Join(stages, " "),
		Actors:       strings.Join(actors, " "),
		Documents:    strings.Join(documents, " "),
		CurrentStage: summary.CurrentStage,
		StageName:    summary.CurrentStageName,
		Status:       shipment.Status(),
	}
}

func NewDocumentRecord(shipment workflow.Shipment, stage int, name string) DocumentRecord {
	stageName := ""
	if shipment.HasStage(stage) {
		stageName = shipment.Stages[stage].Name
	}
	return DocumentRecord{
		Key:        indexKey(fmt.Sprintf("%s_%d_%s", shipment.ID, stage, name)),
		ShipmentID: shipment.ID,
		Stage:      stage,
		StageName:  stageName,
		Name:       name,
	}
}

// indexKey maps an identifier onto the characters Meilisearch accepts as a
// primary key. The hex suffix keeps distinct inputs distinct.
func indexKey(value string) string {
	var b strings.Builder
	clean := true
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		clean = false
		b.WriteRune('_')
	}
	if clean && b.Len() > 0 {
		return b.String()
	}
	return fmt.Sprintf("%s-%x", b.String(), value)
}
