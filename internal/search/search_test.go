package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shipflow/api/internal/workflow"
)

type fakeSearcher struct {
	searchFn func(Query) ([]Result, int, error)
}

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, 0, nil
}

func (f *fakeSearcher) Healthy() bool { return true }

func testShipment() workflow.Shipment {
	return workflow.Shipment{
		ID:        "SHIP-001",
		Lifecycle: workflow.LifecycleCustom,
		Stages: []workflow.StageTemplate{
			{Name: "Loading", RequiredDocuments: []string{"BillOfLading"}, Signers: []string{"s1"}, InfoProviders: []string{"p1"}},
			{Name: "Customs", RequiredDocuments: []string{"Invoice"}, Signers: []string{"s1", "s2"}, InfoProviders: []string{"p1"}},
		},
		Runtime:      []workflow.StageRuntime{{Uploaded: []string{"BillOfLading"}}, {}},
		CurrentStage: 1,
	}
}

func TestNewShipmentRecord(t *testing.T) {
	record := NewShipmentRecord(testShipment())
	if record.Key != "SHIP-001" || record.StageName != "Customs" || record.Status != "active" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Actors != "s1 p1 s2" {
		t.Fatalf("expected deduplicated actors, got %q", record.Actors)
	}
	if record.Documents != "BillOfLading Invoice" {
		t.Fatalf("unexpected documents %q", record.Documents)
	}
}

func TestNewDocumentRecord(t *testing.T) {
	record := NewDocumentRecord(testShipment(), 0, "Bill of Lading")
	if record.StageName != "Loading" || record.Name != "Bill of Lading" {
		t.Fatalf("unexpected record %+v", record)
	}
	if strings.ContainsAny(record.Key, " /") {
		t.Fatalf("key %q contains characters Meilisearch rejects", record.Key)
	}
}

func TestIndexKeyKeepsDistinctInputsDistinct(t *testing.T) {
	if indexKey("a b") == indexKey("a_b") {
		t.Fatal("expected distinct keys for distinct inputs")
	}
	if indexKey("SHIP-001") != "SHIP-001" {
		t.Fatalf("clean keys must pass through, got %q", indexKey("SHIP-001"))
	}
}

func TestServiceFallsBackToPgFTS(t *testing.T) {
	var got Query
	svc := NewService(nil, &fakeSearcher{searchFn: func(q Query) ([]Result, int, error) {
		got = q
		return []Result{{Type: ResultShipment, ID: "SHIP-001"}}, 1, nil
	}})
	resp := svc.Search(Query{Text: "customs", FilterType: ResultShipment})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Query != "customs" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.FilterType != ResultShipment {
		t.Fatalf("query not forwarded: %+v", got)
	}
}

func TestServiceReturnsEmptyResultsOnError(t *testing.T) {
	svc := NewService(nil, &fakeSearcher{searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("db down")
	}})
	resp := svc.Search(Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "x"})
	if resp.Results == nil {
		t.Fatal("expected non-nil results")
	}
	if err := svc.HandleEvent(context.Background(), workflow.Event{Shipment: testShipment()}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
}
