package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shipflow/api/internal/rbac"
	"shipflow/api/internal/workflow"
)

func newLedgerEngine(t *testing.T, svc *Service) *workflow.Engine {
	t.Helper()
	registry := rbac.NewRegistry(rbac.NewMemoryStore())
	if err := registry.Bootstrap(context.Background(), "admin"); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return workflow.NewEngine(workflow.NewMemoryRepository(), registry, workflow.WithObserver(svc))
}

func TestLedgerRecordsEveryEvent(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	engine := newLedgerEngine(t, svc)
	ctx := context.Background()

	_, err := engine.CreateShipment(ctx, "admin", "SHIP-001", []workflow.StageTemplate{
		{Name: "Loading", RequiredDocuments: []string{"BillOfLading"}, Signers: []string{"s1"}, InfoProviders: []string{"p1@example.com"}},
		{Name: "Delivery", Signers: []string{"s1"}},
	})
	if err != nil {
		t.Fatalf("CreateShipment() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "SHIP-001", ".git")); err != nil {
		t.Fatalf("ledger repo missing: %v", err)
	}
	if _, err := engine.UploadDocument(ctx, "p1@example.com", "SHIP-001", 0, "BillOfLading"); err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	if _, err := engine.ApproveStage(ctx, "s1", "SHIP-001", 0); err != nil {
		t.Fatalf("ApproveStage() error = %v", err)
	}

	history, err := svc.History("SHIP-001", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []workflow.EventType{
		workflow.EventStageAdvanced,
		workflow.EventStageApproved,
		workflow.EventDocumentUploaded,
		workflow.EventShipmentCreated,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), history)
	}
	for i, entry := range history {
		if entry.EventType != want[i] {
			t.Fatalf("entry %d type = %s, want %s", i, entry.EventType, want[i])
		}
		if entry.EventID == "" || entry.Hash == "" {
			t.Fatalf("entry %d missing identifiers: %+v", i, entry)
		}
	}
	if history[2].Actor != "p1@example.com" || history[2].Message != "Upload BillOfLading for stage 0" {
		t.Fatalf("unexpected upload entry %+v", history[2])
	}
	if history[0].Stage != 1 {
		t.Fatalf("advance entry stage = %d, want 1", history[0].Stage)
	}

	limited, err := svc.History("SHIP-001", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}

	created, err := svc.StateAt("SHIP-001", history[3].Hash)
	if err != nil {
		t.Fatalf("StateAt() error = %v", err)
	}
	if created.CurrentStage != 0 || len(created.Runtime[0].Uploaded) != 0 {
		t.Fatalf("unexpected snapshot at creation %+v", created)
	}
	latest, err := svc.StateAt("SHIP-001", history[0].Hash)
	if err != nil {
		t.Fatalf("StateAt() error = %v", err)
	}
	if latest.CurrentStage != 1 {
		t.Fatalf("expected latest snapshot at stage 1, got %d", latest.CurrentStage)
	}
}

func TestHistoryUnknownShipment(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("missing", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
	if _, err := svc.StateAt("missing", "abc1234"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestStateAtUnknownRevision(t *testing.T) {
	svc := New(t.TempDir())
	engine := newLedgerEngine(t, svc)
	if _, err := engine.CreateShipment(context.Background(), "admin", "SHIP-001", []workflow.StageTemplate{{Name: "Only", Signers: []string{"s1"}}}); err != nil {
		t.Fatalf("CreateShipment() error = %v", err)
	}
	if _, err := svc.StateAt("SHIP-001", "deadbeefdeadbeef"); !errors.Is(err, ErrUnknownRevision) {
		t.Fatalf("expected ErrUnknownRevision, got %v", err)
	}
}

func TestConcurrentEventsOnDistinctShipments(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"A", "B"}[i%2]
			errs <- svc.HandleEvent(context.Background(), workflow.Event{
				ID:         "evt",
				Type:       workflow.EventStageApproved,
				ShipmentID: id,
				Actor:      "s1",
				At:         time.Now(),
				Shipment:   workflow.Shipment{ID: id},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}
	for _, id := range []string{"A", "B"} {
		history, err := svc.History(id, 0)
		if err != nil {
			t.Fatalf("History(%s) error = %v", id, err)
		}
		if len(history) != 4 {
			t.Fatalf("History(%s) has %d entries, want 4", id, len(history))
		}
	}
}

func TestDirNameStaysInsideBaseDir(t *testing.T) {
	cases := map[string]string{
		"SHIP-001":    "SHIP-001",
		"../etc":      "_2e._2fetc",
		"..":          "_2e.",
		"":            "_",
		"a/b\\c":      "a_2fb_5cc",
		"carrier 7.1": "carrier_207.1",
	}
	for input, want := range cases {
		got := dirName(input)
		if got != want {
			t.Fatalf("dirName(%q) = %q, want %q", input, got, want)
		}
		if filepath.Base(got) != got || got == "." || got == ".." {
			t.Fatalf("dirName(%q) = %q is not a single path element", input, got)
		}
	}
}

func TestDirNameIsDistinctPerShipment(t *testing.T) {
	ids := []string{"SHIP/001", "SHIP_001", "SHIP 001", "SHIP_2f001", "SHIP.001", ".SHIP001", "_2eSHIP001", "", "_"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		name := dirName(id)
		if other, ok := seen[name]; ok {
			t.Fatalf("dirName(%q) and dirName(%q) both map to %q", id, other, name)
		}
		seen[name] = id
	}
}

func TestLedgerKeepsLookalikeShipmentsApart(t *testing.T) {
	svc := New(t.TempDir())
	engine := newLedgerEngine(t, svc)
	ctx := context.Background()
	for _, id := range []string{"SHIP_001", "SHIP/001"} {
		if _, err := engine.CreateShipment(ctx, "admin", id, []workflow.StageTemplate{{Name: "Only", Signers: []string{"s1"}}}); err != nil {
			t.Fatalf("CreateShipment(%q) error = %v", id, err)
		}
	}

	history, err := svc.History("SHIP_001", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected only SHIP_001's own commit, got %+v", history)
	}
	snapshot, err := svc.StateAt("SHIP/001", "HEAD")
	if err != nil {
		t.Fatalf("StateAt() error = %v", err)
	}
	if snapshot.ID != "SHIP/001" {
		t.Fatalf("StateAt(SHIP/001) returned shipment %q", snapshot.ID)
	}
}
