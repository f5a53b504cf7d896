package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"shipflow/api/internal/workflow"
)

func setupTestFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	feed, err := NewRedisFeed("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis feed: %v", err)
	}
	return feed, s
}

func testEvent(i int) workflow.Event {
	return workflow.Event{
		ID:         fmt.Sprintf("evt_%d", i),
		Type:       workflow.EventDocumentUploaded,
		ShipmentID: "SHIP-001",
		Actor:      "p1",
		Stage:      0,
		Document:   "BillOfLading",
		At:         time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		Shipment:   workflow.Shipment{ID: "SHIP-001", CurrentStage: 0},
	}
}

func TestNewRedisFeed(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	if err := feed.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisFeedInvalidURL(t *testing.T) {
	if _, err := NewRedisFeed("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestHandleEventStoresRecent(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := feed.HandleEvent(ctx, testEvent(i)); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}

	recent, err := feed.Recent(ctx, "SHIP-001", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].ID != "evt_2" || recent[1].ID != "evt_1" {
		t.Errorf("expected newest first, got %s, %s", recent[0].ID, recent[1].ID)
	}
	if recent[0].Document != "BillOfLading" || recent[0].Type != workflow.EventDocumentUploaded {
		t.Errorf("unexpected message %+v", recent[0])
	}
}

func TestHandleEventTrimsList(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()
	feed.keep = 5
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := feed.HandleEvent(ctx, testEvent(i)); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}
	items, err := s.List("shipflow:events:SHIP-001")
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("expected list capped at 5, got %d", len(items))
	}
}

func TestRecentUnknownShipment(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	recent, err := feed.Recent(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("expected no events, got %d", len(recent))
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	feed, s := setupTestFeed(t)
	defer feed.Close()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := feed.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := feed.HandleEvent(ctx, testEvent(7)); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	select {
	case msg := <-stream:
		if msg.ID != "evt_7" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published event")
	}
}
