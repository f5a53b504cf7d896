package email

import (
	"context"
	"net"
	"net/smtp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"shipflow/api/internal/workflow"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type sentMail struct {
	addr string
	from string
	to   []string
	body string
}

func newTestService(t *testing.T) (*Service, *[]sentMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", BaseURL: "https://ship.example.com/"})
	sent := &[]sentMail{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, body: string(msg)})
		return nil
	}
	return svc, sent
}

func notifyShipment() workflow.Shipment {
	return workflow.Shipment{
		ID: "SHIP-001",
		Stages: []workflow.StageTemplate{
			{Name: "Loading", RequiredDocuments: []string{"BillOfLading"}, Signers: []string{"carrier@example.com"}, InfoProviders: []string{"shipper@example.com", "warehouse"}},
			{Name: "Delivery", Signers: []string{"carrier@example.com", "consignee@example.com"}},
		},
		Runtime: []workflow.StageRuntime{{}, {}},
	}
}

func TestHandleEventNotifiesActiveStage(t *testing.T) {
	svc, sent := newTestService(t)
	err := svc.HandleEvent(context.Background(), workflow.Event{
		Type:     workflow.EventShipmentCreated,
		Actor:    "admin",
		Shipment: notifyShipment(),
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	svc.Wait()
	if len(*sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "noreply@example.com" {
		t.Errorf("unexpected envelope %+v", mail)
	}
	if !slices.Equal(mail.to, []string{"carrier@example.com", "shipper@example.com"}) {
		t.Errorf("unexpected recipients %v", mail.to)
	}
	for _, want := range []string{"Loading", "BillOfLading", "https://ship.example.com/api/shipments/SHIP-001"} {
		if !strings.Contains(mail.body, want) {
			t.Errorf("email body missing %q", want)
		}
	}
}

func TestHandleEventNotifiesEveryoneOnFinalize(t *testing.T) {
	svc, sent := newTestService(t)
	shipment := notifyShipment()
	shipment.CurrentStage = 1
	shipment.Finalized = true
	if err := svc.HandleEvent(context.Background(), workflow.Event{Type: workflow.EventShipmentFinalized, Shipment: shipment}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	svc.Wait()
	if len(*sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(*sent))
	}
	want := []string{"carrier@example.com", "shipper@example.com", "consignee@example.com"}
	if !slices.Equal((*sent)[0].to, want) {
		t.Errorf("recipients = %v, want %v", (*sent)[0].to, want)
	}
}

func TestHandleEventSkipsOtherEvents(t *testing.T) {
	svc, sent := newTestService(t)
	for _, kind := range []workflow.EventType{workflow.EventDocumentUploaded, workflow.EventStageApproved} {
		if err := svc.HandleEvent(context.Background(), workflow.Event{Type: kind, Shipment: notifyShipment()}); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", kind, err)
		}
	}
	svc.Wait()
	if len(*sent) != 0 {
		t.Fatalf("expected no email, got %d", len(*sent))
	}
}

func TestHandleEventWithoutConfigIsNoop(t *testing.T) {
	svc := NewService(Config{})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	if err := svc.HandleEvent(context.Background(), workflow.Event{Type: workflow.EventShipmentCreated, Shipment: notifyShipment()}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	svc.Wait()
}

func TestHandleEventDoesNotWaitForDelivery(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	release := make(chan struct{})
	delivered := make(chan struct{})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		close(delivered)
		return nil
	}

	returned := make(chan error, 1)
	go func() {
		returned <- svc.HandleEvent(context.Background(), workflow.Event{Type: workflow.EventShipmentCreated, Shipment: notifyShipment()})
	}()
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleEvent blocked on a stalled SMTP send")
	}

	close(release)
	svc.Wait()
	select {
	case <-delivered:
	default:
		t.Fatal("expected queued mail to be sent after release")
	}
}

func TestSendMailTimesOutOnSilentServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range held {
			conn.Close()
		}
	})

	svc := NewService(Config{Host: "127.0.0.1", Port: "25", From: "noreply@example.com"})
	svc.timeout = 200 * time.Millisecond

	start := time.Now()
	err = svc.sendMail(listener.Addr().String(), nil, "noreply@example.com", []string{"carrier@example.com"}, []byte("Subject: x\r\n\r\nbody"))
	if err == nil {
		t.Fatal("expected an error from a server that never greets")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("sendMail took %s, expected the deadline to cut it short", elapsed)
	}
}

func TestSubjectCannotInjectHeaders(t *testing.T) {
	svc, sent := newTestService(t)
	shipment := notifyShipment()
	shipment.ID = "SHIP-1\r\nBcc: mallory@example.com"
	if err := svc.HandleEvent(context.Background(), workflow.Event{Type: workflow.EventShipmentCreated, Shipment: shipment}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	svc.Wait()
	if len(*sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(*sent))
	}
	headers := strings.SplitN((*sent)[0].body, "\r\n\r\n", 2)[0]
	if strings.Contains(headers, "\r\nBcc:") {
		t.Fatalf("subject injected a header line:\n%s", headers)
	}
}

func TestMailRecipients(t *testing.T) {
	got := mailRecipients([]string{"a@example.com", "bob", "a@example.com", "c@example.com", "x@example.com\r\nBcc: y"})
	if !slices.Equal(got, []string{"a@example.com", "c@example.com"}) {
		t.Errorf("mailRecipients() = %v", got)
	}
}
