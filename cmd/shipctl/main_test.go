package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shipflow/api/internal/app"
	"shipflow/api/internal/blobstore"
	"shipflow/api/internal/config"
	"shipflow/api/internal/events"
	"shipflow/api/internal/rbac"
	"shipflow/api/internal/workflow"
)

const cliSecret = "shipctl-test-secret"

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q, got: %s", substr, output)
	}
}

// startAPI runs the HTTP API in memory and points the CLI environment at it.
func startAPI(t *testing.T) string {
	t.Helper()
	t.Setenv("SHIPFLOW_CONFIG", "")
	t.Setenv("SHIPFLOW_JWT_SECRET", cliSecret)
	t.Setenv("SHIPFLOW_TOKEN", "")
	t.Setenv("SHIPFLOW_ACTOR", "")
	t.Setenv("SHIPFLOW_SERVER", "")
	t.Setenv("MINIO_ENDPOINT", "")

	registry := rbac.NewRegistry(rbac.NewMemoryStore())
	if err := registry.Bootstrap(context.Background(), "admin"); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	engine := workflow.NewEngine(workflow.NewMemoryRepository(), registry)
	cfg := config.Default()
	cfg.JWTSecret = cliSecret
	service := app.New(cfg, engine, app.Dependencies{Blobs: blobstore.NewMemory(cfg.MaxUploadBytes())})
	server := httptest.NewServer(app.NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server.URL
}

func writeTemplate(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

const twoStageTemplate = `id = "SHIP-CLI"

[[stages]]
name = "Loading"
documents = ["BillOfLading"]
signers = ["carrier"]
info_providers = ["shipper"]

[[stages]]
name = "Delivery"
documents = []
signers = ["carrier", "consignee"]
info_providers = []
`

func TestRootCommandShowsHelp(t *testing.T) {
	t.Setenv("SHIPFLOW_CONFIG", "")
	stdout, _, err := runCLI(t)
	if err != nil {
		t.Fatalf("root command error = %v", err)
	}
	requireContains(t, stdout, "shipctl")
	requireContains(t, stdout, "approve")
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	startAPI(t)
	stdout, _, err := runCLI(t, "token", "carrier")
	if err != nil {
		t.Fatalf("token command error = %v", err)
	}
	if strings.Count(strings.TrimSpace(stdout), ".") != 1 {
		t.Fatalf("unexpected token %q", stdout)
	}
}

func TestCommandsRequireCredentials(t *testing.T) {
	server := startAPI(t)
	_, _, err := runCLI(t, "--server", server, "list")
	if err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestShipmentLifecycleThroughCLI(t *testing.T) {
	server := startAPI(t)
	template := writeTemplate(t, "ship.toml", twoStageTemplate)

	stdout, _, err := runCLI(t, "--server", server, "--as", "admin", "create", "--file", template)
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	requireContains(t, stdout, "Shipment SHIP-CLI (custom) active")
	requireContains(t, stdout, "BillOfLading")

	_, _, err = runCLI(t, "--server", server, "--as", "carrier", "approve", "SHIP-CLI", "0")
	if err == nil || !strings.Contains(err.Error(), workflow.MsgDocumentsIncomplete) {
		t.Fatalf("expected documents incomplete, got %v", err)
	}

	doc := writeTemplate(t, "bol.txt", "bill of lading")
	if _, _, err := runCLI(t, "--server", server, "--as", "shipper", "upload", "SHIP-CLI", "0", "BillOfLading", "--file", doc); err != nil {
		t.Fatalf("upload error = %v", err)
	}
	if _, _, err := runCLI(t, "--server", server, "--as", "carrier", "approve", "SHIP-CLI", "0"); err != nil {
		t.Fatalf("approve stage 0 error = %v", err)
	}
	if _, _, err := runCLI(t, "--server", server, "--as", "consignee", "approve", "SHIP-CLI", "1"); err != nil {
		t.Fatalf("approve stage 1 consignee error = %v", err)
	}

	stdout, _, err = runCLI(t, "--server", server, "--as", "carrier", "approve", "SHIP-CLI", "1")
	if err != nil {
		t.Fatalf("approve stage 1 carrier error = %v", err)
	}
	requireContains(t, stdout, "finalized")

	stdout, _, err = runCLI(t, "--server", server, "--as", "carrier", "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	requireContains(t, stdout, "SHIP-CLI")
	requireContains(t, stdout, "Delivery")
}

func TestUploadNameOnly(t *testing.T) {
	server := startAPI(t)
	template := writeTemplate(t, "ship.toml", twoStageTemplate)
	if _, _, err := runCLI(t, "--server", server, "--as", "admin", "create", "-f", template); err != nil {
		t.Fatalf("create error = %v", err)
	}

	_, _, err := runCLI(t, "--server", server, "--as", "carrier", "upload", "SHIP-CLI", "0", "BillOfLading")
	if err == nil || !strings.Contains(err.Error(), workflow.MsgNotInfoProvider) {
		t.Fatalf("expected info provider error, got %v", err)
	}

	stdout, _, err := runCLI(t, "--server", server, "--as", "shipper", "--json", "upload", "SHIP-CLI", "0", "BillOfLading")
	if err != nil {
		t.Fatalf("upload error = %v", err)
	}
	requireContains(t, stdout, `"uploaded": [`)
	requireContains(t, stdout, `"BillOfLading"`)
}

func TestRoleCommands(t *testing.T) {
	server := startAPI(t)

	stdout, _, err := runCLI(t, "--server", server, "--as", "admin", "grant", "signer", "inspector")
	if err != nil {
		t.Fatalf("grant error = %v", err)
	}
	requireContains(t, stdout, "inspector: signer")

	if _, _, err := runCLI(t, "--server", server, "--as", "inspector", "grant", "signer", "mallory"); err == nil {
		t.Fatal("expected non-administrator grant to fail")
	}

	stdout, _, err = runCLI(t, "--server", server, "--as", "admin", "revoke", "signer", "inspector")
	if err != nil {
		t.Fatalf("revoke error = %v", err)
	}
	requireContains(t, stdout, "inspector: none")
}

func TestCreateRejectsUnknownTemplateFormat(t *testing.T) {
	server := startAPI(t)
	template := writeTemplate(t, "ship.yaml", "id: SHIP")
	_, _, err := runCLI(t, "--server", server, "--as", "admin", "create", "--file", template)
	if err == nil || !strings.Contains(err.Error(), "unsupported template format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestParseStage(t *testing.T) {
	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "0", want: 0},
		{raw: " 3 ", want: 3},
		{raw: "-1", wantErr: true},
		{raw: "first", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseStage(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseStage(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseStage(%q) = %d, %v", tc.raw, got, err)
		}
	}
}

type fakeSubscriber struct {
	messages []events.Message
}

func (f fakeSubscriber) Subscribe(context.Context) (<-chan events.Message, error) {
	ch := make(chan events.Message, len(f.messages))
	for _, msg := range f.messages {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func TestWatchFeedFiltersByShipment(t *testing.T) {
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	feed := fakeSubscriber{messages: []events.Message{
		{Type: workflow.EventDocumentUploaded, ShipmentID: "A", Actor: "shipper", Stage: 0, Document: "BillOfLading", At: at},
		{Type: workflow.EventStageApproved, ShipmentID: "B", Actor: "carrier", Stage: 1, At: at},
	}}

	if err := watchFeed(context.Background(), cmd, newCommandContext(&globalFlags{}), feed, "A"); err != nil {
		t.Fatalf("watchFeed() error = %v", err)
	}
	out := stdout.String()
	requireContains(t, out, "document=BillOfLading")
	if strings.Contains(out, "carrier") {
		t.Fatalf("expected shipment B to be filtered out, got %s", out)
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]string{"#", "Stage"}, [][]string{{"0", "Loading"}, {"1"}}, []columnAlignment{alignRight, alignLeft})
	requireContains(t, out, "Loading")
	requireContains(t, out, "╭")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty render for no headers")
	}
}
