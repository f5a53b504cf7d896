package main

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shipflow/api/internal/app"
	"shipflow/api/internal/workflow"
)

type shipmentPayload struct {
	Shipment app.ShipmentView `json:"shipment"`
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create --file <template>",
		Short: "Create a shipment from a TOML or JSON template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			// Validate locally so format mistakes surface before the request.
			if _, err := workflow.DecodeTemplateFile(file, bytes.NewReader(raw)); err != nil {
				return err
			}
			contentType := "application/json"
			if strings.EqualFold(filepath.Ext(file), ".toml") {
				contentType = "application/toml"
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload shipmentPayload
			if err := client.do(cmd.Context(), http.MethodPost, "/api/shipments", contentType, bytes.NewReader(raw), &payload); err != nil {
				return err
			}
			return printShipment(cmd, ctx, payload.Shipment)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Template file (.toml or .json)")
	return cmd
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "upload <shipment> <stage> <document>",
		Short: "Record a document upload, optionally sending its content",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(args[1])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var payload shipmentPayload
			if strings.TrimSpace(file) == "" {
				body := map[string]string{"name": args[2]}
				if err := client.doJSON(cmd.Context(), http.MethodPost, stagePath(args[0], stage, "documents"), body, &payload); err != nil {
					return err
				}
				return printShipment(cmd, ctx, payload.Shipment)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open document: %w", err)
			}
			defer f.Close()
			contentType := mime.TypeByExtension(filepath.Ext(file))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			path := stagePath(args[0], stage, "documents", url.PathEscape(args[2]))
			if err := client.do(cmd.Context(), http.MethodPut, path, contentType, io.Reader(f), &payload); err != nil {
				return err
			}
			return printShipment(cmd, ctx, payload.Shipment)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Send this file as the document content")
	return cmd
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <shipment> <stage>",
		Short: "Approve a stage as the current actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(args[1])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload shipmentPayload
			if err := client.doJSON(cmd.Context(), http.MethodPost, stagePath(args[0], stage, "approve"), nil, &payload); err != nil {
				return err
			}
			return printShipment(cmd, ctx, payload.Shipment)
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <shipment>",
		Short: "Show a shipment and the state of each stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload shipmentPayload
			if err := client.doJSON(cmd.Context(), http.MethodGet, shipmentPath(args[0]), nil, &payload); err != nil {
				return err
			}
			return printShipment(cmd, ctx, payload.Shipment)
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload struct {
				Shipments []workflow.Summary `json:"shipments"`
			}
			if err := client.doJSON(cmd.Context(), http.MethodGet, "/api/shipments", nil, &payload); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, payload)
			}
			if len(payload.Shipments) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No shipments")
				return nil
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(payload.Shipments))
			for _, item := range payload.Shipments {
				status := "active"
				if item.Finalized {
					status = "finalized"
				}
				rows = append(rows, []string{
					item.ID,
					string(item.Lifecycle),
					fmt.Sprintf("%d/%d", item.CurrentStage+1, item.StageCount),
					item.CurrentStageName,
					colorStatus(status, colorize),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Lifecycle", "Stage", "Name", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func printShipment(cmd *cobra.Command, ctx *commandContext, view app.ShipmentView) error {
	if ctx.flags.json {
		return writeJSON(cmd, view)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Shipment %s (%s) %s\n", view.ID, view.Lifecycle, colorStatus(view.Status, colorize))

	rows := make([][]string, 0, len(view.Stages))
	for _, stage := range view.Stages {
		rows = append(rows, []string{
			strconv.Itoa(stage.Index),
			stage.Name,
			colorStatus(stage.Status, colorize),
			progress(len(stage.Uploaded), len(stage.RequiredDocuments)),
			progress(len(stage.Approvals), len(stage.Signers)),
			strings.Join(append(append([]string{}, stage.PendingDocuments...), stage.PendingSigners...), ", "),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Stage", "Status", "Documents", "Approvals", "Waiting on"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	return nil
}

func progress(done, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", done, total)
}

func parseStage(raw string) (int, error) {
	stage, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || stage < 0 {
		return 0, fmt.Errorf("invalid stage index %q", raw)
	}
	return stage, nil
}
