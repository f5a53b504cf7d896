package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type rolesPayload struct {
	Actor string   `json:"actor"`
	Roles []string `json:"roles"`
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <actor>",
		Short: "Mint a bearer token for an actor with the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := strings.TrimSpace(args[0])
			if actor == "" {
				return fmt.Errorf("actor is required")
			}
			token, err := ctx.mint(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	return cmd
}

func newGrantCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <role> <actor>",
		Short: "Grant a role (administrator, signer, info_provider)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload rolesPayload
			body := map[string]string{"role": args[0], "actor": args[1]}
			if err := client.doJSON(cmd.Context(), http.MethodPost, "/api/roles", body, &payload); err != nil {
				return err
			}
			return printRoles(cmd, ctx, payload)
		},
	}
}

func newRevokeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <role> <actor>",
		Short: "Revoke a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload rolesPayload
			path := "/api/roles/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			if err := client.doJSON(cmd.Context(), http.MethodDelete, path, nil, &payload); err != nil {
				return err
			}
			return printRoles(cmd, ctx, payload)
		},
	}
}

func newRolesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "roles <actor>",
		Short: "Show the roles held by an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var payload rolesPayload
			if err := client.doJSON(cmd.Context(), http.MethodGet, "/api/roles/"+url.PathEscape(args[0]), nil, &payload); err != nil {
				return err
			}
			return printRoles(cmd, ctx, payload)
		},
	}
}

func printRoles(cmd *cobra.Command, ctx *commandContext, payload rolesPayload) error {
	if ctx.flags.json {
		return writeJSON(cmd, payload)
	}
	roles := "none"
	if len(payload.Roles) > 0 {
		roles = strings.Join(payload.Roles, ", ")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", payload.Actor, roles)
	return nil
}
