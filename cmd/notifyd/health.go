package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tasknotify/internal/client"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a notifyd instance",
	GroupID: "service",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		h, err := serviceClient(cmd).Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", h.Status)
			fmt.Printf("Instance: %s\n", h.Instance)
			fmt.Printf("Relay: %s (%s)\n", h.Relay, h.Backend)
			fmt.Printf("Connections: %d\n", h.Connections)
		}

		// A degraded relay still serves local clients.
		if h.Status != "ok" && h.Status != "degraded" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "List recent events from the audit log",
	GroupID: "service",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := serviceClient(cmd).ListEvents(ctx, limit)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}

		if jsonOutput {
			return printJSON(records)
		}
		for _, r := range records {
			actor := r.ActorID
			if actor == "" {
				actor = "-"
			}
			fmt.Printf("%-6d %s  %-18s actor=%-6s %s\n", r.ID, r.EmittedAt.Format(time.RFC3339), r.Type, actor, r.Payload)
		}
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:     "presence",
	Short:   "List users online on one instance",
	GroupID: "service",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("http-url")
		token, _ := cmd.Flags().GetString("token")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		p, err := client.NewHTTPClient(url, token).Presence(ctx)
		if err != nil {
			return fmt.Errorf("fetching presence: %w", err)
		}

		if jsonOutput {
			return printJSON(p)
		}
		fmt.Printf("Instance: %s (%d online)\n", p.Instance, len(p.Online))
		for _, e := range p.Roster {
			fmt.Printf("  %-10s %d connection(s) since %s\n", e.UserID, e.Connections, e.OnlineSince.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	presenceCmd.Flags().String("http-url", envOrDefault("NOTIFY_HTTP_URL", "http://localhost:8001"), "notifyd HTTP URL")
	presenceCmd.Flags().String("token", os.Getenv("NOTIFY_TOKEN"), "user access token")

	addServiceFlags(healthCmd)
	addServiceFlags(eventsCmd)
	eventsCmd.Flags().Int("limit", 20, "number of events to list")
}
