package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tasknotify/internal/client"
	"github.com/alfredjeanlab/tasknotify/internal/events"
)

var emitCmd = &cobra.Command{
	Use:     "emit",
	Short:   "Publish a domain event through POST /v1/events",
	GroupID: "tools",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		actor, _ := cmd.Flags().GetString("actor")
		payload, _ := cmd.Flags().GetString("payload")

		req, err := buildEmitRequest(typ, actor, payload)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := serviceClient(cmd).Emit(ctx, req)
		if err != nil {
			return fmt.Errorf("emitting %s: %w", typ, err)
		}

		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("Emitted %s at %s\n", resp.Type, resp.EmittedAt.Format(time.RFC3339))
		return nil
	},
}

// buildEmitRequest validates the flags before anything is sent.
func buildEmitRequest(typ, actor, payload string) (*client.EmitRequest, error) {
	if !events.Type(typ).Valid() {
		return nil, fmt.Errorf("unknown event type %q (must be one of %v)", typ, events.DomainTypes())
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("--payload is not valid JSON")
	}
	return &client.EmitRequest{Type: typ, ActorID: actor, Payload: json.RawMessage(payload)}, nil
}

// serviceClient builds an HTTP client from the --http-url and
// --service-token flags.
func serviceClient(cmd *cobra.Command) *client.HTTPClient {
	url, _ := cmd.Flags().GetString("http-url")
	token, _ := cmd.Flags().GetString("service-token")
	return client.NewHTTPClient(url, token)
}

func addServiceFlags(cmd *cobra.Command) {
	cmd.Flags().String("http-url", envOrDefault("NOTIFY_HTTP_URL", "http://localhost:8001"), "notifyd HTTP URL")
	cmd.Flags().String("service-token", os.Getenv("NOTIFY_SERVICE_TOKEN"), "service token")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	emitCmd.Flags().String("type", "", "event type, e.g. task.updated (required)")
	emitCmd.Flags().String("actor", "", "id of the user who made the change; excluded from delivery")
	emitCmd.Flags().String("payload", "{}", "event payload as JSON")
	_ = emitCmd.MarkFlagRequired("type")
	addServiceFlags(emitCmd)
}
