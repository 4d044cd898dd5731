package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/client"
	"github.com/alfredjeanlab/tasknotify/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Connect as a user and print received events",
	GroupID: "tools",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		strategy, _ := cmd.Flags().GetString("auth")
		cookie, _ := cmd.Flags().GetString("cookie")
		retry, _ := cmd.Flags().GetDuration("reconnect")

		if token == "" {
			return fmt.Errorf("a token is required (--token or NOTIFY_TOKEN)")
		}
		opts, err := dialOptions(strategy, cookie)
		if err != nil {
			return err
		}
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		for {
			err := watchOnce(ctx, url, token, opts)
			if ctx.Err() != nil {
				return nil
			}
			// Authentication failures do not heal by retrying.
			var apiErr *client.APIError
			if errors.Is(err, client.ErrAuthRejected) || errors.As(err, &apiErr) || retry <= 0 {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s disconnected: %v; reconnecting in %s\n", ui.RenderMuted(time.Now().Format(time.TimeOnly)), err, retry)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
		}
	},
}

// dialOptions builds the client options for the --auth and --cookie flags.
func dialOptions(strategy, cookie string) (client.DialOptions, error) {
	s, err := auth.ParseStrategy(strategy)
	if err != nil {
		return client.DialOptions{}, err
	}
	return client.DialOptions{Strategy: s, CookieName: cookie}, nil
}

// watchOnce streams one connection until it ends.
func watchOnce(ctx context.Context, url, token string, opts client.DialOptions) error {
	s, err := client.Dial(ctx, url, token, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		ev, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("server closed the connection")
			}
			return err
		}
		fmt.Println(formatEvent(ev, time.Now(), jsonOutput))
	}
}

// formatEvent renders one received event as a line of output.
func formatEvent(ev client.Event, at time.Time, asJSON bool) string {
	if asJSON {
		data, _ := json.Marshal(ev)
		return string(data)
	}
	data := string(ev.Data)
	if ev.Name == "user.online" || ev.Name == "user.offline" {
		var p struct {
			UserID string `json:"user_id"`
		}
		if json.Unmarshal(ev.Data, &p) == nil && p.UserID != "" {
			data = "user " + p.UserID
		}
	}
	return fmt.Sprintf("%s %s %s", ui.RenderMuted(at.Format(time.TimeOnly)), ui.RenderEvent(ev.Name), data)
}

func init() {
	watchCmd.Flags().String("url", envOrDefault("NOTIFY_WS_URL", "ws://localhost:8001/v1/ws"), "websocket URL")
	watchCmd.Flags().String("token", os.Getenv("NOTIFY_TOKEN"), "user access token")
	watchCmd.Flags().String("auth", string(auth.StrategyHeader), "how to present the token (header, cookie or handshake)")
	watchCmd.Flags().String("cookie", envOrDefault("NOTIFY_AUTH_COOKIE", auth.DefaultCookieName), "cookie name for --auth cookie")
	watchCmd.Flags().Duration("reconnect", 2*time.Second, "wait before reconnecting after a disconnect (0 exits instead)")
}
