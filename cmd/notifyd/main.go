package main

import (
	"os"

	"github.com/spf13/cobra"
)

var jsonOutput bool

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:   "notifyd <command>",
	Short: "Real-time task and file notifications over websockets",
	Long: `notifyd pushes task and file changes to connected clients, excluding
the user who made the change, and keeps every instance in sync through a
shared relay (NATS or Redis). The server is configured with NOTIFY_*
environment variables; see "notifyd serve --help".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Service
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(presenceCmd)

	// Tools
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
