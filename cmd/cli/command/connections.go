package command

import (
	"fmt"

	"echohub/cmd/cli/command/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// connectionsCmd lists the connections open on the server
var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conns"},
	Short:   "List the connections currently open on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := resolveAPIURL()
		if err != nil {
			return err
		}
		http := client.NewHTTPClient(base)

		ready, err := http.Ready(cmd.Context())
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		if !ready {
			color.Yellow("⏳ Server is shutting down")
		}

		resp, err := http.Connections(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list connections: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Open connections: %d\n", resp.Count)
		for _, id := range resp.IDs {
			fmt.Fprintf(out, "  • %s\n", id)
		}
		return nil
	},
}

func resolveAPIURL() (string, error) {
	if apiURL != "" {
		return apiURL, nil
	}
	if base := client.HTTPBaseFromServerURL(serverURL); base != "" {
		return base, nil
	}
	return "", fmt.Errorf("cannot derive the HTTP API from %q, pass --api", serverURL)
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
}
