package command

// root.go defines the root command for the echohub CLI.
// set up the global flags and configuration here.

import (
	"fmt"
	"os"

	"echohub/internal/config"

	"github.com/spf13/cobra"
)

var (
	serverURL string // Global flag for the server address (ws://, wss:// or tcp://)
	apiURL    string // Global flag for the HTTP API, derived from serverURL when empty
	logLevel  string // Global flag for client-side log level
	cfg       *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "echohub",
	Short: "echohub - interactive client for the echo session server",
	Long: `echohub connects to an echo server over WebSocket or TCP, prints the
client identifier it is assigned and every message the server sends back.

Use "echohub command --help" to see all available commands.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// .env and environment provide the defaults; flags override them
	loaded, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	cfg = loaded

	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", cfg.ServerURL, "server address (ws://, wss:// or tcp://)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "HTTP API base URL (default derived from --server)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "client log level (debug, info, warn, error)")
}
