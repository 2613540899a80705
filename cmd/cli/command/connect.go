package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"echohub/cmd/cli/command/client"
	"echohub/internal/logging"
	manager "echohub/internal/microservices/client"
	"echohub/internal/protocol"

	"github.com/spf13/cobra"
)

var (
	connectParams     map[string]string
	connectGreeting   string
	connectNoGreeting bool
)

// connectCmd opens an interactive session with the server
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the server and chat with the echo",
	Long: `Connect to the echo server and keep the connection open.

This command will:
1. Connect with the given handshake parameters
2. Print the client ID assigned by the server
3. Send the greeting message
4. Send every line typed on stdin and print each echo

Type /quit or press Ctrl+C to disconnect.`,
	Example: `  echohub connect --param userId=12345 --param sessionId=abcde
  echohub connect -s tcp://localhost:8081 --no-greeting`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runConnect(ctx, cmd.InOrStdin(), client.NewPrinter(cmd.OutOrStdout()))
	},
}

func runConnect(ctx context.Context, in io.Reader, printer *client.Printer) error {
	opts := []manager.Option{
		manager.WithLogger(logging.NewWithWriter(os.Stderr, logLevel, "text")),
		manager.WithDialTimeout(cfg.HandshakeTimeout),
		manager.WithHandlers(manager.Handlers{
			OnConnect:    printer.Connected,
			OnClientID:   printer.ClientID,
			OnMessage:    printer.Message,
			OnError:      printer.Error,
			OnDisconnect: printer.Disconnected,
		}),
	}
	if connectNoGreeting {
		opts = append(opts, manager.WithoutGreeting())
	} else {
		greeting := connectGreeting
		if greeting == "" {
			greeting = cfg.ClientGreeting
		}
		opts = append(opts, manager.WithGreeting(greeting))
	}
	m := manager.NewManager(opts...)

	printer.Connecting(serverURL)
	if err := m.Connect(ctx, serverURL, protocol.Params(connectParams)); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	// stdin lines become messages; EOF leaves the connection open until Ctrl+C
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "/quit" {
				_ = m.Close()
				return
			}
			if err := m.Send(text); err != nil {
				if errors.Is(err, manager.ErrNotConnected) {
					printer.Error(errors.New("not connected yet, message dropped"))
					continue
				}
				printer.Error(err)
			}
		}
	}()

	<-m.Done()
	return nil
}

func init() {
	connectCmd.Flags().StringToStringVarP(&connectParams, "param", "p", nil, "handshake parameter key=value (repeatable)")
	connectCmd.Flags().StringVar(&connectGreeting, "greeting", "", "message sent right after connecting (default from CLIENT_GREETING)")
	connectCmd.Flags().BoolVar(&connectNoGreeting, "no-greeting", false, "do not send a greeting")
	rootCmd.AddCommand(connectCmd)
}
