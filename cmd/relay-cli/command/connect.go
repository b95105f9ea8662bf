package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	c "fleetrelay/cmd/relay-cli/command/client"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Register with a role and relay stdin lines",
	Long: `Connect to the relay, register with --role, then:
- print every frame the relay delivers to this role
- send every line typed on stdin as one frame (lines must be JSON objects)

Type /quit or press Ctrl+C to disconnect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		fmt.Printf("🔌 Connecting to %s as %s...\n", relayURL, role)
		client, err := c.Dial(ctx, relayURL, role)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("✅ Registered! Type JSON messages (or /quit to exit)")

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					stop()
					return
				}
				if err := client.SendRaw([]byte(line)); err != nil {
					fmt.Fprintln(os.Stderr, "write error:", err)
					stop()
					return
				}
			}
		}()

		return client.Listen(ctx, c.PrintMessage)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

// listenContext is used by commands that only need Ctrl+C handling.
func listenContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
