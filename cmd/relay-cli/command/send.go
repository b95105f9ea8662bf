package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	c "fleetrelay/cmd/relay-cli/command/client"
)

var sendCmd = &cobra.Command{
	Use:   "send [json]",
	Short: "Send one message and print replies for a while",
	Example: `  relay-cli send --role rover '{"type":"battery","value":42}'
  relay-cli send --role frontend '{"rover_id":"r1","command":"forward","distance":2}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(args[0])
		if !json.Valid(payload) {
			return fmt.Errorf("message is not valid JSON")
		}
		wait, _ := cmd.Flags().GetDuration("wait")

		ctx, cancel := listenContext(cmd.Context())
		defer cancel()

		client, err := c.Dial(ctx, relayURL, role)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.SendRaw(payload); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("📤 sent as %s\n", client.Role())

		if wait <= 0 {
			return nil
		}
		listenCtx, cancelListen := context.WithTimeout(ctx, wait)
		defer cancelListen()
		return client.Listen(listenCtx, c.PrintMessage)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Register with a role and print relayed frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := listenContext(cmd.Context())
		defer cancel()

		client, err := c.Dial(ctx, relayURL, role)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Printf("👀 watching as %s (Ctrl+C to stop)\n", client.Role())
		return client.Listen(ctx, c.PrintMessage)
	},
}

func init() {
	sendCmd.Flags().DurationP("wait", "w", 2*time.Second, "how long to print replies after sending")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}
