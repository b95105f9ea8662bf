package command

// root.go defines the root command for relay-cli and its global flags.

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fleetrelay/internal/microservices/relay"
)

var (
	relayURL string // Global flag for the relay WebSocket URL
	role     string // role to register as
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "relay-cli - fleet relay command line client",
	Long: `relay-cli connects to the fleet relay as a frontend, rover or fleet_control
client. Use it to watch relayed traffic or to inject messages while testing
rovers and dashboards.

Use "relay-cli command --help" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := relay.ParseRole(role); err != nil {
			return fmt.Errorf("%w (choose one of %s)", err, roleNames())
		}
		return nil
	},
}

// roleNames lists the roles a client may register as, e.g. "frontend, rover, fleet_control".
func roleNames() string {
	names := make([]string, 0, len(relay.Roles))
	for _, r := range relay.Roles {
		names = append(names, r.String())
	}
	return strings.Join(names, ", ")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVarP(&relayURL, "url", "u", "ws://localhost:8088", "relay WebSocket URL")
	rootCmd.PersistentFlags().StringVarP(&role, "role", "r", "frontend", "role to register as ("+roleNames()+")")
}
