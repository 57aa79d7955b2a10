// Package cli implements the command-line interface using cobra. The replay
// command doubles as the host-pipeline stand-in: it drives synthetic flows
// through the output registry exactly the way a capture pipeline would.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suricata",
		Short: "Flow-start JSON event tap",
		Long: `Logs the start of network flows as EVE flow_start events.

The flow_start logger runs either standalone (its own flowstart.json) or
nested under the eve-log output, sharing its sink with other EVE loggers.
Events fire only in inline (IPS) run mode, on the first packet of each flow.

Quick start:
  suricata replay --config suricata.yaml
  suricata check --config suricata.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		replayCmd(),
		checkCmd(),
	)

	return cmd
}
