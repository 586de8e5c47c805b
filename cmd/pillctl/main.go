package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

var rootCmd = &cobra.Command{
	Use:   "pillctl",
	Short: "PillPal administration tool",
	Long: `pillctl manages a PillPal reminder server from the command line.

Commands:
  check [file]     Validate a medications file and print the schedule
  token <device>   Issue a device token signed with JWT_SECRET
  report           Print or export adherence for a date range
  test-sms <num>   Send a test SMS through Twilio
  test-voice       Synthesize and play a test voice reminder

Configuration is read from the environment and .env, like the server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newTestSMSCmd())
	rootCmd.AddCommand(newTestVoiceCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
