package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the attache application
var rootCmd = &cobra.Command{
	Use:   "attache",
	Short: "Backend-for-frontend for a chat-based email and calendar assistant",
	Long: `attache serves a mobile chat client talking to an LLM assistant that can
read and send email and manage calendar events through the user's Google or
Microsoft account.

Every side effect goes through a propose/confirm protocol: the model drafts
the action, and nothing executes until the user types the exact confirmation
phrase.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "attache version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
