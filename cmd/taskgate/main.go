// Taskgate — a sandboxed gateway that turns natural-language tasks into
// executable commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskgate",
	Short: "Taskgate — translate natural-language tasks into sandboxed shell commands.",
	Long: `Taskgate is an HTTP service that converts plain-language task descriptions
into shell commands via a chat-completion model and runs them inside a
restricted filesystem sandbox. It also exposes sandboxed file reads,
URL downloads, and SQL queries against SQLite files.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
