// Package cli implements the streakforge command-line interface using Cobra.
// Commands open the configured store directly, so they work with or without
// a running server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "streakforge",
	Short: "streakforge: XP, streaks, achievements and challenges",
	Long: `streakforge is a progression engine for productivity apps.
Completed tasks, habits, focus sessions and referrals earn XP, extend daily
streaks, unlock achievements and advance daily and weekly challenges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var userID string

func init() {
	def := os.Getenv("STREAKFORGE_USER")
	if def == "" {
		def = "local"
	}
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", def, "User id to act on (env STREAKFORGE_USER)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
