package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/streakforge/streakforge/internal/domain"
)

func init() {
	rootCmd.AddCommand(challengesCmd)
}

var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "Show today's and this week's challenges",
	RunE:  runChallenges,
}

func runChallenges(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	board, err := d.Engine.Challenges(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Println(heading("Daily · " + board.Day.String()))
	if err := printChallenges(board.Daily); err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(heading("Weekly · from " + board.WeekStart.String()))
	return printChallenges(board.Weekly)
}

func printChallenges(list []domain.ChallengeInstance) error {
	if len(list) == 0 {
		fmt.Println(mutedStyle.Render("  none"))
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHALLENGE\tPROGRESS\tREWARD\tSTATE")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%d/%d\t%d XP\t%s\n", c.Description, c.Progress, c.Target, c.RewardXP, checkMark(c.Completed))
	}
	return w.Flush()
}
