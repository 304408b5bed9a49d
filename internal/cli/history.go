package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"log"},
	Short:   "List recent XP ledger entries",
	RunE:    runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Engine.History(cmd.Context(), userID, historyLimit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No XP yet. Run 'streakforge award task <id>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSOURCE\tID\tBASE\tSTREAK\tBONUS\tTOTAL\tSTATE")
	for _, e := range entries {
		state := "active"
		if !e.Active() {
			state = "reversed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.SourceType,
			e.SourceID,
			e.BaseXP,
			e.StreakBonus,
			e.MultiplierBonus,
			e.TotalXP,
			state,
		)
	}
	return w.Flush()
}
