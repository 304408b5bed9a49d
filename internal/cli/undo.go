package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
)

func init() {
	rootCmd.AddCommand(undoCmd)
}

var undoCmd = &cobra.Command{
	Use:   "undo <task|habit|focus|referral> <source-id>",
	Short: "Reverse the XP of an un-completed action",
	Long: `Reverse the XP and counters of an action that was un-completed.
Streaks, achievements and challenge progress already earned are kept.`,
	Args: cobra.ExactArgs(2),
	RunE: runUndo,
}

func runUndo(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Engine.Undo(cmd.Context(), engagement.UndoRequest{
		UserID:   userID,
		Kind:     domain.SourceType(args[0]),
		SourceID: args[1],
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s %s %s\n", xpText(-res.XPDeducted), res.Kind, res.SourceID)
	fmt.Printf("  %s\n", labelValue("Total", res.NewXPTotal))
	if res.LeveledDown {
		fmt.Printf("  %s\n", warnStyle.Render(fmt.Sprintf("Level now %d", res.NewLevel)))
	}
	return nil
}
