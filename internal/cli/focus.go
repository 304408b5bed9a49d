package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streakforge/streakforge/internal/app/engagement"
)

func init() {
	focusStartCmd.Flags().IntVar(&plannedMinutes, "planned", 25, "Planned session length in minutes")
	focusCmd.AddCommand(focusStartCmd)
	rootCmd.AddCommand(focusCmd)
}

var plannedMinutes int

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Manage focus sessions",
}

var focusStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Open a focus session; finish it with \"award focus\"",
	Long: `Open a focus session. The start time is recorded now and is what
"award focus" pro-rates against, so the session is credited for the time
actually spent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		s, err := d.Engine.StartFocus(cmd.Context(), engagement.FocusStartRequest{
			UserID:         userID,
			SessionID:      args[0],
			PlannedMinutes: plannedMinutes,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", titleStyle.Render("Focus"), s.SessionID)
		fmt.Printf("  %s\n", labelValue("Planned", fmt.Sprintf("%d min", s.PlannedMinutes)))
		fmt.Printf("  %s\n", labelValue("Started", s.StartedAt.Local().Format(time.Kitchen)))
		return nil
	},
}
