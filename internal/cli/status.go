package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streakforge/streakforge/internal/app/engagement"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show level, XP and streak for a user",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	p, err := d.Engine.Profile(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Println(renderProfile(d.Engine.Curve(), p))
	return nil
}

func renderProfile(curve engagement.Curve, p *engagement.ProfileView) string {
	floor := curve.XPForLevel(p.Level)
	span := p.NextLevelXP - floor
	if p.Level >= curve.MaxLevel {
		span = 0
	}

	lastActive := "never"
	if !p.LastActiveDate.IsZero() {
		lastActive = p.LastActiveDate.String()
	}

	return panel(
		heading(fmt.Sprintf("%s · Level %d", p.UserID, p.Level)),
		levelBar(p.ProgressPct, p.XPTotal-floor, span),
		labelValue("Total XP", p.XPTotal),
		labelValue("Streak", fmt.Sprintf("%d days (best %d, last active %s)", p.CurrentStreak, p.LongestStreak, lastActive)),
		labelValue("Multiplier", fmt.Sprintf("x%.2f streak · x%.2f permanent", p.StreakMultiplier, p.PermanentXPBonus)),
	)
}
