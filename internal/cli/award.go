package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streakforge/streakforge/internal/app/engagement"
	"github.com/streakforge/streakforge/internal/domain"
)

func init() {
	awardTaskCmd.Flags().BoolVar(&highPriority, "high-priority", false, "Task was high priority (feeds high-priority challenges)")

	awardHabitCmd.Flags().IntVar(&habitsCompleted, "completed", 0, "Habits completed today, including this one")
	awardHabitCmd.Flags().IntVar(&habitsScheduled, "scheduled", 0, "Habits scheduled today")

	awardCmd.AddCommand(awardTaskCmd, awardHabitCmd, awardFocusCmd, awardReferralCmd)
	rootCmd.AddCommand(awardCmd)
}

var (
	highPriority    bool
	habitsCompleted int
	habitsScheduled int
)

var awardCmd = &cobra.Command{
	Use:   "award",
	Short: "Record a completed action and award XP",
}

var awardTaskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Complete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAward(cmd, domain.TaskCompleted{TaskID: args[0], HighPriority: highPriority})
	},
}

var awardHabitCmd = &cobra.Command{
	Use:   "habit <habit-id>",
	Short: "Check in a habit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAward(cmd, domain.HabitCompleted{
			HabitID:        args[0],
			CompletedToday: habitsCompleted,
			ScheduledToday: habitsScheduled,
		})
	},
}

var awardFocusCmd = &cobra.Command{
	Use:   "focus <session-id>",
	Short: "Finish a focus session opened with \"focus start\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAward(cmd, domain.FocusCompleted{SessionID: args[0]})
	},
}

var awardReferralCmd = &cobra.Command{
	Use:   "referral <referred-user-id>",
	Short: "Credit a referral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAward(cmd, domain.ReferralCompleted{ReferredUserID: args[0]})
	},
}

func runAward(cmd *cobra.Command, a domain.Action) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Engine.Award(cmd.Context(), engagement.AwardRequest{UserID: userID, Action: a})
	if err != nil {
		return err
	}
	fmt.Println(renderAward(res))
	return nil
}

func renderAward(res *engagement.AwardResult) string {
	var b strings.Builder
	switch {
	case res.BelowThreshold:
		b.WriteString(mutedStyle.Render("Session too short to earn XP."))
		return b.String()
	case res.Replayed:
		b.WriteString(mutedStyle.Render("Already recorded. "))
	}

	fmt.Fprintf(&b, "%s %s %s\n", xpText(res.ActionTotalXP), res.Kind, res.SourceID)
	bd := res.Breakdown
	fmt.Fprintf(&b, "  %s\n", mutedStyle.Render(fmt.Sprintf("base %d · streak +%d · bonus +%d", bd.BaseXP, bd.StreakBonus, bd.MultiplierBonus)))
	fmt.Fprintf(&b, "  %s\n", labelValue("Total", res.NewXPTotal))
	fmt.Fprintf(&b, "  %s", labelValue("Streak", fmt.Sprintf("%d (best %d)", res.NewStreak, res.LongestStreak)))

	if res.LeveledUp {
		fmt.Fprintf(&b, "\n%s", goldStyle.Render(fmt.Sprintf("LEVEL UP → %d", res.NewLevel)))
	}
	for _, a := range res.AchievementsUnlocked {
		fmt.Fprintf(&b, "\n%s %s %s", goldStyle.Render("Achievement"), a.Name, xpText(a.XPAwarded))
	}
	for _, c := range res.ChallengesCompleted {
		fmt.Fprintf(&b, "\n%s %s %s", goodStyle.Render("Challenge"), c.Description, xpText(c.XPAwarded))
	}
	return b.String()
}
