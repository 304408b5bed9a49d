package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	achievementsCmd.Flags().BoolVar(&checkAchievements, "check", false, "Re-evaluate the catalog before listing")
	rootCmd.AddCommand(achievementsCmd)
}

var checkAchievements bool

var achievementsCmd = &cobra.Command{
	Use:     "achievements",
	Aliases: []string{"ach"},
	Short:   "List achievements and their unlock state",
	RunE:    runAchievements,
}

func runAchievements(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if checkAchievements {
		res, err := d.Engine.CheckAchievements(cmd.Context(), userID)
		if err != nil {
			return err
		}
		for _, a := range res.Unlocked {
			fmt.Printf("%s %s %s\n", goldStyle.Render("Unlocked"), a.Name, xpText(a.XPAwarded))
		}
	}

	list, err := d.Engine.Achievements(cmd.Context(), userID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tREWARD\tUNLOCKED")
	for _, a := range list {
		unlocked := "-"
		if a.UnlockedAt != nil {
			unlocked = a.UnlockedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d XP\t%s\n", a.ID, a.Name, a.Category, a.RewardXP, unlocked)
	}
	return w.Flush()
}
