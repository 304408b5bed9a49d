package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	notificationsCmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only entries not shown yet")
	notificationsCmd.Flags().IntVarP(&feedLimit, "limit", "n", 20, "Number of entries to show")
	notificationsCmd.AddCommand(notificationsShownCmd)
	rootCmd.AddCommand(notificationsCmd)
}

var (
	pendingOnly bool
	feedLimit   int
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"feed"},
	Short:   "Show the progress feed",
	RunE:    runNotifications,
}

var notificationsShownCmd = &cobra.Command{
	Use:   "shown <id>",
	Short: "Mark a feed entry as shown",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationShown,
}

func runNotifications(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Notifier == nil {
		return fmt.Errorf("notifications are disabled (notifications.enabled = false)")
	}
	list, err := d.Notifier.List(cmd.Context(), userID, pendingOnly, feedLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println(mutedStyle.Render("Nothing new."))
		return nil
	}
	for _, n := range list {
		push := ""
		if n.Pushed {
			push = goldStyle.Render(" [push]")
		}
		fmt.Printf("%s %s%s\n  %s\n", mutedStyle.Render(fmt.Sprintf("#%d", n.ID)), keyStyle.Render(n.Title), push, n.Body)
	}
	return nil
}

func runNotificationShown(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Notifier == nil {
		return fmt.Errorf("notifications are disabled (notifications.enabled = false)")
	}
	return d.Notifier.MarkShown(cmd.Context(), userID, id)
}
