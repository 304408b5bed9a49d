package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Terminal styles shared by every command.

var (
	cPrimary = lipgloss.Color("63")  // blue
	cAccent  = lipgloss.Color("205") // magenta
	cGood    = lipgloss.Color("42")  // green
	cWarn    = lipgloss.Color("214") // orange
	cMuted   = lipgloss.Color("244") // gray
	cGold    = lipgloss.Color("220") // gold
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	keyStyle   = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	goodStyle  = lipgloss.NewStyle().Bold(true).Foreground(cGood)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(cWarn)
	goldStyle  = lipgloss.NewStyle().Bold(true).Foreground(cGold)
	mutedStyle = lipgloss.NewStyle().Foreground(cMuted)

	panelStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(cMuted).Padding(0, 1)
)

func heading(title string) string {
	return titleStyle.Render(title)
}

func labelValue(label string, value any) string {
	return fmt.Sprintf("%s %v", keyStyle.Render(label+":"), value)
}

func panel(lines ...string) string {
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// xpText renders a signed XP amount.
func xpText(xp int64) string {
	switch {
	case xp > 0:
		return goodStyle.Render(fmt.Sprintf("+%d XP", xp))
	case xp < 0:
		return warnStyle.Render(fmt.Sprintf("%d XP", xp))
	default:
		return mutedStyle.Render("0 XP")
	}
}

func checkMark(done bool) string {
	if done {
		return goodStyle.Render("done")
	}
	return mutedStyle.Render("open")
}
