package cli

import (
	"fmt"
	"strings"
)

// ─── Level Bar ──────────────────────────────────────────────────────────────
// Renders progress inside the current level:
// [████████████░░░░░░░░░░░░░░░░░░]  42% │ 120 / 283 XP

const barWidth = 30 // Characters for the progress bar

// levelBar draws pct (0..100) with the XP span it represents.
func levelBar(pct float64, into, span int64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	bar := goodStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", empty))
	if span <= 0 {
		return fmt.Sprintf("[%s] %3.0f%% │ max level", bar, pct)
	}
	return fmt.Sprintf("[%s] %3.0f%% │ %d / %d XP", bar, pct, into, span)
}
