package engagement

import (
	"fmt"
	"math"
	"sort"
)

// CurveVersion identifies the leveling formula. Bump it when Base, Exponent
// or MaxLevel of DefaultCurve change.
const CurveVersion = 1

// Curve maps cumulative XP to levels: XPForLevel(L) = ceil(Base * (L-1)^Exponent).
type Curve struct {
	Base     float64 `toml:"base" json:"base"`
	Exponent float64 `toml:"exponent" json:"exponent"`
	MaxLevel int     `toml:"max_level" json:"max_level"`
}

const (
	maxCurveLevel = 10000
	maxCurveXP    = 1e15
)

// DefaultCurve is the production curve: 100 XP for level 2, 283 for 3,
// 520 for 4 and so on up to level 100.
var DefaultCurve = Curve{Base: 100, Exponent: 1.5, MaxLevel: 100}

// Validate rejects curves that are not strictly increasing.
func (c Curve) Validate() error {
	if c.Base <= 0 {
		return fmt.Errorf("curve base must be positive, got %v", c.Base)
	}
	if c.Exponent <= 0 {
		return fmt.Errorf("curve exponent must be positive, got %v", c.Exponent)
	}
	if c.MaxLevel < 2 || c.MaxLevel > maxCurveLevel {
		return fmt.Errorf("curve max level must be within [2, %d], got %d", maxCurveLevel, c.MaxLevel)
	}
	if top := c.Base * math.Pow(float64(c.MaxLevel-1), c.Exponent); top > maxCurveXP {
		return fmt.Errorf("curve threshold for level %d is too large: %v", c.MaxLevel, top)
	}
	// Rounding up can collapse neighbouring levels onto one threshold.
	for l := 1; l < c.MaxLevel; l++ {
		if lo, hi := c.XPForLevel(l), c.XPForLevel(l+1); hi <= lo {
			return fmt.Errorf("curve thresholds must strictly increase: level %d needs %d XP, level %d needs %d",
				l, lo, l+1, hi)
		}
	}
	return nil
}

// XPForLevel returns the minimum cumulative XP for a level.
// Level 1 (and below) needs 0 XP; levels above MaxLevel clamp to MaxLevel.
func (c Curve) XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level > c.MaxLevel {
		level = c.MaxLevel
	}
	return int64(math.Ceil(c.Base * math.Pow(float64(level-1), c.Exponent)))
}

// LevelForXP returns the highest level whose threshold is <= xp.
func (c Curve) LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	// First level in [2, MaxLevel] whose threshold exceeds xp.
	n := sort.Search(c.MaxLevel-1, func(i int) bool {
		return c.XPForLevel(i+2) > xp
	})
	return n + 1
}

// XPToNextLevel returns XP remaining until the next level (0 at max level).
func (c Curve) XPToNextLevel(xp int64) int64 {
	level := c.LevelForXP(xp)
	if level >= c.MaxLevel {
		return 0
	}
	remaining := c.XPForLevel(level+1) - xp
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func (c Curve) ProgressPct(xp int64) float64 {
	level := c.LevelForXP(xp)
	if level >= c.MaxLevel {
		return 100.0
	}
	thisLevel := c.XPForLevel(level)
	span := c.XPForLevel(level+1) - thisLevel
	if span <= 0 {
		return 100.0
	}
	progress := float64(xp-thisLevel) / float64(span) * 100.0
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}

// XPForLevel returns the cumulative XP required for a level on DefaultCurve.
func XPForLevel(level int) int64 { return DefaultCurve.XPForLevel(level) }

// LevelForXP returns the level for an XP total on DefaultCurve.
func LevelForXP(xp int64) int { return DefaultCurve.LevelForXP(xp) }
