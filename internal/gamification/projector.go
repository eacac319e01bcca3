package gamification

import (
	"math"

	"github.com/jcuenca6779/urbandrive/internal/api"
)

// XP and coin rewards the backend grants per validated report, kept here for
// display copy only.
const (
	XPPerValidReport    = 10
	CoinsPerValidReport = 5
)

// BadgeThreshold pairs a badge with the XP needed to earn it.
type BadgeThreshold struct {
	XP   int
	Name string
}

// BadgeCatalog mirrors the thresholds awarded by the gamification service,
// in ascending XP order.
var BadgeCatalog = []BadgeThreshold{
	{100, "Explorador Urbano"},
	{250, "Guardián de la Ciudad"},
	{500, "Héroe del Tráfico"},
	{1000, "Leyenda Urbana"},
}

// Progress is the display projection of a gamification profile.
type Progress struct {
	Level       int     `json:"level"`
	XP          int     `json:"xp"`
	Coins       int     `json:"coins"`
	Floor       int     `json:"level_floor"`
	Ceiling     int     `json:"level_ceiling"`
	Fraction    float64 `json:"progress"`
	ToNextLevel int     `json:"xp_to_next_level"`
	NextBadge   string  `json:"next_badge,omitempty"`
	ToNextBadge int     `json:"xp_to_next_badge,omitempty"`
}

// ExperienceFloor is the XP at which a level begins.
func ExperienceFloor(level int) int {
	if level < 1 {
		level = 1
	}
	return (level - 1) * (level - 1) * 100
}

// ExperienceCeiling is the XP at which the next level begins.
func ExperienceCeiling(level int) int {
	if level < 1 {
		level = 1
	}
	return level * level * 100
}

// Level derives the level the quadratic thresholds imply for an XP total.
// The projector trusts the server's reported level instead of this; it exists
// as the reference formula (level = sqrt(xp/100) + 1).
func Level(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return int(math.Sqrt(float64(xp)/100)) + 1
}

// Project derives the progress-bar view of a profile. The server's level is
// taken as-is; stale combinations (xp below the level's floor) clamp the
// fraction to zero rather than going negative.
func Project(p *api.Profile) Progress {
	level := p.Level
	if level < 1 {
		level = 1
	}

	floor := ExperienceFloor(level)
	ceiling := ExperienceCeiling(level)

	fraction := float64(p.XP-floor) / float64(ceiling-floor)
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	out := Progress{
		Level:       level,
		XP:          p.XP,
		Coins:       p.Coins,
		Floor:       floor,
		Ceiling:     ceiling,
		Fraction:    fraction,
		ToNextLevel: ceiling - p.XP,
	}

	earned := make(map[string]bool, len(p.Badges))
	for _, b := range p.Badges {
		earned[b] = true
	}
	for _, bt := range BadgeCatalog {
		if p.XP < bt.XP && !earned[bt.Name] {
			out.NextBadge = bt.Name
			out.ToNextBadge = bt.XP - p.XP
			break
		}
	}
	return out
}
