// Package difficulty computes the beatmap attributes a player actually faces
// once game modifiers are applied.
package difficulty

import (
	"math"

	"github.com/rankwatch/rankwatch/pkg/model"
)

const (
	SpeedUp   = 1.5
	SlowDown  = 0.75
	Harder    = 1.4
	HarderCS  = 1.3
	Easier    = 0.5
	MaxRating = 10.0

	// Approach times in milliseconds.
	ARMaxMs = 1800.0
	ARMidMs = 1200.0
	ARMinMs = 450.0
)

// Tempo returns the playback speed multiplier for mods. HT wins when both HT
// and DT are present.
func Tempo(mods model.Mods) float64 {
	speed := 1.0
	if mods&(model.ModDoubleTime|model.ModNightcore) != 0 {
		speed = SpeedUp
	}
	if mods&model.ModHalfTime != 0 {
		speed = SlowDown
	}
	return speed
}

// Apply returns the effective attributes of base under mods.
//
// HR and EZ are applied in that order when both are set, so their multipliers
// compound.
func Apply(base model.Attributes, mods model.Mods) model.Attributes {
	speed := Tempo(mods)
	out := base
	out.BPM = base.BPM * speed

	if mods&model.ModHardRock != 0 {
		out.CS = math.Min(out.CS*HarderCS, MaxRating)
		out.AR *= Harder
		out.HP = math.Min(out.HP*Harder, MaxRating)
	}
	if mods&model.ModEasy != 0 {
		out.CS *= Easier
		out.AR *= Easier
		out.HP = math.Min(out.HP*Easier, MaxRating)
	}

	ms := clamp(ARToMs(out.AR), ARMinMs, ARMaxMs) / speed
	out.AR = MsToAR(ms)

	window := 80 - math.Ceil(6*out.OD)
	out.OD = MsToOD(window / speed)
	return out
}

// ARToMs converts an approach rate to the time a hit object is visible.
func ARToMs(ar float64) float64 {
	if ar < 5 {
		return ARMaxMs - 120*ar
	}
	return ARMidMs - 150*(ar-5)
}

// MsToAR is the inverse of ARToMs.
func MsToAR(ms float64) float64 {
	if ms > ARMidMs {
		return (ARMaxMs - ms) / 120
	}
	return 5 + (ARMidMs-ms)/150
}

// ODToMs converts overall difficulty to the 300 hit window without rounding.
func ODToMs(od float64) float64 { return 80 - 6*od }

// MsToOD is the inverse of ODToMs.
func MsToOD(ms float64) float64 { return (80 - ms) / 6 }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
