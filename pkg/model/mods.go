package model

import (
	"strings"
)

// Mods is the legacy game-modifier bitmask.
type Mods uint32

const (
	ModNoFail      Mods = 1 << 0
	ModEasy        Mods = 1 << 1
	ModTouchDevice Mods = 1 << 2
	ModHidden      Mods = 1 << 3
	ModHardRock    Mods = 1 << 4
	ModSuddenDeath Mods = 1 << 5
	ModDoubleTime  Mods = 1 << 6
	ModRelax       Mods = 1 << 7
	ModHalfTime    Mods = 1 << 8
	ModNightcore   Mods = 1 << 9
	ModFlashlight  Mods = 1 << 10
	ModAutoplay    Mods = 1 << 11
	ModSpunOut     Mods = 1 << 12
	ModAutopilot   Mods = 1 << 13
	ModPerfect     Mods = 1 << 14
	ModKey4        Mods = 1 << 15
	ModKey5        Mods = 1 << 16
	ModKey6        Mods = 1 << 17
	ModKey7        Mods = 1 << 18
	ModKey8        Mods = 1 << 19
	ModFadeIn      Mods = 1 << 20
	ModRandom      Mods = 1 << 21
	ModCinema      Mods = 1 << 22
	ModTarget      Mods = 1 << 23
	ModKey9        Mods = 1 << 24
	ModKeyCoop     Mods = 1 << 25
	ModKey1        Mods = 1 << 26
	ModKey3        Mods = 1 << 27
	ModKey2        Mods = 1 << 28
	ModScoreV2     Mods = 1 << 29
	ModMirror      Mods = 1 << 30
)

var modAcronyms = []struct {
	mod  Mods
	name string
}{
	{ModNoFail, "NF"},
	{ModEasy, "EZ"},
	{ModTouchDevice, "TD"},
	{ModHidden, "HD"},
	{ModHardRock, "HR"},
	{ModSuddenDeath, "SD"},
	{ModDoubleTime, "DT"},
	{ModRelax, "RX"},
	{ModHalfTime, "HT"},
	{ModNightcore, "NC"},
	{ModFlashlight, "FL"},
	{ModAutoplay, "AT"},
	{ModSpunOut, "SO"},
	{ModAutopilot, "AP"},
	{ModPerfect, "PF"},
	{ModKey4, "4K"},
	{ModKey5, "5K"},
	{ModKey6, "6K"},
	{ModKey7, "7K"},
	{ModKey8, "8K"},
	{ModFadeIn, "FI"},
	{ModRandom, "RD"},
	{ModCinema, "CN"},
	{ModTarget, "TP"},
	{ModKey9, "9K"},
	{ModKeyCoop, "CP"},
	{ModKey1, "1K"},
	{ModKey3, "3K"},
	{ModKey2, "2K"},
	{ModScoreV2, "V2"},
	{ModMirror, "MR"},
}

// Has reports whether every bit of m2 is set.
func (m Mods) Has(m2 Mods) bool { return m&m2 == m2 }

// SpeedChanging reports whether the mods alter playback speed.
func (m Mods) SpeedChanging() bool {
	return m&(ModDoubleTime|ModNightcore|ModHalfTime) != 0
}

// String renders the mods as concatenated acronyms ("HDDT"). Implied mods are
// omitted: NC hides DT, PF hides SD.
func (m Mods) String() string {
	if m == 0 {
		return "NM"
	}
	var b strings.Builder
	for _, a := range modAcronyms {
		if m&a.mod == 0 {
			continue
		}
		if a.mod == ModDoubleTime && m.Has(ModNightcore) {
			continue
		}
		if a.mod == ModSuddenDeath && m.Has(ModPerfect) {
			continue
		}
		b.WriteString(a.name)
	}
	return b.String()
}

// ParseMods folds a list of acronyms into a bitmask. Unknown acronyms are
// ignored; NC and PF also set the mods they imply.
func ParseMods(acronyms []string) Mods {
	var m Mods
	for _, raw := range acronyms {
		name := strings.ToUpper(strings.TrimSpace(raw))
		for _, a := range modAcronyms {
			if a.name == name {
				m |= a.mod
				break
			}
		}
	}
	if m.Has(ModNightcore) {
		m |= ModDoubleTime
	}
	if m.Has(ModPerfect) {
		m |= ModSuddenDeath
	}
	return m
}

// ParseModString parses concatenated acronyms such as "HDDTHR".
func ParseModString(s string) Mods {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	var parts []string
	for i := 0; i+1 < len(s); i += 2 {
		parts = append(parts, s[i:i+2])
	}
	return ParseMods(parts)
}
