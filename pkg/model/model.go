// Package model holds the canonical, server-independent entities every
// upstream payload is normalized into.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode is a game mode.
type Mode int

const (
	ModeOsu Mode = iota
	ModeTaiko
	ModeCatch
	ModeMania
)

// Modes lists every game mode in wire order.
var Modes = []Mode{ModeOsu, ModeTaiko, ModeCatch, ModeMania}

var modeNames = [...]string{"osu", "taiko", "fruits", "mania"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode accepts the mode index or any of the common mode names.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "osu", "std", "standard":
		return ModeOsu, nil
	case "1", "taiko":
		return ModeTaiko, nil
	case "2", "fruits", "catch", "ctb":
		return ModeCatch, nil
	case "3", "mania":
		return ModeMania, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Relax selects a ruleset variant: vanilla, relax, or autopilot.
type Relax int

const (
	RelaxNone Relax = iota
	RelaxRelax
	RelaxAutopilot
)

func (r Relax) String() string {
	switch r {
	case RelaxNone:
		return "vanilla"
	case RelaxRelax:
		return "relax"
	case RelaxAutopilot:
		return "autopilot"
	}
	return fmt.Sprintf("relax(%d)", int(r))
}

// ParseRelax accepts the names printed by String plus the short forms "rx"
// and "ap".
func ParseRelax(s string) (Relax, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vanilla", "none", "vn":
		return RelaxNone, nil
	case "relax", "rx":
		return RelaxRelax, nil
	case "autopilot", "ap":
		return RelaxAutopilot, nil
	}
	return 0, fmt.Errorf("unknown relax variant %q", s)
}

// Supports reports whether the variant exists for a mode. Relax has no mania
// variant and autopilot only exists for osu!.
func (r Relax) Supports(m Mode) bool {
	switch r {
	case RelaxNone:
		return true
	case RelaxRelax:
		return m != ModeMania
	case RelaxAutopilot:
		return m == ModeOsu
	}
	return false
}

// Completion is the canonical completion status of a score.
type Completion int

const (
	CompletionFailed Completion = 1
	CompletionPassed Completion = 2
	CompletionBest   Completion = 3
)

func (c Completion) String() string {
	switch c {
	case CompletionFailed:
		return "failed"
	case CompletionPassed:
		return "passed"
	case CompletionBest:
		return "best"
	}
	return fmt.Sprintf("completion(%d)", int(c))
}

// Criterion is the ordering of a ranked leaderboard.
type Criterion string

const (
	CriterionPerformance Criterion = "pp"
	CriterionScore       Criterion = "score"
)

// Criteria lists the supported leaderboard orderings, primary first.
var Criteria = []Criterion{CriterionPerformance, CriterionScore}

// RankedStatus is a beatmap's ranked state in the legacy integer encoding.
type RankedStatus int

const (
	StatusGraveyard RankedStatus = -2
	StatusWIP       RankedStatus = -1
	StatusPending   RankedStatus = 0
	StatusRanked    RankedStatus = 1
	StatusApproved  RankedStatus = 2
	StatusQualified RankedStatus = 3
	StatusLoved     RankedStatus = 4
)

func (s RankedStatus) String() string {
	switch s {
	case StatusGraveyard:
		return "graveyard"
	case StatusWIP:
		return "wip"
	case StatusPending:
		return "pending"
	case StatusRanked:
		return "ranked"
	case StatusApproved:
		return "approved"
	case StatusQualified:
		return "qualified"
	case StatusLoved:
		return "loved"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Hits are per-judgement hit counts.
type Hits struct {
	Great int `json:"great"`
	Good  int `json:"good"`
	Meh   int `json:"meh"`
	Miss  int `json:"miss"`
	Geki  int `json:"geki"`
	Katu  int `json:"katu"`
}

// Attributes are beatmap difficulty settings.
type Attributes struct {
	AR  float64 `json:"ar"`
	OD  float64 `json:"od"`
	HP  float64 `json:"hp"`
	CS  float64 `json:"cs"`
	BPM float64 `json:"bpm"`
}

// Score is one play submitted to a server.
type Score struct {
	ID          int64
	Server      string
	UserID      int64
	BeatmapID   int64
	BeatmapMD5  string
	Hits        Hits
	MaxCombo    int
	Perfect     bool
	Accuracy    float64
	Grade       Grade
	PP          float64
	Score       int64
	Mods        Mods
	Mode        Mode
	Relax       Relax
	Completed   Completion
	Pinned      bool
	SubmittedAt time.Time
	PPSystem    string
	// Difficulty holds mod-adjusted attributes when the payload carried the
	// beatmap's base attributes.
	Difficulty *Attributes
	Extra      map[string]string
	// CompletionKnown is false when the listing cannot tell a personal best
	// from another pass. Stored completion is then only ever raised.
	CompletionKnown bool
	// PinKnown is false when the payload did not carry the pin state, which
	// leaves the stored flag as it was.
	PinKnown bool
}

// User is a player account on one server.
type User struct {
	ID              int64
	Server          string
	Username        string
	UsernameHistory []string
	Country         string
	ClanID          int64
	RegisteredOn    time.Time
	LatestActivity  time.Time
	FavouriteMode   Mode
	Followers       int
	Banned          bool
	Bot             bool
	Extra           map[string]string
}

// Rename records a new username, appending it to the history. The history is
// append-only with the most recent name last.
func (u *User) Rename(name string) {
	if name == "" {
		return
	}
	if n := len(u.UsernameHistory); n > 0 && u.UsernameHistory[n-1] == name {
		u.Username = name
		return
	}
	u.UsernameHistory = append(u.UsernameHistory, name)
	u.Username = name
}

// GradeCounts are the number of best scores per grade.
type GradeCounts struct {
	XH     int
	X      int
	SH     int
	S      int
	A      int
	B      int
	C      int
	D      int
	Clears int
}

// Stats is a dated per-mode statistics snapshot of a user.
type Stats struct {
	Server  string
	UserID  int64
	Mode    Mode
	Relax   Relax
	Date    time.Time
	Country string

	TotalScore  int64
	RankedScore int64
	TotalHits   int64
	PlayCount   int64
	PlayTime    int64
	ReplayViews int64
	MaxCombo    int
	Level       float64
	Accuracy    float64
	PP          float64
	Grades      GradeCounts

	GlobalRank       int
	CountryRank      int
	GlobalScoreRank  int
	CountryScoreRank int
}

// Day truncates t to its UTC calendar day, the granularity of Stats.Date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Rank returns the global and country rank for a leaderboard criterion.
func (s *Stats) Rank(c Criterion) (global, country int) {
	if c == CriterionScore {
		return s.GlobalScoreRank, s.CountryScoreRank
	}
	return s.GlobalRank, s.CountryRank
}

// SetRank stores the global and country rank for a leaderboard criterion.
func (s *Stats) SetRank(c Criterion, global, country int) {
	if c == CriterionScore {
		s.GlobalScoreRank, s.CountryScoreRank = global, country
		return
	}
	s.GlobalRank, s.CountryRank = global, country
}

// Value returns the figure a leaderboard criterion orders by.
func (s *Stats) Value(c Criterion) float64 {
	if c == CriterionScore {
		return float64(s.RankedScore)
	}
	return s.PP
}

// Clan is a player group on one server.
type Clan struct {
	ID          int64
	Server      string
	Name        string
	Tag         string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// ClanStats is a dated per-mode statistics snapshot of a clan.
type ClanStats struct {
	Server      string
	ClanID      int64
	Mode        Mode
	Relax       Relax
	Date        time.Time
	TotalScore  int64
	RankedScore int64
	PlayCount   int64
	PP          float64
	Accuracy    float64
	Rank        int
	ScoreRank   int
}

// MapPlaycount is how often a user played a beatmap.
type MapPlaycount struct {
	Server    string
	UserID    int64
	BeatmapID int64
	PlayCount int
}

// TaskCheckpoint is the last successful completion of a scheduled task.
type TaskCheckpoint struct {
	Name    string
	LastRun time.Time
}

// CompactStanding is the most recent known rank of a user on one leaderboard.
type CompactStanding struct {
	Server      string
	UserID      int64
	Mode        Mode
	Relax       Relax
	Criterion   Criterion
	Country     string
	GlobalRank  int
	CountryRank int
	Value       float64
}

// BeatmapStatus is the ranked state of a beatmap on one server.
type BeatmapStatus struct {
	Server    string
	BeatmapID int64
	Status    RankedStatus
	CheckedAt time.Time
}
