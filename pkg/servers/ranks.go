package servers

import "strings"

// RankPolicy decides where leaderboard ranks come from.
type RankPolicy int

const (
	// TrustUpstream keeps the rank the upstream reported for each row.
	TrustUpstream RankPolicy = iota
	// RunningCounter numbers rows by position, starting at the page offset.
	RunningCounter
)

// AssignRanks returns the rank of each row on a page. upstream holds the
// upstream-reported ranks; it is ignored under RunningCounter and may be
// shorter than the page, in which case missing rows fall back to position.
func AssignRanks(policy RankPolicy, page, pageSize int, upstream []int, rows int) []int {
	if page < 1 {
		page = 1
	}
	start := (page-1)*pageSize + 1
	out := make([]int, rows)
	for i := range out {
		if policy == TrustUpstream && i < len(upstream) && upstream[i] > 0 {
			out[i] = upstream[i]
			continue
		}
		out[i] = start + i
	}
	return out
}

// UserRef is a username search candidate.
type UserRef struct {
	ID       int64
	Username string
}

// MatchUsername picks the first candidate whose name equals query ignoring
// case. Partial matches are never accepted.
func MatchUsername(candidates []UserRef, query string) (int64, bool) {
	for _, c := range candidates {
		if strings.EqualFold(c.Username, query) {
			return c.ID, true
		}
	}
	return 0, false
}
