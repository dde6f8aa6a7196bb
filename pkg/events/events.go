// Package events is a small synchronous publish/subscribe dispatcher for the
// notifications the sync jobs produce.
package events

import (
	"fmt"
	"strings"

	"github.com/rankwatch/rankwatch/pkg/model"
)

// Kind identifies an event variant.
type Kind int

const (
	KindLeaderboardSynced Kind = iota + 1
	KindUserDiscovered
	KindUserBanned
	KindTaskFailed
)

func (k Kind) String() string {
	switch k {
	case KindLeaderboardSynced:
		return "leaderboard_synced"
	case KindUserDiscovered:
		return "user_discovered"
	case KindUserBanned:
		return "user_banned"
	case KindTaskFailed:
		return "task_failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	String() string
	event()
}

// LeaderboardSynced is emitted after one leaderboard was fully written.
type LeaderboardSynced struct {
	Server    string
	Criterion model.Criterion
	Mode      model.Mode
	Relax     model.Relax
	Count     int
}

func (LeaderboardSynced) Kind() Kind { return KindLeaderboardSynced }
func (LeaderboardSynced) event()     {}

func (e LeaderboardSynced) String() string {
	return fmt.Sprintf("Leaderboard updated!\nServer: %s\nBoard: %s %s (%s)\nEntries: %d",
		e.Server, e.Mode, e.Criterion, e.Relax, e.Count)
}

// UserDiscovered is emitted the first time a user is stored.
type UserDiscovered struct {
	User model.User
}

func (UserDiscovered) Kind() Kind { return KindUserDiscovered }
func (UserDiscovered) event()     {}

func (e UserDiscovered) String() string {
	return fmt.Sprintf("New user discovered!\nServer: %s\nUsername: %s", e.User.Server, e.User.Username)
}

// UserBanned is emitted when a known user turns restricted or disappears.
// Cached is the last stored record, if any.
type UserBanned struct {
	Server string
	UserID int64
	Cached *model.User
}

func (UserBanned) Kind() Kind { return KindUserBanned }
func (UserBanned) event()     {}

func (e UserBanned) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User banned!\nServer: %s\nID: %d", e.Server, e.UserID)
	if e.Cached != nil {
		fmt.Fprintf(&b, "\nUsername: %s", e.Cached.Username)
	}
	return b.String()
}

// TaskFailed is emitted when a scheduled task returns an error or panics.
type TaskFailed struct {
	Task  string
	RunID string
	Err   error
}

func (TaskFailed) Kind() Kind { return KindTaskFailed }
func (TaskFailed) event()     {}

func (e TaskFailed) String() string {
	return fmt.Sprintf("Task failed!\nTask: %s\nRun: %s\nError: %v", e.Task, e.RunID, e.Err)
}
