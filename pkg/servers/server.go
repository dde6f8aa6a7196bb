// Package servers defines the contract every upstream game server client
// implements, the capability flags that describe optional features, and the
// registry the synchronization jobs select clients from.
package servers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/rankwatch/pkg/model"
)

var (
	// ErrUnavailable covers non-2xx responses, timeouts, an open circuit
	// breaker, and payloads of an unexpected shape.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotFound means the upstream answered that the user, clan, or beatmap
	// does not exist.
	ErrNotFound = errors.New("not found")
)

// Capability is a bit set of optional server features.
type Capability uint8

const (
	// CapRelax: separate relax/autopilot leaderboards and scores.
	CapRelax Capability = 1 << iota
	// CapClans: clan profiles and clan leaderboards.
	CapClans
	// CapLiveRanks: ranked leaderboards can be tracked page by page.
	CapLiveRanks
)

func (c Capability) String() string {
	s := ""
	for _, f := range []struct {
		c    Capability
		name string
	}{{CapRelax, "relax"}, {CapClans, "clans"}, {CapLiveRanks, "live-ranks"}} {
		if c&f.c == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += f.name
	}
	if s == "" {
		return "none"
	}
	return s
}

// Capabilities are fixed when a client is constructed.
type Capabilities struct {
	Flags           Capability
	RelaxVariants   []model.Relax
	MaxPageSize     int
	RequestInterval time.Duration
}

// Has reports whether every flag in f is set.
func (c Capabilities) Has(f Capability) bool { return c.Flags&f == f }

// SupportsRelax reports whether rx is a valid variant for this server.
func (c Capabilities) SupportsRelax(rx model.Relax) bool {
	if rx == model.RelaxNone {
		return true
	}
	if !c.Has(CapRelax) {
		return false
	}
	for _, v := range c.RelaxVariants {
		if v == rx {
			return true
		}
	}
	return false
}

// Variants returns the relax variants to sync, vanilla first.
func (c Capabilities) Variants() []model.Relax {
	if !c.Has(CapRelax) || len(c.RelaxVariants) == 0 {
		return []model.Relax{model.RelaxNone}
	}
	return c.RelaxVariants
}

// FetchOptions select a page of a mode/relax specific listing.
type FetchOptions struct {
	Mode     model.Mode
	Relax    model.Relax
	Page     int
	PageSize int
}

// Clamp normalizes the page to at least 1 and limits the page size to max.
func (o FetchOptions) Clamp(max int) FetchOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 || (max > 0 && o.PageSize > max) {
		o.PageSize = max
	}
	return o
}

// Offset is the zero-based index of the first row on the page.
func (o FetchOptions) Offset() int { return (o.Page - 1) * o.PageSize }

// Profile is a full user profile with one stats snapshot per mode and relax
// variant the server reports.
type Profile struct {
	User  model.User
	Stats []model.Stats
}

// StatsFor returns the snapshot for a mode and relax variant.
func (p *Profile) StatsFor(mode model.Mode, rx model.Relax) (model.Stats, bool) {
	for _, s := range p.Stats {
		if s.Mode == mode && s.Relax == rx {
			return s, true
		}
	}
	return model.Stats{}, false
}

// LeaderboardEntry is one row of a ranked user leaderboard.
type LeaderboardEntry struct {
	User  model.User
	Stats model.Stats
}

// ClanProfile is a clan with its members and per-mode snapshots.
type ClanProfile struct {
	Clan    model.Clan
	Members []int64
	Stats   []model.ClanStats
}

// ClanEntry is one row of a clan leaderboard.
type ClanEntry struct {
	Clan  model.Clan
	Stats model.ClanStats
}

// Health is the outcome of a reachability check.
type Health struct {
	OK      bool
	Latency time.Duration
	Detail  string
}

// Server is a client for one upstream game server. Listing operations return
// an empty slice when there is nothing to list and a nil slice with an error
// when the upstream could not be read. Optional operations panic with an
// *UnsupportedError when the capability is not advertised.
type Server interface {
	Name() string
	Capabilities() Capabilities
	PerformanceSystem(mode model.Mode, rx model.Relax) string

	FetchBestScores(ctx context.Context, userID int64, opts FetchOptions) ([]model.Score, error)
	FetchFirstPlaceScores(ctx context.Context, userID int64, opts FetchOptions) ([]model.Score, error)
	FetchRecentScores(ctx context.Context, userID int64, opts FetchOptions) ([]model.Score, error)
	FetchPinnedScores(ctx context.Context, userID int64, opts FetchOptions) ([]model.Score, error)
	FetchMostPlayed(ctx context.Context, userID int64, opts FetchOptions) ([]model.MapPlaycount, error)

	FetchUserProfile(ctx context.Context, userID int64) (*Profile, error)
	FetchLeaderboardPage(ctx context.Context, criterion model.Criterion, opts FetchOptions) ([]LeaderboardEntry, error)

	FetchClanProfile(ctx context.Context, clanID int64, opts FetchOptions) (*ClanProfile, error)
	FetchClanLeaderboardPage(ctx context.Context, criterion model.Criterion, opts FetchOptions) ([]ClanEntry, error)

	FetchBeatmapStatus(ctx context.Context, beatmapID int64) (model.RankedStatus, error)
	ResolveUsername(ctx context.Context, name string) (int64, error)
	HealthCheck(ctx context.Context) (*Health, error)
}

// UnsupportedError reports a call to an optional operation the server does not
// advertise. It is raised with panic: such a call is a programming error.
type UnsupportedError struct {
	Server    string
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Server, e.Operation)
}

// Unsupported panics with an *UnsupportedError.
func Unsupported(server, op string) {
	panic(&UnsupportedError{Server: server, Operation: op})
}

// NoClans implements the clan operations for servers without CapClans.
type NoClans struct {
	Server string
}

func (n NoClans) FetchClanProfile(context.Context, int64, FetchOptions) (*ClanProfile, error) {
	Unsupported(n.Server, "clan profiles")
	return nil, nil
}

func (n NoClans) FetchClanLeaderboardPage(context.Context, model.Criterion, FetchOptions) ([]ClanEntry, error) {
	Unsupported(n.Server, "clan leaderboards")
	return nil, nil
}
