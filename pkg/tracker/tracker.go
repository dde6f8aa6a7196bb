// Package tracker writes dated stats snapshots and reports how a user's
// leaderboard standing moved since the previous refresh.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// Delta is the movement of a user on one leaderboard.
type Delta struct {
	Current model.CompactStanding
	// Previous is nil the first time the user is seen on the leaderboard.
	Previous *model.CompactStanding
	// GlobalChange and CountryChange are positive when the user climbed.
	GlobalChange  int
	CountryChange int
}

// Improved reports whether the global rank got better.
func (d Delta) Improved() bool { return d.Previous != nil && d.GlobalChange > 0 }

func rankChange(prev, cur int) int {
	if prev == 0 || cur == 0 {
		return 0
	}
	return prev - cur
}

type Tracker struct {
	now func() time.Time
}

func New() *Tracker { return &Tracker{now: time.Now} }

// WithClock replaces the clock used to date snapshots.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func standingOf(st *model.Stats, c model.Criterion) model.CompactStanding {
	g, cr := st.Rank(c)
	return model.CompactStanding{
		Server:      st.Server,
		UserID:      st.UserID,
		Mode:        st.Mode,
		Relax:       st.Relax,
		Criterion:   c,
		Country:     st.Country,
		GlobalRank:  g,
		CountryRank: cr,
		Value:       st.Value(c),
	}
}

func contains(cs []model.Criterion, c model.Criterion) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

// Refresh stores st as today's snapshot and replaces the standings of the
// authoritative criteria. Rank fields of other criteria are carried forward
// from the latest stored snapshot, as is a missing country rank and missing
// grade counts. It must run inside the caller's Update session.
func (t *Tracker) Refresh(ctx context.Context, tx *storage.Tx, st model.Stats, authoritative ...model.Criterion) ([]Delta, error) {
	if st.Date.IsZero() {
		st.Date = model.Day(t.now())
	} else {
		st.Date = model.Day(st.Date)
	}

	latest, err := tx.LatestStats(ctx, st.Server, st.UserID, st.Mode, st.Relax)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load latest stats: %w", err)
	}
	if latest != nil {
		for _, c := range model.Criteria {
			pg, pc := latest.Rank(c)
			g, cr := st.Rank(c)
			switch {
			case !contains(authoritative, c):
				st.SetRank(c, pg, pc)
			case cr == 0 && g != 0:
				st.SetRank(c, g, pc)
			}
		}
		if st.Grades.Clears == 0 {
			st.Grades = latest.Grades
		}
	}

	var deltas []Delta
	for _, c := range authoritative {
		cur := standingOf(&st, c)
		prev, err := tx.GetStanding(ctx, st.Server, st.UserID, st.Mode, st.Relax, c)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load %s standing: %w", c, err)
		}
		d := Delta{Current: cur, Previous: prev}
		if prev != nil {
			d.GlobalChange = rankChange(prev.GlobalRank, cur.GlobalRank)
			d.CountryChange = rankChange(prev.CountryRank, cur.CountryRank)
			metrics.RecordRankChange(st.Server, prev.GlobalRank, cur.GlobalRank)
		}
		deltas = append(deltas, d)
	}

	if err := tx.UpsertStats(ctx, &st); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	for _, d := range deltas {
		if err := tx.ReplaceStanding(ctx, d.Current); err != nil {
			return nil, fmt.Errorf("store %s standing: %w", d.Current.Criterion, err)
		}
	}
	return deltas, nil
}

// Enrich fills the detail that upstream does not report uniformly. Grade
// counts are always aggregated from stored best scores, replacing whatever
// upstream sent, so it must run after the refresh wrote its scores. Score
// ranks are computed against stored score standings when upstream has none.
func (t *Tracker) Enrich(ctx context.Context, tx *storage.Tx, st *model.Stats) error {
	gc, err := tx.GradeCounts(ctx, st.Server, st.UserID, st.Mode, st.Relax)
	if err != nil {
		return fmt.Errorf("grade counts: %w", err)
	}
	st.Grades = gc
	if st.GlobalScoreRank == 0 && st.RankedScore > 0 {
		g, c, err := tx.LocalRank(ctx, standingOf(st, model.CriterionScore))
		if err != nil {
			return fmt.Errorf("local score rank: %w", err)
		}
		st.GlobalScoreRank, st.CountryScoreRank = g, c
	}
	return nil
}
