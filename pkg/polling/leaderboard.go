package polling

import (
	"context"
	"fmt"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// LeaderboardJob walks the first Pages pages of every ranked leaderboard of
// every server that tracks ranks page by page.
type LeaderboardJob struct {
	*Syncer
	Pages    int
	PageSize int
}

func (j *LeaderboardJob) Name() string { return "leaderboard" }

func (j *LeaderboardJob) Run(ctx context.Context) error {
	var res outcome
	for _, srv := range j.Registry.Supporting(servers.CapLiveRanks) {
		for _, board := range j.boards(srv) {
			for _, c := range model.Criteria {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				n, err := j.syncBoard(ctx, srv, c, board)
				if err != nil {
					j.log().Warnf("%s %s %s leaderboard (%s): %v", srv.Name(), board.Mode, c, board.Relax, err)
					res.add(err)
					continue
				}
				j.log().Debugf("%s %s %s leaderboard (%s): %d entries", srv.Name(), board.Mode, c, board.Relax, n)
				res.add(nil)
			}
		}
	}
	return res.err(j.log(), j.Name())
}

func (j *LeaderboardJob) syncBoard(ctx context.Context, srv servers.Server, c model.Criterion, board servers.FetchOptions) (int, error) {
	pages := j.Pages
	if pages <= 0 {
		pages = 1
	}
	total := 0
	for page := 1; page <= pages; page++ {
		opts := board
		opts.Page, opts.PageSize = page, j.PageSize
		opts = opts.Clamp(srv.Capabilities().MaxPageSize)

		rows, err := srv.FetchLeaderboardPage(ctx, c, opts)
		if err != nil {
			return total, fmt.Errorf("page %d: %w", page, err)
		}
		if len(rows) == 0 {
			break
		}
		if err := j.storePage(ctx, c, rows); err != nil {
			return total, fmt.Errorf("store page %d: %w", page, err)
		}
		total += len(rows)
		metrics.LeaderboardEntriesTotal.WithLabelValues(srv.Name(), string(c)).Add(float64(len(rows)))
		if len(rows) < opts.PageSize {
			break
		}
	}
	j.Events.Trigger(events.LeaderboardSynced{Server: srv.Name(), Criterion: c, Mode: board.Mode, Relax: board.Relax, Count: total})
	return total, nil
}

func (j *LeaderboardJob) storePage(ctx context.Context, c model.Criterion, rows []servers.LeaderboardEntry) error {
	var evs []events.Event
	err := j.DB.Update(ctx, func(tx *storage.Tx) error {
		evs = evs[:0]
		for i := range rows {
			row := rows[i]
			created, err := tx.UpsertUserSummary(ctx, &row.User)
			if err != nil {
				return fmt.Errorf("user %d: %w", row.User.ID, err)
			}
			if created {
				evs = append(evs, events.UserDiscovered{User: row.User})
			}
			if _, err := j.Tracker.Refresh(ctx, tx, row.Stats, c); err != nil {
				return fmt.Errorf("user %d: %w", row.User.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.emit(evs)
	return nil
}
