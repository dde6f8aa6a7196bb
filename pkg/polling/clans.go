package polling

import (
	"context"
	"fmt"

	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// ClanJob stores the clan leaderboards of every server with clans, plus the
// full profile of tracked clans.
type ClanJob struct {
	*Syncer
	Pages    int
	PageSize int
	// Tracked maps a server name to the clan ids to refresh in full.
	Tracked map[string][]int64
}

func (j *ClanJob) Name() string { return "clans" }

func (j *ClanJob) Run(ctx context.Context) error {
	var res outcome
	for _, srv := range j.Registry.Supporting(servers.CapClans) {
		for _, board := range j.boards(srv) {
			for _, c := range model.Criteria {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				err := j.syncBoard(ctx, srv, c, board)
				if err != nil {
					j.log().Warnf("%s %s %s clan leaderboard (%s): %v", srv.Name(), board.Mode, c, board.Relax, err)
				}
				res.add(err)
			}
		}
		for _, id := range j.Tracked[srv.Name()] {
			err := j.SyncClan(ctx, srv, id)
			if err != nil {
				j.log().Warnf("%s clan %d: %v", srv.Name(), id, err)
			}
			res.add(err)
		}
	}
	return res.err(j.log(), j.Name())
}

func (j *ClanJob) syncBoard(ctx context.Context, srv servers.Server, c model.Criterion, board servers.FetchOptions) error {
	pages := j.Pages
	if pages <= 0 {
		pages = 1
	}
	day := model.Day(j.now())
	for page := 1; page <= pages; page++ {
		opts := board
		opts.Page, opts.PageSize = page, j.PageSize
		opts = opts.Clamp(srv.Capabilities().MaxPageSize)

		rows, err := srv.FetchClanLeaderboardPage(ctx, c, opts)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if len(rows) == 0 {
			return nil
		}
		err = j.DB.Update(ctx, func(tx *storage.Tx) error {
			for i := range rows {
				row := rows[i]
				if err := tx.UpsertClan(ctx, &row.Clan); err != nil {
					return fmt.Errorf("clan %d: %w", row.Clan.ID, err)
				}
				row.Stats.Date = day
				if err := tx.UpsertClanStats(ctx, &row.Stats); err != nil {
					return fmt.Errorf("clan %d: %w", row.Clan.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("store page %d: %w", page, err)
		}
		if len(rows) < opts.PageSize {
			return nil
		}
	}
	return nil
}

// SyncClan stores a clan profile with one snapshot per mode and variant.
func (j *ClanJob) SyncClan(ctx context.Context, srv servers.Server, clanID int64) error {
	day := model.Day(j.now())
	var profiles []*servers.ClanProfile
	for _, board := range j.boards(srv) {
		var p *servers.ClanProfile
		err := j.retry(ctx, fmt.Sprintf("%s clan %d", srv.Name(), clanID), func() (err error) {
			p, err = srv.FetchClanProfile(ctx, clanID, board)
			return err
		})
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil
	}
	return j.DB.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.UpsertClan(ctx, &profiles[0].Clan); err != nil {
			return err
		}
		for _, p := range profiles {
			for i := range p.Stats {
				st := p.Stats[i]
				st.Date = day
				if err := tx.UpsertClanStats(ctx, &st); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
