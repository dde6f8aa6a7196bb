package polling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// ProfileJob refreshes tracked users in full: profile, scores, most played
// beatmaps and a dated stats snapshot per mode and relax variant.
type ProfileJob struct {
	*Syncer
	// Tracked maps a server name to the user ids to refresh.
	Tracked map[string][]int64
	// ScorePages is the number of pages fetched per score listing.
	ScorePages int
}

func (j *ProfileJob) Name() string { return "profiles" }

func (j *ProfileJob) Run(ctx context.Context) error {
	var res outcome
	for name, ids := range j.Tracked {
		srv, err := j.Registry.ByName(name)
		if err != nil {
			j.log().Warnf("tracked users: %v", err)
			res.add(err)
			continue
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := j.SyncUser(ctx, srv, id)
			if err != nil {
				j.log().Warnf("%s user %d: %v", name, id, err)
			}
			res.add(err)
		}
	}
	return res.err(j.log(), j.Name())
}

// userData is everything read from upstream for one user before any of it is
// written.
type userData struct {
	profile *servers.Profile
	scores  []model.Score
	played  []model.MapPlaycount
	// boards whose score listings were fetched
	boards []servers.FetchOptions
}

// SyncUser refreshes one user. A user the server no longer knows is flagged
// as banned when a record of them exists.
func (j *ProfileJob) SyncUser(ctx context.Context, srv servers.Server, userID int64) error {
	var profile *servers.Profile
	err := j.retry(ctx, fmt.Sprintf("%s profile %d", srv.Name(), userID), func() (err error) {
		profile, err = srv.FetchUserProfile(ctx, userID)
		return err
	})
	if errors.Is(err, servers.ErrNotFound) {
		return j.markGone(ctx, srv.Name(), userID)
	}
	if err != nil {
		return err
	}

	data := userData{profile: profile, boards: j.boards(srv)}
	if data.scores, err = j.fetchScores(ctx, srv, userID, data.boards); err != nil {
		return err
	}
	opts := servers.FetchOptions{Mode: profile.User.FavouriteMode, PageSize: srv.Capabilities().MaxPageSize}
	if data.played, err = srv.FetchMostPlayed(ctx, userID, opts); err != nil {
		return fmt.Errorf("most played: %w", err)
	}
	j.recalculate(ctx, data.scores)
	return j.store(ctx, data)
}

func (j *ProfileJob) fetchScores(ctx context.Context, srv servers.Server, userID int64, boards []servers.FetchOptions) ([]model.Score, error) {
	type listing struct {
		name  string
		fetch func(context.Context, int64, servers.FetchOptions) ([]model.Score, error)
		pages int
	}
	pages := j.ScorePages
	if pages <= 0 {
		pages = 1
	}
	listings := []listing{
		{"best", srv.FetchBestScores, pages},
		{"first place", srv.FetchFirstPlaceScores, pages},
		{"pinned", srv.FetchPinnedScores, 1},
		{"recent", srv.FetchRecentScores, 1},
	}
	pageSize := srv.Capabilities().MaxPageSize

	var out []model.Score
	for _, board := range boards {
		for _, l := range listings {
			for page := 1; page <= l.pages; page++ {
				opts := board
				opts.Page, opts.PageSize = page, pageSize
				scores, err := l.fetch(ctx, userID, opts)
				if err != nil {
					return nil, fmt.Errorf("%s scores (%s, %s): %w", l.name, board.Mode, board.Relax, err)
				}
				out = append(out, scores...)
				if len(scores) < pageSize {
					break
				}
			}
		}
	}
	return out, nil
}

// recalculate fills pp for completed scores the server did not rate, such as
// plays on loved beatmaps. Failures leave the score unrated.
func (j *ProfileJob) recalculate(ctx context.Context, scores []model.Score) {
	if j.Recalc == nil {
		return
	}
	for i := range scores {
		sc := &scores[i]
		if sc.PP > 0 || sc.Completed == model.CompletionFailed {
			continue
		}
		pp, err := j.Recalc.Score(ctx, *sc, false)
		if err != nil {
			j.log().Debugf("recalculate score %d: %v", sc.ID, err)
			continue
		}
		sc.PP = pp
		sc.PPSystem = j.Recalc.Calc.Name()
	}
}

func (d userData) fetched(mode model.Mode, rx model.Relax) bool {
	for _, b := range d.boards {
		if b.Mode == mode && b.Relax == rx {
			return true
		}
	}
	return false
}

func (j *ProfileJob) store(ctx context.Context, data userData) error {
	u := data.profile.User
	var evs []events.Event
	err := j.DB.Update(ctx, func(tx *storage.Tx) error {
		evs = evs[:0]
		prev, err := tx.GetUser(ctx, u.Server, u.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		created, err := tx.UpsertUser(ctx, &u)
		if err != nil {
			return err
		}
		if created {
			evs = append(evs, events.UserDiscovered{User: u})
		}
		if u.Banned && prev != nil && !prev.Banned {
			evs = append(evs, events.UserBanned{Server: u.Server, UserID: u.ID, Cached: prev})
		}

		for i := range data.scores {
			if err := tx.UpsertScore(ctx, &data.scores[i]); err != nil {
				return fmt.Errorf("score %d: %w", data.scores[i].ID, err)
			}
		}
		for _, pc := range data.played {
			if err := tx.UpsertPlaycount(ctx, pc); err != nil {
				return fmt.Errorf("playcount %d: %w", pc.BeatmapID, err)
			}
		}
		for _, st := range data.profile.Stats {
			// Other modes keep the upstream grade counts.
			if data.fetched(st.Mode, st.Relax) {
				if err := j.Tracker.Enrich(ctx, tx, &st); err != nil {
					return err
				}
			}
			deltas, err := j.Tracker.Refresh(ctx, tx, st, model.CriterionPerformance)
			if err != nil {
				return err
			}
			for _, d := range deltas {
				if d.Improved() {
					j.log().Infof("%s user %d climbed %d places on %s %s (%s)", u.Server, u.ID, d.GlobalChange, st.Mode, d.Current.Criterion, st.Relax)
				}
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

// markGone flags a stored user as banned after the server stopped knowing
// them. Unknown users are ignored.
func (j *ProfileJob) markGone(ctx context.Context, server string, userID int64) error {
	var ev *events.UserBanned
	err := j.DB.Update(ctx, func(tx *storage.Tx) error {
		cached, err := tx.GetUser(ctx, server, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		changed, err := tx.SetBanned(ctx, server, userID, true)
		if err != nil || !changed {
			return err
		}
		ev = &events.UserBanned{Server: server, UserID: userID, Cached: cached}
		return nil
	})
	if err != nil {
		return err
	}
	if ev != nil {
		j.log().Infof("%s user %d is gone, marked as banned", server, userID)
		j.Events.Trigger(*ev)
	}
	return nil
}
