package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/pkg/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertStatsOneRowPerDay(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, pp := range []float64{100, 150} {
		st := &model.Stats{Server: "akatsuki", UserID: 1, Mode: model.ModeOsu, Relax: model.RelaxRelax, Date: day, PP: pp, GlobalRank: 10}
		require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.UpsertStats(ctx, st) }))
	}

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		hist, err := tx.StatsHistory(ctx, "akatsuki", 1, model.ModeOsu, model.RelaxRelax, 0)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, 150.0, hist[0].PP)
		assert.True(t, hist[0].Date.Equal(day))
		return nil
	}))
}

func TestLatestStatsPicksNewestDay(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		for i, d := range []time.Time{d1, d1.AddDate(0, 0, 2), d1.AddDate(0, 0, 1)} {
			if err := tx.UpsertStats(ctx, &model.Stats{Server: "s", UserID: 1, Date: d, PlayCount: int64(i)}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		st, err := tx.LatestStats(ctx, "s", 1, model.ModeOsu, model.RelaxNone)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.PlayCount)

		_, err = tx.LatestStats(ctx, "s", 2, model.ModeOsu, model.RelaxNone)
		assert.True(t, errors.Is(err, ErrNotFound))
		return nil
	}))
}

func TestUpdateRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")
	u := &model.User{Server: "s", ID: 1, Username: "a"}

	err := db.Update(ctx, func(tx *Tx) error {
		if _, err := tx.UpsertUser(ctx, u); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = db.Update(ctx, func(tx *Tx) error {
			if _, err := tx.UpsertUser(ctx, u); err != nil {
				return err
			}
			panic("bad")
		})
	})

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		_, err := tx.GetUser(ctx, "s", 1)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestUpsertUserMergesHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created, err := upsertUser(db, &model.User{Server: "s", ID: 7, Username: "first", Country: "DE"})
	require.NoError(t, err)
	assert.True(t, created)

	u := &model.User{Server: "s", ID: 7, Username: "second", Country: "AT"}
	created, err = upsertUser(db, u)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"first", "second"}, u.UsernameHistory)

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		got, err := tx.FindUser(ctx, "s", "SECOND")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, "AT", got.Country)
		assert.Equal(t, []string{"first", "second"}, got.UsernameHistory)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		changed, err := tx.SetBanned(ctx, "s", 7, true)
		assert.True(t, changed)
		if err != nil {
			return err
		}
		changed, err = tx.SetBanned(ctx, "s", 7, true)
		assert.False(t, changed)
		return err
	}))
}

func TestUpsertUserSummaryKeepsProfile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	joined := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := upsertUser(db, &model.User{Server: "s", ID: 7, Username: "old", Country: "DE", ClanID: 44,
		FavouriteMode: model.ModeMania, Followers: 1234, RegisteredOn: joined, Extra: map[string]string{"aka": "x"}})
	require.NoError(t, err)

	row := &model.User{Server: "s", ID: 7, Username: "new", Country: "AT"}
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		created, err := tx.UpsertUserSummary(ctx, row)
		assert.False(t, created)
		return err
	}))

	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		got, err := tx.GetUser(ctx, "s", 7)
		require.NoError(t, err)
		assert.Equal(t, "new", got.Username)
		assert.Equal(t, []string{"old", "new"}, got.UsernameHistory)
		assert.Equal(t, "AT", got.Country)
		assert.Equal(t, int64(44), got.ClanID)
		assert.Equal(t, model.ModeMania, got.FavouriteMode)
		assert.Equal(t, 1234, got.Followers)
		assert.True(t, got.RegisteredOn.Equal(joined))
		assert.Equal(t, map[string]string{"aka": "x"}, got.Extra)
		return nil
	}))

	fresh := &model.User{Server: "s", ID: 8, Username: "someone", Country: "FR"}
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		created, err := tx.UpsertUserSummary(ctx, fresh)
		assert.True(t, created)
		return err
	}))
}

func upsertUser(db *DB, u *model.User) (created bool, err error) {
	ctx := context.Background()
	err = db.Update(ctx, func(tx *Tx) error {
		created, err = tx.UpsertUser(ctx, u)
		return err
	})
	return created, err
}

func TestGradeCountsOverBestScores(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	scores := []model.Score{
		{ID: 1, Grade: model.GradeXH, Completed: model.CompletionBest},
		{ID: 2, Grade: model.GradeS, Completed: model.CompletionBest},
		{ID: 3, Grade: model.GradeS, Completed: model.CompletionBest},
		{ID: 4, Grade: model.GradeA, Completed: model.CompletionPassed},
		{ID: 5, Grade: model.GradeF, Completed: model.CompletionFailed},
	}
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		for i := range scores {
			sc := scores[i]
			sc.Server, sc.UserID, sc.BeatmapID = "s", 1, 100+sc.ID
			if err := tx.UpsertScore(ctx, &sc); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		gc, err := tx.GradeCounts(ctx, "s", 1, model.ModeOsu, model.RelaxNone)
		require.NoError(t, err)
		assert.Equal(t, model.GradeCounts{XH: 1, S: 2, Clears: 3}, gc)
		return nil
	}))
}

func TestUpsertScoreDemotesReplacedBest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	play := func(id int64, g model.Grade, c model.Completion) *model.Score {
		return &model.Score{Server: "s", ID: id, UserID: 1, BeatmapID: 2, Grade: g, Completed: c, CompletionKnown: true}
	}
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		for _, sc := range []*model.Score{
			play(1, model.GradeA, model.CompletionBest),
			play(2, model.GradeS, model.CompletionBest),
			play(1, model.GradeA, model.CompletionPassed),
		} {
			if err := tx.UpsertScore(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		gc, err := tx.GradeCounts(ctx, "s", 1, model.ModeOsu, model.RelaxNone)
		require.NoError(t, err)
		assert.Equal(t, model.GradeCounts{S: 1, Clears: 1}, gc)
		return nil
	}))
}

func TestUpsertScoreUncertainListing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	best := model.Score{Server: "s", ID: 9, UserID: 1, BeatmapID: 2, Completed: model.CompletionBest, Pinned: true, PP: 10,
		CompletionKnown: true, PinKnown: true}
	// A recent listing that knows neither whether the pass is a best nor
	// whether it is pinned.
	recent := best
	recent.Completed, recent.Pinned, recent.PP = model.CompletionPassed, false, 12
	recent.CompletionKnown, recent.PinKnown = false, false

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if err := tx.UpsertScore(ctx, &best); err != nil {
			return err
		}
		return tx.UpsertScore(ctx, &recent)
	}))
	list := func() model.Score {
		var got []model.Score
		require.NoError(t, db.View(ctx, func(tx *Tx) (err error) {
			got, err = tx.ListScores(ctx, ScoreFilter{Server: "s", UserID: 1})
			return err
		}))
		require.Len(t, got, 1)
		return got[0]
	}
	got := list()
	assert.Equal(t, model.CompletionBest, got.Completed)
	assert.True(t, got.Pinned)
	assert.Equal(t, 12.0, got.PP)

	unpinned := best
	unpinned.Pinned = false
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.UpsertScore(ctx, &unpinned) }))
	assert.False(t, list().Pinned)
}

func TestLocalRank(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	board := func(id int64, country string, v float64) model.CompactStanding {
		return model.CompactStanding{Server: "s", UserID: id, Criterion: model.CriterionScore, Country: country, Value: v}
	}
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		for _, s := range []model.CompactStanding{board(1, "DE", 500), board(2, "FR", 400), board(3, "DE", 300), board(4, "DE", 100)} {
			if err := tx.ReplaceStanding(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		g, c, err := tx.LocalRank(ctx, board(4, "DE", 350))
		require.NoError(t, err)
		assert.Equal(t, 3, g)
		assert.Equal(t, 2, c)

		g, c, err = tx.LocalRank(ctx, model.CompactStanding{Server: "other", Criterion: model.CriterionScore, Value: 1})
		require.NoError(t, err)
		assert.Zero(t, g)
		assert.Zero(t, c)
		return nil
	}))
}

func TestCheckpoints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LastRun(ctx, "profiles")
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	at := time.Date(2024, 1, 1, 12, 0, 0, 123, time.UTC)
	require.NoError(t, db.MarkRun(ctx, "profiles", at))
	require.NoError(t, db.MarkRun(ctx, "profiles", at.Add(time.Hour)))

	last, err := db.LastRun(ctx, "profiles")
	require.NoError(t, err)
	assert.True(t, last.Equal(at.Add(time.Hour)))

	cps, err := db.Checkpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestStaleBeatmaps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		for i, bm := range []int64{10, 20, 30} {
			if err := tx.UpsertScore(ctx, &model.Score{Server: "s", ID: int64(i + 1), UserID: 1, BeatmapID: bm, Completed: model.CompletionPassed}); err != nil {
				return err
			}
		}
		if err := tx.UpsertBeatmapStatus(ctx, model.BeatmapStatus{Server: "s", BeatmapID: 10, Status: model.StatusRanked, CheckedAt: now}); err != nil {
			return err
		}
		return tx.UpsertBeatmapStatus(ctx, model.BeatmapStatus{Server: "s", BeatmapID: 20, Status: model.StatusLoved, CheckedAt: now.AddDate(0, 0, -10)})
	}))
	require.NoError(t, db.View(ctx, func(tx *Tx) error {
		ids, err := tx.StaleBeatmaps(ctx, "s", now.AddDate(0, 0, -7), 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{20, 30}, ids)

		bs, err := tx.GetBeatmapStatus(ctx, "s", 20)
		require.NoError(t, err)
		assert.Equal(t, model.StatusLoved, bs.Status)
		return nil
	}))
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		if _, err := tx.UpsertUser(ctx, &model.User{Server: "a", ID: 1, Username: "x"}); err != nil {
			return err
		}
		if err := tx.UpsertClan(ctx, &model.Clan{Server: "a", ID: 1, Name: "c"}); err != nil {
			return err
		}
		return tx.UpsertScore(ctx, &model.Score{Server: "b", ID: 1, UserID: 1, Completed: model.CompletionBest})
	}))
	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ServerStats{
		{Server: "a", Users: 1, Clans: 1},
		{Server: "b", Scores: 1},
	}, stats)
}
