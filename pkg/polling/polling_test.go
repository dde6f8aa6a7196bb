package polling

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/performance"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
	"github.com/rankwatch/rankwatch/pkg/tracker"
)

var testNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeServer struct {
	name        string
	caps        servers.Capabilities
	board       map[model.Criterion][]servers.LeaderboardEntry
	boardErr    error
	profiles    map[int64]*servers.Profile
	profileErrs []error
	best        map[int64][]model.Score
	played      []model.MapPlaycount
	statuses    map[int64]model.RankedStatus
	clans       []servers.ClanEntry
	calls       map[string]int
}

func newFake(name string, flags servers.Capability) *fakeServer {
	return &fakeServer{
		name:     name,
		caps:     servers.Capabilities{Flags: flags, MaxPageSize: 2},
		board:    map[model.Criterion][]servers.LeaderboardEntry{},
		profiles: map[int64]*servers.Profile{},
		best:     map[int64][]model.Score{},
		statuses: map[int64]model.RankedStatus{},
		calls:    map[string]int{},
	}
}

func page[T any](rows []T, opts servers.FetchOptions) []T {
	start := opts.Offset()
	if start >= len(rows) {
		return []T{}
	}
	end := start + opts.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) Capabilities() servers.Capabilities { return f.caps }

func (f *fakeServer) PerformanceSystem(model.Mode, model.Relax) string {
	return performance.SystemUnspecified
}

func (f *fakeServer) FetchBestScores(_ context.Context, id int64, opts servers.FetchOptions) ([]model.Score, error) {
	f.calls["best"]++
	return page(f.best[id], opts), nil
}

func (f *fakeServer) FetchFirstPlaceScores(context.Context, int64, servers.FetchOptions) ([]model.Score, error) {
	f.calls["firsts"]++
	return []model.Score{}, nil
}

func (f *fakeServer) FetchRecentScores(context.Context, int64, servers.FetchOptions) ([]model.Score, error) {
	f.calls["recent"]++
	return []model.Score{}, nil
}

func (f *fakeServer) FetchPinnedScores(context.Context, int64, servers.FetchOptions) ([]model.Score, error) {
	f.calls["pinned"]++
	return []model.Score{}, nil
}

func (f *fakeServer) FetchMostPlayed(context.Context, int64, servers.FetchOptions) ([]model.MapPlaycount, error) {
	return f.played, nil
}

func (f *fakeServer) FetchUserProfile(_ context.Context, id int64) (*servers.Profile, error) {
	f.calls["profile"]++
	if len(f.profileErrs) > 0 {
		err := f.profileErrs[0]
		f.profileErrs = f.profileErrs[1:]
		return nil, err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, servers.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeServer) FetchLeaderboardPage(_ context.Context, c model.Criterion, opts servers.FetchOptions) ([]servers.LeaderboardEntry, error) {
	f.calls["leaderboard"]++
	if f.boardErr != nil {
		return nil, f.boardErr
	}
	return page(f.board[c], opts), nil
}

func (f *fakeServer) FetchClanProfile(_ context.Context, id int64, opts servers.FetchOptions) (*servers.ClanProfile, error) {
	for _, c := range f.clans {
		if c.Clan.ID == id {
			st := c.Stats
			st.Mode, st.Relax = opts.Mode, opts.Relax
			return &servers.ClanProfile{Clan: c.Clan, Stats: []model.ClanStats{st}}, nil
		}
	}
	return nil, servers.ErrNotFound
}

func (f *fakeServer) FetchClanLeaderboardPage(_ context.Context, _ model.Criterion, opts servers.FetchOptions) ([]servers.ClanEntry, error) {
	f.calls["clans"]++
	return page(f.clans, opts), nil
}

func (f *fakeServer) FetchBeatmapStatus(_ context.Context, id int64) (model.RankedStatus, error) {
	f.calls["beatmap"]++
	s, ok := f.statuses[id]
	if !ok {
		return model.StatusPending, servers.ErrNotFound
	}
	return s, nil
}

func (f *fakeServer) ResolveUsername(context.Context, string) (int64, error) {
	return 0, servers.ErrNotFound
}

func (f *fakeServer) HealthCheck(context.Context) (*servers.Health, error) {
	return &servers.Health{OK: true}, nil
}

type recorder struct{ got []events.Event }

func (r *recorder) kinds() map[events.Kind]int {
	out := map[events.Kind]int{}
	for _, e := range r.got {
		out[e.Kind()]++
	}
	return out
}

func newSyncer(t *testing.T, srvs ...servers.Server) (*Syncer, *recorder) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "polling.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg, err := servers.NewRegistry(srvs...)
	require.NoError(t, err)

	rec := &recorder{}
	d := events.NewDispatcher(nil)
	d.SubscribeAll(func(e events.Event) { rec.got = append(rec.got, e) })

	return &Syncer{
		Registry: reg,
		DB:       db,
		Tracker:  tracker.New().WithClock(func() time.Time { return testNow }),
		Events:   d,
		Modes:    []model.Mode{model.ModeOsu},
		Retry:    Retry{Attempts: 3},
		Now:      func() time.Time { return testNow },
	}, rec
}

func entry(server string, id int64, rank int, pp float64) servers.LeaderboardEntry {
	return servers.LeaderboardEntry{
		User:  model.User{Server: server, ID: id, Username: fmt.Sprintf("user%d", id), Country: "DE"},
		Stats: model.Stats{Server: server, UserID: id, Country: "DE", PP: pp, RankedScore: int64(pp) * 1000, GlobalRank: rank, CountryRank: rank},
	}
}

func latestStats(t *testing.T, db *storage.DB, server string, id int64) *model.Stats {
	t.Helper()
	ctx := context.Background()
	var st *model.Stats
	require.NoError(t, db.View(ctx, func(tx *storage.Tx) (err error) {
		st, err = tx.LatestStats(ctx, server, id, model.ModeOsu, model.RelaxNone)
		return err
	}))
	return st
}

func TestLeaderboardJob(t *testing.T) {
	srv := newFake("akatsuki", servers.CapLiveRanks)
	srv.board[model.CriterionPerformance] = []servers.LeaderboardEntry{
		entry("akatsuki", 1, 1, 300), entry("akatsuki", 2, 2, 200), entry("akatsuki", 3, 3, 100),
	}
	score := []servers.LeaderboardEntry{entry("akatsuki", 2, 0, 200), entry("akatsuki", 1, 0, 300)}
	score[0].Stats.GlobalScoreRank, score[1].Stats.GlobalScoreRank = 1, 2
	srv.board[model.CriterionScore] = score
	other := newFake("bancho", 0)

	s, rec := newSyncer(t, srv, other)
	job := &LeaderboardJob{Syncer: s, Pages: 5, PageSize: 2}
	require.NoError(t, job.Run(context.Background()))

	// pp: two full pages then a short one; score: one full page then an
	// empty one.
	assert.Equal(t, 4, srv.calls["leaderboard"])
	assert.Zero(t, other.calls["leaderboard"])

	kinds := rec.kinds()
	assert.Equal(t, 3, kinds[events.KindUserDiscovered])
	assert.Equal(t, 2, kinds[events.KindLeaderboardSynced])
	var synced []events.LeaderboardSynced
	for _, e := range rec.got {
		if ls, ok := e.(events.LeaderboardSynced); ok {
			synced = append(synced, ls)
		}
	}
	assert.Equal(t, 3, synced[0].Count)
	assert.Equal(t, 2, synced[1].Count)

	st := latestStats(t, s.DB, "akatsuki", 1)
	assert.Equal(t, 1, st.GlobalRank, "pp rank carried across the score board")
	assert.Equal(t, 2, st.GlobalScoreRank)
	assert.True(t, st.Date.Equal(model.Day(testNow)))
}

func TestLeaderboardJobFailsWhenEveryBoardFails(t *testing.T) {
	srv := newFake("akatsuki", servers.CapLiveRanks)
	srv.boardErr = servers.ErrUnavailable
	s, _ := newSyncer(t, srv)
	err := (&LeaderboardJob{Syncer: s}).Run(context.Background())
	assert.ErrorIs(t, err, servers.ErrUnavailable)
}

func trackedProfile(server string, id int64, banned bool) *servers.Profile {
	return &servers.Profile{
		User: model.User{Server: server, ID: id, Username: "levi", Country: "NL", Banned: banned},
		Stats: []model.Stats{
			{Server: server, UserID: id, Mode: model.ModeOsu, Country: "NL", PP: 1000, GlobalRank: 50, CountryRank: 5},
		},
	}
}

func TestProfileJob(t *testing.T) {
	srv := newFake("titanic", servers.CapLiveRanks)
	srv.profiles[7] = trackedProfile("titanic", 7, false)
	srv.profileErrs = []error{servers.ErrUnavailable, servers.ErrUnavailable}
	srv.best[7] = []model.Score{
		{Server: "titanic", ID: 1, UserID: 7, BeatmapID: 10, Grade: model.GradeS, Completed: model.CompletionBest, PP: 100},
		{Server: "titanic", ID: 2, UserID: 7, BeatmapID: 11, Grade: model.GradeA, Completed: model.CompletionBest, PP: 90},
		{Server: "titanic", ID: 3, UserID: 7, BeatmapID: 12, Grade: model.GradeA, Completed: model.CompletionBest, PP: 80},
	}
	srv.played = []model.MapPlaycount{{Server: "titanic", UserID: 7, BeatmapID: 10, PlayCount: 42}}

	s, rec := newSyncer(t, srv)
	job := &ProfileJob{Syncer: s, Tracked: map[string][]int64{"titanic": {7}}, ScorePages: 3}
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 3, srv.calls["profile"], "two outages then success")
	assert.Equal(t, 2, srv.calls["best"], "full page then short page")
	assert.Equal(t, 1, srv.calls["recent"])
	assert.Equal(t, 1, rec.kinds()[events.KindUserDiscovered])

	st := latestStats(t, s.DB, "titanic", 7)
	assert.Equal(t, 50, st.GlobalRank)
	assert.Equal(t, model.GradeCounts{S: 1, A: 2, Clears: 3}, st.Grades)

	// The user disappears upstream.
	delete(srv.profiles, 7)
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, 1, rec.kinds()[events.KindUserBanned])
	banned := rec.got[len(rec.got)-1].(events.UserBanned)
	require.NotNil(t, banned.Cached)
	assert.Equal(t, "levi", banned.Cached.Username)

	// Repeated misses do not announce the ban again.
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, rec.kinds()[events.KindUserBanned])
}

func TestProfileJobRestrictedUser(t *testing.T) {
	srv := newFake("bancho", 0)
	srv.profiles[7] = trackedProfile("bancho", 7, false)
	s, rec := newSyncer(t, srv)
	job := &ProfileJob{Syncer: s, Tracked: map[string][]int64{"bancho": {7}}}
	require.NoError(t, job.Run(context.Background()))

	srv.profiles[7] = trackedProfile("bancho", 7, true)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, rec.kinds()[events.KindUserBanned])
}

func TestProfileJobUnknownUserIsNotBanned(t *testing.T) {
	srv := newFake("bancho", 0)
	s, rec := newSyncer(t, srv)
	job := &ProfileJob{Syncer: s, Tracked: map[string][]int64{"bancho": {99}}}
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, rec.got)
	assert.Equal(t, 1, srv.calls["profile"], "not found is not retried")
}

func TestProfileJobUnknownServer(t *testing.T) {
	s, _ := newSyncer(t, newFake("bancho", 0))
	err := (&ProfileJob{Syncer: s, Tracked: map[string][]int64{"gatari": {1}}}).Run(context.Background())
	assert.ErrorIs(t, err, servers.ErrNotFound)
}

func TestLeaderboardJobKeepsProfileDetail(t *testing.T) {
	ctx := context.Background()
	srv := newFake("akatsuki", servers.CapLiveRanks)
	p := trackedProfile("akatsuki", 1, false)
	p.User.ClanID, p.User.FavouriteMode, p.User.Followers = 44, model.ModeMania, 1234
	p.User.Extra = map[string]string{"aka": "x"}
	srv.profiles[1] = p
	srv.board[model.CriterionPerformance] = []servers.LeaderboardEntry{entry("akatsuki", 1, 1, 300)}

	s, _ := newSyncer(t, srv)
	require.NoError(t, (&ProfileJob{Syncer: s, Tracked: map[string][]int64{"akatsuki": {1}}}).Run(ctx))
	require.NoError(t, (&LeaderboardJob{Syncer: s, Pages: 1, PageSize: 2}).Run(ctx))

	require.NoError(t, s.DB.View(ctx, func(tx *storage.Tx) error {
		u, err := tx.GetUser(ctx, "akatsuki", 1)
		require.NoError(t, err)
		assert.Equal(t, "user1", u.Username)
		assert.Equal(t, int64(44), u.ClanID)
		assert.Equal(t, model.ModeMania, u.FavouriteMode)
		assert.Equal(t, 1234, u.Followers)
		assert.Equal(t, map[string]string{"aka": "x"}, u.Extra)
		return nil
	}))
}

func TestProfileJobAggregatesGrades(t *testing.T) {
	ctx := context.Background()
	srv := newFake("titanic", 0)
	p := trackedProfile("titanic", 7, false)
	p.Stats[0].Grades = model.GradeCounts{XH: 9, Clears: 9}
	p.Stats = append(p.Stats, model.Stats{Server: "titanic", UserID: 7, Mode: model.ModeTaiko, Country: "NL", PP: 10,
		Grades: model.GradeCounts{S: 4, Clears: 4}})
	srv.profiles[7] = p
	srv.best[7] = []model.Score{
		{Server: "titanic", ID: 1, UserID: 7, BeatmapID: 10, Grade: model.GradeS, Completed: model.CompletionBest, PP: 100, CompletionKnown: true},
	}

	s, _ := newSyncer(t, srv)
	require.NoError(t, (&ProfileJob{Syncer: s, Tracked: map[string][]int64{"titanic": {7}}}).Run(ctx))

	assert.Equal(t, model.GradeCounts{S: 1, Clears: 1}, latestStats(t, s.DB, "titanic", 7).Grades)
	require.NoError(t, s.DB.View(ctx, func(tx *storage.Tx) error {
		st, err := tx.LatestStats(ctx, "titanic", 7, model.ModeTaiko, model.RelaxNone)
		require.NoError(t, err)
		assert.Equal(t, model.GradeCounts{S: 4, Clears: 4}, st.Grades, "modes outside the refresh keep upstream counts")
		return nil
	}))
}

type fixedCalc struct{ pp float64 }

func (c fixedCalc) Name() string { return "fixed" }

func (c fixedCalc) NewSession(model.Mode) performance.Session { return &fixedSession{pp: c.pp} }

type fixedSession struct {
	pp float64
}

func (s *fixedSession) SetMods(model.Mods)  {}
func (s *fixedSession) SetN300(int)         {}
func (s *fixedSession) SetN100(int)         {}
func (s *fixedSession) SetN50(int)          {}
func (s *fixedSession) SetMisses(int)       {}
func (s *fixedSession) SetGeki(int)         {}
func (s *fixedSession) SetKatu(int)         {}
func (s *fixedSession) SetCombo(int)        {}
func (s *fixedSession) SetAccuracy(float64) {}
func (s *fixedSession) Performance(context.Context, []byte) (float64, error) {
	return s.pp, nil
}

type memBeatmaps struct{}

func (memBeatmaps) Beatmap(context.Context, int64, string) ([]byte, error) {
	return []byte("osu file format v14"), nil
}

func TestProfileJobRecalculatesUnratedScores(t *testing.T) {
	srv := newFake("titanic", 0)
	srv.profiles[7] = trackedProfile("titanic", 7, false)
	srv.best[7] = []model.Score{
		{Server: "titanic", ID: 1, UserID: 7, BeatmapID: 10, Completed: model.CompletionBest},
	}
	s, _ := newSyncer(t, srv)
	s.Recalc = &performance.Recalculator{Calc: fixedCalc{pp: 123}, Beatmaps: memBeatmaps{}}
	job := &ProfileJob{Syncer: s, Tracked: map[string][]int64{"titanic": {7}}}
	require.NoError(t, job.Run(context.Background()))

	ctx := context.Background()
	require.NoError(t, s.DB.View(ctx, func(tx *storage.Tx) error {
		scores, err := tx.ListScores(ctx, storage.ScoreFilter{Server: "titanic", UserID: 7})
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 123.0, scores[0].PP)
		assert.Equal(t, "fixed", scores[0].PPSystem)
		return nil
	}))
}

func TestClanJob(t *testing.T) {
	srv := newFake("akatsuki", servers.CapClans)
	for i := int64(1); i <= 3; i++ {
		srv.clans = append(srv.clans, servers.ClanEntry{
			Clan:  model.Clan{Server: "akatsuki", ID: i, Name: fmt.Sprintf("clan%d", i)},
			Stats: model.ClanStats{Server: "akatsuki", ClanID: i, PP: float64(100 - i)},
		})
	}
	s, _ := newSyncer(t, srv, newFake("bancho", 0))
	job := &ClanJob{Syncer: s, Pages: 3, PageSize: 2, Tracked: map[string][]int64{"akatsuki": {2}}}
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 4, srv.calls["clans"])

	stats, err := s.DB.GetStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Clans)

	err = job.SyncClan(context.Background(), srv, 99)
	assert.True(t, errors.Is(err, servers.ErrNotFound))
}

func TestBeatmapStatusJob(t *testing.T) {
	srv := newFake("akatsuki", 0)
	srv.statuses[10] = model.StatusRanked
	srv.statuses[11] = model.StatusLoved
	s, _ := newSyncer(t, srv)
	ctx := context.Background()
	require.NoError(t, s.DB.Update(ctx, func(tx *storage.Tx) error {
		for i, bm := range []int64{10, 11, 12} {
			sc := &model.Score{Server: "akatsuki", ID: int64(i + 1), UserID: 1, BeatmapID: bm, Completed: model.CompletionPassed}
			if err := tx.UpsertScore(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	}))

	job := &BeatmapStatusJob{Syncer: s}
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 3, srv.calls["beatmap"])

	require.NoError(t, s.DB.View(ctx, func(tx *storage.Tx) error {
		bs, err := tx.GetBeatmapStatus(ctx, "akatsuki", 11)
		require.NoError(t, err)
		assert.Equal(t, model.StatusLoved, bs.Status)
		bs, err = tx.GetBeatmapStatus(ctx, "akatsuki", 12)
		require.NoError(t, err)
		assert.Equal(t, model.StatusGraveyard, bs.Status)
		return nil
	}))

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 3, srv.calls["beatmap"], "fresh statuses are not checked again")
}

func TestRetryGivesUp(t *testing.T) {
	s, _ := newSyncer(t)
	calls := 0
	err := s.retry(context.Background(), "lookup", func() error {
		calls++
		return servers.ErrUnavailable
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, servers.ErrUnavailable)
}
