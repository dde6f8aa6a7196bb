package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rankwatch/rankwatch/pkg/model"
)

const statsColumns = "server, user_id, mode, relax, date, country, total_score, ranked_score, total_hits, play_count, play_time, replay_views, max_combo, level, accuracy, pp, xh, x, sh, s, a, b, c, d, clears, global_rank, country_rank, global_score_rank, country_score_rank"

// UpsertStats writes the snapshot for its day. A second write for the same
// key and day replaces the first.
func (t *Tx) UpsertStats(ctx context.Context, st *model.Stats) error {
	g := st.Grades
	_, err := t.tx.ExecContext(ctx, `INSERT INTO stats(`+statsColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, user_id, mode, relax, date) DO UPDATE SET
  country = excluded.country,
  total_score = excluded.total_score,
  ranked_score = excluded.ranked_score,
  total_hits = excluded.total_hits,
  play_count = excluded.play_count,
  play_time = excluded.play_time,
  replay_views = excluded.replay_views,
  max_combo = excluded.max_combo,
  level = excluded.level,
  accuracy = excluded.accuracy,
  pp = excluded.pp,
  xh = excluded.xh, x = excluded.x, sh = excluded.sh, s = excluded.s,
  a = excluded.a, b = excluded.b, c = excluded.c, d = excluded.d,
  clears = excluded.clears,
  global_rank = excluded.global_rank,
  country_rank = excluded.country_rank,
  global_score_rank = excluded.global_score_rank,
  country_score_rank = excluded.country_score_rank`,
		st.Server, st.UserID, int(st.Mode), int(st.Relax), formatDate(st.Date), st.Country,
		st.TotalScore, st.RankedScore, st.TotalHits, st.PlayCount, st.PlayTime, st.ReplayViews,
		st.MaxCombo, st.Level, st.Accuracy, st.PP,
		g.XH, g.X, g.SH, g.S, g.A, g.B, g.C, g.D, g.Clears,
		st.GlobalRank, st.CountryRank, st.GlobalScoreRank, st.CountryScoreRank)
	return err
}

func scanStats(row interface{ Scan(...interface{}) error }) (*model.Stats, error) {
	var (
		st   model.Stats
		date string
		g    = &st.Grades
	)
	if err := row.Scan(&st.Server, &st.UserID, &st.Mode, &st.Relax, &date, &st.Country,
		&st.TotalScore, &st.RankedScore, &st.TotalHits, &st.PlayCount, &st.PlayTime, &st.ReplayViews,
		&st.MaxCombo, &st.Level, &st.Accuracy, &st.PP,
		&g.XH, &g.X, &g.SH, &g.S, &g.A, &g.B, &g.C, &g.D, &g.Clears,
		&st.GlobalRank, &st.CountryRank, &st.GlobalScoreRank, &st.CountryScoreRank); err != nil {
		return nil, err
	}
	st.Date = parseDate(date)
	return &st, nil
}

// LatestStats returns the most recent snapshot for a key.
func (t *Tx) LatestStats(ctx context.Context, server string, userID int64, mode model.Mode, rx model.Relax) (*model.Stats, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+statsColumns+` FROM stats
WHERE server = ? AND user_id = ? AND mode = ? AND relax = ?
ORDER BY date DESC LIMIT 1`, server, userID, int(mode), int(rx))
	st, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// StatsHistory returns up to limit snapshots for a key, newest first.
func (t *Tx) StatsHistory(ctx context.Context, server string, userID int64, mode model.Mode, rx model.Relax, limit int) ([]model.Stats, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := t.tx.QueryContext(ctx, "SELECT "+statsColumns+` FROM stats
WHERE server = ? AND user_id = ? AND mode = ? AND relax = ?
ORDER BY date DESC LIMIT ?`, server, userID, int(mode), int(rx), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Stats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// GetStanding returns the stored standing of a user on one leaderboard.
func (t *Tx) GetStanding(ctx context.Context, server string, userID int64, mode model.Mode, rx model.Relax, c model.Criterion) (*model.CompactStanding, error) {
	s := model.CompactStanding{Server: server, UserID: userID, Mode: mode, Relax: rx, Criterion: c}
	err := t.tx.QueryRowContext(ctx, `SELECT country, global_rank, country_rank, value FROM standings
WHERE server = ? AND user_id = ? AND mode = ? AND relax = ? AND criterion = ?`,
		server, userID, int(mode), int(rx), string(c)).Scan(&s.Country, &s.GlobalRank, &s.CountryRank, &s.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReplaceStanding overwrites the standing of a user on one leaderboard.
func (t *Tx) ReplaceStanding(ctx context.Context, s model.CompactStanding) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO standings(server, user_id, mode, relax, criterion, country, global_rank, country_rank, value)
VALUES(?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, user_id, mode, relax, criterion) DO UPDATE SET
  country = excluded.country,
  global_rank = excluded.global_rank,
  country_rank = excluded.country_rank,
  value = excluded.value`,
		s.Server, s.UserID, int(s.Mode), int(s.Relax), string(s.Criterion), s.Country, s.GlobalRank, s.CountryRank, s.Value)
	return err
}

// LocalRank ranks a value against the stored standings of one leaderboard:
// one plus the number of other users with a strictly higher value, globally
// and within the country. Both are zero when nothing is stored for the board.
func (t *Tx) LocalRank(ctx context.Context, s model.CompactStanding) (global, country int, err error) {
	var total, above, aboveCountry int
	err = t.tx.QueryRowContext(ctx, `SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN value > ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN value > ? AND country = ? THEN 1 ELSE 0 END), 0)
FROM standings
WHERE server = ? AND mode = ? AND relax = ? AND criterion = ? AND user_id != ?`,
		s.Value, s.Value, s.Country, s.Server, int(s.Mode), int(s.Relax), string(s.Criterion), s.UserID).Scan(&total, &above, &aboveCountry)
	if err != nil || total == 0 {
		return 0, 0, err
	}
	global = above + 1
	if s.Country != "" {
		country = aboveCountry + 1
	}
	return global, country, nil
}

// UpsertClan inserts or replaces a clan.
func (t *Tx) UpsertClan(ctx context.Context, c *model.Clan) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO clans(server, id, name, tag, description, owner_id, created_at) VALUES(?,?,?,?,?,?,?)
ON CONFLICT(server, id) DO UPDATE SET
  name = excluded.name,
  tag = excluded.tag,
  description = excluded.description,
  owner_id = excluded.owner_id,
  created_at = COALESCE(excluded.created_at, clans.created_at)`,
		c.Server, c.ID, c.Name, c.Tag, c.Description, c.OwnerID, formatTime(c.CreatedAt))
	return err
}

// UpsertClanStats writes the clan snapshot for its day.
func (t *Tx) UpsertClanStats(ctx context.Context, cs *model.ClanStats) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO clan_stats(server, clan_id, mode, relax, date, total_score, ranked_score, play_count, pp, accuracy, rank, score_rank)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, clan_id, mode, relax, date) DO UPDATE SET
  total_score = excluded.total_score,
  ranked_score = excluded.ranked_score,
  play_count = excluded.play_count,
  pp = excluded.pp,
  accuracy = excluded.accuracy,
  rank = CASE WHEN excluded.rank > 0 THEN excluded.rank ELSE clan_stats.rank END,
  score_rank = CASE WHEN excluded.score_rank > 0 THEN excluded.score_rank ELSE clan_stats.score_rank END`,
		cs.Server, cs.ClanID, int(cs.Mode), int(cs.Relax), formatDate(cs.Date),
		cs.TotalScore, cs.RankedScore, cs.PlayCount, cs.PP, cs.Accuracy, cs.Rank, cs.ScoreRank)
	return err
}
