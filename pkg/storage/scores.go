package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rankwatch/rankwatch/pkg/model"
)

const scoreColumns = "server, id, user_id, beatmap_id, beatmap_md5, n300, n100, n50, nmiss, ngeki, nkatu, max_combo, perfect, accuracy, grade, pp, score, mods, mode, relax, completed, pinned, submitted_at, pp_system"

// UpsertScore inserts or replaces a score. Completion and the pinned flag are
// taken as reported when the listing knows them, so a personal best that a
// newer play replaced is demoted. Otherwise completion is only raised and the
// pinned flag is kept.
func (t *Tx) UpsertScore(ctx context.Context, sc *model.Score) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO scores(`+scoreColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, id) DO UPDATE SET
  beatmap_md5 = excluded.beatmap_md5,
  n300 = excluded.n300, n100 = excluded.n100, n50 = excluded.n50,
  nmiss = excluded.nmiss, ngeki = excluded.ngeki, nkatu = excluded.nkatu,
  max_combo = excluded.max_combo,
  perfect = excluded.perfect,
  accuracy = excluded.accuracy,
  grade = excluded.grade,
  pp = excluded.pp,
  score = excluded.score,
  mods = excluded.mods,
  completed = CASE WHEN ? THEN excluded.completed ELSE MAX(scores.completed, excluded.completed) END,
  pinned = CASE WHEN ? THEN excluded.pinned ELSE scores.pinned END,
  submitted_at = COALESCE(excluded.submitted_at, scores.submitted_at),
  pp_system = excluded.pp_system`,
		sc.Server, sc.ID, sc.UserID, sc.BeatmapID, sc.BeatmapMD5,
		sc.Hits.Great, sc.Hits.Good, sc.Hits.Meh, sc.Hits.Miss, sc.Hits.Geki, sc.Hits.Katu,
		sc.MaxCombo, boolToInt(sc.Perfect), sc.Accuracy, string(sc.Grade), sc.PP, sc.Score,
		int64(sc.Mods), int(sc.Mode), int(sc.Relax), int(sc.Completed), boolToInt(sc.Pinned),
		formatTime(sc.SubmittedAt), sc.PPSystem,
		boolToInt(sc.CompletionKnown), boolToInt(sc.PinKnown))
	return err
}

// ScoreFilter selects stored scores. Zero fields do not filter.
type ScoreFilter struct {
	Server    string
	UserID    int64
	Mode      model.Mode
	Relax     model.Relax
	Completed model.Completion
	Limit     int
}

// ListScores returns the matching scores ordered by pp, highest first.
func (t *Tx) ListScores(ctx context.Context, f ScoreFilter) ([]model.Score, error) {
	where := "WHERE server = ? AND user_id = ? AND mode = ? AND relax = ?"
	args := []interface{}{f.Server, f.UserID, int(f.Mode), int(f.Relax)}
	if f.Completed != 0 {
		where += " AND completed = ?"
		args = append(args, int(f.Completed))
	}
	q := "SELECT " + scoreColumns + " FROM scores " + where + " ORDER BY pp DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Score
	for rows.Next() {
		var (
			sc               model.Score
			perfect, pinned  int
			grade, submitted sql.NullString
			mods             int64
		)
		if err := rows.Scan(&sc.Server, &sc.ID, &sc.UserID, &sc.BeatmapID, &sc.BeatmapMD5,
			&sc.Hits.Great, &sc.Hits.Good, &sc.Hits.Meh, &sc.Hits.Miss, &sc.Hits.Geki, &sc.Hits.Katu,
			&sc.MaxCombo, &perfect, &sc.Accuracy, &grade, &sc.PP, &sc.Score,
			&mods, &sc.Mode, &sc.Relax, &sc.Completed, &pinned, &submitted, &sc.PPSystem); err != nil {
			return nil, err
		}
		sc.Perfect = perfect == 1
		sc.Pinned = pinned == 1
		sc.Grade = model.Grade(grade.String)
		sc.Mods = model.Mods(mods)
		sc.SubmittedAt = parseTime(submitted)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// GradeCounts aggregates the grades of a user's best scores.
func (t *Tx) GradeCounts(ctx context.Context, server string, userID int64, mode model.Mode, rx model.Relax) (model.GradeCounts, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT grade, COUNT(*) FROM scores
WHERE server = ? AND user_id = ? AND mode = ? AND relax = ? AND completed = ?
GROUP BY grade`, server, userID, int(mode), int(rx), int(model.CompletionBest))
	if err != nil {
		return model.GradeCounts{}, err
	}
	defer rows.Close()

	var gc model.GradeCounts
	for rows.Next() {
		var (
			grade string
			n     int
		)
		if err := rows.Scan(&grade, &n); err != nil {
			return model.GradeCounts{}, err
		}
		for i := 0; i < n; i++ {
			gc.Count(model.Grade(grade))
		}
	}
	return gc, rows.Err()
}

// UpsertPlaycount stores how often a user played a beatmap; the last write wins.
func (t *Tx) UpsertPlaycount(ctx context.Context, pc model.MapPlaycount) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO map_playcounts(server, user_id, beatmap_id, play_count) VALUES(?,?,?,?)
ON CONFLICT(server, user_id, beatmap_id) DO UPDATE SET play_count = excluded.play_count`,
		pc.Server, pc.UserID, pc.BeatmapID, pc.PlayCount)
	return err
}

// UpsertBeatmapStatus stores the ranked state of a beatmap; the last write wins.
func (t *Tx) UpsertBeatmapStatus(ctx context.Context, bs model.BeatmapStatus) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO beatmap_status(server, beatmap_id, status, checked_at) VALUES(?,?,?,?)
ON CONFLICT(server, beatmap_id) DO UPDATE SET status = excluded.status, checked_at = excluded.checked_at`,
		bs.Server, bs.BeatmapID, int(bs.Status), bs.CheckedAt.UTC().Format(timeLayout))
	return err
}

// GetBeatmapStatus loads the stored ranked state of a beatmap.
func (t *Tx) GetBeatmapStatus(ctx context.Context, server string, beatmapID int64) (*model.BeatmapStatus, error) {
	bs := model.BeatmapStatus{Server: server, BeatmapID: beatmapID}
	var checked sql.NullString
	err := t.tx.QueryRowContext(ctx, "SELECT status, checked_at FROM beatmap_status WHERE server = ? AND beatmap_id = ?", server, beatmapID).Scan(&bs.Status, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	bs.CheckedAt = parseTime(checked)
	return &bs, nil
}

// StaleBeatmaps returns beatmaps referenced by stored scores whose ranked
// state was never checked or was last checked before the given time.
func (t *Tx) StaleBeatmaps(ctx context.Context, server string, checkedBefore time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT DISTINCT s.beatmap_id FROM scores s
LEFT JOIN beatmap_status b ON b.server = s.server AND b.beatmap_id = s.beatmap_id
WHERE s.server = ? AND s.beatmap_id > 0 AND (b.checked_at IS NULL OR b.checked_at < ?)
ORDER BY s.beatmap_id
LIMIT ?`, server, checkedBefore.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
