package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rankwatch/rankwatch/pkg/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

const userColumns = "server, id, username, username_history, country, clan_id, registered_on, latest_activity, favourite_mode, followers, banned, bot, extra"

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var (
		u                  model.User
		history            string
		registered, active sql.NullString
		banned, bot        int
		extra              sql.NullString
	)
	if err := row.Scan(&u.Server, &u.ID, &u.Username, &history, &u.Country, &u.ClanID, &registered, &active, &u.FavouriteMode, &u.Followers, &banned, &bot, &extra); err != nil {
		return nil, err
	}
	u.UsernameHistory = decodeStrings(history)
	u.RegisteredOn = parseTime(registered)
	u.LatestActivity = parseTime(active)
	u.Banned = banned == 1
	u.Bot = bot == 1
	u.Extra = decodeExtra(extra)
	return &u, nil
}

// GetUser loads a user by key.
func (t *Tx) GetUser(ctx context.Context, server string, id int64) (*model.User, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE server = ? AND id = ?", server, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// FindUser looks a user up by current username, ignoring case.
func (t *Tx) FindUser(ctx context.Context, server, username string) (*model.User, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE server = ? AND username = ? COLLATE NOCASE ORDER BY id LIMIT 1", server, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// mergeHistory folds the stored names of u into its history: names already
// on record come first and the incoming ones are appended after them.
func (t *Tx) mergeHistory(ctx context.Context, u *model.User) (created bool, err error) {
	prev, err := t.GetUser(ctx, u.Server, u.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		created = true
	case err != nil:
		return false, err
	default:
		merged := model.User{UsernameHistory: prev.UsernameHistory}
		for _, name := range u.UsernameHistory {
			merged.Rename(name)
		}
		merged.Rename(u.Username)
		u.UsernameHistory = merged.UsernameHistory
	}
	if len(u.UsernameHistory) == 0 {
		u.Rename(u.Username)
	}
	return created, nil
}

func userArgs(u *model.User) []interface{} {
	return []interface{}{u.Server, u.ID, u.Username, encodeStrings(u.UsernameHistory), u.Country, u.ClanID,
		formatTime(u.RegisteredOn), formatTime(u.LatestActivity), int(u.FavouriteMode), u.Followers,
		boolToInt(u.Banned), boolToInt(u.Bot), encodeExtra(u.Extra)}
}

// UpsertUser inserts or replaces a user from a full profile. Names already on
// record stay in the history and the incoming names are appended after them;
// u is updated with the merged history. created reports whether the user was
// new.
func (t *Tx) UpsertUser(ctx context.Context, u *model.User) (created bool, err error) {
	if created, err = t.mergeHistory(ctx, u); err != nil {
		return false, err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, id) DO UPDATE SET
  username = excluded.username,
  username_history = excluded.username_history,
  country = excluded.country,
  clan_id = excluded.clan_id,
  registered_on = COALESCE(excluded.registered_on, users.registered_on),
  latest_activity = COALESCE(excluded.latest_activity, users.latest_activity),
  favourite_mode = excluded.favourite_mode,
  followers = excluded.followers,
  banned = excluded.banned,
  bot = excluded.bot,
  extra = excluded.extra`, userArgs(u)...)
	return created, err
}

// UpsertUserSummary stores the user part of a leaderboard row. A new user is
// inserted as given; a known one only has its name, country and ban flag
// updated, leaving the profile fields a leaderboard does not carry as stored.
func (t *Tx) UpsertUserSummary(ctx context.Context, u *model.User) (created bool, err error) {
	if created, err = t.mergeHistory(ctx, u); err != nil {
		return false, err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(server, id) DO UPDATE SET
  username = excluded.username,
  username_history = excluded.username_history,
  country = CASE WHEN excluded.country != '' THEN excluded.country ELSE users.country END,
  banned = excluded.banned`, userArgs(u)...)
	return created, err
}

// SetBanned flags or unflags a stored user. It reports whether a row changed.
func (t *Tx) SetBanned(ctx context.Context, server string, id int64, banned bool) (bool, error) {
	res, err := t.tx.ExecContext(ctx, "UPDATE users SET banned = ? WHERE server = ? AND id = ? AND banned != ?", boolToInt(banned), server, id, boolToInt(banned))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
