package akatsuki

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/pkg/model"
)

// Privilege bit set on accounts visible to the public; cleared on restriction.
const privUserPublic = 1

func statsKey(m model.Mode) string {
	switch m {
	case model.ModeTaiko:
		return "taiko"
	case model.ModeCatch:
		return "ctb"
	case model.ModeMania:
		return "mania"
	}
	return "std"
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func convertCompletion(v int64) model.Completion {
	switch v {
	case 3:
		return model.CompletionBest
	case 2:
		return model.CompletionPassed
	}
	return model.CompletionFailed
}

// convertStatus maps the ripple-style ranked field.
func convertStatus(v int64) model.RankedStatus {
	switch v {
	case 2:
		return model.StatusRanked
	case 3:
		return model.StatusApproved
	case 4:
		return model.StatusQualified
	case 5:
		return model.StatusLoved
	}
	return model.StatusPending
}

func convertScore(it gjson.Result, userID int64, rx model.Relax) model.Score {
	sc := model.Score{
		ID:         it.Get("id").Int(),
		Server:     Name,
		UserID:     userID,
		BeatmapID:  it.Get("beatmap.beatmap_id").Int(),
		BeatmapMD5: it.Get("beatmap_md5").String(),
		Hits: model.Hits{
			Great: int(it.Get("count_300").Int()),
			Good:  int(it.Get("count_100").Int()),
			Meh:   int(it.Get("count_50").Int()),
			Miss:  int(it.Get("count_miss").Int()),
			Geki:  int(it.Get("count_geki").Int()),
			Katu:  int(it.Get("count_katu").Int()),
		},
		MaxCombo:    int(it.Get("max_combo").Int()),
		Perfect:     it.Get("full_combo").Bool(),
		Accuracy:    it.Get("accuracy").Float(),
		Grade:       model.ParseGrade(it.Get("rank").String()),
		PP:          it.Get("pp").Float(),
		Score:       it.Get("score").Int(),
		Mods:        model.Mods(uint32(it.Get("mods").Uint())),
		Mode:        model.Mode(it.Get("play_mode").Int()),
		Relax:       rx,
		Completed:   convertCompletion(it.Get("completed").Int()),
		Pinned:      it.Get("pinned").Bool(),
		SubmittedAt: parseTime(it.Get("time").String()),
	}
	if sc.BeatmapMD5 == "" {
		sc.BeatmapMD5 = it.Get("beatmap.beatmap_md5").String()
	}
	sc.CompletionKnown = true
	sc.PinKnown = it.Get("pinned").Exists()
	return sc
}

func convertUser(doc gjson.Result) model.User {
	u := model.User{
		ID:             doc.Get("id").Int(),
		Server:         Name,
		Country:        doc.Get("country").String(),
		ClanID:         doc.Get("clan.id").Int(),
		RegisteredOn:   parseTime(doc.Get("registered_on").String()),
		LatestActivity: parseTime(doc.Get("latest_activity").String()),
		FavouriteMode:  model.Mode(doc.Get("favourite_mode").Int()),
		Followers:      int(doc.Get("followers").Int()),
	}
	u.Rename(doc.Get("username").String())
	if p := doc.Get("privileges"); p.Exists() {
		u.Banned = p.Int()&privUserPublic == 0
	}
	if aka := doc.Get("username_aka").String(); aka != "" {
		u.Extra = map[string]string{"aka": aka}
	}
	return u
}

func convertStats(node gjson.Result, userID int64, mode model.Mode, rx model.Relax) model.Stats {
	return model.Stats{
		Server:      Name,
		UserID:      userID,
		Mode:        mode,
		Relax:       rx,
		RankedScore: node.Get("ranked_score").Int(),
		TotalScore:  node.Get("total_score").Int(),
		PlayCount:   node.Get("playcount").Int(),
		PlayTime:    node.Get("play_time").Int(),
		ReplayViews: node.Get("replays_watched").Int(),
		TotalHits:   node.Get("total_hits").Int(),
		MaxCombo:    int(node.Get("max_combo").Int()),
		Level:       node.Get("level").Float(),
		Accuracy:    node.Get("accuracy").Float(),
		PP:          node.Get("pp").Float(),
		GlobalRank:  int(node.Get("global_leaderboard_rank").Int()),
		CountryRank: int(node.Get("country_leaderboard_rank").Int()),
	}
}

func convertClan(it gjson.Result) model.Clan {
	return model.Clan{
		ID:          it.Get("id").Int(),
		Server:      Name,
		Name:        it.Get("name").String(),
		Tag:         it.Get("tag").String(),
		Description: it.Get("description").String(),
		OwnerID:     it.Get("owner").Int(),
	}
}

func convertClanStats(node gjson.Result, clanID int64, mode model.Mode, rx model.Relax) model.ClanStats {
	return model.ClanStats{
		Server:      Name,
		ClanID:      clanID,
		Mode:        mode,
		Relax:       rx,
		RankedScore: node.Get("ranked_score").Int(),
		TotalScore:  node.Get("total_score").Int(),
		PlayCount:   node.Get("playcount").Int(),
		PP:          node.Get("pp").Float(),
		Accuracy:    node.Get("accuracy").Float(),
		Rank:        int(node.Get("global_leaderboard_rank").Int()),
	}
}
