package bancho

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/pkg/difficulty"
	"github.com/rankwatch/rankwatch/pkg/model"
)

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// convertCompletion: entries of the best and firsts listings are personal
// bests by definition; elsewhere only the passed flag is known.
func convertCompletion(passed, listedAsBest bool) model.Completion {
	switch {
	case !passed:
		return model.CompletionFailed
	case listedAsBest:
		return model.CompletionBest
	}
	return model.CompletionPassed
}

// scorePP falls back to the weighted value when the raw pp is missing.
func scorePP(it gjson.Result) float64 {
	if pp := it.Get("pp"); pp.Type == gjson.Number {
		return pp.Float()
	}
	w := it.Get("weight")
	if pct := w.Get("percentage").Float(); pct > 0 {
		return w.Get("pp").Float() * 100 / pct
	}
	return 0
}

func convertMods(v gjson.Result) model.Mods {
	var acr []string
	for _, m := range v.Array() {
		// Lazer payloads send objects, legacy payloads plain strings.
		if m.IsObject() {
			acr = append(acr, m.Get("acronym").String())
			continue
		}
		acr = append(acr, m.String())
	}
	return model.ParseMods(acr)
}

func convertScore(it gjson.Result, listedAsBest bool) model.Score {
	sc := model.Score{
		ID:         it.Get("id").Int(),
		Server:     Name,
		UserID:     it.Get("user_id").Int(),
		BeatmapID:  it.Get("beatmap.id").Int(),
		BeatmapMD5: it.Get("beatmap.checksum").String(),
		Hits: model.Hits{
			Great: int(it.Get("statistics.count_300").Int()),
			Good:  int(it.Get("statistics.count_100").Int()),
			Meh:   int(it.Get("statistics.count_50").Int()),
			Miss:  int(it.Get("statistics.count_miss").Int()),
			Geki:  int(it.Get("statistics.count_geki").Int()),
			Katu:  int(it.Get("statistics.count_katu").Int()),
		},
		MaxCombo:    int(it.Get("max_combo").Int()),
		Perfect:     it.Get("perfect").Bool(),
		Accuracy:    it.Get("accuracy").Float() * 100,
		Grade:       model.ParseGrade(it.Get("rank").String()),
		PP:          scorePP(it),
		Score:       it.Get("score").Int(),
		Mods:        convertMods(it.Get("mods")),
		Mode:        model.Mode(it.Get("mode_int").Int()),
		Relax:       model.RelaxNone,
		Completed:   convertCompletion(it.Get("passed").Bool(), listedAsBest),
		Pinned:      it.Get("current_user_attributes.pin").IsObject(),
		SubmittedAt: parseTime(it.Get("created_at").String()),
	}
	bm := it.Get("beatmap")
	if bm.Get("cs").Exists() && bm.Get("ar").Exists() && bm.Get("accuracy").Exists() && bm.Get("drain").Exists() && bm.Get("bpm").Exists() {
		eff := difficulty.Apply(model.Attributes{
			CS:  bm.Get("cs").Float(),
			AR:  bm.Get("ar").Float(),
			OD:  bm.Get("accuracy").Float(),
			HP:  bm.Get("drain").Float(),
			BPM: bm.Get("bpm").Float(),
		}, sc.Mods)
		sc.Difficulty = &eff
	}
	// Outside the best and firsts listings a pass may or may not be the
	// personal best.
	sc.CompletionKnown = sc.Completed != model.CompletionPassed
	sc.PinKnown = it.Get("current_user_attributes").Exists()
	return sc
}

func parseMode(s string) model.Mode {
	m, err := model.ParseMode(s)
	if err != nil {
		return model.ModeOsu
	}
	return m
}

func convertUser(doc gjson.Result) model.User {
	u := model.User{
		ID:             doc.Get("id").Int(),
		Server:         Name,
		Country:        strings.ToUpper(doc.Get("country_code").String()),
		RegisteredOn:   parseTime(doc.Get("join_date").String()),
		LatestActivity: parseTime(doc.Get("last_visit").String()),
		FavouriteMode:  parseMode(doc.Get("playmode").String()),
		Followers:      int(doc.Get("follower_count").Int()),
		Banned:         doc.Get("is_restricted").Bool(),
		Bot:            doc.Get("is_bot").Bool(),
	}
	for _, n := range doc.Get("previous_usernames").Array() {
		u.Rename(n.String())
	}
	u.Rename(doc.Get("username").String())
	return u
}

func convertStats(node gjson.Result, userID int64, mode model.Mode) model.Stats {
	st := model.Stats{
		Server:      Name,
		UserID:      userID,
		Mode:        mode,
		Relax:       model.RelaxNone,
		RankedScore: node.Get("ranked_score").Int(),
		TotalScore:  node.Get("total_score").Int(),
		PlayCount:   node.Get("play_count").Int(),
		PlayTime:    node.Get("play_time").Int(),
		ReplayViews: node.Get("replays_watched_by_others").Int(),
		TotalHits:   node.Get("total_hits").Int(),
		MaxCombo:    int(node.Get("maximum_combo").Int()),
		Level:       node.Get("level.current").Float() + node.Get("level.progress").Float()/100,
		Accuracy:    node.Get("hit_accuracy").Float(),
		PP:          node.Get("pp").Float(),
		GlobalRank:  int(node.Get("global_rank").Int()),
		CountryRank: int(node.Get("country_rank").Int()),
		Grades: model.GradeCounts{
			XH: int(node.Get("grade_counts.ssh").Int()),
			X:  int(node.Get("grade_counts.ss").Int()),
			SH: int(node.Get("grade_counts.sh").Int()),
			S:  int(node.Get("grade_counts.s").Int()),
			A:  int(node.Get("grade_counts.a").Int()),
		},
	}
	g := st.Grades
	st.Grades.Clears = g.XH + g.X + g.SH + g.S + g.A
	return st
}
