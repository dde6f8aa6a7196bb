package titanic

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/pkg/difficulty"
	"github.com/rankwatch/rankwatch/pkg/model"
)

// Titanic serializes dates in the HTTP date format.
func parseTime(s string) time.Time {
	t, err := time.Parse(http.TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// convertCompletion maps score status: 3 is a personal best, 2 and 4 are
// submitted passes (4 being a best with other mods), anything lower failed.
func convertCompletion(status int64) model.Completion {
	switch status {
	case 3:
		return model.CompletionBest
	case 2, 4:
		return model.CompletionPassed
	}
	return model.CompletionFailed
}

// beatmapAttributes reads the base difficulty of an embedded beatmap; ok is
// false unless every attribute is present.
func beatmapAttributes(bm gjson.Result) (model.Attributes, bool) {
	var v [5]float64
	for i, key := range []string{"cs", "ar", "od", "hp", "bpm"} {
		x := bm.Get(key)
		if x.Type != gjson.Number {
			return model.Attributes{}, false
		}
		v[i] = x.Float()
	}
	return model.Attributes{CS: v[0], AR: v[1], OD: v[2], HP: v[3], BPM: v[4]}, true
}

func convertScore(it gjson.Result, userID int64) model.Score {
	sc := model.Score{
		ID:         it.Get("id").Int(),
		Server:     Name,
		UserID:     userID,
		BeatmapID:  it.Get("beatmap.id").Int(),
		BeatmapMD5: it.Get("beatmap.md5").String(),
		Hits: model.Hits{
			Great: int(it.Get("n300").Int()),
			Good:  int(it.Get("n100").Int()),
			Meh:   int(it.Get("n50").Int()),
			Miss:  int(it.Get("nMiss").Int()),
			Geki:  int(it.Get("nGeki").Int()),
			Katu:  int(it.Get("nKatu").Int()),
		},
		MaxCombo:    int(it.Get("max_combo").Int()),
		Perfect:     it.Get("perfect").Bool(),
		Accuracy:    it.Get("acc").Float() * 100,
		Grade:       model.ParseGrade(it.Get("grade").String()),
		PP:          it.Get("pp").Float(),
		Score:       it.Get("total_score").Int(),
		Mods:        model.Mods(uint32(it.Get("mods").Uint())),
		Mode:        model.Mode(it.Get("mode").Int()),
		Relax:       model.RelaxNone,
		Completed:   convertCompletion(it.Get("status").Int()),
		Pinned:      it.Get("pinned").Bool(),
		SubmittedAt: parseTime(it.Get("submitted_at").String()),
	}
	if base, ok := beatmapAttributes(it.Get("beatmap")); ok {
		eff := difficulty.Apply(base, sc.Mods)
		sc.Difficulty = &eff
	}
	sc.CompletionKnown = true
	sc.PinKnown = it.Get("pinned").Exists()
	return sc
}

func convertUser(doc gjson.Result) model.User {
	u := model.User{
		ID:             doc.Get("id").Int(),
		Server:         Name,
		Country:        strings.ToUpper(doc.Get("country").String()),
		RegisteredOn:   parseTime(doc.Get("created_at").String()),
		LatestActivity: parseTime(doc.Get("latest_activity").String()),
		FavouriteMode:  model.Mode(doc.Get("preferred_mode").Int()),
		Banned:         doc.Get("restricted").Bool(),
	}
	for _, n := range doc.Get("names.#.name").Array() {
		u.Rename(n.String())
	}
	u.Rename(doc.Get("name").String())

	var groups []string
	for _, g := range doc.Get("groups.#.group_id").Array() {
		groups = append(groups, g.String())
	}
	if len(groups) > 0 {
		u.Extra = map[string]string{"groups": strings.Join(groups, ",")}
	}
	return u
}

func convertStats(node gjson.Result, userID int64) model.Stats {
	st := model.Stats{
		Server:      Name,
		UserID:      userID,
		Mode:        model.Mode(node.Get("mode").Int()),
		Relax:       model.RelaxNone,
		RankedScore: node.Get("rscore").Int(),
		TotalScore:  node.Get("tscore").Int(),
		PlayCount:   node.Get("playcount").Int(),
		PlayTime:    node.Get("playtime").Int(),
		ReplayViews: node.Get("replay_views").Int(),
		TotalHits:   node.Get("total_hits").Int(),
		MaxCombo:    int(node.Get("max_combo").Int()),
		Accuracy:    node.Get("acc").Float() * 100,
		PP:          node.Get("pp").Float(),
		GlobalRank:  int(node.Get("rank").Int()),
		Grades: model.GradeCounts{
			XH: int(node.Get("xh_count").Int()),
			X:  int(node.Get("x_count").Int()),
			SH: int(node.Get("sh_count").Int()),
			S:  int(node.Get("s_count").Int()),
			A:  int(node.Get("a_count").Int()),
			B:  int(node.Get("b_count").Int()),
			C:  int(node.Get("c_count").Int()),
			D:  int(node.Get("d_count").Int()),
		},
	}
	g := st.Grades
	st.Grades.Clears = g.XH + g.X + g.SH + g.S + g.A + g.B + g.C + g.D
	return st
}

// statsForMode picks the per-mode entry of a user's stats array.
func statsForMode(stats gjson.Result, mode model.Mode) gjson.Result {
	for _, s := range stats.Array() {
		if s.Get("mode").Int() == int64(mode) {
			return s
		}
	}
	return stats.Get(strconv.Itoa(int(mode)))
}
