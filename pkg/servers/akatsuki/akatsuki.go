// Package akatsuki is the client for the Akatsuki server's v1 API.
package akatsuki

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/performance"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

const (
	Name           = "akatsuki"
	DefaultBaseURL = "https://akatsuki.gg/api/v1"
	MaxPageSize    = 100
	// 120 requests per minute.
	RequestInterval = 500 * time.Millisecond
)

type Client struct {
	*servers.Base
	baseURL string
}

// Options configures the client. Zero values select the defaults.
type Options struct {
	BaseURL         string
	RequestInterval time.Duration
	Base            []servers.BaseOption
}

func New(f whttp.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestInterval <= 0 {
		opts.RequestInterval = RequestInterval
	}
	caps := servers.Capabilities{
		Flags:           servers.CapRelax | servers.CapClans | servers.CapLiveRanks,
		RelaxVariants:   []model.Relax{model.RelaxNone, model.RelaxRelax, model.RelaxAutopilot},
		MaxPageSize:     MaxPageSize,
		RequestInterval: opts.RequestInterval,
	}
	return &Client{
		Base:    servers.NewBase(Name, caps, f, opts.Base...),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

func (c *Client) PerformanceSystem(mode model.Mode, rx model.Relax) string {
	return performance.SystemName(Name, mode, rx)
}

func (c *Client) endpoint(path string, q url.Values) *whttp.Request {
	u := c.baseURL + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return &whttp.Request{Method: "GET", URL: u}
}

func pageQuery(userID int64, o servers.FetchOptions) url.Values {
	q := url.Values{}
	q.Set("mode", fmt.Sprint(int(o.Mode)))
	q.Set("p", fmt.Sprint(o.Page))
	q.Set("l", fmt.Sprint(o.PageSize))
	q.Set("rx", fmt.Sprint(int(o.Relax)))
	if userID != 0 {
		q.Set("id", fmt.Sprint(userID))
	}
	return q
}

func (c *Client) scores(ctx context.Context, kind string, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	doc, err := c.DoJSON(ctx, c.endpoint("users/scores/"+kind, pageQuery(userID, opts)))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "scores")
	if err != nil {
		return nil, err
	}
	out := make([]model.Score, 0, len(items))
	for _, it := range items {
		sc := convertScore(it, userID, opts.Relax)
		sc.PPSystem = c.PerformanceSystem(sc.Mode, opts.Relax)
		out = append(out, sc)
	}
	return out, nil
}

func (c *Client) FetchBestScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "best", userID, opts)
}

func (c *Client) FetchFirstPlaceScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "first", userID, opts)
}

func (c *Client) FetchRecentScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "recent", userID, opts)
}

func (c *Client) FetchPinnedScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	scores, err := c.scores(ctx, "pinned", userID, opts)
	for i := range scores {
		scores[i].Pinned, scores[i].PinKnown = true, true
	}
	return scores, err
}

func (c *Client) FetchMostPlayed(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.MapPlaycount, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	doc, err := c.DoJSON(ctx, c.endpoint("users/most_played", pageQuery(userID, opts)))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "most_played_beatmaps")
	if err != nil {
		return nil, err
	}
	out := make([]model.MapPlaycount, 0, len(items))
	for _, it := range items {
		out = append(out, model.MapPlaycount{
			Server:    Name,
			UserID:    userID,
			BeatmapID: it.Get("beatmap.beatmap_id").Int(),
			PlayCount: int(it.Get("playcount").Int()),
		})
	}
	return out, nil
}

func (c *Client) FetchUserProfile(ctx context.Context, userID int64) (*servers.Profile, error) {
	q := url.Values{}
	q.Set("id", fmt.Sprint(userID))
	q.Set("relax", "-1")
	doc, err := c.DoJSON(ctx, c.endpoint("users/full", q))
	if err != nil {
		return nil, err
	}
	if _, err := servers.Object(Name, doc, "stats.0"); err != nil {
		return nil, err
	}
	p := &servers.Profile{User: convertUser(doc)}
	for rx := range doc.Get("stats").Array() {
		for _, mode := range model.Modes {
			node := doc.Get(fmt.Sprintf("stats.%d.%s", rx, statsKey(mode)))
			if !node.Exists() {
				continue
			}
			st := convertStats(node, p.User.ID, mode, model.Relax(rx))
			st.Country = p.User.Country
			p.Stats = append(p.Stats, st)
		}
	}
	return p, nil
}

// rankPolicy: the pp leaderboard carries authoritative ranks, the score
// leaderboard does not.
func rankPolicy(c model.Criterion) servers.RankPolicy {
	if c == model.CriterionPerformance {
		return servers.TrustUpstream
	}
	return servers.RunningCounter
}

func (c *Client) FetchLeaderboardPage(ctx context.Context, criterion model.Criterion, opts servers.FetchOptions) ([]servers.LeaderboardEntry, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	q := pageQuery(0, opts)
	q.Set("sort", string(criterion))
	doc, err := c.DoJSON(ctx, c.endpoint("leaderboard", q))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "users")
	if err != nil {
		return nil, err
	}

	upstream := make([]int, len(items))
	out := make([]servers.LeaderboardEntry, 0, len(items))
	for i, it := range items {
		u := convertUser(it)
		st := convertStats(it.Get("chosen_mode"), u.ID, opts.Mode, opts.Relax)
		st.Country = u.Country
		upstream[i] = st.GlobalRank
		out = append(out, servers.LeaderboardEntry{User: u, Stats: st})
	}
	ranks := servers.AssignRanks(rankPolicy(criterion), opts.Page, opts.PageSize, upstream, len(out))
	for i := range out {
		if criterion == model.CriterionPerformance {
			out[i].Stats.SetRank(criterion, ranks[i], out[i].Stats.CountryRank)
			continue
		}
		// Ranks embedded in the row are pp ranks; keep them out of this cycle.
		out[i].Stats.GlobalRank, out[i].Stats.CountryRank = 0, 0
		out[i].Stats.SetRank(criterion, ranks[i], 0)
	}
	return out, nil
}

func (c *Client) FetchClanProfile(ctx context.Context, clanID int64, opts servers.FetchOptions) (*servers.ClanProfile, error) {
	c.RequireClans()
	c.RequireRelax(opts.Relax)
	q := url.Values{}
	q.Set("id", fmt.Sprint(clanID))
	doc, err := c.DoJSON(ctx, c.endpoint("clans", q))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "clans")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("clan %d: %w", clanID, servers.ErrNotFound)
	}
	cp := &servers.ClanProfile{Clan: convertClan(items[0])}

	members, err := c.DoJSON(ctx, c.endpoint("clans/members", q))
	if err != nil {
		return nil, err
	}
	for _, m := range members.Get("members").Array() {
		cp.Members = append(cp.Members, m.Get("id").Int())
	}

	sq := url.Values{}
	sq.Set("id", fmt.Sprint(clanID))
	sq.Set("m", fmt.Sprint(int(opts.Mode)))
	sq.Set("rx", fmt.Sprint(int(opts.Relax)))
	stats, err := c.DoJSON(ctx, c.endpoint("clans/stats", sq))
	if err != nil {
		return nil, err
	}
	if node := stats.Get("clan.chosen_mode"); node.Exists() {
		cp.Stats = append(cp.Stats, convertClanStats(node, clanID, opts.Mode, opts.Relax))
	}
	return cp, nil
}

func (c *Client) FetchClanLeaderboardPage(ctx context.Context, criterion model.Criterion, opts servers.FetchOptions) ([]servers.ClanEntry, error) {
	c.RequireClans()
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	q := url.Values{}
	q.Set("m", fmt.Sprint(int(opts.Mode)))
	q.Set("p", fmt.Sprint(opts.Page))
	q.Set("l", fmt.Sprint(opts.PageSize))
	q.Set("rx", fmt.Sprint(int(opts.Relax)))
	if criterion == model.CriterionScore {
		q.Set("sort", "score")
	}
	doc, err := c.DoJSON(ctx, c.endpoint("clans/stats/all", q))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "clans")
	if err != nil {
		return nil, err
	}
	ranks := servers.AssignRanks(servers.RunningCounter, opts.Page, opts.PageSize, nil, len(items))
	out := make([]servers.ClanEntry, 0, len(items))
	for i, it := range items {
		cl := convertClan(it)
		st := convertClanStats(it.Get("chosen_mode"), cl.ID, opts.Mode, opts.Relax)
		if criterion == model.CriterionScore {
			st.ScoreRank = ranks[i]
		} else {
			st.Rank = ranks[i]
		}
		out = append(out, servers.ClanEntry{Clan: cl, Stats: st})
	}
	return out, nil
}

func (c *Client) FetchBeatmapStatus(ctx context.Context, beatmapID int64) (model.RankedStatus, error) {
	q := url.Values{}
	q.Set("b", fmt.Sprint(beatmapID))
	doc, err := c.DoJSON(ctx, c.endpoint("beatmaps", q))
	if err != nil {
		return model.StatusPending, err
	}
	if !doc.Get("ranked").Exists() {
		return model.StatusPending, fmt.Errorf("beatmap %d: %w", beatmapID, servers.ErrNotFound)
	}
	return convertStatus(doc.Get("ranked").Int()), nil
}

func (c *Client) ResolveUsername(ctx context.Context, name string) (int64, error) {
	q := url.Values{}
	q.Set("name", name)
	doc, err := c.DoJSON(ctx, c.endpoint("users/lookup", q))
	if err != nil {
		return 0, err
	}
	var cands []servers.UserRef
	for _, u := range doc.Get("users").Array() {
		cands = append(cands, servers.UserRef{ID: u.Get("id").Int(), Username: u.Get("username").String()})
	}
	if id, ok := servers.MatchUsername(cands, name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("user %q: %w", name, servers.ErrNotFound)
}

func (c *Client) HealthCheck(ctx context.Context) (*servers.Health, error) {
	start := time.Now()
	doc, err := c.DoJSON(ctx, c.endpoint("ping", nil))
	h := &servers.Health{Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h, err
	}
	h.OK = doc.Get("code").Int() == 200
	h.Detail = doc.Get("message").String()
	return h, nil
}
