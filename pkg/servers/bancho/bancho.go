// Package bancho is the client for the official osu! API (v2).
package bancho

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/performance"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

const (
	Name            = "bancho"
	DefaultBaseURL  = "https://osu.ppy.sh"
	MaxPageSize     = 100
	RankingPageSize = 50
	RequestInterval = time.Second
)

// Client talks to the osu! API with client-credentials auth. Relax and clans
// do not exist on bancho, and its rankings are not tracked page by page.
type Client struct {
	*servers.Base
	servers.NoClans
	baseURL      string
	clientID     string
	clientSecret string
	tok          token
	now          func() time.Time
}

type Options struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
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
		MaxPageSize:     MaxPageSize,
		RequestInterval: opts.RequestInterval,
	}
	return &Client{
		Base:         servers.NewBase(Name, caps, f, opts.Base...),
		NoClans:      servers.NoClans{Server: Name},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		now:          time.Now,
	}
}

func (c *Client) PerformanceSystem(mode model.Mode, rx model.Relax) string {
	return performance.SystemName(Name, mode, rx)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (gjson.Result, error) {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	u := c.baseURL + "/api/v2/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.DoJSON(ctx, &whttp.Request{
		Method:  "GET",
		URL:     u,
		Headers: []whttp.Header{{Name: "Authorization", Value: "Bearer " + tok}},
	})
}

func (c *Client) scores(ctx context.Context, kind string, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	q := url.Values{}
	q.Set("mode", opts.Mode.String())
	q.Set("limit", fmt.Sprint(opts.PageSize))
	q.Set("offset", fmt.Sprint(opts.Offset()))
	if kind == "recent" {
		q.Set("include_fails", "1")
	}
	doc, err := c.get(ctx, fmt.Sprintf("users/%d/scores/%s", userID, kind), q)
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "")
	if err != nil {
		return nil, err
	}
	listedAsBest := kind == "best" || kind == "firsts"
	out := make([]model.Score, 0, len(items))
	for _, it := range items {
		sc := convertScore(it, listedAsBest)
		if sc.UserID == 0 {
			sc.UserID = userID
		}
		sc.PPSystem = c.PerformanceSystem(sc.Mode, model.RelaxNone)
		if kind == "pinned" {
			sc.Pinned, sc.PinKnown = true, true
		}
		out = append(out, sc)
	}
	return out, nil
}

func (c *Client) FetchBestScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "best", userID, opts)
}

func (c *Client) FetchFirstPlaceScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "firsts", userID, opts)
}

func (c *Client) FetchRecentScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "recent", userID, opts)
}

func (c *Client) FetchPinnedScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "pinned", userID, opts)
}

func (c *Client) FetchMostPlayed(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.MapPlaycount, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	q := url.Values{}
	q.Set("limit", fmt.Sprint(opts.PageSize))
	q.Set("offset", fmt.Sprint(opts.Offset()))
	doc, err := c.get(ctx, fmt.Sprintf("users/%d/beatmapsets/most_played", userID), q)
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.MapPlaycount, 0, len(items))
	for _, it := range items {
		out = append(out, model.MapPlaycount{
			Server:    Name,
			UserID:    userID,
			BeatmapID: it.Get("beatmap_id").Int(),
			PlayCount: int(it.Get("count").Int()),
		})
	}
	return out, nil
}

// FetchUserProfile requests the user once per mode; the API only returns the
// statistics of the requested mode.
func (c *Client) FetchUserProfile(ctx context.Context, userID int64) (*servers.Profile, error) {
	var p *servers.Profile
	for _, mode := range model.Modes {
		q := url.Values{}
		q.Set("key", "id")
		doc, err := c.get(ctx, fmt.Sprintf("users/%d/%s", userID, mode), q)
		if err != nil {
			return nil, err
		}
		if _, err := servers.Object(Name, doc, "statistics"); err != nil {
			return nil, err
		}
		if p == nil {
			p = &servers.Profile{User: convertUser(doc)}
		}
		st := convertStats(doc.Get("statistics"), p.User.ID, mode)
		st.Country = p.User.Country
		p.Stats = append(p.Stats, st)
	}
	return p, nil
}

// rankPolicy: the performance ranking carries global ranks, the score ranking
// is numbered by position.
func rankPolicy(c model.Criterion) servers.RankPolicy {
	if c == model.CriterionPerformance {
		return servers.TrustUpstream
	}
	return servers.RunningCounter
}

func rankingType(c model.Criterion) string {
	if c == model.CriterionScore {
		return "score"
	}
	return "performance"
}

// FetchLeaderboardPage pages are fixed at 50 rows upstream; the requested page
// size is ignored.
func (c *Client) FetchLeaderboardPage(ctx context.Context, criterion model.Criterion, opts servers.FetchOptions) ([]servers.LeaderboardEntry, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(RankingPageSize)
	opts.PageSize = RankingPageSize
	q := url.Values{}
	q.Set("cursor[page]", fmt.Sprint(opts.Page))
	doc, err := c.get(ctx, fmt.Sprintf("rankings/%s/%s", opts.Mode, rankingType(criterion)), q)
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "ranking")
	if err != nil {
		return nil, err
	}
	upstream := make([]int, len(items))
	out := make([]servers.LeaderboardEntry, 0, len(items))
	for i, it := range items {
		u := convertUser(it.Get("user"))
		st := convertStats(it, u.ID, opts.Mode)
		st.Country = u.Country
		upstream[i] = st.GlobalRank
		out = append(out, servers.LeaderboardEntry{User: u, Stats: st})
	}
	ranks := servers.AssignRanks(rankPolicy(criterion), opts.Page, opts.PageSize, upstream, len(out))
	for i := range out {
		if criterion == model.CriterionScore {
			out[i].Stats.GlobalRank, out[i].Stats.CountryRank = 0, 0
			out[i].Stats.SetRank(criterion, ranks[i], 0)
			continue
		}
		out[i].Stats.SetRank(criterion, ranks[i], out[i].Stats.CountryRank)
	}
	return out, nil
}

func (c *Client) FetchBeatmapStatus(ctx context.Context, beatmapID int64) (model.RankedStatus, error) {
	doc, err := c.get(ctx, fmt.Sprintf("beatmaps/%d", beatmapID), nil)
	if err != nil {
		return model.StatusPending, err
	}
	if !doc.Get("ranked").Exists() {
		return model.StatusPending, fmt.Errorf("beatmap %d: %w: no ranked field", beatmapID, servers.ErrUnavailable)
	}
	return model.RankedStatus(doc.Get("ranked").Int()), nil
}

func (c *Client) ResolveUsername(ctx context.Context, name string) (int64, error) {
	q := url.Values{}
	q.Set("mode", "user")
	q.Set("query", name)
	doc, err := c.get(ctx, "search", q)
	if err != nil {
		return 0, err
	}
	var cands []servers.UserRef
	for _, u := range doc.Get("user.data").Array() {
		cands = append(cands, servers.UserRef{ID: u.Get("id").Int(), Username: u.Get("username").String()})
	}
	if id, ok := servers.MatchUsername(cands, name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("user %q: %w", name, servers.ErrNotFound)
}

// HealthCheck loads the public home page; it needs no token.
func (c *Client) HealthCheck(ctx context.Context) (*servers.Health, error) {
	start := time.Now()
	res, err := c.Do(ctx, &whttp.Request{Method: "GET", URL: c.baseURL + "/home"})
	h := &servers.Health{Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h, err
	}
	h.OK = true
	if title, ok := res.Title(); ok {
		h.Detail = title
	}
	return h, nil
}
