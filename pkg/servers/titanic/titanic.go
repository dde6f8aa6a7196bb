// Package titanic is the client for the Titanic server's profile API.
package titanic

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
	Name            = "titanic"
	DefaultBaseURL  = "https://osu.lekuru.xyz"
	MaxPageSize     = 50
	RequestInterval = 500 * time.Millisecond
)

// Client talks to Titanic. It has no relax leaderboards and no clans.
type Client struct {
	*servers.Base
	servers.NoClans
	baseURL string
}

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
		Flags:           servers.CapLiveRanks,
		MaxPageSize:     MaxPageSize,
		RequestInterval: opts.RequestInterval,
	}
	return &Client{
		Base:    servers.NewBase(Name, caps, f, opts.Base...),
		NoClans: servers.NoClans{Server: Name},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

func (c *Client) PerformanceSystem(mode model.Mode, rx model.Relax) string {
	return performance.SystemName(Name, mode, rx)
}

func (c *Client) api(path string, q url.Values) *whttp.Request {
	u := c.baseURL + "/api/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return &whttp.Request{Method: "GET", URL: u}
}

func pageQuery(o servers.FetchOptions) url.Values {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(o.PageSize))
	q.Set("offset", fmt.Sprint(o.Offset()))
	return q
}

func (c *Client) scores(ctx context.Context, kind string, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	path := fmt.Sprintf("profile/%d/%s/%s", userID, kind, opts.Mode)
	doc, err := c.DoJSON(ctx, c.api(path, pageQuery(opts)))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.Score, 0, len(items))
	for _, it := range items {
		sc := convertScore(it, userID)
		sc.PPSystem = c.PerformanceSystem(sc.Mode, model.RelaxNone)
		out = append(out, sc)
	}
	return out, nil
}

func (c *Client) FetchBestScores(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.Score, error) {
	return c.scores(ctx, "top", userID, opts)
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

// FetchMostPlayed lists play counts across all modes; Titanic does not split
// them.
func (c *Client) FetchMostPlayed(ctx context.Context, userID int64, opts servers.FetchOptions) ([]model.MapPlaycount, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	doc, err := c.DoJSON(ctx, c.api(fmt.Sprintf("profile/%d/plays", userID), pageQuery(opts)))
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
			BeatmapID: it.Get("beatmap.id").Int(),
			PlayCount: int(it.Get("count").Int()),
		})
	}
	return out, nil
}

func (c *Client) profile(ctx context.Context, ref string) (*servers.Profile, error) {
	doc, err := c.DoJSON(ctx, c.api("profile/"+url.PathEscape(ref), nil))
	if err != nil {
		return nil, err
	}
	if _, err := servers.Object(Name, doc, ""); err != nil {
		return nil, err
	}
	stats, err := servers.List(Name, doc, "stats")
	if err != nil {
		return nil, err
	}
	p := &servers.Profile{User: convertUser(doc)}
	for _, node := range stats {
		st := convertStats(node, p.User.ID)
		st.Country = p.User.Country
		p.Stats = append(p.Stats, st)
	}
	return p, nil
}

func (c *Client) FetchUserProfile(ctx context.Context, userID int64) (*servers.Profile, error) {
	return c.profile(ctx, fmt.Sprint(userID))
}

// rankPolicy: the performance ranking carries each user's live rank; the
// ranked-score ranking is numbered by position.
func rankPolicy(c model.Criterion) servers.RankPolicy {
	if c == model.CriterionPerformance {
		return servers.TrustUpstream
	}
	return servers.RunningCounter
}

func rankingPath(c model.Criterion) string {
	if c == model.CriterionScore {
		return "rscore"
	}
	return "performance"
}

func (c *Client) FetchLeaderboardPage(ctx context.Context, criterion model.Criterion, opts servers.FetchOptions) ([]servers.LeaderboardEntry, error) {
	c.RequireRelax(opts.Relax)
	opts = opts.Clamp(MaxPageSize)
	path := fmt.Sprintf("rankings/%s/%s", rankingPath(criterion), opts.Mode)
	doc, err := c.DoJSON(ctx, c.api(path, pageQuery(opts)))
	if err != nil {
		return nil, err
	}
	items, err := servers.List(Name, doc, "")
	if err != nil {
		return nil, err
	}

	upstream := make([]int, len(items))
	out := make([]servers.LeaderboardEntry, 0, len(items))
	for i, it := range items {
		u := convertUser(it.Get("user"))
		node := statsForMode(it.Get("user.stats"), opts.Mode)
		st := convertStats(node, u.ID)
		st.Mode = opts.Mode
		st.Country = u.Country
		upstream[i] = st.GlobalRank
		out = append(out, servers.LeaderboardEntry{User: u, Stats: st})
	}
	ranks := servers.AssignRanks(rankPolicy(criterion), opts.Page, opts.PageSize, upstream, len(out))
	for i := range out {
		if criterion == model.CriterionScore {
			out[i].Stats.GlobalRank = 0
		}
		out[i].Stats.SetRank(criterion, ranks[i], 0)
	}
	return out, nil
}

func (c *Client) FetchBeatmapStatus(ctx context.Context, beatmapID int64) (model.RankedStatus, error) {
	doc, err := c.DoJSON(ctx, c.api(fmt.Sprintf("beatmaps/%d", beatmapID), nil))
	if err != nil {
		return model.StatusPending, err
	}
	if !doc.Get("status").Exists() {
		return model.StatusPending, fmt.Errorf("beatmap %d: %w: no status", beatmapID, servers.ErrUnavailable)
	}
	return model.RankedStatus(doc.Get("status").Int()), nil
}

// ResolveUsername looks the name up through the profile endpoint, which
// accepts names as well as ids.
func (c *Client) ResolveUsername(ctx context.Context, name string) (int64, error) {
	p, err := c.profile(ctx, name)
	if err != nil {
		return 0, err
	}
	cands := []servers.UserRef{{ID: p.User.ID, Username: p.User.Username}}
	if id, ok := servers.MatchUsername(cands, name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("user %q: %w", name, servers.ErrNotFound)
}

// HealthCheck loads the home page and reports its title.
func (c *Client) HealthCheck(ctx context.Context) (*servers.Health, error) {
	start := time.Now()
	res, err := c.Do(ctx, &whttp.Request{Method: "GET", URL: c.baseURL + "/"})
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
