package bancho

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

// token holds a client-credentials access token and refreshes it shortly
// before it expires.
type token struct {
	mu      sync.Mutex
	value   string
	expires time.Time
}

const tokenSkew = time.Minute

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tok.mu.Lock()
	defer c.tok.mu.Unlock()

	if c.tok.value != "" && c.now().Add(tokenSkew).Before(c.tok.expires) {
		return c.tok.value, nil
	}
	if c.clientID == "" || c.clientSecret == "" {
		return "", fmt.Errorf("%s: no client credentials configured: %w", Name, servers.ErrUnavailable)
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "public")
	doc, err := c.DoJSON(ctx, &whttp.Request{
		Method:  "POST",
		URL:     c.baseURL + "/oauth/token",
		Headers: []whttp.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	value := doc.Get("access_token").String()
	if value == "" {
		return "", fmt.Errorf("%s: token response without access_token: %w", Name, servers.ErrUnavailable)
	}
	c.tok.value = value
	c.tok.expires = c.now().Add(time.Duration(doc.Get("expires_in").Int()) * time.Second)
	return value, nil
}
