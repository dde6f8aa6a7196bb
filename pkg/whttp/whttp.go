package whttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/internal/utils"
)

const DefaultUserAgent = "rankwatch/1.0 (+https://github.com/rankwatch/rankwatch)"

type Header struct {
	Name  string
	Value string
}

type Request struct {
	Method  string
	URL     string
	Headers []Header
	Body    []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// ValidJSON reports whether the body is well-formed JSON.
func (r *Response) ValidJSON() bool { return gjson.ValidBytes(r.Body) }

// JSON parses the body for gjson path lookups.
func (r *Response) JSON() gjson.Result { return gjson.ParseBytes(r.Body) }

// Title extracts the HTML <title> text, trimmed and flattened to one line.
func (r *Response) Title() (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return "", false
	}
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return "", false
	}
	title := strings.NewReplacer("\n", "", "\r", "").Replace(sel.Text())
	return strings.ToValidUTF8(strings.TrimSpace(title), ""), true
}

// Fetcher sends a request and returns the upstream response. A non-2xx status
// is not an error at this layer.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Options tunes a Client.
type Options struct {
	// Retries is the number of extra attempts after a failed one.
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
	UserAgent  string
	Log        logrus.FieldLogger
}

// Client is a Fetcher with bounded retries and a fixed delay between attempts.
type Client struct {
	rc        *retryablehttp.Client
	userAgent string
}

func NewClient(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = utils.Log
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = opts.RetryDelay
	rc.RetryWaitMax = opts.RetryDelay
	rc.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration { return min }
	rc.Logger = leveledLogger{log}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, cerr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if retry {
			if err != nil {
				log.Warnf("request attempt failed: %v", err)
			} else {
				log.Warnf("request attempt failed with status %d", resp.StatusCode)
			}
		}
		return retry, cerr
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{rc: rc, userAgent: opts.UserAgent}
}

func (c *Client) Fetch(ctx context.Context, wReq *Request) (*Response, error) {
	method := wReq.Method
	if method == "" {
		method = http.MethodGet
	}
	var body interface{}
	if wReq.Body != nil {
		body = wReq.Body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, wReq.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, wReq.URL, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", wReq.URL, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// leveledLogger routes retryablehttp's key/value logging into logrus.
type leveledLogger struct{ l logrus.FieldLogger }

func (ll leveledLogger) fields(kv []interface{}) logrus.FieldLogger {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return ll.l.WithFields(f)
}

func (ll leveledLogger) Error(msg string, kv ...interface{}) { ll.fields(kv).Error(msg) }
func (ll leveledLogger) Warn(msg string, kv ...interface{})  { ll.fields(kv).Warn(msg) }
func (ll leveledLogger) Info(msg string, kv ...interface{})  { ll.fields(kv).Debug(msg) }
func (ll leveledLogger) Debug(msg string, kv ...interface{}) { ll.fields(kv).Debug(msg) }
