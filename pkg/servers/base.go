package servers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/pacer"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

// Logger abstracts logging so callers can plug in logrus or anything with the
// same methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// BreakerConfig tunes the per-server circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

var DefaultBreaker = BreakerConfig{FailureThreshold: 5, Timeout: time.Minute, MaxRequests: 1}

// Base is the request path shared by every client: pace, guard with the
// circuit breaker, fetch, classify the status, and count the outcome.
type Base struct {
	name    string
	caps    Capabilities
	fetcher whttp.Fetcher
	pacer   *pacer.Pacer
	breaker *gobreaker.CircuitBreaker[*whttp.Response]
	log     Logger
}

// BaseOption configures a Base.
type BaseOption func(*baseOptions)

type baseOptions struct {
	breaker BreakerConfig
	pacer   []pacer.Option
	log     Logger
}

func WithBreaker(cfg BreakerConfig) BaseOption {
	return func(o *baseOptions) { o.breaker = cfg }
}

func WithPacerOptions(opts ...pacer.Option) BaseOption {
	return func(o *baseOptions) { o.pacer = append(o.pacer, opts...) }
}

func WithLogger(l Logger) BaseOption {
	return func(o *baseOptions) {
		if l != nil {
			o.log = l
		}
	}
}

func NewBase(name string, caps Capabilities, f whttp.Fetcher, opts ...BaseOption) *Base {
	o := baseOptions{breaker: DefaultBreaker, log: nopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Base{
		name:    name,
		caps:    caps,
		fetcher: f,
		pacer:   pacer.New(caps.RequestInterval, o.pacer...),
		log:     o.log,
	}
	threshold := o.breaker.FailureThreshold
	b.breaker = gobreaker.NewCircuitBreaker[*whttp.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: o.breaker.MaxRequests,
		Timeout:     o.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warnf("Circuit breaker for %s: %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return b
}

func (b *Base) Name() string               { return b.name }
func (b *Base) Capabilities() Capabilities { return b.caps }
func (b *Base) Log() Logger                { return b.log }

// RequireRelax panics when rx is not a variant this server offers.
func (b *Base) RequireRelax(rx model.Relax) {
	if !b.caps.SupportsRelax(rx) {
		Unsupported(b.name, fmt.Sprintf("relax variant %s", rx))
	}
}

// RequireClans panics when the server has no clans.
func (b *Base) RequireClans() {
	if !b.caps.Has(CapClans) {
		Unsupported(b.name, "clans")
	}
}

type statusError int

func (e statusError) Error() string { return fmt.Sprintf("status %d", int(e)) }

// Do sends req once its pacing slot arrives. 404 maps to ErrNotFound, any
// other non-2xx status, transport failure or open breaker to ErrUnavailable.
func (b *Base) Do(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	if err := b.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := b.breaker.Execute(func() (*whttp.Response, error) {
		res, err := b.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
			return res, statusError(res.StatusCode)
		}
		return res, nil
	})
	took := time.Since(start)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordUpstream(b.name, "breaker_open", took)
		return nil, fmt.Errorf("%s: %w: %v", b.name, ErrUnavailable, err)
	case err != nil && res == nil:
		metrics.RecordUpstream(b.name, "error", took)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %w: %v", b.name, req.URL, ErrUnavailable, err)
	case res.StatusCode == http.StatusNotFound:
		metrics.RecordUpstream(b.name, "not_found", took)
		return nil, fmt.Errorf("%s %s: %w", b.name, req.URL, ErrNotFound)
	case !res.OK():
		metrics.RecordUpstream(b.name, "unavailable", took)
		return nil, fmt.Errorf("%s %s: %w: status %d", b.name, req.URL, ErrUnavailable, res.StatusCode)
	}
	metrics.RecordUpstream(b.name, "ok", took)
	return res, nil
}

// DoJSON is Do plus a well-formedness check on the body.
func (b *Base) DoJSON(ctx context.Context, req *whttp.Request) (gjson.Result, error) {
	res, err := b.Do(ctx, req)
	if err != nil {
		return gjson.Result{}, err
	}
	if !res.ValidJSON() {
		return gjson.Result{}, fmt.Errorf("%s %s: %w: malformed JSON", b.name, req.URL, ErrUnavailable)
	}
	return res.JSON(), nil
}

// Array returns the array at path (the document itself when path is empty) or
// ErrUnavailable when the payload does not carry one there.
func Array(server string, doc gjson.Result, path string) ([]gjson.Result, error) {
	v := doc
	if path != "" {
		v = doc.Get(path)
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("%s: %w: %q is not an array", server, ErrUnavailable, path)
	}
	return v.Array(), nil
}

// List is Array but treats an explicit null as an empty list, which is how
// several upstreams encode "nothing here".
func List(server string, doc gjson.Result, path string) ([]gjson.Result, error) {
	v := doc
	if path != "" {
		v = doc.Get(path)
	}
	if v.Exists() && v.Type == gjson.Null {
		return []gjson.Result{}, nil
	}
	return Array(server, doc, path)
}

// Object returns the object at path or ErrUnavailable.
func Object(server string, doc gjson.Result, path string) (gjson.Result, error) {
	v := doc
	if path != "" {
		v = doc.Get(path)
	}
	if !v.IsObject() {
		return gjson.Result{}, fmt.Errorf("%s: %w: %q is not an object", server, ErrUnavailable, path)
	}
	return v, nil
}
