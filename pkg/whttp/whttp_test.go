package whttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"code":200,"users":[{"id":7}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{Retries: 3, RetryDelay: time.Millisecond})
	res, err := c.Fetch(context.Background(), &Request{URL: srv.URL, Headers: []Header{{Name: "X-Test", Value: "yes"}}})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, res.ValidJSON())
	assert.Equal(t, int64(7), res.JSON().Get("users.0.id").Int())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchReturnsFinalStatusAfterRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Options{Retries: 2, RetryDelay: time.Millisecond})
	res, err := c.Fetch(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.False(t, res.OK())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Options{Retries: 3, RetryDelay: time.Millisecond})
	res, err := c.Fetch(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestResponseTitle(t *testing.T) {
	res := &Response{Body: []byte("<html><head><title>\n  titanic!\r\n</title></head></html>")}
	title, ok := res.Title()
	assert.True(t, ok)
	assert.Equal(t, "titanic!", title)

	_, ok = (&Response{Body: []byte("<html><body>no title</body></html>")}).Title()
	assert.False(t, ok)
}
