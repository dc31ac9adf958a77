package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestFetchReturnsNon2xxAsResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"gone"}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/products/1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.JSONEq(t, `{"error":"gone"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	assert.Equal(t, srv.URL+"/products/1", resp.URL)
}

func TestFetchSendsRequestHeaders(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "default-agent"})
	headers := http.Header{}
	headers.Set("User-Agent", "catalog-test/1.0")
	headers.Set("X-Trace", "abc")
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Headers: headers})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	got := <-seen
	assert.Equal(t, []string{"catalog-test/1.0"}, got.Values("User-Agent"))
	assert.Equal(t, "abc", got.Get("X-Trace"))
	assert.Equal(t, acceptEncoding, got.Get("Accept-Encoding"))

	// Without an explicit header the configured agent applies.
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "default-agent", (<-seen).Get("User-Agent"))
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":1,"name":"Máy tính"}`)
	var brBody, gzBody bytes.Buffer
	bw := brotli.NewWriter(&brBody)
	_, err := bw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	gw := gzip.NewWriter(&gzBody)
	_, err = gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(brBody.Bytes())
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gzBody.Bytes())
		default:
			_, _ = w.Write(payload)
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	for _, path := range []string{"/br", "/gzip", "/plain"} {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + path})
		require.NoError(t, err, path)
		assert.Equal(t, payload, resp.Body, path)
		assert.Empty(t, resp.Headers.Get("Content-Encoding"), path)
	}
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: addr})
	require.Error(t, err)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	hooks := &stubHooks{}
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	headers := http.Header{"X-Test": []string{"one", "two"}}
	f.configureCollectorHooks(hooks, crawler.FetchRequest{URL: "https://example.com", Headers: headers}, time.Now(), &result, &fetchErr)

	require.NotNil(t, hooks.onRequest)
	reqHeaders := http.Header{"X-Test": []string{"stale"}}
	hooks.onRequest(&colly.Request{Headers: &reqHeaders})
	assert.Equal(t, []string{"one", "two"}, reqHeaders.Values("X-Test"))

	require.NotNil(t, hooks.onResponse)
	respHeaders := http.Header{"Content-Type": []string{"application/json"}}
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusTeapot,
		Body:       []byte("ok"),
		Headers:    &respHeaders,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	assert.Equal(t, http.StatusTeapot, result.StatusCode)
	assert.Equal(t, "https://example.com/final", result.URL)
	assert.Equal(t, []byte("ok"), result.Body)
	assert.Equal(t, "application/json", result.Headers.Get("Content-Type"))

	require.NotNil(t, hooks.onError)
	hooks.onError(nil, assert.AnError)
	assert.ErrorIs(t, fetchErr, assert.AnError)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	copyHeaders(nil, &colly.Request{})
	copyHeaders(http.Header{"A": []string{"b"}}, &colly.Request{})
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
