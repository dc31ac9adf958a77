package collyfetcher

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "gzip, br"

// decodingTransport advertises gzip and brotli and unwraps either encoding,
// so the collector always sees identity bodies.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err //nolint:wrapcheck // colly wraps transport errors itself
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	var decoded io.Reader
	switch encoding {
	case "br":
		decoded = brotli.NewReader(resp.Body)
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		decoded = zr
	default:
		return resp, nil
	}
	resp.Body = &decodedBody{Reader: decoded, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type decodedBody struct {
	io.Reader
	raw io.Closer
}

func (b *decodedBody) Close() error {
	return b.raw.Close() //nolint:wrapcheck // plain passthrough
}
