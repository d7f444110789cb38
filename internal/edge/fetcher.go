package edge

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/sxrx-edge/internal/cache"
)

// ErrBodyTooLarge is returned when an upstream body exceeds the buffer
// limit. The router treats it like any other fetch failure.
var ErrBodyTooLarge = errors.New("edge: upstream body exceeds limit")

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range splitList(v) {
			h.Del(name)
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// HTTPFetcher performs upstream requests and buffers the response.
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPFetcher creates a fetcher. Redirects are handed back to the
// caller rather than followed.
func NewHTTPFetcher(timeout time.Duration, maxBody int64) *HTTPFetcher {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: maxBody,
	}
}

// Fetch sends req upstream. Only transport failures and oversized bodies
// return an error.
func (f *HTTPFetcher) Fetch(req *http.Request) (*cache.Entry, error) {
	out, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("edge: build upstream request: %w", err)
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	stripHopHeaders(out.Header)
	// Let the transport negotiate compression so cached bodies are plain.
	out.Header.Del("Accept-Encoding")
	out.ContentLength = req.ContentLength

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("edge: upstream %s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("edge: read upstream body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: %s", ErrBodyTooLarge, req.URL.String())
	}

	header := resp.Header.Clone()
	stripHopHeaders(header)
	header.Del("Content-Length")
	return &cache.Entry{
		URL:    req.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}
