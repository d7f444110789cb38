package edge

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/wolfman30/sxrx-edge/internal/cache"
)

// Transport is an http.RoundTripper that sends in-process clients through
// the cache router, so server-side reads of the backend get the same
// freshness and offline behavior as browser traffic.
type Transport struct {
	router *cache.Router
	base   http.RoundTripper
}

// NewTransport wraps base. Until the router is active every request goes
// to base directly.
func NewTransport(router *cache.Router, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{router: router, base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.router == nil || !t.router.Active() {
		return t.base.RoundTrip(req)
	}
	ctx := cache.WithPartition(req.Context(), partitionFor(req))
	e := t.router.Handle(ctx, req.WithContext(ctx))

	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}, nil
}
