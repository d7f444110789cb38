package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

func TestSessionIssuesCookies(t *testing.T) {
	var sid, vid string
	handler := Session(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid = storage.SessionFromContext(r.Context())
		vid = storage.VisitorFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(sid); err != nil {
		t.Fatalf("expected uuid session id, got %q", sid)
	}
	if _, err := uuid.Parse(vid); err != nil {
		t.Fatalf("expected uuid visitor id, got %q", vid)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if !c.HttpOnly || !c.Secure {
			t.Fatalf("expected hardened cookie, got %+v", c)
		}
		if c.Name == SessionCookie && c.MaxAge != 0 {
			t.Fatalf("expected session cookie without max-age")
		}
	}
}

func TestSessionReusesValidCookies(t *testing.T) {
	existingSID := uuid.NewString()
	existingVID := uuid.NewString()

	var sid, vid string
	handler := Session(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid = storage.SessionFromContext(r.Context())
		vid = storage.VisitorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: existingSID})
	req.AddCookie(&http.Cookie{Name: VisitorCookie, Value: "not-a-uuid"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if sid != existingSID {
		t.Fatalf("expected session id to be reused")
	}
	if vid == existingVID || vid == "not-a-uuid" {
		t.Fatalf("expected malformed visitor id to be replaced, got %q", vid)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != VisitorCookie {
		t.Fatalf("expected only the visitor cookie to be reissued, got %+v", cookies)
	}
}

func TestRequestLoggerRecordsStatusAndCacheFlag(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-From-Cache", "true")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/assets/app.css", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("expected request id to be echoed")
	}
	out := buf.String()
	for _, want := range []string{`"status":418`, `"served_from_cache":true`, `"request_id":"req-1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log to contain %s, got %s", want, out)
		}
	}
}
