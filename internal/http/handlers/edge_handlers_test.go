package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sxrx-edge/internal/cache"
	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/listing"
	"github.com/wolfman30/sxrx-edge/internal/notifications"
	"github.com/wolfman30/sxrx-edge/internal/questionnaire"
	"github.com/wolfman30/sxrx-edge/internal/storage"
)

func withSession(r *http.Request, sid, vid string) *http.Request {
	return r.WithContext(storage.WithSession(r.Context(), sid, vid))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCacheMessagesHandler(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStorage()
	router, err := cache.NewRouter(store, cache.FetcherFunc(func(*http.Request) (*cache.Entry, error) {
		return nil, errors.New("offline")
	}), cache.RouterConfig{Namespaces: cache.Namespaces{Prefix: "sxrx", Version: "v1"}}, nil, nil)
	require.NoError(t, err)
	for _, name := range []string{"sxrx-static-v1", "sxrx-api-v1", "sxrx-images-v1"} {
		c, err := store.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, "https://shop.sxrx.test/"+name, &cache.Entry{Status: 200}))
	}
	h := NewCacheMessagesHandler(cache.NewMessenger(router, nil), nil)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Handle(rec, httptest.NewRequest(http.MethodPost, "/_edge/messages", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"type":"GET_CACHE_SIZE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sizes := decode[cache.CacheSizeReply](t, rec)
	assert.Len(t, sizes.Sizes, 3)

	rec = post(`{"type":"CLEAR_CACHE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = post(`{"type":"GET_CACHE_SIZE"}`)
	assert.JSONEq(t, `{"sizes":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, post(`{"type":"SKIP_WAITING"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)
}

type fakeSource struct {
	appts []clinical.Appointment
	chart *clinical.Chart
	err   error
}

func (f *fakeSource) ListAppointments(context.Context) ([]clinical.Appointment, error) {
	return f.appts, f.err
}

func (f *fakeSource) GetChart(context.Context) (*clinical.Chart, error) {
	return f.chart, f.err
}

func newListingsRouter(source ListingSource, persistent, session storage.Store) http.Handler {
	h := NewListingsHandler(source, listing.NewPreferences(persistent, session, nil), nil)
	r := chi.NewRouter()
	r.Get("/account/{listing}", h.Get)
	return r
}

func TestListingsSortsAndPersistsSort(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	later := start.Add(48 * time.Hour)
	source := &fakeSource{appts: []clinical.Appointment{
		{ID: "later", Type: "Follow-up", Status: "booked", StartTime: &later},
		{ID: "unscheduled", Type: "Consult", Status: "pending"},
		{ID: "soon", Type: "Consult", Status: "booked", StartTime: &start},
	}}
	persistent := storage.NewMemoryStore()
	router := newListingsRouter(source, persistent, storage.NewMemoryStore())

	get := func(target string) ListingResponse {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, target, nil), "s1", "v1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[ListingResponse](t, rec)
	}
	ids := func(rows []listing.Row) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.ID
		}
		return out
	}

	resp := get("/account/appointments")
	assert.Equal(t, []string{"soon", "later", "unscheduled"}, ids(resp.Rows))
	assert.Equal(t, []string{"booked", "pending"}, resp.Categories)

	resp = get("/account/appointments?sort=start&dir=desc")
	assert.Equal(t, []string{"later", "soon", "unscheduled"}, ids(resp.Rows))

	// The sort sticks on the next visit; search does not filter it out.
	resp = get("/account/appointments?q=consult&filter=booked")
	assert.Equal(t, listing.Desc, resp.State.SortDir)
	assert.Equal(t, []string{"soon"}, ids(resp.Rows))
	assert.Equal(t, 3, resp.Total)

	_, ok, err := persistent.Get(context.Background(), "v1", storage.SortKey(listing.Appointments))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListingsChartListings(t *testing.T) {
	source := &fakeSource{chart: &clinical.Chart{
		Documents:     []clinical.Document{{ID: "d1", Name: "Lipid Panel", Section: "labs"}},
		Prescriptions: []clinical.Prescription{{ID: "rx1", Medication: "Sertraline", Status: "active"}},
	}}
	router := newListingsRouter(source, storage.NewMemoryStore(), storage.NewMemoryStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/prescriptions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rx1", decode[ListingResponse](t, rec).Rows[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/invoices", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/documents?dir=up", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingsBackendErrors(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{&clinical.Error{Code: clinical.CodeNetwork}, http.StatusServiceUnavailable, "network", true},
		{&clinical.Error{Code: clinical.CodeTimeout}, http.StatusGatewayTimeout, "timeout", true},
		{&clinical.Error{Code: clinical.CodeUnauthorized, Status: 401}, http.StatusUnauthorized, "unauthorized", false},
		{errors.New("boom"), http.StatusBadGateway, "unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			router := newListingsRouter(&fakeSource{err: tt.err}, storage.NewMemoryStore(), storage.NewMemoryStore())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/appointments", nil))
			assert.Equal(t, tt.status, rec.Code)
			body := decode[backendErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestNotificationsHandlers(t *testing.T) {
	h := NewNotificationsHandler(notifications.NewFeed(storage.NewMemoryStore(), nil), nil)
	r := chi.NewRouter()
	r.Get("/account/notifications", h.List)
	r.Post("/account/notifications", h.Add)
	r.Post("/account/notifications/read", h.MarkRead)
	r.Delete("/account/notifications", h.Clear)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := withSession(httptest.NewRequest(method, target, strings.NewReader(body)), "s1", "v1")
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/account/notifications", `{"type":"success","message":"Appointment booked"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(http.MethodPost, "/account/notifications", `{"message":"Lab results ready"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/account/notifications", `{"message":""}`).Code)

	feed := decode[NotificationsResponse](t, do(http.MethodGet, "/account/notifications", ""))
	require.Len(t, feed.Notifications, 2)
	assert.Equal(t, "Lab results ready", feed.Notifications[0].Message)
	assert.Equal(t, 2, feed.Unread)

	rec = do(http.MethodPost, "/account/notifications/read", `{"ids":["`+feed.Notifications[1].ID+`"]}`)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())
	rec = do(http.MethodPost, "/account/notifications/read", "")
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/account/notifications", "").Code)
	feed = decode[NotificationsResponse](t, do(http.MethodGet, "/account/notifications", ""))
	assert.Empty(t, feed.Notifications)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeQuizBackend struct {
	mu        sync.Mutex
	completed bool
	forwarded int
}

func (f *fakeQuizBackend) ForwardQuizCompletion(context.Context, clinical.QuizCompletion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded++
	return nil
}

func (f *fakeQuizBackend) QuizStatus(_ context.Context, quizID string) (*clinical.QuizStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &clinical.QuizStatus{QuizID: quizID, Completed: f.completed}, nil
}

func TestQuestionnaireHandlers(t *testing.T) {
	backend := &fakeQuizBackend{}
	gate := questionnaire.NewGate(questionnaire.GateConfig{
		QuizURL:      "/pages/questionnaire",
		CheckoutURL:  "/checkout",
		GatedTags:    []string{"requires-questionnaire"},
		MinDwell:     5 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, storage.NewMemoryStore(), backend, nil)
	h := NewQuestionnaireHandler(gate, nil)
	r := chi.NewRouter()
	r.Get("/questionnaire/gate", h.Gate)
	r.Post("/questionnaire/complete", h.Complete)
	r.Get("/questionnaire/status", h.Status)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, withSession(httptest.NewRequest(method, target, strings.NewReader(body)), "s1", "v1"))
		return rec
	}

	rec := do(http.MethodGet, "/questionnaire/gate?product_id=p1&variant_id=v1&tags=requires-questionnaire", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[questionnaire.Decision](t, rec)
	assert.Equal(t, questionnaire.ActionQuiz, d.Action)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/questionnaire/gate", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/questionnaire/gate?product_id=p1&quantity=0", "").Code)

	rec = do(http.MethodGet, "/questionnaire/status?quiz_id=q1&wait=20ms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[StatusResponse](t, rec).Confirmed)

	rec = do(http.MethodPost, "/questionnaire/complete", `{"quiz_id":"q1","approved":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[CompleteResponse](t, rec)
	require.NotNil(t, done.Next)
	assert.Equal(t, questionnaire.ActionAllow, done.Next.Action)
	assert.Equal(t, 1, backend.forwarded)

	backend.mu.Lock()
	backend.completed = true
	backend.mu.Unlock()
	rec = do(http.MethodGet, "/questionnaire/status?quiz_id=q2&product_id=p2&wait=2s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.True(t, status.Confirmed)
	assert.Equal(t, "confirmed", status.State)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/questionnaire/status", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/questionnaire/complete", `{}`).Code)
}
