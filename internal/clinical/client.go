// Package clinical is the client for the remote clinical backend:
// availability, appointments, patient charts, registration and
// questionnaire completion.
package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/sxrx-edge/internal/credentials"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

const (
	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 4 << 10
)

// Client talks JSON to the clinical backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *credentials.Resolver
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport routes backend calls through rt, e.g. the edge cache.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, creds *credentials.Resolver, logger *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		creds:  creds,
		logger: logger.With("clinical"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchAvailability lists open slots in a state on a date.
func (c *Client) SearchAvailability(ctx context.Context, state string, date time.Time) ([]Slot, error) {
	q := url.Values{}
	if !date.IsZero() {
		q.Set("date", date.Format("2006-01-02"))
	}
	var out struct {
		Slots []Slot `json:"slots"`
	}
	path := "/api/availability/" + url.PathEscape(strings.ToUpper(state))
	if err := c.do(ctx, http.MethodGet, path, q, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// ListAppointments returns the shopper's appointments.
func (c *Client) ListAppointments(ctx context.Context) ([]Appointment, error) {
	var out struct {
		Appointments []Appointment `json:"appointments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/appointments", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Appointments, nil
}

// BookAppointment books a slot. A CSRF token is required by the backend.
func (c *Client) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if strings.TrimSpace(req.SlotID) == "" {
		return nil, &Error{Code: CodeValidation, Detail: "slot_id is required"}
	}
	var out Appointment
	header := http.Header{}
	if req.CSRFToken != "" {
		header.Set("X-CSRF-Token", req.CSRFToken)
	}
	if err := c.do(ctx, http.MethodPost, "/api/appointments", nil, header, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAppointment cancels a booked appointment.
func (c *Client) CancelAppointment(ctx context.Context, appointmentID, csrfToken string) error {
	if strings.TrimSpace(appointmentID) == "" {
		return &Error{Code: CodeValidation, Detail: "appointment id is required"}
	}
	header := http.Header{}
	if csrfToken != "" {
		header.Set("X-CSRF-Token", csrfToken)
	}
	return c.do(ctx, http.MethodPost, "/api/appointments/"+url.PathEscape(appointmentID)+"/cancel", nil, header, nil, nil)
}

// GetChart returns the shopper's patient chart.
func (c *Client) GetChart(ctx context.Context) (*Chart, error) {
	var out Chart
	if err := c.do(ctx, http.MethodGet, "/api/patient/chart", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterCustomer creates the backend patient for a storefront customer.
func (c *Client) RegisterCustomer(ctx context.Context, reg Registration) (*Customer, error) {
	if strings.TrimSpace(reg.Email) == "" {
		return nil, &Error{Code: CodeValidation, Detail: "email is required"}
	}
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/api/customers/register", nil, nil, reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeToken trades a storefront login for a backend token.
func (c *Client) ExchangeToken(ctx context.Context, in TokenExchange) (*Token, error) {
	var out Token
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", nil, nil, in, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &Error{Code: CodeUnauthorized, Detail: "empty access token"}
	}
	return &out, nil
}

// ForwardQuizCompletion relays the questionnaire widget's completion event.
func (c *Client) ForwardQuizCompletion(ctx context.Context, in QuizCompletion) error {
	return c.do(ctx, http.MethodPost, "/api/webhooks/quiz-completed", nil, nil, in, nil)
}

// QuizStatus returns the backend's completion flag for a questionnaire.
func (c *Client) QuizStatus(ctx context.Context, quizID string) (*QuizStatus, error) {
	var out QuizStatus
	if err := c.do(ctx, http.MethodGet, "/api/questionnaires/"+url.PathEscape(quizID)+"/status", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CSRFToken fetches a fresh CSRF token for mutating calls.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"csrfToken"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf-token", nil, nil, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, header http.Header, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("clinical: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("clinical: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.creds != nil {
		c.creds.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "path", path, "error", err)
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		ce := &Error{Code: CodeForStatus(resp.StatusCode), Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
		if resp.StatusCode == http.StatusServiceUnavailable && isOfflineBody(detail) {
			ce.Code = CodeNetwork
		}
		c.logger.Warn("backend returned error", "method", method, "path", path, "status", resp.StatusCode, "code", ce.Code)
		return ce
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clinical: decode %s %s: %w", method, path, err)
	}
	return nil
}

// isOfflineBody recognizes the edge's synthetic "offline, nothing cached"
// answer so it is reported as a network failure, not a server error.
func isOfflineBody(b []byte) bool {
	var body struct {
		Offline bool `json:"offline"`
	}
	return json.Unmarshal(b, &body) == nil && body.Offline
}
