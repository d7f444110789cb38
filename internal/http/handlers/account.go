package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// AccountBackend is the slice of the clinical client behind the shopper's
// booking and login actions.
type AccountBackend interface {
	SearchAvailability(ctx context.Context, state string, date time.Time) ([]clinical.Slot, error)
	BookAppointment(ctx context.Context, req clinical.BookingRequest) (*clinical.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID, csrfToken string) error
	RegisterCustomer(ctx context.Context, reg clinical.Registration) (*clinical.Customer, error)
	ExchangeToken(ctx context.Context, in clinical.TokenExchange) (*clinical.Token, error)
	CSRFToken(ctx context.Context) (string, error)
}

// AccountHandler serves the patient actions that mutate backend state.
type AccountHandler struct {
	backend    AccountBackend
	session    storage.Store
	persistent storage.Store
	logger     *logging.Logger
}

func NewAccountHandler(backend AccountBackend, session, persistent storage.Store, logger *logging.Logger) *AccountHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountHandler{backend: backend, session: session, persistent: persistent, logger: logger}
}

// SlotsResponse lists open slots.
type SlotsResponse struct {
	State string          `json:"state"`
	Date  string          `json:"date,omitempty"`
	Slots []clinical.Slot `json:"slots"`
}

// Availability lists open slots for a state.
// GET /account/patient/availability/{state}?date=2006-01-02
func (h *AccountHandler) Availability(w http.ResponseWriter, r *http.Request) {
	state := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "state")))
	if len(state) != 2 {
		jsonError(w, "state must be a two-letter code", http.StatusBadRequest)
		return
	}
	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = d
	}
	slots, err := h.backend.SearchAvailability(r.Context(), state, date)
	if err != nil {
		h.backendFailed(w, "availability search", err)
		return
	}
	if slots == nil {
		slots = []clinical.Slot{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{State: state, Date: r.URL.Query().Get("date"), Slots: slots})
}

type bookingInput struct {
	SlotID     string `json:"slot_id"`
	ProviderID string `json:"provider_id"`
	State      string `json:"state"`
	ProductID  string `json:"product_id"`
	Reason     string `json:"reason"`
	Note       string `json:"note"`
}

// Book books a slot for the signed-in patient. The CSRF token comes from
// the X-CSRF-Token header or is fetched from the backend.
// POST /account/patient/bookings
func (h *AccountHandler) Book(w http.ResponseWriter, r *http.Request) {
	var in bookingInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.SlotID) == "" {
		jsonError(w, "slot_id is required", http.StatusBadRequest)
		return
	}
	csrf, err := h.csrf(r)
	if err != nil {
		h.backendFailed(w, "csrf token", err)
		return
	}
	appt, err := h.backend.BookAppointment(r.Context(), clinical.BookingRequest{
		SlotID:      in.SlotID,
		ProviderID:  in.ProviderID,
		State:       strings.ToUpper(in.State),
		CustomerID:  h.customerID(r.Context()),
		ProductID:   in.ProductID,
		Reason:      in.Reason,
		PatientNote: in.Note,
		CSRFToken:   csrf,
	})
	if err != nil {
		h.backendFailed(w, "book appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Cancel cancels a booked appointment.
// POST /account/patient/bookings/{appointmentID}/cancel
func (h *AccountHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if id == "" {
		jsonError(w, "appointment id is required", http.StatusBadRequest)
		return
	}
	csrf, err := h.csrf(r)
	if err != nil {
		h.backendFailed(w, "csrf token", err)
		return
	}
	if err := h.backend.CancelAppointment(r.Context(), id, csrf); err != nil {
		h.backendFailed(w, "cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

// Register creates the backend patient and remembers its id for the
// visitor.
// POST /account/patient/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg clinical.Registration
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&reg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reg.Email = strings.TrimSpace(reg.Email)
	reg.State = strings.ToUpper(strings.TrimSpace(reg.State))
	if reg.Email == "" {
		jsonError(w, "email is required", http.StatusBadRequest)
		return
	}
	customer, err := h.backend.RegisterCustomer(r.Context(), reg)
	if err != nil {
		h.backendFailed(w, "register customer", err)
		return
	}
	ctx := r.Context()
	h.put(ctx, h.session, storage.SessionFromContext(ctx), storage.KeyCustomerID, customer.ID)
	h.put(ctx, h.persistent, storage.VisitorFromContext(ctx), storage.KeyCustomerID, customer.ID)
	writeJSON(w, http.StatusCreated, customer)
}

type loginInput struct {
	clinical.TokenExchange
	Remember bool `json:"remember"`
}

// LoginResponse never carries the token itself; it stays server side.
type LoginResponse struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expires_at"`
	Remembered    bool      `json:"remembered"`
}

// Login exchanges the storefront login for a backend token and stores it
// in the session, and in the persistent store when remember is set.
// POST /account/patient/session
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := storage.SessionFromContext(ctx)
	if sessionID == "" || h.session == nil {
		jsonError(w, "no visitor session", http.StatusUnauthorized)
		return
	}
	var in loginInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&in); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.CustomerID) == "" && strings.TrimSpace(in.CustomerEmail) == "" {
		jsonError(w, "customer_id or email is required", http.StatusBadRequest)
		return
	}
	token, err := h.backend.ExchangeToken(ctx, in.TokenExchange)
	if err != nil {
		h.backendFailed(w, "token exchange", err)
		return
	}
	if err := h.session.Set(ctx, sessionID, storage.KeyAuthToken, token.AccessToken); err != nil {
		h.logger.Error("auth token not stored", "error", err)
		jsonError(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	remembered := false
	if in.Remember {
		remembered = h.put(ctx, h.persistent, storage.VisitorFromContext(ctx), storage.KeyAuthToken, token.AccessToken)
	}
	writeJSON(w, http.StatusOK, LoginResponse{Authenticated: true, ExpiresAt: token.ExpiresAt, Remembered: remembered})
}

// Logout forgets the backend token in both stores.
// DELETE /account/patient/session
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if owner := storage.SessionFromContext(ctx); owner != "" && h.session != nil {
		if err := h.session.Delete(ctx, owner, storage.KeyAuthToken); err != nil {
			h.logger.Warn("session token delete failed", "error", err)
		}
	}
	if owner := storage.VisitorFromContext(ctx); owner != "" && h.persistent != nil {
		if err := h.persistent.Delete(ctx, owner, storage.KeyAuthToken); err != nil {
			h.logger.Warn("persistent token delete failed", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) csrf(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get("X-CSRF-Token")); v != "" {
		return v, nil
	}
	return h.backend.CSRFToken(r.Context())
}

func (h *AccountHandler) customerID(ctx context.Context) string {
	for _, src := range []struct {
		store storage.Store
		owner string
	}{
		{h.session, storage.SessionFromContext(ctx)},
		{h.persistent, storage.VisitorFromContext(ctx)},
	} {
		if src.store == nil || src.owner == "" {
			continue
		}
		if v, ok, err := src.store.Get(ctx, src.owner, storage.KeyCustomerID); err == nil && ok {
			return v
		}
	}
	return ""
}

func (h *AccountHandler) put(ctx context.Context, store storage.Store, owner, key, value string) bool {
	if store == nil || owner == "" || value == "" {
		return false
	}
	if err := store.Set(ctx, owner, key, value); err != nil {
		h.logger.Warn("account state not stored", "key", key, "error", err)
		return false
	}
	return true
}

func (h *AccountHandler) backendFailed(w http.ResponseWriter, op string, err error) {
	if clinical.IsRetryable(err) {
		h.logger.Warn("backend call failed", "op", op, "error", err)
	} else {
		h.logger.Info("backend call rejected", "op", op, "error", err)
	}
	writeBackendError(w, err)
}
