package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/sxrx-edge/internal/notifications"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// NotificationsHandler exposes the visitor's notification feed.
type NotificationsHandler struct {
	feed   *notifications.Feed
	logger *logging.Logger
}

func NewNotificationsHandler(feed *notifications.Feed, logger *logging.Logger) *NotificationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationsHandler{feed: feed, logger: logger}
}

// NotificationsResponse is the feed as rendered by the bell menu.
type NotificationsResponse struct {
	Notifications []notifications.Notification `json:"notifications"`
	Unread        int                          `json:"unread"`
}

// List returns the feed, newest first.
// GET /account/notifications
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, unread, err := h.feed.List(r.Context())
	if err != nil {
		h.feedError(w, err)
		return
	}
	if items == nil {
		items = []notifications.Notification{}
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: items, Unread: unread})
}

// Add appends a notification.
// POST /account/notifications
func (h *NotificationsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req notifications.Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	n, err := h.feed.Add(r.Context(), req)
	if err != nil {
		h.feedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkRead marks the given ids read, or all of them when ids is empty.
// POST /account/notifications/read
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	n, err := h.feed.MarkRead(r.Context(), req.IDs...)
	if err != nil {
		h.feedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// Clear empties the feed.
// DELETE /account/notifications
func (h *NotificationsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Clear(r.Context()); err != nil {
		h.feedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationsHandler) feedError(w http.ResponseWriter, err error) {
	if errors.Is(err, notifications.ErrNoVisitor) {
		jsonError(w, "no visitor session", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, notifications.ErrInvalid) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error("notification feed failed", "error", err)
	jsonError(w, "notification feed unavailable", http.StatusInternalServerError)
}
