package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/sxrx-edge/internal/cache"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// CacheMessagesHandler serves the cache control protocol to operators and
// storefront pages.
type CacheMessagesHandler struct {
	messenger *cache.Messenger
	logger    *logging.Logger
}

func NewCacheMessagesHandler(messenger *cache.Messenger, logger *logging.Logger) *CacheMessagesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CacheMessagesHandler{messenger: messenger, logger: logger}
}

// Handle answers one message.
// POST /_edge/messages
func (h *CacheMessagesHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var msg cache.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&msg); err != nil {
		jsonError(w, "invalid message", http.StatusBadRequest)
		return
	}

	reply, err := h.messenger.Handle(r.Context(), msg)
	switch {
	case errors.Is(err, cache.ErrUnknownMessage):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("cache message failed", "type", msg.Type, "error", err)
		jsonError(w, "cache message failed", http.StatusInternalServerError)
		return
	}
	h.logger.Info("cache message handled", "type", msg.Type)
	writeJSON(w, http.StatusOK, reply)
}
