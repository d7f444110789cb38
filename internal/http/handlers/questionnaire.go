package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/questionnaire"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

const maxStatusWait = 30 * time.Second

// QuestionnaireHandler runs the checkout gate for prescription products.
type QuestionnaireHandler struct {
	gate   *questionnaire.Gate
	logger *logging.Logger
}

func NewQuestionnaireHandler(gate *questionnaire.Gate, logger *logging.Logger) *QuestionnaireHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &QuestionnaireHandler{gate: gate, logger: logger}
}

// Gate decides where an add-to-cart goes next.
// GET /questionnaire/gate?product_id=&variant_id=&quantity=&tags=&return_to=&quiz_completed=&quiz_id=
func (h *QuestionnaireHandler) Gate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := questionnaire.Product{
		ID:        strings.TrimSpace(q.Get("product_id")),
		VariantID: strings.TrimSpace(q.Get("variant_id")),
		Handle:    strings.TrimSpace(q.Get("handle")),
	}
	if p.ID == "" {
		jsonError(w, "product_id is required", http.StatusBadRequest)
		return
	}
	if v := q.Get("quantity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, "invalid quantity", http.StatusBadRequest)
			return
		}
		p.Quantity = n
	}
	for _, tag := range strings.Split(q.Get("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			p.Tags = append(p.Tags, tag)
		}
	}

	d, err := h.gate.Decide(r.Context(), p, q)
	if err != nil {
		h.logger.Error("questionnaire gate failed", "product_id", p.ID, "error", err)
		jsonError(w, "gate unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CompleteResponse carries the resumed purchase, if one was pending.
type CompleteResponse struct {
	Recorded bool                    `json:"recorded"`
	Next     *questionnaire.Decision `json:"next,omitempty"`
}

// Complete records the quiz widget's completion event.
// POST /questionnaire/complete
func (h *QuestionnaireHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req clinical.QuizCompletion
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.QuizID) == "" {
		jsonError(w, "quiz_id is required", http.StatusBadRequest)
		return
	}
	next, err := h.gate.Complete(r.Context(), req)
	if err != nil {
		h.logger.Warn("quiz completion not recorded", "quiz_id", req.QuizID, "error", err)
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteResponse{Recorded: true, Next: next})
}

// StatusResponse reports the dwell detector's verdict.
type StatusResponse struct {
	QuizID    string `json:"quiz_id"`
	State     string `json:"state"`
	Confirmed bool   `json:"confirmed"`
}

// Status waits up to wait for the backend completion flag to hold for the
// minimum dwell.
// GET /questionnaire/status?quiz_id=&product_id=&wait=5s
func (h *QuestionnaireHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quizID := strings.TrimSpace(q.Get("quiz_id"))
	if quizID == "" {
		jsonError(w, "quiz_id is required", http.StatusBadRequest)
		return
	}
	wait := 5 * time.Second
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			jsonError(w, "invalid wait", http.StatusBadRequest)
			return
		}
		wait = min(d, maxStatusWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	state, err := h.gate.Await(ctx, quizID, strings.TrimSpace(q.Get("product_id")))
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn("quiz status check failed", "quiz_id", quizID, "error", err)
		jsonError(w, "status unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		QuizID:    quizID,
		State:     state.String(),
		Confirmed: state == questionnaire.Confirmed,
	})
}
