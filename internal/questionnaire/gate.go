package questionnaire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
	"github.com/wolfman30/sxrx-edge/internal/storage"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Action is what the storefront should do with an add-to-cart.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionQuiz     Action = "quiz"
	ActionSchedule Action = "schedule"
)

// Product is the add-to-cart context as posted by the product page.
type Product struct {
	ID        string   `json:"product_id"`
	VariantID string   `json:"variant_id,omitempty"`
	Handle    string   `json:"handle,omitempty"`
	Quantity  int      `json:"quantity,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func (p Product) hasTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range p.Tags {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// PendingPurchase is saved while the shopper takes the quiz so checkout can
// resume afterwards.
type PendingPurchase struct {
	Product   Product   `json:"product"`
	ReturnTo  string    `json:"return_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is the gate's answer.
type Decision struct {
	Action      Action `json:"action"`
	RedirectURL string `json:"redirect_url"`
	Reason      string `json:"reason,omitempty"`
}

// Backend is the slice of the clinical client the gate needs.
type Backend interface {
	ForwardQuizCompletion(ctx context.Context, in clinical.QuizCompletion) error
	QuizStatus(ctx context.Context, quizID string) (*clinical.QuizStatus, error)
}

// GateConfig holds the redirect targets and product tags.
type GateConfig struct {
	QuizURL       string
	SchedulingURL string
	CheckoutURL   string
	GatedTags     []string
	ConsultTags   []string
	MinDwell      time.Duration
	PollInterval  time.Duration
}

// Gate decides whether a product may go straight to checkout.
type Gate struct {
	cfg     GateConfig
	session storage.Store
	backend Backend
	logger  *logging.Logger
	now     func() time.Time
}

func NewGate(cfg GateConfig, session storage.Store, backend Backend, logger *logging.Logger) *Gate {
	return &Gate{cfg: cfg, session: session, backend: backend, logger: logger.With("questionnaire"), now: time.Now}
}

// Decide routes an add-to-cart. Ungated products go to checkout. Gated
// products without a completed quiz in this session go to the quiz, with
// the purchase context saved; completed ones go to scheduling when the
// product needs a consult, otherwise to checkout. A quiz_completed=true
// URL parameter counts as completion only when the backend confirms the
// quiz named by quiz_id; without a backend it is taken as given.
func (g *Gate) Decide(ctx context.Context, p Product, params url.Values) (Decision, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Decision{}, fmt.Errorf("questionnaire: product id is required")
	}
	if !p.hasTag(g.cfg.GatedTags) {
		return Decision{Action: ActionAllow, RedirectURL: g.checkoutURL(p)}, nil
	}

	completed := g.completed(ctx, p.ID)
	if !completed && strings.EqualFold(params.Get("quiz_completed"), "true") && g.confirmed(ctx, params.Get("quiz_id")) {
		if err := g.MarkCompleted(ctx, p.ID); err != nil {
			return Decision{}, err
		}
		completed = true
	}

	if !completed {
		pending := PendingPurchase{Product: p, ReturnTo: params.Get("return_to"), CreatedAt: g.now().UTC()}
		if err := g.savePending(ctx, pending); err != nil {
			return Decision{}, err
		}
		return Decision{Action: ActionQuiz, RedirectURL: g.quizURL(p, pending.ReturnTo), Reason: "questionnaire required"}, nil
	}
	if p.hasTag(g.cfg.ConsultTags) {
		return Decision{Action: ActionSchedule, RedirectURL: withParams(g.cfg.SchedulingURL, url.Values{"product_id": {p.ID}}), Reason: "consultation required"}, nil
	}
	return Decision{Action: ActionAllow, RedirectURL: g.checkoutURL(p)}, nil
}

// Complete records a quiz completion event: it forwards the event to the
// backend, flags the product in the session and resumes the pending
// purchase. The returned decision is nil when nothing was pending.
func (g *Gate) Complete(ctx context.Context, in clinical.QuizCompletion) (*Decision, error) {
	if in.ProductID == "" {
		if pending, ok := g.Pending(ctx); ok {
			in.ProductID = pending.Product.ID
		}
	}
	if in.CustomerID == "" && g.session != nil {
		if owner := storage.SessionFromContext(ctx); owner != "" {
			if id, ok, err := g.session.Get(ctx, owner, storage.KeyCustomerID); err == nil && ok {
				in.CustomerID = id
			}
		}
	}
	if g.backend != nil {
		if err := g.backend.ForwardQuizCompletion(ctx, in); err != nil {
			return nil, fmt.Errorf("questionnaire: forward completion: %w", err)
		}
	}
	if in.ProductID == "" {
		return nil, nil
	}
	if err := g.MarkCompleted(ctx, in.ProductID); err != nil {
		return nil, err
	}

	pending, ok := g.Pending(ctx)
	if !ok || pending.Product.ID != in.ProductID {
		return nil, nil
	}
	d, err := g.Decide(ctx, pending.Product, url.Values{"return_to": {pending.ReturnTo}})
	if err != nil {
		return nil, err
	}
	if d.Action == ActionAllow {
		g.clearPending(ctx)
	}
	return &d, nil
}

// Await polls the backend completion flag for quizID until it has been
// visible for the minimum dwell, then marks productID completed.
func (g *Gate) Await(ctx context.Context, quizID, productID string) (State, error) {
	if g.backend == nil {
		return NotSeen, fmt.Errorf("questionnaire: no backend configured")
	}
	probe := ProbeFunc(func(ctx context.Context) (bool, error) {
		st, err := g.backend.QuizStatus(ctx, quizID)
		if err != nil {
			return false, err
		}
		return st.Completed, nil
	})
	w := NewWatcher(probe, NewDetector(g.cfg.MinDwell, g.now), g.cfg.PollInterval, g.logger)
	state, err := w.Watch(ctx)
	if state == Confirmed && productID != "" {
		if markErr := g.MarkCompleted(ctx, productID); markErr != nil {
			return state, markErr
		}
	}
	return state, err
}

// MarkCompleted flags productID's quiz as done for this session.
func (g *Gate) MarkCompleted(ctx context.Context, productID string) error {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || g.session == nil {
		return nil
	}
	if err := g.session.Set(ctx, owner, storage.QuizCompletedKey(productID), "true"); err != nil {
		return fmt.Errorf("questionnaire: mark completed: %w", err)
	}
	return nil
}

// Pending returns the saved purchase context, if any.
func (g *Gate) Pending(ctx context.Context) (PendingPurchase, bool) {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || g.session == nil {
		return PendingPurchase{}, false
	}
	raw, ok, err := g.session.Get(ctx, owner, storage.KeyPendingPurchase)
	if err != nil {
		g.logger.Warn("pending purchase read failed", "error", err)
		return PendingPurchase{}, false
	}
	if !ok {
		return PendingPurchase{}, false
	}
	var p PendingPurchase
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		g.logger.Warn("discarding malformed pending purchase", "error", err)
		return PendingPurchase{}, false
	}
	return p, true
}

// confirmed checks a client-claimed completion against the backend.
func (g *Gate) confirmed(ctx context.Context, quizID string) bool {
	if g.backend == nil {
		return true
	}
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		g.logger.Warn("quiz_completed without quiz_id ignored")
		return false
	}
	st, err := g.backend.QuizStatus(ctx, quizID)
	if err != nil {
		g.logger.Warn("quiz status check failed", "quiz_id", quizID, "error", err)
		return false
	}
	return st.Completed
}

func (g *Gate) completed(ctx context.Context, productID string) bool {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || g.session == nil {
		return false
	}
	v, ok, err := g.session.Get(ctx, owner, storage.QuizCompletedKey(productID))
	if err != nil {
		g.logger.Warn("quiz flag read failed", "product_id", productID, "error", err)
		return false
	}
	return ok && v == "true"
}

func (g *Gate) savePending(ctx context.Context, p PendingPurchase) error {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || g.session == nil {
		return nil
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("questionnaire: marshal pending purchase: %w", err)
	}
	if err := g.session.Set(ctx, owner, storage.KeyPendingPurchase, string(buf)); err != nil {
		return fmt.Errorf("questionnaire: save pending purchase: %w", err)
	}
	return nil
}

func (g *Gate) clearPending(ctx context.Context) {
	owner := storage.SessionFromContext(ctx)
	if owner == "" || g.session == nil {
		return
	}
	if err := g.session.Delete(ctx, owner, storage.KeyPendingPurchase); err != nil {
		g.logger.Warn("pending purchase clear failed", "error", err)
	}
}

func (g *Gate) quizURL(p Product, returnTo string) string {
	q := url.Values{"product_id": {p.ID}}
	if p.VariantID != "" {
		q.Set("variant_id", p.VariantID)
	}
	if returnTo != "" {
		q.Set("return_to", returnTo)
	}
	return withParams(g.cfg.QuizURL, q)
}

func (g *Gate) checkoutURL(p Product) string {
	if p.VariantID == "" {
		return g.cfg.CheckoutURL
	}
	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}
	return withParams(g.cfg.CheckoutURL, url.Values{"variant_id": {p.VariantID}, "quantity": {fmt.Sprint(qty)}})
}

func withParams(base string, q url.Values) string {
	if len(q) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
