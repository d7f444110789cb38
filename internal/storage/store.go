// Package storage holds shopper UI state: a session-scoped store (per
// browsing session, expiring) and a persistent store (per visitor), both
// addressed by owner id and a fixed key namespace.
package storage

import (
	"context"
	"fmt"
)

// Store is a flat string key/value space partitioned by owner.
type Store interface {
	Get(ctx context.Context, owner, key string) (string, bool, error)
	Set(ctx context.Context, owner, key, value string) error
	Delete(ctx context.Context, owner, key string) error
}

// Fixed keys shared by every caller.
const (
	KeyPendingPurchase    = "sxrx_pending_purchase"
	KeyCustomerID         = "sxrx_customer_id"
	KeySessionID          = "sxrx_session_id"
	KeyAuthToken          = "sxrx_auth_token"
	KeyOnboardingComplete = "sxrx_onboarding_complete"
	KeyNotifications      = "sxrx_notifications"
	KeyQuizCompletedFmt   = "sxrx_quiz_completed_%s"
)

// SortKey is where a listing's sort preference lives.
func SortKey(listing string) string {
	return fmt.Sprintf("sxrx_%s_sort", listing)
}

// ViewStateKey is where a listing's search/filter state lives.
func ViewStateKey(listing string) string {
	return fmt.Sprintf("sxrx_%s_view", listing)
}

// QuizCompletedKey flags a finished questionnaire for a product.
func QuizCompletedKey(productID string) string {
	return fmt.Sprintf(KeyQuizCompletedFmt, productID)
}
