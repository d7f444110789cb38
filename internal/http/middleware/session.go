package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/sxrx-edge/internal/storage"
)

const (
	// SessionCookie lives for the browser session.
	SessionCookie = "sxrx_sid"
	// VisitorCookie persists across visits.
	VisitorCookie = "sxrx_vid"

	visitorMaxAge = 365 * 24 * time.Hour
)

// Session pins a session id and a visitor id on every request, issuing
// cookies for whichever is missing or malformed.
func Session(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, fresh := cookieID(r, SessionCookie)
			if fresh {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    sid,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			vid, fresh := cookieID(r, VisitorCookie)
			if fresh {
				http.SetCookie(w, &http.Cookie{
					Name:     VisitorCookie,
					Value:    vid,
					Path:     "/",
					MaxAge:   int(visitorMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(storage.WithSession(r.Context(), sid, vid)))
		})
	}
}

func cookieID(r *http.Request, name string) (string, bool) {
	if c, err := r.Cookie(name); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String(), false
		}
	}
	return uuid.NewString(), true
}
