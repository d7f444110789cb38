package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/sxrx-edge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/sxrx-edge/internal/http/middleware"
	"github.com/wolfman30/sxrx-edge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	// Edge answers everything no other route claims.
	Edge http.Handler

	Health         *handlers.HealthHandler
	CacheMessages  *handlers.CacheMessagesHandler
	Listings       *handlers.ListingsHandler
	Account        *handlers.AccountHandler
	Notifications  *handlers.NotificationsHandler
	Questionnaire  *handlers.QuestionnaireHandler
	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	SecureCookies      bool
}

// New creates the edge's chi router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(httpmiddleware.Session(cfg.SecureCookies))

	r.Group(func(ops chi.Router) {
		if cfg.Health != nil {
			ops.Get("/health", cfg.Health.Health)
			ops.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			ops.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.CacheMessages != nil {
			ops.With(httpmiddleware.AdminJWT(cfg.AdminAuthSecret)).Post("/_edge/messages", cfg.CacheMessages.Handle)
		}
	})

	// Shopper-facing JSON endpoints.
	r.Group(func(api chi.Router) {
		if len(cfg.CORSAllowedOrigins) > 0 {
			api.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
		}
		if cfg.RateLimitRPS > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		api.Use(middleware.Compress(5, "application/json"))

		if cfg.Notifications != nil {
			api.Route("/account/notifications", func(n chi.Router) {
				n.Get("/", cfg.Notifications.List)
				n.Post("/", cfg.Notifications.Add)
				n.Delete("/", cfg.Notifications.Clear)
				n.Post("/read", cfg.Notifications.MarkRead)
			})
		}
		if cfg.Listings != nil {
			// Other /account paths belong to the storefront.
			api.Get("/account/{listing:(appointments|documents|prescriptions)}", cfg.Listings.Get)
		}
		if cfg.Account != nil {
			api.Route("/account/patient", func(a chi.Router) {
				a.Get("/availability/{state}", cfg.Account.Availability)
				a.Post("/bookings", cfg.Account.Book)
				a.Post("/bookings/{appointmentID}/cancel", cfg.Account.Cancel)
				a.Post("/register", cfg.Account.Register)
				a.Post("/session", cfg.Account.Login)
				a.Delete("/session", cfg.Account.Logout)
			})
		}
		if cfg.Questionnaire != nil {
			api.Route("/questionnaire", func(q chi.Router) {
				q.Get("/gate", cfg.Questionnaire.Gate)
				q.Post("/complete", cfg.Questionnaire.Complete)
				q.Get("/status", cfg.Questionnaire.Status)
			})
		}
	})

	if cfg.Edge != nil {
		r.NotFound(cfg.Edge.ServeHTTP)
		r.MethodNotAllowed(cfg.Edge.ServeHTTP)
	}
	return r
}
