package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"refcommission/internal/catalog"
	"refcommission/internal/metrics"
	"refcommission/internal/purchase"
	"refcommission/internal/referral"
	"refcommission/internal/users"
	"refcommission/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services groups the application services exposed over HTTP.
type Services struct {
	Users       *users.Service
	Graph       *referral.Graph
	Catalog     *catalog.Service
	Purchases   *purchase.Manager
	Withdrawals *withdrawal.Service
}

// NewRouter mounts the public, user and admin routes.
func NewRouter(svc Services, auth *Authenticator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	h := &handlers{svc: svc, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(m))

	r.Get("/healthz", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/me", h.me)

		r.Post("/purchases", h.createPurchase)
		r.Get("/purchases/membership", h.membership)
		r.Get("/purchases/mine", h.myPurchases)

		r.Post("/withdrawals", h.createWithdrawal)
		r.Get("/withdrawals/mine", h.myWithdrawals)
		r.Get("/withdrawals/latest", h.latestWithdrawal)
		r.Get("/withdrawals/deduction", h.latestDeduction)
		r.Get("/withdrawals/preview", h.previewWithdrawal)

		r.Get("/referrals", h.referrals)
		r.Get("/referrals/active", h.activeReferrals)
		r.Get("/ledger", h.ledger)

		r.Get("/packages", h.listPackages)
		r.Get("/packages/{slug}", h.packageBySlug)
		r.Get("/withdrawal-accounts", h.withdrawalAccounts)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/users", h.createUser)
			r.Post("/users/{id}/referrer", h.assignReferrer)
			r.Post("/packages", h.createPackage)
			r.Post("/withdrawal-accounts", h.createWithdrawalAccount)

			r.Get("/purchases", h.allPurchases)
			r.Put("/purchases/{id}/status", h.updatePurchaseStatus)

			r.Get("/withdrawals", h.allWithdrawals)
			r.Put("/withdrawals/{id}/status", h.updateWithdrawalStatus)
			r.Delete("/withdrawals/{id}", h.deleteWithdrawal)
		})
	})

	return r
}

// instrument records request counts and latency by chi route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			m.HTTPLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
