package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/handler"
	mw "github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/middleware"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ws"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins []string

	Users      handler.AuthStore
	Tables     handler.TableService
	Cashier    handler.CashierService
	Charges    handler.ChargeService
	Returner   handler.ChargeReturner
	Commission handler.CommissionService
	Fiscal     handler.FiscalService
	Audit      handler.AuditService
	Sales      handler.SalesService

	Hub      *ws.Hub
	Gatherer prometheus.Gatherer
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(d Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	authHandler := handler.NewAuthHandler(d.Users, d.JWTSecret, d.TokenTTL)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(d.Hub, d.JWTSecret, w, r)
	})

	tableHandler := handler.NewTableHandler(d.Tables)
	cashierHandler := handler.NewCashierHandler(d.Cashier)
	chargeHandler := handler.NewChargeHandler(d.Charges, d.Returner)
	reportsHandler := handler.NewReportsHandler(d.Commission, d.Fiscal, d.Audit, d.Sales)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(d.JWTSecret))

		r.Get("/auth/me", authHandler.Me)

		// Floor staff
		r.Route("/tables", tableHandler.RegisterRoutes)
		r.Route("/settings", tableHandler.RegisterSettingsRoutes)

		// Cashier desks
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleCaixa, enum.RoleRecepcao))
			r.Route("/cashier", cashierHandler.RegisterRoutes)
		})

		// Reception
		r.Route("/room-charges", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleRecepcao, enum.RoleCaixa))
			chargeHandler.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.RoleAdmin))
				chargeHandler.RegisterAdminRoutes(r)
			})
		})

		// Back office
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireElevated)
			r.Route("/reports", reportsHandler.RegisterRoutes)
			// the fiscal emitter authenticates as a system user
			reportsHandler.RegisterEmitterRoutes(r)
		})
	})

	return r
}
