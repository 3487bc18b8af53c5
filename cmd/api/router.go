package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/analytics"
	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/checkout"
	"github.com/pahana-edu/bookshop-checkout/internal/common"
	"github.com/pahana-edu/bookshop-checkout/internal/health"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/order"
	"github.com/pahana-edu/bookshop-checkout/internal/ratelimit"
	"github.com/pahana-edu/bookshop-checkout/internal/security"
)

// routes carries everything the router mounts.
type routes struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	BodyLimit      int64
	Tracing        bool
	HTTPMetrics    *obs.HTTPMetrics
	IPLimit        func(http.Handler) http.Handler
	CheckoutLimit  ratelimit.Handler
	Idem           common.Idem
	Auth           auth.Middleware
	Health         health.Handler
	Checkout       *checkout.Handler
	Orders         *order.Handler
	Reports        *analytics.Handler
	Pprof          http.Handler
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rt.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rt.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rt.Logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(rt.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Total-Count", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if rt.HTTPMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if rt.Pprof != nil {
		r.Mount("/debug/pprof", rt.Pprof)
	}
	r.Get("/health/live", rt.Health.Live)
	r.Get("/health/ready", rt.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		if rt.IPLimit != nil {
			v.Use(rt.IPLimit)
		}
		v.Use(security.BodyLimit{Max: rt.BodyLimit}.Middleware)
		v.Use(rt.Auth.RequireAuth)

		v.Route("/checkout", func(c chi.Router) {
			c.Get("/options", rt.Checkout.Options)
			c.Post("/quote", rt.Checkout.Quote)
			c.With(rt.CheckoutLimit.Middleware, rt.Idem.Middleware).Post("/orders", rt.Checkout.PlaceOrder)
		})

		v.Get("/orders", rt.Orders.List)
		v.Get("/orders/{reference}", rt.Orders.Get)

		v.Route("/reports", func(rep chi.Router) {
			rep.Use(auth.RequireAdmin)
			rep.Get("/sales", rt.Reports.Sales)
			rep.Get("/products", rt.Reports.TopProducts)
		})
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
