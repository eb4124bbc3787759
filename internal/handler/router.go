package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iremturen/stofina-sub001/internal/service"
)

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. The account routes are only
// mounted when accountSvc is non-nil, that is when the ledger runs in-process.
func NewRouter(
	orderSvc *service.OrderService,
	marketSvc *service.MarketService,
	accountSvc *service.AccountService,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	orderH := NewOrderHandler(orderSvc)
	marketH := NewMarketHandler(marketSvc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Order routes.
	r.Post("/orders", orderH.SubmitOrder)
	r.Route("/orders/{order_id}", func(r chi.Router) {
		r.Get("/", orderH.GetOrder)
		r.Patch("/", orderH.AmendOrder)
		r.Delete("/", orderH.CancelOrder)
		r.Get("/watcher", orderH.GetWatcher)
	})
	r.Get("/accounts/{account_id}/orders", orderH.ListOrders)

	// Account routes.
	if accountSvc != nil {
		accountH := NewAccountHandler(accountSvc)
		r.Post("/accounts", accountH.Open)
		r.Get("/accounts/{account_id}", accountH.GetBalance)
	}

	// Market routes.
	r.Get("/stocks/{symbol}/book", marketH.GetBook)
	r.Get("/stocks/{symbol}/price", marketH.GetPrice)
	r.Get("/market/phase", marketH.GetPhase)

	return r
}

// requestLogging logs each request with its chi route pattern, status and
// duration. Health probes log at debug and server errors at warn.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case r.URL.Path == "/healthz":
				level = slog.LevelDebug
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON rejects bodies on POST, PUT and PATCH that are not
// declared as application/json.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
