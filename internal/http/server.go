package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
)

// Services groups what the handlers delegate to.
type Services struct {
	Catalog  CatalogAPI
	Expenses ExpenseAPI
	Reports  ReportAPI
	// Ready is pinged by /readyz. Optional.
	Ready Pinger
}

type Options struct {
	MaxUploadBytes int64
	// WritesPerMinute limits POST requests per client. Zero uses the
	// limiter default.
	WritesPerMinute int
	Logger          *applog.Logger
}

type Server struct {
	http.Server

	catalog  CatalogAPI
	expenses ExpenseAPI
	reports  ReportAPI
	ready    Pinger

	maxUploadBytes int64
	logger         *applog.Logger
	limiter        *ratelimit.Limiter
	detector       *security.Detector
	tracer         *trace.Middleware
	headers        *security.HeadersMiddleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	rlConfig := ratelimit.DefaultConfig()
	if opts.WritesPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.WritesPerMinute
	}

	detector := security.NewDetector()
	s := &Server{
		catalog:        svc.Catalog,
		expenses:       svc.Expenses,
		reports:        svc.Reports,
		ready:          svc.Ready,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger.WithComponent(applog.ComponentHTTP),
		limiter:        ratelimit.NewLimiter(rlConfig),
		detector:       detector,
		tracer:         trace.NewMiddleware(logger, detector.ExtractClientIP),
		headers:        security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	s.registerCatalog(mux)
	mux.Handle("PUT /api/service-orders/{id}/mark-collected", s.wrap(s.handleMarkCollected))
	mux.Handle("GET /api/service-orders/{id}/summary", s.wrap(s.handleServiceOrderSummary))

	mux.Handle("POST /api/expenses", s.wrap(s.handleSubmitExpense))
	mux.Handle("GET /api/expenses", s.wrap(s.handleListExpenses))
	mux.Handle("GET /api/expenses/full", s.wrap(s.handleListExpensesFull))
	mux.Handle("GET /api/expenses/{id}", s.wrap(s.handleGetExpense))
	mux.Handle("DELETE /api/expenses/{id}", s.wrap(s.handleDeleteExpense))
	mux.Handle("GET /api/expenses/{id}/attachments", s.wrap(s.handleListAttachments))

	mux.Handle("GET /api/report", s.wrap(s.handleReport))
	mux.Handle("GET /api/attachments/{key}/signed-url", s.wrap(s.handleSignedURL))
	mux.Handle("GET /files/{token}", s.wrap(s.handleFile))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// wrap applies the per-route chain: tracing, security headers, probe
// detection and rate limiting on writes.
func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit, http.MethodPost)(h)
	return s.tracer.Middleware(s.headers.Middleware(s.flagSuspicious(limited)))
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, s.detector.ExtractClientIP(r),
				applog.FieldPath, r.URL.Path,
				applog.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r), applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later", "").Write(w)
}

// Metrics returns request counters.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown stops background routines and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
