package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/services"
)

// Options configures a Server. Zero values pick the defaults noted per field.
type Options struct {
	// CORSAllowedOrigins defaults to "*".
	CORSAllowedOrigins []string
	MetricsEnabled     bool
	Metrics            *metrics.Metrics
	Logger             *log.Logger
	// Ready reports whether the plan source is reachable. Nil means always ready.
	Ready func(ctx context.Context) error
	// RequestTimeout defaults to 30s.
	RequestTimeout time.Duration
	// RateLimit caps write requests per client per window; 0 means 60, <0 disables.
	RateLimit int
	// RateLimitWindow defaults to one minute.
	RateLimitWindow time.Duration
}

type Server struct {
	http.Server
	svc         *services.AllocationService
	metrics     *metrics.Metrics
	logger      *log.Logger
	events      *log.StructuredLogger
	ready       func(context.Context) error
	rateLimiter *rateLimiter
	security    securityMetrics
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc *services.AllocationService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := opts.RateLimit
	if limit == 0 {
		limit = 60
	}
	window := opts.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		svc:         svc,
		metrics:     opts.Metrics,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		ready:       opts.Ready,
		rateLimiter: newRateLimiter(limit, window),
		started:     time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withRequestLogging)
	r.Use(securityHeaders)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", s.handleListPlans)
		r.Get("/plan", s.handleGetPlan)
		r.Post("/allocations", s.handleAllocate)

		r.Get("/plans/{name}", s.handleGetPlan)
		r.Put("/plans/{name}", s.handleSavePlan)
		r.Delete("/plans/{name}", s.handleDeletePlan)
		r.Post("/plans/{name}/allocations", s.handleAllocate)
	})

	if opts.MetricsEnabled && opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no route for " + r.URL.Path).Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method "+r.Method+" not allowed").Write(w)
	})

	// When AllowedOrigins is "*", AllowCredentials must stay false.
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: false,
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// withRequestLogging attaches a request-scoped logger, applies rate limiting
// to writes, and records every request in the log and the HTTP metrics.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := middleware.GetReqID(r.Context())

		logger := s.logger.With(log.FieldRequestID, requestID, log.FieldClientIP, clientIP)
		ctx := log.NewContext(r.Context(), logger)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, &s.security) {
			logger.WarnContext(ctx, "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		if isWrite(r.Method) && !s.rateLimiter.allow(clientIP, &s.security) {
			logger.WarnContext(ctx, "Rate limit exceeded", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			TooManyRequestsError(strconv.Itoa(s.rateLimiter.retryAfterSeconds(clientIP))).Write(ww)
		} else {
			next.ServeHTTP(ww, r)
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		s.events.LogHTTPEnd(ctx, r, status, elapsed.Milliseconds(), clientIP)
	})
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
}
