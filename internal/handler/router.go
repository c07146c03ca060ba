package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/aaroh/backend/internal/handler/practice"
	"github.com/zhouzirui/aaroh/backend/internal/handler/sessions"
	"github.com/zhouzirui/aaroh/backend/internal/metrics"
	"github.com/zhouzirui/aaroh/backend/pkg/utils"
)

// Options 汇总路由依赖。Gatherer 为空时使用默认注册表。
type Options struct {
	Coordinator practice.Coordinator
	Sessions    sessions.Tracker
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(withMetrics(opts.Metrics))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":  "healthy",
				"service": "practice",
			})
		})

		if opts.Sessions != nil {
			sessions.New(opts.Sessions).RegisterRoutes(api)
		}

		if opts.Coordinator != nil {
			practice.NewWebSocketHandler(opts.Coordinator, opts.Logger).RegisterRoutes(api)
		} else {
			api.Get("/practice/ws", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "practice sessions unavailable")
			})
		}
	})

	return r
}

// withMetrics 记录请求数与耗时，路由标签使用 chi 的路由模式以避免高基数。
func withMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
		})
	}
}
