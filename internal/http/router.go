package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tileview/internal/telemetry"
)

// NewRouter registers the API routes and wraps them in the CORS and request
// logging middlewares. With tracing enabled every request also gets a span.
func NewRouter(h *Handlers, tracing bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/viewport", h.HandleViewport)
	mux.HandleFunc("GET /api/tiles/{z}/{x}/{file}", h.HandleTile)
	mux.HandleFunc("DELETE /api/cache", h.HandleClearCache)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if tracing {
		handler = telemetry.Middleware(handler)
	}

	return h.CORSMiddleware(h.RequestLoggingMiddleware(handler))
}
