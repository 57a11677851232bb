package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"tileview/internal/metrics"
)

const tracerName = "tileview/internal/retriever"

// maxTileBytes caps a single response body.
const maxTileBytes = 16 << 20

var ErrUnexpectedStatus = errors.New("unexpected upstream status")

type HTTPConfig struct {
	// URLTemplate contains {z}, {x} and {y} placeholders,
	// e.g. https://tile.openstreetmap.org/{z}/{x}/{y}.png
	URLTemplate string
	UserAgent   string
	Referer     string
	Timeout     time.Duration
	// RateLimit is the number of requests per second; zero disables it.
	RateLimit float64
	Burst     int
}

// HTTPRetriever fetches tiles from an XYZ tile server.
type HTTPRetriever struct {
	baseCtx   context.Context
	client    *http.Client
	limiter   *FetchLimiter
	rate      *rate.Limiter
	template  string
	userAgent string
	referer   string
	tracer    trace.Tracer
}

type HTTPOption func(*HTTPRetriever)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRetriever) {
		r.client = client
	}
}

// WithBaseContext bounds every fetch by ctx. Cancelling it aborts fetches
// that have not completed, which is meant for process shutdown.
func WithBaseContext(ctx context.Context) HTTPOption {
	return func(r *HTTPRetriever) {
		r.baseCtx = ctx
	}
}

func NewHTTPRetriever(cfg HTTPConfig, limiter *FetchLimiter, opts ...HTTPOption) (*HTTPRetriever, error) {
	if limiter == nil {
		return nil, errors.New("fetch limiter is required")
	}
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(cfg.URLTemplate, placeholder) {
			return nil, fmt.Errorf("url template %q is missing %s", cfg.URLTemplate, placeholder)
		}
	}
	if _, err := url.Parse(fillURL(cfg.URLTemplate, 0, 0, 0)); err != nil {
		return nil, fmt.Errorf("invalid url template: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "tileview/1.0"
	}

	r := &HTTPRetriever{
		baseCtx:   context.Background(),
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		template:  cfg.URLTemplate,
		userAgent: userAgent,
		referer:   cfg.Referer,
		tracer:    otel.Tracer(tracerName),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.rate = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func fillURL(template string, z, x, y int) string {
	u := strings.ReplaceAll(template, "{z}", strconv.Itoa(z))
	u = strings.ReplaceAll(u, "{x}", strconv.Itoa(x))
	return strings.ReplaceAll(u, "{y}", strconv.Itoa(y))
}

// URLFor returns the upstream URL of a tile.
func (r *HTTPRetriever) URLFor(zoom, x, y int) string {
	return fillURL(r.template, zoom, x, y)
}

func (r *HTTPRetriever) LoadTile(zoom, x, y int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		data, err := r.fetch(zoom, x, y)
		ch <- Result{Data: data, Err: err}
	}()
	return ch
}

func (r *HTTPRetriever) fetch(zoom, x, y int) ([]byte, error) {
	ctx, span := r.tracer.Start(r.baseCtx, "retriever.LoadTile",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("tile.zoom", zoom),
			attribute.Int("tile.x", x),
			attribute.Int("tile.y", y),
		),
	)
	defer span.End()

	var data []byte
	err := r.limiter.Do(ctx, func(ctx context.Context) error {
		if r.rate != nil {
			if err := r.rate.Wait(ctx); err != nil {
				return err
			}
		}

		var err error
		data, err = r.get(ctx, r.URLFor(zoom, x, y))
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("tile.bytes", len(data)))
	span.SetStatus(codes.Ok, "")
	return data, nil
}

func (r *HTTPRetriever) get(ctx context.Context, tileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	if r.referer != "" {
		req.Header.Set("Referer", r.referer)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch %s: %w", tileURL, err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode/100) + "xx").Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, tileURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty tile body for %s", tileURL)
	}
	return data, nil
}
