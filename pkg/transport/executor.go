// Package transport issues platform HTTP calls and interprets the response
// envelope. It never retries: every failure is returned to the caller as a
// TransportError or an ApplicationError.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for platform requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apaas_requests_total",
		Help: "Total platform requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apaas_request_duration_seconds",
		Help:    "Platform request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apaas_errors_total",
		Help: "Total platform errors by class",
	}, []string{"class"})
)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second

	// HeaderAuthorization carries the raw cached token.
	HeaderAuthorization = "Authorization"

	// HeaderRequestID correlates client logs with platform logs.
	HeaderRequestID = "X-Request-Id"

	// maxErrorBody limits how much of an unparseable body ends up in an error.
	maxErrorBody = 512
)

// Request describes one platform call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is appended to the executor's base URL.
	Path string

	// Route is a low-cardinality name used for metrics and logs (e.g. "records_query").
	// Defaults to Path.
	Route string

	// Body is JSON encoded when non-nil.
	Body any

	// Token is sent verbatim in the Authorization header when non-empty.
	Token string
}

// Executor sends Requests and classifies their outcome.
type Executor struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(e *Executor) {
		e.userAgent = ua
	}
}

// WithLogger sets the executor logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor for baseURL.
func NewExecutor(baseURL string, opts ...Option) *Executor {
	e := &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BaseURL returns the URL every request path is appended to.
func (e *Executor) BaseURL() string {
	return e.baseURL
}

// Do performs req and returns the successful envelope.
func (e *Executor) Do(ctx context.Context, req *Request) (*Envelope, error) {
	route := req.Route
	if route == "" {
		route = req.Path
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	httpReq, err := e.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With().
		Str("route", route).
		Str("method", req.Method).
		Str("request_id", httpReq.Header.Get(HeaderRequestID)).
		Logger()
	logger.Debug().Str("path", req.Path).Msg("Executing platform request")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		logger.Error().Err(err).Msg("HTTP request failed")
		return nil, &TransportError{
			Method: req.Method,
			Path:   req.Path,
			Class:  ErrorClassNetwork,
			Err:    fmt.Errorf("%w: %v", ErrNetwork, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		return nil, &TransportError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Err:        fmt.Errorf("%w: read body: %v", ErrNetwork, err),
		}
	}

	env, ok := parseEnvelope(body)
	requestsTotal.WithLabelValues(route, codeLabel(resp.StatusCode, env)).Inc()

	if !ok {
		class, sentinel := ErrorClassDecode, ErrDecode
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			class, sentinel = ErrorClassHTTP, ErrHTTPStatus
		}
		errorsTotal.WithLabelValues(string(class)).Inc()

		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Platform response is not an envelope")

		return nil, &TransportError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Class:      class,
			Err:        fmt.Errorf("%w: %s", sentinel, truncate(body)),
		}
	}

	if !env.Code.IsSuccess() {
		errorsTotal.WithLabelValues(string(ErrorClassApplication)).Inc()

		logger.Warn().
			Int("status", resp.StatusCode).
			Str("code", string(env.Code)).
			Str("msg", env.Msg).
			Msg("Platform returned application error")

		return nil, &ApplicationError{
			Code:       env.Code,
			Msg:        env.Msg,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorsTotal.WithLabelValues(string(ErrorClassHTTP)).Inc()

		logger.Warn().
			Int("status", resp.StatusCode).
			Msg("Platform returned success code with failing HTTP status")

		return nil, &TransportError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassHTTP,
			Err:        fmt.Errorf("%w: status %d with success envelope", ErrHTTPStatus, resp.StatusCode),
		}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Platform request succeeded")

	return env, nil
}

func (e *Executor) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, e.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if req.Token != "" {
		httpReq.Header.Set(HeaderAuthorization, req.Token)
	}
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())

	return httpReq, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
