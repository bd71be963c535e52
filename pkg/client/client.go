// Package client provides the aPaaS record client: token management, rate
// limiting, pagination and chunked batch writes behind one facade.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/apaas-client/pkg/auth"
	"github.com/Sternrassler/apaas-client/pkg/cache"
	"github.com/Sternrassler/apaas-client/pkg/logging"
	"github.com/Sternrassler/apaas-client/pkg/ratelimit"
	"github.com/Sternrassler/apaas-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the public OpenAPI gateway of the platform.
	DefaultBaseURL = "https://ae-openapi.feishu.cn"

	// DefaultUserAgent identifies this library.
	DefaultUserAgent = "apaas-client-go/1.0"

	// DefaultMetadataTTL is how long object metadata stays cached.
	DefaultMetadataTTL = 10 * time.Minute
)

// Client is the main aPaaS client. It is safe for concurrent use; all calls
// share one token and one rate limiter.
type Client struct {
	config   Config
	executor *transport.Executor
	tokens   *auth.Manager
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
	logger   zerolog.Logger

	read        *ReadService
	write       *WriteService
	delete      *DeleteService
	metadata    *MetadataService
	departments *DepartmentService
	functions   *FunctionService
}

// Config holds the client configuration.
type Config struct {
	// Credentials of the application (REQUIRED)
	ClientID     string
	ClientSecret string

	// Namespace is the tenant scope baked into every record path (REQUIRED)
	Namespace string

	// DisableTokenCache forces a credential exchange before every call
	DisableTokenCache bool

	// HTTP
	BaseURL     string
	UserAgent   string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client // Overrides HTTPTimeout when set

	// Rate Limiting, shared by every endpoint
	RateLimit ratelimit.Config

	// MaxPages caps QueryAll runs; 0 means unbounded
	MaxPages int

	// Metadata caching, disabled when Redis is nil
	Redis       *redis.Client
	MetadataTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(clientID, clientSecret, namespace string) Config {
	return Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Namespace:    namespace,
		BaseURL:      DefaultBaseURL,
		UserAgent:    DefaultUserAgent,
		HTTPTimeout:  transport.DefaultTimeout,
		RateLimit:    ratelimit.DefaultConfig(),
		MetadataTTL:  DefaultMetadataTTL,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	creds := auth.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidConfig)
	}

	if c.BaseURL == "" {
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid base url %q", ErrInvalidConfig, c.BaseURL)
	}

	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: http timeout must be >= 0 (got %s)", ErrInvalidConfig, c.HTTPTimeout)
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("%w: max pages must be >= 0 (got %d)", ErrInvalidConfig, c.MaxPages)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// New creates a new client. It does not contact the platform; call Init to
// fail fast on bad credentials.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger("client").With().
		Str("namespace", cfg.Namespace).
		Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout == 0 {
			timeout = transport.DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	executor := transport.NewExecutor(cfg.BaseURL,
		transport.WithHTTPClient(httpClient),
		transport.WithUserAgent(userAgent),
	)

	tokens := auth.NewManager(
		auth.Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		auth.NewHTTPExchanger(executor),
		auth.WithDisableCache(cfg.DisableTokenCache),
	)

	limiter, err := ratelimit.New(cfg.RateLimit, logging.NewLogger("ratelimit"))
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	c := &Client{
		config:   cfg,
		executor: executor,
		tokens:   tokens,
		limiter:  limiter,
		logger:   logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis, cfg.MetadataTTL)
	}

	c.read = &ReadService{c: c}
	c.write = &WriteService{c: c}
	c.delete = &DeleteService{c: c}
	c.metadata = &MetadataService{c: c}
	c.departments = &DepartmentService{c: c}
	c.functions = &FunctionService{c: c}

	return c, nil
}

// Init performs the initial credential exchange.
func (c *Client) Init(ctx context.Context) error {
	if err := c.tokens.Exchange(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Client initialisation failed")
		return fmt.Errorf("init: %w", err)
	}
	c.logger.Info().
		Dur("token_remaining", c.tokens.RemainingValidity()).
		Msg("Client initialised")
	return nil
}

// Close stops the rate limiter. Calls still queued fail with ratelimit.ErrLimiterClosed.
func (c *Client) Close() error {
	return c.limiter.Close()
}

// Namespace returns the tenant namespace.
func (c *Client) Namespace() string {
	return c.config.Namespace
}

// AccessToken returns the cached token, or "" when none is held.
func (c *Client) AccessToken() string {
	return c.tokens.AccessToken()
}

// TokenRemaining returns the validity left on the cached token, 0 when absent or lapsed.
func (c *Client) TokenRemaining() time.Duration {
	return c.tokens.RemainingValidity()
}

// RateLimitState returns a snapshot of the shared limiter.
func (c *Client) RateLimitState() ratelimit.State {
	return c.limiter.State()
}

// Read returns the record read operations.
func (c *Client) Read() *ReadService { return c.read }

// Write returns the record create and update operations.
func (c *Client) Write() *WriteService { return c.write }

// Delete returns the record delete operations.
func (c *Client) Delete() *DeleteService { return c.delete }

// Metadata returns the object metadata operations.
func (c *Client) Metadata() *MetadataService { return c.metadata }

// Departments returns the department identifier exchange.
func (c *Client) Departments() *DepartmentService { return c.departments }

// Functions returns the cloud function invocation.
func (c *Client) Functions() *FunctionService { return c.functions }

// call runs req through token validation, the rate limiter and the executor.
func (c *Client) call(ctx context.Context, req *transport.Request) (*transport.Envelope, error) {
	if err := c.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}

	var env *transport.Envelope
	err := c.limiter.Schedule(ctx, func(ctx context.Context) error {
		req.Token = c.tokens.AccessToken()

		c.logger.Debug().
			Str("method", req.Method).
			Str("route", req.Route).
			Msg("Executing platform request")

		var err error
		env, err = c.executor.Do(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// callInto performs req and decodes the envelope data into v.
func (c *Client) callInto(ctx context.Context, req *transport.Request, v any) error {
	env, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return env.Decode(v)
}

func (c *Client) objectPath(object string, parts ...string) string {
	p := "/v1/data/namespaces/" + url.PathEscape(c.config.Namespace) + "/objects/" + url.PathEscape(object)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}
