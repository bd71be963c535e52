package auth

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for token lifecycle.
var (
	tokenExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apaas_token_exchanges_total",
		Help: "Total credential exchanges by result",
	}, []string{"result"})

	tokenRemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apaas_token_remaining_seconds",
		Help: "Validity left on the cached token at the last exchange",
	})
)

// DefaultSafetyMargin is how long before expiry a cached token is replaced.
const DefaultSafetyMargin = 60 * time.Second

// Manager owns the cached token. EnsureValid is cheap while the token is valid
// beyond the safety margin and performs a synchronous exchange otherwise.
type Manager struct {
	creds        Credentials
	exchanger    Exchanger
	disableCache bool
	margin       time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu    sync.RWMutex
	token *Token

	// refreshMu serialises exchanges so concurrent callers observing a stale
	// token trigger a single refresh.
	refreshMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithDisableCache forces an exchange on every EnsureValid call.
func WithDisableCache(disable bool) Option {
	return func(m *Manager) {
		m.disableCache = disable
	}
}

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) Option {
	return func(m *Manager) {
		m.margin = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a token manager. No exchange happens until EnsureValid or Exchange.
func NewManager(creds Credentials, exchanger Exchanger, opts ...Option) *Manager {
	m := &Manager{
		creds:     creds,
		exchanger: exchanger,
		margin:    DefaultSafetyMargin,
		now:       time.Now,
		logger:    log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValid exchanges credentials when caching is disabled, when no token is
// cached, or when the cached token expires within the safety margin.
func (m *Manager) EnsureValid(ctx context.Context) error {
	if !m.disableCache && m.valid() {
		return nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if !m.disableCache && m.valid() {
		return nil
	}

	return m.exchangeLocked(ctx)
}

// Exchange performs a credential exchange unconditionally. On failure the
// previously cached token, if any, is kept.
func (m *Manager) Exchange(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	return m.exchangeLocked(ctx)
}

func (m *Manager) exchangeLocked(ctx context.Context) error {
	start := m.now()
	token, err := m.exchanger.Exchange(ctx, m.creds)
	if err != nil {
		result := "error"
		if IsAuthenticationError(err) {
			result = "rejected"
		}
		tokenExchangesTotal.WithLabelValues(result).Inc()
		m.logger.Error().
			Err(err).
			Str("client_id", m.creds.ClientID).
			Msg("Token exchange failed")
		return err
	}

	m.mu.Lock()
	m.token = &Token{AccessToken: token.AccessToken, ExpireTime: token.ExpireTime}
	m.mu.Unlock()

	remaining := token.Remaining(m.now())
	tokenExchangesTotal.WithLabelValues("success").Inc()
	tokenRemainingSeconds.Set(remaining.Seconds())

	m.logger.Info().
		Str("client_id", m.creds.ClientID).
		Time("expire_time", token.ExpireTime).
		Dur("remaining", remaining).
		Dur("duration", m.now().Sub(start)).
		Msg("Token exchanged")

	return nil
}

func (m *Manager) valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.token != nil && m.token.ValidAt(m.now(), m.margin)
}

// AccessToken returns the cached token, or "" when none is cached.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return ""
	}
	return m.token.AccessToken
}

// Token returns a copy of the cached token.
func (m *Manager) Token() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return Token{}, false
	}
	return *m.token, true
}

// RemainingValidity returns max(0, expireTime - now), or zero when no token is cached.
func (m *Manager) RemainingValidity() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return 0
	}
	return m.token.Remaining(m.now())
}

// CacheDisabled reports whether every EnsureValid call exchanges.
func (m *Manager) CacheDisabled() bool {
	return m.disableCache
}

// Invalidate drops the cached token so the next EnsureValid exchanges.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()

	m.logger.Debug().Msg("Cached token invalidated")
}
