package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger hands out numbered tokens valid for ttl from the fake clock.
type fakeExchanger struct {
	calls atomic.Int32
	ttl   time.Duration
	now   func() time.Time
	err   error
}

func (f *fakeExchanger) Exchange(ctx context.Context, creds Credentials) (*Token, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Token{
		AccessToken: "token-" + string(rune('0'+n)),
		ExpireTime:  f.now().Add(f.ttl),
	}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(ttl time.Duration, opts ...Option) (*Manager, *fakeExchanger, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{ttl: ttl, now: clock.Now}
	opts = append([]Option{WithClock(clock.Now), WithLogger(zerolog.Nop())}, opts...)
	return NewManager(Credentials{ClientID: "id", ClientSecret: "secret"}, ex, opts...), ex, clock
}

func TestManager_EnsureValid_ExchangesWhenEmpty(t *testing.T) {
	m, ex, _ := newTestManager(2 * time.Hour)

	_, ok := m.Token()
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), m.RemainingValidity())

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.EqualValues(t, 1, ex.calls.Load())
	assert.Equal(t, "token-1", m.AccessToken())
	assert.Equal(t, 2*time.Hour, m.RemainingValidity())
}

func TestManager_EnsureValid_NoExchangeWhileValid(t *testing.T) {
	m, ex, clock := newTestManager(2 * time.Hour)
	require.NoError(t, m.EnsureValid(context.Background()))

	for i := 0; i < 50; i++ {
		clock.Advance(time.Minute)
		require.NoError(t, m.EnsureValid(context.Background()))
	}

	// 50 minutes in, the token still has 70 minutes left.
	assert.EqualValues(t, 1, ex.calls.Load())
	assert.Equal(t, "token-1", m.AccessToken())
}

func TestManager_EnsureValid_SafetyMargin(t *testing.T) {
	tests := []struct {
		name         string
		advance      time.Duration
		wantExchange bool
	}{
		{name: "well before margin", advance: 30 * time.Minute, wantExchange: false},
		{name: "exactly at margin", advance: 59 * time.Minute, wantExchange: false},
		{name: "inside margin", advance: 59*time.Minute + time.Millisecond, wantExchange: true},
		{name: "expired", advance: 2 * time.Hour, wantExchange: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ex, clock := newTestManager(time.Hour)
			require.NoError(t, m.EnsureValid(context.Background()))

			clock.Advance(tt.advance)
			require.NoError(t, m.EnsureValid(context.Background()))

			want := int32(1)
			if tt.wantExchange {
				want = 2
			}
			assert.Equal(t, want, ex.calls.Load())
		})
	}
}

func TestManager_EnsureValid_CacheDisabledExchangesEveryCall(t *testing.T) {
	m, ex, _ := newTestManager(24*time.Hour, WithDisableCache(true))
	assert.True(t, m.CacheDisabled())

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.EnsureValid(context.Background()))
		assert.EqualValues(t, i, ex.calls.Load())
	}
}

func TestManager_ExchangeFailureKeepsPreviousToken(t *testing.T) {
	m, ex, clock := newTestManager(time.Hour)
	require.NoError(t, m.EnsureValid(context.Background()))
	before, _ := m.Token()

	ex.err = &AuthenticationError{Code: "1", Message: "bad secret"}
	clock.Advance(time.Hour + time.Minute)

	err := m.EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))

	after, ok := m.Token()
	require.True(t, ok, "stale token must stay cached")
	assert.Equal(t, before, after)
	assert.Equal(t, time.Duration(0), m.RemainingValidity())
}

func TestManager_ExchangeFailureWithoutToken(t *testing.T) {
	m, ex, _ := newTestManager(time.Hour)
	ex.err = errors.New("connection refused")

	require.Error(t, m.Exchange(context.Background()))
	_, ok := m.Token()
	assert.False(t, ok)
	assert.Empty(t, m.AccessToken())
}

func TestManager_ExchangeIsUnconditional(t *testing.T) {
	m, ex, _ := newTestManager(time.Hour)
	require.NoError(t, m.Exchange(context.Background()))
	require.NoError(t, m.Exchange(context.Background()))

	assert.EqualValues(t, 2, ex.calls.Load())
	assert.Equal(t, "token-2", m.AccessToken())
}

func TestManager_Invalidate(t *testing.T) {
	m, ex, _ := newTestManager(time.Hour)
	require.NoError(t, m.EnsureValid(context.Background()))

	m.Invalidate()
	assert.Empty(t, m.AccessToken())

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.EqualValues(t, 2, ex.calls.Load())
}

func TestManager_ConcurrentEnsureValidSingleRefresh(t *testing.T) {
	m, ex, _ := newTestManager(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.EnsureValid(context.Background()))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ex.calls.Load())
}

func TestToken_ValidAtAndRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := Token{AccessToken: "t", ExpireTime: now.Add(90 * time.Second)}

	assert.True(t, tok.ValidAt(now, time.Minute))
	assert.False(t, tok.ValidAt(now.Add(31*time.Second), time.Minute))
	assert.Equal(t, 90*time.Second, tok.Remaining(now))
	assert.Equal(t, time.Duration(0), tok.Remaining(now.Add(time.Hour)))
	assert.False(t, Token{ExpireTime: now.Add(time.Hour)}.ValidAt(now, 0), "empty token is never valid")
}

func TestCredentials_Validate(t *testing.T) {
	assert.NoError(t, Credentials{ClientID: "a", ClientSecret: "b"}.Validate())
	assert.ErrorIs(t, Credentials{ClientID: "a"}.Validate(), ErrCredentialsRequired)
	assert.ErrorIs(t, Credentials{ClientSecret: "b"}.Validate(), ErrCredentialsRequired)
}
