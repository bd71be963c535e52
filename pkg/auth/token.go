// Package auth manages the application token used to authenticate platform
// requests: credential exchange, caching with a safety margin, and refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// TokenPath is the credential exchange endpoint.
const TokenPath = "/auth/v1/appToken"

// ErrCredentialsRequired is returned when client id or secret is empty.
var ErrCredentialsRequired = errors.New("client id and client secret are required")

// Credentials identify the application. They are immutable after construction.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrCredentialsRequired
	}
	return nil
}

// Token is a cached access token and its absolute expiry.
type Token struct {
	AccessToken string
	ExpireTime  time.Time
}

// ValidAt reports whether the token is still usable at now with margin to spare.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && !now.Add(margin).After(t.ExpireTime)
}

// Remaining returns the validity left at now, or zero once lapsed.
func (t Token) Remaining(now time.Time) time.Duration {
	d := t.ExpireTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// AuthenticationError is returned when the token endpoint rejects the credentials.
type AuthenticationError struct {
	Code    transport.Code
	Message string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s (code: %s)", e.Message, e.Code)
}

// IsAuthenticationError reports whether err is, or wraps, an *AuthenticationError.
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// Exchanger trades credentials for a token.
type Exchanger interface {
	Exchange(ctx context.Context, creds Credentials) (*Token, error)
}

// Doer is the part of transport.Executor used by HTTPExchanger.
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Envelope, error)
}

// HTTPExchanger exchanges credentials against the platform token endpoint.
type HTTPExchanger struct {
	doer Doer
}

// NewHTTPExchanger creates an exchanger using doer.
func NewHTTPExchanger(doer Doer) *HTTPExchanger {
	return &HTTPExchanger{doer: doer}
}

type tokenData struct {
	AccessToken string `json:"accessToken"`
	// ExpireTime is an absolute Unix timestamp in milliseconds.
	ExpireTime int64 `json:"expireTime"`
}

// Exchange posts the credentials and converts the response into a Token.
// A non-zero response code becomes an *AuthenticationError.
func (x *HTTPExchanger) Exchange(ctx context.Context, creds Credentials) (*Token, error) {
	env, err := x.doer.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   TokenPath,
		Route:  "app_token",
		Body:   creds,
	})
	if err != nil {
		var appErr *transport.ApplicationError
		if errors.As(err, &appErr) {
			return nil, &AuthenticationError{Code: appErr.Code, Message: appErr.Msg}
		}
		return nil, fmt.Errorf("exchange app token: %w", err)
	}

	var data tokenData
	if err := env.Decode(&data); err != nil {
		return nil, fmt.Errorf("exchange app token: %w", err)
	}
	if data.AccessToken == "" {
		return nil, &AuthenticationError{Code: env.Code, Message: "empty access token in response"}
	}

	return &Token{
		AccessToken: data.AccessToken,
		ExpireTime:  time.UnixMilli(data.ExpireTime),
	}, nil
}
