package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/halwright/gatesync/internal/infrastructure/httpclient"
)

const (
	// tokenCacheKey is the single cache key for the account credential.
	tokenCacheKey = "token"

	// tokenSafetyMargin is subtracted from the declared lifetime so a token
	// is never served within moments of its expiry.
	tokenSafetyMargin = 30 * time.Second

	// defaultTokenLifetime applies when the login response declares no
	// lifetime and the token carries no usable exp claim.
	defaultTokenLifetime = 10 * time.Minute
)

// credential is an issued bearer token with its usable lifetime.
type credential struct {
	token    string
	lifetime time.Duration
}

// loginRequest is the credential exchange payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the credential exchange result. ExpiresIn is optional;
// older controller firmware omits it.
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// getToken returns a usable bearer token, logging in on cache miss.
//
// The credential caches under a single key with TTL = lifetime minus the
// safety margin, so concurrent calls collapse into one login and a token is
// reacquired shortly before it would expire. Acquisition failures propagate
// uncached.
func (c *Client) getToken(ctx context.Context) (string, error) {
	cred, err := c.tokens.Wrap(ctx, tokenCacheKey, c.login, credentialTTL)
	if err != nil {
		return "", err
	}
	return cred.token, nil
}

// invalidateToken drops the cached credential so the next call logs in
// afresh. Called on any 401 from the controller.
func (c *Client) invalidateToken() {
	c.tokens.Delete(tokenCacheKey)
}

// login performs the credential exchange.
func (c *Client) login(ctx context.Context) (credential, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return credential{}, ErrMissingCredentials
	}

	body, err := json.Marshal(loginRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	})
	if err != nil {
		return credential{}, fmt.Errorf("marshalling login request: %w", err)
	}

	resp, err := c.executor.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/api/v1/auth/login",
		Header: jsonHeader(),
		Body:   body,
	})
	if err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized) || httpclient.IsStatus(err, http.StatusForbidden) {
			return credential{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return credential{}, fmt.Errorf("logging in: %w", err)
	}

	var login loginResponse
	if err := json.Unmarshal(resp.Body, &login); err != nil {
		return credential{}, fmt.Errorf("%w: login response: %w", ErrMalformedPayload, err)
	}
	if login.Token == "" {
		return credential{}, fmt.Errorf("%w: login response carries no token", ErrMalformedPayload)
	}

	lifetime := time.Duration(login.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = lifetimeFromJWT(login.Token, c.now())
	}

	c.logger.Debug("credential acquired", "lifetime", lifetime)
	return credential{token: login.Token, lifetime: lifetime}, nil
}

// credentialTTL converts a credential's lifetime into a cache TTL. A
// lifetime at or below the safety margin yields no caching at all, which is
// correct: such a token is barely usable and must not be served stale.
func credentialTTL(cred credential) time.Duration {
	return cred.lifetime - tokenSafetyMargin
}

// lifetimeFromJWT derives a lifetime from the token's exp claim when the
// login response declared none. The parse is unverified: the token is
// opaque to this client and only the controller validates it. Tokens that
// are not JWTs, or carry no exp, get the conservative default.
func lifetimeFromJWT(token string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return defaultTokenLifetime
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return defaultTokenLifetime
	}
	lifetime := exp.Sub(now)
	if lifetime <= 0 {
		return defaultTokenLifetime
	}
	return lifetime
}
