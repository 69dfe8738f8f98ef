package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const (
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	// expiryWindow is how long a cached token must remain valid to be reused.
	expiryWindow = 30 * time.Second
	// defaultLifetime applies when the token response omits expires_in.
	defaultLifetime = 3600 * time.Second
)

// RefreshSecret is the long-lived credential triple used to mint access tokens.
type RefreshSecret struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Complete reports whether every field is set.
func (s RefreshSecret) Complete() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// TokenRefreshError is returned when the authorization server rejects a refresh.
type TokenRefreshError struct {
	StatusCode int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", shared.ErrRefreshFailed, e.StatusCode, e.Body)
}

func (e *TokenRefreshError) Unwrap() error {
	return shared.ErrRefreshFailed
}

// Option configures a [TokenCache].
type Option func(*TokenCache)

// WithHTTPClient sets the client used for refresh requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *TokenCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTokenURL overrides the authorization server token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *TokenCache) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
	}
}

// WithStaticToken seeds the cache with an access token of unknown expiry.
//
// The token is treated as stale: it is refreshed on first use when a refresh secret is present,
// and served as-is otherwise.
func WithStaticToken(accessToken string) Option {
	return func(c *TokenCache) {
		if accessToken != "" {
			c.token = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
		}
	}
}

// WithClock replaces [time.Now].
func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *TokenCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// TokenCache owns the process's current bearer token and refreshes it on demand.
//
// The mutex is held across a refresh so concurrent callers wait for the single in-flight request
// instead of issuing their own. The cached token is only ever replaced as a whole value.
type TokenCache struct {
	secret   RefreshSecret
	tokenURL string
	client   *http.Client
	now      func() time.Time
	logger   *log.Logger

	mu         sync.Mutex
	token      *oauth2.Token
	staticWarn sync.Once
}

// NewTokenCache creates a TokenCache for the given refresh secret.
func NewTokenCache(secret RefreshSecret, opts ...Option) *TokenCache {
	c := &TokenCache{
		secret:   secret,
		tokenURL: DefaultTokenURL,
		client:   http.DefaultClient,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a bearer token usable for at least another 30 seconds.
//
// Without a complete refresh secret the cached token is returned whatever its age, and
// [shared.ErrNoCredentials] is returned when there is none.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fresh() {
		return c.token.AccessToken, nil
	}

	if !c.secret.Complete() {
		if c.token == nil || c.token.AccessToken == "" {
			return "", fmt.Errorf("%w: set SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET and SPOTIFY_REFRESH_TOKEN or run --setup", shared.ErrNoCredentials)
		}
		c.staticWarn.Do(func() {
			c.logger.Warn("no refresh secret configured, using static access token")
		})
		return c.token.AccessToken, nil
	}

	token, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token.AccessToken, nil
}

// Current returns a copy of the cached token, or nil.
func (c *TokenCache) Current() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	t := *c.token
	return &t
}

// Invalidate marks the cached token stale so the next [TokenCache.Token] call refreshes it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return
	}
	t := *c.token
	t.Expiry = time.Time{}
	c.token = &t
}

func (c *TokenCache) fresh() bool {
	if c.token == nil || c.token.AccessToken == "" || c.token.Expiry.IsZero() {
		return false
	}
	return c.token.Expiry.After(c.now().Add(expiryWindow))
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// refresh performs a single refresh_token grant. No retries.
func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.secret.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.secret.ClientID, c.secret.ClientSecret)

	started := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("token refresh rejected", "status", resp.StatusCode)
		return nil, &TokenRefreshError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", shared.ErrRefreshFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", shared.ErrRefreshFailed)
	}

	lifetime := defaultLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}

	if tr.RefreshToken != "" && tr.RefreshToken != c.secret.RefreshToken {
		c.logger.Warn("authorization server issued a new refresh token; run --setup to persist it")
	}

	token := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: c.secret.RefreshToken,
		Expiry:       started.Add(lifetime),
	}
	c.logger.Debug("access token refreshed", "expires_in", lifetime, "scope", tr.Scope)

	return token, nil
}
