package longpoll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tributary-io/tributary/internal/transport"
)

// CredentialProvider supplies bearer tokens for platform requests.
type CredentialProvider interface {
	// Token returns a token expected to be valid for at least the next request.
	Token(ctx context.Context) (string, error)

	// Invalidate discards any cached token after the platform rejects it,
	// forcing a fresh acquisition on the next call.
	Invalidate()
}

// StaticTokenProvider serves a fixed, long-lived token (e.g. a per-account
// bot token from the account's config file).
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider around a fixed token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", errors.New("no token configured")
	}
	return p.token, nil
}

// Invalidate is a no-op: a static token cannot be refreshed. A rejection will
// surface again on the next fetch as an auth error.
func (p *StaticTokenProvider) Invalidate() {}

// refreshMargin is how long before expiry a cached token stops being served,
// so a token never expires mid-flight during a long poll.
const refreshMargin = 2 * time.Minute

// ExchangeProvider trades app credentials for short-lived access tokens via
// the platform's token endpoint and caches them until close to expiry.
//
// All polling sessions sharing one set of app credentials share one provider;
// concurrent refreshes are deduped through singleflight so N sessions waking
// up to an expired token trigger a single exchange.
type ExchangeProvider struct {
	baseURL   string
	appID     string
	appSecret string
	client    *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	exchangeGroup singleflight.Group // Dedupe concurrent token exchanges

	now func() time.Time
}

// NewExchangeProvider creates a provider that exchanges the given app
// credentials at {baseURL}/v1/auth/token. A nil httpClient uses a default
// with a 30s timeout.
func NewExchangeProvider(baseURL, appID, appSecret string, httpClient *http.Client) *ExchangeProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ExchangeProvider{
		baseURL:   baseURL,
		appID:     appID,
		appSecret: appSecret,
		client:    httpClient,
		now:       time.Now,
	}
}

// Token returns the cached token, exchanging credentials for a fresh one when
// the cache is empty or within refreshMargin of expiry.
func (p *ExchangeProvider) Token(ctx context.Context) (string, error) {
	// Check cache first
	p.mu.RLock()
	if p.token != "" && p.now().Before(p.expiresAt.Add(-refreshMargin)) {
		token := p.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	// Use singleflight to dedupe concurrent exchanges
	result, err, _ := p.exchangeGroup.Do("token", func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		p.mu.RLock()
		if p.token != "" && p.now().Before(p.expiresAt.Add(-refreshMargin)) {
			token := p.token
			p.mu.RUnlock()
			return token, nil
		}
		p.mu.RUnlock()

		token, expiresIn, err := p.exchange(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.token = token
		p.expiresAt = p.now().Add(expiresIn)
		p.mu.Unlock()

		slog.Debug("[LongPoll] Exchanged app credentials for access token", "expires_in", expiresIn)
		return token, nil
	})

	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// Invalidate drops the cached token, typically after a 401 from the platform.
func (p *ExchangeProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// exchange performs one credential exchange against the token endpoint.
func (p *ExchangeProvider) exchange(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(tokenRequest{AppID: p.appID, AppSecret: p.appSecret})
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, &transport.Error{Kind: transport.KindNetwork, Message: "token exchange request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", 0, &transport.Error{
			Kind:       transport.KindAuth,
			Message:    "app credentials rejected",
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return "", 0, &transport.Error{
			Kind:       transport.KindServer,
			Message:    "token endpoint unavailable",
			StatusCode: resp.StatusCode,
		}
	default:
		return "", 0, &transport.Error{
			Kind:       transport.KindProtocol,
			Message:    fmt.Sprintf("unexpected token endpoint status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, &transport.Error{
			Kind:       transport.KindProtocol,
			Message:    "undecodable token response",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", 0, &transport.Error{
			Kind:       transport.KindProtocol,
			Message:    "token response missing access_token or expires_in",
			StatusCode: resp.StatusCode,
		}
	}

	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
