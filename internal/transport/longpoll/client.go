// Package longpoll implements transport.Transport over the platform's HTTP
// long-polling endpoint.
package longpoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
	"github.com/tributary-io/tributary/internal/transport"
)

const (
	// defaultWait is the long-poll hold when the caller passes none.
	defaultWait = 30 * time.Second

	// deadlineGrace covers network and processing overhead beyond the
	// server-side hold, so a quiet poll ends with an empty 200 from the
	// server rather than a client-side timeout.
	deadlineGrace = 10 * time.Second
)

// Config describes one account's connection to the platform.
type Config struct {
	// BaseURL is the platform API root, e.g. "https://api.example.com".
	BaseURL string

	// AccountID is the platform account whose events are fetched.
	AccountID string

	// Limit caps events per batch. Zero lets the server choose.
	Limit int

	// Credentials supplies the bearer token for each request.
	Credentials CredentialProvider

	// HTTPClient overrides the default client. Its Timeout should be zero;
	// per-fetch deadlines are set from the wait parameter.
	HTTPClient *http.Client
}

// Client fetches event batches via HTTP long polling.
type Client struct {
	baseURL   string
	accountID string
	limit     int
	creds     CredentialProvider
	client    *http.Client
}

// NewClient validates cfg and builds a transport for one account.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("account ID is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential provider is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		limit:     cfg.Limit,
		creds:     cfg.Credentials,
		client:    httpClient,
	}, nil
}

// pollResponse is the wire shape of a successful long poll.
type pollResponse struct {
	Events     []*v1.Event `json:"events"`
	NextCursor string      `json:"next_cursor"`
}

// Fetch performs one long poll against /v1/accounts/{id}/events.
//
// The request deadline is wait plus a grace period, so the server drives the
// long-poll clock and a quiet interval returns an empty batch, not a timeout.
func (c *Client) Fetch(ctx context.Context, cursor transport.Cursor, wait time.Duration) (*transport.Batch, error) {
	if wait <= 0 {
		wait = defaultWait
	}

	reqCtx, cancel := context.WithTimeout(ctx, wait+deadlineGrace)
	defer cancel()

	token, err := c.creds.Token(reqCtx)
	if err != nil {
		var te *transport.Error
		if errors.As(err, &te) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &transport.Error{Kind: transport.KindAuth, Message: "credential lookup failed", Err: err}
	}

	req, err := c.buildRequest(reqCtx, cursor, wait, token)
	if err != nil {
		return nil, &transport.Error{Kind: transport.KindProtocol, Message: "failed to build poll request", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The session was cancelled, not the network.
			return nil, ctx.Err()
		}
		return nil, &transport.Error{Kind: transport.KindNetwork, Message: "long poll request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	var pr pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, &transport.Error{
			Kind:       transport.KindProtocol,
			Message:    "undecodable poll response",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	for i, evt := range pr.Events {
		if evt == nil {
			return nil, &transport.Error{
				Kind:    transport.KindProtocol,
				Message: fmt.Sprintf("null event at index %d", i),
			}
		}
		if err := evt.Validate(); err != nil {
			// A frame the platform itself cannot describe is corruption,
			// not traffic; retrying the same cursor would replay it.
			return nil, &transport.Error{
				Kind:    transport.KindProtocol,
				Message: fmt.Sprintf("malformed event at index %d: %v", i, err),
			}
		}
		evt.AccountID = c.accountID
	}

	if len(pr.Events) > 0 && pr.NextCursor == "" {
		// Without a cursor past these events the session would refetch the
		// same batch forever.
		return nil, &transport.Error{
			Kind:    transport.KindProtocol,
			Message: "poll response delivered events without a next cursor",
		}
	}

	slog.Debug("[LongPoll] Fetched batch",
		"account_id", c.accountID,
		"events", len(pr.Events),
		"next_cursor", pr.NextCursor != "")

	return &transport.Batch{
		Events:     pr.Events,
		NextCursor: transport.Cursor(pr.NextCursor),
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, cursor transport.Cursor, wait time.Duration, token string) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/events", c.baseURL, url.PathEscape(c.accountID))

	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", string(cursor))
	}
	q.Set("wait", strconv.Itoa(int(wait.Seconds())))
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	return req, nil
}

// classifyStatus maps a non-200 poll response onto the error taxonomy.
func (c *Client) classifyStatus(resp *http.Response) *transport.Error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Drop any cached token; a restarted session gets a fresh one.
		c.creds.Invalidate()
		slog.Warn("[LongPoll] Credentials rejected", "account_id", c.accountID, "status", resp.StatusCode)
		return &transport.Error{
			Kind:       transport.KindAuth,
			Message:    "platform rejected credentials",
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		slog.Warn("[LongPoll] Rate limited", "account_id", c.accountID, "retry_after", retryAfter)
		return &transport.Error{
			Kind:       transport.KindRateLimited,
			Message:    "platform rate limit hit",
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
		}

	case resp.StatusCode >= 500:
		return &transport.Error{
			Kind:       transport.KindServer,
			Message:    "platform server error",
			StatusCode: resp.StatusCode,
		}

	default:
		return &transport.Error{
			Kind:       transport.KindProtocol,
			Message:    fmt.Sprintf("unexpected poll status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
}

// parseRetryAfter reads the delay-seconds form of the Retry-After header.
// Malformed or absent values yield zero, leaving the wait to backoff policy.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
