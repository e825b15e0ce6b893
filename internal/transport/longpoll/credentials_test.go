package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-io/tributary/internal/transport"
)

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("xoxb-fixed")

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xoxb-fixed", tok)

	// Invalidate cannot refresh a static token; it stays served.
	p.Invalidate()
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xoxb-fixed", tok)
}

func TestStaticTokenProvider_EmptyToken(t *testing.T) {
	p := NewStaticTokenProvider("")
	_, err := p.Token(context.Background())
	assert.Error(t, err)
}

// tokenEndpoint builds a httptest server for the exchange flow and counts hits.
func tokenEndpoint(t *testing.T, hits *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/auth/token", r.URL.Path)

		var body tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "app-1", body.AppID)
		require.Equal(t, "s3cret", body.AppSecret)

		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "tok-%d", "expires_in": %d}`, n, expiresIn)
	}))
}

func TestExchangeProvider_ExchangesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := tokenEndpoint(t, &hits, 3600)
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	tok1, err := p.Token(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tok1)

	tok2, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2, "second call must be served from cache")
	assert.Equal(t, int32(1), hits.Load())
}

func TestExchangeProvider_InvalidateForcesRefresh(t *testing.T) {
	var hits atomic.Int32
	srv := tokenEndpoint(t, &hits, 3600)
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	_, err := p.Token(context.Background())
	require.NoError(t, err)

	p.Invalidate()

	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExchangeProvider_RefreshesNearExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := tokenEndpoint(t, &hits, 600) // 10 minutes
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	base := time.Now()
	clock := base
	var clockMu sync.Mutex
	p.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// 5 minutes in: still comfortably inside expiry minus margin.
	clockMu.Lock()
	clock = base.Add(5 * time.Minute)
	clockMu.Unlock()
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// 9 minutes in: within the refresh margin of the 10 minute expiry.
	clockMu.Lock()
	clock = base.Add(9 * time.Minute)
	clockMu.Unlock()
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExchangeProvider_ConcurrentCallsShareOneExchange(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond) // hold callers in flight
		w.Write([]byte(`{"access_token": "tok-shared", "expires_in": 3600}`))
	}))
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-shared", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "concurrent callers must share one exchange")
}

func TestExchangeProvider_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "wrong", nil)

	_, err := p.Token(context.Background())
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindAuth, te.Kind)
	assert.False(t, te.Retryable())
}

func TestExchangeProvider_EndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	_, err := p.Token(context.Background())
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindServer, te.Kind)
	assert.True(t, te.Retryable(), "a flapping token endpoint is transient")
}

func TestExchangeProvider_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": ""}`))
	}))
	defer srv.Close()

	p := NewExchangeProvider(srv.URL, "app-1", "s3cret", nil)

	_, err := p.Token(context.Background())
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindProtocol, te.Kind)
}
