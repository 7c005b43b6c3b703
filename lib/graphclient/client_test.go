package graphclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"socialmetrics-backend/lib/telemetry"
)

func TestMain(m *testing.M) {
	cleanup := telemetry.SetupForTesting("test:graphclient")
	defer cleanup()
	m.Run()
}

func testClient(t *testing.T, baseURL string, opts ClientOptions) *Client {
	opts.BaseURL = baseURL
	if opts.Credentials.Token == "" && len(opts.Credentials.Fallbacks) == 0 {
		opts.Credentials = Credentials{Token: "test-token"}
	}
	opts.RetryWaitUnit = time.Millisecond
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func TestResolveCredentials(t *testing.T) {
	creds := Credentials{Token: "primary", Fallbacks: []string{"fb", "ig"}}

	token, err := creds.Resolve("explicit")
	require.NoError(t, err)
	require.Equal(t, "explicit", token)

	token, err = creds.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "primary", token)

	token, err = Credentials{Fallbacks: []string{"", "ig"}}.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "ig", token)

	_, err = Credentials{}.Resolve("")
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = NewClient(ClientOptions{BaseURL: "http://localhost"})
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestGetInjectsToken(t *testing.T) {
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("access_token")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"42","name":"some page"}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})

	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := client.Get(context.Background(), "12345", nil, &out)
	require.NoError(t, err)
	require.Equal(t, "test-token", gotToken)
	require.Equal(t, "/12345", gotPath)
	require.Equal(t, "42", out.ID)
	require.Equal(t, "some page", out.Name)
}

func TestBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Empty(t, r.URL.Query().Get("access_token"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{AuthStyle: AuthBearerHeader})
	err := client.Get(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Bearer test-token", gotAuth)
}

func TestRateLimitRetriedThenSucceeds(t *testing.T) {
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, time.Now())
		if len(hits) <= 5 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})
	err := client.Get(context.Background(), "throttled", nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 6)

	// waits double each retry, so the final gap dwarfs the first
	firstGap := hits[1].Sub(hits[0])
	lastGap := hits[5].Sub(hits[4])
	require.Greater(t, lastGap, firstGap)
}

func TestRateLimitBudgetExhausted(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})
	err := client.Get(context.Background(), "throttled", nil, nil)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, 6, rateErr.Attempts)
	require.Equal(t, 6, requests)
}

func TestVendorRateLimitCodeRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(statusVendorRateLimit)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})
	err := client.Get(context.Background(), "throttled", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, requests)
}

func TestUpstreamErrorNotRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"(#100) Unsupported get request"}}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})
	err := client.Get(context.Background(), "bad", nil, nil)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadRequest, upstream.Status)
	require.Contains(t, upstream.Body, "Unsupported get request")
	require.Equal(t, 1, requests, "client errors must not be retried")
	require.False(t, errors.Is(err, ErrMissingCredential))
}
