package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(retries int) *AsyncNetworkManager {
	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: retries}}
	nm := NewAsyncNetworkManager(cfg, nil)
	nm.RetryDelay = time.Millisecond
	return nm
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "OP-09", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := newManager(3).Get(context.Background(), srv.URL, map[string]string{"q": "OP-09"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetReturnsQuotaAnswersAtOnce(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusPaymentRequired, http.StatusNotFound} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		_, err := newManager(3).Get(context.Background(), srv.URL, nil)
		srv.Close()

		var statusErr *helpers.HTTPStatusError
		require.True(t, errors.As(err, &statusErr), "code %d", code)
		assert.Equal(t, code, statusErr.StatusCode)
		assert.Equal(t, int32(1), calls.Load(), "code %d", code)
	}
}

func TestGetGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newManager(2).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	nm := newManager(5)
	nm.RetryDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := nm.Get(ctx, srv.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetKeepsQueryOutOfTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newManager(1).Get(context.Background(), addr+"/s", map[string]string{"api_key": "SUPERSECRETKEY", "q": "OP-09"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SUPERSECRETKEY")
	assert.NotContains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), addr+"/s")
}

func TestStripRequestURLKeepsCause(t *testing.T) {
	err := stripRequestURL(&url.Error{Op: "Get", URL: "https://api.example/s?api_key=k", Err: context.DeadlineExceeded})
	assert.Equal(t, "Get https://api.example/s: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	plain := errors.New("boom")
	assert.Equal(t, plain, stripRequestURL(plain))
}
