package scraperapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"card-market-tracker/src/catalog"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"
	"card-market-tracker/src/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var (
	op09 = models.MEntity{ID: "op-09", AliasKey: "OP-09"}
	op10 = models.MEntity{ID: "op-10", AliasKey: "OP-10"}
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *ScraperAPISource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver, err := catalog.NewResolver([]models.MEntity{op09, op10})
	require.NoError(t, err)

	netCfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: 0, UserAgent: "test"}}
	nm := network.NewAsyncNetworkManager(netCfg, logger.NewNopLogger())

	cfg := models.MAPICollectorConfig{
		Enabled:           true,
		BaseURL:           srv.URL,
		SearchPath:        "/v1/search",
		APIKey:            "secret",
		MaxConcurrency:    4,
		TimeoutSeconds:    5,
		RequestsPerSecond: 100,
		Burst:             10,
	}
	return NewScraperAPISource(cfg, nm, resolver, logger.NewNopLogger())
}

func TestCollectPicksResolvedResult(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "OP-09", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"OP-10 Royal Blood Booster Box","floor_price":99.0},
			{"title":"One Piece OP-09 Booster Box","floor_price":"$1,234.50","active_listings_count":"312",
			 "units_sold_today":12,"units_sold_lifetime_total":"n/a","daily_volume":null}
		]}`))
	})
	require.NoError(t, s.Start(context.Background()))

	snap, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.NoError(t, err)

	assert.Equal(t, "op-09", snap.EntityID)
	assert.Equal(t, models.SourceAPI, snap.Source)
	require.NotNil(t, snap.FloorPrice)
	assert.Equal(t, 1234.5, *snap.FloorPrice)
	require.NotNil(t, snap.ActiveListingsCount)
	assert.Equal(t, 312, *snap.ActiveListingsCount)
	require.NotNil(t, snap.UnitsSoldToday)
	assert.Equal(t, 12, *snap.UnitsSoldToday)
	assert.Nil(t, snap.UnitsSoldLifetimeTotal)
	assert.Nil(t, snap.DailyVolume)
}

func TestCollectErrorKinds(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    helpers.CollectionErrorKind
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, helpers.KindQuota},
		{"payment required", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusPaymentRequired) }, helpers.KindQuota},
		{"quota body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":{"code":"quota_exceeded","message":"monthly credits used"}}`))
		}, helpers.KindQuota},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, helpers.KindTransport},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }, helpers.KindParse},
		{"no match", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"results":[{"title":"OP-10 Booster Box","floor_price":1}]}`))
		}, helpers.KindUnmatched},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSource(t, tc.handler)
			_, err := s.Collect(context.Background(), op09, "2024-05-01")
			require.Error(t, err)
			assert.Equal(t, tc.want, helpers.KindOf(err))
		})
	}
}

func TestCollectErrorHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {})
	s.Config.BaseURL = srv.URL
	s.Config.APIKey = "SUPERSECRETKEY"
	srv.Close()

	_, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.Error(t, err)
	assert.Equal(t, helpers.KindTransport, helpers.KindOf(err))
	assert.NotContains(t, err.Error(), "SUPERSECRETKEY")
}

func TestStartWithoutKeyFails(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {})
	s.Config.APIKey = ""

	err := s.Start(context.Background())
	var cfgErr *helpers.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLimiterHonoursContext(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	s.Limiter = rate.NewLimiter(0.001, 1)
	_, _ = s.Collect(context.Background(), op09, "2024-05-01")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Collect(ctx, op10, "2024-05-01")
	require.Error(t, err)
	assert.Equal(t, helpers.KindTimeout, helpers.KindOf(err))
}

func TestCollectorContract(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Equal(t, "api", s.Name())
	assert.Equal(t, 4, s.MaxConcurrency())
	assert.Equal(t, 5*time.Second, s.Timeout())
}
