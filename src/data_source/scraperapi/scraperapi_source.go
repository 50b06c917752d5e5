package scraperapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"golang.org/x/time/rate"
)

const (
	SourceName        = "api"
	quotaExceededCode = "quota_exceeded"
)

// ScraperAPISource queries the managed marketplace-data API, one search per entity.
// It keeps no state between calls apart from the rate limiter.
type ScraperAPISource struct {
	Config   models.MAPICollectorConfig
	Network  interfaces.INetworkManager
	Resolver interfaces.IResolver
	Limiter  *rate.Limiter
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewScraperAPISource(cfg models.MAPICollectorConfig, netMgr interfaces.INetworkManager, resolver interfaces.IResolver, log *logger.Logger) *ScraperAPISource {
	if log == nil {
		log = logger.NewNopLogger()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &ScraperAPISource{
		Config:   cfg,
		Network:  netMgr,
		Resolver: resolver,
		Limiter:  rate.NewLimiter(limit, burst),
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

func (s *ScraperAPISource) Name() string { return SourceName }

func (s *ScraperAPISource) Source() models.SnapshotSource { return models.SourceAPI }

func (s *ScraperAPISource) MaxConcurrency() int {
	if s.Config.MaxConcurrency < 1 {
		return 1
	}
	return s.Config.MaxConcurrency
}

func (s *ScraperAPISource) Timeout() time.Duration {
	return time.Duration(s.Config.TimeoutSeconds) * time.Second
}

// -----------------------------------------------------------------------------

// Start fails the phase when the collector cannot authenticate at all.
func (s *ScraperAPISource) Start(ctx context.Context) error {
	if strings.TrimSpace(s.Config.APIKey) == "" {
		return helpers.NewConfigurationError("api collector has no api key (set CARD_API_KEY)", nil)
	}
	if s.Config.BaseURL == "" {
		return helpers.NewConfigurationError("api collector has no base_url", nil)
	}
	if s.Network == nil || s.Resolver == nil {
		return errors.New("api collector is missing its network manager or resolver")
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *ScraperAPISource) Stop() error { return nil }

// -----------------------------------------------------------------------------

// searchResponse is the API's answer; numeric fields stay loosely typed because
// the provider sends numbers, numeric strings or display strings depending on the listing.
type searchResponse struct {
	Results []searchResult `json:"results"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type searchResult struct {
	Title                  string      `json:"title"`
	FloorPrice             interface{} `json:"floor_price"`
	ActiveListingsCount    interface{} `json:"active_listings_count"`
	UnitsSoldToday         interface{} `json:"units_sold_today"`
	UnitsSoldLifetimeTotal interface{} `json:"units_sold_lifetime_total"`
	DailyVolume            interface{} `json:"daily_volume"`
}

// -----------------------------------------------------------------------------

// Collect searches by alias key and keeps the first result whose title
// resolves to the requested entity.
func (s *ScraperAPISource) Collect(ctx context.Context, entity models.MEntity, asOf string) (models.MSnapshot, error) {
	if err := s.Limiter.Wait(ctx); err != nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTimeout, fmt.Errorf("rate limiter: %w", err))
	}

	params := map[string]string{
		"q":       entity.AliasKey,
		"api_key": s.Config.APIKey,
	}
	body, err := s.Network.Get(ctx, s.Config.BaseURL+s.Config.SearchPath, params)
	if err != nil {
		return models.MSnapshot{}, classify(entity.ID, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindParse, fmt.Errorf("json unmarshal failed: %w", err))
	}
	if resp.Error != nil {
		kind := helpers.KindTransport
		if resp.Error.Code == quotaExceededCode {
			kind = helpers.KindQuota
		}
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, kind,
			fmt.Errorf("api error: %s - %s", resp.Error.Code, resp.Error.Message))
	}

	for _, r := range resp.Results {
		id, ok := s.Resolver.Resolve(r.Title)
		if !ok || id != entity.ID {
			continue
		}
		return models.MSnapshot{
			EntityID:               entity.ID,
			Date:                   asOf,
			Source:                 models.SourceAPI,
			FloorPrice:             datasource.ParseFloatField(r.FloorPrice),
			ActiveListingsCount:    datasource.ParseIntField(r.ActiveListingsCount),
			UnitsSoldToday:         datasource.ParseIntField(r.UnitsSoldToday),
			UnitsSoldLifetimeTotal: datasource.ParseIntField(r.UnitsSoldLifetimeTotal),
			DailyVolume:            datasource.ParseFloatField(r.DailyVolume),
			CapturedAt:             time.Now().UTC(),
		}, nil
	}

	return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindUnmatched,
		fmt.Errorf("none of %d results resolved to %s", len(resp.Results), entity.AliasKey))
}

// -----------------------------------------------------------------------------

func classify(entityID string, err error) error {
	var statusErr *helpers.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return helpers.NewCollectionError(entityID, helpers.KindQuota, err)
		}
		return helpers.NewCollectionError(entityID, helpers.KindTransport, err)
	}
	return helpers.NewCollectionError(entityID, helpers.KindOf(err), err)
}
