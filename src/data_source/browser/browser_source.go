package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	datasource "card-market-tracker/src/data_source"
	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/PuerkitoBio/goquery"
)

const SourceName = "browser"

// BrowserSource drives one browsing session at a time through the product
// pages of the marketplace. Every real query is preceded by a paced wait and,
// sometimes, a decoy navigation.
type BrowserSource struct {
	Config  models.MBrowserCollectorConfig
	Driver  interfaces.IBrowserDriver
	Pacer   interfaces.IPacer
	Logger  *logger.Logger
	Sleep   func(ctx context.Context, d time.Duration) error
	rng     *rand.Rand
	session interfaces.IBrowserSession
	fp      models.MFingerprint
	mu      sync.Mutex
}

// -----------------------------------------------------------------------------

func NewBrowserSource(cfg models.MBrowserCollectorConfig, driver interfaces.IBrowserDriver, pacer interfaces.IPacer, log *logger.Logger) *BrowserSource {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if pacer == nil {
		pacer = NewRandomPacer(
			time.Duration(cfg.MinDelayMs)*time.Millisecond,
			time.Duration(cfg.MaxDelayMs)*time.Millisecond,
			cfg.DecoyProbability,
			cfg.Seed,
		)
	}
	return &BrowserSource{
		Config: cfg,
		Driver: driver,
		Pacer:  pacer,
		Logger: log,
		Sleep:  sleepCtx,
		rng:    newRand(cfg.Seed),
	}
}

// -----------------------------------------------------------------------------

func (s *BrowserSource) Name() string { return SourceName }

func (s *BrowserSource) Source() models.SnapshotSource { return models.SourceBrowser }

// MaxConcurrency is always 1: one session, one page at a time.
func (s *BrowserSource) MaxConcurrency() int { return 1 }

func (s *BrowserSource) Timeout() time.Duration {
	return time.Duration(s.Config.TimeoutSeconds) * time.Second
}

// -----------------------------------------------------------------------------

// Fingerprint returns the identity of the current session.
func (s *BrowserSource) Fingerprint() models.MFingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

// -----------------------------------------------------------------------------

// Start opens the session and performs the warm-up navigation.
func (s *BrowserSource) Start(ctx context.Context) error {
	if s.Driver == nil {
		return errors.New("browser collector has no driver")
	}
	if s.Config.BaseURL == "" || s.Config.ProductPath == "" {
		return helpers.NewConfigurationError("browser collector needs base_url and product_path", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openSession(ctx)
}

// -----------------------------------------------------------------------------

func (s *BrowserSource) openSession(ctx context.Context) error {
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}

	fp := helpers.PickFingerprint(s.rng)
	session, err := s.Driver.NewSession(ctx, fp)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}

	if s.Config.WarmupPath != "" {
		if _, err := session.Navigate(ctx, s.pageURL(s.Config.WarmupPath)); err != nil {
			_ = session.Close()
			return fmt.Errorf("warm-up navigation: %w", err)
		}
	}

	s.session = session
	s.fp = fp
	s.Logger.Info("Browser session ready (%s)", fp.Platform)
	return nil
}

// -----------------------------------------------------------------------------

func (s *BrowserSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// -----------------------------------------------------------------------------

// Collect waits, maybe visits a decoy, then reads the entity's product page.
func (s *BrowserSource) Collect(ctx context.Context, entity models.MEntity, asOf string) (models.MSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTransport, errors.New("session not started"))
	}

	if err := s.Sleep(ctx, s.Pacer.NextDelay()); err != nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindTimeout, err)
	}

	if s.Pacer.ShouldInjectDecoy() && len(s.Config.DecoyPaths) > 0 {
		decoy := s.Config.DecoyPaths[s.rng.Intn(len(s.Config.DecoyPaths))]
		if _, err := s.session.Navigate(ctx, s.pageURL(decoy)); err != nil {
			s.Logger.Debug("Decoy %s failed: %v", decoy, err)
		}
	}

	target := s.pageURL(fmt.Sprintf(s.Config.ProductPath, url.PathEscape(entity.AliasKey)))
	html, err := s.navigate(ctx, target)
	if err != nil {
		return models.MSnapshot{}, classify(entity.ID, err)
	}

	snap, err := s.parsePage(html)
	if err != nil {
		return models.MSnapshot{}, helpers.NewCollectionError(entity.ID, helpers.KindParse, err)
	}
	snap.EntityID = entity.ID
	snap.Date = asOf
	snap.Source = models.SourceBrowser
	snap.CapturedAt = time.Now().UTC()
	return snap, nil
}

// -----------------------------------------------------------------------------

// navigate retries once on a fresh session when the current one died.
func (s *BrowserSource) navigate(ctx context.Context, target string) (string, error) {
	html, err := s.session.Navigate(ctx, target)
	if err == nil || s.session.Alive() || ctx.Err() != nil {
		return html, err
	}

	s.Logger.Warning("Browser session died (%v), restarting", err)
	if restartErr := s.openSession(ctx); restartErr != nil {
		return "", fmt.Errorf("%w (restart failed: %v)", err, restartErr)
	}
	return s.session.Navigate(ctx, target)
}

// -----------------------------------------------------------------------------

// parsePage reads the configured selectors. A selector that is missing or not
// numeric leaves its field absent; a page with no field at all is an error.
func (s *BrowserSource) parsePage(html string) (models.MSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.MSnapshot{}, fmt.Errorf("parse html: %w", err)
	}

	sel := s.Config.Selectors
	snap := models.MSnapshot{
		FloorPrice:             datasource.ParseFloatField(selectText(doc, sel.FloorPrice)),
		ActiveListingsCount:    datasource.ParseIntField(selectText(doc, sel.ActiveListings)),
		UnitsSoldToday:         datasource.ParseIntField(selectText(doc, sel.UnitsSoldToday)),
		UnitsSoldLifetimeTotal: datasource.ParseIntField(selectText(doc, sel.LifetimeSold)),
		DailyVolume:            datasource.ParseFloatField(selectText(doc, sel.DailyVolume)),
	}
	if snap.IsEmpty() {
		return models.MSnapshot{}, errors.New("no configured selector matched a number")
	}
	snap.DataType = snap.InferDataType()
	return snap, nil
}

// -----------------------------------------------------------------------------

func selectText(doc *goquery.Document, selector string) interface{} {
	if selector == "" {
		return nil
	}
	node := doc.Find(selector).First()
	if node.Length() == 0 {
		return nil
	}
	if v, ok := node.Attr("content"); ok {
		return v
	}
	return strings.TrimSpace(node.Text())
}

// -----------------------------------------------------------------------------

func (s *BrowserSource) pageURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.Config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// -----------------------------------------------------------------------------

func classify(entityID string, err error) error {
	var statusErr *helpers.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return helpers.NewCollectionError(entityID, helpers.KindQuota, err)
	}
	return helpers.NewCollectionError(entityID, helpers.KindOf(err), err)
}

// -----------------------------------------------------------------------------

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
