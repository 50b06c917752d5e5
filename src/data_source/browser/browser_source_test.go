package browser

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><body>
<span class="floor">$1,234.50</span>
<div id="listings">312 listings</div>
<meta itemprop="sold-today" content="12">
<span class="volume">n/a</span>
</body></html>`

// fakeDriver serves pages from a map and records every navigation.
type fakeDriver struct {
	mu        sync.Mutex
	pages     map[string]string
	visits    []string
	sessions  []models.MFingerprint
	failAfter int // kills the first session on that navigation number, 0 = never
}

func (d *fakeDriver) NewSession(ctx context.Context, fp models.MFingerprint) (interfaces.IBrowserSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, fp)
	return &fakeSession{driver: d, index: len(d.sessions), alive: true}, nil
}

func (d *fakeDriver) Visits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visits...)
}

type fakeSession struct {
	driver *fakeDriver
	index  int
	calls  int
	alive  bool
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (string, error) {
	d := s.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if !s.alive {
		return "", errors.New("session closed")
	}
	s.calls++
	if s.index == 1 && d.failAfter > 0 && s.calls == d.failAfter {
		s.alive = false
		return "", errors.New("connection reset by peer")
	}
	d.visits = append(d.visits, url)
	page, ok := d.pages[url]
	if !ok {
		return "<html></html>", nil
	}
	return page, nil
}

func (s *fakeSession) Alive() bool  { return s.alive }
func (s *fakeSession) Close() error { s.alive = false; return nil }

type fakePacer struct {
	decoys []bool
	n      int
}

func (p *fakePacer) NextDelay() time.Duration { return time.Millisecond }

func (p *fakePacer) ShouldInjectDecoy() bool {
	if p.n >= len(p.decoys) {
		return false
	}
	p.n++
	return p.decoys[p.n-1]
}

func testConfig() models.MBrowserCollectorConfig {
	return models.MBrowserCollectorConfig{
		Enabled:        true,
		BaseURL:        "https://market.test",
		WarmupPath:     "/",
		ProductPath:    "/products/%s",
		DecoyPaths:     []string{"/news"},
		TimeoutSeconds: 60,
		Seed:           42,
		Selectors: models.MBrowserSelectors{
			FloorPrice:     "span.floor",
			ActiveListings: "#listings",
			UnitsSoldToday: "meta[itemprop=sold-today]",
			LifetimeSold:   ".lifetime",
			DailyVolume:    "span.volume",
		},
	}
}

func newTestSource(driver *fakeDriver, pacer interfaces.IPacer) *BrowserSource {
	s := NewBrowserSource(testConfig(), driver, pacer, logger.NewNopLogger())
	s.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

var op09 = models.MEntity{ID: "op-09", AliasKey: "OP-09"}

func TestWarmupThenDecoyThenProduct(t *testing.T) {
	driver := &fakeDriver{pages: map[string]string{"https://market.test/products/OP-09": productPage}}
	s := newTestSource(driver, &fakePacer{decoys: []bool{true, false}})

	_, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.Error(t, err, "collect before start")

	require.NoError(t, s.Start(context.Background()))
	snap, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.NoError(t, err)
	_, err = s.Collect(context.Background(), op09, "2024-05-01")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://market.test/",
		"https://market.test/news",
		"https://market.test/products/OP-09",
		"https://market.test/products/OP-09",
	}, driver.Visits())

	assert.Equal(t, models.SourceBrowser, snap.Source)
	assert.Equal(t, models.DataTypeCombined, snap.DataType)
	require.NotNil(t, snap.FloorPrice)
	assert.Equal(t, 1234.5, *snap.FloorPrice)
	require.NotNil(t, snap.ActiveListingsCount)
	assert.Equal(t, 312, *snap.ActiveListingsCount)
	require.NotNil(t, snap.UnitsSoldToday)
	assert.Equal(t, 12, *snap.UnitsSoldToday)
	assert.Nil(t, snap.UnitsSoldLifetimeTotal)
	assert.Nil(t, snap.DailyVolume)
}

func TestFingerprintIsKeptForTheSession(t *testing.T) {
	driver := &fakeDriver{pages: map[string]string{"https://market.test/products/OP-09": productPage}}
	s := newTestSource(driver, &fakePacer{})
	require.NoError(t, s.Start(context.Background()))

	fp := s.Fingerprint()
	for i := 0; i < 3; i++ {
		_, err := s.Collect(context.Background(), op09, "2024-05-01")
		require.NoError(t, err)
	}
	assert.Equal(t, fp, s.Fingerprint())
	assert.Len(t, driver.sessions, 1)
	assert.Contains(t, helpers.FingerprintPool, fp)
}

func TestDeadSessionRestartsOnce(t *testing.T) {
	driver := &fakeDriver{
		pages:     map[string]string{"https://market.test/products/OP-09": productPage},
		failAfter: 2, // warm-up succeeds, first product page kills the session
	}
	s := newTestSource(driver, &fakePacer{})
	require.NoError(t, s.Start(context.Background()))

	snap, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, snap.FloorPrice)

	assert.Len(t, driver.sessions, 2)
	assert.Equal(t, []string{
		"https://market.test/",
		"https://market.test/",
		"https://market.test/products/OP-09",
	}, driver.Visits())
}

func TestPageWithoutFieldsIsParseError(t *testing.T) {
	driver := &fakeDriver{pages: map[string]string{}}
	s := newTestSource(driver, &fakePacer{})
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Collect(context.Background(), op09, "2024-05-01")
	require.Error(t, err)
	assert.Equal(t, helpers.KindParse, helpers.KindOf(err))
}

func TestSeedReproducesFingerprint(t *testing.T) {
	pick := func() models.MFingerprint {
		s := newTestSource(&fakeDriver{}, &fakePacer{})
		require.NoError(t, s.Start(context.Background()))
		return s.Fingerprint()
	}
	assert.Equal(t, pick(), pick())
}

func TestRandomPacer(t *testing.T) {
	a := NewRandomPacer(2*time.Second, 6*time.Second, 0.3, 7)
	b := NewRandomPacer(2*time.Second, 6*time.Second, 0.3, 7)

	decoys := 0
	for i := 0; i < 200; i++ {
		da, db := a.NextDelay(), b.NextDelay()
		assert.Equal(t, da, db)
		assert.GreaterOrEqual(t, da, 2*time.Second)
		assert.LessOrEqual(t, da, 6*time.Second)

		ia, ib := a.ShouldInjectDecoy(), b.ShouldInjectDecoy()
		assert.Equal(t, ia, ib)
		if ia {
			decoys++
		}
	}
	assert.Greater(t, decoys, 20)
	assert.Less(t, decoys, 100)

	never := NewRandomPacer(time.Second, time.Second, 0, 1)
	assert.Equal(t, time.Second, never.NextDelay())
	assert.False(t, never.ShouldInjectDecoy())
}

func TestHTTPDriverSession(t *testing.T) {
	var gotUA, gotLang, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
			_, _ = w.Write([]byte("<html>home</html>"))
		case "/products/OP-09":
			gotUA = r.Header.Get("User-Agent")
			gotLang = r.Header.Get("Accept-Language")
			gotReferer = r.Header.Get("Referer")
			if c, err := r.Cookie("sid"); err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(productPage))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	fp := helpers.FingerprintPool[0]
	session, err := NewHTTPDriver(5*time.Second, nil, nil).NewSession(context.Background(), fp)
	require.NoError(t, err)

	_, err = session.Navigate(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	html, err := session.Navigate(context.Background(), srv.URL+"/products/OP-09")
	require.NoError(t, err)
	assert.True(t, strings.Contains(html, "span class=\"floor\""))

	assert.Equal(t, fp.UserAgent, gotUA)
	assert.Equal(t, fp.AcceptLanguage, gotLang)
	assert.Equal(t, srv.URL+"/", gotReferer)
	assert.True(t, session.Alive())

	_, err = session.Navigate(context.Background(), srv.URL+"/blocked")
	var statusErr *helpers.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.False(t, session.Alive())
}

func TestBypassTransportKeepsTLSFloor(t *testing.T) {
	transport, rt := NewHTTPDriver(time.Second, nil, nil).bypassTransport()
	require.NotNil(t, rt)
	require.NotNil(t, transport.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.NotEmpty(t, transport.TLSClientConfig.CurvePreferences)
	assert.Nil(t, transport.Proxy)
}
