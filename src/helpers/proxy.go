package helpers

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/PuerkitoBio/goquery"
)

// -----------------------------------------------------------------------------

// FingerprintPool holds consistent browser identities. Each entry's headers,
// platform and viewport belong together so a session never mixes them.
var FingerprintPool = []models.MFingerprint{
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", Platform: "Win32", ViewportWidth: 1920, ViewportHeight: 1080, AcceptLanguage: "en-US,en;q=0.9"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0", Platform: "Win32", ViewportWidth: 1536, ViewportHeight: 864, AcceptLanguage: "en-US,en;q=0.9"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0", Platform: "Win32", ViewportWidth: 1366, ViewportHeight: 768, AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", Platform: "MacIntel", ViewportWidth: 1440, ViewportHeight: 900, AcceptLanguage: "en-US,en;q=0.9"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15", Platform: "MacIntel", ViewportWidth: 1680, ViewportHeight: 1050, AcceptLanguage: "en-US,en;q=0.9"},
	{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", Platform: "Linux x86_64", ViewportWidth: 1920, ViewportHeight: 1080, AcceptLanguage: "en-US,en;q=0.8"},
	{UserAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0", Platform: "Linux x86_64", ViewportWidth: 1280, ViewportHeight: 800, AcceptLanguage: "en-US,en;q=0.5"},
}

// -----------------------------------------------------------------------------

// PickFingerprint draws one identity from the pool.
func PickFingerprint(rng *rand.Rand) models.MFingerprint {
	return FingerprintPool[rng.Intn(len(FingerprintPool))]
}

// -----------------------------------------------------------------------------

type ProxyManager struct {
	proxies    []string
	listURL    string
	index      int
	rng        *rand.Rand
	mu         sync.Mutex
	logger     *logger.Logger
	httpClient *http.Client
}

// -----------------------------------------------------------------------------

// NewProxyManager validates the configured proxies. listURL, when set, is a page
// whose table rows list "ip | port" pairs used by RefreshProxies.
func NewProxyManager(proxies []string, listURL string, log *logger.Logger) *ProxyManager {
	var validProxies []string
	for _, p := range proxies {
		if ValidateProxy(p) {
			validProxies = append(validProxies, FormatProxy(p))
		}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &ProxyManager{
		proxies: validProxies,
		listURL: listURL,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  log,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) GetCurrentProxy() (string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) == 0 {
		return "", nil
	}
	return pm.proxies[pm.index], nil
}

// -----------------------------------------------------------------------------

// ProxyFunc lets an http.Transport follow rotations without being rebuilt.
func (pm *ProxyManager) ProxyFunc(_ *http.Request) (*url.URL, error) {
	current, err := pm.GetCurrentProxy()
	if err != nil || current == "" {
		return nil, err
	}
	return url.Parse(current)
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) RotateProxy() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) <= 1 {
		return
	}

	pm.index = (pm.index + 1) % len(pm.proxies)
	pm.logger.Info("Rotating proxy to: %s", pm.proxies[pm.index])
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) GetUserAgent() string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return PickFingerprint(pm.rng).UserAgent
}

// -----------------------------------------------------------------------------

// RefreshProxies reads "ip | port" table rows from the configured list page.
func (pm *ProxyManager) RefreshProxies(ctx context.Context) (int, error) {
	if pm.listURL == "" {
		return 0, fmt.Errorf("no proxy list configured")
	}
	pm.logger.Info("Refreshing proxies from %s...", pm.listURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pm.listURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", pm.GetUserAgent())

	resp, err := pm.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, err
	}

	newProxies := parseProxyTable(doc)
	if len(newProxies) == 0 {
		return 0, fmt.Errorf("no proxies found on page")
	}

	pm.mu.Lock()
	pm.rng.Shuffle(len(newProxies), func(i, j int) {
		newProxies[i], newProxies[j] = newProxies[j], newProxies[i]
	})
	if len(newProxies) > 50 {
		newProxies = newProxies[:50]
	}
	pm.proxies = newProxies
	pm.index = 0
	pm.mu.Unlock()

	pm.logger.Info("Found and updated %d proxies", len(newProxies))
	return len(newProxies), nil
}

// -----------------------------------------------------------------------------

var (
	ipPattern   = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	portPattern = regexp.MustCompile(`^\d{2,5}$`)
)

func parseProxyTable(doc *goquery.Document) []string {
	var out []string
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if ipPattern.MatchString(ip) && portPattern.MatchString(port) {
			out = append(out, fmt.Sprintf("http://%s:%s", ip, port))
		}
	})
	return out
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) HasProxies() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.proxies) > 0
}

// -----------------------------------------------------------------------------

// ValidateProxy checks if a proxy string is roughly valid.
func ValidateProxy(proxyStr string) bool {
	if strings.TrimSpace(proxyStr) == "" {
		return false
	}
	u, err := url.Parse(FormatProxy(proxyStr))
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "socks5")
}

// -----------------------------------------------------------------------------

// FormatProxy ensures the proxy has a scheme.
func FormatProxy(proxyStr string) string {
	if !strings.Contains(proxyStr, "://") {
		return "http://" + proxyStr
	}
	return proxyStr
}
