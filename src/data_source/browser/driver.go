package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync/atomic"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// HTTPDriver emulates a browser over HTTP: one cookie jar per session, the
// cloudflare bypass transport and headers consistent with the session fingerprint.
type HTTPDriver struct {
	Timeout time.Duration
	Proxy   interfaces.IProxyManager
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewHTTPDriver(timeout time.Duration, proxy interfaces.IProxyManager, log *logger.Logger) *HTTPDriver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HTTPDriver{Timeout: timeout, Proxy: proxy, Logger: log}
}

// -----------------------------------------------------------------------------

func (d *HTTPDriver) NewSession(ctx context.Context, fp models.MFingerprint) (interfaces.IBrowserSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	_, client.GetClient().Transport = d.bypassTransport()
	if d.Timeout > 0 {
		client.SetTimeout(d.Timeout)
	}

	client.SetHeader("User-Agent", fp.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", fp.AcceptLanguage)
	client.SetHeader("Sec-CH-UA-Platform", strconv.Quote(fp.Platform))
	client.SetHeader("Viewport-Width", strconv.Itoa(fp.ViewportWidth))

	d.Logger.Debug("New session: %s on %s (%dx%d)", fp.UserAgent, fp.Platform, fp.ViewportWidth, fp.ViewportHeight)

	s := &httpSession{client: client, fingerprint: fp}
	s.alive.Store(true)
	return s, nil
}

// -----------------------------------------------------------------------------

// bypassTransport wraps a fresh transport in the cloudflare round tripper and
// returns both. The wrapper swaps in its own TLS config, so the TLS floor is
// set afterwards.
func (d *HTTPDriver) bypassTransport() (*http.Transport, http.RoundTripper) {
	transport := &http.Transport{}
	if d.Proxy != nil {
		transport.Proxy = d.Proxy.ProxyFunc
	}
	rt := cloudflarebp.AddCloudFlareByPass(transport)
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	return transport, rt
}

// -----------------------------------------------------------------------------

type httpSession struct {
	client      *resty.Client
	fingerprint models.MFingerprint
	referer     string
	alive       atomic.Bool
}

// -----------------------------------------------------------------------------

// Navigate fetches the page. A connection failure or a block (403) kills the session.
func (s *httpSession) Navigate(ctx context.Context, url string) (string, error) {
	if !s.Alive() {
		return "", fmt.Errorf("session closed")
	}

	req := s.client.R().SetContext(ctx)
	if s.referer != "" {
		req.SetHeader("Referer", s.referer)
	}

	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() == nil {
			s.alive.Store(false)
		}
		return "", err
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		if status == http.StatusForbidden {
			s.alive.Store(false)
		}
		return "", &helpers.HTTPStatusError{StatusCode: status, Body: resp.Body()}
	}

	s.referer = url
	return string(resp.Body()), nil
}

// -----------------------------------------------------------------------------

func (s *httpSession) Alive() bool {
	return s.alive.Load()
}

// -----------------------------------------------------------------------------

func (s *httpSession) Close() error {
	s.alive.Store(false)
	return nil
}
