package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/models"

	"github.com/go-resty/resty/v2"
)

type AsyncNetworkManager struct {
	Config       *models.MConfig
	ProxyManager interfaces.IProxyManager
	Client       *resty.Client
	Logger       *logger.Logger
	RetryDelay   time.Duration
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	nm := &AsyncNetworkManager{
		Config:       cfg,
		ProxyManager: helpers.NewProxyManager(cfg.Network.Proxies, cfg.Network.ProxyListURL, log),
		Logger:       log,
		RetryDelay:   time.Second,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *resty.Client {
	transport := &http.Transport{
		Proxy:           nm.ProxyManager.ProxyFunc,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTransport(transport)
	client.SetTimeout(timeout)
	if nm.Config.Network.UserAgent != "" {
		client.SetHeader("User-Agent", nm.Config.Network.UserAgent)
	}
	return client
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries and proxy rotation.
// 402/429 and other 4xx answers are returned at once: retrying them only burns quota.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i*i) * nm.RetryDelay):
			}
		}

		req := nm.Client.R().
			SetContext(ctx).
			SetQueryParams(params)
		if nm.Config.Network.UserAgent == "" {
			req.SetHeader("User-Agent", nm.ProxyManager.GetUserAgent())
		}

		resp, err := req.Get(urlStr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = stripRequestURL(err)
			nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, lastErr)
			nm.ProxyManager.RotateProxy()
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return resp.Body(), nil

		case status == http.StatusForbidden:
			lastErr = &helpers.HTTPStatusError{StatusCode: status, Body: resp.Body()}
			nm.Logger.Info("Request blocked (%d). Rotating proxy.", status)
			nm.ProxyManager.RotateProxy()
			if i == maxRetries-1 && nm.Config.Network.ProxyListURL != "" {
				nm.Logger.Warning("Repeated blocks. Attempting to refresh proxies...")
				count, refreshErr := nm.ProxyManager.RefreshProxies(ctx)
				if refreshErr != nil {
					nm.Logger.Error("Failed to refresh proxies: %v", refreshErr)
				} else {
					nm.Logger.Info("Refreshed %d proxies. Retrying...", count)
				}
			}
			continue

		case status >= 500:
			lastErr = &helpers.HTTPStatusError{StatusCode: status, Body: resp.Body()}
			nm.Logger.Info("Bad status %d", status)
			continue

		default:
			return nil, &helpers.HTTPStatusError{StatusCode: status, Body: resp.Body()}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// -----------------------------------------------------------------------------

// stripRequestURL drops the query string from transport errors.
// Collectors pass credentials as query parameters.
func stripRequestURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	target := "request"
	if u, parseErr := url.Parse(ue.URL); parseErr == nil {
		target = u.Scheme + "://" + u.Host + u.Path
	}
	return fmt.Errorf("%s %s: %w", ue.Op, target, ue.Err)
}
