package interfaces

import (
	"context"
	"net/http"
	"net/url"
)

// -----------------------------------------------------------------------------
// IProxyManager defines the contract for managing and rotating proxies.
// -----------------------------------------------------------------------------

type IProxyManager interface {

	// -----------------------------------------------------------------------------

	// GetCurrentProxy returns the currently selected proxy URL (or empty if none).
	GetCurrentProxy() (string, error)

	// -----------------------------------------------------------------------------

	// RotateProxy switches to the next available proxy.
	RotateProxy()

	// -----------------------------------------------------------------------------

	// HasProxies returns true if there are proxies configured.
	HasProxies() bool

	// -----------------------------------------------------------------------------

	// GetUserAgent returns a random User-Agent string.
	GetUserAgent() string

	// -----------------------------------------------------------------------------

	// RefreshProxies reloads the pool from the configured proxy list page.
	// Returns the number of proxies found or an error.
	RefreshProxies(ctx context.Context) (int, error)

	// -----------------------------------------------------------------------------

	// ProxyFunc plugs the current proxy into an http.Transport.
	ProxyFunc(req *http.Request) (*url.URL, error)
}
