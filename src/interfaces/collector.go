package interfaces

import (
	"context"
	"time"

	"card-market-tracker/src/models"
)

// -----------------------------------------------------------------------------
// ICollector fetches one snapshot per entity from one external source.
// -----------------------------------------------------------------------------

type ICollector interface {

	// Name is the phase name used in the run artifact (e.g. "api", "browser").
	Name() string

	// -----------------------------------------------------------------------------

	// Source is the provenance stamped on every snapshot this collector produces.
	Source() models.SnapshotSource

	// -----------------------------------------------------------------------------

	// MaxConcurrency bounds how many entities are collected in parallel.
	MaxConcurrency() int

	// -----------------------------------------------------------------------------

	// Timeout is the per-entity collection budget.
	Timeout() time.Duration

	// -----------------------------------------------------------------------------

	// Start prepares the collector (credentials, sessions). An error fails the whole phase.
	Start(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Collect returns the entity's snapshot for asOf. Errors are per-entity.
	Collect(ctx context.Context, entity models.MEntity, asOf string) (models.MSnapshot, error)

	// -----------------------------------------------------------------------------

	Stop() error
}

// -----------------------------------------------------------------------------
// IPacer decides the human-like waits of the browser collector.
// -----------------------------------------------------------------------------

type IPacer interface {
	NextDelay() time.Duration
	ShouldInjectDecoy() bool
}

// -----------------------------------------------------------------------------
// IBrowserDriver opens browsing sessions bound to one fingerprint.
// -----------------------------------------------------------------------------

type IBrowserDriver interface {
	NewSession(ctx context.Context, fp models.MFingerprint) (IBrowserSession, error)
}

// -----------------------------------------------------------------------------
// IBrowserSession is a live browsing context (cookies, headers, connection).
// -----------------------------------------------------------------------------

type IBrowserSession interface {

	// Navigate loads the page and returns its HTML.
	Navigate(ctx context.Context, url string) (string, error)

	// -----------------------------------------------------------------------------

	// Alive is false once the session can no longer be used.
	Alive() bool

	// -----------------------------------------------------------------------------

	Close() error
}
