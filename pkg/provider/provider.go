package provider

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Provider is the generic interface that any payment backend must implement.
// The application can swap one provider for another with zero pipeline
// changes; verification, payload parsing and event normalization live behind
// this boundary.
type Provider interface {
	// Name returns the provider name (e.g. "stripe").
	Name() string

	// WebhookHandler returns the HTTP handler that ingests signed events.
	// The implementation handles signature verification, parsing, and
	// Coordinator dispatch internally. A 2xx response acknowledges terminal
	// success (including duplicates); anything else asks the sender to
	// retry later.
	WebhookHandler() http.Handler

	// SyncCustomer reconciles one customer's subscription state from the
	// provider's API instead of waiting for webhooks. Used for restore
	// flows and nightly reconciliation jobs. Returns the resolved tier.
	SyncCustomer(ctx context.Context, providerCustomerID string) (entitle.Tier, error)
}
