package provider

import (
	"net/http"
	"time"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Config defines the standard configuration all providers accept.
type Config struct {
	// Coordinator is the reconciliation pipeline that verified events are
	// dispatched into (required).
	Coordinator *entitle.Coordinator

	// TierMapping maps provider price/product ids to tiers.
	// For example: map[string]entitle.Tier{"price_pro_monthly": entitle.TierPro}.
	TierMapping map[string]entitle.Tier

	// WebhookSecret verifies inbound webhook signatures.
	WebhookSecret string

	// APIKey is used for outbound API calls (SyncCustomer).
	APIKey string

	// Tolerance bounds the signed-timestamp replay window
	// (default: 5 minutes).
	Tolerance time.Duration

	// MaxBodyBytes caps the webhook request body
	// (default: 256 KiB).
	MaxBodyBytes int64

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with a 10s timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger).
	Logger entitle.Logger

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored.
	Metrics entitle.Metrics
}
