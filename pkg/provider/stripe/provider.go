package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/pkg/provider"
	"github.com/mihaimyh/goentitle/pkg/provider/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends provider.Config with Stripe-specific options.
type Config struct {
	provider.Config // Base config (Coordinator, TierMapping, etc.)

	// Store is used by SyncCustomer to decide whether a subscription seen on
	// the API is new or already tracked. Optional; required only for sync.
	Store entitle.RecordStore

	StripeAPIKey        string
	StripeWebhookSecret string
}

// Provider implements the provider.Provider interface for Stripe.
type Provider struct {
	coordinator   *entitle.Coordinator
	store         entitle.RecordStore
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	tierMapping   map[string]entitle.Tier
	webhookSecret []byte
	apiKey        string
	maxBodyBytes  int64
	stripeClient  *stripe.Client
	logger        entitle.Logger
	metrics       entitle.Metrics
}

// NewProvider creates a new Stripe payment provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Coordinator == nil {
		return nil, provider.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, provider.ErrProviderNotConfigured
	}
	stripeClient := stripe.NewClient(apiKey)

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	tierMapping := make(map[string]entitle.Tier, len(config.TierMapping))
	for k, v := range config.TierMapping {
		tierMapping[strings.ToLower(k)] = v
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &entitle.NoopMetrics{}
	}

	return &Provider{
		coordinator:   config.Coordinator,
		store:         config.Store,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		tierMapping:   tierMapping,
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:        apiKey,
		maxBodyBytes:  maxBody,
		stripeClient:  stripeClient,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks.
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// MapPriceToTier maps a Stripe price or product id to a tier. Unmapped ids
// return the empty tier; the state machine carries the record's current tier
// forward in that case.
func (p *Provider) MapPriceToTier(priceID string) entitle.Tier {
	if priceID == "" {
		return ""
	}
	return p.tierMapping[strings.ToLower(strings.TrimSpace(priceID))]
}
