package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/pkg/provider"
)

const subscriptionStatusActive = "active"

// SyncCustomer reconciles a customer's subscriptions from the Stripe API
// instead of waiting for webhooks. Used for restore flows and nightly
// reconciliation. Each subscription found is replayed through the same
// pipeline the webhooks use, so the stale-event guard, versioned commit and
// idempotent provisioning all hold; sync cannot bypass an invariant the
// webhook path enforces.
//
// Returns the highest-weight tier held across the customer's active
// subscriptions, or the empty tier when none exist.
func (p *Provider) SyncCustomer(ctx context.Context, providerCustomerID string) (entitle.Tier, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return "", provider.ErrProviderNotConfigured
	}
	if p.store == nil {
		return "", fmt.Errorf("%w: record store required for sync", provider.ErrProviderNotConfigured)
	}

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(providerCustomerID)
	params.Status = stripe.String(subscriptionStatusActive)

	var subscriptions []*stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("%w: list subscriptions: %v", provider.ErrProviderAPIError, err)
		}
		if string(sub.Status) == subscriptionStatusActive {
			subscriptions = append(subscriptions, sub)
		}
	}

	now := time.Now().UTC()
	var best entitle.Tier
	for _, sub := range subscriptions {
		ev, err := p.syntheticEvent(ctx, sub, now)
		if err != nil {
			return best, err
		}
		if ev == nil {
			continue
		}

		res := p.coordinator.Process(ctx, ev)
		if res.Status == entitle.ResultFailed {
			return best, fmt.Errorf("sync subscription %s: %w", sub.ID, res.Err)
		}

		if ev.Tier != "" && ev.Tier.Weight() > best.Weight() {
			best = ev.Tier
		}
	}
	return best, nil
}

// syntheticEvent builds a pipeline event from an API-sourced subscription.
// Tracked subscriptions replay as updates, unseen ones as creations. Returns
// nil for subscriptions with no mapped tier change worth replaying.
func (p *Provider) syntheticEvent(ctx context.Context, sub *stripe.Subscription, now time.Time) (*entitle.InboundEvent, error) {
	eventType := entitle.EventSubscriptionCreated
	_, err := p.store.GetSubscriptionByProviderID(ctx, sub.ID)
	switch {
	case err == nil:
		eventType = entitle.EventSubscriptionUpdated
	case errors.Is(err, entitle.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("load record for %s: %w", sub.ID, err)
	}

	ev := &entitle.InboundEvent{
		// Deterministic per poll second: a sync retry within the same second
		// dedups, later polls re-apply.
		ID:                     fmt.Sprintf("sync_%s_%d", sub.ID, now.Unix()),
		Type:                   eventType,
		ProviderSubscriptionID: sub.ID,
		Status:                 mapSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		Tier:                   p.tierFromItems(sub.Items),
		OccurredAt:             now,
		ReceivedAt:             now,
	}
	if sub.Customer != nil {
		ev.ProviderCustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		ev.TrialEnd = time.Unix(sub.TrialEnd, 0).UTC()
	}
	if ev.ProviderCustomerID == "" {
		return nil, fmt.Errorf("subscription %s missing customer reference", sub.ID)
	}
	return ev, nil
}
