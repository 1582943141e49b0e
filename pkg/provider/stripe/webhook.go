package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/pkg/provider/internal"
)

// handleWebhook processes incoming Stripe webhook events.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Signature verification, timestamp tolerance included. A failure is a
	// security rejection, never a retry hint.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordError(providerName, "auth_failed")
		return
	}

	ev, err := p.mapEvent(&event)
	if err != nil {
		// Verified but unparseable: permanent, reject without retry.
		p.logger.Warn("discarding malformed event",
			entitle.Field{Key: "event_id", Value: event.ID},
			entitle.Field{Key: "event_type", Value: string(event.Type)},
			entitle.Field{Key: "error", Value: err},
		)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordError(providerName, "invalid_payload")
		return
	}

	res := p.coordinator.Process(r.Context(), ev)
	if !res.Ack() {
		if res.Retryable {
			// Non-2xx keeps the sender's at-least-once redelivery alive.
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// mapEvent normalizes a verified Stripe event into the pipeline's event
// shape. Field extraction favors the raw payload for values the typed v83
// structs do not carry (period dates on subscriptions, the subscription
// reference on invoices).
func (p *Provider) mapEvent(event *stripe.Event) (*entitle.InboundEvent, error) {
	ev := &entitle.InboundEvent{
		ID:         event.ID,
		Type:       entitle.ParseEventType(string(event.Type)),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		ReceivedAt: time.Now().UTC(),
	}
	if ev.Type == entitle.EventUnhandled {
		return ev, nil
	}

	switch ev.Type {
	case entitle.EventSubscriptionCreated, entitle.EventSubscriptionUpdated, entitle.EventSubscriptionDeleted:
		return p.mapSubscriptionEvent(ev, event.Data.Raw)
	case entitle.EventInvoicePaid, entitle.EventInvoiceFailed:
		return p.mapInvoiceEvent(ev, event.Data.Raw)
	case entitle.EventPaymentSucceeded, entitle.EventPaymentFailed:
		return p.mapPaymentIntentEvent(ev, event.Data.Raw)
	}
	return ev, nil
}

func (p *Provider) mapSubscriptionEvent(ev *entitle.InboundEvent, raw json.RawMessage) (*entitle.InboundEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("subscription payload missing id")
	}

	ev.ProviderSubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.ProviderCustomerID = sub.Customer.ID
	}
	ev.Status = mapSubscriptionStatus(sub.Status)
	ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.TrialEnd > 0 {
		ev.TrialEnd = time.Unix(sub.TrialEnd, 0).UTC()
	}
	ev.Tier = p.tierFromItems(sub.Items)

	// Period boundaries come from the event payload; the typed struct does
	// not surface them in v83.
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err == nil {
		ev.PeriodStart = unixField(fields, "current_period_start")
		ev.PeriodEnd = unixField(fields, "current_period_end")
		if ev.ProviderCustomerID == "" {
			ev.ProviderCustomerID = refID(fields["customer"])
		}
	}

	if ev.ProviderCustomerID == "" {
		return nil, fmt.Errorf("subscription %s missing customer reference", sub.ID)
	}
	return ev, nil
}

func (p *Provider) mapInvoiceEvent(ev *entitle.InboundEvent, raw json.RawMessage) (*entitle.InboundEvent, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal invoice: %w", err)
	}

	ev.ProviderSubscriptionID = refID(fields["subscription"])
	if ev.ProviderSubscriptionID == "" {
		// Not a subscription invoice; one-off invoices carry no lifecycle
		// meaning here.
		ev.Type = entitle.EventUnhandled
		return ev, nil
	}

	ev.ProviderCustomerID = refID(fields["customer"])
	if ev.ProviderCustomerID == "" {
		return nil, fmt.Errorf("invoice for %s missing customer reference", ev.ProviderSubscriptionID)
	}
	ev.PeriodStart = unixField(fields, "period_start")
	ev.PeriodEnd = unixField(fields, "period_end")
	return ev, nil
}

func (p *Provider) mapPaymentIntentEvent(ev *entitle.InboundEvent, raw json.RawMessage) (*entitle.InboundEvent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("unmarshal payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("payment intent payload missing id")
	}

	ev.ProviderPaymentID = intent.ID
	ev.AmountCents = intent.Amount
	if intent.Customer != nil {
		ev.ProviderCustomerID = intent.Customer.ID
	}
	if ev.ProviderCustomerID == "" {
		return nil, fmt.Errorf("payment intent %s missing customer reference", intent.ID)
	}

	// One-time purchases may name the product they unlock in metadata.
	if intent.Metadata != nil {
		ev.Tier = p.MapPriceToTier(intent.Metadata["price_id"])
		if ev.Tier == "" {
			if t, err := entitle.ParseTier(intent.Metadata["tier"]); err == nil {
				ev.Tier = t
			}
		}
	}
	return ev, nil
}

// tierFromItems resolves the highest-weight mapped tier across subscription
// items. Multi-item subscriptions keep the best tier.
func (p *Provider) tierFromItems(items *stripe.SubscriptionItemList) entitle.Tier {
	if items == nil {
		return ""
	}
	var best entitle.Tier
	for _, item := range items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		tier := p.MapPriceToTier(item.Price.ID)
		if tier != "" && tier.Weight() > best.Weight() {
			best = tier
		}
	}
	return best
}

func mapSubscriptionStatus(s stripe.SubscriptionStatus) entitle.Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return entitle.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return entitle.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return entitle.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return entitle.StatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return entitle.StatusIncomplete
	default:
		return ""
	}
}

// refID resolves a Stripe reference that may be either an id string or an
// expanded object.
func refID(v interface{}) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]interface{}:
		if id, ok := ref["id"].(string); ok {
			return id
		}
	}
	return ""
}

func unixField(fields map[string]interface{}, key string) time.Time {
	if ts, ok := fields[key].(float64); ok && ts > 0 {
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.Time{}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
