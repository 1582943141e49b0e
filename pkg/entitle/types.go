package entitle

import (
	"fmt"
	"time"
)

// Tier identifies a subscription pricing tier.
type Tier string

const (
	// TierStarter is the entry-level paid tier
	TierStarter Tier = "starter"
	// TierPro is the mid-level paid tier
	TierPro Tier = "pro"
	// TierEnterprise is the top paid tier
	TierEnterprise Tier = "enterprise"
)

// ParseTier returns the Tier for a known tier name, or an error for unknown names.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierStarter, TierPro, TierEnterprise:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

// Status is the lifecycle state of a subscription record.
type Status string

const (
	// StatusTrialing indicates an active trial window
	StatusTrialing Status = "trialing"
	// StatusActive indicates a paid, current subscription
	StatusActive Status = "active"
	// StatusPastDue indicates a failed renewal payment awaiting recovery
	StatusPastDue Status = "past_due"
	// StatusCanceled is terminal; no transition leaves it
	StatusCanceled Status = "canceled"
	// StatusIncomplete indicates a subscription whose initial payment has not settled
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether no further transitions are accepted from this status.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// EventType enumerates the provider event kinds the pipeline handles.
// Values match the provider's wire names so payload routing is a direct lookup.
type EventType string

const (
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventInvoicePaid         EventType = "invoice.payment_succeeded"
	EventInvoiceFailed       EventType = "invoice.payment_failed"
	EventPaymentSucceeded    EventType = "payment_intent.succeeded"
	EventPaymentFailed       EventType = "payment_intent.payment_failed"
	EventUnhandled           EventType = "unhandled"
)

// ParseEventType maps a provider event name to an EventType.
// Unknown names map to EventUnhandled, never to an error: the pipeline
// acknowledges events it does not need.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoiceFailed, EventPaymentSucceeded, EventPaymentFailed:
		return EventType(s)
	default:
		return EventUnhandled
	}
}

// Customer is the internal customer entity. Immutable once created except Email.
type Customer struct {
	ID                 string
	ProviderCustomerID string
	Email              string
	CreatedAt          time.Time
}

// SubscriptionRecord is the internal view of one provider subscription.
// Status moves only through the state machine; Version is the optimistic
// concurrency counter bumped by the store on every committed write.
type SubscriptionRecord struct {
	ID                     string
	CustomerID             string
	Tier                   Tier
	Status                 Status
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	ProviderSubscriptionID string
	LastEventID            string
	LastEventAt            time.Time
	Version                uint64
}

// InboundEvent is a verified, normalized provider event. The provider layer
// fills the Provider* identifiers and payload fields; the Coordinator resolves
// CustomerID before the state machine runs.
type InboundEvent struct {
	// ID is the provider-assigned event id, globally unique; dedup key.
	ID   string
	Type EventType

	// ProviderSubscriptionID is set for subscription and invoice events.
	ProviderSubscriptionID string
	// ProviderPaymentID is set for payment_intent events (one-time path).
	ProviderPaymentID  string
	ProviderCustomerID string

	// CustomerID is the resolved internal customer id. Populated by the
	// Coordinator, not the provider layer.
	CustomerID string

	Tier              Tier
	Status            Status
	TrialEnd          time.Time
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	AmountCents       int64

	// OccurredAt is the provider-assigned event timestamp used by the
	// stale-event guard. ReceivedAt is local receipt time.
	OccurredAt time.Time
	ReceivedAt time.Time
}

// ActionKind is the kind of entitlement side effect a transition requests.
type ActionKind string

const (
	// ActionGrant sets the customer's entitlement to a tier
	ActionGrant ActionKind = "grant"
	// ActionRevoke clears the customer's entitlement
	ActionRevoke ActionKind = "revoke"
	// ActionExtend bumps the entitlement expiry to max(current, Until)
	ActionExtend ActionKind = "extend"
)

// ProvisioningAction is an idempotent entitlement side effect. IdempotencyKey
// is derived from the subscription id and the target status, so replays of
// different events that converge on the same state collapse to one effect.
type ProvisioningAction struct {
	CustomerID     string
	Kind           ActionKind
	Tier           Tier
	Until          time.Time
	OneTime        bool
	IdempotencyKey string
}

// actionKey builds the deterministic idempotency key for subscription-driven
// actions. Never derived from the event id.
func actionKey(providerSubscriptionID string, target Status, kind ActionKind) string {
	return fmt.Sprintf("%s:%s:%s", providerSubscriptionID, target, kind)
}

// oneTimeKey builds the idempotency key for one-time payment actions, which
// have no subscription; the payment intent id identifies the purchase.
func oneTimeKey(providerPaymentID string, kind ActionKind) string {
	return fmt.Sprintf("pi:%s:%s", providerPaymentID, kind)
}

// NotificationKind enumerates outbound customer notifications.
type NotificationKind string

const (
	NotifyPaymentFailed        NotificationKind = "payment_failed"
	NotifyPaymentRecovered     NotificationKind = "payment_recovered"
	NotifySubscriptionCanceled NotificationKind = "subscription_canceled"
	NotifyOneTimeFailed        NotificationKind = "one_time_payment_failed"
)

// Notification is a fire-and-forget outbound message request.
type Notification struct {
	CustomerID string
	Kind       NotificationKind
}
