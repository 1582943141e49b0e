package entitle

import (
	"context"
	"fmt"
	"time"
)

// Provisioner applies entitlement side effects. Apply must be idempotent:
// applying the same action twice leaves the same observable state as once.
// Failures are classified via ErrTransientProvision / ErrPermanentProvision;
// unclassified errors are treated as transient by the Coordinator.
type Provisioner interface {
	Apply(ctx context.Context, action ProvisioningAction) error
}

// EntitlementSink is the downstream resource-access store. All three
// operations are idempotent; all may fail transiently.
type EntitlementSink interface {
	// Grant sets the customer's entitlement to the tier.
	Grant(ctx context.Context, customerID string, tier Tier) error

	// Revoke clears the customer's entitlement.
	Revoke(ctx context.Context, customerID string) error

	// Extend bumps the entitlement expiry to max(current, until).
	Extend(ctx context.Context, customerID string, until time.Time) error
}

// Notifier delivers best-effort customer notifications. Errors are logged
// by the caller and never block the pipeline.
type Notifier interface {
	Notify(ctx context.Context, customerID string, kind NotificationKind) error
}

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

func (NoopNotifier) Notify(_ context.Context, _ string, _ NotificationKind) error { return nil }

// SinkProvisioner adapts an EntitlementSink to the Provisioner interface,
// dispatching on action kind and validating tiers up front so an unknown
// tier surfaces as a permanent failure instead of retrying forever.
type SinkProvisioner struct {
	sink EntitlementSink
}

// NewSinkProvisioner wraps sink as a Provisioner.
func NewSinkProvisioner(sink EntitlementSink) *SinkProvisioner {
	return &SinkProvisioner{sink: sink}
}

// Apply implements Provisioner.
func (p *SinkProvisioner) Apply(ctx context.Context, action ProvisioningAction) error {
	switch action.Kind {
	case ActionGrant:
		if _, err := ParseTier(string(action.Tier)); err != nil {
			return fmt.Errorf("%w: grant with %v", ErrPermanentProvision, err)
		}
		return p.sink.Grant(ctx, action.CustomerID, action.Tier)
	case ActionRevoke:
		return p.sink.Revoke(ctx, action.CustomerID)
	case ActionExtend:
		if action.Until.IsZero() {
			return fmt.Errorf("%w: extend without target date", ErrPermanentProvision)
		}
		return p.sink.Extend(ctx, action.CustomerID, action.Until)
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrPermanentProvision, action.Kind)
	}
}
