package entitle

// TransitionKind classifies what a transition computed.
type TransitionKind string

const (
	// TransitionApplied means the record changed and must be committed
	TransitionApplied TransitionKind = "applied"
	// TransitionStale means the event is older than the last applied event;
	// the record is untouched and the event is acknowledged
	TransitionStale TransitionKind = "stale"
	// TransitionIgnored means the event does not apply (unhandled type,
	// unmet precondition, or terminal record); acknowledged, no effects
	TransitionIgnored TransitionKind = "ignored"
	// TransitionDetached means no record change but side effects follow
	// (one-time payment path, keyed by customer only)
	TransitionDetached TransitionKind = "detached"
)

// Outcome is the result of one state-machine step: the updated record copy
// (valid when Kind is TransitionApplied; ID empty for brand-new records),
// the idempotent side effects to apply, and notifications to send.
type Outcome struct {
	Kind          TransitionKind
	Record        SubscriptionRecord
	Actions       []ProvisioningAction
	Notifications []Notification
}

// Transition maps (current record, incoming event) to a new record and side
// effects. Pure and total: no I/O, never fails; pairs outside the transition
// table come back as TransitionIgnored. rec is nil when no record exists for
// the event's provider subscription id; the caller passes a copy it owns.
//
// Out-of-order delivery is handled here, not by queueing: an event strictly
// older than the record's last applied event is a no-op. Equal timestamps
// reapply, which is safe because every action is idempotent; that is what
// makes redelivery after a crash between commit and provisioning converge.
func Transition(rec *SubscriptionRecord, ev *InboundEvent) Outcome {
	switch ev.Type {
	case EventPaymentSucceeded:
		return Outcome{
			Kind: TransitionDetached,
			Actions: []ProvisioningAction{{
				CustomerID:     ev.CustomerID,
				Kind:           ActionGrant,
				Tier:           ev.Tier,
				OneTime:        true,
				IdempotencyKey: oneTimeKey(ev.ProviderPaymentID, ActionGrant),
			}},
		}
	case EventPaymentFailed:
		return Outcome{
			Kind: TransitionDetached,
			Actions: []ProvisioningAction{{
				CustomerID:     ev.CustomerID,
				Kind:           ActionRevoke,
				OneTime:        true,
				IdempotencyKey: oneTimeKey(ev.ProviderPaymentID, ActionRevoke),
			}},
			Notifications: []Notification{{CustomerID: ev.CustomerID, Kind: NotifyOneTimeFailed}},
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoiceFailed:
		// fall through to the subscription table below
	default:
		return Outcome{Kind: TransitionIgnored}
	}

	if rec == nil {
		if ev.Type != EventSubscriptionCreated {
			// Invoice or lifecycle event for a subscription we never saw;
			// nothing to update, nothing to provision.
			return Outcome{Kind: TransitionIgnored}
		}
		return applyCreated(SubscriptionRecord{
			CustomerID:             ev.CustomerID,
			ProviderSubscriptionID: ev.ProviderSubscriptionID,
		}, ev)
	}

	// Canceled is terminal. A fresh created event for a new subscription id
	// never reaches this point: it is looked up under its own id and lands
	// on the rec == nil path above.
	if rec.Status.Terminal() {
		return Outcome{Kind: TransitionIgnored}
	}

	if ev.OccurredAt.Before(rec.LastEventAt) {
		return Outcome{Kind: TransitionStale}
	}

	next := *rec

	switch ev.Type {
	case EventSubscriptionCreated:
		return applyCreated(next, ev)

	case EventSubscriptionUpdated:
		switch rec.Status {
		case StatusTrialing, StatusActive, StatusPastDue:
		default:
			return Outcome{Kind: TransitionIgnored}
		}
		if ev.Status != "" {
			next.Status = ev.Status
		}
		if ev.Tier != "" {
			next.Tier = ev.Tier
		}
		applyPeriod(&next, ev)
		next.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		stamp(&next, ev)

		if next.Status == StatusCanceled {
			// Provider reported the cancellation through an update instead of
			// a deleted event; same end state, same side effect.
			return Outcome{
				Kind:   TransitionApplied,
				Record: next,
				Actions: []ProvisioningAction{{
					CustomerID:     next.CustomerID,
					Kind:           ActionRevoke,
					IdempotencyKey: actionKey(next.ProviderSubscriptionID, next.Status, ActionRevoke),
				}},
				Notifications: []Notification{{CustomerID: next.CustomerID, Kind: NotifySubscriptionCanceled}},
			}
		}

		var action ProvisioningAction
		if next.Tier != rec.Tier {
			action = ProvisioningAction{
				CustomerID:     next.CustomerID,
				Kind:           ActionGrant,
				Tier:           next.Tier,
				IdempotencyKey: actionKey(next.ProviderSubscriptionID, next.Status, ActionGrant),
			}
		} else {
			action = ProvisioningAction{
				CustomerID:     next.CustomerID,
				Kind:           ActionExtend,
				Until:          next.CurrentPeriodEnd,
				IdempotencyKey: actionKey(next.ProviderSubscriptionID, next.Status, ActionExtend),
			}
		}
		return Outcome{Kind: TransitionApplied, Record: next, Actions: []ProvisioningAction{action}}

	case EventSubscriptionDeleted:
		next.Status = StatusCanceled
		next.CancelAtPeriodEnd = false
		stamp(&next, ev)
		return Outcome{
			Kind:   TransitionApplied,
			Record: next,
			Actions: []ProvisioningAction{{
				CustomerID:     next.CustomerID,
				Kind:           ActionRevoke,
				IdempotencyKey: actionKey(next.ProviderSubscriptionID, StatusCanceled, ActionRevoke),
			}},
			Notifications: []Notification{{CustomerID: next.CustomerID, Kind: NotifySubscriptionCanceled}},
		}

	case EventInvoicePaid:
		switch rec.Status {
		case StatusActive, StatusPastDue, StatusIncomplete:
		default:
			return Outcome{Kind: TransitionIgnored}
		}
		recovered := rec.Status == StatusPastDue
		next.Status = StatusActive
		applyPeriod(&next, ev)
		stamp(&next, ev)
		out := Outcome{
			Kind:   TransitionApplied,
			Record: next,
			Actions: []ProvisioningAction{{
				CustomerID:     next.CustomerID,
				Kind:           ActionExtend,
				Until:          next.CurrentPeriodEnd,
				IdempotencyKey: actionKey(next.ProviderSubscriptionID, StatusActive, ActionExtend),
			}},
		}
		if recovered {
			out.Notifications = []Notification{{CustomerID: next.CustomerID, Kind: NotifyPaymentRecovered}}
		}
		return out

	case EventInvoiceFailed:
		switch rec.Status {
		case StatusActive, StatusTrialing:
		default:
			return Outcome{Kind: TransitionIgnored}
		}
		next.Status = StatusPastDue
		stamp(&next, ev)
		// Notify only: the provider keeps retrying the charge; revocation
		// waits for the deleted event if dunning fails for good.
		return Outcome{
			Kind:          TransitionApplied,
			Record:        next,
			Notifications: []Notification{{CustomerID: next.CustomerID, Kind: NotifyPaymentFailed}},
		}
	}

	return Outcome{Kind: TransitionIgnored}
}

// applyCreated fills a record from a created event. Trialing when the trial
// window extends past the event time, Active otherwise.
func applyCreated(next SubscriptionRecord, ev *InboundEvent) Outcome {
	if !ev.TrialEnd.IsZero() && ev.TrialEnd.After(ev.OccurredAt) {
		next.Status = StatusTrialing
	} else {
		next.Status = StatusActive
	}
	next.Tier = ev.Tier
	applyPeriod(&next, ev)
	next.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	stamp(&next, ev)
	return Outcome{
		Kind:   TransitionApplied,
		Record: next,
		Actions: []ProvisioningAction{{
			CustomerID:     next.CustomerID,
			Kind:           ActionGrant,
			Tier:           next.Tier,
			IdempotencyKey: actionKey(next.ProviderSubscriptionID, next.Status, ActionGrant),
		}},
	}
}

func applyPeriod(rec *SubscriptionRecord, ev *InboundEvent) {
	if !ev.PeriodStart.IsZero() {
		rec.CurrentPeriodStart = ev.PeriodStart
	}
	if !ev.PeriodEnd.IsZero() {
		rec.CurrentPeriodEnd = ev.PeriodEnd
	}
}

func stamp(rec *SubscriptionRecord, ev *InboundEvent) {
	rec.LastEventID = ev.ID
	rec.LastEventAt = ev.OccurredAt
}
