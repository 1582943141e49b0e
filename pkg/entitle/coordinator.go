package entitle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultProviderName      = "provider"
	defaultCommitAttempts    = 3
	defaultProvisionAttempts = 3
	defaultProvisionTimeout  = 30 * time.Second
)

// Config holds Coordinator configuration. The zero value is usable; every
// field has a default applied by NewCoordinator.
type Config struct {
	// ProviderName labels logs and metrics (e.g. "stripe").
	ProviderName string

	// CommitAttempts bounds reload-and-recompute passes when a
	// compare-and-swap loses the version race (default: 3).
	CommitAttempts int

	// ProvisionAttempts bounds retries per provisioning action for
	// transient failures (default: 3).
	ProvisionAttempts int

	// ProvisionTimeout bounds the whole provisioning step for one event.
	// On expiry the in-flight slot is released and the sender is asked to
	// retry (default: 30s).
	ProvisionTimeout time.Duration

	// OneTimeTier is granted for one-time payments whose payload carries no
	// tier mapping. One-time provisioning is keyed by customer id alone,
	// independent of any subscription record (default: starter).
	OneTimeTier Tier

	// Backoff computes retry delays for conflict and provisioning retries
	// (default: DefaultBackoffStrategy).
	Backoff BackoffStrategy

	// Notifier receives best-effort customer notifications (default: noop).
	Notifier Notifier

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking pipeline operations (default: NoopMetrics).
	Metrics Metrics
}

// DefaultConfig returns a Config with all defaults filled in.
func DefaultConfig() Config {
	return Config{
		ProviderName:      defaultProviderName,
		CommitAttempts:    defaultCommitAttempts,
		ProvisionAttempts: defaultProvisionAttempts,
		ProvisionTimeout:  defaultProvisionTimeout,
		OneTimeTier:       TierStarter,
		Backoff:           DefaultBackoffStrategy(),
		Notifier:          NoopNotifier{},
		Logger:            &NoopLogger{},
		Metrics:           &NoopMetrics{},
	}
}

// ResultStatus classifies what happened to one inbound event.
type ResultStatus string

const (
	// ResultApplied means state and/or entitlements changed
	ResultApplied ResultStatus = "applied"
	// ResultDuplicate means the event id was already admitted; success ack
	// so the sender stops retrying
	ResultDuplicate ResultStatus = "duplicate"
	// ResultStale means the event is older than the last applied one; no-op
	ResultStale ResultStatus = "stale"
	// ResultIgnored means the event does not apply (unhandled type or
	// unmet precondition); acknowledged
	ResultIgnored ResultStatus = "ignored"
	// ResultFailed means processing did not complete; Retryable tells the
	// boundary whether to ask the sender to redeliver
	ResultFailed ResultStatus = "failed"
)

// Result is the terminal outcome of processing one event.
type Result struct {
	Status    ResultStatus
	Err       error
	Retryable bool
}

// Ack reports whether the boundary should acknowledge the event (2xx). A
// failed result means the sender must retry (or, when not retryable, be
// rejected outright).
func (r Result) Ack() bool {
	return r.Status != ResultFailed
}

// Coordinator drives the event pipeline: dedup, state transition, versioned
// commit, idempotent provisioning, and notifications. Safe for concurrent
// use; many events, including events for the same subscription, may be in
// flight at once. The only serialization point is the per-record
// compare-and-swap.
type Coordinator struct {
	store       RecordStore
	dedup       Deduplicator
	provisioner Provisioner
	config      Config
}

// NewCoordinator wires the pipeline. store, dedup and provisioner are
// required; Config defaults are applied for anything unset.
func NewCoordinator(store RecordStore, dedup Deduplicator, provisioner Provisioner, config Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if dedup == nil {
		return nil, fmt.Errorf("deduplicator is required")
	}
	if provisioner == nil {
		return nil, fmt.Errorf("provisioner is required")
	}

	if config.ProviderName == "" {
		config.ProviderName = defaultProviderName
	}
	if config.CommitAttempts <= 0 {
		config.CommitAttempts = defaultCommitAttempts
	}
	if config.ProvisionAttempts <= 0 {
		config.ProvisionAttempts = defaultProvisionAttempts
	}
	if config.ProvisionTimeout <= 0 {
		config.ProvisionTimeout = defaultProvisionTimeout
	}
	if config.OneTimeTier == "" {
		config.OneTimeTier = TierStarter
	}
	if config.Backoff == nil {
		config.Backoff = DefaultBackoffStrategy()
	}
	if config.Notifier == nil {
		config.Notifier = NoopNotifier{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Coordinator{
		store:       store,
		dedup:       dedup,
		provisioner: provisioner,
		config:      config,
	}, nil
}

// Process runs one verified event through the pipeline and returns its
// terminal outcome. The caller owns the HTTP response mapping: Ack() true is
// a 2xx, failed-retryable asks the sender to redeliver.
func (c *Coordinator) Process(ctx context.Context, ev *InboundEvent) Result {
	start := time.Now()
	res := c.process(ctx, ev)

	eventType := "invalid"
	if ev != nil {
		eventType = string(ev.Type)
	}
	c.config.Metrics.RecordEvent(c.config.ProviderName, eventType, string(res.Status))
	c.config.Metrics.RecordProcessingDuration(c.config.ProviderName, eventType, time.Since(start))

	if res.Err != nil {
		c.config.Logger.Error("event processing failed",
			Field{Key: "event_type", Value: eventType},
			Field{Key: "retryable", Value: res.Retryable},
			Field{Key: "error", Value: res.Err},
		)
	}
	return res
}

func (c *Coordinator) process(ctx context.Context, ev *InboundEvent) Result {
	if err := validateEvent(ev); err != nil {
		c.config.Metrics.RecordError(c.config.ProviderName, "invalid_event")
		return Result{Status: ResultFailed, Err: err, Retryable: false}
	}
	if ev.Type == EventUnhandled {
		// Not ours to process; acknowledged so the sender moves on.
		return Result{Status: ResultIgnored}
	}

	admitted, err := c.dedup.Admit(ctx, ev.ID)
	if err != nil {
		c.config.Metrics.RecordError(c.config.ProviderName, "dedup_unavailable")
		return Result{Status: ResultFailed, Err: fmt.Errorf("dedup admit: %w", err), Retryable: true}
	}
	if !admitted {
		c.config.Logger.Debug("duplicate event short-circuited", Field{Key: "event_id", Value: ev.ID})
		return Result{Status: ResultDuplicate}
	}

	res := c.reconcile(ctx, ev)
	if res.Status == ResultFailed {
		// Give the reservation back so the sender's redelivery reaches the
		// pipeline again. The stale-event guard and idempotent actions keep
		// the replay convergent.
		if relErr := c.dedup.Release(ctx, ev.ID); relErr != nil {
			c.config.Logger.Warn("dedup release failed",
				Field{Key: "event_id", Value: ev.ID},
				Field{Key: "error", Value: relErr},
			)
		}
	}
	return res
}

func (c *Coordinator) reconcile(ctx context.Context, ev *InboundEvent) Result {
	evc := *ev

	cust, err := c.resolveCustomer(ctx, &evc)
	if err != nil {
		c.config.Metrics.RecordError(c.config.ProviderName, "customer_resolve_failed")
		return Result{Status: ResultFailed, Err: err, Retryable: true}
	}
	evc.CustomerID = cust.ID

	if evc.Type == EventPaymentSucceeded && evc.Tier == "" {
		evc.Tier = c.config.OneTimeTier
	}

	for attempt := 0; attempt < c.config.CommitAttempts; attempt++ {
		if attempt > 0 {
			c.config.Metrics.RecordConflictRetry(c.config.ProviderName)
			if err := c.wait(ctx, attempt); err != nil {
				return Result{Status: ResultFailed, Err: err, Retryable: true}
			}
		}

		var rec *SubscriptionRecord
		if evc.ProviderSubscriptionID != "" {
			rec, err = c.store.GetSubscriptionByProviderID(ctx, evc.ProviderSubscriptionID)
			if err != nil && !errors.Is(err, ErrRecordNotFound) {
				c.config.Metrics.RecordError(c.config.ProviderName, "store_unavailable")
				return Result{Status: ResultFailed, Err: fmt.Errorf("load record: %w", err), Retryable: true}
			}
		}

		out := Transition(rec, &evc)
		switch out.Kind {
		case TransitionStale:
			c.config.Logger.Debug("stale event, no-op",
				Field{Key: "event_id", Value: evc.ID},
				Field{Key: "subscription", Value: evc.ProviderSubscriptionID},
			)
			return Result{Status: ResultStale}

		case TransitionIgnored:
			return Result{Status: ResultIgnored}

		case TransitionDetached:
			if err := c.provision(ctx, out.Actions); err != nil {
				return c.provisionFailure(err)
			}
			c.notify(ctx, out.Notifications)
			return Result{Status: ResultApplied}

		case TransitionApplied:
			committed := out.Record
			if rec == nil {
				err = c.store.CreateSubscription(ctx, &committed)
				if errors.Is(err, ErrAlreadyExists) {
					// Another delivery created it first; reload and recompute.
					continue
				}
			} else {
				err = c.store.CompareAndSwap(ctx, &committed, rec.Version)
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
			}
			if err != nil {
				c.config.Metrics.RecordError(c.config.ProviderName, "commit_failed")
				return Result{Status: ResultFailed, Err: fmt.Errorf("commit record: %w", err), Retryable: true}
			}

			from := "none"
			if rec != nil {
				from = string(rec.Status)
			}
			c.config.Metrics.RecordTransition(c.config.ProviderName, from, string(committed.Status))
			c.config.Logger.Info("subscription transition committed",
				Field{Key: "subscription", Value: committed.ProviderSubscriptionID},
				Field{Key: "from", Value: from},
				Field{Key: "to", Value: string(committed.Status)},
				Field{Key: "version", Value: committed.Version},
			)

			if err := c.provision(ctx, out.Actions); err != nil {
				// State is committed; redelivery recomputes the same
				// transition and reapplies the idempotent actions.
				return c.provisionFailure(err)
			}
			c.notify(ctx, out.Notifications)
			return Result{Status: ResultApplied}
		}
	}

	c.config.Metrics.RecordError(c.config.ProviderName, "conflict_exhausted")
	return Result{Status: ResultFailed, Err: ErrConflictRetriesExhausted, Retryable: true}
}

// resolveCustomer maps the provider customer id to the internal customer,
// creating a minimal record on first sight. Customer creation races resolve
// through the unique provider id mapping.
func (c *Coordinator) resolveCustomer(ctx context.Context, ev *InboundEvent) (*Customer, error) {
	cust, err := c.store.GetCustomerByProviderID(ctx, ev.ProviderCustomerID)
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, fmt.Errorf("load customer: %w", err)
	}

	cust = &Customer{
		ProviderCustomerID: ev.ProviderCustomerID,
		CreatedAt:          ev.ReceivedAt,
	}
	if cust.CreatedAt.IsZero() {
		cust.CreatedAt = time.Now().UTC()
	}
	err = c.store.CreateCustomer(ctx, cust)
	if errors.Is(err, ErrAlreadyExists) {
		return c.store.GetCustomerByProviderID(ctx, ev.ProviderCustomerID)
	}
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

// provision applies all actions from one transition concurrently under the
// configured timeout. Transient failures retry with backoff; permanent
// failures are logged as defects and not propagated, so the sender is not
// asked to retry an event that can never succeed.
func (c *Coordinator) provision(ctx context.Context, actions []ProvisioningAction) error {
	if len(actions) == 0 {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.config.ProvisionTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(pctx)
	for _, action := range actions {
		action := action
		g.Go(func() error {
			return c.applyWithRetry(gctx, action)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrProvisionTimeout, err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) applyWithRetry(ctx context.Context, action ProvisioningAction) error {
	name := c.config.ProviderName
	var lastErr error

	for attempt := 1; attempt <= c.config.ProvisionAttempts; attempt++ {
		err := c.provisioner.Apply(ctx, action)
		if err == nil {
			c.config.Metrics.RecordProvisioning(name, string(action.Kind), "success")
			return nil
		}

		if errors.Is(err, ErrPermanentProvision) {
			// Handled-with-defect: acknowledged so the sender stops, flagged
			// loudly for manual follow-up.
			c.config.Metrics.RecordProvisioning(name, string(action.Kind), "permanent_failure")
			c.config.Metrics.RecordError(name, "provision_defect")
			c.config.Logger.Error("permanent provisioning failure, manual follow-up required",
				Field{Key: "customer", Value: action.CustomerID},
				Field{Key: "action", Value: string(action.Kind)},
				Field{Key: "idempotency_key", Value: action.IdempotencyKey},
				Field{Key: "error", Value: err},
			)
			return nil
		}

		lastErr = err
		c.config.Metrics.RecordProvisioning(name, string(action.Kind), "retry")
		if attempt < c.config.ProvisionAttempts {
			if werr := c.wait(ctx, attempt); werr != nil {
				return werr
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrTransientProvision, lastErr)
}

func (c *Coordinator) provisionFailure(err error) Result {
	c.config.Metrics.RecordError(c.config.ProviderName, "provision_failed")
	return Result{Status: ResultFailed, Err: err, Retryable: true}
}

// notify delivers notifications best-effort; a failed sink never fails the
// pipeline.
func (c *Coordinator) notify(ctx context.Context, notifications []Notification) {
	for _, n := range notifications {
		if err := c.config.Notifier.Notify(ctx, n.CustomerID, n.Kind); err != nil {
			c.config.Logger.Warn("notification delivery failed",
				Field{Key: "customer", Value: n.CustomerID},
				Field{Key: "kind", Value: string(n.Kind)},
				Field{Key: "error", Value: err},
			)
		}
	}
}

// wait sleeps for the backoff interval of the given attempt, or returns early
// when ctx is done.
func (c *Coordinator) wait(ctx context.Context, attempt int) error {
	d := c.config.Backoff.NextInterval(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateEvent(ev *InboundEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	if ev.Type == EventUnhandled {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing event timestamp", ErrInvalidEvent)
	}
	if ev.ProviderCustomerID == "" {
		return fmt.Errorf("%w: missing provider customer id", ErrInvalidEvent)
	}
	switch ev.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		if ev.ProviderPaymentID == "" {
			return fmt.Errorf("%w: missing payment intent id", ErrInvalidEvent)
		}
	default:
		if ev.ProviderSubscriptionID == "" {
			return fmt.Errorf("%w: missing provider subscription id", ErrInvalidEvent)
		}
	}
	return nil
}
