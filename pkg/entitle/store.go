package entitle

import "context"

// RecordStore is the persistence boundary for customers and subscription
// records. Implementations must make CompareAndSwap atomic with respect to
// concurrent writers; everything else is plain keyed access.
type RecordStore interface {
	// GetCustomer retrieves a customer by internal id.
	// Returns ErrCustomerNotFound if absent.
	GetCustomer(ctx context.Context, id string) (*Customer, error)

	// GetCustomerByProviderID retrieves a customer by the provider's customer id.
	// Returns ErrCustomerNotFound if absent.
	GetCustomerByProviderID(ctx context.Context, providerID string) (*Customer, error)

	// CreateCustomer stores a new customer. Mints c.ID when empty.
	// Returns ErrAlreadyExists if the provider customer id is already mapped.
	CreateCustomer(ctx context.Context, c *Customer) error

	// GetSubscription retrieves a subscription record by internal id.
	// Returns ErrRecordNotFound if absent.
	GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error)

	// GetSubscriptionByProviderID retrieves a record by the provider's
	// subscription id. Returns ErrRecordNotFound if absent.
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (*SubscriptionRecord, error)

	// CreateSubscription stores a new record with Version 1. Mints rec.ID when
	// empty. Returns ErrAlreadyExists if the provider subscription id is
	// already mapped, which callers treat like a version conflict.
	CreateSubscription(ctx context.Context, rec *SubscriptionRecord) error

	// CompareAndSwap commits rec only if the stored version still equals
	// expectedVersion, bumping rec.Version to expectedVersion+1 on success.
	// Returns ErrVersionConflict when a concurrent writer got there first.
	CompareAndSwap(ctx context.Context, rec *SubscriptionRecord, expectedVersion uint64) error
}

// Deduplicator guarantees each provider event id is applied at most once.
// Admit must be a single atomic check-and-insert, not check-then-insert:
// concurrent deliveries of the same id must admit exactly one caller.
type Deduplicator interface {
	// Admit reserves an event id. Returns false when the id was already
	// admitted within the retention window; a duplicate is a normal outcome,
	// not an error.
	Admit(ctx context.Context, eventID string) (bool, error)

	// Release drops a reservation so the sender's redelivery is not
	// swallowed. Called when the pipeline fails after Admit.
	Release(ctx context.Context, eventID string) error
}
