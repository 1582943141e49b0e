// Package memory provides in-memory implementations of the
// entitle.RecordStore, entitle.Deduplicator and entitle.EntitlementSink
// interfaces. Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Store implements entitle.RecordStore using in-memory maps.
type Store struct {
	mu               sync.RWMutex
	customers        map[string]*entitle.Customer
	customersByPID   map[string]string
	subscriptions    map[string]*entitle.SubscriptionRecord
	subscriptionsPID map[string]string
}

// NewStore creates a new in-memory record store.
func NewStore() *Store {
	return &Store{
		customers:        make(map[string]*entitle.Customer),
		customersByPID:   make(map[string]string),
		subscriptions:    make(map[string]*entitle.SubscriptionRecord),
		subscriptionsPID: make(map[string]string),
	}
}

// GetCustomer implements entitle.RecordStore.
func (s *Store) GetCustomer(ctx context.Context, id string) (*entitle.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, entitle.ErrCustomerNotFound
	}

	// Return a copy to prevent external mutations
	cCopy := *c
	return &cCopy, nil
}

// GetCustomerByProviderID implements entitle.RecordStore.
func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*entitle.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customersByPID[providerID]
	if !ok {
		return nil, entitle.ErrCustomerNotFound
	}

	cCopy := *s.customers[id]
	return &cCopy, nil
}

// CreateCustomer implements entitle.RecordStore.
func (s *Store) CreateCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" {
		return fmt.Errorf("invalid customer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByPID[c.ProviderCustomerID]; ok {
		return entitle.ErrAlreadyExists
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	cCopy := *c
	s.customers[c.ID] = &cCopy
	s.customersByPID[c.ProviderCustomerID] = c.ID
	return nil
}

// GetSubscription implements entitle.RecordStore.
func (s *Store) GetSubscription(ctx context.Context, id string) (*entitle.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subscriptions[id]
	if !ok {
		return nil, entitle.ErrRecordNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// GetSubscriptionByProviderID implements entitle.RecordStore.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*entitle.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.subscriptionsPID[providerID]
	if !ok {
		return nil, entitle.ErrRecordNotFound
	}

	recCopy := *s.subscriptions[id]
	return &recCopy, nil
}

// CreateSubscription implements entitle.RecordStore. The record's ID is
// minted if empty and its version is set to 1.
func (s *Store) CreateSubscription(ctx context.Context, rec *entitle.SubscriptionRecord) error {
	if rec == nil || rec.ProviderSubscriptionID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptionsPID[rec.ProviderSubscriptionID]; ok {
		return entitle.ErrAlreadyExists
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1

	recCopy := *rec
	s.subscriptions[rec.ID] = &recCopy
	s.subscriptionsPID[rec.ProviderSubscriptionID] = rec.ID
	return nil
}

// CompareAndSwap implements entitle.RecordStore. The version check and the
// write happen under a single lock.
func (s *Store) CompareAndSwap(ctx context.Context, rec *entitle.SubscriptionRecord, expectedVersion uint64) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subscriptions[rec.ID]
	if !ok {
		return entitle.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return entitle.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	recCopy := *rec
	s.subscriptions[rec.ID] = &recCopy
	return nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = make(map[string]*entitle.Customer)
	s.customersByPID = make(map[string]string)
	s.subscriptions = make(map[string]*entitle.SubscriptionRecord)
	s.subscriptionsPID = make(map[string]string)
}

// DefaultRetention is how long admitted event ids are remembered.
const DefaultRetention = 48 * time.Hour

// Dedup implements entitle.Deduplicator with a bounded-retention in-memory
// ledger. Eviction is lazy: every sweepEach-th insert scans for expired
// entries.
type Dedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	inserts   int
	sweepEach int
}

// NewDedup creates an in-memory deduplicator. A retention <= 0 uses
// DefaultRetention.
func NewDedup(retention time.Duration) *Dedup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Dedup{
		seen:      make(map[string]time.Time),
		retention: retention,
		sweepEach: 256,
	}
}

// Admit implements entitle.Deduplicator.
func (d *Dedup) Admit(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("empty event id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.inserts++
	if d.inserts%d.sweepEach == 0 {
		d.sweepExpired(now)
	}

	if firstSeen, ok := d.seen[eventID]; ok && now.Sub(firstSeen) < d.retention {
		return false, nil
	}
	d.seen[eventID] = now
	return true, nil
}

// Release implements entitle.Deduplicator.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, eventID)
	return nil
}

// Sweep removes all expired entries immediately.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepExpired(time.Now())
}

func (d *Dedup) sweepExpired(now time.Time) {
	for id, firstSeen := range d.seen {
		if now.Sub(firstSeen) >= d.retention {
			delete(d.seen, id)
		}
	}
}

// Entitlement is the observable resource-access state for one customer.
type Entitlement struct {
	Tier      entitle.Tier
	ExpiresAt time.Time
}

// Entitlements implements entitle.EntitlementSink over an in-memory map.
type Entitlements struct {
	mu     sync.RWMutex
	grants map[string]Entitlement
}

// NewEntitlements creates an in-memory entitlement sink.
func NewEntitlements() *Entitlements {
	return &Entitlements{grants: make(map[string]Entitlement)}
}

// Grant implements entitle.EntitlementSink.
func (e *Entitlements) Grant(ctx context.Context, customerID string, tier entitle.Tier) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.grants[customerID]
	ent.Tier = tier
	e.grants[customerID] = ent
	return nil
}

// Revoke implements entitle.EntitlementSink.
func (e *Entitlements) Revoke(ctx context.Context, customerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.grants, customerID)
	return nil
}

// Extend implements entitle.EntitlementSink. Expiry only ever moves
// forward: max(current, until).
func (e *Entitlements) Extend(ctx context.Context, customerID string, until time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.grants[customerID]
	if until.After(ent.ExpiresAt) {
		ent.ExpiresAt = until
	}
	e.grants[customerID] = ent
	return nil
}

// Get returns the entitlement for a customer and whether one exists.
func (e *Entitlements) Get(customerID string) (Entitlement, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.grants[customerID]
	return ent, ok
}
