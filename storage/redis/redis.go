// Package redis provides Redis implementations of the entitle.RecordStore
// and entitle.Deduplicator interfaces. Versioned writes use Lua scripts so
// the version check and the update are a single atomic operation.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goentitle:")
	KeyPrefix string

	// DedupRetention is how long admitted event ids are remembered
	// (default: 48h)
	DedupRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "goentitle:",
		DedupRetention: 48 * time.Hour,
	}
}

// Store implements entitle.RecordStore and entitle.Deduplicator using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "goentitle:"
	}
	if config.DedupRetention <= 0 {
		config.DedupRetention = 48 * time.Hour
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// Create a record and its provider-id index entry atomically.
	// Fails if the index entry already exists.
	s.scripts["create"] = redis.NewScript(`
		local recordKey = KEYS[1]
		local indexKey = KEYS[2]
		local id = ARGV[1]
		local data = ARGV[2]

		local claimed = redis.call('SETNX', indexKey, id)
		if claimed == 0 then
			return 'exists'
		end

		redis.call('HSET', recordKey, 'version', 1, 'data', data)
		return 'ok'
	`)

	// Compare-and-swap a record by version.
	s.scripts["cas"] = redis.NewScript(`
		local recordKey = KEYS[1]
		local expected = tonumber(ARGV[1])
		local data = ARGV[2]

		local current = redis.call('HGET', recordKey, 'version')
		if not current then
			return 'not_found'
		end
		if tonumber(current) ~= expected then
			return 'conflict'
		end

		redis.call('HSET', recordKey, 'version', expected + 1, 'data', data)
		return 'ok'
	`)
}

// GetCustomer implements entitle.RecordStore.
func (s *Store) GetCustomer(ctx context.Context, id string) (*entitle.Customer, error) {
	data, err := s.client.Get(ctx, s.customerKey(id)).Bytes()
	if err == redis.Nil {
		return nil, entitle.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	var c entitle.Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}

	return &c, nil
}

// GetCustomerByProviderID implements entitle.RecordStore.
func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*entitle.Customer, error) {
	id, err := s.client.Get(ctx, s.customerIndexKey(providerID)).Result()
	if err == redis.Nil {
		return nil, entitle.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer index: %w", err)
	}

	return s.GetCustomer(ctx, id)
}

// CreateCustomer implements entitle.RecordStore.
func (s *Store) CreateCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" {
		return fmt.Errorf("invalid customer")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, s.customerIndexKey(c.ProviderCustomerID), c.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim customer index: %w", err)
	}
	if !claimed {
		return entitle.ErrAlreadyExists
	}

	if err := s.client.Set(ctx, s.customerKey(c.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}

	return nil
}

// GetSubscription implements entitle.RecordStore.
func (s *Store) GetSubscription(ctx context.Context, id string) (*entitle.SubscriptionRecord, error) {
	results, err := s.client.HMGet(ctx, s.subscriptionKey(id), "version", "data").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(results) != 2 || results[0] == nil || results[1] == nil {
		return nil, entitle.ErrRecordNotFound
	}

	dataStr, ok := results[1].(string)
	if !ok {
		return nil, fmt.Errorf("invalid data format")
	}

	var rec entitle.SubscriptionRecord
	if err := json.Unmarshal([]byte(dataStr), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	// The hash 'version' field is authoritative; the copy inside the JSON
	// payload is whatever was current at write time.
	if versionStr, ok := results[0].(string); ok {
		var version uint64
		if _, err := fmt.Sscanf(versionStr, "%d", &version); err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		rec.Version = version
	}

	return &rec, nil
}

// GetSubscriptionByProviderID implements entitle.RecordStore.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*entitle.SubscriptionRecord, error) {
	id, err := s.client.Get(ctx, s.subscriptionIndexKey(providerID)).Result()
	if err == redis.Nil {
		return nil, entitle.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscription index: %w", err)
	}

	return s.GetSubscription(ctx, id)
}

// CreateSubscription implements entitle.RecordStore.
func (s *Store) CreateSubscription(ctx context.Context, rec *entitle.SubscriptionRecord) error {
	if rec == nil || rec.ProviderSubscriptionID == "" {
		return fmt.Errorf("invalid subscription record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	result, err := s.scripts["create"].Run(
		ctx,
		s.client,
		[]string{s.subscriptionKey(rec.ID), s.subscriptionIndexKey(rec.ProviderSubscriptionID)},
		rec.ID,
		string(data),
	).Result()
	if err != nil {
		return fmt.Errorf("failed to execute create script: %w", err)
	}

	if result == "exists" {
		return entitle.ErrAlreadyExists
	}

	return nil
}

// CompareAndSwap implements entitle.RecordStore.
func (s *Store) CompareAndSwap(ctx context.Context, rec *entitle.SubscriptionRecord, expectedVersion uint64) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	rec.Version = expectedVersion + 1
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	result, err := s.scripts["cas"].Run(
		ctx,
		s.client,
		[]string{s.subscriptionKey(rec.ID)},
		expectedVersion,
		string(data),
	).Result()
	if err != nil {
		return fmt.Errorf("failed to execute cas script: %w", err)
	}

	switch result {
	case "not_found":
		return entitle.ErrRecordNotFound
	case "conflict":
		rec.Version = expectedVersion
		return entitle.ErrVersionConflict
	}

	return nil
}

// Admit implements entitle.Deduplicator. SET NX with the retention TTL is
// the whole check-and-insert.
func (s *Store) Admit(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("empty event id")
	}

	admitted, err := s.client.SetNX(ctx, s.dedupKey(eventID), "1", s.config.DedupRetention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to admit event: %w", err)
	}

	return admitted, nil
}

// Release implements entitle.Deduplicator.
func (s *Store) Release(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.dedupKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release event: %w", err)
	}
	return nil
}

// customerKey generates the Redis key for a customer record
func (s *Store) customerKey(id string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, id)
}

// customerIndexKey generates the Redis key for the provider-customer-id index
func (s *Store) customerIndexKey(providerID string) string {
	return fmt.Sprintf("%scustomer_pid:%s", s.config.KeyPrefix, providerID)
}

// subscriptionKey generates the Redis key for a subscription record
func (s *Store) subscriptionKey(id string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, id)
}

// subscriptionIndexKey generates the Redis key for the provider-subscription-id index
func (s *Store) subscriptionIndexKey(providerID string) string {
	return fmt.Sprintf("%ssub_pid:%s", s.config.KeyPrefix, providerID)
}

// dedupKey generates the Redis key for an admitted event id
func (s *Store) dedupKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.config.KeyPrefix, eventID)
}

// Close closes the Redis client connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
