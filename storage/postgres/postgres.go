// Package postgres provides a PostgreSQL implementation of the
// entitle.RecordStore and entitle.Deduplicator interfaces. Versioned writes
// use a conditional UPDATE so the version check and the write are one
// statement; dedup admission uses INSERT ... ON CONFLICT DO NOTHING.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Schema is the DDL this store expects. Apply it with your migration
// tooling of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
	id                   TEXT PRIMARY KEY,
	provider_customer_id TEXT NOT NULL UNIQUE,
	email                TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                       TEXT PRIMARY KEY,
	provider_subscription_id TEXT NOT NULL UNIQUE,
	customer_id              TEXT NOT NULL REFERENCES customers(id),
	status                   TEXT NOT NULL,
	tier                     TEXT NOT NULL,
	cancel_at_period_end     BOOLEAN NOT NULL DEFAULT FALSE,
	period_start             TIMESTAMPTZ,
	period_end               TIMESTAMPTZ,
	last_event_id            TEXT NOT NULL DEFAULT '',
	last_event_at            TIMESTAMPTZ,
	version                  BIGINT NOT NULL DEFAULT 1,
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id   TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to sweep expired dedup rows
	DedupRetention  time.Duration // How long admitted event ids are remembered
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		DedupRetention:  48 * time.Hour,
	}
}

// Store implements entitle.RecordStore and entitle.Deduplicator using
// PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}
	if config.DedupRetention <= 0 {
		config.DedupRetention = 48 * time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())

	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the connection pool and stops background cleanup.
func (s *Store) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetCustomer implements entitle.RecordStore.
func (s *Store) GetCustomer(ctx context.Context, id string) (*entitle.Customer, error) {
	var c entitle.Customer

	err := s.pool.QueryRow(ctx,
		`SELECT id, provider_customer_id, email, created_at
			FROM customers WHERE id = $1`,
		id).Scan(&c.ID, &c.ProviderCustomerID, &c.Email, &c.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, entitle.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &c, nil
}

// GetCustomerByProviderID implements entitle.RecordStore.
func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*entitle.Customer, error) {
	var c entitle.Customer

	err := s.pool.QueryRow(ctx,
		`SELECT id, provider_customer_id, email, created_at
			FROM customers WHERE provider_customer_id = $1`,
		providerID).Scan(&c.ID, &c.ProviderCustomerID, &c.Email, &c.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, entitle.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &c, nil
}

// CreateCustomer implements entitle.RecordStore.
func (s *Store) CreateCustomer(ctx context.Context, c *entitle.Customer) error {
	if c == nil || c.ProviderCustomerID == "" {
		return fmt.Errorf("invalid customer")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO customers (id, provider_customer_id, email, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider_customer_id) DO NOTHING`,
		c.ID, c.ProviderCustomerID, c.Email, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrAlreadyExists
	}

	return nil
}

// GetSubscription implements entitle.RecordStore.
func (s *Store) GetSubscription(ctx context.Context, id string) (*entitle.SubscriptionRecord, error) {
	return s.getSubscription(ctx, "id", id)
}

// GetSubscriptionByProviderID implements entitle.RecordStore.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*entitle.SubscriptionRecord, error) {
	return s.getSubscription(ctx, "provider_subscription_id", providerID)
}

func (s *Store) getSubscription(ctx context.Context, column, value string) (*entitle.SubscriptionRecord, error) {
	var rec entitle.SubscriptionRecord
	var periodStart, periodEnd, lastEventAt *time.Time
	var status, tier string

	query := fmt.Sprintf(
		`SELECT id, provider_subscription_id, customer_id, status, tier,
				cancel_at_period_end, period_start, period_end,
				last_event_id, last_event_at, version
			FROM subscriptions WHERE %s = $1`, column)

	err := s.pool.QueryRow(ctx, query, value).Scan(
		&rec.ID,
		&rec.ProviderSubscriptionID,
		&rec.CustomerID,
		&status,
		&tier,
		&rec.CancelAtPeriodEnd,
		&periodStart,
		&periodEnd,
		&rec.LastEventID,
		&lastEventAt,
		&rec.Version,
	)

	if err == pgx.ErrNoRows {
		return nil, entitle.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	rec.Status = entitle.Status(status)
	rec.Tier = entitle.Tier(tier)
	if periodStart != nil {
		rec.CurrentPeriodStart = *periodStart
	}
	if periodEnd != nil {
		rec.CurrentPeriodEnd = *periodEnd
	}
	if lastEventAt != nil {
		rec.LastEventAt = *lastEventAt
	}

	return &rec, nil
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

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
				(id, provider_subscription_id, customer_id, status, tier,
				cancel_at_period_end, period_start, period_end,
				last_event_id, last_event_at, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, NOW())
			ON CONFLICT (provider_subscription_id) DO NOTHING`,
		rec.ID, rec.ProviderSubscriptionID, rec.CustomerID,
		string(rec.Status), string(rec.Tier), rec.CancelAtPeriodEnd,
		nullableTime(rec.CurrentPeriodStart), nullableTime(rec.CurrentPeriodEnd),
		rec.LastEventID, nullableTime(rec.LastEventAt))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitle.ErrAlreadyExists
	}

	return nil
}

// CompareAndSwap implements entitle.RecordStore. The version check and the
// write are a single conditional UPDATE.
func (s *Store) CompareAndSwap(ctx context.Context, rec *entitle.SubscriptionRecord, expectedVersion uint64) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
				status = $1,
				tier = $2,
				cancel_at_period_end = $3,
				period_start = $4,
				period_end = $5,
				last_event_id = $6,
				last_event_at = $7,
				version = version + 1,
				updated_at = NOW()
			WHERE id = $8 AND version = $9`,
		string(rec.Status), string(rec.Tier), rec.CancelAtPeriodEnd,
		nullableTime(rec.CurrentPeriodStart), nullableTime(rec.CurrentPeriodEnd),
		rec.LastEventID, nullableTime(rec.LastEventAt),
		rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a version mismatch
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`,
			rec.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check subscription: %w", err)
		}
		if !exists {
			return entitle.ErrRecordNotFound
		}
		return entitle.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	return nil
}

// Admit implements entitle.Deduplicator.
func (s *Store) Admit(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("empty event id")
	}

	expiresAt := time.Now().UTC().Add(s.config.DedupRetention)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, expires_at)
			VALUES ($1, $2)
			ON CONFLICT (event_id) DO NOTHING`,
		eventID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to admit event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Release implements entitle.Deduplicator.
func (s *Store) Release(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to release event: %w", err)
	}
	return nil
}

// startCleanup runs periodic cleanup of expired dedup rows. Uses a
// dedicated context that is canceled via Close().
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredEvents(context.Background()); err != nil {
				// Errors here are retried on the next tick
				_ = err
			}
		}
	}
}

func (s *Store) cleanupExpiredEvents(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	return nil
}

// Cleanup can be called manually to remove expired dedup rows.
func (s *Store) Cleanup(ctx context.Context) error {
	return s.cleanupExpiredEvents(ctx)
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
