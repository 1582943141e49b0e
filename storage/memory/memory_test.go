package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goentitle/pkg/entitle"
)

func TestStore_CreateGetCustomer(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.GetCustomer(ctx, "missing")
	require.ErrorIs(t, err, entitle.ErrCustomerNotFound)

	c := &entitle.Customer{
		ProviderCustomerID: "cus_123",
		Email:              "jane@example.com",
	}
	require.NoError(t, store.CreateCustomer(ctx, c))
	require.NotEmpty(t, c.ID, "customer id should be minted")

	retrieved, err := store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_123", retrieved.ProviderCustomerID)

	byPID, err := store.GetCustomerByProviderID(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byPID.ID)
}

func TestStore_CreateCustomer_Duplicate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, &entitle.Customer{ProviderCustomerID: "cus_123"}))

	err := store.CreateCustomer(ctx, &entitle.Customer{ProviderCustomerID: "cus_123"})
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)
}

func TestStore_CreateGetSubscription(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.GetSubscriptionByProviderID(ctx, "sub_123")
	require.ErrorIs(t, err, entitle.ErrRecordNotFound)

	rec := &entitle.SubscriptionRecord{
		ProviderSubscriptionID: "sub_123",
		CustomerID:             "cust-1",
		Status:                 entitle.StatusActive,
		Tier:                   entitle.TierPro,
	}
	require.NoError(t, store.CreateSubscription(ctx, rec))
	assert.Equal(t, uint64(1), rec.Version)

	retrieved, err := store.GetSubscriptionByProviderID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, entitle.StatusActive, retrieved.Status)
	assert.Equal(t, uint64(1), retrieved.Version)

	dup := &entitle.SubscriptionRecord{ProviderSubscriptionID: "sub_123", CustomerID: "cust-2"}
	assert.ErrorIs(t, store.CreateSubscription(ctx, dup), entitle.ErrAlreadyExists)
}

func TestStore_CompareAndSwap(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	rec := &entitle.SubscriptionRecord{
		ProviderSubscriptionID: "sub_123",
		CustomerID:             "cust-1",
		Status:                 entitle.StatusTrialing,
		Tier:                   entitle.TierStarter,
	}
	require.NoError(t, store.CreateSubscription(ctx, rec))

	rec.Status = entitle.StatusActive
	require.NoError(t, store.CompareAndSwap(ctx, rec, 1))
	assert.Equal(t, uint64(2), rec.Version)

	// Stale version
	stale := *rec
	stale.Status = entitle.StatusPastDue
	assert.ErrorIs(t, store.CompareAndSwap(ctx, &stale, 1), entitle.ErrVersionConflict)

	// The losing write must not be visible
	current, err := store.GetSubscription(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entitle.StatusActive, current.Status)
}

func TestStore_CompareAndSwap_Missing(t *testing.T) {
	store := NewStore()

	rec := &entitle.SubscriptionRecord{ID: "missing", ProviderSubscriptionID: "sub_x"}
	err := store.CompareAndSwap(context.Background(), rec, 1)
	assert.ErrorIs(t, err, entitle.ErrRecordNotFound)
}

func TestStore_CompareAndSwap_Concurrent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	rec := &entitle.SubscriptionRecord{
		ProviderSubscriptionID: "sub_race",
		CustomerID:             "cust-1",
		Status:                 entitle.StatusActive,
		Tier:                   entitle.TierPro,
	}
	require.NoError(t, store.CreateSubscription(ctx, rec))

	const writers = 20
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			attempt := *rec
			if err := store.CompareAndSwap(ctx, &attempt, 1); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	winCount := 0
	for range wins {
		winCount++
	}
	assert.Equal(t, 1, winCount, "exactly one CAS at version 1 may win")

	current, err := store.GetSubscription(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current.Version)
}

func TestDedup_AdmitOnce(t *testing.T) {
	dedup := NewDedup(0)
	ctx := context.Background()

	admitted, err := dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, admitted, "first admit should succeed")

	admitted, err = dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, admitted, "second admit should be rejected")
}

func TestDedup_Release(t *testing.T) {
	dedup := NewDedup(0)
	ctx := context.Background()

	_, err := dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)
	require.NoError(t, dedup.Release(ctx, "evt_1"))

	admitted, err := dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, admitted, "admit after release should succeed")
}

func TestDedup_Concurrent(t *testing.T) {
	dedup := NewDedup(0)
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	admits := make(chan bool, goroutines)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			admitted, err := dedup.Admit(ctx, "evt_shared")
			if err != nil {
				t.Errorf("Admit failed: %v", err)
				return
			}
			admits <- admitted
		}()
	}
	wg.Wait()
	close(admits)

	admitted := 0
	for ok := range admits {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted, "exactly one concurrent admit may win")
}

func TestDedup_Expiry(t *testing.T) {
	dedup := NewDedup(10 * time.Millisecond)
	ctx := context.Background()

	_, err := dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	admitted, err := dedup.Admit(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, admitted, "admit after retention should succeed")
}

func TestEntitlements_GrantRevoke(t *testing.T) {
	ents := NewEntitlements()
	ctx := context.Background()

	_, ok := ents.Get("cust-1")
	require.False(t, ok, "no entitlement before grant")

	require.NoError(t, ents.Grant(ctx, "cust-1", entitle.TierPro))
	ent, ok := ents.Get("cust-1")
	require.True(t, ok)
	assert.Equal(t, entitle.TierPro, ent.Tier)

	// Granting again is a no-op from the outside
	require.NoError(t, ents.Grant(ctx, "cust-1", entitle.TierPro))

	require.NoError(t, ents.Revoke(ctx, "cust-1"))
	_, ok = ents.Get("cust-1")
	assert.False(t, ok, "no entitlement after revoke")
}

func TestEntitlements_ExtendOnlyForward(t *testing.T) {
	ents := NewEntitlements()
	ctx := context.Background()

	far := time.Now().UTC().Add(48 * time.Hour)
	near := time.Now().UTC().Add(24 * time.Hour)

	require.NoError(t, ents.Extend(ctx, "cust-1", far))
	require.NoError(t, ents.Extend(ctx, "cust-1", near))

	ent, _ := ents.Get("cust-1")
	assert.True(t, ent.ExpiresAt.Equal(far), "expiry must not move backwards")
}
