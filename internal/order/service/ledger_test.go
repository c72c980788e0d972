package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
)

func setupLedger(t *testing.T) (*Ledger, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderdomain.Resource{}, &orderdomain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))

	ledger := NewLedger(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   config.Config{ReservationWindow: 15 * time.Minute},
	}).(*Ledger)
	return ledger, db, fake
}

func seedResource(t *testing.T, db *gorm.DB, ledger *Ledger, kind orderdomain.ResourceKind, price string) snowflake.ID {
	t.Helper()
	p, err := decimal.NewFromString(price)
	require.NoError(t, err)
	resource := &orderdomain.Resource{
		ID:     ledger.genID.Generate(),
		Kind:   kind,
		Label:  "res-" + price,
		Status: orderdomain.ResourceStatusAvailable,
		Price:  p,
	}
	require.NoError(t, db.Create(resource).Error)
	return resource.ID
}

func loadResource(t *testing.T, db *gorm.DB, id snowflake.ID) orderdomain.Resource {
	t.Helper()
	var resource orderdomain.Resource
	require.NoError(t, db.First(&resource, "id = ?", id).Error)
	return resource
}

func loadOrder(t *testing.T, db *gorm.DB, id snowflake.ID) orderdomain.Order {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, db.First(&order, "id = ?", id).Error)
	return order
}

func TestCreateOrder_ReservesResources(t *testing.T) {
	ledger, db, fake := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")
	server := seedResource(t, db, ledger, orderdomain.ResourceKindServer, "20.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did, server})
	require.NoError(t, err)
	assert.Equal(t, "25", order.Total.String())
	assert.Equal(t, fake.Now().Add(15*time.Minute), order.ExpiresAt)
	assert.Equal(t, orderdomain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, orderdomain.OrderStatusPending, order.OrderStatus)

	for _, id := range []snowflake.ID{did, server} {
		resource := loadResource(t, db, id)
		assert.Equal(t, orderdomain.ResourceStatusReserved, resource.Status)
		require.NotNil(t, resource.OrderID)
		assert.Equal(t, order.ID, *resource.OrderID)
	}
}

func TestCreateOrder_EmptyAndMissing(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateOrder(ctx, 7, nil)
	assert.ErrorIs(t, err, orderdomain.ErrEmptyOrder)

	_, err = ledger.CreateOrder(ctx, 7, []snowflake.ID{snowflake.ID(12345)})
	assert.ErrorIs(t, err, orderdomain.ErrResourceNotFound)
}

func TestCreateOrder_ConflictLeavesNoPartialState(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	contested := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")
	free := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	first, err := ledger.CreateOrder(ctx, 1, []snowflake.ID{contested})
	require.NoError(t, err)

	_, err = ledger.CreateOrder(ctx, 2, []snowflake.ID{contested, free})
	require.Error(t, err)
	assert.ErrorIs(t, err, orderdomain.ErrResourceConflict)

	var conflict *orderdomain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []snowflake.ID{contested}, conflict.ResourceIDs)

	// The losing attempt rolled back completely: the free resource is
	// still available and the contested one still belongs to order 1.
	assert.Equal(t, orderdomain.ResourceStatusAvailable, loadResource(t, db, free).Status)
	res := loadResource(t, db, contested)
	assert.Equal(t, orderdomain.ResourceStatusReserved, res.Status)
	assert.Equal(t, first.ID, *res.OrderID)

	var orders int64
	require.NoError(t, db.Model(&orderdomain.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
}

func TestCreateOrder_ConcurrentReservationIsExclusive(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	contested := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	// One pool connection keeps the in-memory database shared across
	// goroutines and serializes the transactions; the conditional
	// status update inside reserveTx is what picks the winner.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for userID := int64(1); userID <= 2; userID++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := ledger.CreateOrder(ctx, userID, []snowflake.ID{contested})
			results <- err
		}(userID)
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, orderdomain.ErrResourceConflict)
		lost++
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	assert.Equal(t, orderdomain.ResourceStatusReserved, loadResource(t, db, contested).Status)

	var orders int64
	require.NoError(t, db.Model(&orderdomain.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders)
}

func TestConfirm_PromotesToPurchased(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, order.ID))

	stored := loadOrder(t, db, order.ID)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, orderdomain.OrderStatusConfirmed, stored.OrderStatus)

	resource := loadResource(t, db, did)
	assert.Equal(t, orderdomain.ResourceStatusPurchased, resource.Status)
	require.NotNil(t, resource.OwnerID)
	assert.Equal(t, int64(7), *resource.OwnerID)
}

func TestConfirm_Errors(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	assert.ErrorIs(t, ledger.Confirm(ctx, snowflake.ID(999)), orderdomain.ErrOrderNotFound)

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, order.ID))
	assert.ErrorIs(t, ledger.Confirm(ctx, order.ID), orderdomain.ErrOrderNotPending)
}

func TestConfirm_AfterSweepReturnsNothingReserved(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, order.ID))

	err = ledger.Confirm(ctx, order.ID)
	assert.ErrorIs(t, err, orderdomain.ErrNothingReserved)

	// The failed confirm must not resurrect the order or the resource.
	assert.Equal(t, orderdomain.OrderStatusCancelled, loadOrder(t, db, order.ID).OrderStatus)
	assert.Equal(t, orderdomain.ResourceStatusAvailable, loadResource(t, db, did).Status)
}

func TestRelease_Idempotent(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, order.ID))
	require.NoError(t, ledger.Release(ctx, order.ID))

	resource := loadResource(t, db, did)
	assert.Equal(t, orderdomain.ResourceStatusAvailable, resource.Status)
	assert.Nil(t, resource.OrderID)
	assert.Equal(t, orderdomain.OrderStatusCancelled, loadOrder(t, db, order.ID).OrderStatus)
}

func TestRelease_NeverRevertsConfirmedOrder(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, order.ID))

	// A sweep arriving after payment completion is a no-op.
	require.NoError(t, ledger.Release(ctx, order.ID))
	assert.Equal(t, orderdomain.OrderStatusConfirmed, loadOrder(t, db, order.ID).OrderStatus)
	assert.Equal(t, orderdomain.ResourceStatusPurchased, loadResource(t, db, did).Status)
}

func TestMarkPaymentFailed_KeepsResourcesReserved(t *testing.T) {
	ledger, db, fake := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.MarkPaymentFailed(ctx, order.ID))

	stored := loadOrder(t, db, order.ID)
	assert.Equal(t, orderdomain.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, orderdomain.OrderStatusPending, stored.OrderStatus)
	assert.Equal(t, orderdomain.ResourceStatusReserved, loadResource(t, db, did).Status)

	// The failed order still expires on schedule and frees its hold.
	fake.Advance(16 * time.Minute)
	expired, err := ledger.ExpiredOrderIDs(ctx, fake.Now(), 100)
	require.NoError(t, err)
	assert.Contains(t, expired, order.ID)
}

func TestScheduleDeletion(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	did := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	// Not purchased yet.
	assert.ErrorIs(t, ledger.ScheduleDeletion(ctx, did, 7), orderdomain.ErrInvalidResourceState)

	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, order.ID))

	// Wrong owner.
	assert.ErrorIs(t, ledger.ScheduleDeletion(ctx, did, 8), orderdomain.ErrInvalidResourceState)

	require.NoError(t, ledger.ScheduleDeletion(ctx, did, 7))
	assert.Equal(t, orderdomain.ResourceStatusScheduledDeletion, loadResource(t, db, did).Status)
}

func TestExpiredOrderIDs_OnlyPastDeadline(t *testing.T) {
	ledger, db, fake := setupLedger(t)
	ctx := context.Background()
	did1 := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")
	did2 := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")
	did3 := seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")

	stale, err := ledger.CreateOrder(ctx, 1, []snowflake.ID{did1})
	require.NoError(t, err)
	paid, err := ledger.CreateOrder(ctx, 2, []snowflake.ID{did2})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, paid.ID))

	fake.Advance(16 * time.Minute)
	fresh, err := ledger.CreateOrder(ctx, 3, []snowflake.ID{did3})
	require.NoError(t, err)

	expired, err := ledger.ExpiredOrderIDs(ctx, fake.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{stale.ID}, expired)
	assert.NotContains(t, expired, paid.ID)
	assert.NotContains(t, expired, fresh.ID)
}

func TestListResources(t *testing.T) {
	ledger, db, _ := setupLedger(t)
	ctx := context.Background()
	seedResource(t, db, ledger, orderdomain.ResourceKindDID, "5.00")
	seedResource(t, db, ledger, orderdomain.ResourceKindServer, "20.00")

	resp, err := ledger.ListResources(ctx, orderdomain.ListResourcesRequest{Kind: "did"})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, orderdomain.ResourceKindDID, resp.Data[0].Kind)
	assert.Equal(t, int64(1), resp.Pagination.TotalItems)

	resp, err = ledger.ListResources(ctx, orderdomain.ListResourcesRequest{Status: "available"})
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
}
