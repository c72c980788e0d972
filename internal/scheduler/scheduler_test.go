package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
	orderservice "github.com/didstack/backoffice/internal/order/service"
)

func setupSweep(t *testing.T) (*Scheduler, orderdomain.Ledger, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orderdomain.Resource{}, &orderdomain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))

	ledger := orderservice.NewLedger(orderservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   config.Config{ReservationWindow: 15 * time.Minute},
	})

	sched, err := New(Params{
		Log:    zap.NewNop(),
		Ledger: ledger,
		Clock:  fake,
		Config: Config{SweepBatchSize: 10},
	})
	require.NoError(t, err)
	return sched, ledger, db, fake
}

func seedAvailable(t *testing.T, db *gorm.DB, id int64) snowflake.ID {
	t.Helper()
	resource := &orderdomain.Resource{
		ID:     snowflake.ID(id),
		Kind:   orderdomain.ResourceKindDID,
		Label:  "did",
		Status: orderdomain.ResourceStatusAvailable,
	}
	require.NoError(t, db.Create(resource).Error)
	return resource.ID
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpireOrdersJob_ReleasesStaleOrders(t *testing.T) {
	sched, ledger, db, fake := setupSweep(t)
	ctx := context.Background()

	did1 := seedAvailable(t, db, 1)
	did2 := seedAvailable(t, db, 2)
	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did1, did2})
	require.NoError(t, err)

	// Before the window lapses the sweep is a no-op.
	require.NoError(t, sched.ExpireOrdersJob(ctx))
	var res orderdomain.Resource
	require.NoError(t, db.First(&res, "id = ?", did1).Error)
	assert.Equal(t, orderdomain.ResourceStatusReserved, res.Status)

	fake.Advance(16 * time.Minute)
	require.NoError(t, sched.ExpireOrdersJob(ctx))

	for _, id := range []snowflake.ID{did1, did2} {
		var res orderdomain.Resource
		require.NoError(t, db.First(&res, "id = ?", id).Error)
		assert.Equal(t, orderdomain.ResourceStatusAvailable, res.Status)
		assert.Nil(t, res.OrderID)
	}

	var stored orderdomain.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.OrderStatusCancelled, stored.OrderStatus)
}

func TestExpireOrdersJob_SkipsPaidOrders(t *testing.T) {
	sched, ledger, db, fake := setupSweep(t)
	ctx := context.Background()

	did := seedAvailable(t, db, 1)
	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.Confirm(ctx, order.ID))

	fake.Advance(16 * time.Minute)
	require.NoError(t, sched.ExpireOrdersJob(ctx))

	var res orderdomain.Resource
	require.NoError(t, db.First(&res, "id = ?", did).Error)
	assert.Equal(t, orderdomain.ResourceStatusPurchased, res.Status)
}

func TestExpireOrdersJob_SweepsFailedPayments(t *testing.T) {
	sched, ledger, db, fake := setupSweep(t)
	ctx := context.Background()

	did := seedAvailable(t, db, 1)
	order, err := ledger.CreateOrder(ctx, 7, []snowflake.ID{did})
	require.NoError(t, err)
	require.NoError(t, ledger.MarkPaymentFailed(ctx, order.ID))

	// Failed payments hold their reservation until the natural expiry.
	require.NoError(t, sched.ExpireOrdersJob(ctx))
	var res orderdomain.Resource
	require.NoError(t, db.First(&res, "id = ?", did).Error)
	assert.Equal(t, orderdomain.ResourceStatusReserved, res.Status)

	fake.Advance(16 * time.Minute)
	require.NoError(t, sched.ExpireOrdersJob(ctx))
	require.NoError(t, db.First(&res, "id = ?", did).Error)
	assert.Equal(t, orderdomain.ResourceStatusAvailable, res.Status)
}

func TestExpireOrdersJob_DrainsBeyondOneBatch(t *testing.T) {
	sched, ledger, db, fake := setupSweep(t)
	ctx := context.Background()

	var orders []snowflake.ID
	for i := int64(1); i <= 25; i++ {
		did := seedAvailable(t, db, i)
		order, err := ledger.CreateOrder(ctx, i, []snowflake.ID{did})
		require.NoError(t, err)
		orders = append(orders, order.ID)
	}

	fake.Advance(16 * time.Minute)
	require.NoError(t, sched.ExpireOrdersJob(ctx))

	var pending int64
	require.NoError(t, db.Model(&orderdomain.Order{}).
		Where("order_status = ?", orderdomain.OrderStatusPending).
		Count(&pending).Error)
	assert.Zero(t, pending)
	assert.Len(t, orders, 25)
}

func TestRunOnce_TimeoutIsSoft(t *testing.T) {
	sched, _, _, _ := setupSweep(t)
	sched.cfg.JobTimeout = time.Nanosecond

	// A deadline hit inside the job is logged, not escalated.
	assert.NoError(t, sched.RunOnce(context.Background()))
}
