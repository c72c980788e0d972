package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
	"github.com/didstack/backoffice/pkg/db/pagination"
)

// noopMirror satisfies the mirror contract without touching any remote;
// the tests seed the local store directly.
type noopMirror struct {
	refreshes int
}

func (m *noopMirror) FetchAll(context.Context, usagedomain.Direction) ([]map[string]any, error) {
	return nil, nil
}

func (m *noopMirror) Store(context.Context, []map[string]any, usagedomain.Direction) (usagedomain.StoreResult, error) {
	return usagedomain.StoreResult{}, nil
}

func (m *noopMirror) RefreshIfStale(context.Context, usagedomain.Direction, string, string) error {
	m.refreshes++
	return nil
}

func setupService(t *testing.T) (*Service, *gorm.DB, *noopMirror) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))

	mirror := &noopMirror{}
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Mirror: mirror}).(*Service)
	return svc, db, mirror
}

var seedSeq int64

func seedRecord(t *testing.T, db *gorm.DB, direction usagedomain.Direction, day string, userID, totalCalls, failedCalls int64, sellBill string) {
	t.Helper()
	seedSeq++
	bill, err := decimal.NewFromString(sellBill)
	require.NoError(t, err)
	require.NoError(t, db.Create(&usagedomain.UsageRecord{
		ID:             snowflake.ID(seedSeq),
		RemoteID:       seedSeq,
		Day:            day,
		UserID:         userID,
		Direction:      direction,
		TotalCalls:     totalCalls,
		FailedCalls:    failedCalls,
		SessionSeconds: totalCalls * 60,
		SellBill:       bill,
		Username:       fmt.Sprintf("user%d", userID),
	}).Error)
}

func TestQuery_FiltersByRangeAndUser(t *testing.T) {
	svc, db, mirror := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-07-31", 1, 5, 0, "1.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 2, "2.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-02", 2, 3, 1, "3.00")
	seedRecord(t, db, usagedomain.DirectionOutbound, "2026-08-01", 1, 7, 0, "4.00")

	resp, err := svc.Query(context.Background(), usagedomain.DirectionInbound, usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.refreshes)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "2026-08-01", resp.Data[0].Day)
	assert.Equal(t, "2026-08-02", resp.Data[1].Day)
	assert.Equal(t, int64(2), resp.Pagination.TotalItems)

	resp, err = svc.Query(context.Background(), usagedomain.DirectionInbound, usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
		UserID:    2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(2), resp.Data[0].UserID)
}

func TestQuery_InvalidRange(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Query(context.Background(), usagedomain.DirectionInbound, usagedomain.QueryRequest{
		StartDate: "2026-08-31",
		EndDate:   "2026-08-01",
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidDateRange)

	_, err = svc.Query(context.Background(), usagedomain.DirectionInbound, usagedomain.QueryRequest{
		StartDate: "31-08-2026",
		EndDate:   "2026-08-31",
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidDateRange)
}

func TestQuery_Pagination(t *testing.T) {
	svc, db, _ := setupService(t)
	for i := int64(1); i <= 30; i++ {
		seedRecord(t, db, usagedomain.DirectionInbound, fmt.Sprintf("2026-08-%02d", i%28+1), i, 10, 0, "1.00")
	}

	resp, err := svc.Query(context.Background(), usagedomain.DirectionInbound, usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
		Request:   pagination.Request{Page: 2, Limit: 25},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Data, 5)
	assert.Equal(t, int64(30), resp.Pagination.TotalItems)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
	assert.Equal(t, 2, resp.Pagination.CurrentPage)
}

func TestDailySummary_MergesDirections(t *testing.T) {
	svc, db, mirror := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 2, "2.50")
	seedRecord(t, db, usagedomain.DirectionOutbound, "2026-08-01", 1, 5, 0, "1.50")

	resp, err := svc.DailySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, mirror.refreshes)
	require.Len(t, resp.Data, 1)

	row := resp.Data[0]
	assert.Equal(t, int64(15), row.TotalCalls)
	assert.Equal(t, int64(2), row.FailedCalls)
	assert.Equal(t, int64(900), row.SessionSeconds)
	assert.Equal(t, "4", row.SellBill.String())
	// ASR is recomputed from the summed calls: (15-2)/15.
	assert.InDelta(t, 86.67, row.ASR, 0.01)
}

func TestDailySummary_SingleDirectionDay(t *testing.T) {
	svc, db, _ := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 2, "2.00")
	seedRecord(t, db, usagedomain.DirectionOutbound, "2026-08-02", 1, 4, 4, "1.00")

	resp, err := svc.DailySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)

	byDay := map[string]usagedomain.DailySummaryRow{}
	for _, row := range resp.Data {
		byDay[row.Day] = row
	}
	assert.InDelta(t, 80.0, byDay["2026-08-01"].ASR, 0.01)
	assert.InDelta(t, 0.0, byDay["2026-08-02"].ASR, 0.01)
}

func TestDailySummary_ZeroCallsZeroASR(t *testing.T) {
	svc, db, _ := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 0, 0, "0.00")

	resp, err := svc.DailySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 0.0, resp.Data[0].ASR)
}

func TestMonthlySummary_ASRIsMeanOfDailyASRs(t *testing.T) {
	svc, db, _ := setupService(t)
	// Day 1: 10 calls, 5 failed -> ASR 50. Day 2: 100 calls, 0 failed ->
	// ASR 100. The mean is 75; a ratio over the summed calls would give
	// (110-5)/110 = 95.45, which is exactly what this endpoint must not do.
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 5, "1.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-02", 1, 100, 0, "2.00")

	resp, err := svc.MonthlySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)

	row := resp.Data[0]
	assert.Equal(t, 2026, row.Year)
	assert.Equal(t, 8, row.Month)
	assert.Equal(t, int64(110), row.TotalCalls)
	assert.Equal(t, int64(5), row.FailedCalls)
	assert.InDelta(t, 75.0, row.ASR, 0.01)
}

func TestMonthlySummary_GroupsAcrossMonths(t *testing.T) {
	svc, db, _ := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-07-30", 1, 10, 0, "1.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 20, 0, "2.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-02", 2, 30, 0, "3.00")

	resp, err := svc.MonthlySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-07-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 3)

	// Newest month first, then user ascending.
	assert.Equal(t, 8, resp.Data[0].Month)
	assert.Equal(t, int64(1), resp.Data[0].UserID)
	assert.Equal(t, 8, resp.Data[1].Month)
	assert.Equal(t, int64(2), resp.Data[1].UserID)
	assert.Equal(t, 7, resp.Data[2].Month)
}

func TestMonthlySummary_MergesDirections(t *testing.T) {
	svc, db, _ := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 0, "1.00")
	seedRecord(t, db, usagedomain.DirectionOutbound, "2026-08-01", 1, 20, 0, "2.00")

	resp, err := svc.MonthlySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(30), resp.Data[0].TotalCalls)
	assert.Equal(t, "3", resp.Data[0].SellBill.String())
}

func TestDailySummary_TotalItemsIsMinOfDirections(t *testing.T) {
	svc, db, _ := setupService(t)
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-01", 1, 10, 0, "1.00")
	seedRecord(t, db, usagedomain.DirectionInbound, "2026-08-02", 1, 10, 0, "1.00")
	seedRecord(t, db, usagedomain.DirectionOutbound, "2026-08-01", 1, 10, 0, "1.00")

	resp, err := svc.DailySummary(context.Background(), usagedomain.QueryRequest{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-31",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Pagination.TotalItems)
	assert.Len(t, resp.Data, 2)
}
