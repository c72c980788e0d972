package domain

import (
	"context"
	"errors"

	"github.com/didstack/backoffice/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDirection = errors.New("invalid_direction")
	ErrInvalidDateRange = errors.New("invalid_date_range")

	// ErrMissingNaturalKey marks a remote row without id, day or
	// id_user; the row is rejected, the batch continues.
	ErrMissingNaturalKey = errors.New("missing_natural_key")
)

// QueryRequest scopes a usage query. StartDate and EndDate are
// inclusive ISO dates; UserID of zero means all subscribers.
type QueryRequest struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
	UserID    int64  `form:"userId"`
	pagination.Request
}

type QueryResponse struct {
	Data       []UsageRecord       `json:"data"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// DailySummaryRow merges both directions for one (day, user) group.
type DailySummaryRow struct {
	Day            string          `json:"day"`
	UserID         int64           `json:"userId"`
	Username       string          `json:"username"`
	SessionSeconds int64           `json:"sessionSeconds"`
	AllocatedCalls int64           `json:"allocatedCalls"`
	TotalCalls     int64           `json:"totalCalls"`
	FailedCalls    int64           `json:"failedCalls"`
	BuyCost        decimal.Decimal `json:"buyCost"`
	SellBill       decimal.Decimal `json:"sellBill"`
	AgentBill      decimal.Decimal `json:"agentBill"`
	Profit         decimal.Decimal `json:"profit"`
	ASR            float64         `json:"asr"`
}

type DailySummaryResponse struct {
	Data       []DailySummaryRow   `json:"data"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// MonthlySummaryRow merges both directions for one (year, month, user)
// group. Its ASR is the mean of the per-day ASRs that fell into the
// month, not a ratio recomputed from the monthly call sums.
type MonthlySummaryRow struct {
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	UserID         int64           `json:"userId"`
	Username       string          `json:"username"`
	SessionSeconds int64           `json:"sessionSeconds"`
	AllocatedCalls int64           `json:"allocatedCalls"`
	TotalCalls     int64           `json:"totalCalls"`
	FailedCalls    int64           `json:"failedCalls"`
	BuyCost        decimal.Decimal `json:"buyCost"`
	SellBill       decimal.Decimal `json:"sellBill"`
	AgentBill      decimal.Decimal `json:"agentBill"`
	Profit         decimal.Decimal `json:"profit"`
	ASR            float64         `json:"asr"`
}

type MonthlySummaryResponse struct {
	Data       []MonthlySummaryRow `json:"data"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// Service answers usage queries from the local mirror, refreshing
// today's data from the switch first when the range requires it.
type Service interface {
	Query(ctx context.Context, direction Direction, req QueryRequest) (QueryResponse, error)
	DailySummary(ctx context.Context, req QueryRequest) (DailySummaryResponse, error)
	MonthlySummary(ctx context.Context, req QueryRequest) (MonthlySummaryResponse, error)
}

// StoreResult reports what one mirror batch did, for observability.
type StoreResult struct {
	Stored   int
	Rejected int
}

// Mirror copies authoritative usage rows from the switch into the
// local store.
type Mirror interface {
	// FetchAll pulls every page of the usage module for direction.
	FetchAll(ctx context.Context, direction Direction) ([]map[string]any, error)
	// Store upserts remote rows, keyed on (id, day, id_user) within the
	// direction. Rows missing the natural key are rejected and counted;
	// the rest of the batch proceeds.
	Store(ctx context.Context, rows []map[string]any, direction Direction) (StoreResult, error)
	// RefreshIfStale re-mirrors direction when the queried range
	// includes today and the last mirror has aged out.
	RefreshIfStale(ctx context.Context, direction Direction, startDate, endDate string) error
}

// ParseDirection validates a direction query parameter.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionInbound:
		return DirectionInbound, nil
	case DirectionOutbound:
		return DirectionOutbound, nil
	default:
		return "", ErrInvalidDirection
	}
}
