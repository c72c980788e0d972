package service

import (
	"context"
	"sort"
	"time"

	"github.com/didstack/backoffice/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Mirror usagedomain.Mirror
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	mirror usagedomain.Mirror
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("usage.service"),
		mirror: p.Mirror,
	}
}

// Query returns raw mirrored rows for one direction, refreshing the
// mirror first when the range includes today.
func (s *Service) Query(ctx context.Context, direction usagedomain.Direction, req usagedomain.QueryRequest) (usagedomain.QueryResponse, error) {
	req.Request = req.Request.Normalize()
	if err := validateRange(req.StartDate, req.EndDate); err != nil {
		return usagedomain.QueryResponse{}, err
	}
	if err := s.mirror.RefreshIfStale(ctx, direction, req.StartDate, req.EndDate); err != nil {
		return usagedomain.QueryResponse{}, err
	}
	records, total, err := s.queryLocal(ctx, direction, req)
	if err != nil {
		return usagedomain.QueryResponse{}, err
	}
	return usagedomain.QueryResponse{
		Data:       records,
		Pagination: pagination.Build(total, req.Request),
	}, nil
}

// DailySummary pages inbound and outbound independently and merges the
// union of fetched rows by (day, user). ASR is recomputed from the
// summed call counts, never averaged.
func (s *Service) DailySummary(ctx context.Context, req usagedomain.QueryRequest) (usagedomain.DailySummaryResponse, error) {
	req.Request = req.Request.Normalize()
	if err := validateRange(req.StartDate, req.EndDate); err != nil {
		return usagedomain.DailySummaryResponse{}, err
	}
	for _, direction := range usagedomain.Directions {
		if err := s.mirror.RefreshIfStale(ctx, direction, req.StartDate, req.EndDate); err != nil {
			return usagedomain.DailySummaryResponse{}, err
		}
	}

	var (
		union  []usagedomain.UsageRecord
		totals = map[usagedomain.Direction]int64{}
	)
	for _, direction := range usagedomain.Directions {
		records, total, err := s.queryLocal(ctx, direction, req)
		if err != nil {
			return usagedomain.DailySummaryResponse{}, err
		}
		union = append(union, records...)
		totals[direction] = total
	}

	grouped := groupDaily(union)

	// totalItems approximates the unique group count as the minimum of
	// the per-direction totals. The exact value would need a dedicated
	// distinct-group count over both collections.
	total := totals[usagedomain.DirectionInbound]
	if t := totals[usagedomain.DirectionOutbound]; t < total {
		total = t
	}

	return usagedomain.DailySummaryResponse{
		Data:       grouped,
		Pagination: pagination.Build(total, req.Request),
	}, nil
}

// MonthlySummary rolls each direction up to (user, year, month) in SQL,
// then merges the two directions. The monthly ASR is the mean of the
// per-day ASRs in the month, not the ratio of the monthly call sums,
// so every day weighs equally.
func (s *Service) MonthlySummary(ctx context.Context, req usagedomain.QueryRequest) (usagedomain.MonthlySummaryResponse, error) {
	req.Request = req.Request.Normalize()
	if err := validateRange(req.StartDate, req.EndDate); err != nil {
		return usagedomain.MonthlySummaryResponse{}, err
	}
	for _, direction := range usagedomain.Directions {
		if err := s.mirror.RefreshIfStale(ctx, direction, req.StartDate, req.EndDate); err != nil {
			return usagedomain.MonthlySummaryResponse{}, err
		}
	}

	var (
		rollups []monthlyRollup
		totals  = map[usagedomain.Direction]int64{}
	)
	for _, direction := range usagedomain.Directions {
		rows, total, err := s.rollupMonthly(ctx, direction, req)
		if err != nil {
			return usagedomain.MonthlySummaryResponse{}, err
		}
		rollups = append(rollups, rows...)
		totals[direction] = total
	}

	merged := mergeMonthly(rollups)

	total := totals[usagedomain.DirectionInbound]
	if t := totals[usagedomain.DirectionOutbound]; t < total {
		total = t
	}

	return usagedomain.MonthlySummaryResponse{
		Data:       merged,
		Pagination: pagination.Build(total, req.Request),
	}, nil
}

// queryLocal is the shared range query. Day comparison is lexicographic
// on zero-padded ISO dates, which is exactly date order.
func (s *Service) queryLocal(ctx context.Context, direction usagedomain.Direction, req usagedomain.QueryRequest) ([]usagedomain.UsageRecord, int64, error) {
	stmt := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("direction = ?", direction).
		Where("day BETWEEN ? AND ?", req.StartDate, req.EndDate)
	if req.UserID > 0 {
		stmt = stmt.Where("user_id = ?", req.UserID)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []usagedomain.UsageRecord
	err := stmt.
		Order("day ASC").
		Order("user_id ASC").
		Limit(req.Limit).
		Offset(req.Offset()).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

type monthlyRollup struct {
	UserID         int64
	Year           int
	Month          int
	Username       string
	SessionSeconds int64
	AllocatedCalls int64
	TotalCalls     int64
	FailedCalls    int64
	BuyCost        decimal.Decimal
	SellBill       decimal.Decimal
	AgentBill      decimal.Decimal
	Profit         decimal.Decimal
	AsrSum         float64
	DayCount       int64
}

func (s *Service) rollupMonthly(ctx context.Context, direction usagedomain.Direction, req usagedomain.QueryRequest) ([]monthlyRollup, int64, error) {
	where := "direction = ? AND day BETWEEN ? AND ?"
	args := []any{direction, req.StartDate, req.EndDate}
	if req.UserID > 0 {
		where += " AND user_id = ?"
		args = append(args, req.UserID)
	}

	var total int64
	countSQL := `SELECT COUNT(*) FROM (
		SELECT 1 FROM usage_records
		WHERE ` + where + `
		GROUP BY user_id, substr(day, 1, 4), substr(day, 6, 2)
	) groups`
	if err := s.db.WithContext(ctx).Raw(countSQL, args...).Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []monthlyRollup
	query := `SELECT
		user_id,
		CAST(substr(day, 1, 4) AS INTEGER) AS year,
		CAST(substr(day, 6, 2) AS INTEGER) AS month,
		MAX(username) AS username,
		SUM(session_seconds) AS session_seconds,
		SUM(allocated_calls) AS allocated_calls,
		SUM(total_calls) AS total_calls,
		SUM(failed_calls) AS failed_calls,
		SUM(buy_cost) AS buy_cost,
		SUM(sell_bill) AS sell_bill,
		SUM(agent_bill) AS agent_bill,
		SUM(profit) AS profit,
		SUM(CASE WHEN total_calls > 0
			THEN (total_calls - failed_calls) * 100.0 / total_calls
			ELSE 0 END) AS asr_sum,
		COUNT(*) AS day_count
	FROM usage_records
	WHERE ` + where + `
	GROUP BY user_id, substr(day, 1, 4), substr(day, 6, 2)
	ORDER BY year DESC, month DESC, user_id ASC
	LIMIT ? OFFSET ?`
	args = append(args, req.Limit, req.Offset())
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

type dailyKey struct {
	Day    string
	UserID int64
}

// groupDaily merges rows by (day, user) preserving first-seen order;
// callers must not assume any ordering beyond what the range query
// already produced.
func groupDaily(records []usagedomain.UsageRecord) []usagedomain.DailySummaryRow {
	index := map[dailyKey]int{}
	out := []usagedomain.DailySummaryRow{}

	for _, r := range records {
		key := dailyKey{Day: r.Day, UserID: r.UserID}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, usagedomain.DailySummaryRow{
				Day:       r.Day,
				UserID:    r.UserID,
				Username:  r.Username,
				BuyCost:   decimal.Zero,
				SellBill:  decimal.Zero,
				AgentBill: decimal.Zero,
				Profit:    decimal.Zero,
			})
		}
		row := &out[i]
		row.SessionSeconds += r.SessionSeconds
		row.AllocatedCalls += r.AllocatedCalls
		row.TotalCalls += r.TotalCalls
		row.FailedCalls += r.FailedCalls
		row.BuyCost = row.BuyCost.Add(r.BuyCost)
		row.SellBill = row.SellBill.Add(r.SellBill)
		row.AgentBill = row.AgentBill.Add(r.AgentBill)
		row.Profit = row.Profit.Add(r.Profit)
		if row.Username == "" {
			row.Username = r.Username
		}
	}

	for i := range out {
		out[i].ASR = usagedomain.ASR(out[i].TotalCalls, out[i].FailedCalls)
	}
	return out
}

type monthlyKey struct {
	Year   int
	Month  int
	UserID int64
}

func mergeMonthly(rollups []monthlyRollup) []usagedomain.MonthlySummaryRow {
	type acc struct {
		row      usagedomain.MonthlySummaryRow
		asrSum   float64
		dayCount int64
	}
	index := map[monthlyKey]*acc{}
	order := []monthlyKey{}

	for _, r := range rollups {
		key := monthlyKey{Year: r.Year, Month: r.Month, UserID: r.UserID}
		a, ok := index[key]
		if !ok {
			a = &acc{row: usagedomain.MonthlySummaryRow{
				Year:      r.Year,
				Month:     r.Month,
				UserID:    r.UserID,
				Username:  r.Username,
				BuyCost:   decimal.Zero,
				SellBill:  decimal.Zero,
				AgentBill: decimal.Zero,
				Profit:    decimal.Zero,
			}}
			index[key] = a
			order = append(order, key)
		}
		a.row.SessionSeconds += r.SessionSeconds
		a.row.AllocatedCalls += r.AllocatedCalls
		a.row.TotalCalls += r.TotalCalls
		a.row.FailedCalls += r.FailedCalls
		a.row.BuyCost = a.row.BuyCost.Add(r.BuyCost)
		a.row.SellBill = a.row.SellBill.Add(r.SellBill)
		a.row.AgentBill = a.row.AgentBill.Add(r.AgentBill)
		a.row.Profit = a.row.Profit.Add(r.Profit)
		a.asrSum += r.AsrSum
		a.dayCount += r.DayCount
		if a.row.Username == "" {
			a.row.Username = r.Username
		}
	}

	out := make([]usagedomain.MonthlySummaryRow, 0, len(order))
	for _, key := range order {
		a := index[key]
		if a.dayCount > 0 {
			a.row.ASR = a.asrSum / float64(a.dayCount)
		}
		out = append(out, a.row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func validateRange(startDate, endDate string) error {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return usagedomain.ErrInvalidDateRange
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return usagedomain.ErrInvalidDateRange
	}
	if end.Before(start) {
		return usagedomain.ErrInvalidDateRange
	}
	return nil
}
