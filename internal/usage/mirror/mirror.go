// Package mirror pulls authoritative usage pages from the billing
// switch and upserts them into the local store.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	"github.com/didstack/backoffice/internal/observability/metrics"
	"github.com/didstack/backoffice/internal/switchclient"
	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageModule is the switch module holding per-day per-user call sums.
const usageModule = "callSummaryDayUser"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Pair  switchclient.Pair
	GenID *snowflake.Node
	Clock clock.Clock
	Redis redis.UniversalClient `optional:"true"`
	Cfg   config.Config
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	pair      switchclient.Pair
	genID     *snowflake.Node
	clock     clock.Clock
	redis     redis.UniversalClient
	freshness time.Duration
}

func New(p Params) usagedomain.Mirror {
	freshness := p.Cfg.MirrorFreshness
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("usage.mirror"),
		pair:      p.Pair,
		genID:     p.GenID,
		clock:     p.Clock,
		redis:     p.Redis,
		freshness: freshness,
	}
}

// FetchAll reads every page of the usage module sequentially. The page
// count is fixed from the first response; if the remote row set shrinks
// mid-fetch, a short page ends the loop early instead of overrunning.
func (s *Service) FetchAll(ctx context.Context, direction usagedomain.Direction) ([]map[string]any, error) {
	client, err := s.pair.ByName(string(direction))
	if err != nil {
		return nil, err
	}

	first, err := client.Read(ctx, usageModule, 1, nil)
	if err != nil {
		metrics.Default().IncMirrorFailure(string(direction))
		return nil, err
	}
	metrics.Default().IncMirrorPage(string(direction))

	rows := append([]map[string]any{}, first.Rows...)
	pages := (first.Count + switchclient.PageSize - 1) / switchclient.PageSize

	for page := 2; page <= pages; page++ {
		if len(rows) >= first.Count {
			break
		}
		resp, err := client.Read(ctx, usageModule, page, nil)
		if err != nil {
			metrics.Default().IncMirrorFailure(string(direction))
			return nil, err
		}
		metrics.Default().IncMirrorPage(string(direction))
		rows = append(rows, resp.Rows...)
		if len(resp.Rows) < switchclient.PageSize {
			break
		}
	}

	return rows, nil
}

// Store upserts rows keyed on (id, day, id_user) within the direction.
// Each row is applied or rejected on its own; a bad row never aborts
// the batch.
func (s *Service) Store(ctx context.Context, rows []map[string]any, direction usagedomain.Direction) (usagedomain.StoreResult, error) {
	var result usagedomain.StoreResult
	now := s.clock.Now()

	for _, raw := range rows {
		record, updates, err := s.recordFromRow(raw, direction, now)
		if err != nil {
			result.Rejected++
			s.log.Warn("usage row rejected",
				zap.String("direction", string(direction)),
				zap.Error(err),
			)
			continue
		}

		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "remote_id"},
				{Name: "day"},
				{Name: "user_id"},
				{Name: "direction"},
			},
			DoUpdates: clause.Assignments(updates),
		}).Create(record).Error
		if err != nil {
			return result, fmt.Errorf("upsert usage record %d/%s: %w", record.RemoteID, record.Day, err)
		}
		result.Stored++
	}

	metrics.Default().AddMirrorRows(string(direction), "stored", result.Stored)
	metrics.Default().AddMirrorRows(string(direction), "rejected", result.Rejected)
	return result, nil
}

// RefreshIfStale re-mirrors the direction when the requested range
// touches today. Past-only ranges are immutable upstream and served
// straight from the local store. A short-lived marker keeps request
// bursts from re-mirroring on every call.
func (s *Service) RefreshIfStale(ctx context.Context, direction usagedomain.Direction, startDate, endDate string) error {
	today := s.clock.Now().Format("2006-01-02")
	if endDate < today && startDate <= endDate {
		return nil
	}

	key := "mirror:fresh:" + string(direction)
	if s.redis != nil {
		n, err := s.redis.Exists(ctx, key).Result()
		if err == nil && n > 0 {
			return nil
		}
	}

	rows, err := s.FetchAll(ctx, direction)
	if err != nil {
		return err
	}
	result, err := s.Store(ctx, rows, direction)
	if err != nil {
		return err
	}
	s.log.Info("usage mirror refreshed",
		zap.String("direction", string(direction)),
		zap.Int("stored", result.Stored),
		zap.Int("rejected", result.Rejected),
	)

	if s.redis != nil {
		_ = s.redis.Set(ctx, key, today, s.freshness).Err()
	}
	return nil
}

// recordFromRow maps a remote row to a local record plus the conflict
// assignments for the fields the row actually carried. Null and absent
// fields stay out of the assignment set, so a partial remote response
// never wipes previously stored values. id, day and id_user are
// required outright.
func (s *Service) recordFromRow(raw map[string]any, direction usagedomain.Direction, now time.Time) (*usagedomain.UsageRecord, map[string]any, error) {
	row := stripNulls(raw)

	remoteID, ok := rowInt64(row, "id")
	if !ok {
		return nil, nil, fmt.Errorf("%w: id", usagedomain.ErrMissingNaturalKey)
	}
	day, ok := rowString(row, "day")
	if !ok || day == "" {
		return nil, nil, fmt.Errorf("%w: day", usagedomain.ErrMissingNaturalKey)
	}
	userID, ok := rowInt64(row, "id_user")
	if !ok {
		return nil, nil, fmt.Errorf("%w: id_user", usagedomain.ErrMissingNaturalKey)
	}

	record := &usagedomain.UsageRecord{
		ID:        s.genID.Generate(),
		RemoteID:  remoteID,
		Day:       day,
		UserID:    userID,
		Direction: direction,
		CreatedAt: now,
		UpdatedAt: now,
	}
	updates := map[string]any{"updated_at": now}

	if v, ok := rowInt64(row, "sessiontime"); ok {
		record.SessionSeconds = v
		updates["session_seconds"] = v
	}
	if v, ok := rowInt64(row, "aloc_all_calls"); ok {
		record.AllocatedCalls = v
		updates["allocated_calls"] = v
	}
	if v, ok := rowInt64(row, "nbcall"); ok {
		record.TotalCalls = v
		updates["total_calls"] = v
	}
	if v, ok := rowInt64(row, "nbcall_fail"); ok {
		record.FailedCalls = v
		updates["failed_calls"] = v
	}
	if v, ok := rowDecimal(row, "buycost"); ok {
		record.BuyCost = v
		updates["buy_cost"] = v
	}
	if v, ok := rowDecimal(row, "sessionbill"); ok {
		record.SellBill = v
		updates["sell_bill"] = v
	}
	if v, ok := rowDecimal(row, "agent_bill"); ok {
		record.AgentBill = v
		updates["agent_bill"] = v
	}
	if v, ok := rowDecimal(row, "lucro"); ok {
		record.Profit = v
		updates["profit"] = v
	}
	if v, ok := rowString(row, "idUserusername"); ok {
		record.Username = v
		updates["username"] = v
	}

	return record, updates, nil
}
