// Package service implements the reservation ledger. Every transition
// is a conditional update guarded on the expected prior state, so two
// concurrent orders can never hold the same resource and the expiry
// sweep can never undo a confirmed payment.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
	"github.com/didstack/backoffice/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

type Ledger struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	window time.Duration
}

func NewLedger(p Params) orderdomain.Ledger {
	window := p.Cfg.ReservationWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Ledger{
		db:     p.DB,
		log:    p.Log.Named("order.ledger"),
		genID:  p.GenID,
		clock:  p.Clock,
		window: window,
	}
}

func (l *Ledger) CreateOrder(ctx context.Context, userID int64, resourceIDs []snowflake.ID) (*orderdomain.Order, error) {
	if len(resourceIDs) == 0 {
		return nil, orderdomain.ErrEmptyOrder
	}

	now := l.clock.Now()
	order := &orderdomain.Order{
		ID:            l.genID.Generate(),
		UserID:        userID,
		PaymentStatus: orderdomain.PaymentStatusPending,
		OrderStatus:   orderdomain.OrderStatusPending,
		ExpiresAt:     now.Add(l.window),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resources []orderdomain.Resource
		if err := tx.Where("id IN ?", ids(resourceIDs)).Find(&resources).Error; err != nil {
			return err
		}
		if len(resources) != len(resourceIDs) {
			return orderdomain.ErrResourceNotFound
		}
		for _, r := range resources {
			order.Total = order.Total.Add(r.Price)
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return l.reserveTx(tx, resourceIDs, order.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (l *Ledger) Reserve(ctx context.Context, resourceIDs []snowflake.ID, orderID snowflake.ID, expiresAt time.Time) error {
	now := l.clock.Now()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderdomain.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]any{"expires_at": expiresAt, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return orderdomain.ErrOrderNotFound
		}
		return l.reserveTx(tx, resourceIDs, orderID, now)
	})
}

// reserveTx flips each resource available → reserved. A single miss
// rolls the transaction back, so no partial reservation escapes.
func (l *Ledger) reserveTx(tx *gorm.DB, resourceIDs []snowflake.ID, orderID snowflake.ID, now time.Time) error {
	var conflicts []snowflake.ID
	for _, id := range resourceIDs {
		res := tx.Model(&orderdomain.Resource{}).
			Where("id = ? AND status = ?", id, orderdomain.ResourceStatusAvailable).
			Updates(map[string]any{
				"status":     orderdomain.ResourceStatusReserved,
				"order_id":   orderID,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return &orderdomain.ConflictError{ResourceIDs: conflicts}
	}
	return nil
}

func (l *Ledger) Confirm(ctx context.Context, orderID snowflake.ID) error {
	now := l.clock.Now()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderdomain.Order{}).
			Where("id = ? AND payment_status = ? AND order_status = ?",
				orderID, orderdomain.PaymentStatusPending, orderdomain.OrderStatusPending).
			Updates(map[string]any{
				"payment_status": orderdomain.PaymentStatusCompleted,
				"order_status":   orderdomain.OrderStatusConfirmed,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var order orderdomain.Order
			err := tx.First(&order, "id = ?", orderID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return orderdomain.ErrOrderNotFound
			}
			if err != nil {
				return err
			}
			if order.OrderStatus == orderdomain.OrderStatusCancelled {
				// Sweep won the race; nothing left to purchase.
				return orderdomain.ErrNothingReserved
			}
			return orderdomain.ErrOrderNotPending
		}

		var order orderdomain.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}

		flip := tx.Model(&orderdomain.Resource{}).
			Where("order_id = ? AND status = ?", orderID, orderdomain.ResourceStatusReserved).
			Updates(map[string]any{
				"status":     orderdomain.ResourceStatusPurchased,
				"owner_id":   order.UserID,
				"updated_at": now,
			})
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			// Rolling back also reverts the order guard above.
			return orderdomain.ErrNothingReserved
		}
		return nil
	})
}

func (l *Ledger) Release(ctx context.Context, orderID snowflake.ID) error {
	now := l.clock.Now()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The payment guard is evaluated at update time: a confirm that
		// landed first leaves zero rows here and is never undone.
		res := tx.Model(&orderdomain.Order{}).
			Where("id = ? AND payment_status <> ? AND order_status = ?",
				orderID, orderdomain.PaymentStatusCompleted, orderdomain.OrderStatusPending).
			Updates(map[string]any{
				"order_status": orderdomain.OrderStatusCancelled,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var order orderdomain.Order
			err := tx.First(&order, "id = ?", orderID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return orderdomain.ErrOrderNotFound
			}
			if err != nil {
				return err
			}
			// Already cancelled (idempotent no-op) or confirmed (never
			// reverted). Either way there is nothing to release.
			return nil
		}

		return tx.Model(&orderdomain.Resource{}).
			Where("order_id = ? AND status = ?", orderID, orderdomain.ResourceStatusReserved).
			Updates(map[string]any{
				"status":     orderdomain.ResourceStatusAvailable,
				"order_id":   nil,
				"updated_at": now,
			}).Error
	})
}

func (l *Ledger) MarkPaymentFailed(ctx context.Context, orderID snowflake.ID) error {
	now := l.clock.Now()
	res := l.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("id = ? AND payment_status = ?", orderID, orderdomain.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": orderdomain.PaymentStatusFailed,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrOrderNotPending
	}
	// Resources stay reserved until the expiry sweep releases them.
	return nil
}

func (l *Ledger) ScheduleDeletion(ctx context.Context, resourceID snowflake.ID, ownerID int64) error {
	res := l.db.WithContext(ctx).Model(&orderdomain.Resource{}).
		Where("id = ? AND owner_id = ? AND status = ?",
			resourceID, ownerID, orderdomain.ResourceStatusPurchased).
		Updates(map[string]any{
			"status":     orderdomain.ResourceStatusScheduledDeletion,
			"updated_at": l.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrInvalidResourceState
	}
	return nil
}

// ExpiredOrderIDs lists unpaid orders past their hold. Failed payments
// are included: their resources stay reserved until this natural TTL.
func (l *Ledger) ExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var orderIDs []snowflake.ID
	err := l.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("order_status = ? AND payment_status <> ? AND expires_at < ?",
			orderdomain.OrderStatusPending, orderdomain.PaymentStatusCompleted, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &orderIDs).Error
	if err != nil {
		return nil, err
	}
	return orderIDs, nil
}

func (l *Ledger) ListResources(ctx context.Context, req orderdomain.ListResourcesRequest) (orderdomain.ListResourcesResponse, error) {
	req.Request = req.Request.Normalize()
	stmt := l.db.WithContext(ctx).Model(&orderdomain.Resource{})
	if req.Kind != "" {
		stmt = stmt.Where("kind = ?", req.Kind)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return orderdomain.ListResourcesResponse{}, err
	}

	var resources []orderdomain.Resource
	err := stmt.Order("id ASC").Limit(req.Limit).Offset(req.Offset()).Find(&resources).Error
	if err != nil {
		return orderdomain.ListResourcesResponse{}, err
	}
	return orderdomain.ListResourcesResponse{
		Data:       resources,
		Pagination: pagination.Build(total, req.Request),
	}, nil
}

func (l *Ledger) GetOrder(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := l.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, orderdomain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func ids(in []snowflake.ID) []int64 {
	out := make([]int64, len(in))
	for i, id := range in {
		out[i] = int64(id)
	}
	return out
}
