// Package domain contains the resource and order models whose state
// machine the reservation ledger enforces.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ResourceKind distinguishes the two leasable unit types.
type ResourceKind string

const (
	ResourceKindDID    ResourceKind = "did"
	ResourceKindServer ResourceKind = "server"
)

type ResourceStatus string

const (
	ResourceStatusAvailable         ResourceStatus = "available"
	ResourceStatusReserved          ResourceStatus = "reserved"
	ResourceStatusPurchased         ResourceStatus = "purchased"
	ResourceStatusScheduledDeletion ResourceStatus = "scheduled_deletion"
)

// Resource is a leasable unit. At most one order reservation is active
// at a time; OrderID points at it while the resource sits in reserved.
type Resource struct {
	ID      snowflake.ID    `gorm:"primaryKey" json:"id"`
	Kind    ResourceKind    `gorm:"type:varchar(10);not null" json:"kind"`
	Label   string          `gorm:"type:text;not null" json:"label"`
	Status  ResourceStatus  `gorm:"type:varchar(20);not null;default:available;index" json:"status"`
	OwnerID *int64          `gorm:"index" json:"ownerId,omitempty"`
	OrderID *snowflake.ID   `gorm:"index" json:"-"`
	Price   decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"price"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (Resource) TableName() string { return "resources" }

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a cart of reserved resources held until ExpiresAt. Unpaid
// orders past the deadline are swept to cancelled exactly once, with
// every still-reserved resource returned to available.
type Order struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID        int64           `gorm:"not null;index" json:"userId"`
	Total         decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"total"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(10);not null;default:pending;index" json:"paymentStatus"`
	OrderStatus   OrderStatus     `gorm:"type:varchar(10);not null;default:pending;index" json:"orderStatus"`
	ExpiresAt     time.Time       `gorm:"not null;index" json:"expiresAt"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (Order) TableName() string { return "orders" }
