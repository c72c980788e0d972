// Package domain contains the mirrored usage model and the aggregation
// contracts built on top of it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Direction tags a usage record with the switch instance it came from.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Directions lists both traffic directions in merge order.
var Directions = []Direction{DirectionInbound, DirectionOutbound}

// UsageRecord is one row of call activity for one subscriber on one
// calendar day, as mirrored from the switch. Rows are only ever written
// by the mirror; the natural key (remote_id, day, user_id, direction)
// is unique so re-mirroring the same page upserts in place.
//
// Day is always zero-padded ISO (YYYY-MM-DD). Range queries compare it
// lexicographically, which is only correct under that format.
type UsageRecord struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"-"`
	RemoteID  int64        `gorm:"not null;uniqueIndex:ux_usage_natural,priority:1" json:"remoteId"`
	Day       string       `gorm:"type:varchar(10);not null;uniqueIndex:ux_usage_natural,priority:2;index" json:"day"`
	UserID    int64        `gorm:"not null;uniqueIndex:ux_usage_natural,priority:3;index" json:"userId"`
	Direction Direction    `gorm:"type:varchar(10);not null;uniqueIndex:ux_usage_natural,priority:4" json:"direction"`

	SessionSeconds int64 `gorm:"not null;default:0" json:"sessionSeconds"`
	AllocatedCalls int64 `gorm:"not null;default:0" json:"allocatedCalls"`
	TotalCalls     int64 `gorm:"not null;default:0" json:"totalCalls"`
	FailedCalls    int64 `gorm:"not null;default:0" json:"failedCalls"`

	BuyCost   decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"buyCost"`
	SellBill  decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"sellBill"`
	AgentBill decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"agentBill"`
	Profit    decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"profit"`

	Username string `gorm:"type:text" json:"username"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// ASR returns the answer-seizure ratio as a percentage, zero when no
// calls were attempted.
func ASR(totalCalls, failedCalls int64) float64 {
	if totalCalls == 0 {
		return 0
	}
	return float64(totalCalls-failedCalls) / float64(totalCalls) * 100
}
