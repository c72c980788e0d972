// Package domain holds the local mapping into the switch's identity
// space plus the subscriber profile rows the facade mutates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the subset of the subscriber profile the facade touches.
type User struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"type:text;not null" json:"name"`
	Email          string    `gorm:"type:text;uniqueIndex" json:"email"`
	SIPProvisioned bool      `gorm:"column:sip_provisioned;not null;default:false" json:"sipProvisioned"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (User) TableName() string { return "users" }

// BillingAccountRef points one local user at the remote account that
// holds their usage on a switch instance. It is the join key every
// mirror and aggregation query scopes by.
type BillingAccountRef struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"-"`
	UserID          int64        `gorm:"not null;uniqueIndex:ux_account_ref,priority:1" json:"userId"`
	Direction       string       `gorm:"type:varchar(10);not null;uniqueIndex:ux_account_ref,priority:2" json:"direction"`
	RemoteAccountID int64        `gorm:"not null" json:"remoteAccountId"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (BillingAccountRef) TableName() string { return "billing_account_refs" }
