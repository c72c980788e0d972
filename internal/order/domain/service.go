package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didstack/backoffice/pkg/db/pagination"
)

var (
	ErrOrderNotFound   = errors.New("order_not_found")
	ErrOrderNotPending = errors.New("order_not_pending")

	// ErrResourceConflict marks a reservation attempt on resources that
	// are not available; callers may retry with different resources.
	ErrResourceConflict = errors.New("resource_conflict")

	// ErrNothingReserved marks a confirm that found none of the order's
	// resources still reserved: the expiry sweep got there first.
	ErrNothingReserved = errors.New("nothing_reserved")

	ErrResourceNotFound     = errors.New("resource_not_found")
	ErrInvalidResourceState = errors.New("invalid_resource_state")
	ErrEmptyOrder           = errors.New("empty_order")
)

// ConflictError lists the resources that blocked a reservation.
// errors.Is(err, ErrResourceConflict) matches it.
type ConflictError struct {
	ResourceIDs []snowflake.ID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource_conflict: %d resource(s) not available", len(e.ResourceIDs))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrResourceConflict
}

type ListResourcesRequest struct {
	Kind   string `form:"kind"`
	Status string `form:"status"`
	pagination.Request
}

type ListResourcesResponse struct {
	Data       []Resource          `json:"data"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// Ledger enforces the resource/order state machine:
// available → reserved → {purchased, available};
// purchased → scheduled_deletion.
type Ledger interface {
	// CreateOrder reserves the requested resources against a new order
	// whose hold expires after the configured reservation window. Any
	// unavailable resource fails the whole attempt with a ConflictError.
	CreateOrder(ctx context.Context, userID int64, resourceIDs []snowflake.ID) (*Order, error)

	// Reserve transitions the given available resources to reserved
	// under orderID. No partial reservation survives a failure.
	Reserve(ctx context.Context, resourceIDs []snowflake.ID, orderID snowflake.ID, expiresAt time.Time) error

	// Confirm promotes the order's reserved resources to purchased on
	// payment success. Fails with ErrNothingReserved when the sweep
	// released them first.
	Confirm(ctx context.Context, orderID snowflake.ID) error

	// Release returns the order's still-reserved resources to available
	// and cancels the order. Idempotent; purchased resources are never
	// reverted.
	Release(ctx context.Context, orderID snowflake.ID) error

	// MarkPaymentFailed records the failure. Resources stay reserved
	// until the expiry sweep releases them at the natural deadline.
	MarkPaymentFailed(ctx context.Context, orderID snowflake.ID) error

	// ScheduleDeletion moves an owned purchased resource into the
	// time-boxed deletion flow.
	ScheduleDeletion(ctx context.Context, resourceID snowflake.ID, ownerID int64) error

	// ExpiredOrderIDs lists orders due for the expiry sweep.
	ExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error)

	ListResources(ctx context.Context, req ListResourcesRequest) (ListResourcesResponse, error)
	GetOrder(ctx context.Context, orderID snowflake.ID) (*Order, error)
}
