package domain

import (
	"context"
	"errors"
	"net/url"
)

var (
	ErrUserNotFound       = errors.New("user_not_found")
	ErrAlreadyProvisioned = errors.New("already_provisioned")
)

// Facade orchestrates remote-first mutations against the switch:
// remote success is the precondition for every local write.
type Facade interface {
	// Provision creates the SIP/billing identity on the switch for the
	// given direction and records the returned account id locally. On
	// remote failure no local state changes.
	Provision(ctx context.Context, userID int64, direction string) (*BillingAccountRef, error)

	// UpdateResource mirrors a remote module update locally only after
	// the switch accepted it.
	UpdateResource(ctx context.Context, direction, module string, remoteID int64, data url.Values) error

	// DestroyResource removes the remote row, then the local ref.
	DestroyResource(ctx context.Context, direction, module string, remoteID int64) error
}
