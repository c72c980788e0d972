package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	provisioningdomain "github.com/didstack/backoffice/internal/provisioning/domain"
	"github.com/didstack/backoffice/internal/switchclient"
	"github.com/didstack/backoffice/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sipModule is the switch module holding SIP/billing identities.
const sipModule = "sip"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Pair  switchclient.Pair
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	pair    switchclient.Pair
	genID   *snowflake.Node
	clock   clock.Clock
	groupID string
}

func New(p Params) provisioningdomain.Facade {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("provisioning"),
		pair:    p.Pair,
		genID:   p.GenID,
		clock:   p.Clock,
		groupID: p.Cfg.SIPGroupID,
	}
}

func (s *Service) Provision(ctx context.Context, userID int64, direction string) (*provisioningdomain.BillingAccountRef, error) {
	client, err := s.pair.ByName(direction)
	if err != nil {
		return nil, err
	}

	var user provisioningdomain.User
	err = s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, provisioningdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var existing int64
	err = s.db.WithContext(ctx).Model(&provisioningdomain.BillingAccountRef{}).
		Where("user_id = ? AND direction = ?", userID, direction).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, provisioningdomain.ErrAlreadyProvisioned
	}

	username := deriveUsername(user.Name, userID)
	pin, err := generatePIN()
	if err != nil {
		return nil, err
	}

	payload := url.Values{}
	payload.Set("username", username)
	payload.Set("callerid", user.Name)
	payload.Set("pin", pin)
	payload.Set("id_group", s.groupID)
	payload.Set("active", "1")

	resp, err := client.Create(ctx, sipModule, payload)
	if err != nil {
		// Remote failure: no local state has been touched.
		return nil, err
	}

	remoteID, parseErr := resp.ID.Int64()
	if parseErr != nil || remoteID == 0 {
		var found bool
		remoteID, found, err = client.GetID(ctx, sipModule, "username", username)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &switchclient.Error{
				Switch: client.Name(),
				Module: sipModule,
				Action: "save",
				Kind:   switchclient.KindRemote,
				Detail: "created account not found by username",
			}
		}
	}

	ref := &provisioningdomain.BillingAccountRef{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Direction:       direction,
		RemoteAccountID: remoteID,
		CreatedAt:       s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ref).Error; err != nil {
			return err
		}
		return tx.Model(&provisioningdomain.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"sip_provisioned": true,
				"updated_at":      s.clock.Now(),
			}).Error
	})
	if db.IsDuplicateKeyErr(err) {
		// A concurrent provision won the insert race on the unique ref.
		return nil, provisioningdomain.ErrAlreadyProvisioned
	}
	if err != nil {
		return nil, fmt.Errorf("persist account ref: %w", err)
	}

	s.log.Info("billing account provisioned",
		zap.Int64("user_id", userID),
		zap.String("direction", direction),
		zap.Int64("remote_account_id", remoteID),
	)
	return ref, nil
}

func (s *Service) UpdateResource(ctx context.Context, direction, module string, remoteID int64, data url.Values) error {
	client, err := s.pair.ByName(direction)
	if err != nil {
		return err
	}
	if _, err := client.Update(ctx, module, remoteID, data); err != nil {
		return err
	}
	// Remote accepted; any local mirror of the change happens after.
	return nil
}

func (s *Service) DestroyResource(ctx context.Context, direction, module string, remoteID int64) error {
	client, err := s.pair.ByName(direction)
	if err != nil {
		return err
	}
	if _, err := client.Destroy(ctx, module, remoteID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("direction = ? AND remote_account_id = ?", direction, remoteID).
		Delete(&provisioningdomain.BillingAccountRef{}).Error
}

// deriveUsername builds a deterministic switch username from the user's
// display name and id.
func deriveUsername(name string, userID int64) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) > 12 {
		base = base[:12]
	}
	if base == "" {
		base = "user"
	}
	return fmt.Sprintf("%s%d", base, userID)
}

func generatePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
