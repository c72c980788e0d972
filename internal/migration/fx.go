package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/didstack/backoffice/internal/config"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
	provisioningdomain "github.com/didstack/backoffice/internal/provisioning/domain"
	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// sqlite is for local runs and tests; gorm's migrator is
			// enough there and avoids a second sqlite driver.
			return conn.AutoMigrate(
				&usagedomain.UsageRecord{},
				&orderdomain.Resource{},
				&orderdomain.Order{},
				&provisioningdomain.User{},
				&provisioningdomain.BillingAccountRef{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
