package query

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/logutils"
)

var (
	once     sync.Once
	instance *gorm.DB
)

// GetDB returns the shared database handle, opening it on first use.
func GetDB() *gorm.DB {
	once.Do(func() {
		pg := config.GetConfig().Postgres

		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.User, pg.Password, pg.DBName, pg.Port, pg.SSLMode, pg.TimeZone)
		var err error
		// Submission and publication timestamps are stored in UTC.
		instance, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			panic(err)
		}
		sqlDB, err := instance.DB()
		if err != nil {
			panic(err)
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)

		logutils.Log.WithFields(logutils.Fields{
			"host": pg.Host,
			"db":   pg.DBName,
		}).Info("connected to postgres")
	})
	return instance
}
