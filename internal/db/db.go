package db

import (
	"log"
	"time"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/checkin"
	"github.com/mindgrove/companion/internal/insight"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

// Migrate creates/updates every table the service owns.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Session{},
		&chat.Turn{},
		&chat.ContinuationPointer{},
		&chat.LastViewed{},
		&chat.ActiveSession{},
		&checkin.Checkin{},
		&insight.PatternRecord{},
		&insight.Insight{},
		&insight.ReduceJob{},
	)
}
