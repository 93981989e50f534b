// Package mysql owns the relational database connection. The connection is
// a process-wide singleton established on first use.
package mysql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"docqa/internal/config"
)

var (
	dbInstance *gorm.DB
	once       sync.Once
	initErr    error
)

// GetDB initializes and returns the shared GORM instance. The connection
// is established exactly once per process.
func GetDB(cfg *config.MySQLConfig) (*gorm.DB, error) {
	once.Do(func() {
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username,
			cfg.Password,
			cfg.Address,
			cfg.Database,
		)

		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			initErr = fmt.Errorf("connect to mysql: %w", err)
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			initErr = fmt.Errorf("get underlying sql.DB: %w", err)
			return
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

		dbInstance = db
	})
	return dbInstance, initErr
}

// Close shuts down the shared connection pool.
func Close() error {
	if dbInstance == nil {
		return nil
	}
	sqlDB, err := dbInstance.DB()
	if err != nil {
		return fmt.Errorf("get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// HealthCheck pings the database.
func HealthCheck(ctx context.Context) error {
	if dbInstance == nil {
		return fmt.Errorf("mysql connection is not initialized")
	}
	sqlDB, err := dbInstance.DB()
	if err != nil {
		return fmt.Errorf("get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
