package infra

import (
	"fmt"

	"possync/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Unique violations surface as gorm.ErrDuplicatedKey on every dialect.
		TranslateError: true,
	}
}

// NewDatabase opens the server ledger on Postgres and migrates it.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewSQLite opens (or creates) a SQLite file with a single connection so
// writers serialize instead of failing with SQLITE_BUSY. It is used for the
// terminal's offline queue and for the server ledger in tests.
func NewSQLite(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_foreign_keys=1", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// RunMigrations creates / updates the ledger tables and applies the
// idempotent patches AutoMigrate cannot express.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Product{},
		&model.StockLevel{},
		&model.Sale{},
		&model.SaleLine{},
		&model.StockMovement{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs DDL that is portable across Postgres and SQLite
// and safe to re-run.
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// low-stock listing for GET /v1/stock?low=true
		`CREATE INDEX IF NOT EXISTS idx_stock_levels_low
		    ON stock_levels (store_id)
		    WHERE quantity <= min_quantity`,
		`CREATE INDEX IF NOT EXISTS idx_sales_store_date
		    ON sales (store_id, date)`,
	}
	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}
