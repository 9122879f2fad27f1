package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/model"
)

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{
		&model.User{},
		&model.Zone{},
		&model.LibrarySetting{},
		&model.EntryExitEvent{},
		&model.OccupancyRecord{},
		&model.SeatPost{},
		&model.Announcement{},
		&model.PushSubscription{},
	}
}

func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Init opens the configured database and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Printf("Running %s migrations...", cfg.Driver)
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if cfg.EnableTimescale && cfg.Driver == config.DriverPostgres {
		log.Println("TimescaleDB is enabled, applying TimescaleDB-specific DDL...")
		if err := applyTimescaleDDL(db); err != nil {
			log.Printf("Warning: failed to apply some TimescaleDB DDL: %v. Continuing without them.", err)
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// applyTimescaleDDL turns the occupancy snapshot table into a hypertable.
// The table's primary key is (id) alone, so migrate_data is required and
// the partitioning column must join the key first.
func applyTimescaleDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS timescaledb;",
		"ALTER TABLE occupancy_records DROP CONSTRAINT IF EXISTS occupancy_records_pkey;",
		`ALTER TABLE occupancy_records ADD PRIMARY KEY (id, "timestamp");`,
		`SELECT create_hypertable('occupancy_records', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE);`,
		`CREATE INDEX IF NOT EXISTS idx_occupancy_records_timestamp_desc ON occupancy_records ("timestamp" DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_entry_exit_events_type_ts ON entry_exit_events (event_type, "timestamp" DESC);`,
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
