package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool. Nil when no database is configured.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// Enabled reports whether enough parameters are set to attempt a connection.
func (c DBConfig) Enabled() bool {
	return c.Host != "" && c.DBName != ""
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(10)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err := DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Connected to the PostgreSQL database")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
		DB = nil
	}
}

// EnsureSchema creates the earn tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS earn_operations (
			operation_id UUID PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			vault_address CHAR(42) NOT NULL,
			account_address CHAR(42) NOT NULL,
			tx_hash CHAR(66),
			outcome VARCHAR(32) NOT NULL,
			message TEXT,
			gas_used BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_earn_operations_created ON earn_operations(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_earn_operations_vault ON earn_operations(vault_address);

		CREATE TABLE IF NOT EXISTS earn_balance_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			sync_round INTEGER NOT NULL,
			vault_address CHAR(42) NOT NULL,
			account_address CHAR(42) NOT NULL,
			user_deposited NUMERIC(78, 0) NOT NULL,
			total_deposited NUMERIC(78, 0) NOT NULL,
			pending_rewards NUMERIC(78, 0) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_earn_balance_snapshots_vault_ts ON earn_balance_snapshots(vault_address, snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS earn_sync_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_round INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO earn_sync_counter (id, current_round)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// ResetSchema drops every earn table and recreates the schema. All history is lost.
func ResetSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	dropTablesQuery := `
		DROP TABLE IF EXISTS earn_operations CASCADE;
		DROP TABLE IF EXISTS earn_balance_snapshots CASCADE;
		DROP TABLE IF EXISTS earn_sync_counter CASCADE;
	`
	if _, err := DB.Exec(dropTablesQuery); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Info().Msg("Successfully dropped all earn tables")

	return EnsureSchema()
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
