package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE,
					user_id TEXT NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					merchant_name TEXT,
					amount REAL NOT NULL,
					category TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_user_date ON transactions(user_id, date)`,
				`CREATE INDEX idx_transactions_category ON transactions(category)`,

				`CREATE TABLE IF NOT EXISTS predictions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					category TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					source TEXT NOT NULL,
					model_version INTEGER NOT NULL DEFAULT 0,
					alternatives TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE INDEX idx_predictions_transaction ON predictions(transaction_id, id)`,

				`CREATE TABLE IF NOT EXISTS corrections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					previous_category TEXT NOT NULL,
					corrected_category TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,

				`CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					window TEXT NOT NULL,
					type TEXT NOT NULL,
					severity TEXT NOT NULL,
					status TEXT NOT NULL,
					notes TEXT,
					evidence TEXT,
					created_at DATETIME NOT NULL,
					acknowledged_at DATETIME,
					resolved_at DATETIME
				)`,
				`CREATE INDEX idx_alerts_user_status ON alerts(user_id, status)`,
				`CREATE INDEX idx_alerts_slot ON alerts(user_id, type, window, status)`,

				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					interval_ns INTEGER NOT NULL DEFAULT 0,
					cron TEXT NOT NULL DEFAULT '',
					state TEXT NOT NULL,
					last_run DATETIME,
					last_success INTEGER NOT NULL DEFAULT 0,
					last_err TEXT NOT NULL DEFAULT '',
					last_finished_at DATETIME,
					consecutive_failures INTEGER NOT NULL DEFAULT 0
				)`,

				`CREATE TABLE IF NOT EXISTS monitoring_state (
					user_id TEXT PRIMARY KEY,
					state TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add rule table for the deterministic classification layer",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					merchant_pattern TEXT NOT NULL,
					is_regex INTEGER NOT NULL DEFAULT 0,
					amount_condition TEXT NOT NULL DEFAULT 'any',
					amount_value REAL,
					amount_min REAL,
					amount_max REAL,
					category TEXT NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0.95,
					use_count INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Seed default merchant rules",
		Up: func(tx *sql.Tx) error {
			seeds := []struct {
				name     string
				pattern  string
				category string
			}{
				{"k-market", "k-market", "ruoka"},
				{"s-market", "s-market", "ruoka"},
				{"prisma", "prisma", "ruoka"},
				{"lidl", "lidl", "ruoka"},
				{"alepa", "alepa", "ruoka"},
				{"hsl", "hsl", "liikenne"},
				{"vr", "vr ", "liikenne"},
				{"neste", "neste", "liikenne"},
				{"netflix", "netflix", "viihde"},
				{"spotify", "spotify", "viihde"},
				{"finnkino", "finnkino", "viihde"},
				{"apteekki", "apteekki", "terveys"},
				{"vuokra", "vuokra", "asuminen"},
				{"mcdonald", "mcdonald", "ravintolat"},
				{"hesburger", "hesburger", "ravintolat"},
			}

			for _, seed := range seeds {
				if _, err := tx.Exec(
					`INSERT INTO rules (name, merchant_pattern, category, priority, confidence)
					 VALUES (?, ?, ?, 10, 0.95)`,
					seed.name, seed.pattern, seed.category); err != nil {
					return fmt.Errorf("failed to seed rule %s: %w", seed.name, err)
				}
			}

			slog.Info("Seeded default merchant rules", "count", len(seeds))
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
