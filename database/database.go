// forumd/database/database.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forumd/utils"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB     *sql.DB
	logger *slog.Logger
	dsn    string
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	// Run versioned migrations
	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	var boardCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM boards").Scan(&boardCount); err == nil && boardCount == 0 {
		if _, err := db.Exec("INSERT INTO boards (id, name, description) VALUES (1, 'General Discussion', 'Feel free to talk about anything here.')"); err != nil {
			return nil, fmt.Errorf("failed to seed boards: %w", err)
		}
	}

	logger.Info("Database initialized.")

	return &DatabaseService{
		DB:     db,
		logger: logger,
		dsn:    dataSourceName,
	}, nil
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase(ctx context.Context, backupDir string) (string, error) {
	if backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", backupDir, err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("forumd_backup_%s.db", timestamp))

	ds.logger.Info("Starting database backup", "destination", backupPath)

	if _, err := ds.DB.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	return backupPath, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version <= latestVersion {
			continue
		}
		logger.Info("Applying migration", "version", m.Version)
		tx, err := db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.Query); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
		logger.Info("Successfully applied migration", "version", m.Version)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (ds *DatabaseService) withTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction", "op", name, "error", rerr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(",?", n-1)
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// boardFilter renders an "AND <column> IN (...)" clause for a BoardsAllowedTo result.
// A nil clause with ok=false means no boards are allowed.
func boardFilter(column string, boards []int64) (clause string, args []interface{}, ok bool) {
	if len(boards) == 0 {
		return "", nil, false
	}
	if len(boards) == 1 && boards[0] == 0 {
		return "", nil, true
	}
	return fmt.Sprintf(" AND %s IN (%s)", column, placeholders(len(boards))), int64Args(boards), true
}

// closeRows closes a result set, logging failures.
func (ds *DatabaseService) closeRows(rows *sql.Rows, op string) {
	if err := rows.Close(); err != nil {
		ds.logger.Error("Failed to close rows", "op", op, "error", err)
	}
}

// parseTime converts a timestamp returned by an SQL expression, which the driver
// hands back as text, into a NullTime.
func parseTime(s sql.NullString) sql.NullTime {
	if !s.Valid || s.String == "" {
		return sql.NullTime{}
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s.String, time.UTC); err == nil {
			return sql.NullTime{Time: t, Valid: true}
		}
	}
	return sql.NullTime{}
}
