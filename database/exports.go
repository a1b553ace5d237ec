package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"forumd/models"
	"forumd/utils"
)

const exportColumns = "id, id_member, format, datatypes, status, path, token_hash, size, error, created_at, completed_at"

func scanExport(row rowScanner) (models.Export, error) {
	var e models.Export
	var datatypes string
	err := row.Scan(&e.ID, &e.MemberID, &e.Format, &datatypes, &e.Status, &e.Path, &e.TokenHash, &e.Size, &e.Error, &e.CreatedAt, &e.CompletedAt)
	if datatypes != "" {
		e.Datatypes = strings.Split(datatypes, ",")
	}
	return e, err
}

func (ds *DatabaseService) queryExports(ctx context.Context, op, where string, args ...interface{}) ([]models.Export, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT "+exportColumns+" FROM exports WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer ds.closeRows(rows, op)
	var exports []models.Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// CreateExport queues an export job and returns its id and the raw download token.
func (ds *DatabaseService) CreateExport(ctx context.Context, memberID int64, format string, datatypes []string) (int64, string, error) {
	token := utils.NewToken()
	res, err := ds.DB.ExecContext(ctx, "INSERT INTO exports (id_member, format, datatypes, status, token_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		memberID, format, strings.Join(datatypes, ","), models.ExportPending, utils.HashToken(token), utils.GetSQLTime())
	if err != nil {
		return 0, "", fmt.Errorf("failed to queue export: %w", err)
	}
	id, err := res.LastInsertId()
	return id, token, err
}

// GetExport loads an export by id.
func (ds *DatabaseService) GetExport(ctx context.Context, id int64) (*models.Export, error) {
	e, err := scanExport(ds.DB.QueryRowContext(ctx, "SELECT "+exportColumns+" FROM exports WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export %d: %w", id, err)
	}
	return &e, nil
}

// GetExportByToken loads a member's export by its raw download token.
func (ds *DatabaseService) GetExportByToken(ctx context.Context, memberID int64, token string) (*models.Export, error) {
	e, err := scanExport(ds.DB.QueryRowContext(ctx, "SELECT "+exportColumns+" FROM exports WHERE token_hash = ? AND id_member = ?",
		utils.HashToken(token), memberID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export: %w", err)
	}
	return &e, nil
}

// ListExports returns a member's exports, newest first.
func (ds *DatabaseService) ListExports(ctx context.Context, memberID int64) ([]models.Export, error) {
	return ds.queryExports(ctx, "ListExports", "id_member = ? ORDER BY id DESC", memberID)
}

// PendingExports returns queued jobs, oldest first.
func (ds *DatabaseService) PendingExports(ctx context.Context) ([]models.Export, error) {
	return ds.queryExports(ctx, "PendingExports", "status = ? ORDER BY id", models.ExportPending)
}

// ResetRunningExports requeues jobs left running by a previous process.
func (ds *DatabaseService) ResetRunningExports(ctx context.Context) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "UPDATE exports SET status = ? WHERE status = ?", models.ExportPending, models.ExportRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue exports: %w", err)
	}
	return res.RowsAffected()
}

// ClaimExport moves a pending job to running. It reports false when another worker got there first.
func (ds *DatabaseService) ClaimExport(ctx context.Context, id int64) (bool, error) {
	res, err := ds.DB.ExecContext(ctx, "UPDATE exports SET status = ? WHERE id = ? AND status = ?", models.ExportRunning, id, models.ExportPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim export %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteExport records a finished job.
func (ds *DatabaseService) CompleteExport(ctx context.Context, id int64, path string, size int64) error {
	_, err := ds.DB.ExecContext(ctx, "UPDATE exports SET status = ?, path = ?, size = ?, error = '', completed_at = ? WHERE id = ?",
		models.ExportComplete, path, size, utils.GetSQLTime(), id)
	if err != nil {
		return fmt.Errorf("failed to complete export %d: %w", id, err)
	}
	return nil
}

// FailExport records a failed job.
func (ds *DatabaseService) FailExport(ctx context.Context, id int64, msg string) error {
	_, err := ds.DB.ExecContext(ctx, "UPDATE exports SET status = ?, error = ?, completed_at = ? WHERE id = ?",
		models.ExportFailed, msg, utils.GetSQLTime(), id)
	if err != nil {
		return fmt.Errorf("failed to mark export %d failed: %w", id, err)
	}
	return nil
}

// DeleteExport removes a member's export row and returns it so the caller can remove the file.
func (ds *DatabaseService) DeleteExport(ctx context.Context, id, memberID int64) (*models.Export, error) {
	e, err := ds.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.MemberID != memberID {
		return nil, ErrNotFound
	}
	if e.Status == models.ExportRunning {
		return nil, fmt.Errorf("%w: export is still running", ErrInvalidInput)
	}
	if _, err := ds.DB.ExecContext(ctx, "DELETE FROM exports WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete export %d: %w", id, err)
	}
	return e, nil
}

// ExpiredExports returns finished exports created before the cutoff.
func (ds *DatabaseService) ExpiredExports(ctx context.Context, before time.Time) ([]models.Export, error) {
	return ds.queryExports(ctx, "ExpiredExports", "status IN (?, ?) AND created_at < ? ORDER BY id",
		models.ExportComplete, models.ExportFailed, before)
}

// DeleteExportRow removes an export row without ownership checks.
func (ds *DatabaseService) DeleteExportRow(ctx context.Context, id int64) error {
	_, err := ds.DB.ExecContext(ctx, "DELETE FROM exports WHERE id = ?", id)
	return err
}

// ExportProfile is the member data gathered for an export.
type ExportProfile struct {
	Member *models.Member
	Groups []string
}

// GetExportProfile loads the profile section of an export.
func (ds *DatabaseService) GetExportProfile(ctx context.Context, memberID int64) (*ExportProfile, error) {
	m, err := ds.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	ids := append([]int64{m.GroupID}, m.AdditionalGroups...)
	rows, err := ds.DB.QueryContext(ctx, "SELECT name FROM membergroups WHERE id IN ("+placeholders(len(ids))+") ORDER BY id", int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query export groups: %w", err)
	}
	defer ds.closeRows(rows, "GetExportProfile")
	p := &ExportProfile{Member: m}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		p.Groups = append(p.Groups, name)
	}
	return p, rows.Err()
}
