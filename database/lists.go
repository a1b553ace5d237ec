package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"forumd/models"
	"forumd/utils"
)

// List kinds for buddy and ignore lists.
const (
	ListBuddies = "buddies"
	ListIgnore  = "ignore"
)

type listTable struct {
	table, column string
}

var listTables = map[string]listTable{
	ListBuddies: {"buddies", "id_buddy"},
	ListIgnore:  {"ignores", "id_ignored"},
}

func lookupList(kind string) (listTable, error) {
	lt, ok := listTables[kind]
	if !ok {
		return listTable{}, fmt.Errorf("%w: unknown list %q", ErrInvalidInput, kind)
	}
	return lt, nil
}

// GetList returns a member's buddy or ignore list with reciprocity and online status.
func (ds *DatabaseService) GetList(ctx context.Context, memberID int64, kind string, onlineWindow time.Duration) ([]models.ListEntry, error) {
	lt, err := lookupList(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT m.id, m.display_name, m.last_login,
			EXISTS (SELECT 1 FROM %[1]s r WHERE r.id_member = m.id AND r.%[2]s = l.id_member),
			EXISTS (SELECT 1 FROM sessions s WHERE s.id_member = m.id AND s.last_seen > ? AND s.expires_at > ?)
		FROM %[1]s l JOIN members m ON m.id = l.%[2]s
		WHERE l.id_member = ? ORDER BY m.display_name COLLATE NOCASE`, lt.table, lt.column)
	now := utils.GetSQLTime()
	rows, err := ds.DB.QueryContext(ctx, query, now.Add(-onlineWindow), now, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s list: %w", kind, err)
	}
	defer ds.closeRows(rows, "GetList")
	var entries []models.ListEntry
	for rows.Next() {
		var e models.ListEntry
		if err := rows.Scan(&e.MemberID, &e.Name, &e.LastLogin, &e.Reciprocal, &e.Online); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddToList adds members to a list. The owner and members already listed are
// skipped; the ids actually added are returned.
func (ds *DatabaseService) AddToList(ctx context.Context, memberID int64, kind string, ids []int64) ([]int64, error) {
	lt, err := lookupList(kind)
	if err != nil {
		return nil, err
	}
	var added []int64
	stmt := fmt.Sprintf("INSERT OR IGNORE INTO %s (id_member, %s, added_at) VALUES (?, ?, ?)", lt.table, lt.column)
	err = ds.withTx(ctx, "AddToList", func(tx *sql.Tx) error {
		now := utils.GetSQLTime()
		for _, id := range ids {
			if id == memberID {
				continue
			}
			res, err := tx.ExecContext(ctx, stmt, memberID, id, now)
			if err != nil {
				return fmt.Errorf("failed to add member %d to %s: %w", id, kind, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added = append(added, id)
			}
		}
		return nil
	})
	return added, err
}

// RemoveFromList removes a member from a list.
func (ds *DatabaseService) RemoveFromList(ctx context.Context, memberID int64, kind string, otherID int64) error {
	lt, err := lookupList(kind)
	if err != nil {
		return err
	}
	res, err := ds.DB.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id_member = ? AND %s = ?", lt.table, lt.column), memberID, otherID)
	if err != nil {
		return fmt.Errorf("failed to remove from %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
