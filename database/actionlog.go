package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"forumd/models"
	"forumd/utils"
)

// LogEntry describes one row to write into log_actions.
type LogEntry struct {
	LogType   int
	MemberID  int64
	IP        string
	Action    string
	BoardID   int64
	TopicID   int64
	MessageID int64
	Extra     map[string]string
}

// LogAction records an action to the moderation, admin or profile log.
func LogAction(ctx context.Context, ex execer, e LogEntry) error {
	if e.LogType == 0 {
		e.LogType = models.LogModeration
	}
	extra := "{}"
	if len(e.Extra) > 0 {
		b, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode log extra: %w", err)
		}
		extra = string(b)
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO log_actions (id_log, log_time, id_member, ip, action, id_board, id_topic, id_msg, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LogType, utils.GetSQLTime(), e.MemberID, e.IP, e.Action, e.BoardID, e.TopicID, e.MessageID, extra)
	if err != nil {
		return fmt.Errorf("failed to execute action log: %w", err)
	}
	return nil
}

// LogFilter selects a page of a log.
type LogFilter struct {
	LogType    int
	Boards     []int64
	Action     string
	MemberName string
	ReportID   int64
	// TargetID restricts entries to those about a member.
	TargetID   int64
	Sort       string
	Desc       bool
	Page       int
	PerPage    int
}

var logSortColumns = map[string]string{
	"time":   "la.log_time",
	"action": "la.action",
	"member": "m.display_name",
	"ip":     "la.ip",
}

// ListLogActions returns a page of log entries with foreign keys resolved into display strings.
func (ds *DatabaseService) ListLogActions(ctx context.Context, f LogFilter) ([]models.LogAction, int, error) {
	where := []string{"la.id_log = ?"}
	args := []interface{}{f.LogType}

	if f.Boards != nil {
		clause, bargs, ok := boardFilter("la.id_board", f.Boards)
		if !ok {
			return nil, 0, nil
		}
		if clause != "" {
			where = append(where, strings.TrimPrefix(clause, " AND "))
			args = append(args, bargs...)
		}
	}
	if f.Action != "" {
		where = append(where, "la.action = ?")
		args = append(args, f.Action)
	}
	if f.MemberName != "" {
		where = append(where, "(m.display_name LIKE ? OR m.member_name LIKE ?)")
		pattern := "%" + f.MemberName + "%"
		args = append(args, pattern, pattern)
	}
	if f.ReportID > 0 {
		where = append(where, "json_extract(la.extra, '$.report') = ?")
		args = append(args, strconv.FormatInt(f.ReportID, 10))
	}
	if f.TargetID > 0 {
		where = append(where, "json_extract(la.extra, '$.member') = ?")
		args = append(args, strconv.FormatInt(f.TargetID, 10))
	}

	from := ` FROM log_actions la
		LEFT JOIN members m ON m.id = la.id_member
		LEFT JOIN boards b ON b.id = la.id_board
		LEFT JOIN topics t ON t.id = la.id_topic
		WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	orderBy, ok := logSortColumns[f.Sort]
	if !ok {
		orderBy = "la.log_time"
		f.Desc = true
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	perPage, offset := pageBounds(f.Page, f.PerPage)

	rows, err := ds.DB.QueryContext(ctx, `SELECT la.id, la.id_log, la.log_time, la.id_member, COALESCE(m.display_name, ''), la.ip, la.action,
			la.id_board, la.id_topic, la.id_msg, la.extra, COALESCE(b.name, ''), COALESCE(t.subject, '')`+from+
		fmt.Sprintf(" ORDER BY %s %s, la.id %s LIMIT ? OFFSET ?", orderBy, dir, dir),
		append(args, perPage, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer ds.closeRows(rows, "ListLogActions")

	var entries []models.LogAction
	memberIDs := make(map[int64]bool)
	for rows.Next() {
		var e models.LogAction
		var extra string
		if err := rows.Scan(&e.ID, &e.LogType, &e.Time, &e.MemberID, &e.MemberName, &e.IP, &e.Action,
			&e.BoardID, &e.TopicID, &e.MessageID, &extra, &e.BoardName, &e.TopicSubject); err != nil {
			ds.logger.Error("Failed to scan log entry", "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(extra), &e.Extra); err != nil {
			e.Extra = map[string]string{}
		}
		if id, err := strconv.ParseInt(e.Extra["member"], 10, 64); err == nil && id > 0 {
			memberIDs[id] = true
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	names, err := ds.memberNames(ctx, memberIDs)
	if err != nil {
		ds.logger.Warn("Failed to resolve member names for log", "error", err)
	}
	for i := range entries {
		e := &entries[i]
		if id, err := strconv.ParseInt(e.Extra["member"], 10, 64); err == nil {
			e.TargetName = names[id]
			if e.TargetName == "" {
				e.TargetName = e.Extra["member_name"]
			}
		}
		e.Details = formatExtra(e.Extra)
	}
	return entries, total, nil
}

// formatExtra renders extra key/values in a stable order, skipping ids already shown as names.
func formatExtra(extra map[string]string) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k == "member" || k == "member_name" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+extra[k])
	}
	return strings.Join(parts, ", ")
}

func (ds *DatabaseService) memberNames(ctx context.Context, ids map[int64]bool) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	list := make([]int64, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, display_name FROM members WHERE id IN ("+placeholders(len(list))+")", int64Args(list)...)
	if err != nil {
		return names, err
	}
	defer ds.closeRows(rows, "memberNames")
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err == nil {
			names[id] = name
		}
	}
	return names, rows.Err()
}

// DeleteLogActions removes entries older than a day from a log, either the
// given ids or all of them, and records the deletion in the admin log.
func (ds *DatabaseService) DeleteLogActions(ctx context.Context, logType int, ids []int64, all bool, actorID int64, ip string) (int64, error) {
	if !all && len(ids) == 0 {
		return 0, nil
	}
	cutoff := utils.GetSQLTime().Add(-24 * time.Hour)
	var deleted int64
	err := ds.withTx(ctx, "DeleteLogActions", func(tx *sql.Tx) error {
		query := "DELETE FROM log_actions WHERE id_log = ? AND log_time < ?"
		args := []interface{}{logType, cutoff}
		if !all {
			query += " AND id IN (" + placeholders(len(ids)) + ")"
			args = append(args, int64Args(ids)...)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete log entries: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return LogAction(ctx, tx, LogEntry{
			LogType:  models.LogAdmin,
			MemberID: actorID,
			IP:       ip,
			Action:   "clearlog",
			Extra:    map[string]string{"log": strconv.Itoa(logType), "deleted": strconv.FormatInt(deleted, 10)},
		})
	})
	return deleted, err
}

// pageBounds normalises page/perPage into LIMIT and OFFSET values.
func pageBounds(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
