package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"forumd/models"
	"forumd/utils"
)

// NewReport is a member's report on a message or on another member.
type NewReport struct {
	Type         string
	MessageID    int64
	MemberID     int64
	ReporterID   int64
	ReporterName string
	IP           string
	Comment      string
}

// reportTypeClause restricts log_reported rows to post or member reports.
func reportTypeClause(reportType string) string {
	if reportType == models.ReportTypeMembers {
		return "lr.id_msg = 0"
	}
	return "lr.id_msg > 0"
}

// SubmitReport opens a report, or bumps the existing open one, and stores the reporter's comment.
// Reports a moderator chose to ignore keep accepting submissions silently.
func (ds *DatabaseService) SubmitReport(ctx context.Context, nr NewReport) (int64, error) {
	var reportID int64
	err := ds.withTx(ctx, "SubmitReport", func(tx *sql.Tx) error {
		var (
			topicID, boardID, memberID int64
			memberName, subject, body  string
			lookup                     string
			lookupArgs                 []interface{}
		)
		now := utils.GetSQLTime()

		switch nr.Type {
		case models.ReportTypePosts:
			err := tx.QueryRowContext(ctx, `SELECT m.id_topic, m.id_board, m.id_member, COALESCE(NULLIF(mem.display_name, ''), m.poster_name), m.subject, m.body
				FROM messages m LEFT JOIN members mem ON mem.id = m.id_member WHERE m.id = ?`, nr.MessageID).
				Scan(&topicID, &boardID, &memberID, &memberName, &subject, &body)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to load reported message: %w", err)
			}
			lookup = "SELECT id, ignore_all FROM log_reported WHERE id_msg = ? AND closed = 0 ORDER BY ignore_all DESC LIMIT 1"
			lookupArgs = []interface{}{nr.MessageID}
		case models.ReportTypeMembers:
			if nr.MemberID == nr.ReporterID {
				return fmt.Errorf("%w: cannot report yourself", ErrInvalidInput)
			}
			err := tx.QueryRowContext(ctx, "SELECT id, display_name FROM members WHERE id = ?", nr.MemberID).Scan(&memberID, &memberName)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to load reported member: %w", err)
			}
			lookup = "SELECT id, ignore_all FROM log_reported WHERE id_msg = 0 AND id_member = ? AND closed = 0 ORDER BY ignore_all DESC LIMIT 1"
			lookupArgs = []interface{}{nr.MemberID}
		default:
			return fmt.Errorf("%w: unknown report type %q", ErrInvalidInput, nr.Type)
		}

		var ignored bool
		err := tx.QueryRowContext(ctx, lookup, lookupArgs...).Scan(&reportID, &ignored)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, `INSERT INTO log_reported (id_msg, id_topic, id_board, id_member, membername, subject, body, time_started, time_updated, num_reports)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				nr.MessageID, topicID, boardID, memberID, memberName, subject, body, now, now)
			if err != nil {
				return fmt.Errorf("failed to create report: %w", err)
			}
			if reportID, err = res.LastInsertId(); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("failed to look up open report: %w", err)
		case ignored:
			return nil
		default:
			if _, err := tx.ExecContext(ctx, "UPDATE log_reported SET num_reports = num_reports + 1, time_updated = ?, subject = ?, body = ? WHERE id = ?",
				now, subject, body, reportID); err != nil {
				return fmt.Errorf("failed to update report: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO log_reported_comments (id_report, id_member, membername, member_ip, comment, time_sent) VALUES (?, ?, ?, ?, ?, ?)",
			reportID, nr.ReporterID, nr.ReporterName, nr.IP, nr.Comment, now)
		if err != nil {
			return fmt.Errorf("failed to store report comment: %w", err)
		}
		return nil
	})
	return reportID, err
}

// ReportFilter selects a page of reports.
type ReportFilter struct {
	Type    string
	Closed  bool
	Boards  []int64
	Page    int
	PerPage int
}

func (f ReportFilter) where() (string, []interface{}, bool) {
	where := " WHERE " + reportTypeClause(f.Type)
	if f.Closed {
		where += " AND (lr.closed = 1 OR lr.ignore_all = 1)"
	} else {
		where += " AND lr.closed = 0 AND lr.ignore_all = 0"
	}
	if f.Type == models.ReportTypeMembers {
		return where, nil, true
	}
	clause, args, ok := boardFilter("lr.id_board", f.Boards)
	return where + clause, args, ok
}

const reportSelect = `SELECT lr.id, lr.id_msg, lr.id_topic, lr.id_board, COALESCE(b.name, ''), lr.id_member, lr.membername,
	lr.subject, lr.body, lr.time_started, lr.time_updated, lr.num_reports, lr.closed, lr.ignore_all
	FROM log_reported lr LEFT JOIN boards b ON b.id = lr.id_board`

func scanReport(row rowScanner) (models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.MessageID, &r.TopicID, &r.BoardID, &r.BoardName, &r.ReportedID, &r.ReportedName,
		&r.Subject, &r.Body, &r.TimeStarted, &r.TimeUpdated, &r.NumReports, &r.Closed, &r.IgnoreAll)
	r.Type = models.ReportTypePosts
	if r.MessageID == 0 {
		r.Type = models.ReportTypeMembers
	}
	return r, err
}

// CountReports counts reports matching the filter, ignoring paging.
func (ds *DatabaseService) CountReports(ctx context.Context, f ReportFilter) (int, error) {
	where, args, ok := f.where()
	if !ok {
		return 0, nil
	}
	var count int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_reported lr"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

// ListReports returns a page of reports with their reporters' comments attached.
func (ds *DatabaseService) ListReports(ctx context.Context, f ReportFilter) ([]models.Report, int, error) {
	total, err := ds.CountReports(ctx, f)
	if err != nil || total == 0 {
		return nil, total, err
	}
	where, args, _ := f.where()
	limit, offset := pageBounds(f.Page, f.PerPage)
	rows, err := ds.DB.QueryContext(ctx, reportSelect+where+" ORDER BY lr.time_updated DESC, lr.id DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query reports: %w", err)
	}
	var reports []models.Report
	index := make(map[int64]int)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			ds.closeRows(rows, "ListReports")
			return nil, 0, err
		}
		index[r.ID] = len(reports)
		reports = append(reports, r)
	}
	ds.closeRows(rows, "ListReports")
	if len(reports) == 0 {
		return nil, total, nil
	}

	ids := make([]int64, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	comments, err := ds.reportComments(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, c := range comments {
		r := &reports[index[c.ReportID]]
		r.Comments = append(r.Comments, c)
		r.LastReporter = c.MemberName
	}
	return reports, total, nil
}

func (ds *DatabaseService) reportComments(ctx context.Context, reportIDs []int64) ([]models.ReportComment, error) {
	rows, err := ds.DB.QueryContext(ctx, `SELECT c.id, c.id_report, c.id_member, COALESCE(NULLIF(m.display_name, ''), c.membername), c.member_ip, c.comment, c.time_sent
		FROM log_reported_comments c LEFT JOIN members m ON m.id = c.id_member
		WHERE c.id_report IN (`+placeholders(len(reportIDs))+`) ORDER BY c.time_sent, c.id`, int64Args(reportIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report comments: %w", err)
	}
	defer ds.closeRows(rows, "reportComments")
	var comments []models.ReportComment
	for rows.Next() {
		var c models.ReportComment
		if err := rows.Scan(&c.ID, &c.ReportID, &c.MemberID, &c.MemberName, &c.MemberIP, &c.Comment, &c.TimeSent); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// GetReport loads a report of the given type with reporter and moderator comments.
// Post reports outside the allowed boards are reported as not found.
func (ds *DatabaseService) GetReport(ctx context.Context, id int64, reportType string, boards []int64) (*models.Report, error) {
	query := reportSelect + " WHERE lr.id = ? AND " + reportTypeClause(reportType)
	args := []interface{}{id}
	if reportType != models.ReportTypeMembers {
		clause, bargs, ok := boardFilter("lr.id_board", boards)
		if !ok {
			return nil, ErrNotFound
		}
		query += clause
		args = append(args, bargs...)
	}
	r, err := scanReport(ds.DB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %d: %w", id, err)
	}
	if r.Comments, err = ds.reportComments(ctx, []int64{id}); err != nil {
		return nil, err
	}
	if r.ModComments, err = ds.listComments(ctx, models.CommentReport, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// Report state columns that can be toggled.
const (
	ReportClosed  = "closed"
	ReportIgnored = "ignore_all"
)

// SetReportState sets closed or ignore_all on the given reports. Rows already in
// the target state, of another type or outside the allowed boards are left alone.
func (ds *DatabaseService) SetReportState(ctx context.Context, ids []int64, reportType, column string, value bool, boards []int64, actorID int64, ip string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var action string
	switch column {
	case ReportClosed:
		action = map[bool]string{true: "close", false: "open"}[value]
	case ReportIgnored:
		action = map[bool]string{true: "ignore", false: "unignore"}[value]
	default:
		return 0, fmt.Errorf("%w: unknown report state %q", ErrInvalidInput, column)
	}
	if reportType == models.ReportTypeMembers {
		action += "_user"
	}
	action += "_report"

	where := "lr.id IN (" + placeholders(len(ids)) + ") AND " + reportTypeClause(reportType) + " AND lr." + column + " != ?"
	args := append(int64Args(ids), value)
	if reportType != models.ReportTypeMembers {
		clause, bargs, ok := boardFilter("lr.id_board", boards)
		if !ok {
			return 0, nil
		}
		where += clause
		args = append(args, bargs...)
	}

	changed := 0
	err := ds.withTx(ctx, "SetReportState", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT lr.id, lr.id_msg, lr.id_topic, lr.id_board, lr.id_member, lr.subject FROM log_reported lr WHERE "+where, args...)
		if err != nil {
			return fmt.Errorf("failed to query reports: %w", err)
		}
		type target struct {
			id, msg, topic, board, member int64
			subject                       string
		}
		var targets []target
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.id, &t.msg, &t.topic, &t.board, &t.member, &t.subject); err != nil {
				ds.closeRows(rows, "SetReportState")
				return err
			}
			targets = append(targets, t)
		}
		ds.closeRows(rows, "SetReportState")

		now := utils.GetSQLTime()
		for _, t := range targets {
			res, err := tx.ExecContext(ctx, "UPDATE log_reported SET "+column+" = ?, time_updated = ?, id_member_updated = ? WHERE id = ? AND "+column+" != ?",
				value, now, actorID, t.id, value)
			if err != nil {
				return fmt.Errorf("failed to update report %d: %w", t.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: action,
				BoardID: t.board, TopicID: t.topic, MessageID: t.msg,
				Extra: map[string]string{"report": strconv.FormatInt(t.id, 10), "member": strconv.FormatInt(t.member, 10), "subject": t.subject},
			}); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	return changed, err
}

// AddReportComment stores a moderator comment on a report.
func (ds *DatabaseService) AddReportComment(ctx context.Context, reportID, memberID int64, memberName, body, ip string) (int64, error) {
	var id int64
	err := ds.withTx(ctx, "AddReportComment", func(tx *sql.Tx) error {
		var boardID, topicID, msgID int64
		err := tx.QueryRowContext(ctx, "SELECT id_board, id_topic, id_msg FROM log_reported WHERE id = ?", reportID).Scan(&boardID, &topicID, &msgID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		now := utils.GetSQLTime()
		res, err := tx.ExecContext(ctx, `INSERT INTO log_comments (id_member, member_name, comment_type, id_notice, log_time, body)
			VALUES (?, ?, ?, ?, ?, ?)`, memberID, memberName, models.CommentReport, reportID, now, body)
		if err != nil {
			return fmt.Errorf("failed to insert report comment: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE log_reported SET time_updated = ?, id_member_updated = ? WHERE id = ?", now, memberID, reportID); err != nil {
			return fmt.Errorf("failed to touch report: %w", err)
		}
		return LogAction(ctx, tx, LogEntry{
			MemberID: memberID, IP: ip, Action: "report_comment",
			BoardID: boardID, TopicID: topicID, MessageID: msgID,
			Extra: map[string]string{"report": strconv.FormatInt(reportID, 10)},
		})
	})
	return id, err
}

// DeleteReportComment removes a moderator comment from a report. Unless anyAuthor is
// set only the author's own comment can be removed.
func (ds *DatabaseService) DeleteReportComment(ctx context.Context, reportID, commentID, memberID int64, anyAuthor bool, ip string) error {
	return ds.withTx(ctx, "DeleteReportComment", func(tx *sql.Tx) error {
		query := "DELETE FROM log_comments WHERE id = ? AND id_notice = ? AND comment_type = ?"
		args := []interface{}{commentID, reportID, models.CommentReport}
		if !anyAuthor {
			query += " AND id_member = ?"
			args = append(args, memberID)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete report comment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return LogAction(ctx, tx, LogEntry{
			MemberID: memberID, IP: ip, Action: "delete_report_comment",
			Extra: map[string]string{"report": strconv.FormatInt(reportID, 10), "comment": strconv.FormatInt(commentID, 10)},
		})
	})
}

// --- Moderator comments (notes, report comments) ---

// listComments returns log_comments rows of a type, optionally scoped to a notice id.
func (ds *DatabaseService) listComments(ctx context.Context, commentType string, noticeID int64) ([]models.ModComment, error) {
	query := `SELECT c.id, c.id_member, COALESCE(NULLIF(m.display_name, ''), c.member_name), c.comment_type, c.id_recipient, c.recipient_name,
		c.log_time, c.id_notice, c.counter, c.body
		FROM log_comments c LEFT JOIN members m ON m.id = c.id_member
		WHERE c.comment_type = ?`
	args := []interface{}{commentType}
	if noticeID > 0 {
		query += " AND c.id_notice = ?"
		args = append(args, noticeID)
	}
	rows, err := ds.DB.QueryContext(ctx, query+" ORDER BY c.log_time, c.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer ds.closeRows(rows, "listComments")
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]models.ModComment, error) {
	var comments []models.ModComment
	for rows.Next() {
		var c models.ModComment
		if err := rows.Scan(&c.ID, &c.MemberID, &c.MemberName, &c.Type, &c.RecipientID, &c.RecipientName,
			&c.Time, &c.NoticeID, &c.Counter, &c.Body); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddModNote stores a moderator note shown on the moderation center home.
func (ds *DatabaseService) AddModNote(ctx context.Context, memberID int64, memberName, body string) (int64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, fmt.Errorf("%w: empty note", ErrInvalidInput)
	}
	res, err := ds.DB.ExecContext(ctx, "INSERT INTO log_comments (id_member, member_name, comment_type, log_time, body) VALUES (?, ?, ?, ?, ?)",
		memberID, memberName, models.CommentModNote, utils.GetSQLTime(), body)
	if err != nil {
		return 0, fmt.Errorf("failed to add note: %w", err)
	}
	return res.LastInsertId()
}

// ListModNotes returns the most recent moderator notes, newest first.
func (ds *DatabaseService) ListModNotes(ctx context.Context, page, perPage int) ([]models.ModComment, int, error) {
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_comments WHERE comment_type = ?", models.CommentModNote).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notes: %w", err)
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, `SELECT c.id, c.id_member, COALESCE(NULLIF(m.display_name, ''), c.member_name), c.comment_type, c.id_recipient, c.recipient_name,
		c.log_time, c.id_notice, c.counter, c.body
		FROM log_comments c LEFT JOIN members m ON m.id = c.id_member
		WHERE c.comment_type = ? ORDER BY c.id DESC LIMIT ? OFFSET ?`, models.CommentModNote, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notes: %w", err)
	}
	defer ds.closeRows(rows, "ListModNotes")
	notes, err := scanComments(rows)
	return notes, total, err
}

// DeleteModNote removes a note. Unless anyAuthor is set only the author's own note can be removed.
func (ds *DatabaseService) DeleteModNote(ctx context.Context, noteID, memberID int64, anyAuthor bool) error {
	query := "DELETE FROM log_comments WHERE id = ? AND comment_type = ?"
	args := []interface{}{noteID, models.CommentModNote}
	if !anyAuthor {
		query += " AND id_member = ?"
		args = append(args, memberID)
	}
	res, err := ds.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
