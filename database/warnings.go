package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"forumd/models"
	"forumd/utils"
)

// WarningInput describes a change to a member's warning level.
type WarningInput struct {
	MemberID  int64
	NewLevel  int
	Reason    string
	ActorID   int64
	ActorName string
	IP        string
	// MaxPerDay caps the points added within 24 hours; 0 disables the cap.
	MaxPerDay int
	// Notice, when Subject is set, is delivered to the member as a personal message.
	NoticeSubject string
	NoticeBody    string
}

// WarningResult reports what IssueWarning actually applied.
type WarningResult struct {
	Previous int
	Level    int
	Change   int
	Capped   bool
	NoticeID int64
}

// IssueWarning sets a member's warning level, records the reason and optionally sends a notice.
func (ds *DatabaseService) IssueWarning(ctx context.Context, in WarningInput) (*WarningResult, error) {
	if in.MemberID == in.ActorID {
		return nil, fmt.Errorf("%w: cannot warn yourself", ErrInvalidInput)
	}
	result := &WarningResult{}
	err := ds.withTx(ctx, "IssueWarning", func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, "SELECT display_name, warning FROM members WHERE id = ?", in.MemberID).Scan(&name, &result.Previous)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load member warning: %w", err)
		}

		level := utils.Clamp(in.NewLevel, 0, 100)
		now := utils.GetSQLTime()
		if in.MaxPerDay > 0 && level > result.Previous {
			var today int
			err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(counter), 0) FROM log_comments
				WHERE comment_type = ? AND id_recipient = ? AND counter > 0 AND log_time > ?`,
				models.CommentWarning, in.MemberID, now.Add(-24*time.Hour)).Scan(&today)
			if err != nil {
				return fmt.Errorf("failed to sum recent warnings: %w", err)
			}
			if allowed := in.MaxPerDay - today; level-result.Previous > allowed {
				level = result.Previous + max(allowed, 0)
				result.Capped = true
			}
		}
		result.Level = level
		result.Change = level - result.Previous

		if in.NoticeSubject != "" {
			res, err := tx.ExecContext(ctx, "INSERT INTO log_member_notices (subject, body) VALUES (?, ?)", in.NoticeSubject, in.NoticeBody)
			if err != nil {
				return fmt.Errorf("failed to store warning notice: %w", err)
			}
			if result.NoticeID, err = res.LastInsertId(); err != nil {
				return err
			}
			if err := sendPersonalMessage(ctx, tx, in.ActorID, in.ActorName, in.MemberID, in.NoticeSubject, in.NoticeBody); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO log_comments (id_member, member_name, comment_type, id_recipient, recipient_name, log_time, id_notice, counter, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.ActorID, in.ActorName, models.CommentWarning, in.MemberID, name, now, result.NoticeID, result.Change, in.Reason)
		if err != nil {
			return fmt.Errorf("failed to record warning: %w", err)
		}
		if result.Change != 0 {
			if _, err := tx.ExecContext(ctx, "UPDATE members SET warning = ? WHERE id = ?", level, in.MemberID); err != nil {
				return fmt.Errorf("failed to update warning level: %w", err)
			}
		}
		return LogAction(ctx, tx, LogEntry{
			MemberID: in.ActorID, IP: in.IP, Action: "warning",
			Extra: map[string]string{
				"member": strconv.FormatInt(in.MemberID, 10),
				"level":  strconv.Itoa(level),
				"change": strconv.Itoa(result.Change),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListWarnings returns issued warnings, newest first. recipientID 0 lists every member's.
func (ds *DatabaseService) ListWarnings(ctx context.Context, recipientID int64, page, perPage int) ([]models.ModComment, int, error) {
	where := " WHERE c.comment_type = ?"
	args := []interface{}{models.CommentWarning}
	if recipientID > 0 {
		where += " AND c.id_recipient = ?"
		args = append(args, recipientID)
	}
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_comments c"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count warnings: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, `SELECT c.id, c.id_member, COALESCE(NULLIF(m.display_name, ''), c.member_name), c.comment_type,
			c.id_recipient, COALESCE(NULLIF(r.display_name, ''), c.recipient_name), c.log_time, c.id_notice, c.counter, c.body
		FROM log_comments c
		LEFT JOIN members m ON m.id = c.id_member
		LEFT JOIN members r ON r.id = c.id_recipient`+where+` ORDER BY c.log_time DESC, c.id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer ds.closeRows(rows, "ListWarnings")
	warnings, err := scanComments(rows)
	return warnings, total, err
}

// GetNotice loads a warning notice by id.
func (ds *DatabaseService) GetNotice(ctx context.Context, id int64) (subject, body string, err error) {
	err = ds.DB.QueryRowContext(ctx, "SELECT subject, body FROM log_member_notices WHERE id = ?", id).Scan(&subject, &body)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	return subject, body, err
}

// --- Warning templates ---

// Templates live in log_comments: recipient_name holds the title and
// id_recipient the owner for personal templates (0 for shared ones).

// ListWarningTemplates returns shared templates plus the viewer's personal ones.
func (ds *DatabaseService) ListWarningTemplates(ctx context.Context, viewerID int64) ([]models.WarningTemplate, error) {
	rows, err := ds.DB.QueryContext(ctx, `SELECT c.id, c.id_member, COALESCE(NULLIF(m.display_name, ''), c.member_name), c.recipient_name, c.body, c.id_recipient != 0, c.log_time
		FROM log_comments c LEFT JOIN members m ON m.id = c.id_member
		WHERE c.comment_type = ? AND (c.id_recipient = 0 OR c.id_member = ?)
		ORDER BY c.recipient_name COLLATE NOCASE`, models.CommentWarnTemplate, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query warning templates: %w", err)
	}
	defer ds.closeRows(rows, "ListWarningTemplates")
	var tpls []models.WarningTemplate
	for rows.Next() {
		var t models.WarningTemplate
		if err := rows.Scan(&t.ID, &t.MemberID, &t.Author, &t.Title, &t.Body, &t.Personal, &t.Time); err != nil {
			return nil, err
		}
		tpls = append(tpls, t)
	}
	return tpls, rows.Err()
}

// GetWarningTemplate loads a template visible to the viewer.
func (ds *DatabaseService) GetWarningTemplate(ctx context.Context, id, viewerID int64) (*models.WarningTemplate, error) {
	var t models.WarningTemplate
	err := ds.DB.QueryRowContext(ctx, `SELECT id, id_member, member_name, recipient_name, body, id_recipient != 0, log_time
		FROM log_comments WHERE id = ? AND comment_type = ? AND (id_recipient = 0 OR id_member = ?)`,
		id, models.CommentWarnTemplate, viewerID).Scan(&t.ID, &t.MemberID, &t.Author, &t.Title, &t.Body, &t.Personal, &t.Time)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load warning template: %w", err)
	}
	return &t, nil
}

// SaveWarningTemplate creates a template (ID 0) or updates an existing one.
// Personal templates can only be changed by their owner unless anyOwner is set.
func (ds *DatabaseService) SaveWarningTemplate(ctx context.Context, t models.WarningTemplate, editorID int64, editorName string, anyOwner bool, ip string) (int64, error) {
	if t.Title == "" || t.Body == "" {
		return 0, fmt.Errorf("%w: template title and body are required", ErrInvalidInput)
	}
	id := t.ID
	err := ds.withTx(ctx, "SaveWarningTemplate", func(tx *sql.Tx) error {
		owner := int64(0)
		if t.Personal {
			owner = editorID
		}
		action := "modify_template"
		if id == 0 {
			action = "add_template"
			res, err := tx.ExecContext(ctx, `INSERT INTO log_comments (id_member, member_name, comment_type, id_recipient, recipient_name, log_time, body)
				VALUES (?, ?, ?, ?, ?, ?, ?)`, editorID, editorName, models.CommentWarnTemplate, owner, t.Title, utils.GetSQLTime(), t.Body)
			if err != nil {
				return fmt.Errorf("failed to insert warning template: %w", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
		} else {
			query := `UPDATE log_comments SET recipient_name = ?, body = ?, id_recipient = CASE WHEN ? THEN id_member ELSE 0 END, log_time = ?
				WHERE id = ? AND comment_type = ? AND (id_recipient = 0 OR id_member = ? OR ?)`
			res, err := tx.ExecContext(ctx, query, t.Title, t.Body, t.Personal, utils.GetSQLTime(), id, models.CommentWarnTemplate, editorID, anyOwner)
			if err != nil {
				return fmt.Errorf("failed to update warning template: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
		}
		return LogAction(ctx, tx, LogEntry{
			MemberID: editorID, IP: ip, Action: action,
			Extra: map[string]string{"template": strconv.FormatInt(id, 10), "title": t.Title},
		})
	})
	return id, err
}

// DeleteWarningTemplates removes templates the editor may change and returns how many were removed.
func (ds *DatabaseService) DeleteWarningTemplates(ctx context.Context, ids []int64, editorID int64, anyOwner bool, ip string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := ds.withTx(ctx, "DeleteWarningTemplates", func(tx *sql.Tx) error {
		args := append(int64Args(ids), models.CommentWarnTemplate, editorID, anyOwner)
		res, err := tx.ExecContext(ctx, `DELETE FROM log_comments WHERE id IN (`+placeholders(len(ids))+`)
			AND comment_type = ? AND (id_recipient = 0 OR id_member = ? OR ?)`, args...)
		if err != nil {
			return fmt.Errorf("failed to delete warning templates: %w", err)
		}
		if deleted, _ = res.RowsAffected(); deleted == 0 {
			return nil
		}
		return LogAction(ctx, tx, LogEntry{
			MemberID: editorID, IP: ip, Action: "delete_template",
			Extra: map[string]string{"count": strconv.FormatInt(deleted, 10)},
		})
	})
	return int(deleted), err
}

// --- Watched members ---

// ListWatchedMembers returns members whose warning level is at least threshold.
func (ds *DatabaseService) ListWatchedMembers(ctx context.Context, threshold, page, perPage int) ([]models.WatchedMember, int, error) {
	total, err := ds.CountWatchedMembers(ctx, threshold)
	if err != nil || total == 0 {
		return nil, total, err
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, `SELECT m.id, m.display_name, m.warning, m.posts, m.last_login,
			(SELECT msg.poster_time FROM messages msg WHERE msg.id_member = m.id ORDER BY msg.id DESC LIMIT 1)
		FROM members m WHERE m.warning >= ? ORDER BY m.warning DESC, m.display_name LIMIT ? OFFSET ?`, threshold, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query watched members: %w", err)
	}
	defer ds.closeRows(rows, "ListWatchedMembers")
	var watched []models.WatchedMember
	for rows.Next() {
		var w models.WatchedMember
		var lastPost sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &w.Warning, &w.Posts, &w.LastLogin, &lastPost); err != nil {
			return nil, 0, err
		}
		w.LastPost = parseTime(lastPost)
		watched = append(watched, w)
	}
	return watched, total, rows.Err()
}

// ListWatchedPosts returns messages by watched members inside the allowed boards.
func (ds *DatabaseService) ListWatchedPosts(ctx context.Context, threshold int, boards []int64, page, perPage int) ([]models.Message, int, error) {
	clause, bargs, ok := boardFilter("m.id_board", boards)
	if !ok {
		return nil, 0, nil
	}
	where := " WHERE m.id_member IN (SELECT id FROM members WHERE warning >= ?)" + clause
	args := append([]interface{}{threshold}, bargs...)
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages m"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count watched posts: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, messageSelect+where+" ORDER BY m.id DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query watched posts: %w", err)
	}
	defer ds.closeRows(rows, "ListWatchedPosts")
	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, total, rows.Err()
}

// DecayWarnings lowers warning levels of members without a new warning in the last day.
func (ds *DatabaseService) DecayWarnings(ctx context.Context, points int) (int64, error) {
	if points <= 0 {
		return 0, nil
	}
	res, err := ds.DB.ExecContext(ctx, `UPDATE members SET warning = MAX(warning - ?, 0)
		WHERE warning > 0 AND id NOT IN (
			SELECT id_recipient FROM log_comments WHERE comment_type = ? AND log_time > ?
		)`, points, models.CommentWarning, utils.GetSQLTime().Add(-24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to decay warnings: %w", err)
	}
	return res.RowsAffected()
}

// --- Personal messages ---

func sendPersonalMessage(ctx context.Context, ex execer, fromID int64, fromName string, toID int64, subject, body string) error {
	_, err := ex.ExecContext(ctx, "INSERT INTO personal_messages (id_member_from, from_name, id_member_to, subject, body, msgtime) VALUES (?, ?, ?, ?, ?, ?)",
		fromID, fromName, toID, subject, body, utils.GetSQLTime())
	if err != nil {
		return fmt.Errorf("failed to send personal message: %w", err)
	}
	return nil
}

// ListPersonalMessages returns the messages received by a member, newest first.
func (ds *DatabaseService) ListPersonalMessages(ctx context.Context, memberID int64) ([]models.PersonalMessage, error) {
	rows, err := ds.DB.QueryContext(ctx, `SELECT id, id_member_from, from_name, id_member_to, subject, body, msgtime, is_read
		FROM personal_messages WHERE id_member_to = ? ORDER BY id DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query personal messages: %w", err)
	}
	defer ds.closeRows(rows, "ListPersonalMessages")
	var pms []models.PersonalMessage
	for rows.Next() {
		var pm models.PersonalMessage
		if err := rows.Scan(&pm.ID, &pm.FromID, &pm.FromName, &pm.ToID, &pm.Subject, &pm.Body, &pm.Time, &pm.IsRead); err != nil {
			return nil, err
		}
		pms = append(pms, pm)
	}
	return pms, rows.Err()
}

// CountWatchedMembers counts members at or above the watch threshold.
func (ds *DatabaseService) CountWatchedMembers(ctx context.Context, threshold int) (int, error) {
	var count int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM members WHERE warning >= ?", threshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count watched members: %w", err)
	}
	return count, nil
}
