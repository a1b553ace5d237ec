package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"forumd/models"
	"forumd/utils"
)

// NewMessage describes a post to insert. TopicID 0 starts a new topic.
type NewMessage struct {
	TopicID    int64
	BoardID    int64
	MemberID   int64
	PosterName string
	Subject    string
	Body       string
	IP         string
	Approved   bool
}

// CreateMessage inserts a post, creating its topic when needed, and keeps topic counters in sync.
func (ds *DatabaseService) CreateMessage(ctx context.Context, nm NewMessage) (msgID, topicID int64, err error) {
	err = ds.withTx(ctx, "CreateMessage", func(tx *sql.Tx) error {
		topicID = nm.TopicID
		if topicID == 0 {
			res, err := tx.ExecContext(ctx, "INSERT INTO topics (id_board, id_member_started, subject, approved) VALUES (?, ?, ?, ?)",
				nm.BoardID, nm.MemberID, nm.Subject, nm.Approved)
			if err != nil {
				return fmt.Errorf("failed to create topic: %w", err)
			}
			if topicID, err = res.LastInsertId(); err != nil {
				return err
			}
		} else if err := tx.QueryRowContext(ctx, "SELECT id_board FROM topics WHERE id = ?", topicID).Scan(&nm.BoardID); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO messages (id_topic, id_board, id_member, poster_name, subject, body, poster_time, poster_ip, approved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			topicID, nm.BoardID, nm.MemberID, nm.PosterName, nm.Subject, nm.Body, utils.GetSQLTime(), nm.IP, nm.Approved)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		if msgID, err = res.LastInsertId(); err != nil {
			return err
		}

		switch {
		case nm.TopicID == 0:
			_, err = tx.ExecContext(ctx, "UPDATE topics SET id_first_msg = ?, unapproved_posts = ? WHERE id = ?", msgID, utils.BtoI(!nm.Approved), topicID)
		case nm.Approved:
			_, err = tx.ExecContext(ctx, "UPDATE topics SET num_replies = num_replies + 1 WHERE id = ?", topicID)
		default:
			_, err = tx.ExecContext(ctx, "UPDATE topics SET unapproved_posts = unapproved_posts + 1 WHERE id = ?", topicID)
		}
		if err != nil {
			return fmt.Errorf("failed to update topic counters: %w", err)
		}
		if nm.Approved && nm.MemberID > 0 {
			if _, err := tx.ExecContext(ctx, "UPDATE members SET posts = posts + 1 WHERE id = ?", nm.MemberID); err != nil {
				return fmt.Errorf("failed to update post count: %w", err)
			}
		}
		return nil
	})
	return msgID, topicID, err
}

// CreateAttachment inserts an attachment row for a message.
func (ds *DatabaseService) CreateAttachment(ctx context.Context, a models.Attachment) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "INSERT INTO attachments (id_msg, id_member, filename, path, size, mime_type, approved) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.MessageID, a.MemberID, a.Filename, a.Path, a.Size, a.Mime, a.Approved)
	if err != nil {
		return 0, fmt.Errorf("failed to create attachment: %w", err)
	}
	return res.LastInsertId()
}

const messageSelect = `SELECT m.id, m.id_topic, m.id_board, COALESCE(b.name, ''), m.id_member,
	COALESCE(NULLIF(mem.display_name, ''), m.poster_name), m.subject, m.body, m.poster_time, m.poster_ip, m.approved,
	t.id_first_msg = m.id
	FROM messages m
	JOIN topics t ON t.id = m.id_topic
	LEFT JOIN boards b ON b.id = m.id_board
	LEFT JOIN members mem ON mem.id = m.id_member`

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.TopicID, &msg.BoardID, &msg.BoardName, &msg.MemberID, &msg.PosterName,
		&msg.Subject, &msg.Body, &msg.PosterTime, &msg.PosterIP, &msg.Approved, &msg.IsFirst)
	return msg, err
}

// GetMessage loads a single message.
func (ds *DatabaseService) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg, err := scanMessage(ds.DB.QueryRowContext(ctx, messageSelect+" WHERE m.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", id, err)
	}
	return &msg, nil
}

// unapprovedWhere selects unapproved topics (first messages) or unapproved replies.
func unapprovedWhere(topics bool) string {
	if topics {
		return " WHERE m.approved = 0 AND t.id_first_msg = m.id"
	}
	return " WHERE m.approved = 0 AND t.id_first_msg != m.id"
}

// CountUnapprovedMessages counts unapproved topics or replies within boards.
func (ds *DatabaseService) CountUnapprovedMessages(ctx context.Context, boards []int64, topics bool) (int, error) {
	clause, args, ok := boardFilter("m.id_board", boards)
	if !ok {
		return 0, nil
	}
	var count int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages m JOIN topics t ON t.id = m.id_topic"+unapprovedWhere(topics)+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unapproved messages: %w", err)
	}
	return count, nil
}

// ListUnapprovedMessages returns a page of the approval queue.
func (ds *DatabaseService) ListUnapprovedMessages(ctx context.Context, boards []int64, topics bool, page, perPage int) ([]models.Message, int, error) {
	total, err := ds.CountUnapprovedMessages(ctx, boards, topics)
	if err != nil || total == 0 {
		return nil, total, err
	}
	clause, args, _ := boardFilter("m.id_board", boards)
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, messageSelect+unapprovedWhere(topics)+clause+" ORDER BY m.id DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query unapproved messages: %w", err)
	}
	defer ds.closeRows(rows, "ListUnapprovedMessages")
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

// ApproveMessages approves the given unapproved messages inside the allowed boards.
// Messages already approved or outside the boards are skipped.
func (ds *DatabaseService) ApproveMessages(ctx context.Context, ids, boards []int64, actorID int64, ip string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	clause, bargs, ok := boardFilter("m.id_board", boards)
	if !ok {
		return 0, nil
	}
	approved := 0
	err := ds.withTx(ctx, "ApproveMessages", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT m.id, m.id_topic, m.id_board, m.id_member, m.subject, t.id_first_msg = m.id
			FROM messages m JOIN topics t ON t.id = m.id_topic
			WHERE m.approved = 0 AND m.id IN (`+placeholders(len(ids))+`)`+clause, append(int64Args(ids), bargs...)...)
		if err != nil {
			return fmt.Errorf("failed to query messages to approve: %w", err)
		}
		type target struct {
			id, topic, board, member int64
			subject                  string
			first                    bool
		}
		var targets []target
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.id, &t.topic, &t.board, &t.member, &t.subject, &t.first); err != nil {
				ds.closeRows(rows, "ApproveMessages")
				return err
			}
			targets = append(targets, t)
		}
		ds.closeRows(rows, "ApproveMessages")

		for _, t := range targets {
			res, err := tx.ExecContext(ctx, "UPDATE messages SET approved = 1 WHERE id = ? AND approved = 0", t.id)
			if err != nil {
				return fmt.Errorf("failed to approve message %d: %w", t.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			action := "approve"
			if t.first {
				action = "approve_topic"
				_, err = tx.ExecContext(ctx, "UPDATE topics SET approved = 1, unapproved_posts = MAX(unapproved_posts - 1, 0) WHERE id = ?", t.topic)
			} else {
				_, err = tx.ExecContext(ctx, "UPDATE topics SET num_replies = num_replies + 1, unapproved_posts = MAX(unapproved_posts - 1, 0) WHERE id = ?", t.topic)
			}
			if err != nil {
				return fmt.Errorf("failed to update topic %d: %w", t.topic, err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE attachments SET approved = 1 WHERE id_msg = ? AND approved = 0", t.id); err != nil {
				return fmt.Errorf("failed to approve attachments: %w", err)
			}
			if t.member > 0 {
				if _, err := tx.ExecContext(ctx, "UPDATE members SET posts = posts + 1 WHERE id = ?", t.member); err != nil {
					return fmt.Errorf("failed to update post count: %w", err)
				}
			}
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: action,
				BoardID: t.board, TopicID: t.topic, MessageID: t.id,
				Extra: map[string]string{"subject": t.subject, "member": strconv.FormatInt(t.member, 10)},
			}); err != nil {
				return err
			}
			approved++
		}
		return nil
	})
	return approved, err
}

// DeleteMessages removes unapproved messages inside the allowed boards.
// Deleting the first message of a topic removes the whole topic. Returns
// stored attachment paths that the caller should remove from storage.
func (ds *DatabaseService) DeleteMessages(ctx context.Context, ids, boards []int64, actorID int64, ip string) (int, []string, error) {
	if len(ids) == 0 {
		return 0, nil, nil
	}
	clause, bargs, ok := boardFilter("m.id_board", boards)
	if !ok {
		return 0, nil, nil
	}
	var (
		deleted int
		files   []string
	)
	err := ds.withTx(ctx, "DeleteMessages", func(tx *sql.Tx) error {
		targets, err := ds.messageTargets(ctx, tx, "m.id IN ("+placeholders(len(ids))+") AND m.approved = 0"+clause, append(int64Args(ids), bargs...)...)
		if err != nil {
			return err
		}
		deleted, files, err = ds.removeMessages(ctx, tx, targets, actorID, ip, true)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return deleted, files, nil
}

type messageTarget struct {
	id, topic, board, member int64
	subject                  string
	approved, first          bool
}

func (ds *DatabaseService) messageTargets(ctx context.Context, tx *sql.Tx, where string, args ...interface{}) ([]messageTarget, error) {
	rows, err := tx.QueryContext(ctx, `SELECT m.id, m.id_topic, m.id_board, m.id_member, m.subject, m.approved, t.id_first_msg = m.id
		FROM messages m JOIN topics t ON t.id = m.id_topic
		WHERE `+where+` ORDER BY m.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages to delete: %w", err)
	}
	defer ds.closeRows(rows, "messageTargets")
	var targets []messageTarget
	for rows.Next() {
		var t messageTarget
		if err := rows.Scan(&t.id, &t.topic, &t.board, &t.member, &t.subject, &t.approved, &t.first); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// removeMessages deletes targets with their attachments, keeping topic
// counters in step. A first message takes its topic along. When logged is
// set each removal is written to the moderation log.
func (ds *DatabaseService) removeMessages(ctx context.Context, tx *sql.Tx, targets []messageTarget, actorID int64, ip string, logged bool) (int, []string, error) {
	var (
		deleted int
		files   []string
	)
	removedTopics := make(map[int64]bool)
	for _, t := range targets {
		if removedTopics[t.topic] {
			continue
		}
		action := "delete"
		if t.first {
			action = "remove"
			paths, err := attachmentPaths(ctx, tx, "SELECT a.path FROM attachments a JOIN messages m ON m.id = a.id_msg WHERE m.id_topic = ?", t.topic)
			if err != nil {
				return 0, nil, err
			}
			files = append(files, paths...)
			if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE id_msg IN (SELECT id FROM messages WHERE id_topic = ?)", t.topic); err != nil {
				return 0, nil, fmt.Errorf("failed to delete topic attachments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE log_reported SET closed = 1 WHERE closed = 0 AND id_msg IN (SELECT id FROM messages WHERE id_topic = ?)", t.topic); err != nil {
				return 0, nil, fmt.Errorf("failed to close reports: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id_topic = ?", t.topic); err != nil {
				return 0, nil, fmt.Errorf("failed to delete topic messages: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM topics WHERE id = ?", t.topic); err != nil {
				return 0, nil, fmt.Errorf("failed to delete topic: %w", err)
			}
			removedTopics[t.topic] = true
		} else {
			paths, err := attachmentPaths(ctx, tx, "SELECT path FROM attachments WHERE id_msg = ?", t.id)
			if err != nil {
				return 0, nil, err
			}
			files = append(files, paths...)
			if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE id_msg = ?", t.id); err != nil {
				return 0, nil, fmt.Errorf("failed to delete attachments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", t.id); err != nil {
				return 0, nil, fmt.Errorf("failed to delete message: %w", err)
			}
			counter := "unapproved_posts = MAX(unapproved_posts - 1, 0)"
			if t.approved {
				counter = "num_replies = MAX(num_replies - 1, 0)"
			}
			if _, err := tx.ExecContext(ctx, "UPDATE topics SET "+counter+" WHERE id = ?", t.topic); err != nil {
				return 0, nil, fmt.Errorf("failed to update topic counters: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE log_reported SET closed = 1 WHERE id_msg = ? AND closed = 0", t.id); err != nil {
				return 0, nil, fmt.Errorf("failed to close reports: %w", err)
			}
		}
		if logged {
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: action,
				BoardID: t.board, TopicID: t.topic, MessageID: t.id,
				Extra: map[string]string{"subject": t.subject, "member": strconv.FormatInt(t.member, 10)},
			}); err != nil {
				return 0, nil, err
			}
		}
		deleted++
	}
	return deleted, files, nil
}

func attachmentPaths(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment paths: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, rows.Err()
}

// --- Attachments ---

// CountUnapprovedAttachments counts attachments awaiting approval within boards.
func (ds *DatabaseService) CountUnapprovedAttachments(ctx context.Context, boards []int64) (int, error) {
	clause, args, ok := boardFilter("m.id_board", boards)
	if !ok {
		return 0, nil
	}
	var count int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM attachments a JOIN messages m ON m.id = a.id_msg WHERE a.approved = 0"+clause, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unapproved attachments: %w", err)
	}
	return count, nil
}

// ListUnapprovedAttachments returns a page of attachments awaiting approval with their messages.
func (ds *DatabaseService) ListUnapprovedAttachments(ctx context.Context, boards []int64, page, perPage int) ([]models.Attachment, int, error) {
	total, err := ds.CountUnapprovedAttachments(ctx, boards)
	if err != nil || total == 0 {
		return nil, total, err
	}
	clause, args, _ := boardFilter("m.id_board", boards)
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, `SELECT a.id, a.id_msg, a.id_member, a.filename, a.path, a.size, a.mime_type, a.approved,
			m.id_topic, m.id_board, COALESCE(b.name, ''), COALESCE(NULLIF(mem.display_name, ''), m.poster_name), m.subject, m.poster_time
		FROM attachments a
		JOIN messages m ON m.id = a.id_msg
		LEFT JOIN boards b ON b.id = m.id_board
		LEFT JOIN members mem ON mem.id = m.id_member
		WHERE a.approved = 0`+clause+` ORDER BY a.id DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query unapproved attachments: %w", err)
	}
	defer ds.closeRows(rows, "ListUnapprovedAttachments")
	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.MemberID, &a.Filename, &a.Path, &a.Size, &a.Mime, &a.Approved,
			&a.Message.TopicID, &a.Message.BoardID, &a.Message.BoardName, &a.Message.PosterName, &a.Message.Subject, &a.Message.PosterTime); err != nil {
			return nil, 0, err
		}
		a.Message.ID = a.MessageID
		atts = append(atts, a)
	}
	return atts, total, rows.Err()
}

type attachmentTarget struct {
	id, msg, topic, board int64
	filename, path        string
}

func (ds *DatabaseService) attachmentTargets(ctx context.Context, tx *sql.Tx, ids, boards []int64, onlyUnapproved bool) ([]attachmentTarget, error) {
	clause, bargs, ok := boardFilter("m.id_board", boards)
	if !ok || len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT a.id, a.id_msg, m.id_topic, m.id_board, a.filename, a.path
		FROM attachments a JOIN messages m ON m.id = a.id_msg
		WHERE a.id IN (` + placeholders(len(ids)) + `)` + clause
	if onlyUnapproved {
		query += " AND a.approved = 0"
	}
	rows, err := tx.QueryContext(ctx, query, append(int64Args(ids), bargs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer ds.closeRows(rows, "attachmentTargets")
	var targets []attachmentTarget
	for rows.Next() {
		var t attachmentTarget
		if err := rows.Scan(&t.id, &t.msg, &t.topic, &t.board, &t.filename, &t.path); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ApproveAttachments approves unapproved attachments inside the allowed boards.
func (ds *DatabaseService) ApproveAttachments(ctx context.Context, ids, boards []int64, actorID int64, ip string) (int, error) {
	approved := 0
	err := ds.withTx(ctx, "ApproveAttachments", func(tx *sql.Tx) error {
		targets, err := ds.attachmentTargets(ctx, tx, ids, boards, true)
		if err != nil {
			return err
		}
		for _, t := range targets {
			res, err := tx.ExecContext(ctx, "UPDATE attachments SET approved = 1 WHERE id = ? AND approved = 0", t.id)
			if err != nil {
				return fmt.Errorf("failed to approve attachment %d: %w", t.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: "approve_attach",
				BoardID: t.board, TopicID: t.topic, MessageID: t.msg,
				Extra: map[string]string{"filename": t.filename},
			}); err != nil {
				return err
			}
			approved++
		}
		return nil
	})
	return approved, err
}

// DeleteAttachments removes unapproved attachments inside the allowed boards.
// It returns the number of rows removed and the stored paths to clean up.
func (ds *DatabaseService) DeleteAttachments(ctx context.Context, ids, boards []int64, actorID int64, ip string) (int, []string, error) {
	var (
		deleted int
		paths   []string
	)
	err := ds.withTx(ctx, "DeleteAttachments", func(tx *sql.Tx) error {
		targets, err := ds.attachmentTargets(ctx, tx, ids, boards, true)
		if err != nil {
			return err
		}
		for _, t := range targets {
			res, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE id = ? AND approved = 0", t.id)
			if err != nil {
				return fmt.Errorf("failed to delete attachment %d: %w", t.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			deleted++
			if t.path != "" {
				paths = append(paths, t.path)
			}
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: "remove_attach",
				BoardID: t.board, TopicID: t.topic, MessageID: t.msg,
				Extra: map[string]string{"filename": t.filename},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return deleted, paths, nil
}
