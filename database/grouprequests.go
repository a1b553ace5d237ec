package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"forumd/models"
	"forumd/utils"
)

// RequestGroup asks to join a membergroup. Free groups are joined immediately;
// requestable groups get a pending request. Returns the request id (0 when joined).
func (ds *DatabaseService) RequestGroup(ctx context.Context, memberID, groupID int64, reason string) (int64, bool, error) {
	var requestID int64
	var joined bool
	err := ds.withTx(ctx, "RequestGroup", func(tx *sql.Tx) error {
		var groupType int
		err := tx.QueryRowContext(ctx, "SELECT group_type FROM membergroups WHERE id = ?", groupID).Scan(&groupType)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load group: %w", err)
		}
		if groupType != models.GroupTypeRequestable && groupType != models.GroupTypeFree {
			return fmt.Errorf("%w: group %d cannot be requested", ErrInvalidInput, groupID)
		}

		var member int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM members m LEFT JOIN member_groups mg ON mg.id_member = m.id AND mg.id_group = ?
			WHERE m.id = ? AND (m.id_group = ? OR mg.id_group IS NOT NULL)`, groupID, memberID, groupID).Scan(&member)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if member > 0 {
			return ErrAlreadyExists
		}

		if groupType == models.GroupTypeFree {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO member_groups (id_member, id_group) VALUES (?, ?)", memberID, groupID); err != nil {
				return fmt.Errorf("failed to join group: %w", err)
			}
			joined = true
			return nil
		}

		var pending int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_group_requests WHERE id_member = ? AND id_group = ? AND status = ?",
			memberID, groupID, models.RequestPending).Scan(&pending); err != nil {
			return fmt.Errorf("failed to check pending requests: %w", err)
		}
		if pending > 0 {
			return ErrAlreadyExists
		}
		res, err := tx.ExecContext(ctx, "INSERT INTO log_group_requests (id_member, id_group, time_applied, reason) VALUES (?, ?, ?, ?)",
			memberID, groupID, utils.GetSQLTime(), reason)
		if err != nil {
			return fmt.Errorf("failed to create group request: %w", err)
		}
		requestID, err = res.LastInsertId()
		return err
	})
	return requestID, joined, err
}

// CountGroupRequests counts requests with the given status.
func (ds *DatabaseService) CountGroupRequests(ctx context.Context, status int) (int, error) {
	var count int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_group_requests WHERE status = ?", status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count group requests: %w", err)
	}
	return count, nil
}

// ListGroupRequests returns a page of requests with the given status, oldest first.
func (ds *DatabaseService) ListGroupRequests(ctx context.Context, status, page, perPage int) ([]models.GroupRequest, int, error) {
	total, err := ds.CountGroupRequests(ctx, status)
	if err != nil || total == 0 {
		return nil, total, err
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, `SELECT r.id, r.id_member, COALESCE(m.display_name, ''), r.id_group, COALESCE(g.name, ''),
			r.time_applied, r.reason, r.status, r.member_name_acted, r.time_acted, r.act_reason
		FROM log_group_requests r
		LEFT JOIN members m ON m.id = r.id_member
		LEFT JOIN membergroups g ON g.id = r.id_group
		WHERE r.status = ? ORDER BY r.time_applied, r.id LIMIT ? OFFSET ?`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query group requests: %w", err)
	}
	defer ds.closeRows(rows, "ListGroupRequests")
	var reqs []models.GroupRequest
	for rows.Next() {
		var r models.GroupRequest
		if err := rows.Scan(&r.ID, &r.MemberID, &r.MemberName, &r.GroupID, &r.GroupName, &r.TimeApplied, &r.Reason,
			&r.Status, &r.ActorName, &r.TimeActed, &r.ActReason); err != nil {
			return nil, 0, err
		}
		reqs = append(reqs, r)
	}
	return reqs, total, rows.Err()
}

// ActOnGroupRequests approves or rejects pending requests, notifying each requester.
// Requests that are no longer pending are skipped.
func (ds *DatabaseService) ActOnGroupRequests(ctx context.Context, ids []int64, approve bool, reason string, actorID int64, actorName, ip string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	status, action, verb := models.RequestRejected, "reject_group_request", "rejected"
	if approve {
		status, action, verb = models.RequestApproved, "approve_group_request", "approved"
	}

	acted := 0
	err := ds.withTx(ctx, "ActOnGroupRequests", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT r.id, r.id_member, r.id_group, COALESCE(g.name, '')
			FROM log_group_requests r LEFT JOIN membergroups g ON g.id = r.id_group
			WHERE r.status = ? AND r.id IN (`+placeholders(len(ids))+`)`, append([]interface{}{models.RequestPending}, int64Args(ids)...)...)
		if err != nil {
			return fmt.Errorf("failed to query group requests: %w", err)
		}
		type target struct {
			id, member, group int64
			groupName         string
		}
		var targets []target
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.id, &t.member, &t.group, &t.groupName); err != nil {
				ds.closeRows(rows, "ActOnGroupRequests")
				return err
			}
			targets = append(targets, t)
		}
		ds.closeRows(rows, "ActOnGroupRequests")

		now := utils.GetSQLTime()
		for _, t := range targets {
			res, err := tx.ExecContext(ctx, `UPDATE log_group_requests SET status = ?, id_member_acted = ?, member_name_acted = ?, time_acted = ?, act_reason = ?
				WHERE id = ? AND status = ?`, status, actorID, actorName, now, reason, t.id, models.RequestPending)
			if err != nil {
				return fmt.Errorf("failed to update group request %d: %w", t.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if approve {
				if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO member_groups (id_member, id_group) VALUES (?, ?)", t.member, t.group); err != nil {
					return fmt.Errorf("failed to add group membership: %w", err)
				}
			}
			body := fmt.Sprintf("Your request to join %q was %s.", t.groupName, verb)
			if reason != "" {
				body += "\n\nReason: " + reason
			}
			if err := sendPersonalMessage(ctx, tx, actorID, actorName, t.member, "Group membership request "+verb, body); err != nil {
				return err
			}
			if err := LogAction(ctx, tx, LogEntry{
				MemberID: actorID, IP: ip, Action: action,
				Extra: map[string]string{"member": strconv.FormatInt(t.member, 10), "group": t.groupName},
			}); err != nil {
				return err
			}
			acted++
		}
		return nil
	})
	return acted, err
}
