package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"forumd/models"
)

// MemberIPs lists the addresses a member has posted or logged in from, most recent first.
func (ds *DatabaseService) MemberIPs(ctx context.Context, memberID int64) ([]models.IPUsage, error) {
	usage := make(map[string]*models.IPUsage)
	collect := func(query string) error {
		rows, err := ds.DB.QueryContext(ctx, query, memberID)
		if err != nil {
			return fmt.Errorf("failed to query member ips: %w", err)
		}
		defer ds.closeRows(rows, "MemberIPs")
		for rows.Next() {
			var ip string
			var count int
			var last sql.NullString
			if err := rows.Scan(&ip, &count, &last); err != nil {
				return err
			}
			if ip == "" {
				continue
			}
			u, ok := usage[ip]
			if !ok {
				u = &models.IPUsage{IP: ip}
				usage[ip] = u
			}
			u.Count += count
			if t := parseTime(last); t.Valid && (!u.Last.Valid || t.Time.After(u.Last.Time)) {
				u.Last = t
			}
		}
		return rows.Err()
	}

	if err := collect("SELECT poster_ip, COUNT(*), MAX(poster_time) FROM messages WHERE id_member = ? GROUP BY poster_ip"); err != nil {
		return nil, err
	}
	if err := collect("SELECT ip, COUNT(*), MAX(login_time) FROM member_logins WHERE id_member = ? GROUP BY ip"); err != nil {
		return nil, err
	}
	if err := collect("SELECT last_ip, 0, NULL FROM members WHERE id = ?"); err != nil {
		return nil, err
	}

	list := make([]models.IPUsage, 0, len(usage))
	for _, u := range usage {
		list = append(list, *u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Last.Time.Equal(list[j].Last.Time) {
			return list[i].IP < list[j].IP
		}
		return list[i].Last.Time.After(list[j].Last.Time)
	})
	return list, nil
}

// MembersSharingIPs returns other members seen on any of the given addresses.
func (ds *DatabaseService) MembersSharingIPs(ctx context.Context, memberID int64, ips []string) ([]models.MemberRef, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	ph := placeholders(len(ips))
	args := make([]interface{}, 0, len(ips)*3+1)
	for i := 0; i < 3; i++ {
		for _, ip := range ips {
			args = append(args, ip)
		}
	}
	args = append(args, memberID)
	rows, err := ds.DB.QueryContext(ctx, `SELECT id, display_name FROM members
		WHERE (last_ip IN (`+ph+`)
			OR id IN (SELECT id_member FROM messages WHERE poster_ip IN (`+ph+`))
			OR id IN (SELECT id_member FROM member_logins WHERE ip IN (`+ph+`)))
		AND id != ? ORDER BY display_name COLLATE NOCASE`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members sharing ips: %w", err)
	}
	defer ds.closeRows(rows, "MembersSharingIPs")
	return scanMemberRefs(rows)
}

func scanMemberRefs(rows *sql.Rows) ([]models.MemberRef, error) {
	var refs []models.MemberRef
	for rows.Next() {
		var r models.MemberRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// MemberErrors returns a page of errors a member has run into.
func (ds *DatabaseService) MemberErrors(ctx context.Context, memberID int64, page, perPage int) ([]models.ErrorLogEntry, int, error) {
	return ds.errorLog(ctx, "id_member = ?", memberID, page, perPage)
}

// IPErrors returns a page of errors logged from addresses matching a LIKE pattern.
func (ds *DatabaseService) IPErrors(ctx context.Context, pattern string, page, perPage int) ([]models.ErrorLogEntry, int, error) {
	return ds.errorLog(ctx, "ip LIKE ?", pattern, page, perPage)
}

func (ds *DatabaseService) errorLog(ctx context.Context, where string, arg interface{}, page, perPage int) ([]models.ErrorLogEntry, int, error) {
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_errors WHERE "+where, arg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count errors: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, log_time, ip, url, message FROM log_errors WHERE "+where+" ORDER BY id DESC LIMIT ? OFFSET ?", arg, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query errors: %w", err)
	}
	defer ds.closeRows(rows, "errorLog")
	var entries []models.ErrorLogEntry
	for rows.Next() {
		var e models.ErrorLogEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.IP, &e.URL, &e.Message); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// IPMembers returns members whose last or login address matches a LIKE pattern.
func (ds *DatabaseService) IPMembers(ctx context.Context, pattern string) ([]models.MemberRef, error) {
	rows, err := ds.DB.QueryContext(ctx, `SELECT id, display_name FROM members
		WHERE last_ip LIKE ? OR id IN (SELECT id_member FROM member_logins WHERE ip LIKE ?)
		ORDER BY display_name COLLATE NOCASE`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query members by ip: %w", err)
	}
	defer ds.closeRows(rows, "IPMembers")
	return scanMemberRefs(rows)
}

// IPMessages returns a page of messages posted from addresses matching a LIKE pattern.
func (ds *DatabaseService) IPMessages(ctx context.Context, pattern string, boards []int64, page, perPage int) ([]models.Message, int, error) {
	clause, bargs, ok := boardFilter("m.id_board", boards)
	if !ok {
		return nil, 0, nil
	}
	where := " WHERE m.poster_ip LIKE ?" + clause
	args := append([]interface{}{pattern}, bargs...)
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages m"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages by ip: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, messageSelect+where+" ORDER BY m.id DESC LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages by ip: %w", err)
	}
	defer ds.closeRows(rows, "IPMessages")
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

// ListLogins returns a page of a member's login history, newest first.
func (ds *DatabaseService) ListLogins(ctx context.Context, memberID int64, page, perPage int) ([]models.LoginEntry, int, error) {
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM member_logins WHERE id_member = ?", memberID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count logins: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}
	limit, offset := pageBounds(page, perPage)
	rows, err := ds.DB.QueryContext(ctx, "SELECT login_time, ip, ip2 FROM member_logins WHERE id_member = ? ORDER BY id DESC LIMIT ? OFFSET ?", memberID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query logins: %w", err)
	}
	defer ds.closeRows(rows, "ListLogins")
	var logins []models.LoginEntry
	for rows.Next() {
		var l models.LoginEntry
		if err := rows.Scan(&l.Time, &l.IP, &l.IP2); err != nil {
			return nil, 0, err
		}
		logins = append(logins, l)
	}
	return logins, total, rows.Err()
}

// MemberMessages returns a member's messages, newest first. limit 0 returns all of them.
func (ds *DatabaseService) MemberMessages(ctx context.Context, memberID int64, limit int) ([]models.Message, error) {
	query := messageSelect + " WHERE m.id_member = ? ORDER BY m.id DESC"
	args := []interface{}{memberID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query member messages: %w", err)
	}
	defer ds.closeRows(rows, "MemberMessages")
	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
