package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forumd/auth"
	"forumd/models"
	"forumd/utils"

	"github.com/mattn/go-sqlite3"
)

const memberColumns = `id, member_name, display_name, email, passwd, id_group, posts, date_registered, last_login, last_ip,
	warning, signature, personal_text, website_title, website_url, avatar, time_format, time_offset, id_theme,
	tfa_secret, tfa_backup, notify_regularity, notify_announcements`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row rowScanner) (*models.Member, error) {
	var m models.Member
	var registered sql.NullTime
	if err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.Email, &m.PasswordHash, &m.GroupID, &m.Posts, &registered,
		&m.LastLogin, &m.LastIP, &m.Warning, &m.Signature, &m.PersonalText, &m.WebsiteTitle, &m.WebsiteURL, &m.Avatar,
		&m.TimeFormat, &m.TimeOffset, &m.ThemeID, &m.TFASecret, &m.TFABackup, &m.NotifyRegularity, &m.NotifyAnnouncements); err != nil {
		return nil, err
	}
	m.Registered = registered.Time
	return &m, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// GetMember loads a member and their additional groups.
func (ds *DatabaseService) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	m, err := scanMember(ds.DB.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load member %d: %w", id, err)
	}
	m.AdditionalGroups, err = ds.additionalGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemberByLogin looks a member up by login name or email.
func (ds *DatabaseService) GetMemberByLogin(ctx context.Context, login string) (*models.Member, error) {
	m, err := scanMember(ds.DB.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE member_name = ? OR email = ?", login, login))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load member %q: %w", login, err)
	}
	return m, nil
}

// FindMembersByName resolves display or login names to member ids. Unknown names are returned separately.
func (ds *DatabaseService) FindMembersByName(ctx context.Context, names []string) ([]models.MemberRef, []string, error) {
	var found []models.MemberRef
	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var ref models.MemberRef
		err := ds.DB.QueryRowContext(ctx, "SELECT id, display_name FROM members WHERE member_name = ? OR display_name = ? COLLATE NOCASE LIMIT 1", name, name).
			Scan(&ref.ID, &ref.Name)
		if err == sql.ErrNoRows {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up member %q: %w", name, err)
		}
		found = append(found, ref)
	}
	return found, missing, nil
}

func (ds *DatabaseService) additionalGroups(ctx context.Context, memberID int64) ([]int64, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT id_group FROM member_groups WHERE id_member = ? ORDER BY id_group", memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query additional groups: %w", err)
	}
	defer ds.closeRows(rows, "additionalGroups")
	var groups []int64
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateMember inserts a new member. The password must already be hashed.
func (ds *DatabaseService) CreateMember(ctx context.Context, name, displayName, email, passwordHash string, groupID int64) (int64, error) {
	if displayName == "" {
		displayName = name
	}
	res, err := ds.DB.ExecContext(ctx, `INSERT INTO members (member_name, display_name, email, passwd, id_group, date_registered)
		VALUES (?, ?, ?, ?, ?, ?)`, name, displayName, email, passwordHash, groupID, utils.GetSQLTime())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to create member: %w", err)
	}
	return res.LastInsertId()
}

// ProfileChange is a single column update on a member row.
type ProfileChange struct {
	Column string
	Old    string
	New    string
	Value  interface{}
	// Secret changes are applied but their values are not logged.
	Secret bool
}

var editableMemberColumns = map[string]bool{
	"display_name":  true,
	"email":         true,
	"passwd":        true,
	"id_group":      true,
	"signature":     true,
	"personal_text": true,
	"website_title": true,
	"website_url":   true,
	"avatar":        true,
	"time_format":   true,
	"time_offset":   true,
	"id_theme":      true,
}

// UpdateProfile applies column changes to a member and records each in the profile log.
func (ds *DatabaseService) UpdateProfile(ctx context.Context, memberID int64, changes []ProfileChange, actorID int64, ip string) error {
	if len(changes) == 0 {
		return nil
	}
	sets := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes)+1)
	for _, c := range changes {
		if !editableMemberColumns[c.Column] {
			return fmt.Errorf("%w: column %q is not editable", ErrInvalidInput, c.Column)
		}
		sets = append(sets, c.Column+" = ?")
		args = append(args, c.Value)
	}
	args = append(args, memberID)

	return ds.withTx(ctx, "UpdateProfile", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE members SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to update member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		for _, c := range changes {
			extra := map[string]string{"member": strconv.FormatInt(memberID, 10)}
			if !c.Secret {
				extra["previous"] = c.Old
				extra["new"] = c.New
			}
			if err := LogAction(ctx, tx, LogEntry{LogType: models.LogProfile, MemberID: actorID, IP: ip, Action: c.Column, Extra: extra}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetAdditionalGroups replaces a member's secondary groups.
func (ds *DatabaseService) SetAdditionalGroups(ctx context.Context, memberID int64, groups []int64) error {
	return ds.withTx(ctx, "SetAdditionalGroups", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM member_groups WHERE id_member = ?", memberID); err != nil {
			return fmt.Errorf("failed to clear additional groups: %w", err)
		}
		for _, g := range groups {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO member_groups (id_member, id_group) VALUES (?, ?)", memberID, g); err != nil {
				return fmt.Errorf("failed to add group %d: %w", g, err)
			}
		}
		return nil
	})
}

// DeleteMember removes a member. Their posts are either deleted, taking
// topics they started along, or kept as guest posts. The returned paths are
// stored attachment files the caller should remove.
func (ds *DatabaseService) DeleteMember(ctx context.Context, memberID int64, removePosts bool, actorID int64, ip string) (*models.Member, []string, error) {
	m, err := ds.GetMember(ctx, memberID)
	if err != nil {
		return nil, nil, err
	}
	var files []string
	err = ds.withTx(ctx, "DeleteMember", func(tx *sql.Tx) error {
		if removePosts {
			targets, err := ds.messageTargets(ctx, tx, "m.id_member = ?", memberID)
			if err != nil {
				return err
			}
			if _, files, err = ds.removeMessages(ctx, tx, targets, actorID, ip, false); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, "UPDATE messages SET id_member = 0, poster_name = ? WHERE id_member = ?", m.DisplayName, memberID); err != nil {
				return fmt.Errorf("failed to detach messages: %w", err)
			}
		}
		for _, q := range []string{
			"DELETE FROM buddies WHERE id_member = ? OR id_buddy = ?",
			"DELETE FROM ignores WHERE id_member = ? OR id_ignored = ?",
			"DELETE FROM member_groups WHERE id_member = ?",
			"DELETE FROM moderators WHERE id_member = ?",
			"DELETE FROM sessions WHERE id_member = ?",
			"DELETE FROM exports WHERE id_member = ?",
			"DELETE FROM alert_prefs WHERE id_member = ?",
			"DELETE FROM personal_messages WHERE id_member_to = ?",
			"DELETE FROM member_logins WHERE id_member = ?",
			"DELETE FROM members WHERE id = ?",
		} {
			args := []interface{}{memberID}
			if strings.Count(q, "?") == 2 {
				args = append(args, memberID)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("failed to delete member data: %w", err)
			}
		}
		return LogAction(ctx, tx, LogEntry{
			LogType:  models.LogAdmin,
			MemberID: actorID,
			IP:       ip,
			Action:   "delete_member",
			Extra:    map[string]string{"member": strconv.FormatInt(memberID, 10), "member_name": m.DisplayName},
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return m, files, nil
}

// UpdateTFA stores or clears the member's two-factor secret and hashed backup code.
func (ds *DatabaseService) UpdateTFA(ctx context.Context, memberID int64, secret, backupHash string) error {
	_, err := ds.DB.ExecContext(ctx, "UPDATE members SET tfa_secret = ?, tfa_backup = ? WHERE id = ?", secret, backupHash, memberID)
	if err != nil {
		return fmt.Errorf("failed to update two-factor settings: %w", err)
	}
	return nil
}

// --- Groups & permissions ---

// GetGroups lists all membergroups except guests.
func (ds *DatabaseService) GetGroups(ctx context.Context) ([]models.MemberGroup, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, name, description, online_color, group_type, hidden FROM membergroups WHERE id >= 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer ds.closeRows(rows, "GetGroups")
	var groups []models.MemberGroup
	for rows.Next() {
		var g models.MemberGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.OnlineColor, &g.Type, &g.Hidden); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetGroup loads a single membergroup.
func (ds *DatabaseService) GetGroup(ctx context.Context, id int64) (*models.MemberGroup, error) {
	var g models.MemberGroup
	err := ds.DB.QueryRowContext(ctx, "SELECT id, name, description, online_color, group_type, hidden FROM membergroups WHERE id = ?", id).
		Scan(&g.ID, &g.Name, &g.Description, &g.OnlineColor, &g.Type, &g.Hidden)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group %d: %w", id, err)
	}
	return &g, nil
}

// GroupPermissions returns the permission names granted to a group.
func (ds *DatabaseService) GroupPermissions(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT permission FROM permissions WHERE id_group = ? ORDER BY permission", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer ds.closeRows(rows, "GroupPermissions")
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// LoadPermissions builds the effective permission set from the member's
// primary and additional groups plus the boards they moderate.
func (ds *DatabaseService) LoadPermissions(ctx context.Context, m *models.Member) (*auth.Permissions, error) {
	if m == nil {
		perms, err := ds.GroupPermissions(ctx, models.GroupGuest)
		if err != nil {
			return nil, err
		}
		return auth.Guest(perms), nil
	}

	groups := append([]int64{m.GroupID}, m.AdditionalGroups...)
	p := &auth.Permissions{MemberID: m.ID, Global: make(map[string]bool)}
	for _, g := range groups {
		if g == models.GroupAdmin {
			p.IsAdmin = true
		}
	}

	rows, err := ds.DB.QueryContext(ctx, "SELECT DISTINCT permission FROM permissions WHERE id_group IN ("+placeholders(len(groups))+")", int64Args(groups)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query member permissions: %w", err)
	}
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			ds.closeRows(rows, "LoadPermissions")
			return nil, err
		}
		p.Global[perm] = true
	}
	ds.closeRows(rows, "LoadPermissions")

	boards, err := ds.DB.QueryContext(ctx, "SELECT id_board FROM moderators WHERE id_member = ?", m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderated boards: %w", err)
	}
	defer ds.closeRows(boards, "LoadPermissions")
	for boards.Next() {
		var id int64
		if err := boards.Scan(&id); err != nil {
			return nil, err
		}
		p.Moderated = append(p.Moderated, id)
	}
	return p, boards.Err()
}

// AddModerator makes a member a moderator of a board.
func (ds *DatabaseService) AddModerator(ctx context.Context, memberID, boardID int64) error {
	_, err := ds.DB.ExecContext(ctx, "INSERT OR IGNORE INTO moderators (id_member, id_board) VALUES (?, ?)", memberID, boardID)
	return err
}

// --- Sessions & logins ---

// CreateSession stores a new session and returns the raw token for the cookie.
func (ds *DatabaseService) CreateSession(ctx context.Context, memberID int64, ip string, lifetime time.Duration) (string, error) {
	token := utils.NewToken()
	now := utils.GetSQLTime()
	_, err := ds.DB.ExecContext(ctx, "INSERT INTO sessions (token_hash, id_member, created_at, last_seen, expires_at, ip) VALUES (?, ?, ?, ?, ?, ?)",
		utils.HashToken(token), memberID, now, now, now.Add(lifetime), ip)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

// GetSessionMember resolves a session token to its member and marks the session as seen.
func (ds *DatabaseService) GetSessionMember(ctx context.Context, token string) (*models.Member, error) {
	hash := utils.HashToken(token)
	now := utils.GetSQLTime()
	var memberID int64
	err := ds.DB.QueryRowContext(ctx, "SELECT id_member FROM sessions WHERE token_hash = ? AND expires_at > ?", hash, now).Scan(&memberID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if _, err := ds.DB.ExecContext(ctx, "UPDATE sessions SET last_seen = ? WHERE token_hash = ?", now, hash); err != nil {
		ds.logger.Warn("Failed to touch session", "error", err)
	}
	return ds.GetMember(ctx, memberID)
}

// DeleteSession removes a session by raw token.
func (ds *DatabaseService) DeleteSession(ctx context.Context, token string) error {
	_, err := ds.DB.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", utils.HashToken(token))
	return err
}

// DeleteMemberSessions removes every session of a member.
func (ds *DatabaseService) DeleteMemberSessions(ctx context.Context, memberID int64) error {
	_, err := ds.DB.ExecContext(ctx, "DELETE FROM sessions WHERE id_member = ?", memberID)
	return err
}

// PruneSessions deletes expired sessions.
func (ds *DatabaseService) PruneSessions(ctx context.Context) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", utils.GetSQLTime())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordLogin appends to the login history and updates the member's last login.
func (ds *DatabaseService) RecordLogin(ctx context.Context, memberID int64, ip, ip2 string) error {
	return ds.withTx(ctx, "RecordLogin", func(tx *sql.Tx) error {
		now := utils.GetSQLTime()
		if _, err := tx.ExecContext(ctx, "INSERT INTO member_logins (id_member, login_time, ip, ip2) VALUES (?, ?, ?, ?)", memberID, now, ip, ip2); err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE members SET last_login = ?, last_ip = ? WHERE id = ?", now, ip, memberID); err != nil {
			return fmt.Errorf("failed to update last login: %w", err)
		}
		return nil
	})
}

// LogError records an error shown to a member, surfaced in activity tracking.
func (ds *DatabaseService) LogError(ctx context.Context, memberID int64, ip, url, message string) {
	_, err := ds.DB.ExecContext(ctx, "INSERT INTO log_errors (log_time, id_member, ip, url, message) VALUES (?, ?, ?, ?, ?)",
		utils.GetSQLTime(), memberID, ip, url, message)
	if err != nil {
		ds.logger.Warn("Failed to write error log", "error", err)
	}
}
