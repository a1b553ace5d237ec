package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME
);
CREATE TABLE IF NOT EXISTS membergroups (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT DEFAULT '',
	online_color TEXT DEFAULT '',
	group_type INTEGER DEFAULT 0, -- 0 private, 1 protected, 2 requestable, 3 free
	hidden BOOLEAN DEFAULT 0
);
CREATE TABLE IF NOT EXISTS members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	member_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	display_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	passwd TEXT NOT NULL,
	id_group INTEGER DEFAULT 0,
	posts INTEGER DEFAULT 0,
	date_registered DATETIME,
	last_login DATETIME,
	last_ip TEXT DEFAULT '',
	warning INTEGER DEFAULT 0,
	signature TEXT DEFAULT '',
	personal_text TEXT DEFAULT '',
	website_title TEXT DEFAULT '',
	website_url TEXT DEFAULT '',
	avatar TEXT DEFAULT '',
	time_format TEXT DEFAULT '',
	time_offset REAL DEFAULT 0,
	id_theme INTEGER DEFAULT 0,
	tfa_secret TEXT DEFAULT '',
	tfa_backup TEXT DEFAULT '',
	notify_regularity INTEGER DEFAULT 1,
	notify_announcements BOOLEAN DEFAULT 1
);
-- Additional (secondary) group memberships
CREATE TABLE IF NOT EXISTS member_groups (
	id_member INTEGER NOT NULL,
	id_group INTEGER NOT NULL,
	PRIMARY KEY (id_member, id_group),
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS permissions (
	id_group INTEGER NOT NULL,
	permission TEXT NOT NULL,
	PRIMARY KEY (id_group, permission)
);
CREATE TABLE IF NOT EXISTS boards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS moderators (
	id_member INTEGER NOT NULL,
	id_board INTEGER NOT NULL,
	PRIMARY KEY (id_member, id_board),
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE,
	FOREIGN KEY (id_board) REFERENCES boards(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_board INTEGER NOT NULL,
	id_first_msg INTEGER DEFAULT 0,
	id_member_started INTEGER DEFAULT 0,
	subject TEXT DEFAULT '',
	approved BOOLEAN DEFAULT 1,
	num_replies INTEGER DEFAULT 0,
	unapproved_posts INTEGER DEFAULT 0,
	locked BOOLEAN DEFAULT 0,
	sticky BOOLEAN DEFAULT 0,
	FOREIGN KEY (id_board) REFERENCES boards(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_topic INTEGER NOT NULL,
	id_board INTEGER NOT NULL,
	id_member INTEGER DEFAULT 0,
	poster_name TEXT DEFAULT '',
	subject TEXT DEFAULT '',
	body TEXT DEFAULT '',
	poster_time DATETIME,
	poster_ip TEXT DEFAULT '',
	approved BOOLEAN DEFAULT 1,
	FOREIGN KEY (id_topic) REFERENCES topics(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_msg INTEGER NOT NULL,
	id_member INTEGER DEFAULT 0,
	filename TEXT NOT NULL,
	path TEXT DEFAULT '',
	size INTEGER DEFAULT 0,
	mime_type TEXT DEFAULT '',
	approved BOOLEAN DEFAULT 1,
	FOREIGN KEY (id_msg) REFERENCES messages(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS log_reported (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_msg INTEGER DEFAULT 0,
	id_topic INTEGER DEFAULT 0,
	id_board INTEGER DEFAULT 0,
	id_member INTEGER DEFAULT 0, -- author of the post, or the reported member
	membername TEXT DEFAULT '',
	subject TEXT DEFAULT '',
	body TEXT DEFAULT '',
	time_started DATETIME,
	time_updated DATETIME,
	num_reports INTEGER DEFAULT 0,
	closed BOOLEAN DEFAULT 0,
	ignore_all BOOLEAN DEFAULT 0
);
CREATE TABLE IF NOT EXISTS log_reported_comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_report INTEGER NOT NULL,
	id_member INTEGER DEFAULT 0,
	membername TEXT DEFAULT '',
	member_ip TEXT DEFAULT '',
	comment TEXT DEFAULT '',
	time_sent DATETIME,
	FOREIGN KEY (id_report) REFERENCES log_reported(id) ON DELETE CASCADE
);
-- Moderator notes, report comments, warnings and warning templates
CREATE TABLE IF NOT EXISTS log_comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_member INTEGER DEFAULT 0,
	member_name TEXT DEFAULT '',
	comment_type TEXT NOT NULL,
	id_recipient INTEGER DEFAULT 0,
	recipient_name TEXT DEFAULT '',
	log_time DATETIME,
	id_notice INTEGER DEFAULT 0,
	counter INTEGER DEFAULT 0,
	body TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS log_member_notices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject TEXT DEFAULT '',
	body TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS log_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_log INTEGER NOT NULL DEFAULT 1, -- 1 moderation, 2 admin, 3 profile
	log_time DATETIME NOT NULL,
	id_member INTEGER DEFAULT 0,
	ip TEXT DEFAULT '',
	action TEXT NOT NULL,
	id_board INTEGER DEFAULT 0,
	id_topic INTEGER DEFAULT 0,
	id_msg INTEGER DEFAULT 0,
	extra TEXT DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS log_group_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_member INTEGER NOT NULL,
	id_group INTEGER NOT NULL,
	time_applied DATETIME,
	reason TEXT DEFAULT '',
	status INTEGER DEFAULT 0, -- 0 pending, 1 approved, 2 rejected
	id_member_acted INTEGER DEFAULT 0,
	member_name_acted TEXT DEFAULT '',
	time_acted DATETIME,
	act_reason TEXT DEFAULT '',
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS buddies (
	id_member INTEGER NOT NULL,
	id_buddy INTEGER NOT NULL,
	added_at DATETIME,
	PRIMARY KEY (id_member, id_buddy),
	CHECK (id_member != id_buddy),
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE,
	FOREIGN KEY (id_buddy) REFERENCES members(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS ignores (
	id_member INTEGER NOT NULL,
	id_ignored INTEGER NOT NULL,
	added_at DATETIME,
	PRIMARY KEY (id_member, id_ignored),
	CHECK (id_member != id_ignored),
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE,
	FOREIGN KEY (id_ignored) REFERENCES members(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS alert_prefs (
	id_member INTEGER NOT NULL,
	alert_pref TEXT NOT NULL,
	alert_value INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id_member, alert_pref)
);
CREATE TABLE IF NOT EXISTS personal_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_member_from INTEGER DEFAULT 0,
	from_name TEXT DEFAULT '',
	id_member_to INTEGER NOT NULL,
	subject TEXT DEFAULT '',
	body TEXT DEFAULT '',
	msgtime DATETIME,
	is_read BOOLEAN DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	id_member INTEGER NOT NULL,
	created_at DATETIME,
	last_seen DATETIME,
	expires_at DATETIME,
	ip TEXT DEFAULT '',
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS member_logins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_member INTEGER NOT NULL,
	login_time DATETIME,
	ip TEXT DEFAULT '',
	ip2 TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS log_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	log_time DATETIME,
	id_member INTEGER DEFAULT 0,
	ip TEXT DEFAULT '',
	url TEXT DEFAULT '',
	message TEXT DEFAULT ''
);
CREATE TABLE IF NOT EXISTS exports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	id_member INTEGER NOT NULL,
	format TEXT NOT NULL,
	datatypes TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	path TEXT DEFAULT '',
	token_hash TEXT NOT NULL UNIQUE,
	size INTEGER DEFAULT 0,
	error TEXT DEFAULT '',
	created_at DATETIME,
	completed_at DATETIME,
	FOREIGN KEY (id_member) REFERENCES members(id) ON DELETE CASCADE
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_messages_approved ON messages(approved, id_board);
CREATE INDEX IF NOT EXISTS idx_messages_member ON messages(id_member);
CREATE INDEX IF NOT EXISTS idx_messages_ip ON messages(poster_ip);
CREATE INDEX IF NOT EXISTS idx_attachments_approved ON attachments(approved);
CREATE INDEX IF NOT EXISTS idx_reported_state ON log_reported(closed, ignore_all);
CREATE INDEX IF NOT EXISTS idx_reported_msg ON log_reported(id_msg);
CREATE INDEX IF NOT EXISTS idx_comments_type ON log_comments(comment_type, id_recipient);
CREATE INDEX IF NOT EXISTS idx_actions_log_time ON log_actions(id_log, log_time DESC);
CREATE INDEX IF NOT EXISTS idx_group_requests_status ON log_group_requests(status);
CREATE INDEX IF NOT EXISTS idx_sessions_member ON sessions(id_member);
CREATE INDEX IF NOT EXISTS idx_logins_member ON member_logins(id_member, login_time DESC);
CREATE INDEX IF NOT EXISTS idx_errors_member ON log_errors(id_member);
CREATE INDEX IF NOT EXISTS idx_exports_status ON exports(status);
`
