// forumd/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Seed the built-in groups and their default permissions
INSERT OR IGNORE INTO membergroups (id, name, group_type) VALUES
	(-1, 'Guests', 1), (0, 'Regular Members', 1), (1, 'Administrator', 1),
	(2, 'Global Moderator', 0), (3, 'Moderator', 1);
INSERT OR IGNORE INTO permissions (id_group, permission) VALUES
	(-1, 'profile_view'),
	(0, 'profile_view'), (0, 'profile_identity_own'), (0, 'profile_extra_own'),
	(0, 'profile_remove_own'), (0, 'profile_warning_own'), (0, 'profile_export_own'),
	(0, 'report_any'), (0, 'report_user'),
	(2, 'profile_view'), (2, 'profile_identity_own'), (2, 'profile_extra_own'),
	(2, 'profile_remove_own'), (2, 'profile_warning_own'), (2, 'profile_export_own'),
	(2, 'report_any'), (2, 'report_user'),
	(2, 'moderate_forum'), (2, 'moderate_board'), (2, 'approve_posts'), (2, 'remove_any'),
	(2, 'issue_warning'), (2, 'view_mlog'), (2, 'profile_extra_any');
		`,
	},
	{
		Version: 2,
		Query: `
-- Track edits to reports so the moderation center can show "last updated by"
ALTER TABLE log_reported ADD COLUMN id_member_updated INTEGER DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_reported_updated ON log_reported(time_updated DESC);
		`,
	},
}
