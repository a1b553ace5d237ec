package database

import (
	"context"
	"database/sql"
	"fmt"

	"forumd/models"
)

// GetAlertPrefs returns the member's alert preferences with defaults filled in.
func (ds *DatabaseService) GetAlertPrefs(ctx context.Context, memberID int64) (map[string]int, error) {
	prefs := make(map[string]int, len(models.DefaultAlertPrefs))
	for k, v := range models.DefaultAlertPrefs {
		prefs[k] = v
	}
	rows, err := ds.DB.QueryContext(ctx, "SELECT alert_pref, alert_value FROM alert_prefs WHERE id_member = ?", memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert preferences: %w", err)
	}
	defer ds.closeRows(rows, "GetAlertPrefs")
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if _, known := models.DefaultAlertPrefs[name]; known {
			prefs[name] = value
		}
	}
	return prefs, rows.Err()
}

// NotificationSettings is a full save of the notification form.
type NotificationSettings struct {
	Prefs         map[string]int
	Regularity    int
	Announcements bool
}

// SaveNotificationSettings validates and stores alert preferences and delivery options.
func (ds *DatabaseService) SaveNotificationSettings(ctx context.Context, memberID int64, ns NotificationSettings) error {
	for name, value := range ns.Prefs {
		if _, known := models.DefaultAlertPrefs[name]; !known {
			return fmt.Errorf("%w: unknown alert type %q", ErrInvalidInput, name)
		}
		if value < 0 || value > models.NotifyAlert|models.NotifyEmail {
			return fmt.Errorf("%w: invalid value %d for %q", ErrInvalidInput, value, name)
		}
	}
	if ns.Regularity < models.RegularityInstant || ns.Regularity > models.RegularityWeekly {
		return fmt.Errorf("%w: invalid notification regularity %d", ErrInvalidInput, ns.Regularity)
	}

	return ds.withTx(ctx, "SaveNotificationSettings", func(tx *sql.Tx) error {
		for name, value := range ns.Prefs {
			_, err := tx.ExecContext(ctx, `INSERT INTO alert_prefs (id_member, alert_pref, alert_value) VALUES (?, ?, ?)
				ON CONFLICT(id_member, alert_pref) DO UPDATE SET alert_value = excluded.alert_value`, memberID, name, value)
			if err != nil {
				return fmt.Errorf("failed to save alert preference %q: %w", name, err)
			}
		}
		res, err := tx.ExecContext(ctx, "UPDATE members SET notify_regularity = ?, notify_announcements = ? WHERE id = ?",
			ns.Regularity, ns.Announcements, memberID)
		if err != nil {
			return fmt.Errorf("failed to save notification options: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
