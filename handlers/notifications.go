// forumd/handlers/notifications.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"forumd/database"
	"forumd/models"
)

// alertRow is one line of the notification form.
type alertRow struct {
	Name  string
	Alert bool
	Email bool
}

// HandleNotifications shows and saves alert preferences and delivery options.
func HandleNotifications(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleNotifications")
	pc, ok := loadProfile(w, r, app, "notification", "")
	if !ok {
		return
	}
	back := pc.path("notifications")

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			redirectBack(w, r, back, "Form parsing error.")
			return
		}
		ns := database.NotificationSettings{
			Prefs:         make(map[string]int, len(models.AlertTypes)),
			Announcements: r.FormValue("notify_announcements") != "",
		}
		for _, name := range models.AlertTypes {
			v := 0
			if r.FormValue(name+"_alert") != "" {
				v |= models.NotifyAlert
			}
			if r.FormValue(name+"_email") != "" {
				v |= models.NotifyEmail
			}
			ns.Prefs[name] = v
		}
		// Raw pref_<type>=<bits> fields, used by API clients, override the checkboxes.
		for key, values := range r.PostForm {
			if name, ok := strings.CutPrefix(key, "pref_"); ok && len(values) > 0 {
				v, err := strconv.Atoi(values[0])
				if err != nil {
					redirectBack(w, r, back, "Invalid notification value.")
					return
				}
				ns.Prefs[name] = v
			}
		}
		reg, err := strconv.Atoi(r.FormValue("notify_regularity"))
		if err != nil {
			reg = models.RegularityInstant
		}
		ns.Regularity = reg

		err = app.DB().SaveNotificationSettings(r.Context(), pc.Member.ID, ns)
		if errors.Is(err, database.ErrInvalidInput) {
			logger.Warn("Rejected notification settings", "member_id", pc.Member.ID, "error", err)
			redirectBack(w, r, back, "Invalid notification settings: "+err.Error())
			return
		}
		if err != nil {
			fail(w, r, app, logger, err, "Failed to save notification settings")
			return
		}
		redirectBack(w, r, back, "Your notification settings have been saved.")
		return
	}

	prefs, err := app.DB().GetAlertPrefs(r.Context(), pc.Member.ID)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load notification settings")
		return
	}
	rows := make([]alertRow, 0, len(models.AlertTypes))
	for _, name := range models.AlertTypes {
		v := prefs[name]
		rows = append(rows, alertRow{Name: name, Alert: v&models.NotifyAlert != 0, Email: v&models.NotifyEmail != 0})
	}
	data := pc.data("Notifications")
	data["Alerts"] = rows
	data["Regularity"] = pc.Member.NotifyRegularity
	data["Announcements"] = pc.Member.NotifyAnnouncements
	render(w, r, app, "layout.html", "profile_notifications.html", data)
}
