// forumd/handlers/logs.go
package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"
)

var logSorts = []string{"time", "action", "member", "ip"}

// HandleModLog shows the moderation log, limited to the boards the member may see logs of.
func HandleModLog(w http.ResponseWriter, r *http.Request, app App) {
	showLog(w, r, app, models.LogModeration)
}

// HandleAdminLog shows the administration log.
func HandleAdminLog(w http.ResponseWriter, r *http.Request, app App) {
	showLog(w, r, app, models.LogAdmin)
}

func logArea(logType int) (area, path, title string) {
	if logType == models.LogAdmin {
		return "adminlog", "/mod/adminlog", "Administration Log"
	}
	return "modlog", "/mod/modlog", "Moderation Log"
}

func showLog(w http.ResponseWriter, r *http.Request, app App, logType int) {
	area, path, title := logArea(logType)
	logger := app.Logger().With("handler", "showLog", "log", area)
	m, ok := modMenu(w, r, app, area, "")
	if !ok {
		return
	}
	filter := database.LogFilter{LogType: logType}
	if logType == models.LogModeration {
		boards, ok := requireBoards(w, r, app, auth.ViewModLog)
		if !ok {
			return
		}
		filter.Boards = boards
	}

	q := r.URL.Query()
	opts := parseListOptions(r, config.ModLogPerPage, logSorts...)
	filter.Sort, filter.Desc = opts.Sort, opts.Desc
	filter.Page, filter.PerPage = opts.Page, opts.PerPage
	filter.Action = strings.TrimSpace(q.Get("action"))
	filter.MemberName = strings.TrimSpace(q.Get("member"))

	entries, total, err := app.DB().ListLogActions(r.Context(), filter)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load log")
		return
	}
	data := modData(m, title)
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Entries"] = entries
	data["LogPath"] = path
	data["FilterAction"] = filter.Action
	data["FilterMember"] = filter.MemberName
	data["CanDelete"] = currentPerms(r).AllowedTo(auth.AdminForum)
	data["CanBackup"] = logType == models.LogAdmin && currentPerms(r).AllowedTo(auth.AdminForum)
	render(w, r, app, "layout.html", "mod_log.html", data)
}

// HandleDeleteModLog removes moderation log entries older than a day.
func HandleDeleteModLog(w http.ResponseWriter, r *http.Request, app App) {
	deleteLog(w, r, app, models.LogModeration)
}

// HandleDeleteAdminLog removes administration log entries older than a day.
func HandleDeleteAdminLog(w http.ResponseWriter, r *http.Request, app App) {
	deleteLog(w, r, app, models.LogAdmin)
}

func deleteLog(w http.ResponseWriter, r *http.Request, app App, logType int) {
	area, path, _ := logArea(logType)
	logger := app.Logger().With("handler", "deleteLog", "log", area)
	if _, ok := modMenu(w, r, app, area, ""); !ok {
		return
	}
	if !requirePerm(w, r, app, auth.AdminForum) {
		return
	}
	all := r.FormValue("removeall") != ""
	ids := formIDs(r, "delete")
	actorID, _ := actor(r)
	n, err := app.DB().DeleteLogActions(r.Context(), logType, ids, all, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete log entries")
		return
	}
	logger.Info("Log entries deleted", "count", n, "all", all, "member_id", actorID)
	redirectBack(w, r, path, fmt.Sprintf("%d entries deleted. Entries from the last 24 hours are kept.", n))
}

// HandleDatabaseBackup writes a copy of the database to the backup directory
// and records it in the administration log.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	if _, ok := modMenu(w, r, app, "adminlog", ""); !ok {
		return
	}
	if !requirePerm(w, r, app, auth.AdminForum) {
		return
	}
	backupPath, err := app.DB().BackupDatabase(r.Context(), app.Settings().BackupDir)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to create database backup")
		return
	}
	actorID, _ := actor(r)
	if err := database.LogAction(r.Context(), app.DB().DB, database.LogEntry{
		LogType:  models.LogAdmin,
		MemberID: actorID,
		IP:       utils.GetIPAddress(r),
		Action:   "database_backup",
		Extra:    map[string]string{"path": filepath.Base(backupPath)},
	}); err != nil {
		logger.Error("Failed to log database backup", "error", err)
	}
	logger.Info("Database backup created successfully", "path", backupPath)
	redirectBack(w, r, "/mod/adminlog", "Database backup created.")
}
