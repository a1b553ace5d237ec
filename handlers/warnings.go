// forumd/handlers/warnings.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"
)

// expandNotice fills the placeholders a warning template may use.
func expandNotice(s string, member *models.Member) string {
	return strings.NewReplacer(
		"{MEMBER}", displayName(member),
		"{FORUMNAME}", config.ForumName,
	).Replace(s)
}

// HandleIssueWarning shows and processes the issue warning form for a member.
func HandleIssueWarning(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleIssueWarning")
	pc, ok := loadProfile(w, r, app, "issuewarning", "")
	if !ok {
		return
	}
	viewer := currentMember(r)
	settings := app.Settings()

	if r.Method == http.MethodPost {
		level, err := strconv.Atoi(r.FormValue("level"))
		if err != nil {
			redirectBack(w, r, pc.path("warning"), "Warning level must be a number.")
			return
		}
		reason := utils.Truncate(utils.StripTags(r.FormValue("reason")), config.MaxWarnReasonLen)
		if reason == "" {
			redirectBack(w, r, pc.path("warning"), "A reason for the warning is required.")
			return
		}
		in := database.WarningInput{
			MemberID:  pc.Member.ID,
			NewLevel:  level,
			Reason:    reason,
			ActorID:   viewer.ID,
			ActorName: displayName(viewer),
			IP:        utils.GetIPAddress(r),
			MaxPerDay: settings.Warnings.MaxPerDay,
		}
		if r.FormValue("notify") != "" {
			in.NoticeSubject = strings.TrimSpace(utils.StripTags(r.FormValue("notice_subject")))
			in.NoticeBody = expandNotice(utils.StripTags(r.FormValue("notice_body")), pc.Member)
			if in.NoticeSubject == "" || strings.TrimSpace(in.NoticeBody) == "" {
				redirectBack(w, r, pc.path("warning"), "The notification needs a subject and a body.")
				return
			}
		}
		res, err := app.DB().IssueWarning(r.Context(), in)
		if err != nil {
			fail(w, r, app, logger, err, "Failed to issue warning")
			return
		}
		logger.Info("Warning issued", "member_id", pc.Member.ID, "level", res.Level, "change", res.Change, "capped", res.Capped)
		msg := fmt.Sprintf("Warning level is now %d%%.", res.Level)
		if res.Capped {
			msg += fmt.Sprintf(" The change was limited to %d points per day.", settings.Warnings.MaxPerDay)
		}
		redirectBack(w, r, pc.path("warnings"), msg)
		return
	}

	tpls, err := app.DB().ListWarningTemplates(r.Context(), viewer.ID)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load warning templates")
		return
	}
	recent, _, err := app.DB().ListWarnings(r.Context(), pc.Member.ID, 1, 5)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load previous warnings")
		return
	}

	data := pc.data("Issue Warning")
	data["Templates"] = tpls
	data["Recent"] = recent
	data["Status"] = settings.WarningStatus(pc.Member.Warning)
	data["Settings"] = settings.Warnings
	if tid, err := strconv.ParseInt(r.URL.Query().Get("template"), 10, 64); err == nil && tid > 0 {
		tpl, err := app.DB().GetWarningTemplate(r.Context(), tid, viewer.ID)
		if err == nil {
			data["NoticeSubject"] = tpl.Title
			data["NoticeBody"] = expandNotice(tpl.Body, pc.Member)
		} else if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Failed to load warning template", "template_id", tid, "error", err)
		}
	}
	render(w, r, app, "layout.html", "profile_warning.html", data)
}

// HandleViewWarnings lists the warnings a member has received.
func HandleViewWarnings(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleViewWarnings")
	pc, ok := loadProfile(w, r, app, "viewwarning", "")
	if !ok {
		return
	}
	opts := parseListOptions(r, config.WarningsPerPage)
	warnings, total, err := app.DB().ListWarnings(r.Context(), pc.Member.ID, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load warnings")
		return
	}
	data := pc.data("Warnings")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Warnings"] = warnings
	data["Level"] = pc.Member.Warning
	data["Status"] = app.Settings().WarningStatus(pc.Member.Warning)
	data["CanIssue"] = currentPerms(r).AllowedTo(auth.IssueWarning) && !pc.IsOwner
	render(w, r, app, "layout.html", "profile_warnings.html", data)
}

// HandleWarnings dispatches the warnings area to its subsection.
func HandleWarnings(w http.ResponseWriter, r *http.Request, app App) {
	if r.URL.Query().Get("sa") == "templates" {
		HandleWarningTemplates(w, r, app)
		return
	}
	HandleWarningLog(w, r, app)
}

// HandleWarningLog lists every issued warning.
func HandleWarningLog(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleWarningLog")
	m, ok := modMenu(w, r, app, "warnings", "log")
	if !ok {
		return
	}
	opts := parseListOptions(r, config.WarningsPerPage)
	warnings, total, err := app.DB().ListWarnings(r.Context(), 0, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load warning log")
		return
	}
	data := modData(m, "Warning Log")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Warnings"] = warnings
	render(w, r, app, "layout.html", "mod_warnings.html", data)
}

// HandleWarningTemplates lists the warning templates visible to the member and
// shows the editor, optionally loaded with ?edit=<id>.
func HandleWarningTemplates(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleWarningTemplates")
	m, ok := modMenu(w, r, app, "warnings", "templates")
	if !ok {
		return
	}
	viewerID, _ := actor(r)
	tpls, err := app.DB().ListWarningTemplates(r.Context(), viewerID)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load warning templates")
		return
	}
	data := modData(m, "Warning Templates")
	data["Templates"] = tpls
	data["Editing"] = &models.WarningTemplate{}
	if id, err := strconv.ParseInt(r.URL.Query().Get("edit"), 10, 64); err == nil && id > 0 {
		tpl, err := app.DB().GetWarningTemplate(r.Context(), id, viewerID)
		if err != nil {
			fail(w, r, app, logger, err, "Failed to load warning template")
			return
		}
		data["Editing"] = tpl
	}
	render(w, r, app, "layout.html", "mod_warning_templates.html", data)
}

// HandleSaveWarningTemplate creates or updates a warning template.
func HandleSaveWarningTemplate(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSaveWarningTemplate")
	if _, ok := modMenu(w, r, app, "warnings", "templates"); !ok {
		return
	}
	id, _ := strconv.ParseInt(r.FormValue("id"), 10, 64)
	tpl := models.WarningTemplate{
		ID:       id,
		Title:    strings.TrimSpace(utils.StripTags(r.FormValue("title"))),
		Body:     strings.TrimSpace(utils.StripTags(r.FormValue("body"))),
		Personal: r.FormValue("personal") != "",
	}
	editorID, editorName := actor(r)
	saved, err := app.DB().SaveWarningTemplate(r.Context(), tpl, editorID, editorName, currentPerms(r).AllowedTo(auth.AdminForum), utils.GetIPAddress(r))
	if errors.Is(err, database.ErrInvalidInput) {
		redirectBack(w, r, "/mod/warnings/templates", "Template title and body are required.")
		return
	}
	if err != nil {
		fail(w, r, app, logger, err, "Failed to save warning template")
		return
	}
	logger.Info("Warning template saved", "template_id", saved, "member_id", editorID)
	redirectBack(w, r, "/mod/warnings/templates", "Template saved.")
}

// HandleDeleteWarningTemplates removes the selected templates.
func HandleDeleteWarningTemplates(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteWarningTemplates")
	if _, ok := modMenu(w, r, app, "warnings", "templates"); !ok {
		return
	}
	ids := formIDs(r, "ids")
	editorID, _ := actor(r)
	n, err := app.DB().DeleteWarningTemplates(r.Context(), ids, editorID, currentPerms(r).AllowedTo(auth.AdminForum), utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete warning templates")
		return
	}
	redirectBack(w, r, "/mod/warnings/templates", fmt.Sprintf("%d template(s) deleted.", n))
}

// HandleWatchedMembers lists members at or above the watch threshold, or their posts.
func HandleWatchedMembers(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleWatchedMembers")
	sa := r.URL.Query().Get("view")
	if sa == "" {
		sa = r.URL.Query().Get("sa")
	}
	m, ok := modMenu(w, r, app, "userwatch", sa)
	if !ok {
		return
	}
	settings := app.Settings()
	opts := parseListOptions(r, config.WatchedPerPage)
	data := modData(m, "Watched Members")

	if m.CurrentSA == "posts" {
		boards, ok := requireBoards(w, r, app, auth.ModerateBoard)
		if !ok {
			return
		}
		posts, total, err := app.DB().ListWatchedPosts(r.Context(), settings.Warnings.Watch, boards, opts.Page, opts.PerPage)
		if err != nil {
			fail(w, r, app, logger, err, "Failed to load watched posts")
			return
		}
		for k, v := range listData(opts, total) {
			data[k] = v
		}
		data["Posts"] = posts
	} else {
		watched, total, err := app.DB().ListWatchedMembers(r.Context(), settings.Warnings.Watch, opts.Page, opts.PerPage)
		if err != nil {
			fail(w, r, app, logger, err, "Failed to load watched members")
			return
		}
		for i := range watched {
			watched[i].Status = settings.WarningStatus(watched[i].Warning)
		}
		for k, v := range listData(opts, total) {
			data[k] = v
		}
		data["Members"] = watched
	}
	data["View"] = m.CurrentSA
	data["Threshold"] = settings.Warnings.Watch
	render(w, r, app, "layout.html", "mod_watched.html", data)
}
