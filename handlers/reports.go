// forumd/handlers/reports.go
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
	"forumd/menu"
	"forumd/models"
	"forumd/utils"

	"github.com/go-chi/chi/v5"
)

// reportStates maps the action URL segment onto a report column and value.
var reportStates = map[string]struct {
	column string
	value  bool
}{
	"close":    {database.ReportClosed, true},
	"open":     {database.ReportClosed, false},
	"ignore":   {database.ReportIgnored, true},
	"unignore": {database.ReportIgnored, false},
}

func reportType(r *http.Request) string {
	t := r.URL.Query().Get("type")
	if t == "" {
		t = r.PostFormValue("type")
	}
	if t == models.ReportTypeMembers {
		return models.ReportTypeMembers
	}
	return models.ReportTypePosts
}

// reportArea resolves the menu area and the boards a member may act on for a report type.
func reportArea(w http.ResponseWriter, r *http.Request, app App, rt, sa string) (*menu.Menu, []int64, bool) {
	area := "reports"
	if rt == models.ReportTypeMembers {
		area = "reported_members"
	}
	m, ok := modMenu(w, r, app, area, sa)
	if !ok {
		return nil, nil, false
	}
	if rt == models.ReportTypeMembers {
		return m, []int64{0}, true
	}
	boards, ok := requireBoards(w, r, app, auth.ModerateBoard)
	return m, boards, ok
}

func reportsPath(rt string) string {
	if rt == models.ReportTypeMembers {
		return "/mod/reports?type=members"
	}
	return "/mod/reports"
}

// HandleSubmitReport lets a member report a message or another member.
func HandleSubmitReport(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSubmitReport")
	member := currentMember(r)
	if member == nil {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "You must be logged in to report content."}, app)
		return
	}
	perms := currentPerms(r)
	nr := database.NewReport{
		Type:         reportType(r),
		ReporterID:   member.ID,
		ReporterName: displayName(member),
		IP:           utils.GetIPAddress(r),
		Comment:      utils.Truncate(utils.StripTags(r.FormValue("comment")), config.MaxReportCommentLen),
	}

	var err error
	switch nr.Type {
	case models.ReportTypeMembers:
		if !perms.AllowedTo(auth.ReportUser) {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "You are not allowed to report members."}, app)
			return
		}
		nr.MemberID, err = strconv.ParseInt(r.FormValue("member_id"), 10, 64)
	default:
		if !perms.AllowedTo(auth.ReportAny) {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "You are not allowed to report posts."}, app)
			return
		}
		nr.MessageID, err = strconv.ParseInt(r.FormValue("msg_id"), 10, 64)
	}
	if err != nil || (nr.MemberID <= 0 && nr.MessageID <= 0) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid report target."}, app)
		return
	}
	if nr.Comment == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Reason for reporting cannot be empty."}, app)
		return
	}
	if !app.ReportLimiter().Allow("report:" + strconv.FormatInt(member.ID, 10)) {
		logger.Warn("Report rate limit exceeded", "member_id", member.ID)
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "You are reporting too quickly. Please wait a moment."}, app)
		return
	}

	id, err := app.DB().SubmitReport(r.Context(), nr)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error("Failed to submit report", "error", err)
			respondJSON(w, status, map[string]string{"error": "Failed to submit report."}, app)
			return
		}
		respondJSON(w, status, map[string]string{"error": err.Error()}, app)
		return
	}
	logger.Info("Report submitted", "report_id", id, "type", nr.Type, "member_id", member.ID)
	respondJSON(w, http.StatusOK, map[string]string{"success": "Report submitted successfully."}, app)
}

// HandleReports lists open or closed reports of one type.
func HandleReports(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReports")
	rt := reportType(r)
	sa := r.URL.Query().Get("sa")
	if r.URL.Query().Get("closed") == "1" {
		sa = "closed"
	}
	m, boards, ok := reportArea(w, r, app, rt, sa)
	if !ok {
		return
	}
	opts := parseListOptions(r, config.ReportsPerPage)
	closed := m.CurrentSA == "closed"
	reports, total, err := app.DB().ListReports(r.Context(), database.ReportFilter{
		Type: rt, Closed: closed, Boards: boards, Page: opts.Page, PerPage: opts.PerPage,
	})
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load reports")
		return
	}

	title := "Reported Posts"
	if rt == models.ReportTypeMembers {
		title = "Reported Members"
	}
	data := modData(m, title)
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Reports"] = reports
	data["Type"] = rt
	data["Closed"] = closed
	render(w, r, app, "layout.html", "mod_reports.html", data)
}

// HandleReportDetail shows one report with reporter comments, moderator comments and its log.
func HandleReportDetail(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReportDetail")
	rt := reportType(r)
	m, boards, ok := reportArea(w, r, app, rt, "")
	if !ok {
		return
	}
	id, ok := urlID(r, "reportID")
	if !ok {
		renderError(w, r, app, http.StatusNotFound, "Report not found.")
		return
	}
	report, err := app.DB().GetReport(r.Context(), id, rt, boards)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load report")
		return
	}
	entries, _, err := app.DB().ListLogActions(r.Context(), database.LogFilter{
		LogType: models.LogModeration, ReportID: id, Page: 1, PerPage: 50,
	})
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load report log")
		return
	}

	m.CurrentSA = "open"
	if report.Closed || report.IgnoreAll {
		m.CurrentSA = "closed"
	}
	data := modData(m, "Report: "+report.Subject)
	data["Report"] = report
	data["Type"] = rt
	data["LogEntries"] = entries
	data["CanDeleteAnyComment"] = currentPerms(r).AllowedTo(auth.AdminForum)
	render(w, r, app, "layout.html", "mod_report.html", data)
}

// HandleReportState closes, reopens, ignores or unignores one report.
func HandleReportState(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReportState")
	rt := reportType(r)
	_, boards, ok := reportArea(w, r, app, rt, "")
	if !ok {
		return
	}
	id, ok := urlID(r, "reportID")
	if !ok {
		renderError(w, r, app, http.StatusNotFound, "Report not found.")
		return
	}
	state, ok := reportStates[chi.URLParam(r, "action")]
	if !ok {
		renderError(w, r, app, http.StatusBadRequest, "Unknown report action.")
		return
	}
	actorID, _ := actor(r)
	n, err := app.DB().SetReportState(r.Context(), []int64{id}, rt, state.column, state.value, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to update report")
		return
	}
	logger.Info("Report state changed", "report_id", id, "action", chi.URLParam(r, "action"), "changed", n)
	redirectBack(w, r, fmt.Sprintf("/mod/reports/%d?type=%s", id, rt), "")
}

// HandleReportsBulk applies close or ignore to several reports at once.
func HandleReportsBulk(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleReportsBulk")
	rt := reportType(r)
	_, boards, ok := reportArea(w, r, app, rt, "")
	if !ok {
		return
	}
	state, ok := reportStates[r.FormValue("action")]
	if !ok {
		renderError(w, r, app, http.StatusBadRequest, "Unknown report action.")
		return
	}
	ids := formIDs(r, "ids")
	if len(ids) == 0 {
		redirectBack(w, r, reportsPath(rt), "No reports selected.")
		return
	}
	actorID, _ := actor(r)
	n, err := app.DB().SetReportState(r.Context(), ids, rt, state.column, state.value, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to update reports")
		return
	}
	redirectBack(w, r, reportsPath(rt), fmt.Sprintf("%d report(s) updated.", n))
}

// HandleAddReportComment adds a moderator comment to a report.
func HandleAddReportComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAddReportComment")
	rt := reportType(r)
	_, boards, ok := reportArea(w, r, app, rt, "")
	if !ok {
		return
	}
	id, ok := urlID(r, "reportID")
	if !ok {
		renderError(w, r, app, http.StatusNotFound, "Report not found.")
		return
	}
	if _, err := app.DB().GetReport(r.Context(), id, rt, boards); err != nil {
		fail(w, r, app, logger, err, "Failed to load report")
		return
	}
	detail := fmt.Sprintf("/mod/reports/%d?type=%s", id, rt)
	body := utils.StripTags(r.FormValue("comment"))
	if strings.TrimSpace(body) == "" {
		redirectBack(w, r, detail, "Comment cannot be empty.")
		return
	}
	actorID, actorName := actor(r)
	if _, err := app.DB().AddReportComment(r.Context(), id, actorID, actorName, utils.Truncate(body, config.MaxReportCommentLen), utils.GetIPAddress(r)); err != nil {
		fail(w, r, app, logger, err, "Failed to add report comment")
		return
	}
	redirectBack(w, r, detail, "")
}

// HandleDeleteReportComment removes a moderator comment. Authors remove their own; admin_forum any.
func HandleDeleteReportComment(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteReportComment")
	rt := reportType(r)
	if _, _, ok := reportArea(w, r, app, rt, ""); !ok {
		return
	}
	id, ok := urlID(r, "reportID")
	cid, ok2 := urlID(r, "commentID")
	if !ok || !ok2 {
		renderError(w, r, app, http.StatusNotFound, "Comment not found.")
		return
	}
	actorID, _ := actor(r)
	err := app.DB().DeleteReportComment(r.Context(), id, cid, actorID, currentPerms(r).AllowedTo(auth.AdminForum), utils.GetIPAddress(r))
	if errors.Is(err, database.ErrNotFound) {
		forbid(w, r, app)
		return
	}
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete report comment")
		return
	}
	redirectBack(w, r, fmt.Sprintf("/mod/reports/%d?type=%s", id, rt), "")
}
