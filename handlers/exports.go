// forumd/handlers/exports.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forumd/database"
	"forumd/export"
	"forumd/models"
	"forumd/utils"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// HandleExport lists a member's exports and queues new ones.
func HandleExport(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleExport")
	pc, ok := loadProfile(w, r, app, "export", "")
	if !ok {
		return
	}
	back := pc.path("export")

	if r.Method == http.MethodPost {
		format := r.FormValue("format")
		if !lo.Contains(export.Formats, format) {
			redirectBack(w, r, back, "Unknown export format.")
			return
		}
		if err := r.ParseForm(); err != nil {
			redirectBack(w, r, back, "Form parsing error.")
			return
		}
		datatypes := lo.Uniq(append(r.Form["datatypes"], r.Form["datatypes[]"]...))
		if len(datatypes) == 0 {
			redirectBack(w, r, back, "Select at least one kind of data to export.")
			return
		}
		if bad, found := lo.Find(datatypes, func(d string) bool { return !lo.Contains(export.Datatypes, d) }); found {
			redirectBack(w, r, back, fmt.Sprintf("Unknown export datatype %q.", bad))
			return
		}
		requester, _ := actor(r)
		if !app.ExportLimiter().Allow("export:" + strconv.FormatInt(requester, 10)) {
			logger.Warn("Export rate limit exceeded", "member_id", requester)
			redirectBack(w, r, back, "You are requesting exports too quickly. Please wait a moment.")
			return
		}

		id, token, err := app.DB().CreateExport(r.Context(), pc.Member.ID, format, datatypes)
		if err != nil {
			fail(w, r, app, logger, err, "Failed to queue export")
			return
		}
		queued := app.Exports().Enqueue(id)
		logger.Info("Export queued", "export_id", id, "member_id", pc.Member.ID, "format", format, "queued", queued)
		// The raw token is only known now; the page shows the download link once.
		http.Redirect(w, r, back+"?token="+url.QueryEscape(token)+"&msg="+url.QueryEscape("Your export has been queued. Keep the download link below, it is shown only once."), http.StatusSeeOther)
		return
	}

	exports, err := app.DB().ListExports(r.Context(), pc.Member.ID)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load exports")
		return
	}
	data := pc.data("Download Profile Data")
	data["Exports"] = exports
	data["Formats"] = export.Formats
	data["Datatypes"] = export.Datatypes
	data["Retention"] = app.Settings().ExportRetention()
	if token := r.URL.Query().Get("token"); token != "" {
		data["DownloadPath"] = pc.path("export/" + token + "/download")
	}
	render(w, r, app, "layout.html", "profile_export.html", data)
}

// HandleExportDownload sends a finished export to its owner.
func HandleExportDownload(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleExportDownload")
	pc, ok := loadProfile(w, r, app, "export", "")
	if !ok {
		return
	}
	if !pc.IsOwner {
		forbid(w, r, app)
		return
	}
	e, err := app.DB().GetExportByToken(r.Context(), pc.Member.ID, chi.URLParam(r, "token"))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load export")
		return
	}
	if e.Status != models.ExportComplete {
		renderError(w, r, app, http.StatusConflict, "This export is not ready yet.")
		return
	}

	local, ok := app.Exports().Storage().LocalPath(e.Path)
	if !ok {
		http.Redirect(w, r, e.Path, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(e.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="profile_export_%d.%s"`, e.ID, e.Format))
	http.ServeFile(w, r, local)
}

// HandleDeleteExport removes an export and its file.
func HandleDeleteExport(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteExport")
	pc, ok := loadProfile(w, r, app, "export", "")
	if !ok {
		return
	}
	back := pc.path("export")
	id, err := strconv.ParseInt(r.FormValue("export_id"), 10, 64)
	if err != nil {
		redirectBack(w, r, back, "Invalid export.")
		return
	}
	e, err := app.DB().DeleteExport(r.Context(), id, pc.Member.ID)
	if errors.Is(err, database.ErrInvalidInput) {
		redirectBack(w, r, back, "That export is still being generated.")
		return
	}
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete export")
		return
	}
	if e.Path != "" {
		if err := app.Exports().Storage().DeleteFile(r.Context(), e.Path); err != nil {
			logger.Warn("Failed to remove export file", "path", e.Path, "error", err)
		}
	}
	logger.Info("Export deleted", "export_id", id, "member_id", pc.Member.ID, "ip", utils.GetIPAddress(r))
	redirectBack(w, r, back, "Export deleted.")
}
