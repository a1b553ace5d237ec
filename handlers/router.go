package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(SessionMiddleware(app))

	// Sessions
	mux.Get("/login", MakeHandler(app, HandleLogin))
	mux.Post("/login", MakeHandler(app, HandleLogin))
	mux.Post("/logout", MakeHandler(app, HandleLogout))

	// Reporting is open to members anywhere on the site.
	mux.Post("/report", MakeHandler(app, HandleSubmitReport))

	// Moderation center
	mux.Route("/mod", func(r chi.Router) {
		if app.Settings().ModerationLANOnly {
			r.Use(RequireLAN)
		}
		r.Get("/", MakeHandler(app, HandleModCenter))
		r.Post("/notes", MakeHandler(app, HandleAddModNote))
		r.Post("/notes/delete", MakeHandler(app, HandleDeleteModNote))

		r.Get("/postmod", MakeHandler(app, HandlePostModeration))
		r.Post("/postmod/approve", MakeHandler(app, HandleApproveMessages))
		r.Post("/postmod/delete", MakeHandler(app, HandleDeleteMessages))
		r.Get("/attachmod", MakeHandler(app, HandleAttachmentModeration))
		r.Post("/attachmod/approve", MakeHandler(app, HandleApproveAttachments))
		r.Post("/attachmod/delete", MakeHandler(app, HandleDeleteAttachments))

		r.Get("/reports", MakeHandler(app, HandleReports))
		r.Post("/reports/bulk", MakeHandler(app, HandleReportsBulk))
		r.Get("/reports/{reportID}", MakeHandler(app, HandleReportDetail))
		r.Post("/reports/{reportID}/comments", MakeHandler(app, HandleAddReportComment))
		r.Post("/reports/{reportID}/comments/{commentID}/delete", MakeHandler(app, HandleDeleteReportComment))
		r.Post("/reports/{reportID}/{action}", MakeHandler(app, HandleReportState))

		r.Get("/modlog", MakeHandler(app, HandleModLog))
		r.Post("/modlog/delete", MakeHandler(app, HandleDeleteModLog))
		r.Get("/adminlog", MakeHandler(app, HandleAdminLog))
		r.Post("/adminlog/delete", MakeHandler(app, HandleDeleteAdminLog))
		r.Post("/backup", MakeHandler(app, HandleDatabaseBackup))

		r.Get("/warnings", MakeHandler(app, HandleWarnings))
		r.Get("/warnings/log", MakeHandler(app, HandleWarningLog))
		r.Get("/warnings/templates", MakeHandler(app, HandleWarningTemplates))
		r.Post("/warnings/templates", MakeHandler(app, HandleSaveWarningTemplate))
		r.Post("/warnings/templates/delete", MakeHandler(app, HandleDeleteWarningTemplates))
		r.Get("/watched", MakeHandler(app, HandleWatchedMembers))

		r.Get("/groups/requests", MakeHandler(app, HandleGroupRequests))
		r.Post("/groups/requests", MakeHandler(app, HandleActOnGroupRequests))
	})

	// Profile areas
	mux.Route("/profile/{id}", func(r chi.Router) {
		r.Get("/", MakeHandler(app, HandleProfileSummary))
		r.Get("/tracking", MakeHandler(app, HandleTracking))
		r.Get("/warnings", MakeHandler(app, HandleViewWarnings))
		r.Get("/warning", MakeHandler(app, HandleIssueWarning))
		r.Post("/warning", MakeHandler(app, HandleIssueWarning))

		r.Get("/account", MakeHandler(app, HandleAccountSettings))
		r.Post("/account", MakeHandler(app, HandleAccountSettings))
		r.Get("/forum", MakeHandler(app, HandleForumProfile))
		r.Post("/forum", MakeHandler(app, HandleForumProfile))
		r.Get("/theme", MakeHandler(app, HandleThemeSettings))
		r.Post("/theme", MakeHandler(app, HandleThemeSettings))
		r.Get("/notifications", MakeHandler(app, HandleNotifications))
		r.Post("/notifications", MakeHandler(app, HandleNotifications))
		r.Get("/delete", MakeHandler(app, HandleDeleteAccount))
		r.Post("/delete", MakeHandler(app, HandleDeleteAccount))

		r.Get("/lists", MakeHandler(app, HandleLists))
		r.Post("/lists/add", MakeHandler(app, HandleAddToList))
		r.Post("/lists/remove", MakeHandler(app, HandleRemoveFromList))

		r.Get("/tfa", MakeHandler(app, HandleTFASetup))
		r.Post("/tfa", MakeHandler(app, HandleTFASetup))
		r.Post("/tfa/disable", MakeHandler(app, HandleTFADisable))

		r.Get("/groups", MakeHandler(app, HandleGroupMembership))
		r.Post("/groups/request", MakeHandler(app, HandleRequestGroup))

		r.Get("/export", MakeHandler(app, HandleExport))
		r.Post("/export", MakeHandler(app, HandleExport))
		r.Post("/export/delete", MakeHandler(app, HandleDeleteExport))
		r.Get("/export/{token}/download", MakeHandler(app, HandleExportDownload))
	})

	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/mod", http.StatusSeeOther)
	})
	mux.NotFound(MakeHandler(app, func(w http.ResponseWriter, r *http.Request, app App) {
		renderError(w, r, app, http.StatusNotFound, "The page you requested does not exist.")
	}))

	return mux
}
