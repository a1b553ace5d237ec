// forumd/handlers/modcenter.go
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"golang.org/x/sync/errgroup"
)

// modCounters are the figures shown on the moderation center home page.
type modCounters struct {
	UnapprovedTopics  int
	UnapprovedReplies int
	UnapprovedAttach  int
	PostReports       int
	MemberReports     int
	Watched           int
	GroupRequests     int
}

// HandleModCenter serves the moderation center home with its queue counters and notes.
func HandleModCenter(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleModCenter")
	m, ok := modMenu(w, r, app, "index", "")
	if !ok {
		return
	}
	perms := currentPerms(r)
	settings := app.Settings()
	opts := parseListOptions(r, 10)

	var (
		c     modCounters
		notes []models.ModComment
		total int
	)
	g, gctx := errgroup.WithContext(r.Context())
	db := app.DB()
	if approve := perms.BoardsAllowedTo(auth.ApprovePosts); len(approve) > 0 && settings.PostModeration {
		g.Go(func() (err error) {
			c.UnapprovedTopics, err = db.CountUnapprovedMessages(gctx, approve, true)
			return err
		})
		g.Go(func() (err error) {
			c.UnapprovedReplies, err = db.CountUnapprovedMessages(gctx, approve, false)
			return err
		})
		g.Go(func() (err error) {
			c.UnapprovedAttach, err = db.CountUnapprovedAttachments(gctx, approve)
			return err
		})
	}
	if boards := perms.BoardsAllowedTo(auth.ModerateBoard); len(boards) > 0 {
		g.Go(func() (err error) {
			c.PostReports, err = db.CountReports(gctx, database.ReportFilter{Type: models.ReportTypePosts, Boards: boards})
			return err
		})
	}
	if perms.AllowedTo(auth.ModerateForum) {
		g.Go(func() (err error) {
			c.MemberReports, err = db.CountReports(gctx, database.ReportFilter{Type: models.ReportTypeMembers})
			return err
		})
		if settings.Warnings.Enabled {
			g.Go(func() (err error) {
				c.Watched, err = db.CountWatchedMembers(gctx, settings.Warnings.Watch)
				return err
			})
		}
	}
	if perms.AllowedTo(auth.ManageMembergroups) && settings.GroupRequests {
		g.Go(func() (err error) {
			c.GroupRequests, err = db.CountGroupRequests(gctx, models.RequestPending)
			return err
		})
	}
	g.Go(func() (err error) {
		notes, total, err = db.ListModNotes(gctx, opts.Page, opts.PerPage)
		return err
	})
	if err := g.Wait(); err != nil {
		fail(w, r, app, logger, err, "Failed to load moderation center")
		return
	}

	data := modData(m, "Moderation Center")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Counters"] = c
	data["Notes"] = notes
	data["CanDeleteAnyNote"] = perms.AllowedTo(auth.AdminForum)
	render(w, r, app, "layout.html", "mod_index.html", data)
}

// HandleAddModNote posts a note to the moderator notes board.
func HandleAddModNote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAddModNote")
	if _, ok := modMenu(w, r, app, "index", ""); !ok {
		return
	}
	body := utils.StripTags(r.FormValue("note"))
	if strings.TrimSpace(body) == "" {
		redirectBack(w, r, "/mod", "Note cannot be empty.")
		return
	}
	actorID, actorName := actor(r)
	id, err := app.DB().AddModNote(r.Context(), actorID, actorName, utils.Truncate(body, config.MaxReportCommentLen))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to add moderator note")
		return
	}
	logger.Info("Moderator note added", "note_id", id, "member_id", actorID)
	redirectBack(w, r, "/mod", "")
}

// HandleDeleteModNote removes a moderator note. Members may remove their own;
// admin_forum removes any.
func HandleDeleteModNote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteModNote")
	if _, ok := modMenu(w, r, app, "index", ""); !ok {
		return
	}
	noteID, err := strconv.ParseInt(r.FormValue("note_id"), 10, 64)
	if err != nil || noteID <= 0 {
		renderError(w, r, app, http.StatusBadRequest, "Invalid note ID.")
		return
	}
	actorID, _ := actor(r)
	if err := app.DB().DeleteModNote(r.Context(), noteID, actorID, currentPerms(r).AllowedTo(auth.AdminForum)); err != nil {
		fail(w, r, app, logger, err, "Failed to delete moderator note")
		return
	}
	redirectBack(w, r, "/mod", "")
}
