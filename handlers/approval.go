// forumd/handlers/approval.go
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"forumd/auth"
	"forumd/config"
	"forumd/utils"
)

// HandlePostModeration lists unapproved replies (sa=replies) or topics (sa=topics).
func HandlePostModeration(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePostModeration")
	m, ok := modMenu(w, r, app, "postmod", r.URL.Query().Get("sa"))
	if !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	opts := parseListOptions(r, config.ApprovalPerPage)
	topics := m.CurrentSA == "topics"
	msgs, total, err := app.DB().ListUnapprovedMessages(r.Context(), boards, topics, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load unapproved messages")
		return
	}

	title := "Unapproved Replies"
	if topics {
		title = "Unapproved Topics"
	}
	data := modData(m, title)
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Messages"] = msgs
	data["Topics"] = topics
	render(w, r, app, "layout.html", "mod_postmod.html", data)
}

// HandleApproveMessages approves the selected messages.
func HandleApproveMessages(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleApproveMessages")
	if _, ok := modMenu(w, r, app, "postmod", ""); !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	ids := formIDs(r, "msg_ids")
	if len(ids) == 0 {
		redirectBack(w, r, "/mod/postmod", "No messages selected.")
		return
	}
	actorID, _ := actor(r)
	n, err := app.DB().ApproveMessages(r.Context(), ids, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to approve messages")
		return
	}
	logger.Info("Messages approved", "count", n, "member_id", actorID)
	redirectBack(w, r, "/mod/postmod", fmt.Sprintf("%d message(s) approved.", n))
}

// HandleDeleteMessages removes the selected unapproved messages; first messages take their topic with them.
func HandleDeleteMessages(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteMessages")
	if _, ok := modMenu(w, r, app, "postmod", ""); !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	ids := formIDs(r, "msg_ids")
	if len(ids) == 0 {
		redirectBack(w, r, "/mod/postmod", "No messages selected.")
		return
	}
	actorID, _ := actor(r)
	n, paths, err := app.DB().DeleteMessages(r.Context(), ids, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete messages")
		return
	}
	removeStoredFiles(r.Context(), app, logger, paths)
	logger.Info("Messages deleted", "count", n, "member_id", actorID)
	redirectBack(w, r, "/mod/postmod", fmt.Sprintf("%d message(s) deleted.", n))
}

// HandleAttachmentModeration lists attachments awaiting approval.
func HandleAttachmentModeration(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAttachmentModeration")
	m, ok := modMenu(w, r, app, "attachmod", "")
	if !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	opts := parseListOptions(r, config.ApprovalPerPage)
	atts, total, err := app.DB().ListUnapprovedAttachments(r.Context(), boards, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load unapproved attachments")
		return
	}
	data := modData(m, "Unapproved Attachments")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Attachments"] = atts
	render(w, r, app, "layout.html", "mod_attachmod.html", data)
}

// HandleApproveAttachments approves the selected attachments.
func HandleApproveAttachments(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleApproveAttachments")
	if _, ok := modMenu(w, r, app, "attachmod", ""); !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	ids := formIDs(r, "attach_ids")
	if len(ids) == 0 {
		redirectBack(w, r, "/mod/attachmod", "No attachments selected.")
		return
	}
	actorID, _ := actor(r)
	n, err := app.DB().ApproveAttachments(r.Context(), ids, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to approve attachments")
		return
	}
	redirectBack(w, r, "/mod/attachmod", fmt.Sprintf("%d attachment(s) approved.", n))
}

// HandleDeleteAttachments removes the selected attachments and their stored files.
func HandleDeleteAttachments(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteAttachments")
	if _, ok := modMenu(w, r, app, "attachmod", ""); !ok {
		return
	}
	boards, ok := requireBoards(w, r, app, auth.ApprovePosts)
	if !ok {
		return
	}
	ids := formIDs(r, "attach_ids")
	if len(ids) == 0 {
		redirectBack(w, r, "/mod/attachmod", "No attachments selected.")
		return
	}
	actorID, _ := actor(r)
	n, paths, err := app.DB().DeleteAttachments(r.Context(), ids, boards, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete attachments")
		return
	}
	removeStoredFiles(r.Context(), app, logger, paths)
	redirectBack(w, r, "/mod/attachmod", fmt.Sprintf("%d attachment(s) deleted.", n))
}

// removeStoredFiles deletes files whose rows are already gone. Failures leave
// an orphaned file and are only logged.
func removeStoredFiles(ctx context.Context, app App, logger *slog.Logger, paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := app.Storage().DeleteFile(ctx, p); err != nil {
			logger.Error("Failed to delete stored file", "path", p, "error", err)
		}
	}
}
