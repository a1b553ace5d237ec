// forumd/handlers/groups.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"github.com/samber/lo"
)

// HandleGroupRequests lists pending membergroup requests.
func HandleGroupRequests(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGroupRequests")
	m, ok := modMenu(w, r, app, "groups", "")
	if !ok {
		return
	}
	opts := parseListOptions(r, config.GroupRequestPerPage)
	reqs, total, err := app.DB().ListGroupRequests(r.Context(), models.RequestPending, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load group requests")
		return
	}
	data := modData(m, "Group Requests")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Requests"] = reqs
	render(w, r, app, "layout.html", "mod_group_requests.html", data)
}

// HandleActOnGroupRequests approves or rejects the selected pending requests.
func HandleActOnGroupRequests(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleActOnGroupRequests")
	if _, ok := modMenu(w, r, app, "groups", ""); !ok {
		return
	}
	var approve bool
	switch r.FormValue("action") {
	case "approve":
		approve = true
	case "reject":
	default:
		renderError(w, r, app, http.StatusBadRequest, "Unknown group request action.")
		return
	}
	ids := formIDs(r, "ids")
	if len(ids) == 0 {
		redirectBack(w, r, "/mod/groups/requests", "No requests selected.")
		return
	}
	reason := utils.Truncate(utils.StripTags(r.FormValue("reason")), config.MaxWarnReasonLen)
	actorID, actorName := actor(r)
	n, err := app.DB().ActOnGroupRequests(r.Context(), ids, approve, reason, actorID, actorName, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to act on group requests")
		return
	}
	logger.Info("Group requests handled", "count", n, "approve", approve, "member_id", actorID)
	redirectBack(w, r, "/mod/groups/requests", fmt.Sprintf("%d request(s) handled.", n))
}

// HandleGroupMembership shows the member's groups and the groups they can join or request.
func HandleGroupMembership(w http.ResponseWriter, r *http.Request, app App) {
	pc, ok := loadProfile(w, r, app, "groupmembership", "")
	if !ok {
		return
	}
	groups := getGroupList(app, r)
	current := lo.Filter(groups, func(g models.MemberGroup, _ int) bool {
		return g.ID == pc.Member.GroupID || lo.Contains(pc.Member.AdditionalGroups, g.ID)
	})
	available := lo.Filter(groups, func(g models.MemberGroup, _ int) bool {
		joinable := g.Type == models.GroupTypeRequestable || g.Type == models.GroupTypeFree
		return joinable && !lo.ContainsBy(current, func(c models.MemberGroup) bool { return c.ID == g.ID })
	})
	data := pc.data("Group Membership")
	data["Current"] = current
	data["Available"] = available
	render(w, r, app, "layout.html", "profile_groups.html", data)
}

// HandleRequestGroup joins a free group or files a request for a requestable one.
func HandleRequestGroup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleRequestGroup")
	pc, ok := loadProfile(w, r, app, "groupmembership", "")
	if !ok {
		return
	}
	groupID, err := strconv.ParseInt(r.FormValue("group_id"), 10, 64)
	if err != nil {
		redirectBack(w, r, pc.path("groups"), "Invalid group.")
		return
	}
	reason := utils.Truncate(utils.StripTags(r.FormValue("reason")), config.MaxWarnReasonLen)
	_, joined, err := app.DB().RequestGroup(r.Context(), pc.Member.ID, groupID, reason)
	switch {
	case errors.Is(err, database.ErrAlreadyExists):
		redirectBack(w, r, pc.path("groups"), "You are already a member of that group or have a pending request.")
		return
	case err != nil:
		fail(w, r, app, logger, err, "Failed to request group")
		return
	}
	if joined {
		redirectBack(w, r, pc.path("groups"), "You have joined the group.")
		return
	}
	redirectBack(w, r, pc.path("groups"), "Your request has been sent to the group moderators.")
}
