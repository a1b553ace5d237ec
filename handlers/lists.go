// forumd/handlers/lists.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forumd/config"
	"forumd/database"
	"forumd/models"

	"github.com/samber/lo"
)

func listKind(sa string) string {
	if sa == database.ListIgnore {
		return database.ListIgnore
	}
	return database.ListBuddies
}

// HandleLists shows the owner's buddy list (sa=buddies) or ignore list (sa=ignore).
func HandleLists(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLists")
	pc, ok := loadProfile(w, r, app, "lists", r.URL.Query().Get("sa"))
	if !ok {
		return
	}
	kind := listKind(pc.Menu.CurrentSA)
	window, _ := time.ParseDuration(config.OnlineWindow)
	entries, err := app.DB().GetList(r.Context(), pc.Member.ID, kind, window)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load list")
		return
	}
	title := "Buddies"
	if kind == database.ListIgnore {
		title = "Ignore List"
	}
	data := pc.data(title)
	data["Entries"] = entries
	data["Kind"] = kind
	render(w, r, app, "layout.html", "profile_lists.html", data)
}

// HandleAddToList adds members by name. Unknown names, the owner and members
// already on the list are skipped and reported back.
func HandleAddToList(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAddToList")
	kind := listKind(r.FormValue("sa"))
	pc, ok := loadProfile(w, r, app, "lists", kind)
	if !ok {
		return
	}
	back := pc.path("lists") + "?sa=" + kind

	names := lo.Uniq(lo.Compact(lo.Map(strings.Split(r.FormValue("names"), ","), func(n string, _ int) string {
		return strings.TrimSpace(n)
	})))
	if len(names) == 0 {
		redirectBack(w, r, back, "Enter at least one member name.")
		return
	}
	refs, missing, err := app.DB().FindMembersByName(r.Context(), names)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to look up members")
		return
	}
	ids := lo.Map(refs, func(ref models.MemberRef, _ int) int64 { return ref.ID })
	added, err := app.DB().AddToList(r.Context(), pc.Member.ID, kind, ids)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to update list")
		return
	}

	var notes []string
	if len(added) > 0 {
		notes = append(notes, fmt.Sprintf("%d member(s) added.", len(added)))
	}
	if len(missing) > 0 {
		notes = append(notes, "Not found: "+strings.Join(missing, ", ")+".")
	}
	skipped := lo.Filter(refs, func(ref models.MemberRef, _ int) bool {
		return !lo.Contains(added, ref.ID)
	})
	if len(skipped) > 0 {
		notes = append(notes, "Skipped: "+strings.Join(lo.Map(skipped, func(ref models.MemberRef, _ int) string {
			return ref.Name
		}), ", ")+".")
	}
	logger.Info("List updated", "member_id", pc.Member.ID, "list", kind, "added", len(added))
	redirectBack(w, r, back, strings.Join(notes, " "))
}

// HandleRemoveFromList removes one member from the list.
func HandleRemoveFromList(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleRemoveFromList")
	kind := listKind(r.FormValue("sa"))
	pc, ok := loadProfile(w, r, app, "lists", kind)
	if !ok {
		return
	}
	back := pc.path("lists") + "?sa=" + kind
	other, err := strconv.ParseInt(r.FormValue("member_id"), 10, 64)
	if err != nil {
		redirectBack(w, r, back, "Invalid member.")
		return
	}
	err = app.DB().RemoveFromList(r.Context(), pc.Member.ID, kind, other)
	if errors.Is(err, database.ErrNotFound) {
		redirectBack(w, r, back, "That member is not on the list.")
		return
	}
	if err != nil {
		fail(w, r, app, logger, err, "Failed to update list")
		return
	}
	redirectBack(w, r, back, "Member removed.")
}
