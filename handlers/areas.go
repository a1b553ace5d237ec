package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"forumd/menu"
	"forumd/models"
)

// modMenu builds the moderation center menu for the request and checks that
// area is open to the member.
func modMenu(w http.ResponseWriter, r *http.Request, app App, area, sa string) (*menu.Menu, bool) {
	if currentMember(r) == nil {
		http.Redirect(w, r, "/login?next="+r.URL.Path, http.StatusSeeOther)
		return nil, false
	}
	m, err := menu.Build(menu.ModerationAreas(app.Settings()), currentPerms(r), menu.Options{Area: area, Subaction: sa})
	if err != nil || !m.Allowed(area) {
		forbid(w, r, app)
		return nil, false
	}
	return m, true
}

// modData starts the template data for a moderation center page.
func modData(m *menu.Menu, title string) map[string]interface{} {
	return map[string]interface{}{
		"Title": title,
		"Menu":  m,
	}
}

// profileContext is the member being viewed plus the resolved profile menu.
type profileContext struct {
	Member  *models.Member
	IsOwner bool
	Menu    *menu.Menu
}

// loadProfile loads the member named by the {id} URL parameter and checks
// that the current member may open area on it.
func loadProfile(w http.ResponseWriter, r *http.Request, app App, area, sa string) (*profileContext, bool) {
	logger := app.Logger().With("handler", "loadProfile")
	id, ok := urlID(r, "id")
	if !ok {
		renderError(w, r, app, http.StatusNotFound, "Member not found.")
		return nil, false
	}
	member, err := app.DB().GetMember(r.Context(), id)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load profile")
		return nil, false
	}

	viewer := currentMember(r)
	isOwner := viewer != nil && viewer.ID == member.ID
	idStr := strconv.FormatInt(member.ID, 10)
	m, err := menu.Build(menu.ProfileAreas(app.Settings(), isOwner), currentPerms(r), menu.Options{
		Area:      area,
		Subaction: sa,
		Replacer:  strings.NewReplacer("{id}", idStr),
	})
	if err != nil || !m.Allowed(area) {
		if viewer == nil {
			http.Redirect(w, r, "/login?next="+r.URL.Path, http.StatusSeeOther)
			return nil, false
		}
		forbid(w, r, app)
		return nil, false
	}
	return &profileContext{Member: member, IsOwner: isOwner, Menu: m}, true
}

// data starts the template data for a profile page.
func (pc *profileContext) data(title string) map[string]interface{} {
	return map[string]interface{}{
		"Title":   title + " - " + displayName(pc.Member),
		"Menu":    pc.Menu,
		"Profile": pc.Member,
		"IsOwner": pc.IsOwner,
	}
}

// path returns the profile URL for a sub page.
func (pc *profileContext) path(sub string) string {
	p := "/profile/" + strconv.FormatInt(pc.Member.ID, 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}
