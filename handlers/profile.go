// forumd/handlers/profile.go
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// changeSet collects the columns a profile form actually modified.
type changeSet []database.ProfileChange

func (c *changeSet) text(column, old, new string) {
	if old != new {
		*c = append(*c, database.ProfileChange{Column: column, Old: old, New: new, Value: new})
	}
}

// HandleProfileSummary shows the public summary of a member.
func HandleProfileSummary(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleProfileSummary")
	pc, ok := loadProfile(w, r, app, "summary", "")
	if !ok {
		return
	}
	recent, err := app.DB().MemberMessages(r.Context(), pc.Member.ID, 5)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load recent messages")
		return
	}
	var group *models.MemberGroup
	for _, g := range getGroupList(app, r) {
		if g.ID == pc.Member.GroupID {
			g := g
			group = &g
			break
		}
	}
	data := pc.data("Summary")
	data["Recent"] = recent
	data["Group"] = group
	if app.Settings().Warnings.Enabled && pc.Member.Warning > 0 {
		data["WarningStatus"] = app.Settings().WarningStatus(pc.Member.Warning)
	}
	render(w, r, app, "layout.html", "profile_summary.html", data)
}

// checkPassword compares a plain password with the member's bcrypt hash.
func checkPassword(m *models.Member, password string) bool {
	return password != "" && bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)) == nil
}

// HandleAccountSettings edits display name, email, password and primary group.
func HandleAccountSettings(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAccountSettings")
	pc, ok := loadProfile(w, r, app, "account", "")
	if !ok {
		return
	}
	perms := currentPerms(r)
	isAdmin := perms.AllowedTo(auth.AdminForum)
	if !pc.IsOwner && pc.Member.IsAdmin() && !isAdmin {
		forbid(w, r, app)
		return
	}

	if r.Method != http.MethodPost {
		data := pc.data("Account Settings")
		data["CanChangeGroup"] = isAdmin
		data["Groups"] = getGroupList(app, r)
		data["MinPasswordLen"] = config.MinPasswordLen
		render(w, r, app, "layout.html", "profile_account.html", data)
		return
	}

	back := pc.path("account")
	m := pc.Member
	var changes changeSet

	name := strings.TrimSpace(utils.StripTags(r.FormValue("display_name")))
	if name == "" || len(name) > config.MaxDisplayNameLen {
		redirectBack(w, r, back, fmt.Sprintf("Display name must be between 1 and %d characters.", config.MaxDisplayNameLen))
		return
	}
	changes.text("display_name", m.DisplayName, name)

	email := strings.TrimSpace(r.FormValue("email"))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		redirectBack(w, r, back, "Please enter a valid email address.")
		return
	}
	changes.text("email", m.Email, email)

	if pw := r.FormValue("new_password"); pw != "" {
		// Changing one's own password needs the current one, even for admins.
		if pc.IsOwner && !checkPassword(m, r.FormValue("current_password")) {
			redirectBack(w, r, back, "The current password is incorrect.")
			return
		}
		if len(pw) < config.MinPasswordLen {
			redirectBack(w, r, back, fmt.Sprintf("Passwords must be at least %d characters long.", config.MinPasswordLen))
			return
		}
		if pw != r.FormValue("confirm_password") {
			redirectBack(w, r, back, "The two passwords do not match.")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("Failed to hash new password", "member_id", m.ID, "error", err)
			renderError(w, r, app, http.StatusInternalServerError, "Failed to process new password")
			return
		}
		changes = append(changes, database.ProfileChange{Column: "passwd", Value: string(hash), Secret: true})
	}

	if raw := r.FormValue("id_group"); raw != "" && isAdmin {
		gid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			redirectBack(w, r, back, "Invalid membergroup.")
			return
		}
		if gid != m.GroupID {
			if _, err := app.DB().GetGroup(r.Context(), gid); err != nil {
				fail(w, r, app, logger, err, "Failed to load membergroup")
				return
			}
			changes = append(changes, database.ProfileChange{
				Column: "id_group", Old: strconv.FormatInt(m.GroupID, 10), New: raw, Value: gid,
			})
		}
	}

	actorID, _ := actor(r)
	err := app.DB().UpdateProfile(r.Context(), m.ID, changes, actorID, utils.GetIPAddress(r))
	if errors.Is(err, database.ErrAlreadyExists) {
		redirectBack(w, r, back, "That email address is already in use.")
		return
	}
	if err != nil {
		fail(w, r, app, logger, err, "Failed to update account")
		return
	}
	logger.Info("Account updated", "member_id", m.ID, "actor_id", actorID, "changes", len(changes))
	redirectBack(w, r, back, "Your changes have been saved.")
}

// HandleForumProfile edits signature, personal text, website and avatar.
func HandleForumProfile(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleForumProfile")
	pc, ok := loadProfile(w, r, app, "forumprofile", "")
	if !ok {
		return
	}
	settings := app.Settings()

	if r.Method != http.MethodPost {
		data := pc.data("Forum Profile")
		data["MaxSignatureLen"] = config.MaxSignatureLen
		data["MaxPersonalTextLen"] = config.MaxPersonalTextLen
		data["Avatars"] = settings.Avatars
		render(w, r, app, "layout.html", "profile_forum.html", data)
		return
	}

	back := pc.path("forum")
	if err := r.ParseMultipartForm(settings.Avatars.MaxBytes + 1024); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Warn("Form parsing error", "error", err)
		redirectBack(w, r, back, "Form parsing error: "+err.Error())
		return
	}
	m := pc.Member
	var changes changeSet

	sig := utils.SanitizeSignature(r.FormValue("signature"))
	if len(sig) > config.MaxSignatureLen {
		redirectBack(w, r, back, fmt.Sprintf("Signatures are limited to %d characters.", config.MaxSignatureLen))
		return
	}
	changes.text("signature", m.Signature, sig)

	personal := strings.TrimSpace(utils.StripTags(r.FormValue("personal_text")))
	if len(personal) > config.MaxPersonalTextLen {
		redirectBack(w, r, back, fmt.Sprintf("Personal text is limited to %d characters.", config.MaxPersonalTextLen))
		return
	}
	changes.text("personal_text", m.PersonalText, personal)

	changes.text("website_title", m.WebsiteTitle, utils.Truncate(strings.TrimSpace(utils.StripTags(r.FormValue("website_title"))), config.MaxWebsiteURLLen))
	site := strings.TrimSpace(r.FormValue("website_url"))
	if site != "" {
		u, err := url.Parse(site)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || len(site) > config.MaxWebsiteURLLen {
			redirectBack(w, r, back, "Website URL must be an http or https address.")
			return
		}
	}
	changes.text("website_url", m.WebsiteURL, site)

	var oldAvatar string
	if r.FormValue("remove_avatar") != "" && m.Avatar != "" {
		oldAvatar = m.Avatar
		changes.text("avatar", m.Avatar, "")
	} else {
		path, err := saveAvatar(r, app, m.ID)
		if err != nil {
			logger.Warn("Avatar upload rejected", "member_id", m.ID, "error", err)
			redirectBack(w, r, back, err.Error())
			return
		}
		if path != "" {
			oldAvatar = m.Avatar
			changes.text("avatar", m.Avatar, path)
		}
	}

	actorID, _ := actor(r)
	if err := app.DB().UpdateProfile(r.Context(), m.ID, changes, actorID, utils.GetIPAddress(r)); err != nil {
		fail(w, r, app, logger, err, "Failed to update forum profile")
		return
	}
	removeStoredFiles(r.Context(), app, logger, []string{oldAvatar})
	redirectBack(w, r, back, "Your changes have been saved.")
}

// saveAvatar resizes the uploaded "avatar" file and stores it. An empty path
// means no file was sent.
func saveAvatar(r *http.Request, app App, memberID int64) (string, error) {
	file, _, err := r.FormFile("avatar")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", fmt.Errorf("could not read avatar upload: %w", err)
	}
	defer file.Close()

	limits := app.Settings().Avatars
	limited := &io.LimitedReader{R: file, N: limits.MaxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("could not read avatar upload: %w", err)
	}
	if limited.N == 0 {
		return "", fmt.Errorf("avatar is larger than the %dKB limit", limits.MaxBytes/1024)
	}
	if len(data) == 0 {
		return "", nil
	}
	switch http.DetectContentType(data) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return "", fmt.Errorf("unsupported avatar type, only JPG, PNG, GIF and WebP are allowed")
	}
	thumb, err := utils.ResizeAvatar(data, limits.Width, limits.Height)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("avatars/%d_%s.jpg", memberID, uuid.NewString()[:8])
	path, err := app.Storage().SaveFile(r.Context(), name, thumb, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("failed to store avatar: %w", err)
	}
	return path, nil
}

// HandleThemeSettings edits time format, time offset and theme.
func HandleThemeSettings(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleThemeSettings")
	pc, ok := loadProfile(w, r, app, "theme", "")
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		render(w, r, app, "layout.html", "profile_theme.html", pc.data("Look and Layout"))
		return
	}

	back := pc.path("theme")
	m := pc.Member
	var changes changeSet
	changes.text("time_format", m.TimeFormat, utils.Truncate(strings.TrimSpace(utils.StripTags(r.FormValue("time_format"))), 80))

	offset, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("time_offset")), 64)
	if err != nil || offset < -23.5 || offset > 23.5 {
		redirectBack(w, r, back, "Time offset must be a number of hours between -23.5 and 23.5.")
		return
	}
	if offset != m.TimeOffset {
		changes = append(changes, database.ProfileChange{
			Column: "time_offset", Value: offset,
			Old: strconv.FormatFloat(m.TimeOffset, 'f', -1, 64), New: strconv.FormatFloat(offset, 'f', -1, 64),
		})
	}
	theme, err := strconv.Atoi(r.FormValue("id_theme"))
	if err != nil || theme < 0 {
		redirectBack(w, r, back, "Invalid theme.")
		return
	}
	if theme != m.ThemeID {
		changes = append(changes, database.ProfileChange{
			Column: "id_theme", Value: theme, Old: strconv.Itoa(m.ThemeID), New: strconv.Itoa(theme),
		})
	}

	actorID, _ := actor(r)
	if err := app.DB().UpdateProfile(r.Context(), m.ID, changes, actorID, utils.GetIPAddress(r)); err != nil {
		fail(w, r, app, logger, err, "Failed to update layout settings")
		return
	}
	redirectBack(w, r, back, "Your changes have been saved.")
}

// HandleDeleteAccount removes a member account. Members deleting themselves
// must confirm with their password.
func HandleDeleteAccount(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteAccount")
	pc, ok := loadProfile(w, r, app, "deleteaccount", "")
	if !ok {
		return
	}
	perms := currentPerms(r)
	canRemovePosts := perms.AllowedTo(auth.RemoveAny)
	if !pc.IsOwner && pc.Member.IsAdmin() && !perms.AllowedTo(auth.AdminForum) {
		forbid(w, r, app)
		return
	}

	if r.Method != http.MethodPost {
		data := pc.data("Delete Account")
		data["CanRemovePosts"] = canRemovePosts
		render(w, r, app, "layout.html", "profile_delete.html", data)
		return
	}

	m := pc.Member
	if pc.IsOwner && !checkPassword(m, r.FormValue("password")) {
		redirectBack(w, r, pc.path("delete"), "The password is incorrect.")
		return
	}
	if m.IsAdmin() && pc.IsOwner {
		redirectBack(w, r, pc.path("delete"), "Administrators cannot delete their own account.")
		return
	}
	removePosts := canRemovePosts && r.FormValue("remove_posts") != ""

	actorID, _ := actor(r)
	deleted, files, err := app.DB().DeleteMember(r.Context(), m.ID, removePosts, actorID, utils.GetIPAddress(r))
	if err != nil {
		fail(w, r, app, logger, err, "Failed to delete account")
		return
	}
	removeStoredFiles(r.Context(), app, logger, append(files, deleted.Avatar))
	logger.Info("Member deleted", "member_id", m.ID, "actor_id", actorID, "remove_posts", removePosts)

	if pc.IsOwner {
		clearSessionCookie(w, r)
		http.Redirect(w, r, "/login?msg="+url.QueryEscape("Your account has been deleted."), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/mod?msg="+url.QueryEscape(fmt.Sprintf("%s has been deleted.", displayName(deleted))), http.StatusSeeOther)
}
