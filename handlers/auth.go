// forumd/handlers/auth.go
package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/utils"

	"golang.org/x/crypto/bcrypt"
)

// localPath returns p when it is a path on this site, otherwise fallback.
func localPath(p, fallback string) string {
	if p == "" || p[0] != '/' || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return fallback
	}
	return p
}

func renderLogin(w http.ResponseWriter, r *http.Request, app App, status int, data map[string]interface{}) {
	data["Title"] = "Login"
	if _, ok := data["Next"]; !ok {
		data["Next"] = localPath(r.FormValue("next"), "/mod")
	}
	renderStatus(w, r, app, status, "layout.html", "login.html", data)
}

// HandleLogin shows the login form and signs members in. Members with
// two-factor login must also send a current code or their backup code.
func HandleLogin(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLogin")
	if r.Method != http.MethodPost {
		renderLogin(w, r, app, http.StatusOK, map[string]interface{}{})
		return
	}

	ip := utils.GetIPAddress(r)
	if !app.LoginLimiter().Allow("login:" + ip) {
		logger.Warn("Login rate limit exceeded", "ip", ip)
		renderLogin(w, r, app, http.StatusTooManyRequests, map[string]interface{}{"Error": "Too many login attempts. Please wait a moment."})
		return
	}

	login := strings.TrimSpace(r.FormValue("user"))
	password := r.FormValue("password")
	member, err := app.DB().GetMemberByLogin(r.Context(), login)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.Error("Failed to load member for login", "error", err)
		renderError(w, r, app, http.StatusInternalServerError, "Failed to process login")
		return
	}
	if member == nil || !checkPassword(member, password) {
		logger.Info("Failed login attempt", "login", login, "ip", ip)
		renderLogin(w, r, app, http.StatusUnauthorized, map[string]interface{}{"Error": "Incorrect username or password.", "User": login})
		return
	}

	if member.TFAEnabled() {
		code := r.FormValue("tfa_code")
		backup := strings.TrimSpace(r.FormValue("backup_code"))
		switch {
		case code != "" && auth.ValidateCode(code, member.TFASecret, time.Now()):
		case backup != "" && bcrypt.CompareHashAndPassword([]byte(member.TFABackup), []byte(backup)) == nil:
			// The backup code is single use and turns two-factor login off.
			if err := app.DB().UpdateTFA(r.Context(), member.ID, "", ""); err != nil {
				logger.Error("Failed to clear two-factor after backup code", "member_id", member.ID, "error", err)
				renderError(w, r, app, http.StatusInternalServerError, "Failed to process login")
				return
			}
			logger.Info("Backup code used, two-factor disabled", "member_id", member.ID)
		default:
			data := map[string]interface{}{"NeedTFA": true, "User": login}
			status := http.StatusOK
			if code != "" || backup != "" {
				data["Error"] = "The verification code is not valid."
				status = http.StatusUnauthorized
			}
			renderLogin(w, r, app, status, data)
			return
		}
	}

	lifetime, _ := time.ParseDuration(config.SessionLifetime)
	token, err := app.DB().CreateSession(r.Context(), member.ID, ip, lifetime)
	if err != nil {
		logger.Error("Failed to create session", "member_id", member.ID, "error", err)
		renderError(w, r, app, http.StatusInternalServerError, "Failed to process login")
		return
	}
	remote, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		remote = r.RemoteAddr
	}
	if err := app.DB().RecordLogin(r.Context(), member.ID, ip, remote); err != nil {
		logger.Error("Failed to record login", "member_id", member.ID, "error", err)
	}
	setSessionCookie(w, r, token, lifetime)
	logger.Info("Member logged in", "member_id", member.ID, "ip", ip)
	http.Redirect(w, r, localPath(r.FormValue("next"), "/mod"), http.StatusSeeOther)
}

// HandleLogout ends the current session.
func HandleLogout(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLogout")
	if cookie, err := r.Cookie(config.SessionCookieName); err == nil && cookie.Value != "" {
		if err := app.DB().DeleteSession(r.Context(), cookie.Value); err != nil {
			logger.Error("Failed to delete session", "error", err)
		}
	}
	clearSessionCookie(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
