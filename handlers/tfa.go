// forumd/handlers/tfa.go
package handlers

import (
	"net/http"
	"time"

	"forumd/auth"

	"golang.org/x/crypto/bcrypt"
)

// HandleTFASetup shows the two-factor status. When it is disabled a pending
// secret is generated; POSTing a valid code for it enables two-factor login
// and reveals a single backup code.
func HandleTFASetup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleTFASetup")
	pc, ok := loadProfile(w, r, app, "tfasetup", "")
	if !ok {
		return
	}
	m := pc.Member
	back := pc.path("tfa")
	issuer := app.Settings().TFA.Issuer
	data := pc.data("Two-Factor Authentication")
	data["Enabled"] = m.TFAEnabled()

	if r.Method == http.MethodPost {
		if m.TFAEnabled() {
			redirectBack(w, r, back, "Two-factor authentication is already enabled.")
			return
		}
		secret, ok := app.PendingSecrets().Take(m.ID)
		if !ok {
			redirectBack(w, r, back, "The setup expired. Scan the new code and try again.")
			return
		}
		if !auth.ValidateCode(r.FormValue("code"), secret, time.Now()) {
			// Keep the secret so the member can retry without rescanning.
			app.PendingSecrets().Put(m.ID, secret)
			redirectBack(w, r, back, "The code is not valid. Check the time on your device and try again.")
			return
		}
		backup, err := auth.NewBackupCode()
		if err != nil {
			logger.Error("Failed to generate backup code", "member_id", m.ID, "error", err)
			renderError(w, r, app, http.StatusInternalServerError, "Failed to enable two-factor authentication")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(backup), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("Failed to hash backup code", "member_id", m.ID, "error", err)
			renderError(w, r, app, http.StatusInternalServerError, "Failed to enable two-factor authentication")
			return
		}
		if err := app.DB().UpdateTFA(r.Context(), m.ID, secret, string(hash)); err != nil {
			fail(w, r, app, logger, err, "Failed to enable two-factor authentication")
			return
		}
		logger.Info("Two-factor authentication enabled", "member_id", m.ID)
		data["Enabled"] = true
		data["BackupCode"] = backup
		render(w, r, app, "layout.html", "profile_tfa.html", data)
		return
	}

	if !m.TFAEnabled() {
		secret, ok := app.PendingSecrets().Get(m.ID)
		if ok {
			data["KeyURL"] = auth.KeyURL(issuer, m.Name, secret)
		} else {
			key, err := auth.GenerateSecret(issuer, m.Name)
			if err != nil {
				logger.Error("Failed to generate two-factor secret", "member_id", m.ID, "error", err)
				renderError(w, r, app, http.StatusInternalServerError, "Failed to start two-factor setup")
				return
			}
			secret = key.Secret()
			app.PendingSecrets().Put(m.ID, secret)
			data["KeyURL"] = key.URL()
		}
		data["Secret"] = secret
	}
	render(w, r, app, "layout.html", "profile_tfa.html", data)
}

// HandleTFADisable turns two-factor login off after checking the password.
func HandleTFADisable(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleTFADisable")
	pc, ok := loadProfile(w, r, app, "tfasetup", "")
	if !ok {
		return
	}
	back := pc.path("tfa")
	if !pc.Member.TFAEnabled() {
		redirectBack(w, r, back, "Two-factor authentication is not enabled.")
		return
	}
	if !checkPassword(pc.Member, r.FormValue("password")) {
		redirectBack(w, r, back, "The password is incorrect.")
		return
	}
	if err := app.DB().UpdateTFA(r.Context(), pc.Member.ID, "", ""); err != nil {
		fail(w, r, app, logger, err, "Failed to disable two-factor authentication")
		return
	}
	logger.Info("Two-factor authentication disabled", "member_id", pc.Member.ID)
	redirectBack(w, r, back, "Two-factor authentication has been disabled.")
}
