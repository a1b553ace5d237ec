package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"

	"golang.org/x/crypto/bcrypt"
)

func TestAccountSettings(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "alice", models.GroupRegular)
	other := createMember(t, app, "bob", models.GroupRegular)
	client := newClient(t, app, server, member)
	accountPath := fmt.Sprintf("%s/profile/%d/account", server.URL, member.ID)

	resp, body := getPage(t, client, accountPath)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "alice@example.com") {
		t.Fatalf("Expected the account form, got %d", resp.StatusCode)
	}

	t.Run("Invalid email", func(t *testing.T) {
		resp := postForm(t, client, accountPath, url.Values{"display_name": {"Alice"}, "email": {"not-an-email"}})
		expectRedirect(t, resp, "Please enter a valid email address.")
	})

	t.Run("Duplicate email", func(t *testing.T) {
		resp := postForm(t, client, accountPath, url.Values{"display_name": {"Alice"}, "email": {other.Email}})
		expectRedirect(t, resp, "That email address is already in use.")
	})

	t.Run("Wrong current password", func(t *testing.T) {
		resp := postForm(t, client, accountPath, url.Values{
			"display_name":     {"Alice"},
			"email":            {member.Email},
			"new_password":     {"a-new-password"},
			"confirm_password": {"a-new-password"},
			"current_password": {"wrong"},
		})
		expectRedirect(t, resp, "The current password is incorrect.")
	})

	t.Run("Save display name, email and password", func(t *testing.T) {
		resp := postForm(t, client, accountPath, url.Values{
			"display_name":     {"Alice Liddell"},
			"email":            {"alice@wonderland.example"},
			"new_password":     {"a-new-password"},
			"confirm_password": {"a-new-password"},
			"current_password": {"password123"},
		})
		expectRedirect(t, resp, "Your changes have been saved.")

		m, err := app.db.GetMember(ctx, member.ID)
		if err != nil {
			t.Fatal(err)
		}
		if m.DisplayName != "Alice Liddell" || m.Email != "alice@wonderland.example" {
			t.Errorf("Unexpected account values: %q %q", m.DisplayName, m.Email)
		}
		if bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte("a-new-password")) != nil {
			t.Error("Expected the new password to be stored")
		}
	})

	t.Run("Group change is ignored for non-admins", func(t *testing.T) {
		resp := postForm(t, client, accountPath, url.Values{
			"display_name": {"Alice Liddell"},
			"email":        {"alice@wonderland.example"},
			"id_group":     {strconv.FormatInt(models.GroupAdmin, 10)},
		})
		expectRedirect(t, resp, "Your changes have been saved.")
		m, _ := app.db.GetMember(ctx, member.ID)
		if m.GroupID != models.GroupRegular {
			t.Errorf("Expected group to stay regular, got %d", m.GroupID)
		}
	})

	t.Run("Other members cannot edit the account", func(t *testing.T) {
		resp := postForm(t, newClient(t, app, server, other), accountPath, url.Values{"display_name": {"pwned"}, "email": {"x@example.com"}})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("Admin sees the profile edit log", func(t *testing.T) {
		admin := createMember(t, app, "admin", models.GroupAdmin)
		resp, body := getPage(t, newClient(t, app, server, admin), fmt.Sprintf("%s/profile/%d/tracking?sa=edits", server.URL, member.ID))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "Alice Liddell") {
			t.Error("Expected the display name change in the edit log")
		}
	})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestForumProfile(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "carol", models.GroupRegular)
	client := newClient(t, app, server, member)
	forumPath := fmt.Sprintf("%s/profile/%d/forum", server.URL, member.ID)

	t.Run("Bad website scheme", func(t *testing.T) {
		resp := postForm(t, client, forumPath, url.Values{"website_url": {"javascript:alert(1)"}})
		expectRedirect(t, resp, "Website URL must be an http or https address.")
	})

	t.Run("Signature is sanitized and avatar stored", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("csrf_token", testCSRFToken)
		mw.WriteField("signature", `<b>Hi</b><script>alert(1)</script>`)
		mw.WriteField("personal_text", "Gardener")
		mw.WriteField("website_url", "https://example.com")
		fw, err := mw.CreateFormFile("avatar", "me.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(pngBytes(t, 300, 200))
		mw.Close()

		req, _ := http.NewRequest(http.MethodPost, forumPath, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		expectRedirect(t, resp, "Your changes have been saved.")

		m, err := app.db.GetMember(ctx, member.ID)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(m.Signature, "script") || !strings.Contains(m.Signature, "<b>Hi</b>") {
			t.Errorf("Unexpected signature %q", m.Signature)
		}
		if m.PersonalText != "Gardener" || m.WebsiteURL != "https://example.com" {
			t.Errorf("Unexpected profile fields %q %q", m.PersonalText, m.WebsiteURL)
		}
		if m.Avatar == "" {
			t.Fatal("Expected an avatar path")
		}
		if _, err := os.Stat(filepath.Join(app.storage.Dir, filepath.Base(m.Avatar))); err != nil {
			t.Errorf("Expected the avatar file on disk: %v", err)
		}
	})

	t.Run("Non-image avatar is rejected", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("csrf_token", testCSRFToken)
		fw, _ := mw.CreateFormFile("avatar", "notes.txt")
		fw.Write([]byte("just some text"))
		mw.Close()

		req, _ := http.NewRequest(http.MethodPost, forumPath, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); strings.Contains(loc, "saved") {
			t.Errorf("Expected a rejection message, got %q", loc)
		}
	})

	t.Run("Remove avatar", func(t *testing.T) {
		before, _ := app.db.GetMember(ctx, member.ID)
		resp := postForm(t, client, forumPath, url.Values{"remove_avatar": {"1"}, "signature": {before.Signature}})
		expectRedirect(t, resp, "Your changes have been saved.")
		m, _ := app.db.GetMember(ctx, member.ID)
		if m.Avatar != "" {
			t.Errorf("Expected avatar to be cleared, got %q", m.Avatar)
		}
		if _, err := os.Stat(filepath.Join(app.storage.Dir, filepath.Base(before.Avatar))); !os.IsNotExist(err) {
			t.Error("Expected the old avatar file to be removed")
		}
	})
}

func TestThemeAndNotifications(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "dave", models.GroupRegular)
	client := newClient(t, app, server, member)
	base := fmt.Sprintf("%s/profile/%d", server.URL, member.ID)

	t.Run("Theme offset bounds", func(t *testing.T) {
		resp := postForm(t, client, base+"/theme", url.Values{"time_offset": {"30"}})
		expectRedirect(t, resp, "Time offset must be a number of hours")
		resp = postForm(t, client, base+"/theme", url.Values{"time_offset": {"-5.5"}, "time_format": {"%Y-%m-%d"}, "id_theme": {"0"}})
		expectRedirect(t, resp, "Your changes have been saved.")
		m, _ := app.db.GetMember(ctx, member.ID)
		if m.TimeOffset != -5.5 || m.TimeFormat != "%Y-%m-%d" {
			t.Errorf("Unexpected theme values %v %q", m.TimeOffset, m.TimeFormat)
		}
	})

	t.Run("Notification checkboxes", func(t *testing.T) {
		resp := postForm(t, client, base+"/notifications", url.Values{
			"msg_quote_alert":      {"1"},
			"pm_new_email":         {"1"},
			"notify_regularity":    {strconv.Itoa(models.RegularityDaily)},
			"notify_announcements": {"1"},
		})
		expectRedirect(t, resp, "Your notification settings have been saved.")

		prefs, err := app.db.GetAlertPrefs(ctx, member.ID)
		if err != nil {
			t.Fatal(err)
		}
		if prefs["msg_quote"] != models.NotifyAlert {
			t.Errorf("Expected msg_quote alert only, got %d", prefs["msg_quote"])
		}
		if prefs["pm_new"] != models.NotifyEmail {
			t.Errorf("Expected pm_new email only, got %d", prefs["pm_new"])
		}
		if prefs["msg_mention"] != 0 {
			t.Errorf("Expected msg_mention off, got %d", prefs["msg_mention"])
		}
		m, _ := app.db.GetMember(ctx, member.ID)
		if m.NotifyRegularity != models.RegularityDaily || !m.NotifyAnnouncements {
			t.Errorf("Unexpected delivery options %d %v", m.NotifyRegularity, m.NotifyAnnouncements)
		}
	})

	t.Run("Raw preference values", func(t *testing.T) {
		resp := postForm(t, client, base+"/notifications", url.Values{"pref_warn_any": {"3"}})
		expectRedirect(t, resp, "Your notification settings have been saved.")
		prefs, _ := app.db.GetAlertPrefs(ctx, member.ID)
		if prefs["warn_any"] != models.NotifyAlert|models.NotifyEmail {
			t.Errorf("Expected warn_any=3, got %d", prefs["warn_any"])
		}
	})

	t.Run("Unknown alert type is rejected", func(t *testing.T) {
		resp := postForm(t, client, base+"/notifications", url.Values{"pref_no_such_alert": {"1"}})
		expectRedirect(t, resp, "Invalid notification settings")
	})
}

func TestBuddyList(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "erin", models.GroupRegular)
	friend := createMember(t, app, "frank", models.GroupRegular)
	client := newClient(t, app, server, member)
	base := fmt.Sprintf("%s/profile/%d/lists", server.URL, member.ID)

	resp := postForm(t, client, base+"/add", url.Values{"sa": {"buddies"}, "names": {"frank, nobody, erin"}})
	loc := expectRedirect(t, resp, "1 member(s) added.")
	if !strings.Contains(loc, "Not found: nobody.") || !strings.Contains(loc, "Skipped: erin.") {
		t.Errorf("Expected not found and skipped notes, got %q", loc)
	}

	entries, err := app.db.GetList(ctx, member.ID, database.ListBuddies, time.Minute)
	if err != nil || len(entries) != 1 || entries[0].MemberID != friend.ID {
		t.Fatalf("Expected frank on the buddy list, got %+v (err %v)", entries, err)
	}

	_, body := getPage(t, client, base+"?sa=buddies")
	if !strings.Contains(body, "frank") {
		t.Error("Expected frank on the list page")
	}

	resp = postForm(t, client, base+"/remove", url.Values{"sa": {"buddies"}, "member_id": {strconv.FormatInt(friend.ID, 10)}})
	expectRedirect(t, resp, "Member removed.")
	resp = postForm(t, client, base+"/remove", url.Values{"sa": {"buddies"}, "member_id": {strconv.FormatInt(friend.ID, 10)}})
	expectRedirect(t, resp, "That member is not on the list.")

	t.Run("Lists are owner only", func(t *testing.T) {
		resp, _ := getPage(t, newClient(t, app, server, friend), base)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestTwoFactorAndLogin(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "grace", models.GroupRegular)
	client := newClient(t, app, server, member)
	tfaPath := fmt.Sprintf("%s/profile/%d/tfa", server.URL, member.ID)

	resp, body := getPage(t, client, tfaPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	secret, ok := app.pendingSecrets.Get(member.ID)
	if !ok || !strings.Contains(body, secret) {
		t.Fatal("Expected a pending secret shown on the setup page")
	}

	resp = postForm(t, client, tfaPath, url.Values{"code": {"000000"}})
	expectRedirect(t, resp, "The code is not valid.")
	if _, ok := app.pendingSecrets.Get(member.ID); !ok {
		t.Fatal("Expected the pending secret to survive a wrong code")
	}

	code, err := auth.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	resp = postForm(t, client, tfaPath, url.Values{"code": {code}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 after enabling, got %d", resp.StatusCode)
	}
	m, _ := app.db.GetMember(ctx, member.ID)
	if !m.TFAEnabled() || m.TFABackup == "" {
		t.Fatal("Expected two-factor to be enabled with a backup code")
	}

	login := func(values url.Values) *http.Response {
		t.Helper()
		return postForm(t, newClient(t, app, server, nil), server.URL+"/login", values)
	}
	sessionCookie := func(resp *http.Response) string {
		for _, c := range resp.Cookies() {
			if c.Name == config.SessionCookieName {
				return c.Value
			}
		}
		return ""
	}

	t.Run("Wrong password", func(t *testing.T) {
		resp := login(url.Values{"user": {"grace"}, "password": {"nope"}})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("Password alone asks for a code", func(t *testing.T) {
		resp := login(url.Values{"user": {"grace"}, "password": {"password123"}})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if sessionCookie(resp) != "" {
			t.Error("No session should be issued before the code")
		}
	})

	t.Run("Password and code log in", func(t *testing.T) {
		code, _ := auth.GenerateCode(secret, time.Now())
		resp := login(url.Values{"user": {"grace"}, "password": {"password123"}, "tfa_code": {code}, "next": {"/profile/1"}})
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", resp.StatusCode)
		}
		token := sessionCookie(resp)
		if token == "" {
			t.Fatal("Expected a session cookie")
		}
		if got, err := app.db.GetSessionMember(ctx, token); err != nil || got.ID != member.ID {
			t.Errorf("Expected session for grace, got %v (err %v)", got, err)
		}
		logins, total, _ := app.db.ListLogins(ctx, member.ID, 1, 10)
		if total != 1 || len(logins) != 1 {
			t.Errorf("Expected one recorded login, got %d", total)
		}
	})

	t.Run("Disable needs the password", func(t *testing.T) {
		resp := postForm(t, client, tfaPath+"/disable", url.Values{"password": {"wrong"}})
		expectRedirect(t, resp, "The password is incorrect.")
		resp = postForm(t, client, tfaPath+"/disable", url.Values{"password": {"password123"}})
		expectRedirect(t, resp, "Two-factor authentication has been disabled.")
		m, _ := app.db.GetMember(ctx, member.ID)
		if m.TFAEnabled() {
			t.Error("Expected two-factor to be disabled")
		}
	})

	t.Run("Logout ends the session", func(t *testing.T) {
		token, err := app.db.CreateSession(ctx, member.ID, "127.0.0.1", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		c := newClient(t, app, server, nil)
		u, _ := url.Parse(server.URL)
		c.Jar.SetCookies(u, []*http.Cookie{{Name: config.SessionCookieName, Value: token, Path: "/"}})
		resp := postForm(t, c, server.URL+"/logout", nil)
		expectRedirect(t, resp, "/login")
		if _, err := app.db.GetSessionMember(ctx, token); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected session to be gone, got %v", err)
		}
	})
}

func TestProfileExport(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "heidi", models.GroupRegular)
	createMessage(t, app, member.ID, "My first topic", true)
	client := newClient(t, app, server, member)
	exportPath := fmt.Sprintf("%s/profile/%d/export", server.URL, member.ID)

	resp := postForm(t, client, exportPath, url.Values{"format": {"pdf"}, "datatypes": {"profile"}})
	expectRedirect(t, resp, "Unknown export format.")

	resp = postForm(t, client, exportPath, url.Values{"format": {"csv"}})
	expectRedirect(t, resp, "Select at least one kind of data to export.")

	resp = postForm(t, client, exportPath, url.Values{"format": {"csv"}, "datatypes": {"profile", "posts"}})
	loc := expectRedirect(t, resp, "Your export has been queued.")
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatal(err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("Expected a token in %q", loc)
	}

	exports, err := app.db.ListExports(ctx, member.ID)
	if err != nil || len(exports) != 1 {
		t.Fatalf("Expected one export, got %d (err %v)", len(exports), err)
	}
	downloadPath := fmt.Sprintf("%s/profile/%d/export/%s/download", server.URL, member.ID, token)

	t.Run("Download before completion conflicts", func(t *testing.T) {
		resp, _ := getPage(t, client, downloadPath)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected 409, got %d", resp.StatusCode)
		}
	})

	if err := app.exports.Process(ctx, exports[0].ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	t.Run("Download the finished file", func(t *testing.T) {
		resp, body := getPage(t, client, downloadPath)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
			t.Error("Expected an attachment download")
		}
		if !strings.Contains(body, "My first topic") {
			t.Error("Expected posts in the export")
		}
	})

	t.Run("Wrong token is not found", func(t *testing.T) {
		resp, _ := getPage(t, client, fmt.Sprintf("%s/profile/%d/export/%s/download", server.URL, member.ID, "bogus"))
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		resp := postForm(t, client, exportPath+"/delete", url.Values{"export_id": {strconv.FormatInt(exports[0].ID, 10)}})
		expectRedirect(t, resp, "Export deleted.")
		if list, _ := app.db.ListExports(ctx, member.ID); len(list) != 0 {
			t.Errorf("Expected no exports, got %d", len(list))
		}
	})
}

func TestDeleteAccount(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	member := createMember(t, app, "ivan", models.GroupRegular)
	admin := createMember(t, app, "admin", models.GroupAdmin)

	t.Run("Admin cannot delete themselves", func(t *testing.T) {
		resp := postForm(t, newClient(t, app, server, admin), fmt.Sprintf("%s/profile/%d/delete", server.URL, admin.ID), url.Values{"password": {"password123"}})
		expectRedirect(t, resp, "Administrators cannot delete their own account.")
	})

	client := newClient(t, app, server, member)
	deletePath := fmt.Sprintf("%s/profile/%d/delete", server.URL, member.ID)

	resp := postForm(t, client, deletePath, url.Values{"password": {"wrong"}})
	expectRedirect(t, resp, "The password is incorrect.")

	resp = postForm(t, client, deletePath, url.Values{"password": {"password123"}})
	expectRedirect(t, resp, "/login?msg=Your account has been deleted.")
	if _, err := app.db.GetMember(ctx, member.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected member to be deleted, got %v", err)
	}
}

func TestAdminAccountProtection(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	if _, err := app.db.DB.Exec("INSERT INTO permissions (id_group, permission) VALUES (?, 'profile_identity_any'), (?, 'profile_remove_any')",
		models.GroupGlobalMod, models.GroupGlobalMod); err != nil {
		t.Fatalf("Failed to grant permissions: %v", err)
	}
	mod := createMember(t, app, "gmod", models.GroupGlobalMod)
	admin := createMember(t, app, "admin", models.GroupAdmin)
	secondary := createMember(t, app, "quiet_admin", models.GroupRegular)
	if err := app.db.SetAdditionalGroups(ctx, secondary.ID, []int64{models.GroupAdmin}); err != nil {
		t.Fatalf("SetAdditionalGroups failed: %v", err)
	}
	regular := createMember(t, app, "regular", models.GroupRegular)
	modClient := newClient(t, app, server, mod)

	for _, target := range []*models.Member{admin, secondary} {
		t.Run("Edit "+target.Name, func(t *testing.T) {
			resp := postForm(t, modClient, fmt.Sprintf("%s/profile/%d/account", server.URL, target.ID), url.Values{
				"display_name":     {"Hijacked"},
				"email":            {"attacker@example.com"},
				"new_password":     {"attacker-password"},
				"confirm_password": {"attacker-password"},
			})
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("Expected 403, got %d", resp.StatusCode)
			}
			m, _ := app.db.GetMember(ctx, target.ID)
			if m.Email != target.Email || m.PasswordHash != target.PasswordHash {
				t.Error("Administrator account was modified by a non-admin")
			}
		})

		t.Run("Delete "+target.Name, func(t *testing.T) {
			resp := postForm(t, modClient, fmt.Sprintf("%s/profile/%d/delete", server.URL, target.ID), nil)
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("Expected 403, got %d", resp.StatusCode)
			}
			if _, err := app.db.GetMember(ctx, target.ID); err != nil {
				t.Errorf("Expected administrator to survive, got %v", err)
			}
		})
	}

	t.Run("Admin in an additional group cannot delete themselves", func(t *testing.T) {
		resp := postForm(t, newClient(t, app, server, secondary), fmt.Sprintf("%s/profile/%d/delete", server.URL, secondary.ID), url.Values{"password": {"password123"}})
		expectRedirect(t, resp, "Administrators cannot delete their own account.")
	})

	t.Run("Moderator can still edit regular members", func(t *testing.T) {
		resp := postForm(t, modClient, fmt.Sprintf("%s/profile/%d/account", server.URL, regular.ID), url.Values{
			"display_name": {"O'Brien & Sons"},
			"email":        {regular.Email},
		})
		expectRedirect(t, resp, "Your changes have been saved.")
		m, _ := app.db.GetMember(ctx, regular.ID)
		if m.DisplayName != "O'Brien & Sons" {
			t.Errorf("Expected display name stored as typed, got %q", m.DisplayName)
		}
		_, body := getPage(t, modClient, fmt.Sprintf("%s/profile/%d", server.URL, regular.ID))
		if strings.Contains(body, "&amp;#39;") || strings.Contains(body, "&amp;amp;") {
			t.Error("Display name was escaped twice")
		}
	})
}
