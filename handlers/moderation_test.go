package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"forumd/database"
	"forumd/models"
)

func TestModCenterAccess(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)

	regular := createMember(t, app, "regular", models.GroupRegular)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)

	t.Run("Guest is sent to login", func(t *testing.T) {
		resp, _ := getPage(t, newClient(t, app, server, nil), server.URL+"/mod")
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/login") {
			t.Errorf("Expected redirect to login, got %q", loc)
		}
	})

	t.Run("Regular member is forbidden", func(t *testing.T) {
		resp, _ := getPage(t, newClient(t, app, server, regular), server.URL+"/mod")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("Moderator sees the center", func(t *testing.T) {
		resp, body := getPage(t, newClient(t, app, server, mod), server.URL+"/mod")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "Moderation Center") {
			t.Error("Expected the moderation menu on the page")
		}
		if strings.Contains(body, "Administration Log") {
			t.Error("Global moderator should not see the administration log")
		}
	})

	t.Run("POST without CSRF token is rejected", func(t *testing.T) {
		client := newClient(t, app, server, mod)
		resp, err := client.PostForm(server.URL+"/mod/notes", url.Values{"note": {"hi"}})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestModNotes(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	client := newClient(t, app, server, mod)

	note := `Watch the <b>trading</b> board & Bob's "deals"`
	resp := postForm(t, client, server.URL+"/mod/notes", url.Values{"note": {note}})
	expectRedirect(t, resp, "/mod")

	notes, total, err := app.db.ListModNotes(context.Background(), 1, 10)
	if err != nil || total != 1 {
		t.Fatalf("Expected one note, got %d (err %v)", total, err)
	}
	if want := `Watch the trading board & Bob's "deals"`; notes[0].Body != want {
		t.Errorf("Expected note stored as plain text %q, got %q", want, notes[0].Body)
	}

	_, body := getPage(t, client, server.URL+"/mod")
	if !strings.Contains(body, "Watch the trading board &amp; Bob&#39;s &#34;deals&#34;") {
		t.Error("Expected the note on the moderation center page, escaped once")
	}

	resp = postForm(t, client, server.URL+"/mod/notes/delete", url.Values{"note_id": {strconv.FormatInt(notes[0].ID, 10)}})
	expectRedirect(t, resp, "/mod")
	if _, total, _ := app.db.ListModNotes(context.Background(), 1, 10); total != 0 {
		t.Errorf("Expected the note to be deleted, %d left", total)
	}
}

func TestPostApproval(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	author := createMember(t, app, "author", models.GroupRegular)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	modClient := newClient(t, app, server, mod)

	pendingID, _ := createMessage(t, app, author.ID, "Needs approval", false)
	spamID, _ := createMessage(t, app, author.ID, "Buy cheap watches", false)

	t.Run("Queue lists unapproved topics", func(t *testing.T) {
		resp, body := getPage(t, modClient, server.URL+"/mod/postmod?sa=topics")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "Needs approval") || !strings.Contains(body, "Buy cheap watches") {
			t.Error("Expected both unapproved topics in the queue")
		}
	})

	t.Run("Regular member cannot approve", func(t *testing.T) {
		client := newClient(t, app, server, author)
		resp := postForm(t, client, server.URL+"/mod/postmod/approve", url.Values{"msg_ids": {strconv.FormatInt(pendingID, 10)}})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("Expected 403, got %d", resp.StatusCode)
		}
		msg, _ := app.db.GetMessage(ctx, pendingID)
		if msg.Approved {
			t.Error("Message should still be unapproved")
		}
	})

	t.Run("Approve", func(t *testing.T) {
		resp := postForm(t, modClient, server.URL+"/mod/postmod/approve", url.Values{"msg_ids": {strconv.FormatInt(pendingID, 10)}})
		expectRedirect(t, resp, "1 message(s) approved.")
		msg, err := app.db.GetMessage(ctx, pendingID)
		if err != nil {
			t.Fatalf("GetMessage failed: %v", err)
		}
		if !msg.Approved {
			t.Error("Expected message to be approved")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		resp := postForm(t, modClient, server.URL+"/mod/postmod/delete", url.Values{
			"msg_ids": {strconv.FormatInt(spamID, 10)},
			"return":  {"/mod/postmod?sa=topics"},
		})
		loc := expectRedirect(t, resp, "1 message(s) deleted.")
		if !strings.HasPrefix(loc, "/mod/postmod?sa=topics") {
			t.Errorf("Expected redirect back to the topics list, got %q", loc)
		}
		if _, err := app.db.GetMessage(ctx, spamID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for deleted message, got %v", err)
		}
	})

	t.Run("Approved posts are out of reach", func(t *testing.T) {
		resp := postForm(t, modClient, server.URL+"/mod/postmod/delete", url.Values{"msg_ids": {strconv.FormatInt(pendingID, 10)}})
		expectRedirect(t, resp, "0 message(s) deleted.")
		if _, err := app.db.GetMessage(ctx, pendingID); err != nil {
			t.Errorf("Expected approved message to survive, got %v", err)
		}
	})

	t.Run("External return target is ignored", func(t *testing.T) {
		resp := postForm(t, modClient, server.URL+"/mod/postmod/approve", url.Values{"return": {"//evil.example/"}})
		loc := expectRedirect(t, resp, "No messages selected.")
		if !strings.HasPrefix(loc, "/mod/postmod") {
			t.Errorf("Expected local fallback, got %q", loc)
		}
	})
}

func TestReports(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	author := createMember(t, app, "author", models.GroupRegular)
	reporter := createMember(t, app, "reporter", models.GroupRegular)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	msgID, _ := createMessage(t, app, author.ID, "Rude remarks", true)

	reporterClient := newClient(t, app, server, reporter)
	modClient := newClient(t, app, server, mod)

	submit := func(values url.Values) (int, map[string]string) {
		t.Helper()
		resp := postForm(t, reporterClient, server.URL+"/report", values)
		var out map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("Failed to decode report response: %v", err)
		}
		return resp.StatusCode, out
	}

	t.Run("Empty comment is rejected", func(t *testing.T) {
		status, out := submit(url.Values{"msg_id": {strconv.FormatInt(msgID, 10)}})
		if status != http.StatusBadRequest || out["error"] == "" {
			t.Errorf("Expected 400 with error, got %d %v", status, out)
		}
	})

	t.Run("Member cannot report themselves", func(t *testing.T) {
		status, _ := submit(url.Values{"type": {models.ReportTypeMembers}, "member_id": {strconv.FormatInt(reporter.ID, 10)}, "comment": {"me"}})
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", status)
		}
	})

	t.Run("Post report is stored", func(t *testing.T) {
		status, out := submit(url.Values{"msg_id": {strconv.FormatInt(msgID, 10)}, "comment": {"This is offensive"}})
		if status != http.StatusOK || out["success"] == "" {
			t.Fatalf("Expected success, got %d %v", status, out)
		}
	})

	reports, total, err := app.db.ListReports(ctx, database.ReportFilter{Type: models.ReportTypePosts, Boards: []int64{0}, Page: 1, PerPage: 10})
	if err != nil || total != 1 {
		t.Fatalf("Expected one open report, got %d (err %v)", total, err)
	}
	reportID := reports[0].ID
	reportPath := fmt.Sprintf("%s/mod/reports/%d", server.URL, reportID)

	t.Run("Moderator views the report", func(t *testing.T) {
		resp, body := getPage(t, modClient, reportPath)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "This is offensive") {
			t.Error("Expected reporter comment on the detail page")
		}
	})

	t.Run("Moderator comments and closes", func(t *testing.T) {
		resp := postForm(t, modClient, reportPath+"/comments", url.Values{"comment": {"Looking into it"}})
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303 after comment, got %d", resp.StatusCode)
		}
		resp = postForm(t, modClient, reportPath+"/close", nil)
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303 after close, got %d", resp.StatusCode)
		}
		report, err := app.db.GetReport(ctx, reportID, models.ReportTypePosts, []int64{0})
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if !report.Closed {
			t.Error("Expected report to be closed")
		}
		if len(report.ModComments) != 1 {
			t.Errorf("Expected one moderator comment, got %d", len(report.ModComments))
		}
	})

	t.Run("Unknown action is rejected", func(t *testing.T) {
		resp := postForm(t, modClient, reportPath+"/explode", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Regular member cannot view reports", func(t *testing.T) {
		resp, _ := getPage(t, reporterClient, server.URL+"/mod/reports")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestIssueWarningHandler(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	target := createMember(t, app, "troublemaker", models.GroupRegular)
	bystander := createMember(t, app, "bystander", models.GroupRegular)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	warnPath := fmt.Sprintf("%s/profile/%d/warning", server.URL, target.ID)

	t.Run("Regular member cannot warn", func(t *testing.T) {
		resp := postForm(t, newClient(t, app, server, bystander), warnPath, url.Values{"level": {"10"}, "reason": {"x"}})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	modClient := newClient(t, app, server, mod)

	t.Run("Reason is required", func(t *testing.T) {
		resp := postForm(t, modClient, warnPath, url.Values{"level": {"10"}})
		expectRedirect(t, resp, "A reason for the warning is required.")
	})

	t.Run("Warning is applied and notified", func(t *testing.T) {
		resp := postForm(t, modClient, warnPath, url.Values{
			"level":          {"20"},
			"reason":         {"Spamming links"},
			"notify":         {"1"},
			"notice_subject": {"You have been warned"},
			"notice_body":    {"Hello {MEMBER}, please stop."},
		})
		expectRedirect(t, resp, "Warning level is now 20%.")

		m, err := app.db.GetMember(ctx, target.ID)
		if err != nil {
			t.Fatal(err)
		}
		if m.Warning != 20 {
			t.Errorf("Expected warning level 20, got %d", m.Warning)
		}
		pms, err := app.db.ListPersonalMessages(ctx, target.ID)
		if err != nil || len(pms) != 1 {
			t.Fatalf("Expected one notification, got %d (err %v)", len(pms), err)
		}
		if !strings.Contains(pms[0].Body, "Hello troublemaker") {
			t.Errorf("Expected {MEMBER} to be replaced, got %q", pms[0].Body)
		}
	})

	t.Run("Warning list shows the entry", func(t *testing.T) {
		_, body := getPage(t, modClient, fmt.Sprintf("%s/profile/%d/warnings", server.URL, target.ID))
		if !strings.Contains(body, "Spamming links") {
			t.Error("Expected the warning reason in the list")
		}
	})

	t.Run("Members cannot warn themselves", func(t *testing.T) {
		resp, _ := getPage(t, modClient, fmt.Sprintf("%s/profile/%d/warning", server.URL, mod.ID))
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestGroupRequestFlow(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)
	ctx := context.Background()

	res, err := app.db.DB.Exec("INSERT INTO membergroups (name, group_type) VALUES ('Artists', ?)", models.GroupTypeRequestable)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	groupID, _ := res.LastInsertId()

	member := createMember(t, app, "painter", models.GroupRegular)
	admin := createMember(t, app, "admin", models.GroupAdmin)
	memberClient := newClient(t, app, server, member)
	requestPath := fmt.Sprintf("%s/profile/%d/groups/request", server.URL, member.ID)

	resp, body := getPage(t, memberClient, fmt.Sprintf("%s/profile/%d/groups", server.URL, member.ID))
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Artists") {
		t.Fatalf("Expected the requestable group to be offered, got %d", resp.StatusCode)
	}

	resp = postForm(t, memberClient, requestPath, url.Values{"group_id": {strconv.FormatInt(groupID, 10)}, "reason": {"I draw"}})
	expectRedirect(t, resp, "Your request has been sent")

	resp = postForm(t, memberClient, requestPath, url.Values{"group_id": {strconv.FormatInt(groupID, 10)}})
	expectRedirect(t, resp, "pending request")

	requests, total, err := app.db.ListGroupRequests(ctx, models.RequestPending, 1, 10)
	if err != nil || total != 1 {
		t.Fatalf("Expected one pending request, got %d (err %v)", total, err)
	}

	resp = postForm(t, memberClient, server.URL+"/mod/groups/requests", url.Values{"ids": {strconv.FormatInt(requests[0].ID, 10)}, "action": {"approve"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403 for the requesting member, got %d", resp.StatusCode)
	}

	adminClient := newClient(t, app, server, admin)
	_, body = getPage(t, adminClient, server.URL+"/mod/groups/requests")
	if !strings.Contains(body, "I draw") {
		t.Error("Expected the request reason in the queue")
	}
	resp = postForm(t, adminClient, server.URL+"/mod/groups/requests", url.Values{"ids": {strconv.FormatInt(requests[0].ID, 10)}, "action": {"approve"}})
	expectRedirect(t, resp, "1 request(s) handled.")

	m, err := app.db.GetMember(ctx, member.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range m.AdditionalGroups {
		if g == groupID {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected member to be in group %d, got %v", groupID, m.AdditionalGroups)
	}
}

func TestLogsAndBackup(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)

	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	admin := createMember(t, app, "admin", models.GroupAdmin)

	t.Run("Moderator cannot open the admin log", func(t *testing.T) {
		resp, _ := getPage(t, newClient(t, app, server, mod), server.URL+"/mod/adminlog")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("Moderator cannot delete log entries", func(t *testing.T) {
		resp := postForm(t, newClient(t, app, server, mod), server.URL+"/mod/modlog/delete", url.Values{"removeall": {"1"}})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	adminClient := newClient(t, app, server, admin)
	resp := postForm(t, adminClient, server.URL+"/mod/backup", nil)
	expectRedirect(t, resp, "Database backup created.")

	entries, err := os.ReadDir(app.settings.BackupDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected one backup file, got %d (err %v)", len(entries), err)
	}

	resp2, body := getPage(t, adminClient, server.URL+"/mod/adminlog")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp2.StatusCode)
	}
	if !strings.Contains(body, "database_backup") {
		t.Error("Expected the backup in the administration log")
	}
}

func TestTracking(t *testing.T) {
	app := setupTestApp(t)
	server := setupServer(t, app)

	poster := createMember(t, app, "poster", models.GroupRegular)
	mod := createMember(t, app, "globalmod", models.GroupGlobalMod)
	createMessage(t, app, poster.ID, "Posted from the office", true)
	base := fmt.Sprintf("%s/profile/%d/tracking", server.URL, poster.ID)

	t.Run("Regular member cannot track", func(t *testing.T) {
		resp, _ := getPage(t, newClient(t, app, server, poster), base)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	modClient := newClient(t, app, server, mod)

	t.Run("Activity lists addresses", func(t *testing.T) {
		resp, body := getPage(t, modClient, base)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "10.0.0.5") {
			t.Error("Expected the posting address in the activity view")
		}
	})

	t.Run("IP lookup with wildcard", func(t *testing.T) {
		_, body := getPage(t, modClient, base+"?sa=ip&ip="+url.QueryEscape("10.0.0.*"))
		if !strings.Contains(body, "Posted from the office") {
			t.Error("Expected the message in the address lookup")
		}
	})

	t.Run("Invalid address is reported", func(t *testing.T) {
		resp, _ := getPage(t, modClient, base+"?sa=ip&ip=not-an-ip")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("Profile edits fall back to activity for non-admins", func(t *testing.T) {
		resp, body := getPage(t, modClient, base+"?sa=edits")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if strings.Contains(body, "No profile edits have been logged.") {
			t.Error("Expected the activity view instead of the edit log")
		}
	})
}
