package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"forumd/models"
)

func TestApproveMessages(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupGlobalMod)
	author := createTestMember(t, ds, "author", models.GroupRegular)

	firstID, topicID := createTestPost(t, ds, 0, author, false)
	replyID, _ := createTestPost(t, ds, topicID, author, false)

	if n, _ := ds.CountUnapprovedMessages(ctx, []int64{0}, true); n != 1 {
		t.Errorf("Expected 1 unapproved topic, got %d", n)
	}
	if n, _ := ds.CountUnapprovedMessages(ctx, []int64{0}, false); n != 1 {
		t.Errorf("Expected 1 unapproved reply, got %d", n)
	}
	if n, _ := ds.CountUnapprovedMessages(ctx, []int64{99}, false); n != 0 {
		t.Errorf("Expected board filter to hide the reply, got %d", n)
	}

	n, err := ds.ApproveMessages(ctx, []int64{firstID, replyID}, []int64{0}, modID, "127.0.0.1")
	if err != nil {
		t.Fatalf("ApproveMessages failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 approvals, got %d", n)
	}

	// Approving again is a no-op.
	if n, _ := ds.ApproveMessages(ctx, []int64{firstID}, []int64{0}, modID, ""); n != 0 {
		t.Errorf("Expected already-approved message to be skipped, got %d", n)
	}

	var approved bool
	var replies, unapproved int
	if err := ds.DB.QueryRow("SELECT approved, num_replies, unapproved_posts FROM topics WHERE id = ?", topicID).Scan(&approved, &replies, &unapproved); err != nil {
		t.Fatalf("Failed to read topic: %v", err)
	}
	if !approved || replies != 1 || unapproved != 0 {
		t.Errorf("Unexpected topic counters: approved=%v replies=%d unapproved=%d", approved, replies, unapproved)
	}

	m, _ := ds.GetMember(ctx, author)
	if m.Posts != 2 {
		t.Errorf("Expected author post count 2, got %d", m.Posts)
	}

	entries, total, _ := ds.ListLogActions(ctx, LogFilter{LogType: models.LogModeration, Sort: "action"})
	if total != 2 {
		t.Fatalf("Expected 2 log entries, got %d", total)
	}
	if entries[0].Action != "approve" || entries[1].Action != "approve_topic" {
		t.Errorf("Unexpected log actions: %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].TargetName != "author" || entries[0].BoardName == "" {
		t.Errorf("Expected denormalised names, got target=%q board=%q", entries[0].TargetName, entries[0].BoardName)
	}
}

func TestDeleteFirstMessageRemovesTopic(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupGlobalMod)
	firstID, topicID := createTestPost(t, ds, 0, modID, false)
	replyID, _ := createTestPost(t, ds, topicID, modID, false)
	if _, err := ds.CreateAttachment(ctx, models.Attachment{MessageID: replyID, Filename: "a.png", Path: "/uploads/a.png"}); err != nil {
		t.Fatalf("CreateAttachment failed: %v", err)
	}

	n, files, err := ds.DeleteMessages(ctx, []int64{replyID, firstID}, []int64{0}, modID, "")
	if err != nil {
		t.Fatalf("DeleteMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected topic removal to count once, got %d", n)
	}
	if len(files) != 1 || files[0] != "/uploads/a.png" {
		t.Errorf("Expected attachment path to be returned, got %v", files)
	}
	var count int
	ds.DB.QueryRow("SELECT COUNT(*) FROM topics WHERE id = ?", topicID).Scan(&count)
	if count != 0 {
		t.Error("Expected topic to be removed")
	}
}

func TestDeleteMessagesSkipsApproved(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupBoardMod)
	author := createTestMember(t, ds, "author", models.GroupRegular)
	firstID, topicID := createTestPost(t, ds, 0, author, true)
	replyID, _ := createTestPost(t, ds, topicID, author, true)
	pendingID, _ := createTestPost(t, ds, topicID, author, false)

	tests := []struct {
		name string
		ids  []int64
		want int
	}{
		{"approved reply", []int64{replyID}, 0},
		{"approved first message", []int64{firstID}, 0},
		{"mixed selection", []int64{replyID, pendingID}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _, err := ds.DeleteMessages(ctx, tt.ids, []int64{0}, modID, "")
			if err != nil {
				t.Fatalf("DeleteMessages failed: %v", err)
			}
			if n != tt.want {
				t.Errorf("Expected %d deleted, got %d", tt.want, n)
			}
		})
	}

	for _, id := range []int64{firstID, replyID} {
		if _, err := ds.GetMessage(ctx, id); err != nil {
			t.Errorf("Expected approved message %d to survive: %v", id, err)
		}
	}
	if _, err := ds.GetMessage(ctx, pendingID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected pending message to be deleted, got %v", err)
	}
	var replies, unapproved int
	ds.DB.QueryRow("SELECT num_replies, unapproved_posts FROM topics WHERE id = ?", topicID).Scan(&replies, &unapproved)
	if replies != 1 || unapproved != 0 {
		t.Errorf("Unexpected topic counters: replies=%d unapproved=%d", replies, unapproved)
	}
}

func TestAttachmentApproval(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupGlobalMod)
	msgID, _ := createTestPost(t, ds, 0, modID, true)
	a1, _ := ds.CreateAttachment(ctx, models.Attachment{MessageID: msgID, Filename: "one.jpg", Path: "/uploads/one.jpg"})
	a2, _ := ds.CreateAttachment(ctx, models.Attachment{MessageID: msgID, Filename: "two.jpg", Path: "/uploads/two.jpg"})

	atts, total, err := ds.ListUnapprovedAttachments(ctx, []int64{0}, 1, 10)
	if err != nil || total != 2 || len(atts) != 2 {
		t.Fatalf("Expected 2 unapproved attachments, got %d (%v)", total, err)
	}
	if n, err := ds.ApproveAttachments(ctx, []int64{a1}, []int64{0}, modID, ""); err != nil || n != 1 {
		t.Errorf("ApproveAttachments = %d, %v", n, err)
	}
	n, paths, err := ds.DeleteAttachments(ctx, []int64{a1, a2}, []int64{0}, modID, "")
	if err != nil || n != 1 || len(paths) != 1 || paths[0] != "/uploads/two.jpg" {
		t.Errorf("DeleteAttachments = %d, %v, %v; approved attachment must be kept", n, paths, err)
	}
	if n, _ := ds.CountUnapprovedAttachments(ctx, []int64{0}); n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestReportsLifecycle(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupGlobalMod)
	reporter := createTestMember(t, ds, "reporter", models.GroupRegular)
	other := createTestMember(t, ds, "other", models.GroupRegular)
	msgID, _ := createTestPost(t, ds, 0, other, true)

	id1, err := ds.SubmitReport(ctx, NewReport{Type: models.ReportTypePosts, MessageID: msgID, ReporterID: reporter, ReporterName: "reporter", Comment: "spam"})
	if err != nil {
		t.Fatalf("SubmitReport failed: %v", err)
	}
	id2, _ := ds.SubmitReport(ctx, NewReport{Type: models.ReportTypePosts, MessageID: msgID, ReporterID: modID, ReporterName: "mod", Comment: "agreed"})
	if id1 != id2 {
		t.Errorf("Expected second report to bump the open one, got ids %d and %d", id1, id2)
	}

	reports, total, err := ds.ListReports(ctx, ReportFilter{Type: models.ReportTypePosts, Boards: []int64{0}})
	if err != nil || total != 1 {
		t.Fatalf("Expected 1 open report, got %d (%v)", total, err)
	}
	if reports[0].NumReports != 2 || len(reports[0].Comments) != 2 {
		t.Errorf("Expected 2 reports with 2 comments, got %d/%d", reports[0].NumReports, len(reports[0].Comments))
	}

	if _, err := ds.SubmitReport(ctx, NewReport{Type: models.ReportTypeMembers, MemberID: reporter, ReporterID: reporter}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected self report to be rejected, got %v", err)
	}

	n, err := ds.SetReportState(ctx, []int64{id1}, models.ReportTypePosts, ReportClosed, true, []int64{0}, modID, "")
	if err != nil || n != 1 {
		t.Fatalf("SetReportState(close) = %d, %v", n, err)
	}
	if n, _ := ds.SetReportState(ctx, []int64{id1}, models.ReportTypePosts, ReportClosed, true, []int64{0}, modID, ""); n != 0 {
		t.Errorf("Expected closing a closed report to be skipped, got %d", n)
	}
	if n, _ := ds.SetReportState(ctx, []int64{id1}, models.ReportTypeMembers, ReportClosed, false, nil, modID, ""); n != 0 {
		t.Errorf("Expected type mismatch to be skipped, got %d", n)
	}

	if c, _ := ds.CountReports(ctx, ReportFilter{Type: models.ReportTypePosts, Closed: true, Boards: []int64{0}}); c != 1 {
		t.Errorf("Expected 1 closed report, got %d", c)
	}

	// A new submission after closing opens a fresh report.
	id3, _ := ds.SubmitReport(ctx, NewReport{Type: models.ReportTypePosts, MessageID: msgID, ReporterID: reporter, Comment: "again"})
	if id3 == id1 {
		t.Error("Expected a new report after the previous one was closed")
	}

	cid, err := ds.AddReportComment(ctx, id1, modID, "mod", "looked into it", "")
	if err != nil {
		t.Fatalf("AddReportComment failed: %v", err)
	}
	r, err := ds.GetReport(ctx, id1, models.ReportTypePosts, []int64{0})
	if err != nil || len(r.ModComments) != 1 {
		t.Fatalf("Expected 1 moderator comment, got %v (%v)", r, err)
	}
	if err := ds.DeleteReportComment(ctx, id1, cid, other, false, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected others' comment deletion to fail, got %v", err)
	}
	if err := ds.DeleteReportComment(ctx, id1, cid, modID, false, ""); err != nil {
		t.Errorf("Expected own comment deletion to succeed, got %v", err)
	}

	entries, _, _ := ds.ListLogActions(ctx, LogFilter{LogType: models.LogModeration, ReportID: id1})
	if len(entries) != 3 {
		t.Errorf("Expected 3 log entries touching the report, got %d", len(entries))
	}
}

func TestIssueWarning(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	modID := createTestMember(t, ds, "mod", models.GroupGlobalMod)
	target := createTestMember(t, ds, "target", models.GroupRegular)

	tests := []struct {
		name      string
		level     int
		maxPerDay int
		wantLevel int
		capped    bool
	}{
		{"basic", 10, 25, 10, false},
		{"capped per day", 50, 25, 25, true},
		{"lowering ignores cap", 5, 25, 5, false},
		{"clamped", 150, 0, 100, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ds.IssueWarning(ctx, WarningInput{
				MemberID: target, NewLevel: tc.level, Reason: "reason",
				ActorID: modID, ActorName: "mod", MaxPerDay: tc.maxPerDay,
			})
			if err != nil {
				t.Fatalf("IssueWarning failed: %v", err)
			}
			if res.Level != tc.wantLevel || res.Capped != tc.capped {
				t.Errorf("Got level %d capped %v, want %d %v", res.Level, res.Capped, tc.wantLevel, tc.capped)
			}
		})
	}

	if _, err := ds.IssueWarning(ctx, WarningInput{MemberID: modID, ActorID: modID, NewLevel: 10}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected self-warning to fail, got %v", err)
	}

	_, err := ds.IssueWarning(ctx, WarningInput{
		MemberID: target, NewLevel: 100, Reason: "notice", ActorID: modID, ActorName: "mod",
		NoticeSubject: "Warning", NoticeBody: "Please behave",
	})
	if err != nil {
		t.Fatalf("IssueWarning with notice failed: %v", err)
	}
	pms, _ := ds.ListPersonalMessages(ctx, target)
	if len(pms) != 1 || pms[0].Subject != "Warning" {
		t.Errorf("Expected notice PM, got %+v", pms)
	}

	warnings, total, err := ds.ListWarnings(ctx, target, 1, 10)
	if err != nil || total != 5 {
		t.Fatalf("Expected 5 warnings, got %d (%v)", total, err)
	}
	if warnings[0].RecipientName != "target" {
		t.Errorf("Expected recipient name, got %q", warnings[0].RecipientName)
	}

	watched, total, _ := ds.ListWatchedMembers(ctx, 10, 1, 10)
	if total != 1 || watched[0].ID != target {
		t.Errorf("Expected target to be watched, got %+v", watched)
	}
}

func TestWarningTemplates(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	mod1 := createTestMember(t, ds, "mod1", models.GroupGlobalMod)
	mod2 := createTestMember(t, ds, "mod2", models.GroupGlobalMod)

	shared, err := ds.SaveWarningTemplate(ctx, models.WarningTemplate{Title: "Spam", Body: "No spam"}, mod1, "mod1", false, "")
	if err != nil {
		t.Fatalf("SaveWarningTemplate failed: %v", err)
	}
	personal, _ := ds.SaveWarningTemplate(ctx, models.WarningTemplate{Title: "Mine", Body: "Only mine", Personal: true}, mod1, "mod1", false, "")

	tpls, _ := ds.ListWarningTemplates(ctx, mod2)
	if len(tpls) != 1 || tpls[0].ID != shared {
		t.Errorf("Expected mod2 to see only the shared template, got %+v", tpls)
	}

	_, err = ds.SaveWarningTemplate(ctx, models.WarningTemplate{ID: personal, Title: "Hijack", Body: "x", Personal: true}, mod2, "mod2", false, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected personal template to be protected, got %v", err)
	}
	if n, _ := ds.DeleteWarningTemplates(ctx, []int64{personal}, mod2, false, ""); n != 0 {
		t.Errorf("Expected personal template deletion by another member to be skipped, got %d", n)
	}
	if n, _ := ds.DeleteWarningTemplates(ctx, []int64{personal, shared}, mod2, true, ""); n != 2 {
		t.Errorf("Expected admin deletion of both templates, got %d", n)
	}
}

func TestGroupRequests(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	adminID := createTestMember(t, ds, "admin", models.GroupAdmin)
	member := createTestMember(t, ds, "member", models.GroupRegular)
	res, _ := ds.DB.Exec("INSERT INTO membergroups (name, group_type) VALUES ('Artists', ?)", models.GroupTypeRequestable)
	groupID, _ := res.LastInsertId()

	if _, _, err := ds.RequestGroup(ctx, member, models.GroupAdmin, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected protected group request to fail, got %v", err)
	}
	reqID, joined, err := ds.RequestGroup(ctx, member, groupID, "I draw")
	if err != nil || joined || reqID == 0 {
		t.Fatalf("RequestGroup = %d, %v, %v", reqID, joined, err)
	}
	if _, _, err := ds.RequestGroup(ctx, member, groupID, "again"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected duplicate pending request to fail, got %v", err)
	}

	n, err := ds.ActOnGroupRequests(ctx, []int64{reqID}, true, "welcome", adminID, "admin", "")
	if err != nil || n != 1 {
		t.Fatalf("ActOnGroupRequests = %d, %v", n, err)
	}
	if n, _ := ds.ActOnGroupRequests(ctx, []int64{reqID}, false, "", adminID, "admin", ""); n != 0 {
		t.Errorf("Expected acted request to be skipped, got %d", n)
	}
	m, _ := ds.GetMember(ctx, member)
	if len(m.AdditionalGroups) != 1 || m.AdditionalGroups[0] != groupID {
		t.Errorf("Expected membership in group %d, got %v", groupID, m.AdditionalGroups)
	}
	if pms, _ := ds.ListPersonalMessages(ctx, member); len(pms) != 1 {
		t.Errorf("Expected 1 notification PM, got %d", len(pms))
	}
}

func TestDeleteLogActionsKeepsRecentEntries(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	adminID := createTestMember(t, ds, "admin", models.GroupAdmin)

	old := time.Now().UTC().Add(-48 * time.Hour)
	ds.DB.Exec("INSERT INTO log_actions (id_log, log_time, id_member, action) VALUES (?, ?, ?, 'old')", models.LogAdmin, old, adminID)
	LogAction(ctx, ds.DB, LogEntry{LogType: models.LogAdmin, MemberID: adminID, Action: "recent"})

	n, err := ds.DeleteLogActions(ctx, models.LogAdmin, nil, true, adminID, "")
	if err != nil || n != 1 {
		t.Fatalf("DeleteLogActions = %d, %v", n, err)
	}
	entries, _, _ := ds.ListLogActions(ctx, LogFilter{LogType: models.LogAdmin})
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if !actions["recent"] || !actions["clearlog"] || actions["old"] {
		t.Errorf("Unexpected admin log after deletion: %v", actions)
	}
}
