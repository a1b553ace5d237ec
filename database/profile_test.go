package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"forumd/models"
)

func TestBuddyList(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, ds, "alice", models.GroupRegular)
	bob := createTestMember(t, ds, "bob", models.GroupRegular)
	carol := createTestMember(t, ds, "carol", models.GroupRegular)

	added, err := ds.AddToList(ctx, alice, ListBuddies, []int64{bob, carol, alice, bob})
	if err != nil {
		t.Fatalf("AddToList failed: %v", err)
	}
	if len(added) != 2 {
		t.Errorf("Expected self and duplicate to be skipped, added %v", added)
	}
	ds.AddToList(ctx, bob, ListBuddies, []int64{alice})
	ds.CreateSession(ctx, bob, "", time.Hour)

	entries, err := ds.GetList(ctx, alice, ListBuddies, 15*time.Minute)
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 buddies, got %d", len(entries))
	}
	for _, e := range entries {
		switch e.MemberID {
		case bob:
			if !e.Reciprocal || !e.Online {
				t.Errorf("Expected bob to be reciprocal and online: %+v", e)
			}
		case carol:
			if e.Reciprocal || e.Online {
				t.Errorf("Expected carol to be neither reciprocal nor online: %+v", e)
			}
		}
	}

	if err := ds.RemoveFromList(ctx, alice, ListBuddies, carol); err != nil {
		t.Errorf("RemoveFromList failed: %v", err)
	}
	if err := ds.RemoveFromList(ctx, alice, ListBuddies, carol); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound removing twice, got %v", err)
	}
	if _, err := ds.GetList(ctx, alice, "friends", time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected unknown list kind to fail, got %v", err)
	}

	refs, missing, err := ds.FindMembersByName(ctx, []string{"Bob", "nobody", " "})
	if err != nil {
		t.Fatalf("FindMembersByName failed: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != bob || len(missing) != 1 || missing[0] != "nobody" {
		t.Errorf("Unexpected lookup result: %v, %v", refs, missing)
	}
}

func TestNotificationSettings(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	id := createTestMember(t, ds, "alice", models.GroupRegular)

	prefs, err := ds.GetAlertPrefs(ctx, id)
	if err != nil {
		t.Fatalf("GetAlertPrefs failed: %v", err)
	}
	if prefs["pm_new"] != models.NotifyAlert|models.NotifyEmail {
		t.Errorf("Expected default for pm_new, got %d", prefs["pm_new"])
	}

	err = ds.SaveNotificationSettings(ctx, id, NotificationSettings{
		Prefs:      map[string]int{"pm_new": 0, "msg_quote": models.NotifyEmail},
		Regularity: models.RegularityWeekly,
	})
	if err != nil {
		t.Fatalf("SaveNotificationSettings failed: %v", err)
	}
	prefs, _ = ds.GetAlertPrefs(ctx, id)
	if prefs["pm_new"] != 0 || prefs["msg_quote"] != models.NotifyEmail {
		t.Errorf("Preferences not stored: %v", prefs)
	}
	m, _ := ds.GetMember(ctx, id)
	if m.NotifyRegularity != models.RegularityWeekly || m.NotifyAnnouncements {
		t.Errorf("Delivery options not stored: %d %v", m.NotifyRegularity, m.NotifyAnnouncements)
	}

	tests := []NotificationSettings{
		{Prefs: map[string]int{"bogus": 1}, Regularity: 1},
		{Prefs: map[string]int{"pm_new": 4}, Regularity: 1},
		{Regularity: 9},
	}
	for _, ns := range tests {
		if err := ds.SaveNotificationSettings(ctx, id, ns); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", ns, err)
		}
	}
}

func TestExportLifecycle(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	id := createTestMember(t, ds, "alice", models.GroupRegular)
	other := createTestMember(t, ds, "bob", models.GroupRegular)

	exportID, token, err := ds.CreateExport(ctx, id, "xml", []string{"profile", "posts"})
	if err != nil {
		t.Fatalf("CreateExport failed: %v", err)
	}
	pending, _ := ds.PendingExports(ctx)
	if len(pending) != 1 || len(pending[0].Datatypes) != 2 {
		t.Fatalf("Expected 1 pending export with 2 datatypes, got %+v", pending)
	}

	if ok, _ := ds.ClaimExport(ctx, exportID); !ok {
		t.Fatal("Expected first claim to succeed")
	}
	if ok, _ := ds.ClaimExport(ctx, exportID); ok {
		t.Error("Expected second claim to fail")
	}
	if _, err := ds.DeleteExport(ctx, exportID, id); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected running export deletion to fail, got %v", err)
	}
	if err := ds.CompleteExport(ctx, exportID, "/exports/a.xml", 123); err != nil {
		t.Fatalf("CompleteExport failed: %v", err)
	}

	e, err := ds.GetExportByToken(ctx, id, token)
	if err != nil || e.Status != models.ExportComplete || e.Size != 123 {
		t.Fatalf("GetExportByToken = %+v, %v", e, err)
	}
	if _, err := ds.GetExportByToken(ctx, other, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected token to be scoped to its owner, got %v", err)
	}

	expired, _ := ds.ExpiredExports(ctx, time.Now().UTC().Add(time.Minute))
	if len(expired) != 1 {
		t.Errorf("Expected 1 expired export, got %d", len(expired))
	}
	if _, err := ds.DeleteExport(ctx, exportID, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected other member's deletion to fail, got %v", err)
	}
	if _, err := ds.DeleteExport(ctx, exportID, id); err != nil {
		t.Errorf("DeleteExport failed: %v", err)
	}
}

func TestTracking(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, ds, "alice", models.GroupRegular)
	bob := createTestMember(t, ds, "bob", models.GroupRegular)

	createTestPost(t, ds, 0, alice, true)
	ds.RecordLogin(ctx, alice, "10.0.0.1", "")
	ds.RecordLogin(ctx, alice, "192.168.1.5", "")
	ds.RecordLogin(ctx, bob, "10.0.0.1", "")
	ds.LogError(ctx, alice, "10.0.0.1", "/profile/1", "not allowed")

	ips, err := ds.MemberIPs(ctx, alice)
	if err != nil {
		t.Fatalf("MemberIPs failed: %v", err)
	}
	if len(ips) != 2 {
		t.Fatalf("Expected 2 distinct ips, got %+v", ips)
	}
	counts := map[string]int{}
	for _, u := range ips {
		counts[u.IP] = u.Count
	}
	if counts["10.0.0.1"] != 2 {
		t.Errorf("Expected 10.0.0.1 used twice (post + login), got %d", counts["10.0.0.1"])
	}

	shared, _ := ds.MembersSharingIPs(ctx, alice, []string{"10.0.0.1"})
	if len(shared) != 1 || shared[0].ID != bob {
		t.Errorf("Expected bob to share an ip, got %v", shared)
	}

	members, _ := ds.IPMembers(ctx, "10.0.%")
	if len(members) != 2 {
		t.Errorf("Expected 2 members on 10.0.*, got %v", members)
	}
	msgs, total, _ := ds.IPMessages(ctx, "10.0.0.1", []int64{0}, 1, 10)
	if total != 1 || len(msgs) != 1 {
		t.Errorf("Expected 1 message from ip, got %d", total)
	}
	if _, total, _ := ds.MemberErrors(ctx, alice, 1, 10); total != 1 {
		t.Errorf("Expected 1 error entry, got %d", total)
	}
	logins, total, _ := ds.ListLogins(ctx, alice, 1, 10)
	if total != 2 || logins[0].IP != "192.168.1.5" {
		t.Errorf("Expected newest login first, got %+v", logins)
	}
}
