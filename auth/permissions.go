// Package auth holds the per-request permission set and two-factor helpers.
package auth

import (
	"github.com/samber/lo"
)

// Permission names understood by the moderation center and profile areas.
const (
	ModerateForum       = "moderate_forum"
	ModerateBoard       = "moderate_board"
	ApprovePosts        = "approve_posts"
	RemoveAny           = "remove_any"
	IssueWarning        = "issue_warning"
	ViewModLog          = "view_mlog"
	AdminForum          = "admin_forum"
	ManageMembergroups  = "manage_membergroups"
	ProfileView         = "profile_view"
	ProfileIdentityOwn  = "profile_identity_own"
	ProfileIdentityAny  = "profile_identity_any"
	ProfileExtraOwn     = "profile_extra_own"
	ProfileExtraAny     = "profile_extra_any"
	ProfileRemoveOwn    = "profile_remove_own"
	ProfileRemoveAny    = "profile_remove_any"
	ProfileWarningOwn   = "profile_warning_own"
	ReportAny           = "report_any"
	ReportUser          = "report_user"
	ProfileExportOwn    = "profile_export_own"
)

// BoardModeratorPermissions are granted on the boards a member moderates.
var BoardModeratorPermissions = []string{ModerateBoard, ApprovePosts, RemoveAny, ViewModLog}

// AllPermissions lists every permission known to the application.
var AllPermissions = []string{
	ModerateForum, ModerateBoard, ApprovePosts, RemoveAny, IssueWarning, ViewModLog,
	AdminForum, ManageMembergroups, ProfileView, ProfileIdentityOwn, ProfileIdentityAny,
	ProfileExtraOwn, ProfileExtraAny, ProfileRemoveOwn, ProfileRemoveAny,
	ProfileWarningOwn, ReportAny, ReportUser, ProfileExportOwn,
}

// Permissions is the effective permission set of the current member.
type Permissions struct {
	MemberID int64
	IsGuest  bool
	IsAdmin  bool
	Global   map[string]bool
	// Moderated is the set of board ids the member moderates.
	Moderated []int64
}

// Guest returns the permission set for an anonymous visitor.
func Guest(global []string) *Permissions {
	p := &Permissions{IsGuest: true, Global: map[string]bool{}}
	for _, perm := range global {
		p.Global[perm] = true
	}
	return p
}

// AllowedTo reports whether any of perms is held globally.
func (p *Permissions) AllowedTo(perms ...string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin {
		return true
	}
	for _, perm := range perms {
		if p.Global[perm] {
			return true
		}
	}
	return false
}

// AllowedOwnOrAny checks "<base>_own" when the member owns the resource and "<base>_any" in every case.
func (p *Permissions) AllowedOwnOrAny(base string, isOwner bool) bool {
	if isOwner && p.AllowedTo(base+"_own") {
		return true
	}
	return p.AllowedTo(base + "_any")
}

// BoardsAllowedTo returns [0] when perm is global, otherwise the moderated
// boards when perm is a board moderator permission. Empty means none.
func (p *Permissions) BoardsAllowedTo(perm string) []int64 {
	if p == nil || p.IsGuest {
		return nil
	}
	if p.AllowedTo(perm) {
		return []int64{0}
	}
	if lo.Contains(BoardModeratorPermissions, perm) && len(p.Moderated) > 0 {
		return lo.Uniq(p.Moderated)
	}
	return nil
}

// CanModerate reports whether the member may enter the moderation center at all.
func (p *Permissions) CanModerate() bool {
	return p.AllowedTo(ModerateForum, AdminForum, ManageMembergroups, IssueWarning) || len(p.BoardsAllowedTo(ModerateBoard)) > 0
}

// AllBoards reports whether a board list returned by BoardsAllowedTo covers every board.
func AllBoards(boards []int64) bool {
	return len(boards) == 1 && boards[0] == 0
}
