package menu

import (
	"forumd/auth"
	"forumd/config"
)

// ModerationAreas returns the moderation center tree.
func ModerationAreas(s *config.Settings) []Section {
	canModerateBoards := func(p *auth.Permissions) bool {
		return len(p.BoardsAllowedTo(auth.ModerateBoard)) > 0
	}
	canApprove := func(p *auth.Permissions) bool {
		return len(p.BoardsAllowedTo(auth.ApprovePosts)) > 0
	}
	canViewLog := func(p *auth.Permissions) bool {
		return len(p.BoardsAllowedTo(auth.ViewModLog)) > 0
	}

	return []Section{
		{
			Key:   "main",
			Title: "Main",
			Areas: []Area{
				{Key: "index", Label: "Moderation Center", Path: "/mod", Custom: (*auth.Permissions).CanModerate},
				{Key: "modlog", Label: "Moderation Log", Path: "/mod/modlog", Custom: canViewLog},
				{
					Key: "warnings", Label: "Warnings", Path: "/mod/warnings",
					Permission: []string{auth.IssueWarning},
					Disabled:   !s.Warnings.Enabled,
					Subsections: []Subsection{
						{Key: "log", Label: "Warning Log", Default: true},
						{Key: "templates", Label: "Warning Templates"},
					},
				},
			},
		},
		{
			Key:   "posts",
			Title: "Posts",
			Areas: []Area{
				{
					Key: "postmod", Label: "Unapproved Posts", Path: "/mod/postmod",
					Disabled: !s.PostModeration, Custom: canApprove,
					Subsections: []Subsection{
						{Key: "replies", Label: "Replies", Default: true},
						{Key: "topics", Label: "Topics"},
					},
				},
				{Key: "attachmod", Label: "Unapproved Attachments", Path: "/mod/attachmod", Disabled: !s.PostModeration, Custom: canApprove},
				{
					Key: "reports", Label: "Reported Posts", Path: "/mod/reports", Custom: canModerateBoards,
					Subsections: []Subsection{
						{Key: "open", Label: "Open Reports", Default: true},
						{Key: "closed", Label: "Closed Reports"},
					},
				},
			},
		},
		{
			Key:   "groups",
			Title: "Groups",
			Areas: []Area{
				{Key: "groups", Label: "Group Requests", Path: "/mod/groups/requests", Permission: []string{auth.ManageMembergroups}, Disabled: !s.GroupRequests},
			},
		},
		{
			Key:        "members",
			Title:      "Members",
			Permission: []string{auth.ModerateForum},
			Areas: []Area{
				{
					Key: "userwatch", Label: "Watched Members", Path: "/mod/watched", Disabled: !s.Warnings.Enabled,
					Subsections: []Subsection{
						{Key: "members", Label: "Members", Default: true},
						{Key: "posts", Label: "Posts by Watched Members"},
					},
				},
				{
					Key: "reported_members", Label: "Reported Members", Path: "/mod/reports?type=members",
					Subsections: []Subsection{
						{Key: "open", Label: "Open Reports", Default: true},
						{Key: "closed", Label: "Closed Reports"},
					},
				},
			},
		},
		{
			Key:        "logs",
			Title:      "Logs",
			Permission: []string{auth.AdminForum},
			Areas: []Area{
				{Key: "adminlog", Label: "Administration Log", Path: "/mod/adminlog"},
			},
		},
	}
}

// ProfileAreas returns the profile tree for viewing a member; isOwner is
// true when the viewer is that member.
func ProfileAreas(s *config.Settings, isOwner bool) []Section {
	ownOrAny := func(base string) func(*auth.Permissions) bool {
		return func(p *auth.Permissions) bool { return p.AllowedOwnOrAny(base, isOwner) }
	}
	ownerOnly := func(perm string) func(*auth.Permissions) bool {
		return func(p *auth.Permissions) bool { return isOwner && p.AllowedTo(perm) }
	}

	return []Section{
		{
			Key:   "info",
			Title: "Profile Info",
			Areas: []Area{
				{Key: "summary", Label: "Summary", Path: "/profile/{id}", Permission: []string{auth.ProfileView}},
				{
					Key: "tracking", Label: "Track Activity", Path: "/profile/{id}/tracking",
					Permission: []string{auth.ModerateForum},
					Subsections: []Subsection{
						{Key: "activity", Label: "Activity", Default: true},
						{Key: "ip", Label: "IP Lookup"},
						{Key: "edits", Label: "Profile Edits", Permission: []string{auth.AdminForum}},
						{Key: "logins", Label: "Logins"},
					},
				},
				{
					Key: "viewwarning", Label: "View Warnings", Path: "/profile/{id}/warnings",
					Disabled: !s.Warnings.Enabled,
					Custom: func(p *auth.Permissions) bool {
						return p.AllowedTo(auth.IssueWarning) || (isOwner && p.AllowedTo(auth.ProfileWarningOwn))
					},
				},
			},
		},
		{
			Key:   "edit_profile",
			Title: "Modify Profile",
			Areas: []Area{
				{Key: "account", Label: "Account Settings", Path: "/profile/{id}/account", Custom: ownOrAny("profile_identity")},
				{Key: "forumprofile", Label: "Forum Profile", Path: "/profile/{id}/forum", Custom: ownOrAny("profile_extra")},
				{Key: "theme", Label: "Look and Layout", Path: "/profile/{id}/theme", Custom: ownOrAny("profile_extra")},
				{Key: "notification", Label: "Notifications", Path: "/profile/{id}/notifications", Custom: ownOrAny("profile_extra")},
				{
					Key: "lists", Label: "Buddies/Ignore List", Path: "/profile/{id}/lists",
					Custom: ownerOnly(auth.ProfileExtraOwn),
					Subsections: []Subsection{
						{Key: "buddies", Label: "Buddies", Default: true},
						{Key: "ignore", Label: "Ignore List"},
					},
				},
				{Key: "tfasetup", Label: "Two-Factor Authentication", Path: "/profile/{id}/tfa", Custom: ownerOnly(auth.ProfileIdentityOwn)},
				{Key: "groupmembership", Label: "Group Membership", Path: "/profile/{id}/groups", Disabled: !s.GroupRequests, Custom: ownerOnly(auth.ProfileExtraOwn)},
			},
		},
		{
			Key:   "profile_action",
			Title: "Actions",
			Areas: []Area{
				{
					Key: "export", Label: "Download Profile Data", Path: "/profile/{id}/export",
					Custom: func(p *auth.Permissions) bool {
						return (isOwner && p.AllowedTo(auth.ProfileExportOwn)) || p.AllowedTo(auth.AdminForum)
					},
				},
				{
					Key: "issuewarning", Label: "Issue Warning", Path: "/profile/{id}/warning",
					Permission: []string{auth.IssueWarning},
					Disabled:   !s.Warnings.Enabled || isOwner,
				},
				{Key: "deleteaccount", Label: "Delete Account", Path: "/profile/{id}/delete", Custom: ownOrAny("profile_remove")},
			},
		},
	}
}
