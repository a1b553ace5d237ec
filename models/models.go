// forumd/models/models.go
package models

import (
	"context"
	"database/sql"
	"time"
)

// StorageService persists uploaded avatars and generated exports.
type StorageService interface {
	SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, path string) error
	// LocalPath resolves a stored path to a file on disk; false means the path is a public URL.
	LocalPath(path string) (string, bool)
}

// --- Members & Groups ---

type Member struct {
	ID                  int64
	Name                string // login name
	DisplayName         string
	Email               string
	PasswordHash        string
	GroupID             int64
	AdditionalGroups    []int64
	Posts               int
	Registered          time.Time
	LastLogin           sql.NullTime
	LastIP              string
	Warning             int
	Signature           string
	PersonalText        string
	WebsiteTitle        string
	WebsiteURL          string
	Avatar              string
	TimeFormat          string
	TimeOffset          float64
	ThemeID             int
	TFASecret           string
	TFABackup           string
	NotifyRegularity    int
	NotifyAnnouncements bool
}

// TFAEnabled reports whether two-factor authentication is active.
func (m *Member) TFAEnabled() bool {
	return m.TFASecret != ""
}

// IsAdmin reports whether the member is in the administrator group, as
// primary or additional group.
func (m *Member) IsAdmin() bool {
	if m.GroupID == GroupAdmin {
		return true
	}
	for _, g := range m.AdditionalGroups {
		if g == GroupAdmin {
			return true
		}
	}
	return false
}

type MemberGroup struct {
	ID          int64
	Name        string
	Description string
	OnlineColor string
	// Type: 0 private, 1 protected, 2 requestable, 3 free.
	Type   int
	Hidden bool
}

const (
	GroupTypePrivate     = 0
	GroupTypeProtected   = 1
	GroupTypeRequestable = 2
	GroupTypeFree        = 3
)

// Well-known group ids.
const (
	GroupGuest         int64 = -1
	GroupRegular       int64 = 0
	GroupAdmin         int64 = 1
	GroupGlobalMod     int64 = 2
	GroupBoardMod      int64 = 3
)

// MemberRef is the minimal member identity used in list views.
type MemberRef struct {
	ID   int64
	Name string
}

// --- Content ---

type Board struct {
	ID   int64
	Name string
}

type Topic struct {
	ID           int64
	BoardID      int64
	FirstMsgID   int64
	Subject      string
	Approved     bool
	NumReplies   int
	Unapproved   int
	StarterID    int64
}

type Message struct {
	ID         int64
	TopicID    int64
	BoardID    int64
	BoardName  string
	MemberID   int64
	PosterName string
	Subject    string
	Body       string
	PosterTime time.Time
	PosterIP   string
	Approved   bool
	IsFirst    bool
}

type Attachment struct {
	ID        int64
	MessageID int64
	MemberID  int64
	Filename  string
	Path      string
	Size      int64
	Mime      string
	Approved  bool
	Message   Message
}

// --- Moderation ---

const (
	ReportTypePosts   = "posts"
	ReportTypeMembers = "members"
)

type Report struct {
	ID             int64
	Type           string
	MessageID      int64
	TopicID        int64
	BoardID        int64
	BoardName      string
	ReportedID     int64
	ReportedName   string
	Subject        string
	Body           string
	TimeStarted    time.Time
	TimeUpdated    time.Time
	NumReports     int
	Closed         bool
	IgnoreAll      bool
	Comments       []ReportComment
	ModComments    []ModComment
	LastReporter   string
}

type ReportComment struct {
	ID         int64
	ReportID   int64
	MemberID   int64
	MemberName string
	MemberIP   string
	Comment    string
	TimeSent   time.Time
}

// ModComment is a row of log_comments: moderator notes, report comments, warnings and templates.
type ModComment struct {
	ID            int64
	MemberID      int64
	MemberName    string
	Type          string
	RecipientID   int64
	RecipientName string
	Time          time.Time
	NoticeID      int64
	Counter       int
	Body          string
}

const (
	CommentModNote     = "modnote"
	CommentReport      = "reportc"
	CommentWarning     = "warning"
	CommentWarnTemplate = "warntpl"
)

// Log types for log_actions.
const (
	LogModeration = 1
	LogAdmin      = 2
	LogProfile    = 3
)

type LogAction struct {
	ID         int64
	LogType    int
	Time       time.Time
	MemberID   int64
	MemberName string
	IP         string
	Action     string
	BoardID    int64
	TopicID    int64
	MessageID  int64
	Extra      map[string]string
	// Display fields resolved from foreign keys.
	BoardName    string
	TopicSubject string
	TargetName   string
	Details      string
}

type WarningTemplate struct {
	ID       int64
	MemberID int64
	Author   string
	Title    string
	Body     string
	Personal bool
	Time     time.Time
}

type WatchedMember struct {
	ID         int64
	Name       string
	Warning    int
	Status     string
	Posts      int
	LastLogin  sql.NullTime
	LastPost   sql.NullTime
}

const (
	RequestPending  = 0
	RequestApproved = 1
	RequestRejected = 2
)

type GroupRequest struct {
	ID          int64
	MemberID    int64
	MemberName  string
	GroupID     int64
	GroupName   string
	TimeApplied time.Time
	Reason      string
	Status      int
	ActorName   string
	TimeActed   sql.NullTime
	ActReason   string
}

type PersonalMessage struct {
	ID          int64
	FromID      int64
	FromName    string
	ToID        int64
	Subject     string
	Body        string
	Time        time.Time
	IsRead      bool
}

// --- Profile ---

type ListEntry struct {
	MemberID   int64
	Name       string
	Reciprocal bool
	Online     bool
	LastLogin  sql.NullTime
}

type AlertPref struct {
	Name  string
	Value int
}

const (
	NotifyAlert = 1
	NotifyEmail = 2
)

// AlertTypes lists the configurable notification types in display order.
var AlertTypes = []string{
	"msg_mention", "msg_quote", "msg_like", "pm_new", "warn_any",
	"groupr_approved", "groupr_rejected", "buddy_request", "member_report", "msg_report",
}

// DefaultAlertPrefs apply when a member has not stored a preference.
var DefaultAlertPrefs = map[string]int{
	"msg_mention":     NotifyAlert,
	"msg_quote":       NotifyAlert,
	"msg_like":        NotifyAlert,
	"pm_new":          NotifyAlert | NotifyEmail,
	"warn_any":        NotifyAlert | NotifyEmail,
	"groupr_approved": NotifyAlert | NotifyEmail,
	"groupr_rejected": NotifyAlert | NotifyEmail,
	"buddy_request":   NotifyAlert,
	"member_report":   NotifyAlert | NotifyEmail,
	"msg_report":      NotifyAlert | NotifyEmail,
}

// Notification regularity values.
const (
	RegularityInstant = 1
	RegularityDaily   = 2
	RegularityWeekly  = 3
)

type IPUsage struct {
	IP    string
	Count int
	Last  sql.NullTime
}

type ErrorLogEntry struct {
	ID      int64
	Time    time.Time
	IP      string
	URL     string
	Message string
}

type LoginEntry struct {
	Time time.Time
	IP   string
	IP2  string
}

const (
	ExportPending  = "pending"
	ExportRunning  = "running"
	ExportComplete = "complete"
	ExportFailed   = "failed"
)

type Export struct {
	ID          int64
	MemberID    int64
	Format      string
	Datatypes   []string
	Status      string
	Path        string
	TokenHash   string
	Size        int64
	Error       string
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// Page represents a single link in the pagination control.
type Page struct {
	Number     int
	IsCurrent  bool
	IsEllipsis bool
}
