// forumd/config/config.go
package config

const (
	AppVersion   = "0.9.0"
	DefaultTheme = "curve"
	ForumName    = "forumd"

	// Profile limits
	MaxDisplayNameLen   = 80
	MaxPersonalTextLen  = 50
	MaxSignatureLen     = 1000
	MaxWebsiteURLLen    = 255
	MaxReportCommentLen = 254
	MaxWarnReasonLen    = 255
	MinPasswordLen      = 8

	// Avatar upload limits
	MaxAvatarFileSize = 2 * 1024 * 1024 // 2MB
	AvatarWidth       = 120
	AvatarHeight      = 120

	// Item list page sizes
	ModLogPerPage       = 30
	ReportsPerPage      = 10
	ApprovalPerPage     = 10
	WarningsPerPage     = 20
	WatchedPerPage      = 20
	GroupRequestPerPage = 20
	TrackingPerPage     = 20

	// Sessions
	SessionCookieName = "forumd_session"
	SessionLifetime   = "720h"
	OnlineWindow      = "15m"

	// Rate Limiting Defaults
	DefaultRateLimitEvery  = "30s"
	DefaultRateLimitBurst  = 3
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	// Export worker defaults
	DefaultExportWorkers = 2
	DefaultExportQueue   = 32
)
