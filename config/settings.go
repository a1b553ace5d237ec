package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds forum-wide moderation settings that admins tune at runtime
// without a rebuild. They are loaded from a YAML file; absent keys keep their
// defaults.
type Settings struct {
	Warnings WarningSettings `yaml:"warnings"`
	Reports  ReportSettings  `yaml:"reports"`
	Export   ExportSettings  `yaml:"export"`
	TFA      TFASettings     `yaml:"tfa"`
	Avatars  AvatarSettings  `yaml:"avatars"`

	// PostModeration enables the post approval queue and its menu entries.
	PostModeration bool `yaml:"post_moderation"`
	// GroupRequests enables requestable membergroups.
	GroupRequests bool `yaml:"group_requests"`
	// ModerationLANOnly restricts /mod to private and loopback addresses.
	ModerationLANOnly bool `yaml:"moderation_lan_only"`
	// BackupDir receives database backups taken from the admin log page.
	BackupDir string `yaml:"backup_dir"`
}

type WarningSettings struct {
	Enabled bool `yaml:"enabled"`
	// Thresholds are percentages of the 0-100 warning scale.
	Watch    int `yaml:"watch"`
	Moderate int `yaml:"moderate"`
	Mute     int `yaml:"mute"`
	// MaxPerDay limits how many points one member can gain within 24 hours. 0 disables.
	MaxPerDay int `yaml:"max_per_day"`
	// Decay is the number of points removed per day without a new warning. 0 disables.
	Decay int `yaml:"decay"`
}

type ReportSettings struct {
	Every string `yaml:"every"`
	Burst int    `yaml:"burst"`
}

type ExportSettings struct {
	Workers   int    `yaml:"workers"`
	Retention string `yaml:"retention"`
	Dir       string `yaml:"dir"`
}

type TFASettings struct {
	Issuer string `yaml:"issuer"`
	// PendingTTL bounds how long a freshly generated secret waits for confirmation.
	PendingTTL string `yaml:"pending_ttl"`
}

type AvatarSettings struct {
	MaxBytes int64 `yaml:"max_bytes"`
	Width    int   `yaml:"width"`
	Height   int   `yaml:"height"`
}

// DefaultSettings returns the settings used when no file is configured.
func DefaultSettings() *Settings {
	return &Settings{
		Warnings: WarningSettings{
			Enabled:   true,
			Watch:     10,
			Moderate:  35,
			Mute:      60,
			MaxPerDay: 25,
			Decay:     0,
		},
		Reports: ReportSettings{
			Every: DefaultRateLimitEvery,
			Burst: DefaultRateLimitBurst,
		},
		Export: ExportSettings{
			Workers:   DefaultExportWorkers,
			Retention: "168h",
			Dir:       "./exports",
		},
		TFA: TFASettings{
			Issuer:     ForumName,
			PendingTTL: "10m",
		},
		Avatars: AvatarSettings{
			MaxBytes: MaxAvatarFileSize,
			Width:    AvatarWidth,
			Height:   AvatarHeight,
		},
		PostModeration: true,
		GroupRequests:  true,
		BackupDir:      "./backups",
	}
}

// LoadSettings reads settings from a YAML file.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that thresholds are ordered and durations parse.
func (s *Settings) Validate() error {
	w := s.Warnings
	if w.Watch < 1 || w.Mute > 100 || w.Watch > w.Moderate || w.Moderate > w.Mute {
		return fmt.Errorf("warning thresholds must satisfy 1 <= watch <= moderate <= mute <= 100")
	}
	if _, err := time.ParseDuration(s.Reports.Every); err != nil {
		return fmt.Errorf("invalid reports.every: %w", err)
	}
	if s.Reports.Burst < 1 {
		return fmt.Errorf("reports.burst must be at least 1, got %d", s.Reports.Burst)
	}
	if _, err := time.ParseDuration(s.Export.Retention); err != nil {
		return fmt.Errorf("invalid export.retention: %w", err)
	}
	if _, err := time.ParseDuration(s.TFA.PendingTTL); err != nil {
		return fmt.Errorf("invalid tfa.pending_ttl: %w", err)
	}
	if s.Export.Workers < 1 {
		s.Export.Workers = 1
	}
	return nil
}

// ExportRetention returns the parsed retention period.
func (s *Settings) ExportRetention() time.Duration {
	d, err := time.ParseDuration(s.Export.Retention)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// PendingTFATTL returns the parsed confirmation window for new secrets.
func (s *Settings) PendingTFATTL() time.Duration {
	d, err := time.ParseDuration(s.TFA.PendingTTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// WarningStatus maps a warning level onto the configured thresholds.
func (s *Settings) WarningStatus(level int) string {
	w := s.Warnings
	switch {
	case !w.Enabled || level <= 0:
		return "none"
	case level >= w.Mute:
		return "mute"
	case level >= w.Moderate:
		return "moderate"
	case level >= w.Watch:
		return "watch"
	default:
		return "none"
	}
}
