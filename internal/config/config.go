// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/policy"
	"github.com/jules-labs/lending/internal/validation"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Lending LendingConfig `yaml:"lending"`
	// Roles overrides the default limits per role name.
	Roles     map[string]policy.Limits `yaml:"roles" validate:"omitempty,dive,keys,role,endkeys"`
	Notify    NotifyConfig             `yaml:"notify"`
	Jobs      JobsConfig               `yaml:"jobs"`
	Database  DatabaseConfig           `yaml:"database"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Seed      SeedConfig               `yaml:"seed"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// LendingConfig holds the coordinator rules and the access policy lists.
type LendingConfig struct {
	PriorityRole          string        `yaml:"priority_role" validate:"required,role"`
	PriorityOverride      bool          `yaml:"priority_override"`
	HoldDays              int           `yaml:"hold_days" validate:"gte=1"`
	RevokeWindow          time.Duration `yaml:"revoke_window" validate:"gte=0"`
	QueueBehindActiveHold bool          `yaml:"queue_behind_active_hold"`
	ReminderWindow        time.Duration `yaml:"reminder_window" validate:"gt=0"`
	RemindOnReturn        bool          `yaml:"remind_on_return"`
	RestrictedKinds       []string      `yaml:"restricted_kinds" validate:"dive,kind"`
	PrivilegedRoles       []string      `yaml:"privileged_roles" validate:"dive,role"`
}

type NotifyConfig struct {
	Buffer          int           `yaml:"buffer" validate:"gte=1"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" validate:"gt=0"`
	WebhookURL      string        `yaml:"webhook_url" validate:"omitempty,url"`
	RetryAttempts   uint          `yaml:"retry_attempts" validate:"gte=1"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the webhook circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" validate:"gte=1"`
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// JobsConfig contains cron schedule settings. Specs take an optional
// leading seconds field.
type JobsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SweepHolds       string `yaml:"sweep_holds" validate:"required,cron"`
	MarkOverdue      string `yaml:"mark_overdue" validate:"required,cron"`
	SendReminders    string `yaml:"send_reminders" validate:"required,cron"`
	ReplicateJournal string `yaml:"replicate_journal" validate:"required,cron"`
}

// DatabaseConfig points at the postgres journal replica. An empty URL
// disables replication.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	ReplicateBatch int    `yaml:"replicate_batch" validate:"gte=1"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" validate:"required"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	lending := circulation.DefaultConfig()
	return &Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
		Lending: LendingConfig{
			PriorityRole:          lending.PriorityRole.String(),
			PriorityOverride:      lending.PriorityOverride,
			HoldDays:              lending.HoldDays,
			RevokeWindow:          lending.RevokeWindow,
			QueueBehindActiveHold: lending.QueueBehindActiveHold,
			ReminderWindow:        lending.ReminderWindow,
			RemindOnReturn:        lending.RemindOnReturn,
			RestrictedKinds:       []string{catalog.ResearchPaper.String()},
			PrivilegedRoles:       []string{membership.Faculty.String(), membership.Researcher.String()},
		},
		Notify: NotifyConfig{
			Buffer:          256,
			DeliveryTimeout: 5 * time.Second,
			RetryAttempts:   3,
			Breaker:         BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Jobs: JobsConfig{
			Enabled:          true,
			SweepHolds:       "0 */5 * * * *",
			MarkOverdue:      "0 0 2 * * *",
			SendReminders:    "0 0 8 * * *",
			ReplicateJournal: "*/30 * * * * *",
		},
		Database:  DatabaseConfig{ReplicateBatch: 500},
		Telemetry: TelemetryConfig{ServiceName: "lending"},
	}
}

// Load reads configuration from a YAML file on top of Default. An empty
// path skips the file. Environment variables override both.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Path returns the config file named by CONFIG_PATH, or def.
func Path(def string) string {
	return getEnv("CONFIG_PATH", def)
}

func (c *Config) overrideWithEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	if v := getEnv("JOBS_ENABLED", ""); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Jobs.Enabled = enabled
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validation.New(membership.RoleRule(), catalog.KindRule()).Validate(c); err != nil {
		return err
	}
	seen := make(map[membership.Role]bool, len(c.Roles))
	for name, limits := range c.Roles {
		role, _ := membership.ParseRole(name)
		if seen[role] {
			return fmt.Errorf("role %s configured twice", role)
		}
		seen[role] = true
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("roles.%s: %w", name, err)
		}
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// RoleTable builds the runtime role table. Roles missing from the file
// keep their default limits.
func (c *Config) RoleTable() (*policy.RoleTable, error) {
	limits := make(map[membership.Role]policy.Limits, len(policy.DefaultLimits))
	for role, l := range policy.DefaultLimits {
		limits[role] = l
	}
	for name, l := range c.Roles {
		role, err := membership.ParseRole(name)
		if err != nil {
			return nil, err
		}
		limits[role] = l
	}
	return policy.NewRoleTable(limits), nil
}

// Policy builds the access policy over roles.
func (c *Config) Policy(roles *policy.RoleTable) (*policy.Policy, error) {
	restricted := make([]catalog.Kind, 0, len(c.Lending.RestrictedKinds))
	for _, name := range c.Lending.RestrictedKinds {
		kind, err := catalog.ParseKind(name)
		if err != nil {
			return nil, err
		}
		restricted = append(restricted, kind)
	}
	privileged := make([]membership.Role, 0, len(c.Lending.PrivilegedRoles))
	for _, name := range c.Lending.PrivilegedRoles {
		role, err := membership.ParseRole(name)
		if err != nil {
			return nil, err
		}
		privileged = append(privileged, role)
	}
	return policy.New(roles, restricted, privileged), nil
}

// Circulation converts the lending section into coordinator rules.
func (c *Config) Circulation() (circulation.Config, error) {
	role, err := membership.ParseRole(c.Lending.PriorityRole)
	if err != nil {
		return circulation.Config{}, err
	}
	return circulation.Config{
		PriorityRole:          role,
		PriorityOverride:      c.Lending.PriorityOverride,
		HoldDays:              c.Lending.HoldDays,
		RevokeWindow:          c.Lending.RevokeWindow,
		QueueBehindActiveHold: c.Lending.QueueBehindActiveHold,
		ReminderWindow:        c.Lending.ReminderWindow,
		RemindOnReturn:        c.Lending.RemindOnReturn,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
