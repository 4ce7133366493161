// Package config loads frontdesk.yaml with FRONTDESK_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/mklimuk/frontdesk/pkg/sendup"
)

const (
	EnvPrefix = "FRONTDESK"
	// PathEnv names an extra directory searched for frontdesk.yaml.
	PathEnv  = "FRONTDESK_CONFIG_PATH"
	fileName = "frontdesk"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	DB       DBConfig       `mapstructure:"db"`
	AI       AIConfig       `mapstructure:"ai"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Contacts ContactsConfig `mapstructure:"contacts"`
	SendUp   SendUpConfig   `mapstructure:"sendup"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	Stream   string `mapstructure:"stream"`
}

type PostgresConfig struct {
	DSN          string        `mapstructure:"dsn"`
	Channel      string        `mapstructure:"channel"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// DBConfig is the SQLite database holding the job log, and the documents when
// the sqlite backend is selected.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AIConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"baseURL"`
	// APIKey falls back to the provider's key variable, e.g. GEMINI_API_KEY.
	APIKey string `mapstructure:"apiKey"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chatID"`
}

type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channelID"`
}

type DriveConfig struct {
	Credentials string `mapstructure:"credentials"`
	FolderID    string `mapstructure:"folderID"`
}

type SnapshotConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Push        bool   `mapstructure:"push"`
	SSHKey      string `mapstructure:"sshKey"`
	AuthorName  string `mapstructure:"authorName"`
	AuthorEmail string `mapstructure:"authorEmail"`
}

type JobsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timezone       string        `mapstructure:"timezone"`
	ArchiveWeek    string        `mapstructure:"archiveWeek"`
	RecoveryCheck  string        `mapstructure:"recoveryCheck"`
	IncidentReport string        `mapstructure:"incidentReport"`
	PruneChanges   string        `mapstructure:"pruneChanges"`
	KeepChanges    time.Duration `mapstructure:"keepChanges"`
}

type ContactsConfig struct {
	// File replaces the built-in directory.
	File string `mapstructure:"file"`
}

type SendUpConfig struct {
	Lists []sendup.List `mapstructure:"lists"`
}

var aiKeyEnv = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"moonshot":  "MOONSHOT_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("store.backend", BackendLocal)
	v.SetDefault("store.path", "~/.frontdesk/data")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "frontdesk:doc:")
	v.SetDefault("store.redis.stream", "frontdesk:changes")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.channel", "frontdesk_changes")
	v.SetDefault("store.postgres.pollInterval", 5*time.Second)

	v.SetDefault("db.path", "~/.frontdesk/frontdesk.db")

	v.SetDefault("ai.provider", "none")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.baseURL", "")
	v.SetDefault("ai.apiKey", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chatID", 0)
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.channelID", "")

	v.SetDefault("drive.credentials", "")
	v.SetDefault("drive.folderID", "")

	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.push", false)
	v.SetDefault("snapshot.sshKey", "")
	v.SetDefault("snapshot.authorName", "frontdesk")
	v.SetDefault("snapshot.authorEmail", "frontdesk@localhost")

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.timezone", "Local")
	v.SetDefault("jobs.archiveWeek", "5 0 * * 0")
	v.SetDefault("jobs.recoveryCheck", "@hourly")
	v.SetDefault("jobs.incidentReport", "0 6 * * 1")
	v.SetDefault("jobs.pruneChanges", "@daily")
	v.SetDefault("jobs.keepChanges", 7*24*time.Hour)

	v.SetDefault("contacts.file", "")
}

// Load reads the configuration. file, when set, is the only file read;
// otherwise frontdesk.yaml is searched in $FRONTDESK_CONFIG_PATH, the working
// directory and ~/.frontdesk. A missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	_ = v.BindEnv("discord.token", "DISCORD_TOKEN")

	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(fileName)
		if override := os.Getenv(PathEnv); override != "" {
			v.AddConfigPath(override)
		}
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.frontdesk")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	var err error
	for _, p := range []*string{&c.Store.Path, &c.DB.Path, &c.Drive.Credentials, &c.Snapshot.SSHKey, &c.Contacts.File} {
		if *p, err = homedir.Expand(*p); err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
	}
	if c.AI.APIKey == "" {
		if name, ok := aiKeyEnv[c.AI.Provider]; ok {
			c.AI.APIKey = os.Getenv(name)
		}
	}
	switch c.Store.Backend {
	case BackendMemory, BackendLocal, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// Location is the time zone job schedules are read in.
func (j JobsConfig) Location() (*time.Location, error) {
	if j.Timezone == "" || j.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", j.Timezone, err)
	}
	return loc, nil
}
