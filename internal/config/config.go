package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/schedule"
	"github.com/roach88/searchsync/internal/syncer"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "SEARCHSYNC"

// Config is the complete configuration.
type Config struct {
	Index   IndexConfig   `mapstructure:"index" json:"index"`
	Types   TypesConfig   `mapstructure:"types" json:"types"`
	Kinds   KindsConfig   `mapstructure:"kinds" json:"kinds"`
	ACL     ACLConfig     `mapstructure:"acl" json:"acl"`
	Crawl   CrawlConfig   `mapstructure:"crawl" json:"crawl"`
	Mapping MappingConfig `mapstructure:"mapping" json:"mapping"`
	Events  EventsConfig  `mapstructure:"events" json:"events"`
	Source  SourceConfig  `mapstructure:"source" json:"source"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// IndexConfig names the search index, its backend DSN and the connector
// strategy used to write to it.
type IndexConfig struct {
	Name string `mapstructure:"name" json:"name"`
	// Backend is a DSN understood by the backends package.
	Backend   string      `mapstructure:"backend" json:"backend"`
	Connector string      `mapstructure:"connector" json:"connector"`
	Batch     BatchConfig `mapstructure:"batch" json:"batch"`
}

// BatchConfig holds the batching connector's flush thresholds.
type BatchConfig struct {
	Actions  int           `mapstructure:"actions" json:"actions"`
	Bytes    int           `mapstructure:"bytes" json:"bytes"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

// TypesConfig names the document type of each entity kind.
type TypesConfig struct {
	Profile  string `mapstructure:"profile" json:"profile"`
	Activity string `mapstructure:"activity" json:"activity"`
	Message  string `mapstructure:"message" json:"message"`
}

// KindsConfig enables synchronization per entity kind.
type KindsConfig struct {
	Profiles   bool `mapstructure:"profiles" json:"profiles"`
	Activities bool `mapstructure:"activities" json:"activities"`
	Messages   bool `mapstructure:"messages" json:"messages"`
	Skills     bool `mapstructure:"skills" json:"skills"`
}

// ACLConfig controls access-control enrichment of indexed documents.
type ACLConfig struct {
	AddFriends bool `mapstructure:"add_friends" json:"add_friends"`
}

// CrawlConfig is the reconciliation schedule.
type CrawlConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	OnStart       bool   `mapstructure:"on_start" json:"on_start"`
	Mode          string `mapstructure:"mode" json:"mode"`
	Hour          int    `mapstructure:"hour" json:"hour"`
	Day           int    `mapstructure:"day" json:"day"`
	ClearOnStart  bool   `mapstructure:"clear_on_start" json:"clear_on_start"`
	ClearInterval int    `mapstructure:"clear_interval" json:"clear_interval"`
}

// MappingConfig selects the mapping file applied on reset and whether it
// is watched for changes.
type MappingConfig struct {
	Load  bool     `mapstructure:"load" json:"load"`
	Types []string `mapstructure:"types" json:"types"`
	File  string   `mapstructure:"file" json:"file"`
	Watch bool     `mapstructure:"watch" json:"watch"`
}

// EventsConfig configures incremental event intake.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Listen is the HTTP intake address; empty disables it.
	Listen string `mapstructure:"listen" json:"listen"`
	// StreamURL is a websocket event stream; empty disables it.
	StreamURL    string `mapstructure:"stream_url" json:"stream_url"`
	Workers      int    `mapstructure:"workers" json:"workers"`
	MaxBodyBytes int    `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}

// SourceConfig locates the source-of-record store.
type SourceConfig struct {
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// LogConfig enables file logging with rotation when File is set.
type LogConfig struct {
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// Error is a configuration error. It is fatal at startup.
type Error struct {
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps an *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("index.name", "shindig")
	v.SetDefault("index.backend", "memory://")
	v.SetDefault("index.connector", "batching")
	v.SetDefault("index.batch.actions", 1000)
	v.SetDefault("index.batch.bytes", 5<<20)
	v.SetDefault("index.batch.interval", "5s")

	v.SetDefault("types.profile", "person")
	v.SetDefault("types.activity", "activity")
	v.SetDefault("types.message", "message")

	v.SetDefault("kinds.profiles", true)
	v.SetDefault("kinds.activities", true)
	v.SetDefault("kinds.messages", true)
	v.SetDefault("kinds.skills", true)

	v.SetDefault("acl.add_friends", true)

	v.SetDefault("crawl.enabled", true)
	v.SetDefault("crawl.on_start", true)
	v.SetDefault("crawl.mode", "daily")
	v.SetDefault("crawl.hour", 2)
	v.SetDefault("crawl.day", 0)
	v.SetDefault("crawl.clear_on_start", false)
	v.SetDefault("crawl.clear_interval", 0)

	v.SetDefault("mapping.load", false)
	v.SetDefault("mapping.types", []string{})
	v.SetDefault("mapping.file", "")
	v.SetDefault("mapping.watch", false)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.listen", "")
	v.SetDefault("events.stream_url", "")
	v.SetDefault("events.workers", 8)
	v.SetDefault("events.max_body_bytes", 1<<20)

	v.SetDefault("source.dsn", "searchsync.db")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads the config file at path (optional when empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Field: "file", Message: fmt.Sprintf("read %s", path), Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Message: "decode", Err: err}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Index.Connector = strings.ToLower(strings.TrimSpace(c.Index.Connector))
	c.Crawl.Mode = strings.ToLower(strings.TrimSpace(c.Crawl.Mode))
	if c.Mapping.Types == nil {
		c.Mapping.Types = []string{}
	}
}

// Validate checks c against the embedded schema. Each violation becomes an
// *Error; several are joined.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Message: "compile schema", Err: err}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return &Error{Message: "encode", Err: err}
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError converts each CUE error to an *Error naming the field.
func formatCUEError(err error) error {
	var out []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, &Error{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Err:     e,
		})
	}
	if len(out) == 0 {
		return &Error{Message: err.Error(), Err: err}
	}
	return errors.Join(out...)
}

// KindTypes maps each entity kind to its document type.
func (c *Config) KindTypes() map[doc.Kind]string {
	return map[doc.Kind]string{
		doc.KindProfile:  c.Types.Profile,
		doc.KindActivity: c.Types.Activity,
		doc.KindMessage:  c.Types.Message,
	}
}

// KindEnabled reports whether the kind is synchronized.
func (c *Config) KindEnabled(k doc.Kind) bool {
	switch k {
	case doc.KindProfile:
		return c.Kinds.Profiles
	case doc.KindActivity:
		return c.Kinds.Activities
	case doc.KindMessage:
		return c.Kinds.Messages
	}
	return false
}

// Schedule returns the crawl schedule.
func (c *Config) Schedule() (schedule.Spec, error) {
	mode, err := schedule.ParseMode(c.Crawl.Mode)
	if err != nil {
		return schedule.Spec{}, &Error{Field: "crawl.mode", Message: err.Error(), Err: err}
	}
	spec := schedule.Spec{
		Mode:         mode,
		Hour:         c.Crawl.Hour,
		Day:          c.Crawl.Day,
		ClearEvery:   c.Crawl.ClearInterval,
		CrawlOnStart: c.Crawl.OnStart,
		ClearOnStart: c.Crawl.ClearOnStart,
		Enabled:      c.Crawl.Enabled,
	}
	if err := spec.Validate(); err != nil {
		return schedule.Spec{}, &Error{Field: "crawl", Message: err.Error(), Err: err}
	}
	return spec, nil
}

// Synchronizer returns the incremental synchronizer settings.
func (c *Config) Synchronizer() syncer.Config {
	return syncer.Config{
		Index:      c.Index.Name,
		Types:      c.KindTypes(),
		Profiles:   c.Kinds.Profiles,
		Activities: c.Kinds.Activities,
		Messages:   c.Kinds.Messages,
		Skills:     c.Kinds.Skills,
		FriendACL:  c.ACL.AddFriends,
	}
}
