// Package config provides configuration loading and management for the contact directory server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/contactdir/contactdir-server/internal/telemetry"
)

// EnvPrefix is the prefix of the environment variables read by the server
const EnvPrefix = "CONTACTDIR"

const (
	// SourceTypeAPI is the type for contacts fetched from a paginated HTTP API
	SourceTypeAPI = "api"

	// SourceTypeFile is the type for contacts read from a local JSON file
	SourceTypeFile = "file"
)

const (
	// StorageTypeMemory keeps contacts in memory and the sync state in a file
	StorageTypeMemory = "memory"

	// StorageTypeSQLite stores contacts in a local SQLite database
	StorageTypeSQLite = "sqlite"

	// StorageTypeDatabase stores contacts in PostgreSQL
	StorageTypeDatabase = "database"
)

// Sync bounds and defaults
const (
	MinBatchSize           = 1
	MaxBatchSize           = 1000
	DefaultBatchSize       = 100
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 1440
	DefaultIntervalMinutes = 60
	DefaultStopTimeout     = 30 * time.Second
)

const (
	defaultDirectoryName = "default"
	defaultPagePath      = "/contacts"
	defaultRecordsPath   = "contacts"
	defaultCursorPath    = "next_cursor"
	defaultCursorParam   = "cursor"
	defaultPageSizeParam = "limit"
	dataDirName          = "contactdir"
	sqliteFileName       = "contacts.db"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path  string
	viper *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithViper reads environment overrides through v instead of a fresh
// CONTACTDIR-prefixed instance
func WithViper(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		cfg.viper = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DirectoryName identifies the synchronized directory.
	// Defaults to "default" if not specified
	DirectoryName string `yaml:"directoryName,omitempty"`

	Source    SourceConfig      `yaml:"source"`
	Sync      SyncConfig        `yaml:"sync"`
	Storage   StorageConfig     `yaml:"storage"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
	Events    *EventsConfig     `yaml:"events,omitempty"`
	CORS      *CORSConfig       `yaml:"cors,omitempty"`
}

// SourceConfig defines the remote contact source
type SourceConfig struct {
	// Type is api or file
	Type string      `yaml:"type"`
	API  *APIConfig  `yaml:"api,omitempty"`
	File *FileConfig `yaml:"file,omitempty"`
}

// APIConfig defines a paginated HTTP contact source
type APIConfig struct {
	// Endpoint is the base API URL
	Endpoint string `yaml:"endpoint"`

	// PagePath is appended to Endpoint for page requests (default /contacts)
	PagePath string `yaml:"pagePath,omitempty"`

	// RecordsPath is the gjson path of the record array in a page (default contacts)
	RecordsPath string `yaml:"recordsPath,omitempty"`

	// CursorPath is the gjson path of the continuation cursor (default next_cursor)
	CursorPath string `yaml:"cursorPath,omitempty"`

	// CursorParam is the query parameter carrying the cursor (default cursor)
	CursorParam string `yaml:"cursorParam,omitempty"`

	// PageSizeParam is the query parameter carrying the page size (default limit)
	PageSizeParam string `yaml:"pageSizeParam,omitempty"`

	// Timeout is the per-request timeout, e.g. "30s"
	Timeout string `yaml:"timeout,omitempty"`

	Auth *APIAuthConfig `yaml:"auth,omitempty"`
}

// APIAuthConfig configures credentials for the API source.
// At most one of TokenFile and ClientCredentials may be set.
type APIAuthConfig struct {
	// TokenFile holds a static bearer token
	TokenFile string `yaml:"tokenFile,omitempty"`

	ClientCredentials *ClientCredentialsConfig `yaml:"clientCredentials,omitempty"`
}

// ClientCredentialsConfig configures the OAuth2 client credentials flow
type ClientCredentialsConfig struct {
	TokenURL         string   `yaml:"tokenURL"`
	ClientID         string   `yaml:"clientID"`
	ClientSecretFile string   `yaml:"clientSecretFile"`
	Scopes           []string `yaml:"scopes,omitempty"`
}

// FileConfig defines local file source configuration
type FileConfig struct {
	// Path is the path to a JSON file of the form {"contacts": [...]}
	Path string `yaml:"path"`
}

// SyncConfig defines synchronization settings
type SyncConfig struct {
	// BatchSize is the number of records requested per page
	BatchSize int `yaml:"batchSize,omitempty"`

	// DelaySeconds is the pause between two page fetches
	DelaySeconds int `yaml:"delaySeconds,omitempty"`

	// IntervalMinutes is the period of the scheduled sync
	IntervalMinutes int `yaml:"intervalMinutes,omitempty"`

	// SchedulerEnabled gates the scheduled sync. Defaults to true
	SchedulerEnabled *bool `yaml:"schedulerEnabled,omitempty"`

	// SyncOnStartup triggers a sync when the scheduler starts. Defaults to true
	SyncOnStartup *bool `yaml:"syncOnStartup,omitempty"`

	// StopTimeout bounds how long shutdown waits for an in-flight sync, e.g. "30s"
	StopTimeout string `yaml:"stopTimeout,omitempty"`
}

// StorageConfig selects the local contact store
type StorageConfig struct {
	// Type is memory, sqlite or database. Defaults to memory
	Type string `yaml:"type,omitempty"`

	// DataDir holds local state. Defaults to $XDG_DATA_HOME/contactdir
	DataDir string `yaml:"dataDir,omitempty"`

	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// SQLiteConfig defines SQLite storage settings
type SQLiteConfig struct {
	// Path defaults to <dataDir>/contacts.db
	Path string `yaml:"path,omitempty"`
}

// EventsConfig configures sync outcome notifications
type EventsConfig struct {
	AMQP *AMQPConfig `yaml:"amqp,omitempty"`
	Mail *MailConfig `yaml:"mail,omitempty"`
}

// AMQPConfig configures the AMQP event publisher
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey,omitempty"`
}

// MailConfig configures failure notification mails
type MailConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Username     string   `yaml:"username,omitempty"`
	PasswordFile string   `yaml:"passwordFile,omitempty"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`

	// OnlyAuthExpired restricts mails to RemoteAuthExpired failures
	OnlyAuthExpired bool `yaml:"onlyAuthExpired,omitempty"`
}

// CORSConfig configures cross-origin access to the HTTP API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// ReadSecretFile reads a secret from path, trimming surrounding whitespace
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from CONTACTDIR_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return ReadSecretFile(d.PasswordFile)
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file, applies
// defaults and environment overrides, then validates the result
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	v := loaderCfg.viper
	if v == nil {
		v = NewEnvViper()
	}
	config.applyEnvOverrides(v)
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// NewEnvViper returns a viper instance reading CONTACTDIR_* variables,
// with dots in keys mapped to underscores
func NewEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides reads CONTACTDIR_SYNC_SCHEDULERENABLED, CONTACTDIR_SYNC_INTERVALMINUTES,
// CONTACTDIR_SYNC_BATCHSIZE and CONTACTDIR_SYNC_DELAYSECONDS
func (c *Config) applyEnvOverrides(v *viper.Viper) {
	if v.IsSet("sync.schedulerEnabled") {
		enabled := v.GetBool("sync.schedulerEnabled")
		c.Sync.SchedulerEnabled = &enabled
	}
	if v.IsSet("sync.intervalMinutes") {
		c.Sync.IntervalMinutes = v.GetInt("sync.intervalMinutes")
	}
	if v.IsSet("sync.batchSize") {
		c.Sync.BatchSize = v.GetInt("sync.batchSize")
	}
	if v.IsSet("sync.delaySeconds") {
		c.Sync.DelaySeconds = v.GetInt("sync.delaySeconds")
	}
}

func (c *Config) applyDefaults() {
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.IntervalMinutes == 0 {
		c.Sync.IntervalMinutes = DefaultIntervalMinutes
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageTypeMemory
	}
	if api := c.Source.API; api != nil {
		if api.PagePath == "" {
			api.PagePath = defaultPagePath
		}
		if api.RecordsPath == "" {
			api.RecordsPath = defaultRecordsPath
		}
		if api.CursorPath == "" {
			api.CursorPath = defaultCursorPath
		}
		if api.CursorParam == "" {
			api.CursorParam = defaultCursorParam
		}
		if api.PageSizeParam == "" {
			api.PageSizeParam = defaultPageSizeParam
		}
	}
}

// GetDirectoryName returns the directory name, using "default" if not specified
func (c *Config) GetDirectoryName() string {
	if c.DirectoryName == "" {
		return defaultDirectoryName
	}
	return c.DirectoryName
}

// IsSchedulerEnabled reports whether the scheduled sync should start with the server
func (s *SyncConfig) IsSchedulerEnabled() bool {
	return s.SchedulerEnabled == nil || *s.SchedulerEnabled
}

// IsSyncOnStartup reports whether a sync is requested when the scheduler starts
func (s *SyncConfig) IsSyncOnStartup() bool {
	return s.SyncOnStartup == nil || *s.SyncOnStartup
}

// GetInterval returns the scheduled sync period
func (s *SyncConfig) GetInterval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// GetDelay returns the pause between page fetches
func (s *SyncConfig) GetDelay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// GetStopTimeout returns the shutdown wait for an in-flight sync
func (s *SyncConfig) GetStopTimeout() time.Duration {
	if s.StopTimeout == "" {
		return DefaultStopTimeout
	}
	d, err := time.ParseDuration(s.StopTimeout)
	if err != nil {
		return DefaultStopTimeout
	}
	return d
}

// GetTimeout returns the per-request timeout, zero meaning the client default
func (a *APIConfig) GetTimeout() time.Duration {
	if a.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetDataDir returns the local data directory
func (s *StorageConfig) GetDataDir() string {
	if s.DataDir != "" {
		return s.DataDir
	}
	return filepath.Join(xdg.DataHome, dataDirName)
}

// GetSQLitePath returns the SQLite database file path
func (s *StorageConfig) GetSQLitePath() string {
	if s.SQLite != nil && s.SQLite.Path != "" {
		return s.SQLite.Path
	}
	return filepath.Join(s.GetDataDir(), sqliteFileName)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateSource(&c.Source); err != nil {
		return err
	}
	if err := validateSync(&c.Sync); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := validateEvents(c.Events); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func validateSource(src *SourceConfig) error {
	switch src.Type {
	case SourceTypeAPI:
		if src.API == nil {
			return fmt.Errorf("source.api is required when source.type is %s", SourceTypeAPI)
		}
		return validateAPIConfig(src.API)
	case SourceTypeFile:
		if src.File == nil || src.File.Path == "" {
			return fmt.Errorf("source.file.path is required when source.type is %s", SourceTypeFile)
		}
		return nil
	case "":
		return fmt.Errorf("source.type is required")
	default:
		return fmt.Errorf("source.type must be one of %s, %s, got %s", SourceTypeAPI, SourceTypeFile, src.Type)
	}
}

func validateAPIConfig(api *APIConfig) error {
	if api.Endpoint == "" {
		return fmt.Errorf("source.api.endpoint is required")
	}
	u, err := url.Parse(api.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.api.endpoint must be an absolute URL, got %s", api.Endpoint)
	}
	if api.Timeout != "" {
		if _, err := time.ParseDuration(api.Timeout); err != nil {
			return fmt.Errorf("source.api.timeout must be a valid duration: %w", err)
		}
	}
	if auth := api.Auth; auth != nil {
		if auth.TokenFile != "" && auth.ClientCredentials != nil {
			return fmt.Errorf("source.api.auth: only one of tokenFile or clientCredentials may be specified")
		}
		if cc := auth.ClientCredentials; cc != nil {
			if cc.TokenURL == "" || cc.ClientID == "" || cc.ClientSecretFile == "" {
				return fmt.Errorf("source.api.auth.clientCredentials requires tokenURL, clientID and clientSecretFile")
			}
		}
	}
	return nil
}

func validateSync(s *SyncConfig) error {
	if s.BatchSize < MinBatchSize || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("sync.batchSize must be between %d and %d, got %d", MinBatchSize, MaxBatchSize, s.BatchSize)
	}
	if s.DelaySeconds < 0 {
		return fmt.Errorf("sync.delaySeconds must not be negative, got %d", s.DelaySeconds)
	}
	if s.IntervalMinutes < MinIntervalMinutes || s.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("sync.intervalMinutes must be between %d and %d, got %d",
			MinIntervalMinutes, MaxIntervalMinutes, s.IntervalMinutes)
	}
	if s.StopTimeout != "" {
		d, err := time.ParseDuration(s.StopTimeout)
		if err != nil {
			return fmt.Errorf("sync.stopTimeout must be a valid duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("sync.stopTimeout must be positive")
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Type {
	case StorageTypeMemory, StorageTypeSQLite:
		return nil
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required when storage.type is %s", StorageTypeDatabase)
		}
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database.host and database.database are required")
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("storage.type must be one of %s, %s, %s, got %s",
			StorageTypeMemory, StorageTypeSQLite, StorageTypeDatabase, c.Storage.Type)
	}
}

func validateEvents(e *EventsConfig) error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.AMQP != nil {
		if e.AMQP.URL == "" {
			errs = append(errs, fmt.Errorf("events.amqp.url is required"))
		}
		if e.AMQP.Exchange == "" {
			errs = append(errs, fmt.Errorf("events.amqp.exchange is required"))
		}
	}
	if e.Mail != nil {
		if e.Mail.Host == "" || e.Mail.Port == 0 {
			errs = append(errs, fmt.Errorf("events.mail.host and events.mail.port are required"))
		}
		if e.Mail.From == "" || len(e.Mail.To) == 0 {
			errs = append(errs, fmt.Errorf("events.mail.from and events.mail.to are required"))
		}
	}
	return errors.Join(errs...)
}
