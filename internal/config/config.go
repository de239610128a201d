// ABOUTME: Configuration loading and parsing for the cell router, cell gateway and cellctl
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration shared by all binaries.
// Each binary validates only the sections it uses.
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Cell         CellConfig         `yaml:"cell" toml:"cell"`
	AWS          AWSConfig          `yaml:"aws" toml:"aws"`
	Provisioning ProvisioningConfig `yaml:"provisioning" toml:"provisioning"`
	Templates    TemplatesConfig    `yaml:"templates" toml:"templates"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Pipeline     PipelineConfig     `yaml:"pipeline" toml:"pipeline"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Client       ClientConfig       `yaml:"client" toml:"client"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener and per-request deadlines
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-"`
	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
	RequestTimeoutRaw    string `yaml:"request_timeout" toml:"request_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// DatabaseConfig selects and configures the durable store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"` // sqlite
	DSN    string `yaml:"dsn" toml:"dsn"`   // postgres

	// DynamoDB table names
	UsersTable string `yaml:"users_table" toml:"users_table"`
	CellsTable string `yaml:"cells_table" toml:"cells_table"`
	ItemsTable string `yaml:"items_table" toml:"items_table"`
}

// Token signing schemes
const (
	SchemeHS256 = "hs256"
	SchemeEdDSA = "eddsa"
)

// AuthConfig holds capability token configuration.
// SigningKey is only needed where tokens are issued (router, cellctl);
// VerificationKey is needed wherever tokens are checked.
type AuthConfig struct {
	Scheme          string `yaml:"scheme" toml:"scheme"`
	SigningKey      KeyRef `yaml:"signing_key" toml:"signing_key"`
	VerificationKey KeyRef `yaml:"verification_key" toml:"verification_key"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// Key material sources
const (
	SourceStatic = "static"
	SourceFile   = "file"
	SourceEnv    = "env"
	SourceAWS    = "aws"
)

// KeyRef points at key material in one of the supported sources
type KeyRef struct {
	Source string `yaml:"source" toml:"source"`
	Ref    string `yaml:"ref" toml:"ref"` // literal value, file path, env var name or secret id
}

// CellConfig identifies the cell a gateway serves
type CellConfig struct {
	ID    string `yaml:"id" toml:"id"`
	Stage string `yaml:"stage" toml:"stage"`
}

// AWSConfig holds shared AWS client settings.
// Static credentials and an endpoint override are for local emulators.
type AWSConfig struct {
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// Provisioning backends
const (
	BackendCloudFormation = "cloudformation"
	BackendStatic         = "static"
)

// ProvisioningConfig configures the stack provisioner
type ProvisioningConfig struct {
	Backend       string            `yaml:"backend" toml:"backend"`
	TemplateURL   string            `yaml:"template_url" toml:"template_url"`
	StackPrefix   string            `yaml:"stack_prefix" toml:"stack_prefix"`
	AddressOutput string            `yaml:"address_output" toml:"address_output"`
	Addresses     map[string]string `yaml:"addresses" toml:"addresses"` // static backend: cell id -> address

	PollInterval    time.Duration `yaml:"-" toml:"-"`
	Timeout         time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`
	TimeoutRaw      string        `yaml:"timeout" toml:"timeout"`
}

// TemplatesConfig is where cellctl uploads the cell stack template
type TemplatesConfig struct {
	Bucket string `yaml:"bucket" toml:"bucket"`
	Key    string `yaml:"key" toml:"key"`
}

// OrchestratorConfig tunes the batch fan-out
type OrchestratorConfig struct {
	Concurrency int `yaml:"concurrency" toml:"concurrency"`

	JobTimeout    time.Duration `yaml:"-" toml:"-"`
	DedupeTTL     time.Duration `yaml:"-" toml:"-"`
	JobTimeoutRaw string        `yaml:"job_timeout" toml:"job_timeout"`
	DedupeTTLRaw  string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DefaultImage  string        `yaml:"default_image" toml:"default_image"`
	MaxBatches    int           `yaml:"max_batches" toml:"max_batches"`
}

// Pipeline reporters
const (
	ReporterLog          = "log"
	ReporterCodePipeline = "codepipeline"
)

// PipelineConfig selects where pipeline job results are reported
type PipelineConfig struct {
	Reporter string `yaml:"reporter" toml:"reporter"`
}

// RateLimitConfig limits /register and /login per client address
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int `yaml:"burst" toml:"burst"`
}

// ClientConfig is used by cellctl's client commands
type ClientConfig struct {
	RouterURL  string        `yaml:"router_url" toml:"router_url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
// PushURL is a Prometheus Pushgateway that cellctl pushes batch metrics to.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
	PushURL string `yaml:"push_url" toml:"push_url"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config file formats
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes already-expanded configuration content, parses durations
// and applies defaults. It does not validate; callers pick the Validate
// method matching their role.
func Parse(content, format string) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(content, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values left empty by the config file
func (c *Config) applyDefaults() {
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.UsersTable == "" {
		c.Database.UsersTable = "cellular-users"
	}
	if c.Database.CellsTable == "" {
		c.Database.CellsTable = "cellular-cells"
	}
	if c.Database.ItemsTable == "" {
		c.Database.ItemsTable = "cellular-items"
	}
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = SchemeHS256
	}
	if c.Cell.Stage == "" {
		c.Cell.Stage = "prod"
	}
	if c.Provisioning.Backend == "" {
		c.Provisioning.Backend = BackendStatic
	}
	if c.Provisioning.StackPrefix == "" {
		c.Provisioning.StackPrefix = "Cellular-Cell-"
	}
	if c.Provisioning.AddressOutput == "" {
		c.Provisioning.AddressOutput = "dnsName"
	}
	if c.Provisioning.PollInterval == 0 {
		c.Provisioning.PollInterval = 15 * time.Second
	}
	if c.Provisioning.Timeout == 0 {
		c.Provisioning.Timeout = 30 * time.Minute
	}
	if c.Templates.Key == "" {
		c.Templates.Key = "cell.yaml"
	}
	if c.Orchestrator.Concurrency <= 0 {
		c.Orchestrator.Concurrency = 8
	}
	if c.Orchestrator.JobTimeout == 0 {
		c.Orchestrator.JobTimeout = c.Provisioning.Timeout
	}
	if c.Orchestrator.DedupeTTL == 0 {
		c.Orchestrator.DedupeTTL = time.Hour
	}
	if c.Orchestrator.MaxBatches <= 0 {
		c.Orchestrator.MaxBatches = 256
	}
	if c.Pipeline.Reporter == "" {
		c.Pipeline.Reporter = ReporterLog
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 5 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ValidateRouter checks the fields the router needs
func (c *Config) ValidateRouter() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateAuth(true); err != nil {
		return err
	}
	return c.validateProvisioning()
}

// ValidateGateway checks the fields a cell gateway needs
func (c *Config) ValidateGateway() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Cell.ID == "" {
		return fmt.Errorf("cell.id is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateAuth(false)
}

// ValidateCtl checks the fields cellctl needs for registry and lifecycle commands
func (c *Config) ValidateCtl() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.Orchestrator.JobTimeout < 0 {
		return fmt.Errorf("orchestrator.job_timeout must not be negative")
	}
	switch c.Pipeline.Reporter {
	case ReporterLog, ReporterCodePipeline:
	default:
		return fmt.Errorf("pipeline.reporter %q is not supported", c.Pipeline.Reporter)
	}
	return c.validateProvisioning()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverDynamoDB:
		if c.AWS.Region == "" {
			return fmt.Errorf("aws.region is required for the dynamodb driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateAuth(signing bool) error {
	switch c.Auth.Scheme {
	case SchemeHS256, SchemeEdDSA:
	default:
		return fmt.Errorf("auth.scheme %q is not supported", c.Auth.Scheme)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}
	if signing {
		if err := validateKeyRef("auth.signing_key", c.Auth.SigningKey); err != nil {
			return err
		}
	}
	// hs256 verifies with the signing secret when no separate key is given
	if c.Auth.Scheme == SchemeHS256 && c.Auth.VerificationKey.Source == "" {
		if signing {
			return nil
		}
		return validateKeyRef("auth.signing_key", c.Auth.SigningKey)
	}
	return validateKeyRef("auth.verification_key", c.Auth.VerificationKey)
}

func validateKeyRef(field string, ref KeyRef) error {
	switch ref.Source {
	case SourceStatic, SourceFile, SourceEnv, SourceAWS:
	case "":
		return fmt.Errorf("%s.source is required", field)
	default:
		return fmt.Errorf("%s.source %q is not supported", field, ref.Source)
	}
	if ref.Ref == "" {
		return fmt.Errorf("%s.ref is required", field)
	}
	return nil
}

func (c *Config) validateProvisioning() error {
	switch c.Provisioning.Backend {
	case BackendStatic:
	case BackendCloudFormation:
		if c.AWS.Region == "" {
			return fmt.Errorf("aws.region is required for the cloudformation backend")
		}
	default:
		return fmt.Errorf("provisioning.backend %q is not supported", c.Provisioning.Backend)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"provisioning.poll_interval", cfg.Provisioning.PollIntervalRaw, &cfg.Provisioning.PollInterval},
		{"provisioning.timeout", cfg.Provisioning.TimeoutRaw, &cfg.Provisioning.Timeout},
		{"orchestrator.job_timeout", cfg.Orchestrator.JobTimeoutRaw, &cfg.Orchestrator.JobTimeout},
		{"orchestrator.dedupe_ttl", cfg.Orchestrator.DedupeTTLRaw, &cfg.Orchestrator.DedupeTTL},
		{"client.timeout", cfg.Client.TimeoutRaw, &cfg.Client.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config file path for the named binary.
// Priority: CELLULAR_CONFIG env var > XDG_CONFIG_HOME/cellular/<name>.yaml > ~/.config/cellular/<name>.yaml
func DefaultPath(name string) string {
	if envPath := os.Getenv("CELLULAR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return name + ".yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cellular", name+".yaml")
}
