// Package config loads the server configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stagepipe/stagepipe/pkg/backend"
	"github.com/stagepipe/stagepipe/pkg/operation"
	"github.com/stagepipe/stagepipe/pkg/query"
)

// Transport names accepted by server.transport.
const (
	TransportREST     = "rest"
	TransportMCPStdio = "mcp-stdio"
	TransportMCPHTTP  = "mcp-http"
)

// Config holds the complete server configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Sources    []SourceConfig    `yaml:"sources"`
	Database   DatabaseConfig    `yaml:"database"`
	Auth       AuthConfig        `yaml:"auth"`
	Logging    LoggingConfig     `yaml:"logging"`
	Operations []OperationConfig `yaml:"operations"`
}

// ServerConfig configures the protocol surface.
type ServerConfig struct {
	Name      string    `yaml:"name"`
	Transport string    `yaml:"transport"` // "rest", "mcp-stdio", "mcp-http"
	Address   string    `yaml:"address"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SourceConfig configures one named source provider.
type SourceConfig struct {
	Name            string        `yaml:"name"`
	Kind            string        `yaml:"kind"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DatabaseConfig configures schema management.
type DatabaseConfig struct {
	// Migrate applies embedded migrations to the first postgres source
	// at startup.
	Migrate bool `yaml:"migrate"`
}

// AuthConfig configures request authentication for HTTP surfaces.
type AuthConfig struct {
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	JWT            JWTAuthConfig    `yaml:"jwt"`
	AllowAnonymous bool             `yaml:"allow_anonymous"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef is one named API key. Hash is a bcrypt hash of the key
// value; plaintext keys never appear in configuration.
type APIKeyDef struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// JWTAuthConfig configures bearer-token authentication.
type JWTAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Issuer     string `yaml:"issuer"`
	SigningKey string `yaml:"signing_key"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// OperationConfig declares one operation: a name, a JSON statement
// template, and optional output shaping.
type OperationConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Template    string            `yaml:"template"`
	Shaping     operation.Shaping `yaml:"shaping"`
}

// Load reads, expands, parses, and defaults the configuration file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "stagepipe"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportREST
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Server.Transport {
	case TransportREST, TransportMCPStdio, TransportMCPHTTP:
	default:
		errs = append(errs, fmt.Sprintf("server.transport %q is not one of rest, mcp-stdio, mcp-http", c.Server.Transport))
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls requires cert_file and key_file when enabled")
		}
	}

	if len(c.Sources) == 0 {
		errs = append(errs, "at least one source is required")
	}
	seenSources := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: name is required", i))
		}
		if _, dup := seenSources[src.Name]; dup {
			errs = append(errs, fmt.Sprintf("sources[%d]: duplicate name %q", i, src.Name))
		}
		seenSources[src.Name] = struct{}{}
		if _, err := backend.Parse(src.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("sources[%d] (%s): %v", i, src.Name, err))
		}
		if src.DSN == "" {
			errs = append(errs, fmt.Sprintf("sources[%d] (%s): dsn is required", i, src.Name))
		}
	}

	if c.Auth.APIKeys.Enabled && len(c.Auth.APIKeys.Keys) == 0 {
		errs = append(errs, "auth.api_keys.keys is required when api keys are enabled")
	}
	for i, key := range c.Auth.APIKeys.Keys {
		if key.Name == "" || key.Hash == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys.keys[%d]: name and hash are required", i))
		}
	}
	if c.Auth.JWT.Enabled {
		if c.Auth.JWT.SigningKey == "" {
			errs = append(errs, "auth.jwt.signing_key is required when jwt is enabled")
		}
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, "auth.jwt.issuer is required when jwt is enabled")
		}
	}

	if len(c.Operations) == 0 {
		errs = append(errs, "at least one operation is required")
	}
	for i, op := range c.Operations {
		if op.Name == "" {
			errs = append(errs, fmt.Sprintf("operations[%d]: name is required", i))
		}
		if strings.TrimSpace(op.Template) == "" {
			errs = append(errs, fmt.Sprintf("operations[%d] (%s): template is required", i, op.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Definitions parses every operation's template into the catalog
// entries the registry is built from. Template parse failures name the
// operation so bad config fails startup with a usable message.
func (c *Config) Definitions() ([]*operation.Definition, error) {
	defs := make([]*operation.Definition, 0, len(c.Operations))
	for _, op := range c.Operations {
		tmpl, err := query.ParseTemplate([]byte(op.Template))
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}
		defs = append(defs, &operation.Definition{
			Name:        op.Name,
			Description: op.Description,
			Template:    tmpl,
			Shaping:     op.Shaping,
		})
	}
	return defs, nil
}
