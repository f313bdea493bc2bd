package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OIDC    OIDCConfig    `yaml:"oidc"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host    string `yaml:"host" validate:"required"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// RequireLogin redirects page navigations to the login route while no
	// token is stored.
	RequireLogin bool `yaml:"require_login"`
}

// OIDCConfig is the static identity provider setup handed to the session
// controller. It is read-only once loaded.
type OIDCConfig struct {
	// Issuer enables discovery of the authorization and end-session
	// endpoints. Optional.
	Issuer string `yaml:"issuer,omitempty" validate:"omitempty,url"`

	BasePath string `yaml:"base_path" validate:"required,url"`
	ClientID string `yaml:"client_id" validate:"required"`

	// APIURL scopes bearer augmentation. Absolute URLs are matched as a
	// prefix of the full request URL, relative ones against the path.
	APIURL string `yaml:"api_url"`

	ResponseType string `yaml:"response_type" validate:"required"`
	Scope        string `yaml:"scope" validate:"required"`
	RedirectURI  string `yaml:"redirect_uri" validate:"required,url"`
	LogoutURI    string `yaml:"logout_uri" validate:"required,url"`
	State        string `yaml:"state"`

	AuthorizationEndpoint string `yaml:"authorization_endpoint" validate:"required"`
	RevocationEndpoint    string `yaml:"revocation_endpoint"`
	EndSessionEndpoint    string `yaml:"end_session_endpoint" validate:"required"`

	// AdvanceRefresh is the number of seconds before expiry at which a
	// silent refresh is attempted. Zero disables proactive refresh.
	AdvanceRefresh int `yaml:"advance_refresh" validate:"min=0"`

	EnableRequestChecks bool `yaml:"enable_request_checks"`
	StickToLastKnownIdp bool `yaml:"stick_to_last_known_idp"`
}

// AdvanceRefreshDuration is AdvanceRefresh as a time.Duration.
func (c OIDCConfig) AdvanceRefreshDuration() time.Duration {
	return time.Duration(c.AdvanceRefresh) * time.Second
}

type BackendConfig struct {
	URL            string            `yaml:"url" validate:"required,url"`
	Timeout        time.Duration     `yaml:"timeout"`
	PreserveHost   bool              `yaml:"preserve_host"`
	HeaderMappings map[string]string `yaml:"header_mappings"`
}

type CacheConfig struct {
	Type      string       `yaml:"type" validate:"oneof=memory redis"`
	KeyPrefix string       `yaml:"key_prefix"`
	Redis     *RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address    string `yaml:"address" validate:"required"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a yaml document and applies defaults and environment
// overrides. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.loadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() error {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	baseURL := strings.TrimSuffix(c.Server.BaseURL, "/")

	if c.OIDC.APIURL == "" {
		c.OIDC.APIURL = "/api/"
	}
	if c.OIDC.ResponseType == "" {
		c.OIDC.ResponseType = "id_token"
	}
	if c.OIDC.Scope == "" {
		c.OIDC.Scope = "openid profile"
	}
	if c.OIDC.RedirectURI == "" {
		c.OIDC.RedirectURI = baseURL + "/auth/callback"
	}
	if c.OIDC.LogoutURI == "" {
		c.OIDC.LogoutURI = baseURL + "/auth/clear"
	}
	if c.OIDC.AuthorizationEndpoint == "" {
		c.OIDC.AuthorizationEndpoint = "connect/authorize"
	}
	if c.OIDC.RevocationEndpoint == "" {
		c.OIDC.RevocationEndpoint = "connect/revocation"
	}
	if c.OIDC.EndSessionEndpoint == "" {
		c.OIDC.EndSessionEndpoint = "connect/endsession"
	}
	if c.OIDC.BasePath == "" && c.OIDC.Issuer != "" {
		c.OIDC.BasePath = c.OIDC.Issuer
	}

	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "sso-session:"
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if c.Cache.Redis.PoolSize == 0 {
			c.Cache.Redis.PoolSize = 10
		}
		if c.Cache.Redis.MaxRetries == 0 {
			c.Cache.Redis.MaxRetries = 3
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	return nil
}

// DefaultAdvanceRefresh applies when advance_refresh is omitted. An explicit
// 0 disables proactive refresh.
const DefaultAdvanceRefresh = 300

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	raw := plain{OIDC: OIDCConfig{AdvanceRefresh: DefaultAdvanceRefresh}}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

func (c *Config) loadSecretsFromEnv() error {
	if envClientID := os.Getenv("SSO_SESSION_CLIENT_ID"); envClientID != "" {
		c.OIDC.ClientID = envClientID
	}
	if envBasePath := os.Getenv("SSO_SESSION_BASE_PATH"); envBasePath != "" {
		c.OIDC.BasePath = envBasePath
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
			c.Cache.Redis.Password = envPassword
		}
	}

	return nil
}
