package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateOIDC(); err != nil {
		return fmt.Errorf("oidc config: %w", err)
	}

	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https: %s", c.Server.BaseURL)
	}

	return nil
}

func (c *Config) validateOIDC() error {
	if !hasScope(c.OIDC.Scope, "openid") {
		return fmt.Errorf("'openid' scope is required")
	}

	if c.OIDC.ResponseType != "id_token" && c.OIDC.ResponseType != "id_token token" {
		return fmt.Errorf("invalid response_type: %s (must be id_token or \"id_token token\")", c.OIDC.ResponseType)
	}

	for name, raw := range map[string]string{
		"redirect_uri": c.OIDC.RedirectURI,
		"logout_uri":   c.OIDC.LogoutURI,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Fragment != "" {
			return fmt.Errorf("%s must not carry a fragment: %s", name, raw)
		}
	}

	if c.OIDC.AdvanceRefresh < 0 {
		return fmt.Errorf("advance_refresh must not be negative")
	}

	return nil
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func (c *Config) validateCache() error {
	if c.Cache.Type == "redis" {
		if c.Cache.Redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	output := strings.ToLower(c.Logging.Output)
	if output != "stdout" && output != "stderr" {
		return fmt.Errorf("invalid output: %s (must be stdout or stderr)", c.Logging.Output)
	}

	return nil
}
