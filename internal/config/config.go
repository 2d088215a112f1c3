package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// OAuthConfig holds the OAuth server-to-server credentials for the modern
// API surface.
type OAuthConfig struct {
	ClientID      string   `env:"AEM_CLIENT_ID"`
	ClientSecret  string   `env:"AEM_CLIENT_SECRET"`
	Scopes        []string `env:"AEM_SCOPES" envSeparator:","`
	TokenEndpoint string   `env:"ADOBE_IMS_TOKEN_ENDPOINT" envDefault:"https://ims-na1.adobelogin.com/ims/token/v3"`
}

func (c OAuthConfig) configured() bool {
	return c.ClientID != "" || c.ClientSecret != ""
}

// JWTConfig holds the technical-account credentials for the classic API
// surface. The fields can be supplied individually or as one Adobe Developer
// Console service-account JSON document.
type JWTConfig struct {
	OrgID              string `env:"AEM_IMS_ORG_ID"`
	TechnicalAccountID string `env:"AEM_TECHNICAL_ACCOUNT_ID"`
	ClientID           string `env:"AEM_SA_CLIENT_ID"`
	ClientSecret       string `env:"AEM_SA_CLIENT_SECRET"`
	PrivateKeyPEM      string `env:"AEM_PRIVATE_KEY_PEM"`
	PrivateKeyPath     string `env:"AEM_PRIVATE_KEY_PATH"`
	IMSHost            string `env:"AEM_IMS_HOST" envDefault:"https://ims-na1.adobelogin.com"`
	Metascope          string `env:"AEM_METASCOPE" envDefault:"ent_aem_cloud_api"`
	ExchangeEndpoint   string `env:"AEM_JWT_EXCHANGE_ENDPOINT"`

	// ServiceAccountJSON is either a file path or the inline JSON document.
	ServiceAccountJSON string `env:"AEM_SERVICE_ACCOUNT_JSON"`
}

func (c JWTConfig) configured() bool {
	return c.ClientID != "" || c.ServiceAccountJSON != ""
}

// Config is the process configuration, resolved once at startup.
type Config struct {
	AEMBaseURL string        `env:"AEM_BASE_URL"`
	Timeout    time.Duration `env:"AEM_HTTP_TIMEOUT" envDefault:"30s"`
	Port       int           `env:"PORT" envDefault:"8080"`

	BulkConcurrency      int `env:"BULK_CONCURRENCY" envDefault:"4"`
	BulkAuthFailureLimit int `env:"BULK_AUTH_FAILURE_LIMIT" envDefault:"3"`

	OAuth OAuthConfig
	JWT   JWTConfig

	// Bulk-run history backends; Redis wins when both are set.
	RedisURL    string        `env:"REDIS_URL"`
	DatabaseURL string        `env:"DATABASE_URL"`
	HistoryTTL  time.Duration `env:"HISTORY_TTL" envDefault:"720h"`

	// Optional AMQP audit events.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"aem.assets.events"`
}

// fileOverlay is the optional YAML settings file (AEM_MCP_CONFIG). It covers
// non-secret settings only; credentials always come from env or the secrets
// manager.
type fileOverlay struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
	Port    int    `yaml:"port"`
	Bulk    struct {
		Concurrency      int `yaml:"concurrency"`
		AuthFailureLimit int `yaml:"auth_failure_limit"`
	} `yaml:"bulk"`
	Events struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"events"`
}

// Load parses the process config from the environment, applies the optional
// YAML overlay, resolves the service-account document, and validates that at
// least one authentication surface is usable.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if path := os.Getenv("AEM_MCP_CONFIG"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.JWT.resolve(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if overlay.BaseURL != "" {
		c.AEMBaseURL = overlay.BaseURL
	}
	if overlay.Timeout != "" {
		d, err := time.ParseDuration(overlay.Timeout)
		if err != nil {
			return fmt.Errorf("config file %s: invalid timeout: %w", path, err)
		}
		c.Timeout = d
	}
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	if overlay.Bulk.Concurrency != 0 {
		c.BulkConcurrency = overlay.Bulk.Concurrency
	}
	if overlay.Bulk.AuthFailureLimit != 0 {
		c.BulkAuthFailureLimit = overlay.Bulk.AuthFailureLimit
	}
	if overlay.Events.URL != "" {
		c.AMQPURL = overlay.Events.URL
	}
	if overlay.Events.Exchange != "" {
		c.AMQPExchange = overlay.Events.Exchange
	}
	return nil
}

// serviceAccount mirrors the Adobe Developer Console integration document.
type serviceAccount struct {
	Integration struct {
		IMSEndpoint string `json:"imsEndpoint"`
		Org         string `json:"org"`
		ID          string `json:"id"`
		Metascopes  string `json:"metascopes"`
		PrivateKey  string `json:"privateKey"`

		TechnicalAccount struct {
			ClientID     string `json:"clientId"`
			ClientSecret string `json:"clientSecret"`
		} `json:"technicalAccount"`
	} `json:"integration"`
}

// resolve fills the JWT fields from the service-account document and the
// private key file, without overriding anything set explicitly.
func (c *JWTConfig) resolve() error {
	if c.ServiceAccountJSON != "" {
		raw := []byte(c.ServiceAccountJSON)
		if !json.Valid(raw) {
			// Not inline JSON, treat as a file path.
			data, err := os.ReadFile(c.ServiceAccountJSON)
			if err != nil {
				return fmt.Errorf("reading service account file: %w", err)
			}
			raw = data
		}

		var doc serviceAccount
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing service account JSON: %w", err)
		}
		if doc.Integration.TechnicalAccount.ClientID == "" {
			return fmt.Errorf("service account JSON missing integration.technicalAccount")
		}

		integ := doc.Integration
		setIfEmpty(&c.OrgID, integ.Org)
		setIfEmpty(&c.TechnicalAccountID, integ.ID)
		setIfEmpty(&c.ClientID, integ.TechnicalAccount.ClientID)
		setIfEmpty(&c.ClientSecret, integ.TechnicalAccount.ClientSecret)
		setIfEmpty(&c.PrivateKeyPEM, integ.PrivateKey)
		setIfEmpty(&c.Metascope, integ.Metascopes)
		if integ.IMSEndpoint != "" {
			c.IMSHost = "https://" + integ.IMSEndpoint
		}
	}

	if c.PrivateKeyPEM == "" && c.PrivateKeyPath != "" {
		data, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("reading private key file: %w", err)
		}
		c.PrivateKeyPEM = string(data)
	}
	return nil
}

// Validate fails startup when required settings are absent. Either scheme
// may be configured alone, but a partially configured scheme is an error.
func (c *Config) Validate() error {
	if c.AEMBaseURL == "" {
		return fmt.Errorf("AEM_BASE_URL is required")
	}
	if !c.OAuth.configured() && !c.JWT.configured() {
		return fmt.Errorf("no authentication configured: set AEM_CLIENT_ID/AEM_CLIENT_SECRET or AEM_SERVICE_ACCOUNT_JSON")
	}

	if c.OAuth.configured() {
		switch {
		case c.OAuth.ClientID == "":
			return fmt.Errorf("AEM_CLIENT_ID is required when OAuth is configured")
		case c.OAuth.ClientSecret == "":
			return fmt.Errorf("AEM_CLIENT_SECRET is required when OAuth is configured")
		case len(c.OAuth.Scopes) == 0:
			return fmt.Errorf("AEM_SCOPES is required when OAuth is configured")
		}
	}

	if c.JWT.configured() {
		switch {
		case c.JWT.OrgID == "":
			return fmt.Errorf("AEM_IMS_ORG_ID is required when the service account is configured")
		case c.JWT.TechnicalAccountID == "":
			return fmt.Errorf("AEM_TECHNICAL_ACCOUNT_ID is required when the service account is configured")
		case c.JWT.ClientID == "":
			return fmt.Errorf("AEM_SA_CLIENT_ID is required when the service account is configured")
		case c.JWT.ClientSecret == "":
			return fmt.Errorf("AEM_SA_CLIENT_SECRET is required when the service account is configured")
		case c.JWT.PrivateKeyPEM == "":
			return fmt.Errorf("AEM_PRIVATE_KEY_PEM or AEM_PRIVATE_KEY_PATH is required when the service account is configured")
		}
	}
	return nil
}

// APIKey returns the value sent as x-api-key on every AEM call. The backend
// expects the OAuth client id; when only the service account is configured,
// its client id is used.
func (c *Config) APIKey() string {
	if c.OAuth.ClientID != "" {
		return c.OAuth.ClientID
	}
	return c.JWT.ClientID
}

func setIfEmpty(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}
