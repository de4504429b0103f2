package config

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v2"
)

// Environment variable names for the two store access secrets. These are
// required at startup; a missing value is a configuration error, not
// something to degrade around.
const (
	EnvDatabasePath = "METASYNC_DATABASE_PATH"
	EnvServiceKey   = "METASYNC_SERVICE_KEY"
)

// defaultFeedLimit is the number of recent posts fetched from a page feed
// when the caller does not specify a limit.
const defaultFeedLimit = 25

// Config represents the entire application configuration. DatabasePath and
// ServiceKey are read from the process environment rather than the yaml
// file so that deployments can inject them as secrets.
type Config struct {
	DatabasePath string         // from METASYNC_DATABASE_PATH
	ServiceKey   string         // from METASYNC_SERVICE_KEY
	Web          WebConfig      `yaml:"web"`
	Graph        GraphConfig    `yaml:"graph"`
	Facebook     FacebookConfig `yaml:"facebook"`
	PageIDs      []string       `yaml:"page_ids"`
}

// WebConfig holds settings specific to the web server.
type WebConfig struct {
	ListenAddress    string `yaml:"listen_address"`
	FacebookCallback string `yaml:"facebook_callback"`
	DevelopmentMode  bool   `yaml:"development_mode"`
	// SQLDir optionally overrides the embedded sql directory with an
	// on-disk one, for editing queries without a rebuild.
	SQLDir string `yaml:"sql_dir"`
}

// GraphConfig holds settings for the Facebook Graph API client.
type GraphConfig struct {
	BaseURL   string `yaml:"base_url"`
	Version   string `yaml:"version"`
	FeedLimit int    `yaml:"feed_limit"`
}

// FacebookConfig holds the OAuth application credentials used for the web
// login flow which captures a user access token. The section is optional;
// without it the oauth credential tier simply never resolves.
type FacebookConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	OAuth2Config *oauth2.Config
}

// Load loads and validates the configuration from the given file path and
// the process environment.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	cfg.DatabasePath = os.Getenv(EnvDatabasePath)
	cfg.ServiceKey = os.Getenv(EnvServiceKey)

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {
	// Store secrets from the environment.
	if c.DatabasePath == "" {
		return fmt.Errorf("%s is not set in the environment", EnvDatabasePath)
	}
	if c.ServiceKey == "" {
		return fmt.Errorf("%s is not set in the environment", EnvServiceKey)
	}

	// Web
	if c.Web.ListenAddress == "" {
		return errors.New("web.listen_address is missing")
	}

	// Graph defaults.
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.facebook.com"
	}
	if c.Graph.Version == "" {
		c.Graph.Version = "v21.0"
	}
	if c.Graph.FeedLimit == 0 {
		c.Graph.FeedLimit = defaultFeedLimit
	}
	if c.Graph.FeedLimit < 1 {
		return fmt.Errorf("graph.feed_limit must be positive, got %d", c.Graph.FeedLimit)
	}

	// Facebook OAuth application credentials. Both or neither must be set.
	fb := &c.Facebook
	switch {
	case fb.ClientID == "" && fb.ClientSecret == "":
		// OAuth login flow disabled.
	case fb.ClientID == "":
		return errors.New("facebook.client_id is missing but facebook.client_secret is set")
	case fb.ClientSecret == "":
		return errors.New("facebook.client_secret is missing but facebook.client_id is set")
	default:
		if c.Web.FacebookCallback == "" {
			return errors.New("web.facebook_callback is missing")
		}
		fb.OAuth2Config = &oauth2.Config{
			ClientID:     fb.ClientID,
			ClientSecret: fb.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://www.facebook.com/%s/dialog/oauth", c.Graph.Version),
				TokenURL: fmt.Sprintf("%s/%s/oauth/access_token", c.Graph.BaseURL, c.Graph.Version),
			},
			RedirectURL: c.Web.FacebookCallback,
			Scopes:      []string{"pages_show_list", "pages_read_engagement", "read_insights"},
		}
	}

	return nil
}

// OAuthEnabled reports whether the facebook OAuth login flow is configured.
func (c *Config) OAuthEnabled() bool {
	return c.Facebook.OAuth2Config != nil
}
