// Package config loads the YAML documents of the console and the dev backend
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lirancohen/adminpulse/internal/logging"
)

// Duration is a time.Duration written as a Go duration string ("5s", "2m")
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Client is the console configuration
type Client struct {
	Log      logging.Config `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Feeds    FeedsConfig    `yaml:"feeds"`
}

// APIConfig points at the admin backend
type APIConfig struct {
	URL           string   `yaml:"url"`
	SessionCookie string   `yaml:"session_cookie"`
	CookieName    string   `yaml:"cookie_name"`
	Timeout       Duration `yaml:"timeout"`
}

// RealtimeConfig tunes the websocket connection
type RealtimeConfig struct {
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
}

// FeedConfig is shared by every feed
type FeedConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	PollInterval Duration `yaml:"poll_interval"`
	Window       int      `yaml:"window"`
	Types        []string `yaml:"types,omitempty"`
}

// On reports whether the feed should run; feeds are on unless disabled
func (f FeedConfig) On() bool {
	return f.Enabled == nil || *f.Enabled
}

// WorkflowsConfig adds the orphan step event policy
type WorkflowsConfig struct {
	FeedConfig   `yaml:",inline"`
	OrphanPolicy string `yaml:"orphan_policy"`
	OrphanBuffer int    `yaml:"orphan_buffer"`
}

// FeedsConfig groups the per-feed settings
type FeedsConfig struct {
	Activity      FeedConfig      `yaml:"activity"`
	Pricing       FeedConfig      `yaml:"pricing"`
	Workflows     WorkflowsConfig `yaml:"workflows"`
	Security      FeedConfig      `yaml:"security"`
	Notifications FeedConfig      `yaml:"notifications"`
}

// Server is the dev backend configuration
type Server struct {
	Log       logging.Config  `yaml:"log"`
	Listen    string          `yaml:"listen"`
	Database  string          `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Broker    BrokerConfig    `yaml:"broker"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// AuthConfig configures cookie sessions and ws tokens
type AuthConfig struct {
	Issuer     string   `yaml:"issuer"`
	SigningKey string   `yaml:"signing_key"` // base64 ed25519 seed, generated when empty
	TokenTTL   Duration `yaml:"token_ttl"`
	SessionTTL Duration `yaml:"session_ttl"`
	CookieName string   `yaml:"cookie_name"`
}

// BrokerConfig configures the SockJS endpoint
type BrokerConfig struct {
	Heartbeat  Duration `yaml:"heartbeat"`
	SendBuffer int      `yaml:"send_buffer"`
}

// SimulatorConfig drives the synthetic event generator
type SimulatorConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	User     string   `yaml:"user"`
}

// Defaults
const (
	DefaultCookieName     = "admin_session"
	DefaultAPITimeout     = 10 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultListen         = "127.0.0.1:8080"
	DefaultDatabase       = "adminpulse-dev.db"
	DefaultIssuer         = "adminpulse-dev"
	DefaultTokenTTL       = 60 * time.Second
	DefaultSessionTTL     = 24 * time.Hour
	DefaultHeartbeat      = 25 * time.Second
	DefaultSendBuffer     = 256
	DefaultSimInterval    = 3 * time.Second
)

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or nothing when unset
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// LoadClient reads a console config file and fills in defaults
func LoadClient(path string) (*Client, error) {
	var c Client
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero values
func (c *Client) ApplyDefaults() {
	if c.API.CookieName == "" {
		c.API.CookieName = DefaultCookieName
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = Duration(DefaultAPITimeout)
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = Duration(DefaultReconnectDelay)
	}
	if c.Realtime.ConnectTimeout == 0 {
		c.Realtime.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.Realtime.IdleTimeout == 0 {
		c.Realtime.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.Feeds.Workflows.OrphanPolicy == "" {
		c.Feeds.Workflows.OrphanPolicy = "drop"
	}
}

// Validate checks the fields that have no usable default
func (c *Client) Validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return fmt.Errorf("api.url must be http(s): %s", c.API.URL)
	}
	switch c.Feeds.Workflows.OrphanPolicy {
	case "drop", "buffer":
	default:
		return fmt.Errorf("feeds.workflows.orphan_policy must be drop or buffer, got %q", c.Feeds.Workflows.OrphanPolicy)
	}
	return nil
}

// LoadServer reads a dev backend config file and fills in defaults
func LoadServer(path string) (*Server, error) {
	var s Server
	if err := load(path, &s); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	return &s, nil
}

// ApplyDefaults fills zero values
func (s *Server) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.Database == "" {
		s.Database = DefaultDatabase
	}
	if s.Auth.Issuer == "" {
		s.Auth.Issuer = DefaultIssuer
	}
	if s.Auth.TokenTTL == 0 {
		s.Auth.TokenTTL = Duration(DefaultTokenTTL)
	}
	if s.Auth.SessionTTL == 0 {
		s.Auth.SessionTTL = Duration(DefaultSessionTTL)
	}
	if s.Auth.CookieName == "" {
		s.Auth.CookieName = DefaultCookieName
	}
	if s.Broker.Heartbeat == 0 {
		s.Broker.Heartbeat = Duration(DefaultHeartbeat)
	}
	if s.Broker.SendBuffer == 0 {
		s.Broker.SendBuffer = DefaultSendBuffer
	}
	if s.Simulator.Interval == 0 {
		s.Simulator.Interval = Duration(DefaultSimInterval)
	}
	if s.Simulator.User == "" {
		s.Simulator.User = "admin@shop.test"
	}
}
