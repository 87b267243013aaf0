package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TwilioAccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber string `env:"TWILIO_PHONE_NUMBER"`

	// Outbound REST calls per second, shared by every sender.
	TwilioSendRate  float64 `env:"TWILIO_SEND_RATE" envDefault:"10"`
	TwilioSendBurst int     `env:"TWILIO_SEND_BURST" envDefault:"10"`

	ValidateSignature bool `env:"TWILIO_VALIDATE_SIGNATURE" envDefault:"false"`

	LangGraphURL         string `env:"LANGGRAPH_URL"`
	LangGraphAssistantID string `env:"LANGGRAPH_ASSISTANT_ID" envDefault:"agent"`
	LangGraphAPIKey      string `env:"LANGGRAPH_API_KEY"`
	// GraphConfig is the raw JSON passed as the run "config".
	GraphConfig string `env:"CONFIG" envDefault:"{}"`

	AgentTimeout  time.Duration `env:"AGENT_TIMEOUT" envDefault:"120s"`
	MediaTimeout  time.Duration `env:"MEDIA_TIMEOUT" envDefault:"20s"`
	MediaMaxBytes int64         `env:"MEDIA_MAX_BYTES" envDefault:"10485760"`

	TemplateCatalog string `env:"TEMPLATE_CATALOG"`

	MCPEnabled bool   `env:"MCP_ENABLED" envDefault:"false"`
	MCPToken   string `env:"MCP_TOKEN"`

	BaseURL string `env:"BASE_URL"`
	Port    string `env:"PORT" envDefault:"8080"`
	DataDir string `env:"DATA_DIR" envDefault:"."`
	Debug   bool   `env:"DEBUG" envDefault:"false"`
}

// ConfigurationError reports settings that are missing or malformed. A
// process must not start its send-capable components while one is present.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("required env vars not set: %s", strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return "invalid configuration: " + e.Err.Error()
	default:
		return "invalid configuration"
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Load reads and validates the settings of the webhook server.
func Load() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSender is Load for commands that only send through Twilio and never
// reach the agent.
func LoadSender() (*Config, error) {
	cfg, err := parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateTwilio(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse() (*Config, error) {
	// .env is optional; env vars may already be set in production
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.Port)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LangGraphURL = strings.TrimRight(cfg.LangGraphURL, "/")
	return cfg, nil
}

type setting struct {
	name, val string
}

func requireSet(settings ...setting) error {
	var missing []string
	for _, s := range settings {
		if strings.TrimSpace(s.val) == "" {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Validate checks the settings every send-capable component depends on.
func (c *Config) Validate() error {
	if err := requireSet(
		setting{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		setting{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		setting{"TWILIO_PHONE_NUMBER", c.TwilioPhoneNumber},
		setting{"LANGGRAPH_URL", c.LangGraphURL},
	); err != nil {
		return err
	}
	if _, err := c.GraphConfigJSON(); err != nil {
		return &ConfigurationError{Err: fmt.Errorf("CONFIG: %w", err)}
	}
	if c.TwilioSendRate <= 0 {
		return &ConfigurationError{Err: fmt.Errorf("TWILIO_SEND_RATE must be positive, got %v", c.TwilioSendRate)}
	}
	if c.MCPEnabled && c.MCPToken == "" {
		return &ConfigurationError{Missing: []string{"MCP_TOKEN"}}
	}
	return nil
}

func (c *Config) validateTwilio() error {
	if err := requireSet(
		setting{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		setting{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		setting{"TWILIO_PHONE_NUMBER", c.TwilioPhoneNumber},
	); err != nil {
		return err
	}
	if c.TwilioSendRate <= 0 {
		return &ConfigurationError{Err: fmt.Errorf("TWILIO_SEND_RATE must be positive, got %v", c.TwilioSendRate)}
	}
	return nil
}

// GraphConfigJSON returns the run config as a JSON object.
func (c *Config) GraphConfigJSON() (map[string]any, error) {
	raw := strings.TrimSpace(c.GraphConfig)
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing graph config: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// WhatsAppFrom is the sender address used on every outbound message.
func (c *Config) WhatsAppFrom() string {
	if strings.HasPrefix(c.TwilioPhoneNumber, "whatsapp:") {
		return c.TwilioPhoneNumber
	}
	return "whatsapp:" + c.TwilioPhoneNumber
}
