package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models pestgenie.yml.
type Config struct {
	Company struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"company"`
	Server struct {
		Host              string `yaml:"host"`
		Port              int    `yaml:"port"`
		BaseURL           string `yaml:"base_url"`
		JWTSecret         string `yaml:"jwt_secret"`
		AllowLegacyHeader bool   `yaml:"allow_legacy_header"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Webhooks    []WebhookConfig    `yaml:"webhooks"`
	ReasonCodes []ReasonCodeConfig `yaml:"reason_codes"`
	Demo        struct {
		Technician string `yaml:"technician"`
		Signature  string `yaml:"signature"`
		TickMillis int    `yaml:"tick_millis"`
	} `yaml:"demo"`
}

// WebhookConfig is one journal delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// ReasonCodeConfig adds to or overrides the seeded reason vocabulary.
type ReasonCodeConfig struct {
	Code     string `yaml:"code"`
	Label    string `yaml:"label"`
	Category string `yaml:"category"`
	Active   *bool  `yaml:"active"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with pgen init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.ID == "" {
		return fmt.Errorf("config.company.id is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port %d out of range", c.Server.Port)
	}
	for i, hook := range c.Webhooks {
		enabled := hook.Enabled == nil || *hook.Enabled
		if enabled && hook.URL == "" {
			return fmt.Errorf("webhook %d is enabled but has no url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("webhook %d has empty event kind", i)
			}
		}
	}
	seen := make(map[string]struct{}, len(c.ReasonCodes))
	for _, rc := range c.ReasonCodes {
		if rc.Code == "" {
			return fmt.Errorf("config.reason_codes contains empty code")
		}
		if _, dup := seen[rc.Code]; dup {
			return fmt.Errorf("reason code %s defined twice", rc.Code)
		}
		seen[rc.Code] = struct{}{}
		switch rc.Category {
		case "", "skip", "move", "any":
		default:
			return fmt.Errorf("reason code %s has unknown category %s", rc.Code, rc.Category)
		}
	}
	if c.Demo.TickMillis < 0 {
		return fmt.Errorf("config.demo.tick_millis must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pestgenie.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(companyID string) string {
	return fmt.Sprintf(defaultTemplate, companyID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a company.
func Default(companyID string) *Config {
	var cfg Config
	cfg.Company.ID = companyID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, companyID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `company:
  id: %s
  name: PestGenie Field Services

server:
  host: 127.0.0.1
  port: 8787
  base_url: ""
  jwt_secret: ""
  allow_legacy_header: true

database:
  path: ""

webhooks: []

reason_codes:
  - code: customer-not-home
    label: "Customer not home"
    category: skip
  - code: access-blocked
    label: "No access to treatment area"
    category: skip
  - code: weather-delay
    label: "Weather conditions unsafe"
    category: skip
  - code: safety-hazard
    label: "Safety hazard on site"
    category: skip
  - code: customer-refused
    label: "Customer refused service"
    category: skip
  - code: customer-request
    label: "Customer requested new time"
    category: move
  - code: schedule-conflict
    label: "Schedule conflict"
    category: move
  - code: traffic-delay
    label: "Traffic or travel delay"
    category: move
  - code: dispatcher-request
    label: "Dispatcher reprioritized route"
    category: any

demo:
  technician: tech-demo
  signature: "Demo Technician"
  tick_millis: 400
`
