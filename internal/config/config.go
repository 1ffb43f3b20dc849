package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "coordline.yml"

// Config models coordline.yml.
type Config struct {
	Organisation struct {
		RootTitle  string `yaml:"root_title"`
		RootPoints int    `yaml:"root_points"`
	} `yaml:"organisation"`
	Governance struct {
		Bestuur          []string `yaml:"bestuur"`
		RootCoordinators []string `yaml:"root_coordinators"`
	} `yaml:"governance"`
	Aliases struct {
		Pattern   string `yaml:"pattern"`
		MinLength int    `yaml:"min_length"`
		MaxLength int    `yaml:"max_length"`
	} `yaml:"aliases"`
	Notifications struct {
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`

	aliasRE *regexp.Regexp
}

// Webhook is an outbound notification target. An empty Events list means
// every event.
type Webhook struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the webhook should receive deliveries.
func (w Webhook) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organisation.RootTitle) == "" {
		return fmt.Errorf("config.organisation.root_title is required")
	}
	if c.Organisation.RootPoints < 0 {
		return fmt.Errorf("config.organisation.root_points must be non-negative")
	}
	if c.Aliases.MinLength <= 0 {
		c.Aliases.MinLength = 2
	}
	if c.Aliases.MaxLength == 0 {
		c.Aliases.MaxLength = 64
	}
	if c.Aliases.MaxLength < c.Aliases.MinLength {
		return fmt.Errorf("config.aliases.max_length must be >= min_length")
	}
	if c.Aliases.Pattern == "" {
		c.Aliases.Pattern = defaultAliasPattern
	}
	re, err := regexp.Compile(c.Aliases.Pattern)
	if err != nil {
		return fmt.Errorf("config.aliases.pattern: %w", err)
	}
	c.aliasRE = re
	if len(c.Governance.Bestuur) == 0 {
		return fmt.Errorf("config.governance.bestuur needs at least one alias")
	}
	for _, group := range [][]string{c.Governance.Bestuur, c.Governance.RootCoordinators} {
		for _, alias := range group {
			if err := c.ValidateAlias(alias); err != nil {
				return fmt.Errorf("config.governance: %w", err)
			}
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must be non-negative", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty event filter", i)
			}
		}
	}
	return nil
}

// ValidateAlias checks alias against the configured length and pattern.
func (c *Config) ValidateAlias(alias string) error {
	n := len([]rune(alias))
	if n < c.Aliases.MinLength || (c.Aliases.MaxLength > 0 && n > c.Aliases.MaxLength) {
		return fmt.Errorf("alias %q must be %d-%d characters", alias, c.Aliases.MinLength, c.Aliases.MaxLength)
	}
	re := c.aliasRE
	if re == nil {
		pattern := c.Aliases.Pattern
		if pattern == "" {
			pattern = defaultAliasPattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("alias pattern: %w", err)
		}
		re = compiled
	}
	if !re.MatchString(alias) {
		return fmt.Errorf("alias %q does not match %s", alias, re.String())
	}
	return nil
}

// IsBestuur reports whether alias is listed as bestuur in the config.
func (c *Config) IsBestuur(alias string) bool {
	for _, a := range c.Governance.Bestuur {
		if a == alias {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML with bestuur as the governing
// alias.
func GenerateDefault(rootTitle, bestuur string) string {
	var buf bytes.Buffer
	_ = defaultTmpl.Execute(&buf, struct{ RootTitle, Bestuur string }{rootTitle, bestuur})
	return buf.String()
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for an organisation.
func Default(rootTitle, bestuur string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(rootTitle, bestuur)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
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

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultAliasPattern = `^[A-Za-z][A-Za-z0-9_.-]*$`

var defaultTmpl = template.Must(template.New("coordline.yml").Parse(`organisation:
  root_title: {{printf "%q" .RootTitle}}
  root_points: 3000

governance:
  bestuur: [{{.Bestuur}}]
  root_coordinators: [{{.Bestuur}}]

aliases:
  pattern: '^[A-Za-z][A-Za-z0-9_.-]*$'
  min_length: 2
  max_length: 64

notifications:
  webhooks: []
`))
