package reply

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type ActionMode string

const (
	ModeCallToAction ActionMode = "call_to_action"
	ModeTemplate     ActionMode = "template"
	ModeCarousel     ActionMode = "carousel"
)

// Catalog is the deployment data that drives rendering: content ids,
// variable names, the URL prefix and provider limits.
type Catalog struct {
	DefaultAction ActionMode         `yaml:"default_action"`
	Language      string             `yaml:"language"`
	URLPrefix     string             `yaml:"url_prefix"`
	CallToAction  CallToActionConfig `yaml:"call_to_action"`
	Template      TemplateConfig     `yaml:"template"`
	Carousel      CarouselConfig     `yaml:"carousel"`
	Limits        Limits             `yaml:"limits"`
}

type CallToActionConfig struct {
	FriendlyName string `yaml:"friendly_name"`
	DefaultTitle string `yaml:"default_title"`
}

// TemplateConfig points at a pre-approved content template.
type TemplateConfig struct {
	ContentSID string            `yaml:"content_sid"`
	Variables  TemplateVariables `yaml:"variables"`
}

type TemplateVariables struct {
	Text string `yaml:"text"`
	URL  string `yaml:"url"`
}

type CarouselConfig struct {
	FriendlyName string `yaml:"friendly_name"`
	CardTitle    string `yaml:"card_title"`
	MediaURL     string `yaml:"media_url"`
}

type Limits struct {
	ButtonTitle int `yaml:"button_title"`
	CardBody    int `yaml:"card_body"`
	Cards       int `yaml:"cards"`
}

// CatalogProvider hands out the catalog in effect for one dispatch.
type CatalogProvider interface {
	Current() *Catalog
}

// Current lets a fixed *Catalog serve as its own provider.
func (c *Catalog) Current() *Catalog { return c }

//go:embed catalog.yaml
var defaultCatalogBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogBytes)
}

// LoadCatalog reads the catalog at path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog expands ${NAME} references, decodes the YAML and applies
// defaults. Unset variables expand to "".
func ParseCatalog(data []byte) (*Catalog, error) {
	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	var c Catalog
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	if c.DefaultAction == "" {
		c.DefaultAction = ModeCallToAction
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.CallToAction.FriendlyName == "" {
		c.CallToAction.FriendlyName = "booker_cta"
	}
	if c.CallToAction.DefaultTitle == "" {
		c.CallToAction.DefaultTitle = "Open link"
	}
	if c.Template.Variables.Text == "" {
		c.Template.Variables.Text = "1"
	}
	if c.Template.Variables.URL == "" {
		c.Template.Variables.URL = "2"
	}
	if c.Carousel.FriendlyName == "" {
		c.Carousel.FriendlyName = "booker_carousel"
	}
	if c.Limits.ButtonTitle <= 0 {
		c.Limits.ButtonTitle = 25
	}
	if c.Limits.CardBody <= 0 {
		c.Limits.CardBody = 160
	}
	if c.Limits.Cards <= 0 {
		c.Limits.Cards = 10
	}
	c.Template.ContentSID = strings.TrimSpace(c.Template.ContentSID)
}

func (c *Catalog) Validate() error {
	switch c.DefaultAction {
	case ModeCallToAction, ModeTemplate, ModeCarousel:
	default:
		return fmt.Errorf("catalog: unknown default_action %q", c.DefaultAction)
	}
	if c.Template.Variables.Text == c.Template.Variables.URL {
		return fmt.Errorf("catalog: template text and url variables must differ, both are %q", c.Template.Variables.Text)
	}
	return nil
}
