package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const FileName = "contour.yml"

// Config models contour.yml.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr" validate:"required,hostname_port"`
		BasePath        string        `yaml:"base_path" validate:"omitempty,startswith=/"`
		CORSOrigins     []string      `yaml:"cors_origins" validate:"dive,required"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	} `yaml:"server"`
	Storage struct {
		Driver   string `yaml:"driver" validate:"required,oneof=sqlite supabase"`
		Supabase struct {
			URL        string `yaml:"url" validate:"omitempty,url"`
			ServiceKey string `yaml:"service_key"`
		} `yaml:"supabase"`
	} `yaml:"storage"`
	Research Research `yaml:"research"`
	Journey  struct {
		DefaultSlug   string   `yaml:"default_slug" validate:"required"`
		DefaultLayers []string `yaml:"default_layers" validate:"dive,oneof=service experience behaviour systems value ai governance"`
	} `yaml:"journey"`
	Seed struct {
		File     string        `yaml:"file"`
		Slug     string        `yaml:"slug"`
		Watch    bool          `yaml:"watch"`
		Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
	} `yaml:"seed"`
	Log struct {
		Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Hooks []Hook `yaml:"hooks" validate:"dive"`
}

// Hook forwards audit events to an external URL. An empty Events list
// forwards every event type.
type Hook struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Events  []string      `yaml:"events"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Enabled *bool         `yaml:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries.
func (h Hook) Active() bool {
	return h.Enabled == nil || *h.Enabled
}

// Research configures the n8n-compatible persona research webhooks. An
// empty BaseURL means candidates are mocked and generation is unavailable.
type Research struct {
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	CandidatesPath string        `yaml:"candidates_path"`
	GeneratePath   string        `yaml:"generate_path"`
	SavePath       string        `yaml:"save_path"`
	AuthHeader     string        `yaml:"auth_header"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	Breaker        struct {
		MaxRequests  uint32        `yaml:"max_requests"`
		Interval     time.Duration `yaml:"interval" validate:"gte=0"`
		Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
		FailureRatio float64       `yaml:"failure_ratio" validate:"gte=0,lte=1"`
		MinRequests  uint32        `yaml:"min_requests"`
	} `yaml:"breaker"`
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Storage.Driver == "supabase" && (c.Storage.Supabase.URL == "" || c.Storage.Supabase.ServiceKey == "") {
		return errors.New("storage.supabase.url and storage.supabase.service_key are required for driver supabase")
	}
	if c.Seed.Watch && c.Seed.File == "" {
		return errors.New("seed.watch requires seed.file")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "startswith":
		return fmt.Sprintf("%s must start with %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads contour.yml from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config over the defaults, expanding $VAR references so
// secrets can stay in the environment, and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config as YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: ["*"]
  shutdown_timeout: 10s

storage:
  driver: sqlite
  supabase:
    url: ""
    service_key: ""

research:
  base_url: ""
  candidates_path: /webhook/personas/candidates
  generate_path: /webhook/personas/generate
  save_path: /webhook/personas/save
  auth_header: ""
  timeout: 30s
  breaker:
    max_requests: 1
    interval: 60s
    timeout: 30s
    failure_ratio: 0.6
    min_requests: 3

journey:
  default_slug: default
  default_layers: [service, experience, behaviour, systems, value, ai, governance]

seed:
  file: ""
  slug: ""
  watch: false
  debounce: 500ms

log:
  level: info
  development: false

hooks: []
`
