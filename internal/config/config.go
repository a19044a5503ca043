package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/judgebench/internal/logging"
)

// DefaultPath is read when --config is not given.
const DefaultPath = "judgebench.yaml"

type Config struct {
	Results   Results         `yaml:"results"`
	Logging   logging.Options `yaml:"logging"`
	Secrets   Secrets         `yaml:"secrets"`
	Tester    Tester          `yaml:"tester"`
	Judge     Judge           `yaml:"judge"`
	Pricing   Pricing         `yaml:"pricing"`
	Endpoints Endpoints       `yaml:"endpoints"`
}

type Results struct {
	Dir string `yaml:"dir" validate:"required"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Tester struct {
	Concurrency       int     `yaml:"concurrency" validate:"min=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// Judge tunes the semantic judge. Samples is the number of independent
// judgments per record; the median of each criterion is kept.
type Judge struct {
	Samples     int `yaml:"samples" validate:"min=1"`
	Concurrency int `yaml:"concurrency" validate:"min=1"`
}

type Pricing struct {
	File string `yaml:"file"`
}

// Endpoints overrides the backend base URLs. Empty values fall back to
// OPENAI_BASE_URL / GEMINI_BASE_URL, then to the public APIs.
type Endpoints struct {
	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`
	GeminiBaseURL string `yaml:"gemini_base_url" validate:"omitempty,url"`
}

func Default() *Config {
	return &Config{
		Results: Results{Dir: "results"},
		Logging: logging.DefaultOptions(),
		Tester:  Tester{Concurrency: 4},
		Judge:   Judge{Samples: 3, Concurrency: 4},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file yields the defaults
// unless the caller asked for that file explicitly.
func LoadOptional(path string, explicit bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// WithEnvironment fills unset endpoints from lookup.
func (c *Config) WithEnvironment(lookup LookupFunc) *Config {
	out := *c
	if out.Endpoints.OpenAIBaseURL == "" {
		out.Endpoints.OpenAIBaseURL, _ = lookup("OPENAI_BASE_URL")
	}
	if out.Endpoints.GeminiBaseURL == "" {
		out.Endpoints.GeminiBaseURL, _ = lookup("GEMINI_BASE_URL")
	}
	return &out
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateConfig(cfg *Config) error {
	err := validate.Struct(cfg)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %q fails %s", field, fmt.Sprint(fe.Value()), rule))
	}
	return errors.New(strings.Join(msgs, "; "))
}
