package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials are required by every command that talks to the collection API.
type Credentials struct {
	APIKey    string `env:"BRIGHTDATA_API_KEY" validate:"required"`
	DatasetID string `env:"BRIGHTDATA_DATASET_ID" validate:"required"`
}

type Config struct {
	Credentials Credentials `validate:"-"`

	BaseURL      string  `env:"BRIGHTDATA_BASE_URL" validate:"omitempty,url"`
	RateLimitRPS float64 `env:"RATE_LIMIT_RPS" validate:"min=0"`
	ResultFormat string  `env:"RESULT_FORMAT" validate:"oneof=json ndjson jsonl csv"`
	InputsFile   string  `env:"INPUTS_FILE"`

	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS" validate:"min=1"`
	PollDelay       time.Duration `env:"POLL_DELAY_SECONDS" validate:"min=0"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT_SECONDS" validate:"min=0"`

	OutputDir string `env:"OUTPUT_DIR" validate:"required"`
	DataDir   string `env:"DATA_DIR" validate:"required"`
	HTTPPort  int    `env:"HTTP_PORT" validate:"min=1,max=65535"`
	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// ConfigurationError reports a missing or malformed environment value.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s environment variable %s", e.Key, e.Reason)
}

// Load reads the configuration from the environment and validates
// everything except the credentials, which are checked separately by
// RequireCredentials so that offline commands can run without them.
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Credentials: Credentials{
			APIKey:    os.Getenv("BRIGHTDATA_API_KEY"),
			DatasetID: os.Getenv("BRIGHTDATA_DATASET_ID"),
		},
		BaseURL:         getEnv("BRIGHTDATA_BASE_URL", ""),
		RateLimitRPS:    env.getFloat("RATE_LIMIT_RPS", 5),
		ResultFormat:    getEnv("RESULT_FORMAT", "json"),
		InputsFile:      getEnv("INPUTS_FILE", ""),
		PollMaxAttempts: env.getInt("POLL_MAX_ATTEMPTS", 10),
		PollDelay:       env.getSeconds("POLL_DELAY_SECONDS", 30),
		PollTimeout:     env.getSeconds("POLL_TIMEOUT_SECONDS", 0),
		OutputDir:       getEnv("OUTPUT_DIR", "output"),
		DataDir:         getEnv("DATA_DIR", "data"),
		HTTPPort:        env.getInt("HTTP_PORT", 8000),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	if env.err != nil {
		return nil, env.err
	}
	if err := check(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireCredentials fails with a *ConfigurationError naming the first
// missing credential.
func (c *Config) RequireCredentials() error {
	return check(&c.Credentials)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	fe := fieldErrs[0]
	return &ConfigurationError{Key: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is not set"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	}
	return fmt.Sprintf("is invalid (%s)", fe.Tag())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed values and remembers the first malformed one.
type envReader struct {
	err error
}

func (r *envReader) fail(key, v, kind string) {
	if r.err == nil {
		r.err = &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be %s, got %q", kind, v)}
	}
}

func (r *envReader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "an integer")
		return fallback
	}
	return i
}

func (r *envReader) getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "a number")
		return fallback
	}
	return f
}

func (r *envReader) getSeconds(key string, fallback int) time.Duration {
	return time.Duration(r.getInt(key, fallback)) * time.Second
}
