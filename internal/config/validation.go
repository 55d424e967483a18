package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their config key rather than the Go name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   configKey(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	for name := range c.Providers {
		if _, err := provider.ParseID(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "providers." + name,
				Message: fmt.Sprintf("unknown provider, valid: %s", providerNames()),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// configKey turns "Config.retry.max_attempts" into "retry.max_attempts".
func configKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gtefield":
		return fmt.Sprintf("must not be less than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func providerNames() string {
	names := make([]string, 0, len(provider.All))
	for _, id := range provider.All {
		names = append(names, string(id))
	}
	return strings.Join(names, ", ")
}

// GetConfigPrecedence returns a description of config source precedence
func GetConfigPrecedence() string {
	return `Configuration is loaded in the following order (later sources override earlier):

1. Built-in defaults
2. .env file in the working directory (loaded into the environment)
3. Config file (--config, $AIREFINER_CONFIG, ~/.config/airefiner/airefiner.yaml or ./airefiner.yaml)
4. Environment variables (AIREFINER_CACHE_TTL, AIREFINER_BREAKER_THRESHOLD, ...)
5. Command-line flags

Provider API keys come from providers.<id>.api_key in the config file, or
from OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY (or GEMINI_API_KEY),
GROQ_API_KEY, XAI_API_KEY and QWEN_API_KEY. A provider without a key is skipped.
`
}
