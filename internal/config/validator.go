package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var tokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)

// ValidToken reports whether s looks like a game token: eight hex digits.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("token8", func(fl validator.FieldLevel) bool {
		return ValidToken(fl.Field().String())
	})
	return v
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	if err := newValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			result.AddError("config", err.Error())
			return result
		}
		for _, fe := range verrs {
			result.AddError(fieldPath(fe), describe(fe))
		}
	}

	if cfg.Unattended && cfg.Game.Token == "" {
		result.AddError("game.token", "a token is required when started by the game")
	}

	if cfg.Game.CommandTimeoutMsec < 100 {
		result.AddWarning("game.command_timeout_msec",
			"timeouts under 100ms will retry commands the game is still processing")
	}
	if cfg.Game.MaxGatedPolls == 0 {
		result.AddWarning("game.max_gated_polls",
			"unbounded polling: commands wait forever while the game is paused")
	}
	if cfg.API.Enabled && cfg.API.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if cfg.API.Enabled && cfg.API.Port == cfg.Game.Port && isLocal(cfg.Game.Host) {
		result.AddError("api.port", "port conflict detected: API and game ports must differ")
	}

	return result
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "required_if":
		return fmt.Sprintf("value is required when %s", strings.ReplaceAll(fe.Param(), " ", " = "))
	case "token8":
		return "token must be 8 hexadecimal characters"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("invalid host: %v", fe.Value())
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}

func isLocal(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
