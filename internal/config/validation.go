package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks every section and collects all problems.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateTemplates(&cfg.Templates, result)
	validateServer(&cfg.Server, result)
	validateDevelopment(&cfg.Development, result)
	validateSecurity(cfg, result)
	validateLog(&cfg.Log, result)

	return result
}

func validateTemplates(cfg *TemplatesConfig, result *ValidationResult) {
	clean := filepath.Clean(cfg.Dir)
	for _, segment := range strings.Split(filepath.ToSlash(clean), "/") {
		if segment == ".." {
			result.fail("templates.dir", cfg.Dir, "template directory must not contain parent references",
				"Use a directory inside the project, e.g. 'templates'")
			break
		}
	}

	if strings.ContainsAny(cfg.Extension, "/\\*?") || len(cfg.Extension) < 2 {
		result.fail("templates.extension", cfg.Extension, "invalid template extension",
			"Use a plain extension such as '.html'")
	}

	if cfg.CacheSize < 0 {
		result.fail("templates.cache_size", cfg.CacheSize, "cache size cannot be negative",
			"Use 0 for an unbounded cache")
	}
}

func validateServer(cfg *ServerConfig, result *ValidationResult) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		result.fail("server.port", cfg.Port, fmt.Sprintf("port %d is not in valid range 0-65535", cfg.Port),
			"Common development ports: 3000, 8080, 8000",
			"Port 0 allows the system to assign an available port")
	} else if cfg.Port > 0 && cfg.Port < 1024 {
		result.warn("server.port", cfg.Port, "port below 1024 requires elevated privileges")
	}

	if cfg.Host != "" {
		if err := validateHostname(cfg.Host); err != nil {
			result.fail("server.host", cfg.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	switch cfg.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		result.fail("server.environment", cfg.Environment, "unknown environment",
			"Use 'development' or 'production'")
	}

	if cfg.RateLimit.RequestsPerMinute < 0 {
		result.fail("server.rate_limit.requests_per_minute", cfg.RateLimit.RequestsPerMinute,
			"requests per minute cannot be negative", "Use 0 to disable rate limiting")
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst < 1 {
		result.fail("server.rate_limit.burst", cfg.RateLimit.Burst,
			"burst must be at least 1 when rate limiting is enabled")
	}

	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			result.fail("server.allowed_origins", origin, "wildcard origins are not allowed",
				"List each origin explicitly, e.g. 'http://localhost:3000'")
			continue
		}
		if strings.Contains(origin, "://") {
			if err := validation.ValidateOrigin(origin, []string{origin}); err != nil {
				result.fail("server.allowed_origins", origin, err.Error())
			}
		}
	}
}

func validateDevelopment(cfg *DevelopmentConfig, result *ValidationResult) {
	if err := validation.ValidateReloadURL(cfg.ReloadPath); err != nil {
		result.fail("development.reload_path", cfg.ReloadPath, err.Error(),
			"Use a path such as '/__vellum/reload'")
	}

	if cfg.Debounce < 0 {
		result.fail("development.debounce", cfg.Debounce, "debounce cannot be negative")
	} else if cfg.Debounce > 10*time.Second {
		result.warn("development.debounce", cfg.Debounce, "long debounce delays reloads noticeably")
	}
}

func validateSecurity(cfg *Config, result *ValidationResult) {
	if key := cfg.Security.CSRFKey; key != "" && len(key) != 32 {
		result.fail("security.csrf_key", "<redacted>", fmt.Sprintf("CSRF key must be 32 bytes, got %d", len(key)),
			"Generate one with: head -c 32 /dev/urandom | base64 | head -c 32")
	}

	if !cfg.IsDevelopment() {
		if cfg.Security.CSRFKey == "" {
			result.warn("security.csrf_key", "", "no CSRF key configured; tokens will not survive restarts")
		}
		if !cfg.Security.SecureCookies {
			result.warn("security.secure_cookies", false, "CSRF cookie is sent over plain HTTP in production")
		}
	}
}

func validateLog(cfg *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(cfg.Level); err != nil {
		result.fail("log.level", cfg.Level, err.Error(), "Use debug, info, warn or error")
	}
	if cfg.Format != "text" && cfg.Format != "json" {
		result.fail("log.format", cfg.Format, "unknown log format", "Use 'text' or 'json'")
	}
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}
