package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateReloadURL validates the live-reload endpoint embedded into
// @hotReload scripts. It accepts an absolute path or a ws, wss, http or
// https URL.
func ValidateReloadURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("reload URL cannot be empty")
	}

	// The value lands inside a JavaScript string literal.
	dangerous := []string{"`", "$", "<", ">", "\"", "'", "\\", "\n", "\r", " "}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("reload URL contains dangerous character: %q", char)
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid reload URL: %w", err)
	}

	if parsed.Scheme == "" {
		if !strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "//") {
			return fmt.Errorf("reload path must start with a single /: %s", rawURL)
		}
		return nil
	}

	switch parsed.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid reload URL scheme: %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("reload URL must have a valid hostname")
	}

	return nil
}
