// Package validation checks names, origins and URLs that reach the
// template engine and dev server from untrusted input, and audits rendered
// HTML.
package validation

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// MaxTemplateNameLength bounds template names accepted from requests.
const MaxTemplateNameLength = 200

// ValidateTemplateName checks a slash-separated template name before it is
// joined to the template directory.
func ValidateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty template name")
	}

	if len(name) > MaxTemplateNameLength {
		return fmt.Errorf("template name too long (max %d characters)", MaxTemplateNameLength)
	}

	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, ":") {
		return fmt.Errorf("absolute path not allowed: %s", name)
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal attempt detected: %s", name)
		}
	}

	dangerousChars := []string{"<", ">", "\"", "'", "&", ";", "|", "$", "`", "{", "}", "\x00"}
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("dangerous character not allowed: %q", char)
		}
	}

	return nil
}

// ValidateOrigin validates a WebSocket origin against the allowed list.
// Entries may be full origins or bare hosts.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateFileExtension validates file extensions against an allowlist.
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}

	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("file extension '%s' is not allowed", ext)
}
