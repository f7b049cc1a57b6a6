// Package security provides the HTTP side of the token provider: a
// per-request CSP nonce with matching Content-Security-Policy header, CSRF
// protection through gorilla/csrf, and the security headers the dev server
// sends.
package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
)

// contextKey represents a context key type for type safety
type contextKey string

// nonceContextKey is used to store CSP nonce values in request context
const nonceContextKey contextKey = "csp_nonce"

// CSPViolationPath receives browser CSP violation reports.
const CSPViolationPath = "/__vellum/csp-report"

// SecurityConfig holds the header and nonce configuration for
// SecurityMiddleware.
type SecurityConfig struct {
	// CSP configures Content Security Policy headers and nonce generation
	CSP *CSPConfig
	// HSTS is sent on TLS requests only
	HSTS *HSTSConfig
	// XFrameOptions sets X-Frame-Options header (DENY, SAMEORIGIN)
	XFrameOptions string
	// XContentTypeNoSniff enables X-Content-Type-Options: nosniff header
	XContentTypeNoSniff bool
	// ReferrerPolicy sets Referrer-Policy header
	ReferrerPolicy string
	// EnableNonce controls CSP nonce generation for script and style tags
	EnableNonce bool
	// Logger handles security event logging
	Logger logging.Logger
}

// CSPConfig holds Content Security Policy configuration
type CSPConfig struct {
	DefaultSrc              []string
	ScriptSrc               []string
	StyleSrc                []string
	ImgSrc                  []string
	ConnectSrc              []string
	FontSrc                 []string
	ObjectSrc               []string
	FrameAncestors          []string
	BaseURI                 []string
	FormAction              []string
	UpgradeInsecureRequests bool
	ReportURI               string
}

// HSTSConfig holds HTTP Strict Transport Security configuration
type HSTSConfig struct {
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// DefaultSecurityConfig returns a secure default configuration
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'"},
			StyleSrc:       []string{"'self'"},
			ImgSrc:         []string{"'self'", "data:", "blob:"},
			ConnectSrc:     []string{"'self'"},
			FontSrc:        []string{"'self'"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'none'"},
			BaseURI:        []string{"'self'"},
			FormAction:     []string{"'self'"},
			ReportURI:      CSPViolationPath,
		},
		HSTS: &HSTSConfig{
			MaxAge:            31536000, // 1 year
			IncludeSubDomains: true,
		},
		XFrameOptions:       "DENY",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		EnableNonce:         true,
	}
}

// DevelopmentSecurityConfig allows the live-reload websocket and iframe
// embedding by local tools.
func DevelopmentSecurityConfig() *SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.CSP.ConnectSrc = append(cfg.CSP.ConnectSrc, "ws:", "wss:")
	cfg.XFrameOptions = "SAMEORIGIN"
	cfg.CSP.FrameAncestors = []string{"'self'"}
	cfg.HSTS = nil
	return cfg
}

// ProductionSecurityConfig returns a strict config for production
func ProductionSecurityConfig() *SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.CSP.UpgradeInsecureRequests = true
	cfg.HSTS.Preload = true
	return cfg
}

// SecurityConfigFromAppConfig creates security config from application config
func SecurityConfigFromAppConfig(cfg *config.Config, logger logging.Logger) *SecurityConfig {
	var sec *SecurityConfig
	if cfg.IsDevelopment() {
		sec = DevelopmentSecurityConfig()
	} else {
		sec = ProductionSecurityConfig()
	}
	sec.EnableNonce = cfg.Security.EnableNonce
	sec.Logger = logger
	return sec
}

// generateNonce generates a cryptographically secure random nonce
func generateNonce() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

// WithNonce returns ctx carrying nonce.
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceContextKey, nonce)
}

// GetNonceFromContext retrieves the CSP nonce from the request context
func GetNonceFromContext(ctx context.Context) string {
	if nonce, ok := ctx.Value(nonceContextKey).(string); ok {
		return nonce
	}
	return ""
}

// SecurityMiddleware generates the request nonce, stores it in the request
// context and sends the matching security headers.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DefaultSecurityConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var nonce string
			if secConfig.EnableNonce {
				var err error
				nonce, err = generateNonce()
				if err != nil {
					if secConfig.Logger != nil {
						secConfig.Logger.Error(r.Context(), err, "Failed to generate CSP nonce")
					}
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				r = r.WithContext(WithNonce(r.Context(), nonce))
			}

			applySecurityHeaders(w, r, secConfig, nonce)
			next.ServeHTTP(w, r)
		})
	}
}

// applySecurityHeaders applies all configured security headers
func applySecurityHeaders(w http.ResponseWriter, r *http.Request, config *SecurityConfig, nonce string) {
	if config.CSP != nil {
		w.Header().Set("Content-Security-Policy", buildCSPHeader(config.CSP, nonce))
	}

	if config.HSTS != nil && r.TLS != nil {
		w.Header().Set("Strict-Transport-Security", buildHSTSHeader(config.HSTS))
	}

	if config.XFrameOptions != "" {
		w.Header().Set("X-Frame-Options", config.XFrameOptions)
	}

	if config.XContentTypeNoSniff {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}

	if config.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", config.ReferrerPolicy)
	}
}

// buildCSPHeader constructs the Content-Security-Policy header value
func buildCSPHeader(csp *CSPConfig, nonce string) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		// A nonce disables 'unsafe-inline' in browsers that support nonces.
		if nonce != "" && (name == "script-src" || name == "style-src") {
			filtered := make([]string, 0, len(values)+1)
			for _, value := range values {
				if value != "'unsafe-inline'" && value != "'unsafe-eval'" {
					filtered = append(filtered, value)
				}
			}
			values = append(filtered, fmt.Sprintf("'nonce-%s'", nonce))
		}
		directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("script-src", csp.ScriptSrc)
	addDirective("style-src", csp.StyleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("connect-src", csp.ConnectSrc)
	addDirective("font-src", csp.FontSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)
	addDirective("form-action", csp.FormAction)

	if csp.UpgradeInsecureRequests {
		directives = append(directives, "upgrade-insecure-requests")
	}

	if csp.ReportURI != "" {
		directives = append(directives, fmt.Sprintf("report-uri %s", csp.ReportURI))
	}

	return strings.Join(directives, "; ")
}

// buildHSTSHeader constructs the Strict-Transport-Security header value
func buildHSTSHeader(hsts *HSTSConfig) string {
	header := fmt.Sprintf("max-age=%d", hsts.MaxAge)
	if hsts.IncludeSubDomains {
		header += "; includeSubDomains"
	}
	if hsts.Preload {
		header += "; preload"
	}
	return header
}

// CSPViolationReport represents a CSP violation report
type CSPViolationReport struct {
	CSPReport struct {
		DocumentURI       string `json:"document-uri"`
		ViolatedDirective string `json:"violated-directive"`
		BlockedURI        string `json:"blocked-uri"`
		SourceFile        string `json:"source-file"`
		LineNumber        int    `json:"line-number"`
	} `json:"csp-report"`
}

// CSPViolationHandler logs CSP violation reports.
func CSPViolationHandler(logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var report CSPViolationReport
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&report); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		if logger != nil {
			logger.Warn(r.Context(),
				errors.NewSecurityError("CSP_VIOLATION", "Content Security Policy violation detected"),
				"CSP: Policy violation detected",
				"document_uri", logging.SanitizeForLog(report.CSPReport.DocumentURI),
				"violated_directive", logging.SanitizeForLog(report.CSPReport.ViolatedDirective),
				"blocked_uri", logging.SanitizeForLog(report.CSPReport.BlockedURI),
				"line_number", report.CSPReport.LineNumber,
				"ip", getClientIP(r))
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if colonPos := strings.LastIndex(ip, ":"); colonPos != -1 {
		ip = ip[:colonPos]
	}
	return ip
}
