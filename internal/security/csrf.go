package security

import (
	"context"
	"crypto/rand"
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
)

// CSRFFieldName is the form field @csrf emits and the middleware checks.
const CSRFFieldName = "_token"

// CSRFHeaderName carries the token for script-issued requests.
const CSRFHeaderName = "X-CSRF-Token"

// CSRFOptions configures CSRFMiddleware.
type CSRFOptions struct {
	// Key authenticates the CSRF cookie. It must be 32 bytes; when empty a
	// random key is generated, so tokens do not survive a restart.
	Key            []byte
	Secure         bool
	TrustedOrigins []string
	Logger         logging.Logger
}

// CSRFMiddleware protects unsafe methods with gorilla/csrf using the
// field name @csrf renders.
func CSRFMiddleware(opts CSRFOptions) (func(http.Handler) http.Handler, error) {
	key := opts.Key
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, errors.NewInternalError(errors.ErrCodeInternalError, "failed to generate CSRF key", err)
		}
	}
	if len(key) != 32 {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "CSRF key must be 32 bytes")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	protect := csrf.Protect(key,
		csrf.FieldName(CSRFFieldName),
		csrf.RequestHeader(CSRFHeaderName),
		csrf.Secure(opts.Secure),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.TrustedOrigins(opts.TrustedOrigins),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reason := "unknown"
			if err := csrf.FailureReason(r); err != nil {
				reason = err.Error()
			}
			logging.LogSecurityEvent(r.Context(), logger, "csrf_rejected", map[string]interface{}{
				"reason": reason,
				"path":   logging.SanitizeForLog(r.URL.Path),
				"ip":     getClientIP(r),
			})
			http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
		})),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil && !opts.Secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}, nil
}

// RequestTokens provides @csrf and @nonceProp values for one HTTP request.
// The request must have passed through CSRFMiddleware and
// SecurityMiddleware.
type RequestTokens struct {
	request *http.Request
}

// NewRequestTokens binds a token provider to r.
func NewRequestTokens(r *http.Request) *RequestTokens {
	return &RequestTokens{request: r}
}

// CSRFToken returns the masked CSRF token for the request.
func (t *RequestTokens) CSRFToken(context.Context) (string, error) {
	token := csrf.Token(t.request)
	if token == "" {
		return "", errors.NewSecurityError(errors.ErrCodeTokenUnavailable,
			"no CSRF token on request; is the CSRF middleware installed?")
	}
	return token, nil
}

// CSPNonce returns the nonce SecurityMiddleware generated, or "".
func (t *RequestTokens) CSPNonce(context.Context) (string, error) {
	return GetNonceFromContext(t.request.Context()), nil
}
