package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeSyntax             ErrorType = "syntax"
	ErrorTypeUnterminated       ErrorType = "unterminated_directive"
	ErrorTypeUnknownDirective   ErrorType = "unknown_directive"
	ErrorTypeDuplicateDirective ErrorType = "duplicate_directive"
	ErrorTypeExpression         ErrorType = "expression"
	ErrorTypeDirectiveRuntime   ErrorType = "directive_runtime"
	ErrorTypeSecurity           ErrorType = "security"
	ErrorTypeIO                 ErrorType = "io"
	ErrorTypeConfig             ErrorType = "config"
	ErrorTypeInternal           ErrorType = "internal"
)

// TemplateError is a structured error type with template location context.
type TemplateError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Template  string
	Directive string
	Line      int
	Column    int
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" || e.Line > 0 {
		location := e.Template
		if location == "" {
			location = "<template>"
		}
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Directive != "" {
		parts = append(parts, "@"+e.Directive+":")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *TemplateError) Is(target error) bool {
	var t *TemplateError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithContext adds context information to the error.
func (e *TemplateError) WithContext(key string, value interface{}) *TemplateError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds template location information.
func (e *TemplateError) WithLocation(template string, line, column int) *TemplateError {
	if template != "" {
		e.Template = template
	}
	e.Line = line
	e.Column = column

	return e
}

// WithDirective names the directive the error belongs to.
func (e *TemplateError) WithDirective(name string) *TemplateError {
	e.Directive = name

	return e
}

// Sentinels usable with errors.Is; they match on Type alone.
var (
	ErrSyntax             = &TemplateError{Type: ErrorTypeSyntax}
	ErrUnterminated       = &TemplateError{Type: ErrorTypeUnterminated}
	ErrUnknownDirective   = &TemplateError{Type: ErrorTypeUnknownDirective}
	ErrDuplicateDirective = &TemplateError{Type: ErrorTypeDuplicateDirective}
	ErrExpression         = &TemplateError{Type: ErrorTypeExpression}
	ErrDirectiveRuntime   = &TemplateError{Type: ErrorTypeDirectiveRuntime}
)

// Common error codes.
const (
	ErrCodeUnexpectedCloser   = "ERR_UNEXPECTED_CLOSER"
	ErrCodeCrossedCloser      = "ERR_CROSSED_CLOSER"
	ErrCodeUnclosedArgs       = "ERR_UNCLOSED_ARGS"
	ErrCodeUnclosedOutput     = "ERR_UNCLOSED_OUTPUT"
	ErrCodeMissingArgs        = "ERR_MISSING_ARGS"
	ErrCodeUnexpectedArgs     = "ERR_UNEXPECTED_ARGS"
	ErrCodeUnterminated       = "ERR_UNTERMINATED_DIRECTIVE"
	ErrCodeUnknownDirective   = "ERR_UNKNOWN_DIRECTIVE"
	ErrCodeDuplicateDirective = "ERR_DUPLICATE_DIRECTIVE"
	ErrCodeRegistryFrozen     = "ERR_REGISTRY_FROZEN"
	ErrCodeInvalidDescriptor  = "ERR_INVALID_DESCRIPTOR"
	ErrCodeInvalidExpression  = "ERR_INVALID_EXPRESSION"
	ErrCodeUnboundIdentifier  = "ERR_UNBOUND_IDENTIFIER"
	ErrCodeNotIterable        = "ERR_NOT_ITERABLE"
	ErrCodeInvalidArgs        = "ERR_INVALID_ARGS"
	ErrCodeHandlerFailed      = "ERR_HANDLER_FAILED"
	ErrCodeTokenUnavailable   = "ERR_TOKEN_UNAVAILABLE"
	ErrCodeTemplateNotFound   = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeInvalidPath        = "ERR_INVALID_PATH"
	ErrCodePathTraversal      = "ERR_PATH_TRAVERSAL"
	ErrCodeInvalidData        = "ERR_INVALID_DATA"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// Error creation functions

// NewSyntaxError creates a malformed-syntax error.
func NewSyntaxError(code, message string) *TemplateError {
	return &TemplateError{Type: ErrorTypeSyntax, Code: code, Message: message}
}

// NewUnterminatedError reports a block directive that never saw its closer.
func NewUnterminatedError(name string, line, column int) *TemplateError {
	return &TemplateError{
		Type:      ErrorTypeUnterminated,
		Code:      ErrCodeUnterminated,
		Message:   fmt.Sprintf("missing @/%s", name),
		Directive: name,
		Line:      line,
		Column:    column,
	}
}

// NewUnknownDirectiveError reports a directive name with no registration.
func NewUnknownDirectiveError(name string, line, column int) *TemplateError {
	return &TemplateError{
		Type:      ErrorTypeUnknownDirective,
		Code:      ErrCodeUnknownDirective,
		Message:   "unknown directive",
		Directive: name,
		Line:      line,
		Column:    column,
	}
}

// NewDuplicateDirectiveError reports a registry name conflict.
func NewDuplicateDirectiveError(name string) *TemplateError {
	return &TemplateError{
		Type:      ErrorTypeDuplicateDirective,
		Code:      ErrCodeDuplicateDirective,
		Message:   "directive already registered",
		Directive: name,
	}
}

// NewExpressionError creates an invalid or unbound expression error.
func NewExpressionError(code, message string) *TemplateError {
	return &TemplateError{Type: ErrorTypeExpression, Code: code, Message: message}
}

// NewDirectiveRuntimeError creates a handler failure.
func NewDirectiveRuntimeError(directive, code, message string, cause error) *TemplateError {
	return &TemplateError{
		Type:      ErrorTypeDirectiveRuntime,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Directive: directive,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *TemplateError {
	return &TemplateError{Type: ErrorTypeSecurity, Code: code, Message: message}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *TemplateError {
	return &TemplateError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *TemplateError {
	return &TemplateError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TemplateError {
	return &TemplateError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// Wrap wraps an error with additional context, keeping the location of an
// existing TemplateError in the chain.
func Wrap(err error, errType ErrorType, code, message string) *TemplateError {
	if err == nil {
		return nil
	}

	var te *TemplateError
	if errors.As(err, &te) {
		return &TemplateError{
			Type:      errType,
			Code:      code,
			Message:   message,
			Cause:     te,
			Template:  te.Template,
			Directive: te.Directive,
			Line:      te.Line,
			Column:    te.Column,
		}
	}

	return &TemplateError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// InTemplate stamps a template name onto every TemplateError in the chain
// that does not carry one yet.
func InTemplate(err error, name string) error {
	if err == nil || name == "" {
		return err
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if te, ok := e.(*TemplateError); ok && te.Template == "" {
			te.Template = name
		}
	}
	return err
}

// HasErrorType reports whether any error in the chain has the given type.
func HasErrorType(err error, errType ErrorType) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if te, ok := e.(*TemplateError); ok && te.Type == errType {
			return true
		}
	}
	return false
}

// HasErrorCode reports whether any error in the chain has the given code.
func HasErrorCode(err error, code string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if te, ok := e.(*TemplateError); ok && te.Code == code {
			return true
		}
	}
	return false
}

// IsSyntaxError checks if an error is a malformed-syntax error.
func IsSyntaxError(err error) bool { return HasErrorType(err, ErrorTypeSyntax) }

// IsUnterminated checks for a block directive without a closer.
func IsUnterminated(err error) bool { return HasErrorType(err, ErrorTypeUnterminated) }

// IsUnknownDirective checks for an unregistered directive name.
func IsUnknownDirective(err error) bool { return HasErrorType(err, ErrorTypeUnknownDirective) }

// IsDuplicateDirective checks for a registry conflict.
func IsDuplicateDirective(err error) bool { return HasErrorType(err, ErrorTypeDuplicateDirective) }

// IsExpressionError checks for an invalid or unbound expression.
func IsExpressionError(err error) bool { return HasErrorType(err, ErrorTypeExpression) }

// IsDirectiveRuntime checks for a handler failure.
func IsDirectiveRuntime(err error) bool { return HasErrorType(err, ErrorTypeDirectiveRuntime) }

// IsParseError reports whether err was raised while compiling a template.
func IsParseError(err error) bool {
	return IsSyntaxError(err) || IsUnterminated(err) || IsUnknownDirective(err)
}

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool { return HasErrorType(err, ErrorTypeSecurity) }
