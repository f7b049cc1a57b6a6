package errors

import (
	"errors"
	"fmt"
	"html"
	"sync"
	"time"
)

// RecordedError is a render or compile failure kept for the error overlay.
type RecordedError struct {
	Template  string
	Line      int
	Column    int
	Type      ErrorType
	Message   string
	Timestamp time.Time
}

// ErrorCollector collects the most recent failure per template.
type ErrorCollector struct {
	errors map[string]RecordedError
	order  []string
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[string]RecordedError),
	}
}

// Add records err against template, replacing any earlier failure.
func (ec *ErrorCollector) Add(template string, err error) {
	if err == nil {
		return
	}

	rec := RecordedError{
		Template:  template,
		Type:      ErrorTypeInternal,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	var te *TemplateError
	if errors.As(err, &te) {
		rec.Type = te.Type
		rec.Line = te.Line
		rec.Column = te.Column
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if _, exists := ec.errors[template]; !exists {
		ec.order = append(ec.order, template)
	}
	ec.errors[template] = rec
}

// Clear forgets the failure recorded for template.
func (ec *ErrorCollector) Clear(template string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if _, exists := ec.errors[template]; !exists {
		return
	}
	delete(ec.errors, template)
	for i, name := range ec.order {
		if name == template {
			ec.order = append(ec.order[:i], ec.order[i+1:]...)
			break
		}
	}
}

// ClearAll forgets every recorded failure.
func (ec *ErrorCollector) ClearAll() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = make(map[string]RecordedError)
	ec.order = ec.order[:0]
}

// GetErrors returns the recorded failures in first-seen order.
func (ec *ErrorCollector) GetErrors() []RecordedError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]RecordedError, 0, len(ec.order))
	for _, name := range ec.order {
		result = append(result, ec.errors[name])
	}
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// ErrorOverlay generates HTML for the development error overlay.
func (ec *ErrorCollector) ErrorOverlay() string {
	recorded := ec.GetErrors()
	if len(recorded) == 0 {
		return ""
	}

	out := `
<div id="vellum-error-overlay" style="
	position: fixed;
	top: 0;
	left: 0;
	width: 100%;
	height: 100%;
	background: rgba(0, 0, 0, 0.85);
	color: white;
	font-family: 'Monaco', 'Menlo', monospace;
	font-size: 14px;
	z-index: 9999;
	padding: 20px;
	box-sizing: border-box;
	overflow: auto;
">
	<div style="max-width: 1000px; margin: 0 auto;">
		<h2 style="margin: 0 0 20px; color: #ff6b6b;">Template Errors</h2>
		<div>`

	for _, rec := range recorded {
		color := "#ff6b6b"
		switch rec.Type {
		case ErrorTypeExpression, ErrorTypeDirectiveRuntime:
			color = "#feca57"
		}

		out += fmt.Sprintf(`
			<div style="background: #2d3748; padding: 15px; margin-bottom: 15px; border-radius: 4px; border-left: 4px solid %s;">
				<div style="display: flex; justify-content: space-between; margin-bottom: 10px;">
					<span style="color: %s; font-weight: bold;">%s</span>
					<span style="color: #a0aec0; font-size: 12px;">%s</span>
				</div>
				<div style="color: #e2e8f0; margin-bottom: 5px;"><strong>%s</strong></div>
				<div style="color: #a0aec0; font-size: 12px;">%s:%d:%d</div>
			</div>`,
			color, color, html.EscapeString(string(rec.Type)), rec.Timestamp.Format("15:04:05"),
			html.EscapeString(rec.Message), html.EscapeString(rec.Template), rec.Line, rec.Column)
	}

	out += `
		</div>
	</div>
</div>`

	return out
}
