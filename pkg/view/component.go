package view

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Component adapts a render of tmpl to templ.Component, so compiled
// templates can be embedded in templ layouts or served with templ.Handler.
// The render happens on every call to Render.
func Component(tmpl *Template, vars map[string]interface{}, opts ...Option) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out, err := RenderTemplate(ctx, tmpl, vars, opts...)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

// Component loads name and adapts its render to templ.Component.
func (e *Engine) Component(name string, vars map[string]interface{}, opts ...Option) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out, err := e.Render(ctx, name, vars, opts...)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}
