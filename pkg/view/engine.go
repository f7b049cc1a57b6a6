package view

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/vellum/internal/ast"
	"github.com/conneroisu/vellum/internal/cache"
	"github.com/conneroisu/vellum/internal/directive"
	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/parser"
	"github.com/conneroisu/vellum/internal/validation"
)

// DefaultExtension is appended to template names that have none.
const DefaultExtension = ".html"

// EngineConfig locates templates on disk.
type EngineConfig struct {
	Dir       string
	Extension string
	CacheSize int
}

// Engine loads templates by name from a directory and keeps compiled trees
// in an LRU cache that notices file modification.
type Engine struct {
	dir      string
	ext      string
	cache    *cache.TemplateCache
	registry *directive.Registry
	defaults options
	logger   logging.Logger
}

// NewEngine creates an engine rooted at cfg.Dir. opts become the defaults
// of every render; directives given here are available to every template.
func NewEngine(cfg EngineConfig, opts ...Option) (*Engine, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("cannot resolve template directory %s", cfg.Dir), err)
	}

	ext := cfg.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	o := buildOptions(opts)
	reg, err := registryFor(nil, o)
	if err != nil {
		return nil, err
	}
	o.directives = nil

	logger := o.logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Engine{
		dir:      dir,
		ext:      ext,
		cache:    cache.New(cfg.CacheSize),
		registry: reg,
		defaults: *o,
		logger:   logger.WithComponent("engine"),
	}, nil
}

// Dir returns the absolute template directory.
func (e *Engine) Dir() string { return e.dir }

// Extension returns the template file extension.
func (e *Engine) Extension() string { return e.ext }

// Registry returns the registry templates are parsed against.
func (e *Engine) Registry() *directive.Registry { return e.registry }

// Path resolves a slash-separated template name to a file inside the
// template directory.
func (e *Engine) Path(name string) (string, error) {
	if err := validation.ValidateTemplateName(name); err != nil {
		logging.LogSecurityEvent(context.Background(), e.logger, "template_name_rejected", map[string]interface{}{
			"name":   logging.SanitizeForLog(name),
			"reason": err.Error(),
		})
		return "", errors.NewSecurityError(errors.ErrCodePathTraversal, err.Error())
	}

	if filepath.Ext(name) == "" {
		name += e.ext
	}

	path := filepath.Join(e.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(e.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewSecurityError(errors.ErrCodePathTraversal,
			fmt.Sprintf("template %s resolves outside %s", name, e.dir))
	}
	return path, nil
}

// Name converts a file path inside the template directory back to a
// template name.
func (e *Engine) Name(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(e.dir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.NewSecurityError(errors.ErrCodePathTraversal,
			fmt.Sprintf("%s is outside %s", path, e.dir))
	}
	return filepath.ToSlash(rel), nil
}

// Load returns the compiled template for name, parsing it on first use or
// after the file changes.
func (e *Engine) Load(name string) (*Template, error) {
	path, err := e.Path(name)
	if err != nil {
		return nil, err
	}

	display, _ := e.Name(path)
	root, err := e.cache.Load(path, func(source string) (*ast.Root, error) {
		e.logger.Debug(context.Background(), "Compiling template", "template", display)
		return parser.Parse(display, source, e.registry)
	})
	if err != nil {
		return nil, err
	}
	return &Template{root: root, registry: e.registry}, nil
}

// Render loads name and renders it. Per-call opts override the engine
// defaults.
func (e *Engine) Render(ctx context.Context, name string, vars map[string]interface{}, opts ...Option) (string, error) {
	tmpl, err := e.Load(name)
	if err != nil {
		return "", err
	}

	o := e.defaults
	o.directives = nil
	for _, opt := range opts {
		opt(&o)
	}
	return render(ctx, tmpl, vars, &o)
}

// Names lists every template under the directory, sorted.
func (e *Engine) Names() ([]string, error) {
	var names []string
	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != e.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), e.ext) {
			name, err := e.Name(path)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath,
			fmt.Sprintf("cannot list templates in %s", e.dir), err)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops the cached tree for the file at path.
func (e *Engine) Invalidate(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return e.cache.Invalidate(abs)
}

// Clear drops every cached tree.
func (e *Engine) Clear() { e.cache.Clear() }

// Stats returns cache statistics.
func (e *Engine) Stats() cache.Stats { return e.cache.Stats() }
