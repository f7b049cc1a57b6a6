package server

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/conneroisu/vellum/internal/vars"
	"github.com/conneroisu/vellum/internal/watcher"
	"github.com/conneroisu/vellum/internal/websocket"
)

// isWatchedFile accepts templates and their data files.
func (s *Server) isWatchedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == strings.ToLower(s.engine.Extension()) || slices.Contains(vars.DataExtensions, ext)
}

// handleFileChange drops stale templates from the cache, recompiles changed
// ones so the error overlay reflects the new source, then tells browsers to
// reload.
func (s *Server) handleFileChange(ctx context.Context, events []watcher.ChangeEvent) error {
	changed := make([]string, 0, len(events))

	for _, event := range events {
		name, err := s.engine.Name(event.Path)
		if err != nil {
			continue
		}
		if !strings.EqualFold(filepath.Ext(event.Path), s.engine.Extension()) {
			changed = append(changed, name)
			continue
		}
		name = strings.TrimSuffix(name, filepath.Ext(name))
		changed = append(changed, name)
		s.engine.Invalidate(event.Path)

		if event.Type == watcher.EventTypeDeleted || event.Type == watcher.EventTypeRenamed {
			s.errors.Clear(name)
			continue
		}

		if _, err := s.engine.Load(name); err != nil {
			s.logger.Warn(ctx, err, "Template failed to compile", "template", name)
			s.errors.Add(name, err)
		} else {
			s.errors.Clear(name)
		}
	}

	if len(changed) == 0 {
		return nil
	}

	s.logger.Info(ctx, "Templates changed", "templates", strings.Join(changed, ", "))
	if s.hub != nil {
		s.hub.Broadcast(websocket.FullReload(strings.Join(changed, ",")))
	}
	return nil
}
