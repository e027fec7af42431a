package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	logx "eventra/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file after it settles from a burst of changes, until ctx
// ends. It watches the parent directory so atomic-rename saves are seen, and
// re-creates a broken watcher with growing delays.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if strings.TrimSpace(m.path) == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}

	delay := rewatchMin
	for {
		err := m.watchOnce(ctx, filepath.Clean(dir), name)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = rewatchMin
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("in", delay), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, rewatchMax)
	}
}

// watchOnce runs one watcher until ctx ends or the watcher fails. A nil
// return after a working session resets the restart delay.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.applyReload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op&relevantOps != 0 {
				settle.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return nil
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				settle.Reset(reloadDebounce)
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func (m *ConfigManager) applyReload(ctx context.Context) {
	switch err := m.reload(ctx); {
	case err == nil:
	case errors.Is(err, errUnchanged):
		m.log.Debug("config unchanged", logx.String("path", m.path))
	default:
		m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
	}
}
