package registration

import (
	"context"
	"os"
	"path/filepath"

	"github.com/logimos/reactor/internal/engine"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FactoryResolver supplies the code-side Factory for a state id so a
// hot-reloaded YAML spec can be compiled. Registration code configures
// this once up front; it isn't part of the YAML itself.
type FactoryResolver func(workflowName, stateID string) (func() engine.State, bool)

// Watcher hot-reloads a directory of workflow YAML files into a running
// engine.Engine, adapted from the teacher's fsnotify-based FileTrigger.
type Watcher struct {
	logger   *zap.Logger
	engine   *engine.Engine
	resolve  FactoryResolver
	plugins  []engine.Plugin
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher builds a Watcher that registers compiled workflows into eng,
// using resolve to fill in each state's Factory. plugins are appended to
// every loaded spec's Plugins, since YAML has no way to declare a
// code-side plugin itself; pass nil if the caller has none.
func NewWatcher(eng *engine.Engine, resolve FactoryResolver, plugins []engine.Plugin, logger *zap.Logger) *Watcher {
	return &Watcher{
		logger:  logger,
		engine:  eng,
		resolve: resolve,
		plugins: plugins,
		done:    make(chan struct{}),
	}
}

// Start begins watching dir for .yaml/.yml changes, loading and
// registering each one immediately before watching for subsequent edits.
func (w *Watcher) Start(ctx context.Context, dir string) error {
	if err := w.loadDir(ctx, dir); err != nil {
		w.logger.Warn("initial workflow load had errors", zap.Error(err))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	if err := fw.Add(dir); err != nil {
		return err
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if err := w.loadFile(ctx, event.Name); err != nil {
					w.logger.Error("failed to reload workflow", zap.String("file", event.Name), zap.Error(err))
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Error("workflow watcher error", zap.Error(err))
			case <-w.done:
				return
			}
		}
	}()

	w.logger.Info("workflow watcher started", zap.String("dir", dir))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.done)
}

func (w *Watcher) loadDir(ctx context.Context, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isYAML(path) {
			return nil
		}
		if loadErr := w.loadFile(ctx, path); loadErr != nil {
			w.logger.Warn("failed to load workflow", zap.String("file", path), zap.Error(loadErr))
		}
		return nil
	})
}

func (w *Watcher) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	spec, err := LoadYAML(data)
	if err != nil {
		return err
	}

	for _, s := range spec.States {
		if s.Factory != nil {
			continue
		}
		factory, ok := w.resolve(spec.Name, s.ID)
		if !ok {
			return &missingFactoryError{Workflow: spec.Name, State: s.ID}
		}
		if err := spec.AttachFactory(s.ID, factory); err != nil {
			return err
		}
	}

	if len(w.plugins) > 0 {
		spec.Plugins = append(append([]engine.Plugin{}, spec.Plugins...), w.plugins...)
	}

	def, states, err := NewBuilder(*spec).Compile()
	if err != nil {
		return err
	}

	if err := w.engine.RegisterWorkflow(ctx, def, states); err != nil {
		return err
	}

	w.logger.Info("registered workflow", zap.String("name", def.Name), zap.String("file", path))
	return nil
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

type missingFactoryError struct {
	Workflow string
	State    string
}

func (e *missingFactoryError) Error() string {
	return "no registered factory for workflow " + e.Workflow + " state " + e.State
}
