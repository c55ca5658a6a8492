package engine

import "context"

// pluginManager invokes a fixed-shape set of optional plugin hooks in
// registration order. Any Plugin implementation may leave methods as
// no-ops; pluginManager does not special-case that — it calls what's
// registered.
type pluginManager struct {
	plugins []Plugin
}

func newPluginManager(plugins []Plugin) *pluginManager {
	return &pluginManager{plugins: plugins}
}

func (pm *pluginManager) onInit(ctx context.Context) error {
	for _, p := range pm.plugins {
		if p == nil {
			continue
		}
		if err := p.OnInit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (pm *pluginManager) beforeExecute(ctx context.Context, wfCtx *WorkflowContext) error {
	for _, p := range pm.plugins {
		if p == nil {
			continue
		}
		if err := p.BeforeExecute(ctx, wfCtx); err != nil {
			return err
		}
	}
	return nil
}

func (pm *pluginManager) afterExecute(ctx context.Context, wfCtx *WorkflowContext) error {
	for _, p := range pm.plugins {
		if p == nil {
			continue
		}
		if err := p.AfterExecute(ctx, wfCtx); err != nil {
			return err
		}
	}
	return nil
}

func (pm *pluginManager) onError(ctx context.Context, wfCtx *WorkflowContext, err error) {
	for _, p := range pm.plugins {
		if p == nil {
			continue
		}
		_ = p.OnError(ctx, wfCtx, err)
	}
}

func (pm *pluginManager) extendContext(ctx context.Context, wfCtx *WorkflowContext) (*WorkflowContext, error) {
	for _, p := range pm.plugins {
		if p == nil {
			continue
		}
		extended, err := p.ExtendContext(ctx, wfCtx)
		if err != nil {
			return wfCtx, err
		}
		if extended != nil {
			wfCtx = extended
		}
	}
	return wfCtx, nil
}

// BasePlugin is an embeddable no-op Plugin implementation; concrete
// plugins embed it and override only the hooks they need.
type BasePlugin struct{}

func (BasePlugin) OnInit(context.Context) error { return nil }
func (BasePlugin) BeforeExecute(context.Context, *WorkflowContext) error { return nil }
func (BasePlugin) AfterExecute(context.Context, *WorkflowContext) error { return nil }
func (BasePlugin) OnError(context.Context, *WorkflowContext, error) error { return nil }
func (BasePlugin) ExtendContext(ctx context.Context, wfCtx *WorkflowContext) (*WorkflowContext, error) {
	return wfCtx, nil
}
