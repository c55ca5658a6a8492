// Package metrics instruments the engine with Prometheus collectors, the
// way dshills-langgraph-go instruments its own graph engine with
// prometheus/client_golang.
package metrics

import (
	"context"
	"sync"

	"github.com/logimos/reactor/internal/engine"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric the engine reports. LockDenials is
// registered but nothing in this repository increments it: Plugin does not
// observe group lock acquisition, so the counter stays at zero.
type Collectors struct {
	Transitions   *prometheus.CounterVec
	Retries       prometheus.Counter
	LockDenials   prometheus.Counter
	Suspensions   prometheus.Counter
	ActiveRunning prometheus.Gauge
}

// NewCollectors builds and registers the engine's metrics against reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "transitions_total",
			Help:      "Total number of recorded state transitions, by status.",
		}, []string{"status"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "retries_total",
			Help:      "Total number of state re-attempts performed by the retry engine.",
		}),
		LockDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "lock_denials_total",
			Help:      "Total number of group lock acquisition attempts that were denied.",
		}),
		Suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reactor",
			Name:      "suspensions_total",
			Help:      "Total number of executions that suspended.",
		}),
		ActiveRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reactor",
			Name:      "executions_running",
			Help:      "Number of workflow executions currently running.",
		}),
	}

	reg.MustRegister(c.Transitions, c.Retries, c.LockDenials, c.Suspensions, c.ActiveRunning)
	return c
}

// Plugin adapts Collectors into an engine.Plugin, counting transitions and
// suspensions as they're appended to a running context's history. One
// Plugin instance is shared across a workflow's concurrent executions, so
// observed is guarded by mu.
type Plugin struct {
	engine.BasePlugin
	collectors *Collectors
	mu         sync.Mutex
	observed   map[string]int
}

// NewPlugin wraps collectors as a workflow-level plugin.
func NewPlugin(collectors *Collectors) *Plugin {
	return &Plugin{collectors: collectors, observed: make(map[string]int)}
}

func (p *Plugin) BeforeExecute(ctx context.Context, wfCtx *engine.WorkflowContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observed[wfCtx.ExecutionID] == 0 {
		p.collectors.ActiveRunning.Inc()
	}
	return nil
}

func (p *Plugin) AfterExecute(ctx context.Context, wfCtx *engine.WorkflowContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := p.observed[wfCtx.ExecutionID]
	for _, rec := range wfCtx.History[seen:] {
		p.collectors.Transitions.WithLabelValues(string(rec.Status)).Inc()
		if rec.Status == engine.TransitionFailure {
			p.collectors.Retries.Inc()
		}
		if rec.Status == engine.TransitionSuspended {
			p.collectors.Suspensions.Inc()
			p.collectors.ActiveRunning.Dec()
		}
	}
	p.observed[wfCtx.ExecutionID] = len(wfCtx.History)
	return nil
}

func (p *Plugin) OnError(ctx context.Context, wfCtx *engine.WorkflowContext, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors.ActiveRunning.Dec()
	return nil
}
