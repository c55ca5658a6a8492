// Package audit publishes transition records to an external sink for
// observability. It is never load-bearing: a publish failure is logged
// and otherwise ignored, the same contract the engine's logger adapter
// carries.
package audit

import (
	"context"
	"encoding/json"

	"github.com/logimos/reactor/internal/engine"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink is a best-effort publisher of TransitionRecords to a Kafka
// topic, keyed by execution id.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

type auditEvent struct {
	EventID      string                 `json:"eventId"`
	ExecutionID  string                 `json:"executionId"`
	WorkflowName string                 `json:"workflowName"`
	Record       engine.TransitionRecord `json:"record"`
}

// Publish writes one audit event. EventID is a fresh uuid distinct from
// ExecutionID (the Kafka partition key) so a consumer can de-duplicate
// redelivered messages. Errors are logged, never returned to the caller —
// the transition loop must never stall or fail waiting on the audit sink.
func (k *KafkaSink) Publish(ctx context.Context, execution *engine.WorkflowExecution, record engine.TransitionRecord) {
	payload, err := json.Marshal(auditEvent{
		EventID:      uuid.NewString(),
		ExecutionID:  execution.ID,
		WorkflowName: execution.WorkflowName,
		Record:       record,
	})
	if err != nil {
		k.logger.Warn("failed to marshal audit event", zap.Error(err))
		return
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(execution.ID),
		Value: payload,
	})
	if err != nil {
		k.logger.Warn("failed to publish audit event", zap.String("execution", execution.ID), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// Plugin adapts KafkaSink into an engine.Plugin: every AfterExecute call
// publishes the most recent transition appended to the running context's
// history. Embeds engine.BasePlugin so only AfterExecute needs overriding.
type Plugin struct {
	engine.BasePlugin
	sink *KafkaSink
}

// NewPlugin wraps sink as a workflow-level plugin.
func NewPlugin(sink *KafkaSink) *Plugin {
	return &Plugin{sink: sink}
}

func (p *Plugin) AfterExecute(ctx context.Context, wfCtx *engine.WorkflowContext) error {
	if n := len(wfCtx.History); n > 0 {
		execution := &engine.WorkflowExecution{ID: wfCtx.ExecutionID, Context: wfCtx}
		p.sink.Publish(ctx, execution, wfCtx.History[n-1])
	}
	return nil
}
