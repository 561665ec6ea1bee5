package instrumentation

import (
	"context"

	"github.com/attache-app/attache/internal/engine"
	"github.com/attache-app/attache/internal/provider"
)

// EngineRecorder adapts Metrics to the engine's observation interface.
type EngineRecorder struct {
	metrics *Metrics
}

// NewEngineRecorder creates a recorder over the given metrics.
func NewEngineRecorder(metrics *Metrics) *EngineRecorder {
	return &EngineRecorder{metrics: metrics}
}

// ChatTurn records one engine turn by outcome. Proposals raise the
// pending-action gauge; executions lower it.
func (r *EngineRecorder) ChatTurn(outcome engine.Outcome) {
	ctx := context.Background()
	r.metrics.RecordChatTurn(ctx, string(outcome))
	switch outcome {
	case engine.OutcomeProposed:
		r.metrics.IncrementPendingActions(ctx)
	case engine.OutcomeExecuted:
		r.metrics.DecrementPendingActions(ctx)
	}
}

// ActionExecuted records a confirmed side effect.
func (r *EngineRecorder) ActionExecuted(t provider.ActionType, p provider.Provider) {
	r.metrics.RecordActionExecuted(context.Background(), string(t), string(p))
}
