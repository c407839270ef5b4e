package engine

import (
	"context"
	"time"

	"github.com/BaSui01/hrmflow/complexity"
	"github.com/BaSui01/hrmflow/convergence"
	"github.com/BaSui01/hrmflow/tools"
	"github.com/BaSui01/hrmflow/types"
)

// StatusConfig is the configuration subset reported by Status.
type StatusConfig struct {
	MaxRetries           int     `json:"max_retries"`
	ConvergenceThreshold float64 `json:"convergence_threshold"`
	MaxIterations        int     `json:"max_iterations"`
	AdvancedConvergence  bool    `json:"advanced_convergence"`
	MaxContextTokens     int     `json:"max_context_tokens"`
	Tokenizer            string  `json:"tokenizer,omitempty"`
}

// Status 引擎状态快照
type Status struct {
	TotalExecutions      int64                         `json:"total_executions"`
	SuccessRate          float64                       `json:"success_rate"`
	AverageExecutionTime time.Duration                 `json:"average_execution_time"`
	ByTier               map[types.Tier]int64          `json:"by_tier"`
	InterfaceStats       tools.Stats                   `json:"interface_stats"`
	AssessorCache        *complexity.Stats             `json:"assessor_cache,omitempty"`
	Configuration        StatusConfig                  `json:"configuration"`
	Learning             *convergence.LearningInsights `json:"learning,omitempty"`
	InFlight             int64                         `json:"in_flight"`
	EventsDropped        int64                         `json:"events_dropped"`
	Uptime               time.Duration                 `json:"uptime"`
}

// Status aggregates history, tool and learning statistics.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	sum, err := e.history.Summary(ctx)
	if err != nil {
		return Status{}, types.NewStorageError("history summary", err)
	}

	st := Status{
		TotalExecutions:      sum.Total,
		SuccessRate:          sum.SuccessRate,
		AverageExecutionTime: sum.AverageTime,
		ByTier:               sum.ByTier,
		InterfaceStats:       e.invoker.Stats(),
		Configuration: StatusConfig{
			MaxRetries:           e.invoker.Config().MaxAttempts,
			ConvergenceThreshold: e.config.ConvergenceThreshold,
			MaxIterations:        e.config.MaxIterations,
			AdvancedConvergence:  e.advanced != nil,
			MaxContextTokens:     e.config.MaxContextTokens,
		},
		InFlight: e.inFlight.Load(),
		Uptime:   time.Since(e.started),
	}
	if e.counter != nil {
		st.Configuration.Tokenizer = e.counter.Name()
	}
	if c, ok := e.assessor.(*complexity.CachingAssessor); ok {
		s := c.Stats()
		st.AssessorCache = &s
	}
	if e.advanced != nil {
		li, err := e.advanced.Insights(ctx)
		if err != nil {
			return Status{}, types.NewStorageError("learning insights", err)
		}
		st.Learning = &li
	}
	if e.events != nil {
		st.EventsDropped = e.events.Dropped()
	}
	return st, nil
}
