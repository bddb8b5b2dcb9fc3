package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/dispatch"
	"github.com/Kocoro-lab/stepflow/internal/plan"
	"github.com/Kocoro-lab/stepflow/internal/resolver"
)

// ConditionalExecutor extends the linear executor with branch
// evaluation for condition steps.
type ConditionalExecutor struct {
	*Executor
}

// NewConditional creates an executor that additionally evaluates
// condition steps.
func NewConditional(d dispatch.Dispatcher, res *resolver.Resolver, logger *zap.Logger, opts Options) *ConditionalExecutor {
	return &ConditionalExecutor{Executor: New(d, res, logger, opts)}
}

// Run executes the plan, following branch targets where condition
// steps select them.
func (c *ConditionalExecutor) Run(ctx context.Context, p *plan.Plan, fromStepID int, hook StepHook) (*plan.ExecutionResult, error) {
	return c.run(ctx, p, fromStepID, hook, c.executeStep)
}

func (c *ConditionalExecutor) executeStep(ctx context.Context, p *plan.Plan, s plan.Step) (*plan.StepResult, int, error) {
	cond, ok := s.(plan.ConditionStep)
	if !ok {
		return c.Executor.executeStep(ctx, p, s)
	}

	res := &plan.StepResult{StepID: cond.ID, Type: plan.KindCondition, ExecutedAt: time.Now()}
	verdict, err := EvalCondition(cond.Expression, c.resolver, c.opts.Variables)
	if err != nil {
		res.Error = fmt.Sprintf("condition: %v", err)
		return res, 0, nil
	}

	target := cond.Targets.False
	if verdict {
		target = cond.Targets.True
	}
	// Zero target falls through sequentially. Backward jumps would
	// break the monotonic currentStepId invariant.
	if target == 0 {
		target = p.NextStepID(cond.ID)
	} else if target <= cond.ID {
		res.Error = fmt.Sprintf("branch target %d is not a later step", target)
		return res, 0, nil
	}

	res.Success = true
	res.Result = verdict
	c.logger.Debug("Condition evaluated",
		zap.String("plan_id", p.ID),
		zap.Int("step_id", cond.ID),
		zap.Bool("verdict", verdict),
		zap.Int("next_step", target),
	)
	return res, target, nil
}
