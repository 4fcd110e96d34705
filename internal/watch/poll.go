package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/drey/pkg/objective"
)

// PlanSource reports the drafted plan of a staged objective, or nil while the
// worker has not produced one yet.
type PlanSource func(ctx context.Context, objectiveID string) ([]objective.PlanStep, error)

// PollForPlan polls every interval until a plan draft exists for objectiveID.
func PollForPlan(ctx context.Context, src PlanSource, objectiveID string, interval, timeout time.Duration) ([]objective.PlanStep, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for plan draft after %v", timeout)

		case <-ticker.C:
			steps, err := src(ctx, objectiveID)
			if err != nil {
				return nil, fmt.Errorf("failed to query plan draft: %w", err)
			}
			if len(steps) > 0 {
				return steps, nil
			}
		}
	}
}
