package workload

import (
	"context"
	"fmt"

	"github.com/me/ksched/internal/store"
)

// archiveBatch bounds the events written per transaction.
const archiveBatch = 500

// Archive stores a finished run and its trace.
func Archive(ctx context.Context, st store.Store, rep *Report) error {
	run := rep.Run()
	finished := run.FinishedAt
	run.FinishedAt = nil
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	for i := 0; i < len(rep.Events); i += archiveBatch {
		end := min(i+archiveBatch, len(rep.Events))
		if err := st.AppendEvents(ctx, run.ID, rep.Events[i:end]); err != nil {
			return fmt.Errorf("append events of run %s: %w", run.ID, err)
		}
	}
	run.FinishedAt = finished
	if err := st.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}
