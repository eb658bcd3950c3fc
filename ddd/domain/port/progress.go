package port

import "context"

// JobControl is handed to executors while they hold a job lease.
type JobControl interface {
	// ReportProgress persists progress on the job.
	ReportProgress(ctx context.Context, current, total int64, message string) error
	// Checkpoint returns failure.ErrCancelled once cancellation has been requested.
	Checkpoint(ctx context.Context) error
}
