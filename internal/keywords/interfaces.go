package keywords

import (
	"context"
	"time"
)

// KeywordSource supplies the deduplicated keyword set for a run.
type KeywordSource interface {
	Keywords(ctx context.Context) ([]string, error)
}

// Dispatcher performs exactly one network round-trip for one batch against one
// endpoint and parses the response into a per-keyword result map.
type Dispatcher interface {
	Dispatch(ctx context.Context, baseURL string, batch Batch) (ResultMap, error)
}

// PersistenceSink stores enriched items durably.
type PersistenceSink interface {
	Save(ctx context.Context, items []EnrichedItem) error
}

// SubmissionSink forwards enriched items downstream (e.g. a message topic).
type SubmissionSink interface {
	Submit(ctx context.Context, items []EnrichedItem) error
}

// CheckpointStore records the processed-so-far watermark for a run.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// CommitSink publishes the checkpoint artifact to a durable, versioned store.
// It reports whether anything new was committed, so callers can force a commit
// without producing duplicates.
type CommitSink interface {
	Commit(ctx context.Context, label string) (bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
