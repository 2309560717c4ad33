package ingest

import (
	"context"
	"fmt"

	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/worker"
)

// ReprocessMode selects which threads a reprocess run touches.
type ReprocessMode string

const (
	// ModeUnassigned re-routes only threads that never got an issue,
	// leaving existing issues intact. Threads run concurrently.
	ModeUnassigned ReprocessMode = "unassigned"

	// ModeFull deletes every issue, resets the counter and rebuilds the
	// corpus from all stored threads in ingestion order. Threads run
	// strictly sequentially so the rebuilt issue ids are reproducible.
	ModeFull ReprocessMode = "full"
)

// ReprocessResult aggregates one reprocess run.
type ReprocessResult struct {
	Mode     ReprocessMode
	Threads  int
	Assigned int
	Created  int
	Failed   int
	Results  []*ThreadResult
}

// Reprocess re-routes stored threads through the engine according to mode.
func (c *Coordinator) Reprocess(ctx context.Context, mode ReprocessMode) (*ReprocessResult, error) {
	switch mode {
	case ModeUnassigned:
		return c.reprocessUnassigned(ctx)
	case ModeFull:
		return c.reprocessFull(ctx)
	default:
		return nil, fmt.Errorf("unknown reprocess mode %q", mode)
	}
}

func (c *Coordinator) reprocessUnassigned(ctx context.Context) (*ReprocessResult, error) {
	threads, err := c.store.ListUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unassigned: %w", err)
	}
	c.log.Info().Int("threads", len(threads)).Msg("reprocessing unassigned threads")

	pool := worker.NewPool(c.workers)
	pool.Start()
	for _, thread := range threads {
		pool.Submit(&assignJob{coordinator: c, thread: thread})
	}

	result := &ReprocessResult{Mode: ModeUnassigned, Threads: len(threads)}
	for _, r := range pool.Wait() {
		result.add(r.(*ThreadResult))
	}
	return result, nil
}

// reprocessFull rebuilds the issue corpus from scratch. The destructive
// reset commits atomically before any thread is routed, so a crash midway
// leaves detached threads rather than a half-dead corpus.
func (c *Coordinator) reprocessFull(ctx context.Context) (*ReprocessResult, error) {
	if err := c.store.DetachAndReset(ctx); err != nil {
		return nil, fmt.Errorf("reset corpus: %w", err)
	}

	threads, err := c.store.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	c.log.Info().Int("threads", len(threads)).Msg("rebuilding corpus from all threads")

	result := &ReprocessResult{Mode: ModeFull, Threads: len(threads)}
	for _, thread := range threads {
		job := &assignJob{coordinator: c, thread: thread}
		result.add(job.Execute(ctx).(*ThreadResult))
	}
	return result, nil
}

func (r *ReprocessResult) add(tr *ThreadResult) {
	r.Results = append(r.Results, tr)
	if tr.Err != nil {
		r.Failed++
		return
	}
	r.Assigned++
	if tr.Created {
		r.Created++
	}
}

type assignJob struct {
	coordinator *Coordinator
	thread      *model.Thread
}

// Execute routes one already-stored thread.
func (j *assignJob) Execute(ctx context.Context) worker.Result {
	result := &ThreadResult{ThreadID: j.thread.ID}

	assignment, err := j.coordinator.engine.Assign(ctx, j.thread)
	if err != nil {
		result.Err = err
		return result
	}
	result.IssueID = assignment.IssueID
	result.Created = assignment.Created
	return result
}
