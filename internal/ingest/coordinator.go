// Package ingest coordinates the end-to-end flows: syncing mentions from the
// Threads API into the store, reprocessing stored threads, and dispatching
// acknowledgement replies.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/engine"
	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/store"
	"github.com/civiclens/civiclens/internal/worker"
)

// Source lists mentions and fetches full thread payloads
type Source interface {
	ListMentions(ctx context.Context) ([]string, error)
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
}

// Assigner routes an ingested thread to an issue
type Assigner interface {
	Assign(ctx context.Context, thread *model.Thread) (*engine.Assignment, error)
}

// Replier publishes an acknowledgement reply for an assigned thread
type Replier interface {
	SendReply(ctx context.Context, threadID, issueID string) (string, error)
}

// Coordinator wires the source, the engine, the store and the optional
// replier into the sync and reprocess flows.
type Coordinator struct {
	store   store.Store
	source  Source
	engine  Assigner
	replier Replier
	workers int
	log     zerolog.Logger
}

// New creates a Coordinator. The replier may be nil when replies are not
// configured; sync then skips the reply step.
func New(st store.Store, source Source, eng Assigner, replier Replier, workers int, log zerolog.Logger) (*Coordinator, error) {
	if st == nil || source == nil || eng == nil {
		return nil, fmt.Errorf("store, source and engine are required")
	}
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		store:   st,
		source:  source,
		engine:  eng,
		replier: replier,
		workers: workers,
		log:     log,
	}, nil
}

// ThreadResult is the per-thread outcome of a sync or reprocess run.
type ThreadResult struct {
	ThreadID string
	IssueID  string
	Created  bool
	// Skipped is true when the thread was already ingested.
	Skipped bool
	Replied bool
	Err     error
	// ReplyErr records a reply dispatch failure. The issue assignment
	// stands; only the replied flag is left unset.
	ReplyErr error
}

// GetError implements worker.Result
func (r *ThreadResult) GetError() error { return r.Err }

// SyncResult aggregates one sync run.
type SyncResult struct {
	Mentions int
	Skipped  int
	Assigned int
	Created  int
	Replied  int
	Failed   int
	Results  []*ThreadResult
}

// SyncOptions controls a sync run.
type SyncOptions struct {
	// AutoReply publishes an acknowledgement for each newly assigned thread.
	AutoReply bool
}

// Sync lists mentions, ingests the unseen ones and routes each through the
// engine, fanning the work out across the worker pool. Already-ingested
// mentions are skipped, which makes repeated runs safe.
func (c *Coordinator) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if opts.AutoReply && c.replier == nil {
		return nil, fmt.Errorf("auto-reply requested but no replier configured")
	}

	mentionIDs, err := c.source.ListMentions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	c.log.Info().Int("mentions", len(mentionIDs)).Msg("sync started")

	pool := worker.NewPool(c.workers)
	pool.Start()
	for _, id := range mentionIDs {
		pool.Submit(&syncJob{coordinator: c, threadID: id, autoReply: opts.AutoReply})
	}

	result := &SyncResult{Mentions: len(mentionIDs)}
	for _, r := range pool.Wait() {
		result.add(r.(*ThreadResult))
	}

	c.log.Info().
		Int("mentions", result.Mentions).
		Int("skipped", result.Skipped).
		Int("assigned", result.Assigned).
		Int("created", result.Created).
		Int("failed", result.Failed).
		Msg("sync finished")

	return result, nil
}

func (s *SyncResult) add(r *ThreadResult) {
	s.Results = append(s.Results, r)
	switch {
	case r.Err != nil:
		s.Failed++
	case r.Skipped:
		s.Skipped++
	default:
		s.Assigned++
		if r.Created {
			s.Created++
		}
		if r.Replied {
			s.Replied++
		}
	}
}

type syncJob struct {
	coordinator *Coordinator
	threadID    string
	autoReply   bool
}

// Execute ingests and routes one mention.
func (j *syncJob) Execute(ctx context.Context) worker.Result {
	c := j.coordinator
	result := &ThreadResult{ThreadID: j.threadID}

	seen, err := c.store.HasThread(ctx, j.threadID)
	if err != nil {
		result.Err = fmt.Errorf("check thread %s: %w", j.threadID, err)
		return result
	}
	if seen {
		result.Skipped = true
		return result
	}

	thread, err := c.source.GetThread(ctx, j.threadID)
	if err != nil {
		result.Err = fmt.Errorf("fetch thread %s: %w", j.threadID, err)
		return result
	}
	thread.IngestedAt = time.Now().UTC()

	inserted, err := c.store.PutThread(ctx, thread)
	if err != nil {
		result.Err = fmt.Errorf("store thread %s: %w", j.threadID, err)
		return result
	}
	if !inserted {
		// Another worker ingested the same mention first.
		result.Skipped = true
		return result
	}

	assignment, err := c.engine.Assign(ctx, thread)
	if err != nil {
		// The thread stays stored and unassigned; a later reprocess
		// picks it up.
		result.Err = err
		return result
	}
	result.IssueID = assignment.IssueID
	result.Created = assignment.Created

	if j.autoReply {
		result.Replied, result.ReplyErr = c.reply(ctx, thread.ID, assignment.IssueID)
	}

	return result
}

// reply dispatches an acknowledgement and flags the thread on success.
func (c *Coordinator) reply(ctx context.Context, threadID, issueID string) (bool, error) {
	if _, err := c.replier.SendReply(ctx, threadID, issueID); err != nil {
		c.log.Warn().Err(err).Str("thread_id", threadID).Msg("reply dispatch failed")
		return false, err
	}
	if err := c.store.MarkReplied(ctx, threadID); err != nil {
		return false, fmt.Errorf("mark replied %s: %w", threadID, err)
	}
	return true, nil
}

// Reply manually dispatches an acknowledgement for one stored thread. The
// thread must already have an issue assignment and no prior reply.
func Reply(ctx context.Context, st store.Store, replier Replier, threadID string) (string, error) {
	if replier == nil {
		return "", fmt.Errorf("no replier configured")
	}

	thread, err := st.GetThread(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if !thread.Assigned() {
		return "", fmt.Errorf("thread %s: %w", threadID, store.ErrNotAssigned)
	}
	if thread.Replied {
		return "", fmt.Errorf("thread %s already replied", threadID)
	}

	mediaID, err := replier.SendReply(ctx, threadID, thread.IssueID)
	if err != nil {
		return "", err
	}
	if err := st.MarkReplied(ctx, threadID); err != nil {
		return "", fmt.Errorf("mark replied %s: %w", threadID, err)
	}
	return mediaID, nil
}
