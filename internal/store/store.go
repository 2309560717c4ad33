// Package store persists threads, issues and the issue counter.
//
// Access goes through the Store interface so the engine and coordinators can
// be tested against fakes; nothing in the codebase holds a process-wide
// database handle.
package store

import (
	"context"
	"errors"

	"github.com/civiclens/civiclens/internal/model"
)

var (
	// ErrNotFound is returned when a thread or issue does not exist
	ErrNotFound = errors.New("store: not found")

	// ErrNotAssigned is returned when marking a thread replied before it has
	// an issue assignment
	ErrNotAssigned = errors.New("store: thread has no issue assigned")
)

// Store is the persistence contract for the clustering engine and the
// ingestion/reprocessing coordinators.
type Store interface {
	// PutThread inserts a thread if its id is unseen. Re-ingesting a known id
	// is a no-op; the return value reports whether a row was inserted.
	PutThread(ctx context.Context, t *model.Thread) (bool, error)

	// GetThread returns a thread by id, or ErrNotFound
	GetThread(ctx context.Context, id string) (*model.Thread, error)

	// HasThread reports whether a thread id has been ingested
	HasThread(ctx context.Context, id string) (bool, error)

	// ListThreads returns all threads in stable ingestion order
	// (ingested_at, then id). Full reprocessing depends on this order being
	// reproducible.
	ListThreads(ctx context.Context) ([]*model.Thread, error)

	// ListUnassigned returns threads with no issue assignment, in ingestion order
	ListUnassigned(ctx context.Context) ([]*model.Thread, error)

	// AssignIssue writes the issue assignment onto a thread
	AssignIssue(ctx context.Context, threadID, issueID string) error

	// MarkReplied flags a thread as acknowledged. Fails with ErrNotAssigned
	// unless the thread already has an issue.
	MarkReplied(ctx context.Context, threadID string) error

	// GetIssue returns an issue by id, or ErrNotFound
	GetIssue(ctx context.Context, id string) (*model.Issue, error)

	// ListIssues returns all issues ordered by id
	ListIssues(ctx context.Context) ([]*model.Issue, error)

	// ListIssueSummaries returns the reduced issue view fed to the clusterer
	ListIssueSummaries(ctx context.Context) ([]model.IssueSummary, error)

	// FindIssueByTitle returns the issue with an exactly matching title, or
	// ErrNotFound. Used by the hardcoded rule path.
	FindIssueByTitle(ctx context.Context, title string) (*model.Issue, error)

	// AllocateIssue atomically allocates the next sequential issue id and
	// creates the issue under it. The counter read, the issue insert and the
	// counter update commit in one transaction; concurrent callers never
	// receive the same id and the counter never decreases.
	AllocateIssue(ctx context.Context, issue *model.Issue) (string, error)

	// MergeReport folds one more thread into an existing issue: report_count
	// is incremented and the thread id (and media url, when present) are
	// union-appended. Merging a thread id that is already attached changes
	// nothing.
	MergeReport(ctx context.Context, issueID string, t *model.Thread) error

	// DetachAndReset performs the destructive half of a full reprocess in a
	// single transaction: every thread loses its assignment and replied flag,
	// every issue is deleted, and the counter is zeroed.
	DetachAndReset(ctx context.Context) error

	// Counter returns the last allocated sequence value
	Counter(ctx context.Context) (int, error)

	Close() error
}
