// Package stats computes corpus aggregates for operator-facing reports.
package stats

import (
	"context"
	"fmt"

	"github.com/civiclens/civiclens/internal/model"
	"github.com/civiclens/civiclens/internal/store"
)

// Corpus summarizes the current state of the thread and issue corpus.
type Corpus struct {
	Threads    int `json:"threads" yaml:"threads"`
	Assigned   int `json:"assigned" yaml:"assigned"`
	Unassigned int `json:"unassigned" yaml:"unassigned"`
	Replied    int `json:"replied" yaml:"replied"`

	Issues  int `json:"issues" yaml:"issues"`
	Reports int `json:"reports" yaml:"reports"`

	// LastSeq is the highest issue sequence number allocated so far.
	LastSeq int `json:"last_seq" yaml:"last_seq"`

	// Inconsistent counts issues whose report_count disagrees with the
	// number of attached threads. Always zero unless the store was edited
	// out of band.
	Inconsistent int `json:"inconsistent" yaml:"inconsistent"`

	ByCategory map[model.Category]int `json:"by_category" yaml:"by_category"`
}

// Collect walks the store and aggregates corpus counters.
func Collect(ctx context.Context, st store.Store) (*Corpus, error) {
	threads, err := st.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	issues, err := st.ListIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	lastSeq, err := st.Counter(ctx)
	if err != nil {
		return nil, fmt.Errorf("read counter: %w", err)
	}

	corpus := &Corpus{
		Threads:    len(threads),
		Issues:     len(issues),
		LastSeq:    lastSeq,
		ByCategory: make(map[model.Category]int),
	}

	for _, thread := range threads {
		if thread.Assigned() {
			corpus.Assigned++
		} else {
			corpus.Unassigned++
		}
		if thread.Replied {
			corpus.Replied++
		}
	}

	for _, issue := range issues {
		corpus.Reports += issue.ReportCount
		corpus.ByCategory[issue.Category]++
		if issue.ReportCount != len(issue.ThreadIDs) {
			corpus.Inconsistent++
		}
	}

	return corpus, nil
}
