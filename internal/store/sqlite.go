package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path
func Open(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	// WAL keeps readers unblocked while a sync batch writes; the busy timeout
	// lets concurrent writers queue on the allocation lock instead of failing.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, log: log}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutThread inserts a thread unless its id already exists
func (s *SQLiteStore) PutThread(ctx context.Context, t *model.Thread) (bool, error) {
	var lat, lng sql.NullFloat64
	if t.Location != nil {
		lat = sql.NullFloat64{Float64: t.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: t.Location.Longitude, Valid: true}
	}

	ingested := t.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO threads
			(id, username, text, media_type, media_url, timestamp,
			 location_name, latitude, longitude, issue_id, replied, raw, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?, ?)`,
		t.ID, t.Username, t.Text, string(t.MediaType), t.MediaURL, t.Timestamp.UTC(),
		t.LocationName, lat, lng, string(t.Raw), ingested,
	)
	if err != nil {
		return false, fmt.Errorf("insert thread %s: %w", t.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert thread %s: %w", t.ID, err)
	}
	return n > 0, nil
}

// GetThread returns a thread by id
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx, threadSelect+` WHERE id = ?`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return t, nil
}

// HasThread reports whether a thread id exists
func (s *SQLiteStore) HasThread(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check thread %s: %w", id, err)
	}
	return true, nil
}

// ListThreads returns all threads in ingestion order
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]*model.Thread, error) {
	return s.listThreads(ctx, threadSelect+` ORDER BY ingested_at, id`)
}

// ListUnassigned returns threads without an issue assignment in ingestion order
func (s *SQLiteStore) ListUnassigned(ctx context.Context) ([]*model.Thread, error) {
	return s.listThreads(ctx, threadSelect+` WHERE issue_id IS NULL ORDER BY ingested_at, id`)
}

func (s *SQLiteStore) listThreads(ctx context.Context, query string) ([]*model.Thread, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

// AssignIssue writes an issue assignment onto a thread
func (s *SQLiteStore) AssignIssue(ctx context.Context, threadID, issueID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET issue_id = ? WHERE id = ?`, issueID, threadID)
	if err != nil {
		return fmt.Errorf("assign issue to thread %s: %w", threadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReplied flags a thread as acknowledged; the thread must be assigned first
func (s *SQLiteStore) MarkReplied(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET replied = 1 WHERE id = ? AND issue_id IS NOT NULL`, threadID)
	if err != nil {
		return fmt.Errorf("mark thread %s replied: %w", threadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, err := s.HasThread(ctx, threadID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotAssigned
	}
	return nil
}

// GetIssue returns an issue by id
func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	row := s.db.QueryRowContext(ctx, issueSelect+` WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	return issue, nil
}

// ListIssues returns all issues ordered by id
func (s *SQLiteStore) ListIssues(ctx context.Context) ([]*model.Issue, error) {
	rows, err := s.db.QueryContext(ctx, issueSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []*model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// ListIssueSummaries returns the reduced view used for clustering
func (s *SQLiteStore) ListIssueSummaries(ctx context.Context) ([]model.IssueSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description FROM issues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list issue summaries: %w", err)
	}
	defer rows.Close()

	var summaries []model.IssueSummary
	for rows.Next() {
		var sum model.IssueSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Description); err != nil {
			return nil, fmt.Errorf("scan issue summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list issue summaries: %w", err)
	}
	return summaries, nil
}

// FindIssueByTitle returns the issue with an exactly matching title
func (s *SQLiteStore) FindIssueByTitle(ctx context.Context, title string) (*model.Issue, error) {
	row := s.db.QueryRowContext(ctx, issueSelect+` WHERE title = ? ORDER BY id LIMIT 1`, title)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find issue by title: %w", err)
	}
	return issue, nil
}

// AllocateIssue creates issue under the next sequential id.
//
// The counter read, the issue insert and the counter update must commit
// together, so this runs on a dedicated connection under BEGIN IMMEDIATE:
// the RESERVED lock is taken up front, which serializes allocation across
// concurrent callers and guarantees no id is handed out twice. database/sql's
// BeginTx cannot request IMMEDIATE mode, hence the raw statements.
func (s *SQLiteStore) AllocateIssue(ctx context.Context, issue *model.Issue) (string, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return "", fmt.Errorf("begin allocation: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs when ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var last int
	if err := conn.QueryRowContext(ctx,
		`SELECT last_seq FROM issue_counter WHERE id = 1`).Scan(&last); err != nil {
		return "", fmt.Errorf("read counter: %w", err)
	}

	next := last + 1
	id := model.FormatIssueID(next)

	threadIDs, err := json.Marshal(emptyAsList(issue.ThreadIDs))
	if err != nil {
		return "", fmt.Errorf("marshal thread ids: %w", err)
	}
	imageURLs, err := json.Marshal(emptyAsList(issue.ImageURLs))
	if err != nil {
		return "", fmt.Errorf("marshal image urls: %w", err)
	}

	var lat, lng sql.NullFloat64
	if issue.Location != nil {
		lat = sql.NullFloat64{Float64: issue.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: issue.Location.Longitude, Valid: true}
	}

	createdAt := issue.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO issues
			(id, category, type, title, description, image_urls,
			 location_name, latitude, longitude, report_count, thread_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(issue.Category), issue.Type, issue.Title, issue.Description,
		string(imageURLs), issue.LocationName, lat, lng,
		issue.ReportCount, string(threadIDs), createdAt,
	); err != nil {
		return "", fmt.Errorf("insert issue %s: %w", id, err)
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE issue_counter SET last_seq = ? WHERE id = 1`, next); err != nil {
		return "", fmt.Errorf("update counter: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return "", fmt.Errorf("commit allocation: %w", err)
	}
	committed = true

	issue.ID = id
	issue.CreatedAt = createdAt
	s.log.Debug().Str("issue", id).Msg("allocated issue")
	return id, nil
}

// MergeReport folds a thread into an existing issue. SQLite offers no atomic
// set-union, so the increment and both unions run inside one IMMEDIATE
// transaction.
func (s *SQLiteStore) MergeReport(ctx context.Context, issueID string, t *model.Thread) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var rawThreadIDs, rawImageURLs string
	err = conn.QueryRowContext(ctx,
		`SELECT thread_ids, image_urls FROM issues WHERE id = ?`, issueID).
		Scan(&rawThreadIDs, &rawImageURLs)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read issue %s: %w", issueID, err)
	}

	var threadIDs, imageURLs []string
	if err := json.Unmarshal([]byte(rawThreadIDs), &threadIDs); err != nil {
		return fmt.Errorf("decode thread ids for %s: %w", issueID, err)
	}
	if err := json.Unmarshal([]byte(rawImageURLs), &imageURLs); err != nil {
		return fmt.Errorf("decode image urls for %s: %w", issueID, err)
	}

	// Union semantics: a thread already attached must not double-count.
	if containsString(threadIDs, t.ID) {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("commit merge: %w", err)
		}
		committed = true
		return nil
	}
	threadIDs = append(threadIDs, t.ID)
	if t.MediaURL != "" && !containsString(imageURLs, t.MediaURL) {
		imageURLs = append(imageURLs, t.MediaURL)
	}

	newThreadIDs, err := json.Marshal(threadIDs)
	if err != nil {
		return fmt.Errorf("marshal thread ids: %w", err)
	}
	newImageURLs, err := json.Marshal(imageURLs)
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE issues
		SET report_count = report_count + 1, thread_ids = ?, image_urls = ?
		WHERE id = ?`,
		string(newThreadIDs), string(newImageURLs), issueID,
	); err != nil {
		return fmt.Errorf("update issue %s: %w", issueID, err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	committed = true

	s.log.Debug().Str("issue", issueID).Str("thread", t.ID).Msg("merged report")
	return nil
}

// DetachAndReset clears all assignments, deletes all issues and zeroes the
// counter in one transaction, so a crash cannot leave the counter out of step
// with the surviving issue set.
func (s *SQLiteStore) DetachAndReset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET issue_id = NULL, replied = 0`); err != nil {
		return fmt.Errorf("detach threads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM issues`); err != nil {
		return fmt.Errorf("delete issues: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE issue_counter SET last_seq = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	s.log.Info().Msg("store reset: threads detached, issues deleted, counter zeroed")
	return nil
}

// Counter returns the last allocated sequence value
func (s *SQLiteStore) Counter(ctx context.Context) (int, error) {
	var last int
	if err := s.db.QueryRowContext(ctx,
		`SELECT last_seq FROM issue_counter WHERE id = 1`).Scan(&last); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return last, nil
}

const threadSelect = `
	SELECT id, username, text, media_type, media_url, timestamp,
	       location_name, latitude, longitude, issue_id, replied, raw, ingested_at
	FROM threads`

const issueSelect = `
	SELECT id, category, type, title, description, image_urls,
	       location_name, latitude, longitude, report_count, thread_ids, created_at
	FROM issues`

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*model.Thread, error) {
	var (
		t        model.Thread
		media    string
		lat, lng sql.NullFloat64
		issueID  sql.NullString
		raw      string
	)
	err := row.Scan(&t.ID, &t.Username, &t.Text, &media, &t.MediaURL, &t.Timestamp,
		&t.LocationName, &lat, &lng, &issueID, &t.Replied, &raw, &t.IngestedAt)
	if err != nil {
		return nil, err
	}

	t.MediaType = model.MediaType(media)
	if lat.Valid && lng.Valid {
		t.Location = &model.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if issueID.Valid {
		t.IssueID = issueID.String
	}
	if raw != "" {
		t.Raw = []byte(raw)
	}
	return &t, nil
}

func scanIssue(row scanner) (*model.Issue, error) {
	var (
		issue                    model.Issue
		category                 string
		rawImageURLs, rawThreads string
		lat, lng                 sql.NullFloat64
	)
	err := row.Scan(&issue.ID, &category, &issue.Type, &issue.Title, &issue.Description,
		&rawImageURLs, &issue.LocationName, &lat, &lng,
		&issue.ReportCount, &rawThreads, &issue.CreatedAt)
	if err != nil {
		return nil, err
	}

	issue.Category = model.Category(category)
	if lat.Valid && lng.Valid {
		issue.Location = &model.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if err := json.Unmarshal([]byte(rawImageURLs), &issue.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}
	if err := json.Unmarshal([]byte(rawThreads), &issue.ThreadIDs); err != nil {
		return nil, fmt.Errorf("decode thread ids: %w", err)
	}
	return &issue, nil
}

func emptyAsList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
