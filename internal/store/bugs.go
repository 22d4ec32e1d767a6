// ABOUTME: Bug report persistence with a message thread per report
// ABOUTME: Reports are filed by entities through the control API and triaged by operators

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BugReport status values
const (
	BugStatusOpen   = "open"
	BugStatusClosed = "closed"
)

// BugReport is a user-filed issue with a message thread attached.
type BugReport struct {
	ID           string
	ReporterID   string
	ReporterName string
	Title        string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BugReportMessage is one message in a report's thread.
type BugReportMessage struct {
	ID         string
	ReportID   string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

// BugStore is the bug-report slice of the registry, kept separate from Store
// because only the control API and operator CLI consume it.
type BugStore interface {
	CreateBugReport(ctx context.Context, report *BugReport) error
	GetBugReport(ctx context.Context, id string) (*BugReport, error)
	ListBugReports(ctx context.Context, reporterID, status string) ([]*BugReport, error)
	SetBugReportStatus(ctx context.Context, id, status string) error
	AddBugReportMessage(ctx context.Context, msg *BugReportMessage) error
	ListBugReportMessages(ctx context.Context, reportID string) ([]*BugReportMessage, error)
}

// CreateBugReport files a new report. The id is generated when empty.
func (s *SQLiteStore) CreateBugReport(ctx context.Context, report *BugReport) error {
	if strings.TrimSpace(report.Title) == "" {
		return fmt.Errorf("%w: bug report title is required", ErrBadInput)
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Status == "" {
		report.Status = BugStatusOpen
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	report.UpdatedAt = report.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bug_reports (id, reporter_id, reporter_name, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.ReporterID,
		report.ReporterName,
		report.Title,
		report.Status,
		formatTime(report.CreatedAt),
		formatTime(report.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting bug report: %w", err)
	}

	s.logger.Info("created bug report", "report_id", report.ID, "reporter", report.ReporterID)
	return nil
}

func scanBugReport(scanner interface{ Scan(dest ...any) error }) (*BugReport, error) {
	var r BugReport
	var createdAt, updatedAt string

	err := scanner.Scan(&r.ID, &r.ReporterID, &r.ReporterName, &r.Title, &r.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bug report: %w", err)
	}

	r.CreatedAt = parseTime(createdAt, "bug_reports.created_at")
	r.UpdatedAt = parseTime(updatedAt, "bug_reports.updated_at")
	return &r, nil
}

// GetBugReport retrieves a report by id.
func (s *SQLiteStore) GetBugReport(ctx context.Context, id string) (*BugReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, reporter_id, reporter_name, title, status, created_at, updated_at
		FROM bug_reports WHERE id = ?
	`, id)
	return scanBugReport(row)
}

// ListBugReports returns reports, newest first, filtered by reporter and/or
// status when those arguments are non-empty.
func (s *SQLiteStore) ListBugReports(ctx context.Context, reporterID, status string) ([]*BugReport, error) {
	query := `
		SELECT id, reporter_id, reporter_name, title, status, created_at, updated_at
		FROM bug_reports WHERE 1=1
	`
	var args []any
	if reporterID != "" {
		query += " AND reporter_id = ?"
		args = append(args, reporterID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bug reports: %w", err)
	}
	defer rows.Close()

	var reports []*BugReport
	for rows.Next() {
		r, err := scanBugReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bug report rows: %w", err)
	}
	return reports, nil
}

// SetBugReportStatus moves a report between open and closed.
func (s *SQLiteStore) SetBugReportStatus(ctx context.Context, id, status string) error {
	if status != BugStatusOpen && status != BugStatusClosed {
		return fmt.Errorf("%w: status must be open or closed, got %q", ErrBadInput, status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE bug_reports SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating bug report status: %w", err)
	}
	return requireRowAffected(result)
}

// AddBugReportMessage appends a message to a report's thread and bumps the
// report's updated_at.
func (s *SQLiteStore) AddBugReportMessage(ctx context.Context, msg *BugReportMessage) error {
	if strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("%w: message body is required", ErrBadInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if _, err := s.GetBugReport(ctx, msg.ReportID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bug_report_messages (id, report_id, author_id, author_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ReportID,
		msg.AuthorID,
		msg.AuthorName,
		msg.Body,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting bug report message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE bug_reports SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), msg.ReportID,
	)
	if err != nil {
		return fmt.Errorf("touching bug report: %w", err)
	}
	return nil
}

// ListBugReportMessages returns a report's thread in chronological order.
func (s *SQLiteStore) ListBugReportMessages(ctx context.Context, reportID string) ([]*BugReportMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, author_id, author_name, body, created_at
		FROM bug_report_messages WHERE report_id = ? ORDER BY created_at
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("querying bug report messages: %w", err)
	}
	defer rows.Close()

	var messages []*BugReportMessage
	for rows.Next() {
		var m BugReportMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ReportID, &m.AuthorID, &m.AuthorName, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning bug report message row: %w", err)
		}
		m.CreatedAt = parseTime(createdAt, "bug_report_messages.created_at")
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bug report message rows: %w", err)
	}
	return messages, nil
}
