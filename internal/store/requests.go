// ABOUTME: Server join request workflow persistence
// ABOUTME: Status transitions are pending-to-terminal only, enforced by conditional UPDATE

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateServerRequest records an entity's application to join a server.
// The id is generated when empty; status starts as pending.
func (s *SQLiteStore) CreateServerRequest(ctx context.Context, req *ServerRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = RequestStatusPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_requests (id, entity_id, server_id, applicant_id,
			applicant_name, status, reviewer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID,
		req.EntityID,
		req.ServerID,
		req.ApplicantID,
		req.ApplicantName,
		req.Status,
		req.ReviewerID,
		formatTime(req.CreatedAt),
		formatTime(req.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting server request: %w", err)
	}

	s.logger.Info("created server request",
		"request_id", req.ID,
		"entity_id", req.EntityID,
		"server_id", req.ServerID,
	)
	return nil
}

func scanServerRequest(scanner interface{ Scan(dest ...any) error }) (*ServerRequest, error) {
	var r ServerRequest
	var createdAt, updatedAt string

	err := scanner.Scan(
		&r.ID,
		&r.EntityID,
		&r.ServerID,
		&r.ApplicantID,
		&r.ApplicantName,
		&r.Status,
		&r.ReviewerID,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server request: %w", err)
	}

	r.CreatedAt = parseTime(createdAt, "server_requests.created_at")
	r.UpdatedAt = parseTime(updatedAt, "server_requests.updated_at")
	return &r, nil
}

// GetServerRequest retrieves a request by id.
func (s *SQLiteStore) GetServerRequest(ctx context.Context, id string) (*ServerRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, server_id, applicant_id, applicant_name,
		       status, reviewer_id, created_at, updated_at
		FROM server_requests WHERE id = ?
	`, id)
	return scanServerRequest(row)
}

// ListServerRequests returns requests, newest first, filtered by server and/or
// status when those arguments are non-empty.
func (s *SQLiteStore) ListServerRequests(ctx context.Context, serverID, status string) ([]*ServerRequest, error) {
	query := `
		SELECT id, entity_id, server_id, applicant_id, applicant_name,
		       status, reviewer_id, created_at, updated_at
		FROM server_requests WHERE 1=1
	`
	var args []any
	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying server requests: %w", err)
	}
	defer rows.Close()

	var requests []*ServerRequest
	for rows.Next() {
		r, err := scanServerRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server request rows: %w", err)
	}
	return requests, nil
}

// UpdateServerRequest moves a pending request to a terminal status. The
// conditional UPDATE makes the transition atomic: a request that is already
// approved or rejected returns ErrRequestNotPending, a missing one ErrNotFound.
func (s *SQLiteStore) UpdateServerRequest(ctx context.Context, id, status, reviewerID string) error {
	if status != RequestStatusApproved && status != RequestStatusRejected {
		return fmt.Errorf("%w: status must be approved or rejected, got %q", ErrBadInput, status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE server_requests SET status = ?, reviewer_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, reviewerID, formatTime(time.Now().UTC()), id, RequestStatusPending)
	if err != nil {
		return fmt.Errorf("updating server request: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing request from a lost transition race.
		if _, err := s.GetServerRequest(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrRequestNotPending
	}

	s.logger.Info("updated server request", "request_id", id, "status", status, "reviewer", reviewerID)
	return nil
}
