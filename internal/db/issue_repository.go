package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrIssueNotFound = errors.New("issue not found")

// Issue types, priorities and statuses as stored in the database.
const (
	IssueTypeCloudSecurity     = "CLOUD_SECURITY"
	IssueTypeRedTeamAssessment = "RED_TEAM_ASSESSMENT"
	IssueTypeVAPT              = "VAPT"

	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"

	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusResolved   = "RESOLVED"
	StatusClosed     = "CLOSED"
)

type Issue struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IssueFilters narrows List results. Zero values mean "no filter".
type IssueFilters struct {
	Status   string
	Priority string
	Type     string
	Search   string
}

// IssueUpdate carries the mutable issue fields; nil means "leave unchanged".
type IssueUpdate struct {
	Type        *string
	Title       *string
	Description *string
	Priority    *string
	Status      *string
}

type IssueRepository struct {
	db *DB
}

func NewIssueRepository(db *DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) Create(ctx context.Context, issue *Issue) error {
	query := `
		INSERT INTO issues (id, user_id, type, title, description, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		issue.ID, issue.UserID, issue.Type, issue.Title, issue.Description,
		issue.Priority, issue.Status, issue.CreatedAt, issue.UpdatedAt,
	)
	return err
}

// List returns the user's issues, newest first, narrowed by filters.
func (r *IssueRepository) List(ctx context.Context, userID uuid.UUID, filters IssueFilters) ([]*Issue, error) {
	query := `
		SELECT id, user_id, type, title, description, priority, status, created_at, updated_at
		FROM issues
		WHERE user_id = $1
	`
	args := []any{userID}

	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.Priority != "" {
		args = append(args, filters.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	if filters.Type != "" {
		args = append(args, filters.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+NormalizeSearch(filters.Search)+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issues := []*Issue{}
	for rows.Next() {
		issue := &Issue{}
		if err := rows.Scan(
			&issue.ID, &issue.UserID, &issue.Type, &issue.Title, &issue.Description,
			&issue.Priority, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt,
		); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}

	return issues, rows.Err()
}

// GetByIDForUser returns the issue only when it belongs to the user.
func (r *IssueRepository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*Issue, error) {
	query := `
		SELECT id, user_id, type, title, description, priority, status, created_at, updated_at
		FROM issues
		WHERE id = $1 AND user_id = $2
	`

	issue := &Issue{}
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&issue.ID, &issue.UserID, &issue.Type, &issue.Title, &issue.Description,
		&issue.Priority, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, err
	}

	return issue, nil
}

// Update mutates the given fields. The user_id predicate is part of the
// UPDATE itself, not just a prior lookup.
func (r *IssueRepository) Update(ctx context.Context, id, userID uuid.UUID, update IssueUpdate) (*Issue, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, userID}

	add := func(column string, value *string) {
		if value != nil {
			args = append(args, *value)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	add("type", update.Type)
	add("title", update.Title)
	add("description", update.Description)
	add("priority", update.Priority)
	add("status", update.Status)

	query := fmt.Sprintf(`
		UPDATE issues
		SET %s
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, type, title, description, priority, status, created_at, updated_at
	`, strings.Join(sets, ", "))

	issue := &Issue{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&issue.ID, &issue.UserID, &issue.Type, &issue.Title, &issue.Description,
		&issue.Priority, &issue.Status, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, err
	}

	return issue, nil
}

// Delete removes the issue, again scoped to the owning user.
func (r *IssueRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	query := `
		DELETE FROM issues
		WHERE id = $1 AND user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrIssueNotFound
	}

	return nil
}

var searchNormalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeSearch strips diacritics and collapses whitespace so "Café " and
// "cafe" produce the same match pattern.
func NormalizeSearch(s string) string {
	normalized, _, err := transform.String(searchNormalizer, s)
	if err != nil {
		normalized = s
	}
	return strings.Join(strings.Fields(normalized), " ")
}
