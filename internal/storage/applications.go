package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Application type methods ---

func scanApplicationType(sc scanner) (*domain.ApplicationType, error) {
	var t domain.ApplicationType
	var questions string
	var discordRole sql.NullString
	if err := sc.Scan(&t.ID, &t.Name, &t.Description, &questions, &discordRole, &t.Active, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.DiscordRoleID = scanNullStringValue(discordRole)
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("decoding questions of type %d: %w", t.ID, err)
	}
	return &t, nil
}

// ListApplicationTypes returns all types, or only active ones for the public form
func (s *Store) ListApplicationTypes(ctx context.Context, activeOnly bool) ([]domain.ApplicationType, error) {
	query := `SELECT id, name, description, questions, discord_role_id, active, created_at FROM application_types`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []domain.ApplicationType{}
	for rows.Next() {
		t, err := scanApplicationType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *t)
	}
	return types, rows.Err()
}

// GetApplicationType returns a type by ID
func (s *Store) GetApplicationType(ctx context.Context, id int64) (*domain.ApplicationType, error) {
	t, err := scanApplicationType(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, questions, discord_role_id, active, created_at
		FROM application_types WHERE id = ?
	`, id))
	return t, notFound(err)
}

// CreateApplicationType inserts a new form
func (s *Store) CreateApplicationType(ctx context.Context, t *domain.ApplicationType) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO application_types (name, description, questions, discord_role_id, active)
		VALUES (?, ?, ?, ?, ?)
	`, t.Name, t.Description, string(questions), nullString(t.DiscordRoleID), t.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("application type %s: %w", t.Name, ErrConflict)
		}
		return err
	}
	t.ID, _ = result.LastInsertId()
	return nil
}

// UpdateApplicationType replaces a form definition
func (s *Store) UpdateApplicationType(ctx context.Context, t *domain.ApplicationType) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE application_types SET name = ?, description = ?, questions = ?, discord_role_id = ?, active = ?
		WHERE id = ?
	`, t.Name, t.Description, string(questions), nullString(t.DiscordRoleID), t.Active, t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("application type %s: %w", t.Name, ErrConflict)
		}
		return err
	}
	return requireAffected(result)
}

// DeleteApplicationType removes a type; types with submissions are deactivated instead
func (s *Store) DeleteApplicationType(ctx context.Context, id int64) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications WHERE type_id = ?`, id).Scan(&count); err != nil {
		return err
	}
	var result sql.Result
	var err error
	if count > 0 {
		result, err = s.db.ExecContext(ctx, `UPDATE application_types SET active = FALSE WHERE id = ?`, id)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM application_types WHERE id = ?`, id)
	}
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// --- Application methods ---

const applicationSelect = `SELECT ` + applicationColumns + ` FROM applications a JOIN application_types t ON t.id = a.type_id`

// CreateApplication stores a submission in pending state with the applicant's token
func (s *Store) CreateApplication(ctx context.Context, sub domain.ApplicationSubmission, applicantToken string) (*domain.Application, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return nil, err
	}
	now := formatTimestamp(time.Now())
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (type_id, applicant_name, applicant_email, discord_id, discord_tag, answers,
			status, applicant_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.TypeID, sub.ApplicantName, nullString(sub.ApplicantEmail), nullString(sub.DiscordID),
		nullString(sub.DiscordTag), string(answers), domain.ApplicationPending, applicantToken, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating application: %w", err)
	}
	id, _ := result.LastInsertId()
	return s.GetApplication(ctx, id)
}

// GetApplication returns an application by ID
func (s *Store) GetApplication(ctx context.Context, id int64) (*domain.Application, error) {
	a, err := scanApplication(s.db.QueryRowContext(ctx, applicationSelect+` WHERE a.id = ?`, id))
	return a, notFound(err)
}

// ApplicationFilter defines filters for listing applications
type ApplicationFilter struct {
	Status   domain.ApplicationStatus
	TypeID   int64
	BeforeID *int64
	Limit    int
}

// ListApplications returns applications newest first, paginated by ID cursor
func (s *Store) ListApplications(ctx context.Context, filter ApplicationFilter) ([]domain.Application, error) {
	filter.Limit = clampLimit(filter.Limit, 50, 200)

	query := applicationSelect + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, filter.Status)
	}
	if filter.TypeID > 0 {
		query += ` AND a.type_id = ?`
		args = append(args, filter.TypeID)
	}
	if filter.BeforeID != nil {
		query += ` AND a.id < ?`
		args = append(args, *filter.BeforeID)
	}
	query += ` ORDER BY a.id DESC LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := []domain.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// ReviewApplication moves an application to a new status after checking the transition.
// The read and the write share a transaction so concurrent reviews cannot both succeed.
func (s *Store) ReviewApplication(ctx context.Context, id int64, review domain.ApplicationReview, reviewerID *int64) (*domain.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.ApplicationStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM applications WHERE id = ?`, id).Scan(&current); err != nil {
		return nil, notFound(err)
	}
	if err := domain.CheckTransition(current, review.Status); err != nil {
		return nil, err
	}

	now := formatTimestamp(time.Now())
	_, err = tx.ExecContext(ctx, `
		UPDATE applications
		SET status = ?, review_notes = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, review.Status, nullString(review.Notes), reviewerID, now, now, id, current)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetApplication(ctx, id)
}

// WithdrawApplication lets the applicant pull a pending application using their token
func (s *Store) WithdrawApplication(ctx context.Context, id int64, applicantToken string) (*domain.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.ApplicationStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM applications WHERE id = ? AND applicant_token = ?
	`, id, applicantToken).Scan(&current)
	if err != nil {
		return nil, notFound(err)
	}
	if err := domain.CheckTransition(current, domain.ApplicationWithdrawn); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = ?, updated_at = ? WHERE id = ?
	`, domain.ApplicationWithdrawn, formatTimestamp(time.Now()), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetApplication(ctx, id)
}

// CountApplicationsByStatus returns how many applications are in each status
func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[domain.ApplicationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.ApplicationStatus]int{
		domain.ApplicationPending:     0,
		domain.ApplicationUnderReview: 0,
		domain.ApplicationApproved:    0,
		domain.ApplicationRejected:    0,
		domain.ApplicationWithdrawn:   0,
	}
	for rows.Next() {
		var status domain.ApplicationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
