package domain

import (
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

// ApplicationStatus is the review state of a whitelist or staff application
type ApplicationStatus string

const (
	ApplicationPending     ApplicationStatus = "pending"
	ApplicationUnderReview ApplicationStatus = "under_review"
	ApplicationApproved    ApplicationStatus = "approved"
	ApplicationRejected    ApplicationStatus = "rejected"
	ApplicationWithdrawn   ApplicationStatus = "withdrawn"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationPending:     {ApplicationUnderReview, ApplicationApproved, ApplicationRejected, ApplicationWithdrawn},
	ApplicationUnderReview: {ApplicationApproved, ApplicationRejected, ApplicationPending},
}

// Valid reports whether s is a known status
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationPending, ApplicationUnderReview, ApplicationApproved, ApplicationRejected, ApplicationWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed
func (s ApplicationStatus) Terminal() bool {
	return len(applicationTransitions[s]) == 0
}

// CanTransition reports whether an application may move from one status to another
func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range applicationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with context when a move is not allowed
func CheckTransition(from, to ApplicationStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Question is one field of an application form
type Question struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Type      string   `json:"type"` // text, textarea, select, number
	Required  bool     `json:"required"`
	MinLength int      `json:"min_length,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// ApplicationType describes a form applicants can submit (whitelist, police, EMS, staff...)
type ApplicationType struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Questions     []Question `json:"questions"`
	DiscordRoleID string     `json:"discord_role_id,omitempty"` // granted on approval
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Application is a submitted form
type Application struct {
	ID             int64             `json:"id"`
	TypeID         int64             `json:"type_id"`
	TypeName       string            `json:"type_name,omitempty"`
	ApplicantName  string            `json:"applicant_name"`
	ApplicantEmail string            `json:"applicant_email,omitempty"`
	DiscordID      string            `json:"discord_id,omitempty"`
	DiscordTag     string            `json:"discord_tag,omitempty"`
	Answers        map[string]string `json:"answers"`
	Status         ApplicationStatus `json:"status"`
	ReviewNotes    string            `json:"review_notes,omitempty"`
	ReviewedBy     *int64            `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ApplicationSubmission is the public form payload
type ApplicationSubmission struct {
	TypeID         int64             `json:"type_id"`
	ApplicantName  string            `json:"applicant_name"`
	ApplicantEmail string            `json:"applicant_email"`
	DiscordID      string            `json:"discord_id"`
	DiscordTag     string            `json:"discord_tag"`
	Answers        map[string]string `json:"answers"`
}

// Validate checks the submission against the form's questions
func (s ApplicationSubmission) Validate(t *ApplicationType) error {
	var problems []string

	if strings.TrimSpace(s.ApplicantName) == "" {
		problems = append(problems, "applicant_name is required")
	}
	if s.ApplicantEmail != "" {
		if _, err := mail.ParseAddress(s.ApplicantEmail); err != nil {
			problems = append(problems, "applicant_email is invalid")
		}
	}
	if s.DiscordID != "" && !isSnowflake(s.DiscordID) {
		problems = append(problems, "discord_id must be a numeric Discord user id")
	}

	for _, q := range t.Questions {
		answer := strings.TrimSpace(s.Answers[q.ID])
		if q.Required && answer == "" {
			problems = append(problems, fmt.Sprintf("%s is required", q.Label))
			continue
		}
		if answer != "" && q.MinLength > 0 && len([]rune(answer)) < q.MinLength {
			problems = append(problems, fmt.Sprintf("%s must be at least %d characters", q.Label, q.MinLength))
		}
		if answer != "" && q.Type == "number" && !isNumber(answer) {
			problems = append(problems, fmt.Sprintf("%s must be a number", q.Label))
		}
		if answer != "" && q.Type == "select" && len(q.Options) > 0 && !contains(q.Options, answer) {
			problems = append(problems, fmt.Sprintf("%s has an invalid option", q.Label))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// isNumber accepts finite decimal numbers such as "24" or "1.5"
func isNumber(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

var questionTypes = []string{"text", "textarea", "select", "number"}

// Validate checks a form definition before it is stored
func (t ApplicationType) Validate() error {
	var problems []string
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is required")
	}
	if t.DiscordRoleID != "" && !isSnowflake(t.DiscordRoleID) {
		problems = append(problems, "discord_role_id must be a numeric Discord role id")
	}
	seen := make(map[string]bool)
	for i, q := range t.Questions {
		switch {
		case q.ID == "":
			problems = append(problems, fmt.Sprintf("question %d has no id", i+1))
		case seen[q.ID]:
			problems = append(problems, fmt.Sprintf("question id %s is used twice", q.ID))
		}
		seen[q.ID] = true
		if strings.TrimSpace(q.Label) == "" {
			problems = append(problems, fmt.Sprintf("question %d has no label", i+1))
		}
		if !contains(questionTypes, q.Type) {
			problems = append(problems, fmt.Sprintf("question %d has unknown type %q", i+1, q.Type))
		}
		if q.Type == "select" && len(q.Options) == 0 {
			problems = append(problems, fmt.Sprintf("question %d needs options", i+1))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// ApplicationReview is a staff decision on an application
type ApplicationReview struct {
	Status ApplicationStatus `json:"status"`
	Notes  string            `json:"notes"`
}

func isSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 21 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
