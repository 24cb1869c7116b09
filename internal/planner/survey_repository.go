package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SurveyStore persists surveys.
type SurveyStore interface {
	Save(ctx context.Context, s *Survey) error
	// Get returns nil, nil when no survey has the id.
	Get(ctx context.Context, id string) (*Survey, error)
	// FindLatest returns the newest survey of a user or, when userID is
	// empty, of a session. It returns nil, nil when there is none.
	FindLatest(ctx context.Context, userID, sessionID string) (*Survey, error)
}

// SurveyRepository is a SQLite-backed SurveyStore.
type SurveyRepository struct {
	db *sql.DB
}

// NewSurveyRepository creates a new SurveyRepository.
func NewSurveyRepository(db *sql.DB) *SurveyRepository {
	return &SurveyRepository{db: db}
}

const surveyColumns = `id, user_id, session_id, profile, schedule, preferences, created_at, updated_at`

func scanSurvey(row rowScanner) (*Survey, error) {
	var (
		s                              Survey
		userID, sessionID              sql.NullString
		profile, schedule, preferences string
	)
	if err := row.Scan(&s.ID, &userID, &sessionID, &profile, &schedule, &preferences, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.UserID = userID.String
	s.SessionID = sessionID.String

	if err := json.Unmarshal([]byte(profile), &s.Profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if schedule != "" && schedule != "null" {
		if err := json.Unmarshal([]byte(schedule), &s.Schedule); err != nil {
			return nil, fmt.Errorf("failed to decode schedule: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(preferences), &s.Preferences); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &s, nil
}

// Save inserts the survey or replaces the one with the same id.
func (r *SurveyRepository) Save(ctx context.Context, s *Survey) error {
	profile, err := json.Marshal(s.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	schedule, err := json.Marshal(s.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	preferences, err := json.Marshal(s.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO surveys (`+surveyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			session_id = excluded.session_id,
			profile = excluded.profile,
			schedule = excluded.schedule,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`,
		s.ID, nullString(s.UserID), nullString(s.SessionID), string(profile), string(schedule), string(preferences),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save survey: %w", err)
	}
	return nil
}

// Get implements SurveyStore.
func (r *SurveyRepository) Get(ctx context.Context, id string) (*Survey, error) {
	s, err := scanSurvey(r.db.QueryRowContext(ctx, `SELECT `+surveyColumns+` FROM surveys WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get survey %s: %w", id, err)
	}
	return s, nil
}

// FindLatest implements SurveyStore.
func (r *SurveyRepository) FindLatest(ctx context.Context, userID, sessionID string) (*Survey, error) {
	column, value := "user_id", userID
	if userID == "" {
		column, value = "session_id", sessionID
	}
	if value == "" {
		return nil, nil
	}

	s, err := scanSurvey(r.db.QueryRowContext(ctx,
		`SELECT `+surveyColumns+` FROM surveys WHERE `+column+` = ? ORDER BY updated_at DESC LIMIT 1`, value,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find survey: %w", err)
	}
	return s, nil
}
