package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPlanNotFound is returned by Load when no plan has the given id.
var ErrPlanNotFound = errors.New("meal plan not found")

// ErrPlanExists is returned by Create when the survey already has a plan
// for that week.
var ErrPlanExists = errors.New("meal plan already exists for week")

// PlanStore persists meal plans.
type PlanStore interface {
	Load(ctx context.Context, id string) (*MealPlan, error)
	// FindForWeek returns nil, nil when the survey has no plan that week.
	FindForWeek(ctx context.Context, surveyID string, weekOf time.Time) (*MealPlan, error)
	Create(ctx context.Context, plan *MealPlan) error
	Update(ctx context.Context, plan *MealPlan) error
}

// PlanRepository is a SQLite-backed PlanStore.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, survey_id, user_id, week_of, status, regeneration_count, user_context, created_at, updated_at`

// weekKey is the stored form of a week start.
func weekKey(t time.Time) string {
	return StartOfWeek(t).Format("2006-01-02")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*MealPlan, error) {
	var (
		p       MealPlan
		userID  sql.NullString
		weekOf  string
		status  string
		rawCtx  string
	)
	err := row.Scan(&p.ID, &p.SurveyID, &userID, &weekOf, &status, &p.RegenerationCount, &rawCtx, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.UserID = userID.String
	p.Status = PlanStatus(status)
	p.WeekOf, err = time.Parse("2006-01-02", weekOf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse week_of %q: %w", weekOf, err)
	}
	if err := json.Unmarshal([]byte(rawCtx), &p.UserContext); err != nil {
		return nil, fmt.Errorf("failed to decode user context of plan %s: %w", p.ID, err)
	}
	if err := p.UserContext.Validate(); err != nil {
		return nil, fmt.Errorf("stored plan %s is invalid: %w", p.ID, err)
	}
	return &p, nil
}

// Load retrieves a plan by id.
func (r *PlanRepository) Load(ctx context.Context, id string) (*MealPlan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM meal_plans WHERE id = ?`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meal plan %s: %w", id, err)
	}
	return plan, nil
}

// FindForWeek implements PlanStore.
func (r *PlanRepository) FindForWeek(ctx context.Context, surveyID string, weekOf time.Time) (*MealPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM meal_plans WHERE survey_id = ? AND week_of = ?`,
		surveyID, weekKey(weekOf),
	)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meal plan for survey %s: %w", surveyID, err)
	}
	return plan, nil
}

func encodeContext(uc *UserContext) (string, error) {
	if err := uc.Validate(); err != nil {
		return "", fmt.Errorf("invalid user context: %w", err)
	}
	raw, err := json.Marshal(uc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user context: %w", err)
	}
	return string(raw), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new plan.
func (r *PlanRepository) Create(ctx context.Context, plan *MealPlan) error {
	uc, err := encodeContext(&plan.UserContext)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO meal_plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.SurveyID, nullString(plan.UserID), weekKey(plan.WeekOf), string(plan.Status),
		plan.RegenerationCount, uc, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrPlanExists
		}
		return fmt.Errorf("failed to insert meal plan: %w", err)
	}
	return nil
}

// Update replaces the mutable columns of an existing plan.
func (r *PlanRepository) Update(ctx context.Context, plan *MealPlan) error {
	uc, err := encodeContext(&plan.UserContext)
	if err != nil {
		return err
	}
	plan.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`UPDATE meal_plans SET user_id = ?, status = ?, regeneration_count = ?, user_context = ?, updated_at = ? WHERE id = ?`,
		nullString(plan.UserID), string(plan.Status), plan.RegenerationCount, uc, plan.UpdatedAt, plan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update meal plan %s: %w", plan.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update meal plan %s: %w", plan.ID, err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}
