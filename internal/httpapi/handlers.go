package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mealsynth/internal/apperrors"
	"mealsynth/internal/metrics"
	"mealsynth/internal/nutrition"
	"mealsynth/internal/planner"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error    apperrors.ErrorCode `json:"error"`
	Message  string              `json:"message"`
	Details  string              `json:"details,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

type profileRequest struct {
	Age           int     `json:"age" validate:"omitempty,min=13,max=120"`
	Sex           string  `json:"sex" validate:"omitempty,oneof=male female MALE FEMALE"`
	Height        float64 `json:"height" validate:"omitempty,gt=0,lt=120"`
	Weight        float64 `json:"weight" validate:"omitempty,gt=0,lt=1500"`
	ActivityLevel string  `json:"activityLevel" validate:"omitempty,oneof=SEDENTARY LIGHTLY_ACTIVE MODERATELY_ACTIVE VERY_ACTIVE EXTREMELY_ACTIVE"`
	Goal          string  `json:"goal" validate:"omitempty,oneof=WEIGHT_LOSS MUSCLE_GAIN ENDURANCE GENERAL_WELLNESS"`
}

type dayRequest struct {
	Breakfast string `json:"breakfast" validate:"omitempty,oneof=home restaurant no-meal"`
	Lunch     string `json:"lunch" validate:"omitempty,oneof=home restaurant no-meal"`
	Dinner    string `json:"dinner" validate:"omitempty,oneof=home restaurant no-meal"`
}

type surveyRequest struct {
	ID          string                `json:"id" validate:"omitempty,max=64"`
	UserID      string                `json:"userId" validate:"omitempty,max=128"`
	SessionID   string                `json:"sessionId" validate:"omitempty,max=128"`
	Profile     profileRequest        `json:"profile"`
	Schedule    map[string]dayRequest `json:"weeklyMealSchedule" validate:"omitempty,dive,keys,oneof=monday tuesday wednesday thursday friday saturday sunday,endkeys"`
	Preferences planner.Preferences   `json:"preferences"`
}

func (req surveyRequest) toSurvey() *planner.Survey {
	survey := &planner.Survey{
		ID:        req.ID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Profile: nutrition.Profile{
			Age:           req.Profile.Age,
			Sex:           strings.ToLower(req.Profile.Sex),
			HeightInches:  req.Profile.Height,
			WeightPounds:  req.Profile.Weight,
			ActivityLevel: nutrition.ActivityLevel(req.Profile.ActivityLevel),
			Goal:          nutrition.Goal(req.Profile.Goal),
		},
		Preferences: req.Preferences,
	}
	if len(req.Schedule) > 0 {
		survey.Schedule = make(planner.WeeklySchedule, len(req.Schedule))
		for day, d := range req.Schedule {
			survey.Schedule[day] = planner.PlannedMeals{
				Breakfast: planner.MealLocation(d.Breakfast),
				Lunch:     planner.MealLocation(d.Lunch),
				Dinner:    planner.MealLocation(d.Dinner),
			}
		}
	}
	return survey
}

type generateRequest struct {
	SurveyID           string                         `json:"surveyId"`
	PlanID             string                         `json:"planId"`
	SessionID          string                         `json:"sessionId"`
	Regenerate         bool                           `json:"regenerate"`
	RestaurantCalories []nutrition.RestaurantCalories `json:"restaurantCalories" validate:"omitempty,dive"`
}

type preferencesRequest struct {
	MealPlanID          string                      `json:"mealPlanId" validate:"required"`
	SelectedMealOptions map[string]planner.Override `json:"selectedMealOptions"`
}

// healthWindow is the span of generation activity /health summarises.
const healthWindow = 24 * time.Hour

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"system": metrics.GetSysHealth(s.cfg.DataDir),
		})
		return
	}

	h, err := s.health.Health(r.Context(), healthWindow)
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
			"system": h.System,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"system":     h.System,
		"database":   h.Database,
		"generation": h.Generation,
	})
}

func (s *Server) handleSaveSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	survey := req.toSurvey()
	ids := LookupFrom(r.Context())
	if survey.UserID == "" {
		survey.UserID = ids.UserID
	}
	if survey.SessionID == "" {
		survey.SessionID = ids.SessionID
	}
	if survey.UserID == "" && survey.SessionID == "" {
		s.writeError(w, apperrors.NewValidation("sessionId", "a user or session id is required"))
		return
	}
	if survey.ID == "" {
		survey.ID = uuid.NewString()
	} else if existing, err := s.surveys.Get(r.Context(), survey.ID); err != nil {
		s.writeError(w, apperrors.NewDatabase("get survey", err))
		return
	} else if existing != nil {
		survey.CreatedAt = existing.CreatedAt
	}

	if err := s.surveys.Save(r.Context(), survey); err != nil {
		s.writeError(w, apperrors.NewDatabase("save survey", err))
		return
	}
	s.logger.Info("survey saved", zap.String("survey_id", survey.ID))
	s.writeJSON(w, http.StatusCreated, survey)
}

func (s *Server) handleGenerate(pipeline string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := s.decode(r, &req, true); err != nil {
			s.writeError(w, err)
			return
		}

		lookup := LookupFrom(r.Context())
		lookup.SurveyID = firstNonEmpty(req.SurveyID, lookup.SurveyID)
		lookup.SessionID = firstNonEmpty(req.SessionID, lookup.SessionID)
		lookup.PlanID = req.PlanID
		gen := planner.GenerateRequest{
			Lookup:             lookup,
			Regenerate:         req.Regenerate,
			RestaurantCalories: req.RestaurantCalories,
		}

		var (
			out *planner.GenerationOutcome
			err error
		)
		if pipeline == planner.PipelineHome {
			out, err = s.service.GenerateHome(r.Context(), gen)
		} else {
			out, err = s.service.GenerateRestaurants(r.Context(), gen)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}

		if out.Error != "" && len(out.Meals) == 0 {
			s.writeJSON(w, http.StatusBadGateway, errorResponse{
				Error:    apperrors.CodeExternalServiceError,
				Message:  fmt.Sprintf("%s meal generation failed", pipeline),
				Details:  out.Error,
				Metadata: map[string]any{"attempts": out.Attempts},
			})
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), queryLookup(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	current, err := s.service.Current(r.Context(), queryLookup(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, current)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	plan, err := s.service.UpdatePreferences(r.Context(), req.MealPlanID, req.SelectedMealOptions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mealPlanId":          plan.ID,
		"selectedMealOptions": plan.UserContext.SelectedMealOptions,
		"dailySummaries":      plan.UserContext.DailySummaries,
	})
}

// queryLookup adds the query string ids to the request identity.
func queryLookup(r *http.Request) planner.Lookup {
	l := LookupFrom(r.Context())
	q := r.URL.Query()
	l.SurveyID = firstNonEmpty(q.Get("surveyId"), l.SurveyID)
	l.SessionID = firstNonEmpty(q.Get("sessionId"), l.SessionID)
	l.PlanID = q.Get("planId")
	return l
}

// decode reads a JSON body into dst and validates it. allowEmpty accepts a
// missing body.
func (s *Server) decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return apperrors.NewBadRequest("invalid JSON body").WithCause(err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewValidation(fe.Field(), fmt.Sprintf("%s failed the %q check", fe.Namespace(), fe.Tag()))
		}
		return apperrors.NewBadRequest("invalid request").WithCause(err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	if appErr.StatusCode() >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, appErr)
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:    appErr.Code,
		Message:  appErr.Message,
		Details:  appErr.Details,
		Metadata: appErr.Metadata,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
