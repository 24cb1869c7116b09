package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mealsynth/internal/database"
	"mealsynth/internal/metrics"
	"mealsynth/internal/planner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type stubHome struct{ err string }

func (s stubHome) Generate(_ context.Context, req planner.HomeRequest) planner.HomeResult {
	if s.err != "" {
		return planner.HomeResult{Err: s.err, Attempts: 3}
	}
	var meals []planner.GeneratedMeal
	for _, ref := range req.Survey.EffectiveSchedule().Slots(planner.LocationHome) {
		meals = append(meals, planner.GeneratedMeal{
			Day:      ref.Day,
			MealType: ref.MealType,
			Primary:  planner.MealOption{Name: ref.Key() + " bowl", Calories: 500, Source: planner.SourceHome},
		})
	}
	return planner.HomeResult{Meals: meals, Attempts: 1}
}

type stubRestaurants struct{}

func (stubRestaurants) Generate(_ context.Context, req planner.RestaurantRequest) planner.RestaurantResult {
	var meals []planner.GeneratedMeal
	for _, ref := range req.Survey.EffectiveSchedule().Slots(planner.LocationRestaurant) {
		meals = append(meals, planner.GeneratedMeal{
			Day:      ref.Day,
			MealType: ref.MealType,
			Primary:  planner.MealOption{Name: "Margherita", Calories: 800, Source: planner.SourceRestaurant, Restaurant: "Trattoria"},
		})
	}
	return planner.RestaurantResult{Meals: meals, Attempts: 1}
}

type testServer struct {
	handler http.Handler
	surveys *planner.SurveyRepository
}

func newTestServer(t *testing.T, home planner.HomePlanner) *testServer {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	surveys := planner.NewSurveyRepository(db.SQL)
	svc := planner.NewService(planner.ServiceDeps{
		Surveys:     surveys,
		Plans:       planner.NewPlanRepository(db.SQL),
		Home:        home,
		Restaurants: stubRestaurants{},
		Logger:      zap.NewNop(),
	})

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mealsynth_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	srv := NewServer(Config{JWTSecret: testSecret, DataDir: t.TempDir()}, svc, surveys, metrics.NewStore(db), registry, zap.NewNop())
	return &testServer{handler: srv.Handler(), surveys: surveys}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func mealName(day planner.ResolvedDay, mt planner.MealType) string {
	for _, m := range day.Meals {
		if m.MealType == mt && m.Meal != nil {
			return m.Meal.Name
		}
	}
	return ""
}

func surveyBody() map[string]any {
	schedule := map[string]any{}
	for _, d := range planner.WeekDays {
		schedule[d] = map[string]string{"breakfast": "home", "lunch": "home", "dinner": "restaurant"}
	}
	return map[string]any{
		"profile": map[string]any{
			"age": 34, "sex": "female", "height": 66, "weight": 150,
			"activityLevel": "MODERATELY_ACTIVE", "goal": "GENERAL_WELLNESS",
		},
		"weeklyMealSchedule": schedule,
		"preferences":        map[string]any{"city": "Austin", "preferredCuisines": []string{"italian"}},
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, stubHome{})

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status     string                   `json:"status"`
		System     map[string]any           `json:"system"`
		Database   metrics.DatabaseHealth   `json:"database"`
		Generation metrics.GenerationHealth `json:"generation"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, body.System, "goroutines")
	assert.Equal(t, "api.db", filepath.Base(body.Database.Path))
	assert.EqualValues(t, 1, body.Database.SchemaVersion)
	assert.Equal(t, "24h0m0s", body.Generation.Window)
	assert.Zero(t, body.Generation.Stages)

	rec = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mealsynth_test_total 1")
}

func TestServer_PlanLifecycle(t *testing.T) {
	ts := newTestServer(t, stubHome{})
	session := map[string]string{HeaderSessionID: "sess-1"}

	rec := ts.do(t, http.MethodPost, "/api/surveys", surveyBody(), session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var survey planner.Survey
	decodeBody(t, rec, &survey)
	require.NotEmpty(t, survey.ID)
	assert.Equal(t, "sess-1", survey.SessionID)

	t.Run("StatusBeforeGeneration", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/meals/status", nil, session)
		require.Equal(t, http.StatusOK, rec.Code)
		var view planner.PlanStatusView
		decodeBody(t, rec, &view)
		assert.False(t, view.Exists)
		assert.Equal(t, planner.StatusPending, view.Status)
		assert.Equal(t, 2, view.RemainingRegenerations)
	})

	t.Run("CurrentBeforeGeneration", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/meals/current", nil, session)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	rec = ts.do(t, http.MethodPost, "/api/meals/generate-home", nil, map[string]string{HeaderSurveyID: survey.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var home planner.GenerationOutcome
	decodeBody(t, rec, &home)
	assert.True(t, home.Saved)
	assert.Equal(t, planner.StatusPartial, home.Status)
	assert.Len(t, home.Meals, 14)

	rec = ts.do(t, http.MethodPost, "/api/meals/generate-restaurants", map[string]any{"surveyId": survey.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var restaurants planner.GenerationOutcome
	decodeBody(t, rec, &restaurants)
	assert.Equal(t, planner.StatusComplete, restaurants.Status)
	assert.Equal(t, home.PlanID, restaurants.PlanID)

	rec = ts.do(t, http.MethodGet, "/api/meals/current?surveyId="+survey.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current planner.CurrentPlan
	decodeBody(t, rec, &current)
	require.Len(t, current.Week, 7)
	assert.Equal(t, "Margherita", mealName(current.Week[0], planner.Dinner))

	t.Run("Preferences", func(t *testing.T) {
		body := map[string]any{
			"mealPlanId": home.PlanID,
			"selectedMealOptions": map[string]any{
				"monday-lunch": map[string]any{
					"isCustomSwap": true, "sourceDay": "tuesday", "sourceMealType": "lunch", "sourceOption": "primary",
				},
			},
		}
		rec := ts.do(t, http.MethodPost, "/api/meals/preferences", body, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = ts.do(t, http.MethodGet, "/api/meals/current?planId="+home.PlanID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decodeBody(t, rec, &current)
		assert.Equal(t, "tuesday-lunch bowl", mealName(current.Week[0], planner.Lunch))
	})

	t.Run("InvalidPreferenceKey", func(t *testing.T) {
		body := map[string]any{
			"mealPlanId":          home.PlanID,
			"selectedMealOptions": map[string]any{"funday-lunch": "primary"},
		}
		rec := ts.do(t, http.MethodPost, "/api/meals/preferences", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("RegenerationQuota", func(t *testing.T) {
		ids := map[string]string{HeaderSurveyID: survey.ID}
		body := map[string]any{"regenerate": true}
		for i := 0; i < 2; i++ {
			rec := ts.do(t, http.MethodPost, "/api/meals/generate-home", body, ids)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
		rec := ts.do(t, http.MethodPost, "/api/meals/generate-home", body, ids)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		var errBody errorResponse
		decodeBody(t, rec, &errBody)
		assert.Equal(t, "QUOTA_EXCEEDED", string(errBody.Error))
	})
}

func TestServer_SurveyValidation(t *testing.T) {
	ts := newTestServer(t, stubHome{})
	session := map[string]string{HeaderSessionID: "sess-1"}

	t.Run("MissingIdentity", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/surveys", surveyBody(), nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body errorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "VALIDATION_FAILED", string(body.Error))
		assert.Equal(t, "sessionId", body.Metadata["field"])
	})

	t.Run("UnknownDay", func(t *testing.T) {
		body := surveyBody()
		body["weeklyMealSchedule"] = map[string]any{"funday": map[string]string{"dinner": "home"}}
		rec := ts.do(t, http.MethodPost, "/api/surveys", body, session)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownLocation", func(t *testing.T) {
		body := surveyBody()
		body["weeklyMealSchedule"] = map[string]any{"monday": map[string]string{"dinner": "cafeteria"}}
		rec := ts.do(t, http.MethodPost, "/api/surveys", body, session)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidActivityLevel", func(t *testing.T) {
		body := surveyBody()
		body["profile"] = map[string]any{"age": 30, "activityLevel": "COUCH"}
		rec := ts.do(t, http.MethodPost, "/api/surveys", body, session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errBody errorResponse
		decodeBody(t, rec, &errBody)
		assert.Equal(t, "activityLevel", errBody.Metadata["field"])
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/surveys", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, stubHome{})

	t.Run("InvalidToken", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/meals/status", nil, map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongScheme", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/meals/status", nil, map[string]string{"Authorization": "Basic abc"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("TokenSubjectIsUserID", func(t *testing.T) {
		token, err := IssueToken([]byte(testSecret), "user-42", time.Hour)
		require.NoError(t, err)

		rec := ts.do(t, http.MethodPost, "/api/surveys", surveyBody(), map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var survey planner.Survey
		decodeBody(t, rec, &survey)
		assert.Equal(t, "user-42", survey.UserID)

		latest, err := ts.surveys.FindLatest(context.Background(), "user-42", "")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, survey.ID, latest.ID)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		token, err := IssueToken([]byte(testSecret), "user-42", -time.Minute)
		require.NoError(t, err)
		_, err = ParseToken([]byte(testSecret), token)
		assert.Error(t, err)
	})
}

func TestServer_GenerateErrors(t *testing.T) {
	t.Run("NoCorrelationIDs", func(t *testing.T) {
		ts := newTestServer(t, stubHome{})
		rec := ts.do(t, http.MethodPost, "/api/meals/generate-home", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownPlan", func(t *testing.T) {
		ts := newTestServer(t, stubHome{})
		rec := ts.do(t, http.MethodGet, "/api/meals/status?planId=missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GenerationFailure", func(t *testing.T) {
		ts := newTestServer(t, stubHome{err: "model unavailable"})
		session := map[string]string{HeaderSessionID: "sess-9"}
		rec := ts.do(t, http.MethodPost, "/api/surveys", surveyBody(), session)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/meals/generate-home", nil, session)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		var body errorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "EXTERNAL_SERVICE_ERROR", string(body.Error))
		assert.Equal(t, "model unavailable", body.Details)
	})
}
