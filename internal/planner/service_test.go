package planner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mealsynth/internal/apperrors"
	"mealsynth/internal/enrichment"
	"mealsynth/internal/nutrition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memPlanStore keeps plans in memory, copying through JSON like a real store.
type memPlanStore struct {
	mu        sync.Mutex
	plans     map[string][]byte
	failWrite bool
}

func newMemPlanStore() *memPlanStore {
	return &memPlanStore{plans: make(map[string][]byte)}
}

func (m *memPlanStore) decode(raw []byte) *MealPlan {
	var p MealPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		panic(err)
	}
	return &p
}

func (m *memPlanStore) Load(ctx context.Context, id string) (*MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return m.decode(raw), nil
}

func (m *memPlanStore) FindForWeek(ctx context.Context, surveyID string, weekOf time.Time) (*MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.plans {
		p := m.decode(raw)
		if p.SurveyID == surveyID && weekKey(p.WeekOf) == weekKey(weekOf) {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memPlanStore) Create(ctx context.Context, plan *MealPlan) error {
	if m.failWrite {
		return errors.New("disk full")
	}
	if existing, _ := m.FindForWeek(ctx, plan.SurveyID, plan.WeekOf); existing != nil {
		return ErrPlanExists
	}
	return m.put(plan)
}

func (m *memPlanStore) Update(ctx context.Context, plan *MealPlan) error {
	if m.failWrite {
		return errors.New("disk full")
	}
	return m.put(plan)
}

func (m *memPlanStore) put(plan *MealPlan) error {
	if err := plan.UserContext.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = raw
	return nil
}

func (m *memPlanStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.plans)
}

type memSurveyStore struct {
	surveys map[string]*Survey
}

func (m *memSurveyStore) Save(ctx context.Context, s *Survey) error {
	m.surveys[s.ID] = s
	return nil
}

func (m *memSurveyStore) Get(ctx context.Context, id string) (*Survey, error) {
	s, ok := m.surveys[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSurveyStore) FindLatest(ctx context.Context, userID, sessionID string) (*Survey, error) {
	for _, s := range m.surveys {
		if (userID != "" && s.UserID == userID) || (userID == "" && sessionID != "" && s.SessionID == sessionID) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeHome struct {
	calls atomic.Int32
	res   func(req HomeRequest) HomeResult
}

func (f *fakeHome) Generate(ctx context.Context, req HomeRequest) HomeResult {
	f.calls.Add(1)
	return f.res(req)
}

type fakeRestaurants struct {
	calls atomic.Int32
	res   func(req RestaurantRequest) RestaurantResult
}

func (f *fakeRestaurants) Generate(ctx context.Context, req RestaurantRequest) RestaurantResult {
	f.calls.Add(1)
	return f.res(req)
}

type recordingPrices struct {
	mu       sync.Mutex
	requests []enrichment.PriceRequest
	err      error
}

func (r *recordingPrices) TriggerPriceLookup(ctx context.Context, req enrichment.PriceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.err
}

func (r *recordingPrices) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type stubFinder struct{}

func (stubFinder) GetFoodImage(ctx context.Context, name string, hints enrichment.ImageHints) (enrichment.ImageResult, error) {
	if name == "" {
		return enrichment.ImageResult{}, errors.New("no name")
	}
	return enrichment.ImageResult{ImageURL: "https://img/" + enrichment.NormalizeDishName(name), Source: enrichment.ImageSourcePexels}, nil
}

type harness struct {
	svc         *Service
	plans       *memPlanStore
	surveys     *memSurveyStore
	home        *fakeHome
	restaurants *fakeRestaurants
	prices      *recordingPrices
	runner      *enrichment.Runner
}

func newHarness(t *testing.T, survey *Survey) *harness {
	t.Helper()
	h := &harness{
		plans:   newMemPlanStore(),
		surveys: &memSurveyStore{surveys: map[string]*Survey{survey.ID: survey}},
		home: &fakeHome{res: func(req HomeRequest) HomeResult {
			return HomeResult{Meals: homeMealsFor(req.Survey.EffectiveSchedule()), Attempts: 1}
		}},
		restaurants: &fakeRestaurants{res: func(req RestaurantRequest) RestaurantResult {
			return RestaurantResult{
				Meals:       restaurantMealsFor(req.Survey.EffectiveSchedule()),
				Restaurants: []RestaurantSummary{{Name: "Trattoria"}},
				Attempts:    1,
			}
		}},
		prices: &recordingPrices{},
		runner: enrichment.NewRunner(time.Second, zap.NewNop()),
	}
	h.svc = NewService(ServiceDeps{
		Surveys:     h.surveys,
		Plans:       h.plans,
		Home:        h.home,
		Restaurants: h.restaurants,
		Images:      stubFinder{},
		Prices:      h.prices,
		Runner:      h.runner,
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return testWeek.Add(50 * time.Hour) },
	})
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Wait(ctx))
}

func appCode(t *testing.T, err error) apperrors.ErrorCode {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected an AppError, got %v", err)
	return appErr.Code
}

func TestService_EndToEnd(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	home, err := h.svc.GenerateHome(ctx, req)
	require.NoError(t, err)
	assert.True(t, home.Saved)
	assert.Empty(t, home.Error)
	assert.Equal(t, StatusPartial, home.Status)
	assert.Equal(t, 0, home.RegenerationCount)
	require.NotEmpty(t, home.Meals)
	assert.Equal(t, "https://img/monday_breakfast", home.Meals[0].Primary.ImageURL)
	assert.Equal(t, "https://img/monday_breakfast_alt", home.Meals[0].Alternative.ImageURL)

	rest, err := h.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	assert.True(t, rest.Saved)
	assert.Equal(t, home.PlanID, rest.PlanID)
	assert.Equal(t, StatusComplete, rest.Status)
	assert.Equal(t, 1, h.plans.count())

	h.drain(t)
	assert.Equal(t, 2, h.prices.count())

	current, err := h.svc.Current(ctx, Lookup{UserID: "user-1"})
	require.NoError(t, err)
	plan := current.Plan
	assert.Equal(t, testWeek, plan.WeekOf)
	require.Len(t, plan.UserContext.Days, 7)
	for _, d := range plan.UserContext.Days {
		assert.Equal(t, SourceHome, d.Meals.Breakfast.Source)
		assert.Equal(t, SourceHome, d.Meals.Lunch.Source)
		assert.Equal(t, SourceRestaurant, d.Meals.Dinner.Source)
	}
	assert.Len(t, plan.UserContext.HomeMeals, 14)
	assert.Len(t, plan.UserContext.RestaurantMeals, 7)
	assert.Len(t, plan.UserContext.DailySummaries, 7)
	assert.Equal(t, 1700, plan.UserContext.DailySummaries[0].Planned)
	assert.Equal(t, []RestaurantSummary{{Name: "Trattoria"}}, plan.UserContext.Metadata.Restaurants)

	require.Len(t, current.Week, 7)
	assert.Equal(t, 1700, current.Week[0].Calories)
}

func TestService_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	a := newHarness(t, testSurvey(dinnersOutSchedule()))
	_, err := a.svc.GenerateHome(ctx, req)
	require.NoError(t, err)
	_, err = a.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)

	b := newHarness(t, testSurvey(dinnersOutSchedule()))
	_, err = b.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	_, err = b.svc.GenerateHome(ctx, req)
	require.NoError(t, err)

	pa, _ := a.plans.FindForWeek(ctx, "survey-1", testWeek)
	pb, _ := b.plans.FindForWeek(ctx, "survey-1", testWeek)
	assert.Equal(t, pa.UserContext.Days, pb.UserContext.Days)
	assert.Equal(t, StatusComplete, pa.Status)
	assert.Equal(t, StatusComplete, pb.Status)
}

func TestService_GenerateAll(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))

	home, rest, err := h.svc.GenerateAll(context.Background(), GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)
	assert.True(t, home.Saved)
	assert.True(t, rest.Saved)
	assert.Equal(t, 1, h.plans.count())

	status, err := h.svc.Status(context.Background(), Lookup{SurveyID: "survey-1"})
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, StatusComplete, status.Status)
	h.drain(t)
}

func TestService_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("NoIDs", func(t *testing.T) {
		h := newHarness(t, testSurvey(nil))
		_, err := h.svc.GenerateHome(ctx, GenerateRequest{})
		assert.Equal(t, apperrors.CodeValidationFailed, appCode(t, err))
	})

	t.Run("UnknownSurvey", func(t *testing.T) {
		h := newHarness(t, testSurvey(nil))
		_, err := h.svc.GenerateHome(ctx, GenerateRequest{Lookup: Lookup{SurveyID: "nope"}})
		assert.Equal(t, apperrors.CodeNotFound, appCode(t, err))
	})

	t.Run("UnknownPlan", func(t *testing.T) {
		h := newHarness(t, testSurvey(nil))
		_, err := h.svc.GenerateHome(ctx, GenerateRequest{Lookup: Lookup{PlanID: "missing"}})
		assert.Equal(t, apperrors.CodeNotFound, appCode(t, err))
	})

	t.Run("IncompleteProfile", func(t *testing.T) {
		survey := testSurvey(dinnersOutSchedule())
		survey.Profile = nutrition.Profile{Age: 40}
		h := newHarness(t, survey)

		_, err := h.svc.GenerateHome(ctx, GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
		assert.Equal(t, apperrors.CodeValidationFailed, appCode(t, err))
		assert.ErrorIs(t, err, nutrition.ErrIncompleteProfile)
		assert.Zero(t, h.home.calls.Load())

		// The restaurant pipeline does not need targets.
		out, err := h.svc.GenerateRestaurants(ctx, GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
		require.NoError(t, err)
		assert.True(t, out.Saved)
	})
}

func TestService_RegenerationCap(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	first, err := h.svc.GenerateHome(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, first.RegenerationCount)

	req.Regenerate = true
	for want := 1; want <= DefaultMaxRegenerations; want++ {
		out, err := h.svc.GenerateHome(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, out.RegenerationCount)
	}

	calls := h.home.calls.Load()
	_, err = h.svc.GenerateHome(ctx, req)
	assert.Equal(t, apperrors.CodeQuotaExceeded, appCode(t, err))
	assert.Equal(t, calls, h.home.calls.Load(), "rejected before generation")

	status, err := h.svc.Status(ctx, Lookup{SurveyID: "survey-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, status.RemainingRegenerations)
	h.drain(t)
}

func TestService_RerunCountsAsRegeneration(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	home, err := h.svc.GenerateHome(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, home.RegenerationCount)

	// The first run of the other pipeline is not a regeneration.
	rest, err := h.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, rest.RegenerationCount)

	for want := 1; want <= DefaultMaxRegenerations; want++ {
		out, err := h.svc.GenerateHome(ctx, req)
		require.NoError(t, err)
		assert.True(t, out.Saved)
		assert.Equal(t, want, out.RegenerationCount)
	}
	assert.EqualValues(t, 1+DefaultMaxRegenerations, h.home.calls.Load())

	_, err = h.svc.GenerateHome(ctx, req)
	assert.Equal(t, apperrors.CodeQuotaExceeded, appCode(t, err))
	_, err = h.svc.GenerateRestaurants(ctx, req)
	assert.Equal(t, apperrors.CodeQuotaExceeded, appCode(t, err))
	_, _, err = h.svc.GenerateAll(ctx, req)
	assert.Equal(t, apperrors.CodeQuotaExceeded, appCode(t, err))

	assert.EqualValues(t, 1+DefaultMaxRegenerations, h.home.calls.Load(), "rejected before generation")
	assert.EqualValues(t, 1, h.restaurants.calls.Load())
	h.drain(t)
}

func TestService_GenerateAllCountsOnce(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	home, _, err := h.svc.GenerateAll(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, home.RegenerationCount)

	_, _, err = h.svc.GenerateAll(ctx, req)
	require.NoError(t, err)

	status, err := h.svc.Status(ctx, Lookup{SurveyID: "survey-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, status.RegenerationCount)
	assert.EqualValues(t, 2, h.home.calls.Load())
	assert.EqualValues(t, 2, h.restaurants.calls.Load())
	h.drain(t)
}

func TestService_GenerationFailure(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	h.home.res = func(HomeRequest) HomeResult {
		return HomeResult{Err: "home meal generation failed: timeout", Attempts: 3}
	}

	out, err := h.svc.GenerateHome(context.Background(), GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)
	assert.Contains(t, out.Error, "timeout")
	assert.False(t, out.Saved)
	assert.Equal(t, 3, out.Attempts)
	assert.Zero(t, h.plans.count())

	h.drain(t)
	assert.Zero(t, h.prices.count())
}

func TestService_PartialGenerationIsSaved(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	h.home.res = func(req HomeRequest) HomeResult {
		meals := homeMealsFor(req.Survey.EffectiveSchedule())
		return HomeResult{Meals: meals[:6], Err: "home meal generation failed: friday-sunday: timeout"}
	}

	out, err := h.svc.GenerateHome(context.Background(), GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)
	assert.True(t, out.Saved)
	assert.NotEmpty(t, out.Error)

	plan, _ := h.plans.FindForWeek(context.Background(), "survey-1", testWeek)
	require.NotNil(t, plan)
	assert.Equal(t, GeneratorFailed, plan.UserContext.Metadata.Generators.HomeMeals)
	assert.Contains(t, plan.UserContext.Metadata.Errors[generatorHome], "friday-sunday")
	assert.Equal(t, StatusPending, plan.Status)
	h.drain(t)
}

func TestService_FailureRecordedOnExistingPlan(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	_, err := h.svc.GenerateHome(ctx, req)
	require.NoError(t, err)

	ok := h.restaurants.res
	h.restaurants.res = func(RestaurantRequest) RestaurantResult {
		return RestaurantResult{Err: "restaurant meal generation failed: no menus", Attempts: 3}
	}
	out, err := h.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.Saved)
	assert.NotEmpty(t, out.Error)

	status, err := h.svc.Status(ctx, Lookup{SurveyID: "survey-1"})
	require.NoError(t, err)
	assert.Equal(t, GeneratorFailed, status.Generators.RestaurantMeals)
	assert.Equal(t, GeneratorCompleted, status.Generators.HomeMeals)
	assert.Contains(t, status.Errors[generatorRestaurant], "no menus")
	assert.Equal(t, StatusPartial, status.Status)
	assert.Equal(t, 0, status.RegenerationCount)

	plan, _ := h.plans.FindForWeek(ctx, "survey-1", testWeek)
	require.NotNil(t, plan)
	assert.Len(t, plan.UserContext.HomeMeals, 14, "stored meals are kept")

	// Retrying a failed pipeline is not a regeneration and clears the error.
	h.restaurants.res = ok
	out, err = h.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Saved)
	assert.Equal(t, StatusComplete, out.Status)
	assert.Equal(t, 0, out.RegenerationCount)

	status, err = h.svc.Status(ctx, Lookup{SurveyID: "survey-1"})
	require.NoError(t, err)
	assert.Empty(t, status.Errors)
	h.drain(t)
	assert.Equal(t, 2, h.prices.count())
}

func TestService_PriceLookupFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	h.prices.err = errors.New("price service down")

	out, err := h.svc.GenerateHome(context.Background(), GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)
	assert.True(t, out.Saved)
	assert.Empty(t, out.Error)

	h.drain(t)
	assert.Equal(t, 1, h.prices.count())

	plan, _ := h.plans.FindForWeek(context.Background(), "survey-1", testWeek)
	require.NotNil(t, plan)
	assert.Equal(t, out.PlanID, plan.ID)
}

func TestService_PersistenceFailure(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	h.plans.failWrite = true

	out, err := h.svc.GenerateHome(context.Background(), GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)
	assert.Empty(t, out.Error)
	assert.False(t, out.Saved)
	assert.NotEmpty(t, out.Meals)

	h.drain(t)
	assert.Zero(t, h.prices.count())
}

func TestService_SkippedPipelineCompletesPlan(t *testing.T) {
	h := newHarness(t, testSurvey(nil))
	ctx := context.Background()
	req := GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}}

	rest, err := h.svc.GenerateRestaurants(ctx, req)
	require.NoError(t, err)
	assert.True(t, rest.Skipped)
	assert.Zero(t, h.restaurants.calls.Load())
	assert.Equal(t, StatusPartial, rest.Status)

	home, err := h.svc.GenerateHome(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, home.Status)
	h.drain(t)
}

func TestService_UpdatePreferences(t *testing.T) {
	h := newHarness(t, testSurvey(dinnersOutSchedule()))
	ctx := context.Background()

	out, err := h.svc.GenerateHome(ctx, GenerateRequest{Lookup: Lookup{SurveyID: "survey-1"}})
	require.NoError(t, err)

	_, err = h.svc.UpdatePreferences(ctx, out.PlanID, map[string]Override{"funday-lunch": Toggle(OptionAlternative)})
	assert.Equal(t, apperrors.CodeValidationFailed, appCode(t, err))

	_, err = h.svc.UpdatePreferences(ctx, "missing", nil)
	assert.Equal(t, apperrors.CodeNotFound, appCode(t, err))

	plan, err := h.svc.UpdatePreferences(ctx, out.PlanID, map[string]Override{
		"monday-breakfast": Toggle(OptionAlternative),
		"tuesday-lunch":    Swap("monday", Lunch, OptionPrimary),
	})
	require.NoError(t, err)
	assert.Len(t, plan.UserContext.SelectedMealOptions, 2)

	// A later pipeline run keeps the stored choices.
	_, err = h.svc.GenerateRestaurants(ctx, GenerateRequest{Lookup: Lookup{PlanID: out.PlanID}})
	require.NoError(t, err)

	current, err := h.svc.Current(ctx, Lookup{PlanID: out.PlanID})
	require.NoError(t, err)
	assert.Equal(t, "monday breakfast alt", current.Week[0].Meals[0].Meal.Name)
	assert.Equal(t, "monday lunch", current.Week[1].Meals[1].Meal.Name)
	h.drain(t)
}

func TestService_StatusWithoutPlan(t *testing.T) {
	h := newHarness(t, testSurvey(nil))

	status, err := h.svc.Status(context.Background(), Lookup{SessionID: "unknown-session"})
	require.NoError(t, err)
	assert.False(t, status.Exists)
	assert.Equal(t, StatusPending, status.Status)
	assert.Equal(t, DefaultMaxRegenerations, status.RemainingRegenerations)
	assert.Equal(t, testWeek, status.WeekOf)

	_, err = h.svc.Current(context.Background(), Lookup{SurveyID: "survey-1"})
	assert.Equal(t, apperrors.CodeNotFound, appCode(t, err))
}

func TestParseSlotKey(t *testing.T) {
	day, mt, ok := ParseSlotKey("Friday-dinner")
	assert.True(t, ok)
	assert.Equal(t, "friday", day)
	assert.Equal(t, Dinner, mt)

	for _, bad := range []string{"", "friday", "friday-brunch", "someday-lunch"} {
		_, _, ok := ParseSlotKey(bad)
		assert.False(t, ok, bad)
	}
}
