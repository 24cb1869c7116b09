package planner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"mealsynth/internal/apperrors"
	"mealsynth/internal/enrichment"
	"mealsynth/internal/nutrition"
	"mealsynth/internal/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline names used in logs, metrics and outcomes.
const (
	PipelineHome       = "home"
	PipelineRestaurant = "restaurant"
)

// DefaultMaxRegenerations caps regenerations per survey and week.
const DefaultMaxRegenerations = 2

// HomePlanner plans home meals. *HomeGenerator implements it.
type HomePlanner interface {
	Generate(ctx context.Context, req HomeRequest) HomeResult
}

// RestaurantPlanner plans restaurant meals. *RestaurantGenerator implements it.
type RestaurantPlanner interface {
	Generate(ctx context.Context, req RestaurantRequest) RestaurantResult
}

// Recorder receives pipeline telemetry.
type Recorder interface {
	RecordStages(ctx context.Context, stages []shared.StageMeta)
	ObservePipeline(pipeline, outcome string, elapsed time.Duration)
	ObserveImage(source string)
}

// Lookup identifies a plan by any of its correlation ids. The most specific
// id wins: plan, then survey, then user, then session.
type Lookup struct {
	UserID    string
	SessionID string
	SurveyID  string
	PlanID    string
}

func (l Lookup) empty() bool {
	return l.UserID == "" && l.SessionID == "" && l.SurveyID == "" && l.PlanID == ""
}

// GenerateRequest starts one generation pipeline.
type GenerateRequest struct {
	Lookup
	Regenerate         bool
	RestaurantCalories []nutrition.RestaurantCalories
}

// GenerationOutcome reports one pipeline run. Error is set when generation
// failed; Saved is false when nothing was persisted.
type GenerationOutcome struct {
	Pipeline          string              `json:"pipeline"`
	PlanID            string              `json:"planId,omitempty"`
	Status            PlanStatus          `json:"status,omitempty"`
	Meals             []GeneratedMeal     `json:"meals"`
	Restaurants       []RestaurantSummary `json:"restaurants,omitempty"`
	Skipped           bool                `json:"skipped,omitempty"`
	Error             string              `json:"error,omitempty"`
	Saved             bool                `json:"saved"`
	Attempts          int                 `json:"attempts"`
	RegenerationCount int                 `json:"regenerationCount"`
	DurationMS        int64               `json:"durationMs"`
}

// ServiceDeps are the collaborators of a Service. Images, Prices, Runner and
// Recorder are optional.
type ServiceDeps struct {
	Surveys          SurveyStore
	Plans            PlanStore
	Home             HomePlanner
	Restaurants      RestaurantPlanner
	Images           enrichment.ImageFinder
	ImageConcurrency int
	Prices           enrichment.PriceTrigger
	Runner           *enrichment.Runner
	Recorder         Recorder
	Logger           *zap.Logger
	MaxRegenerations int
	Now              func() time.Time
}

// Service runs the home and restaurant pipelines and reads their plans.
type Service struct {
	surveys          SurveyStore
	plans            PlanStore
	home             HomePlanner
	restaurants      RestaurantPlanner
	images           enrichment.ImageFinder
	imageLimit       int
	prices           enrichment.PriceTrigger
	runner           *enrichment.Runner
	recorder         Recorder
	logger           *zap.Logger
	maxRegenerations int
	now              func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a Service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		surveys:          deps.Surveys,
		plans:            deps.Plans,
		home:             deps.Home,
		restaurants:      deps.Restaurants,
		images:           deps.Images,
		imageLimit:       deps.ImageConcurrency,
		prices:           deps.Prices,
		runner:           deps.Runner,
		recorder:         deps.Recorder,
		logger:           deps.Logger,
		maxRegenerations: deps.MaxRegenerations,
		now:              deps.Now,
		locks:            make(map[string]*sync.Mutex),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxRegenerations < 1 {
		s.maxRegenerations = DefaultMaxRegenerations
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.runner == nil {
		s.runner = enrichment.NewRunner(time.Minute, s.logger)
	}
	return s
}

// Runner returns the runner detached work is scheduled on.
func (s *Service) Runner() *enrichment.Runner {
	return s.runner
}

// MaxRegenerations returns the regeneration cap.
func (s *Service) MaxRegenerations() int {
	return s.maxRegenerations
}

// pipelineRun is everything a pipeline needs once its preconditions hold.
type pipelineRun struct {
	survey     *Survey
	schedule   WeeklySchedule
	targets    *nutrition.Targets
	weekly     nutrition.WeeklyTargets
	weekOf     time.Time
	regenerate bool
}

// GenerateHome runs the home pipeline and merges its meals into the plan
// of the current week.
func (s *Service) GenerateHome(ctx context.Context, req GenerateRequest) (*GenerationOutcome, error) {
	run, err := s.prepare(ctx, req, PipelineHome)
	if err != nil {
		return nil, err
	}
	return s.runHome(ctx, run, run.regenerate), nil
}

// GenerateRestaurants runs the restaurant pipeline and merges its meals into
// the plan of the current week.
func (s *Service) GenerateRestaurants(ctx context.Context, req GenerateRequest) (*GenerationOutcome, error) {
	run, err := s.prepare(ctx, req, PipelineRestaurant)
	if err != nil {
		return nil, err
	}
	return s.runRestaurants(ctx, run, run.regenerate), nil
}

// GenerateAll checks the preconditions once and runs both pipelines
// concurrently. A regeneration is counted once.
func (s *Service) GenerateAll(ctx context.Context, req GenerateRequest) (home, restaurants *GenerationOutcome, err error) {
	run, err := s.prepare(ctx, req, PipelineHome, PipelineRestaurant)
	if err != nil {
		return nil, nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		home = s.runHome(ctx, run, run.regenerate)
		return nil
	})
	g.Go(func() error {
		restaurants = s.runRestaurants(ctx, run, false)
		return nil
	})
	_ = g.Wait()
	return home, restaurants, nil
}

// prepare checks every precondition before any generation call. A run
// counts as a regeneration when asked for, or when one of the requested pipelines
// already completed for the week's plan.
func (s *Service) prepare(ctx context.Context, req GenerateRequest, pipelines ...string) (*pipelineRun, error) {
	survey, existing, err := s.resolve(ctx, req.Lookup)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, apperrors.NewNotFound("survey", firstNonEmpty(req.SurveyID, req.UserID, req.SessionID))
	}

	run := &pipelineRun{
		survey:   survey,
		schedule: survey.EffectiveSchedule(),
		weekOf:   StartOfWeek(s.now()),
	}

	targets, err := nutrition.Calculate(survey.Profile)
	switch {
	case err == nil:
		run.targets = &targets
		weekly, err := nutrition.Weekly(survey.Profile, run.schedule.NutritionSlots())
		if err == nil {
			run.weekly = nutrition.AdjustForRestaurantBudget(weekly, req.RestaurantCalories)
		}
	case slices.Contains(pipelines, PipelineHome) && run.schedule.Count(LocationHome) > 0:
		return nil, apperrors.NewValidation("profile", err.Error()).WithCause(err)
	}

	if existing == nil {
		existing, err = s.plans.FindForWeek(ctx, survey.ID, run.weekOf)
		if err != nil {
			return nil, apperrors.NewDatabase("find meal plan", err)
		}
	} else {
		run.weekOf = StartOfWeek(existing.WeekOf)
	}

	if existing != nil {
		run.regenerate = req.Regenerate
		for _, p := range pipelines {
			run.regenerate = run.regenerate || alreadyGenerated(existing, p, run.schedule)
		}
	}
	if run.regenerate && existing.RegenerationCount >= s.maxRegenerations {
		return nil, apperrors.NewQuotaExceeded("regeneration limit reached for this week").
			WithMetadata("regenerationCount", existing.RegenerationCount).
			WithMetadata("maxRegenerations", s.maxRegenerations)
	}
	return run, nil
}

// alreadyGenerated reports whether pipeline produced meals for plan before.
// A pipeline that was skipped, or has nothing scheduled, never did.
func alreadyGenerated(plan *MealPlan, pipeline string, schedule WeeklySchedule) bool {
	md := plan.UserContext.Metadata
	switch pipeline {
	case PipelineHome:
		return md.Generators.HomeMeals == GeneratorCompleted && md.Skipped[generatorHome] == "" &&
			schedule.Count(LocationHome) > 0
	case PipelineRestaurant:
		return md.Generators.RestaurantMeals == GeneratorCompleted && md.Skipped[generatorRestaurant] == "" &&
			schedule.Count(LocationRestaurant) > 0
	}
	return false
}

// resolve finds the survey, and the plan when addressed by plan id.
func (s *Service) resolve(ctx context.Context, l Lookup) (*Survey, *MealPlan, error) {
	if l.empty() {
		return nil, nil, apperrors.NewValidation("surveyId", "a plan, survey, user or session id is required")
	}

	var plan *MealPlan
	surveyID := l.SurveyID
	if l.PlanID != "" {
		p, err := s.plans.Load(ctx, l.PlanID)
		if errors.Is(err, ErrPlanNotFound) {
			return nil, nil, apperrors.NewNotFound("meal plan", l.PlanID)
		}
		if err != nil {
			return nil, nil, apperrors.NewDatabase("load meal plan", err)
		}
		plan = p
		surveyID = p.SurveyID
	}

	var (
		survey *Survey
		err    error
	)
	if surveyID != "" {
		survey, err = s.surveys.Get(ctx, surveyID)
	} else {
		survey, err = s.surveys.FindLatest(ctx, l.UserID, l.SessionID)
	}
	if err != nil {
		return nil, nil, apperrors.NewDatabase("load survey", err)
	}
	if survey != nil && survey.UserID == "" && l.UserID != "" {
		survey.UserID = l.UserID
	}
	return survey, plan, nil
}

func (s *Service) runHome(ctx context.Context, run *pipelineRun, countRegeneration bool) *GenerationOutcome {
	start := time.Now()
	logger := s.logger.With(zap.String("pipeline", PipelineHome), zap.String("survey_id", run.survey.ID))
	out := &GenerationOutcome{Pipeline: PipelineHome}

	incoming := UserContext{
		Days:             BuildSkeleton(run.weekOf, run.schedule),
		NutritionTargets: run.targets,
		Metadata:         PlanMetadata{Generators: GeneratorFlags{HomeMeals: GeneratorCompleted}},
	}

	switch {
	case run.schedule.Count(LocationHome) == 0:
		out.Skipped = true
		incoming.Metadata.Skipped = map[string]string{generatorHome: "no home meals scheduled"}
	case s.home == nil:
		out.Error = "home meal generation is not configured"
	default:
		res := s.home.Generate(ctx, HomeRequest{Survey: run.survey, Targets: derefTargets(run.targets), Weekly: run.weekly})
		out.Attempts = res.Attempts
		out.Error = res.Err
		s.recordStages(ctx, res.Stages)

		meals := s.enrichMeals(ctx, res.Meals)
		out.Meals = meals
		incoming.Days = PlaceMeals(incoming.Days, meals, LocationHome)
		incoming.HomeMeals = meals
		incoming.GroceryList = res.GroceryList
		incoming.Metadata.Stages = res.Stages
	}

	if out.Error != "" {
		incoming.Metadata.Generators.HomeMeals = GeneratorFailed
		incoming.Metadata.Errors = map[string]string{generatorHome: out.Error}
		logger.Error("home generation failed", zap.String("error", out.Error), zap.Int("meals", len(out.Meals)))
	}
	incoming.Metadata.TimingsMS = map[string]int64{generatorHome: time.Since(start).Milliseconds()}

	if out.Error != "" && len(out.Meals) == 0 {
		s.recordFailure(ctx, run, incoming, logger)
		s.finish(out, start)
		return out
	}
	s.save(ctx, run, incoming, countRegeneration, out, logger)
	s.finish(out, start)
	return out
}

func (s *Service) runRestaurants(ctx context.Context, run *pipelineRun, countRegeneration bool) *GenerationOutcome {
	start := time.Now()
	logger := s.logger.With(zap.String("pipeline", PipelineRestaurant), zap.String("survey_id", run.survey.ID))
	out := &GenerationOutcome{Pipeline: PipelineRestaurant}

	incoming := UserContext{
		Days:             BuildSkeleton(run.weekOf, run.schedule),
		NutritionTargets: run.targets,
		Metadata:         PlanMetadata{Generators: GeneratorFlags{RestaurantMeals: GeneratorCompleted}},
	}

	switch {
	case run.schedule.Count(LocationRestaurant) == 0:
		out.Skipped = true
		incoming.Metadata.Skipped = map[string]string{generatorRestaurant: "no restaurant meals scheduled"}
	case s.restaurants == nil:
		out.Error = "restaurant meal generation is not configured"
	default:
		res := s.restaurants.Generate(ctx, RestaurantRequest{Survey: run.survey, Targets: derefTargets(run.targets), Weekly: run.weekly})
		out.Attempts = res.Attempts
		out.Error = res.Err
		out.Restaurants = res.Restaurants
		s.recordStages(ctx, res.Stages)

		meals := s.enrichMeals(ctx, res.Meals)
		out.Meals = meals
		incoming.Days = PlaceMeals(incoming.Days, meals, LocationRestaurant)
		incoming.RestaurantMeals = meals
		incoming.Metadata.Stages = res.Stages
		incoming.Metadata.Restaurants = res.Restaurants
	}

	if out.Error != "" {
		incoming.Metadata.Generators.RestaurantMeals = GeneratorFailed
		incoming.Metadata.Errors = map[string]string{generatorRestaurant: out.Error}
		logger.Error("restaurant generation failed", zap.String("error", out.Error), zap.Int("meals", len(out.Meals)))
	}
	incoming.Metadata.TimingsMS = map[string]int64{generatorRestaurant: time.Since(start).Milliseconds()}

	if out.Error != "" && len(out.Meals) == 0 {
		s.recordFailure(ctx, run, incoming, logger)
		s.finish(out, start)
		return out
	}
	s.save(ctx, run, incoming, countRegeneration, out, logger)
	s.finish(out, start)
	return out
}

func (s *Service) finish(out *GenerationOutcome, start time.Time) {
	elapsed := time.Since(start)
	out.DurationMS = elapsed.Milliseconds()
	if s.recorder == nil {
		return
	}
	outcome := "completed"
	switch {
	case out.Skipped:
		outcome = "skipped"
	case out.Error != "":
		outcome = "failed"
	case !out.Saved:
		outcome = "unsaved"
	}
	s.recorder.ObservePipeline(out.Pipeline, outcome, elapsed)
}

func (s *Service) recordStages(ctx context.Context, stages []shared.StageMeta) {
	if s.recorder != nil && len(stages) > 0 {
		s.recorder.RecordStages(ctx, stages)
	}
}

// save merges incoming into the stored plan of the week. A storage failure
// is logged and reported through out.Saved; it never fails the pipeline.
func (s *Service) save(ctx context.Context, run *pipelineRun, incoming UserContext, countRegeneration bool, out *GenerationOutcome, logger *zap.Logger) {
	plan, err := s.mergeAndStore(ctx, run, incoming, countRegeneration)
	if err != nil {
		logger.Error("failed to save meal plan", zap.Error(err))
		return
	}

	out.Saved = true
	out.PlanID = plan.ID
	out.Status = plan.Status
	out.RegenerationCount = plan.RegenerationCount
	logger.Info("meal plan saved",
		zap.String("plan_id", plan.ID),
		zap.String("status", string(plan.Status)),
		zap.Int("meals", len(out.Meals)),
	)

	if s.prices != nil {
		enrichment.SchedulePriceLookup(s.runner, s.prices, enrichment.PriceRequest{SurveyID: plan.SurveyID, PlanID: plan.ID}, logger)
	}
}

// recordFailure merges the flags and error of a run that produced no meals
// into the week's plan so Status can report them. It never creates a plan
// and never counts a regeneration.
func (s *Service) recordFailure(ctx context.Context, run *pipelineRun, incoming UserContext, logger *zap.Logger) {
	unlock := s.lock(run.survey.ID + "/" + weekKey(run.weekOf))
	defer unlock()

	existing, err := s.plans.FindForWeek(ctx, run.survey.ID, run.weekOf)
	if err != nil {
		logger.Warn("failed to load meal plan to record failure", zap.Error(err))
		return
	}
	if existing == nil {
		return
	}
	existing.UserContext = MergeContext(&existing.UserContext, incoming)
	finalize(existing)
	if err := s.plans.Update(ctx, existing); err != nil {
		logger.Warn("failed to record generation failure", zap.String("plan_id", existing.ID), zap.Error(err))
	}
}

func (s *Service) mergeAndStore(ctx context.Context, run *pipelineRun, incoming UserContext, countRegeneration bool) (*MealPlan, error) {
	unlock := s.lock(run.survey.ID + "/" + weekKey(run.weekOf))
	defer unlock()

	existing, err := s.plans.FindForWeek(ctx, run.survey.ID, run.weekOf)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		plan := &MealPlan{
			ID:          uuid.NewString(),
			SurveyID:    run.survey.ID,
			UserID:      run.survey.UserID,
			WeekOf:      run.weekOf,
			UserContext: MergeContext(nil, incoming),
		}
		finalize(plan)
		err := s.plans.Create(ctx, plan)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, ErrPlanExists) {
			return nil, err
		}
		// Another process created the plan first; merge into its row.
		existing, err = s.plans.FindForWeek(ctx, run.survey.ID, run.weekOf)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("meal plan for survey %s vanished after conflict", run.survey.ID)
		}
	}

	existing.UserContext = MergeContext(&existing.UserContext, incoming)
	if existing.UserID == "" {
		existing.UserID = run.survey.UserID
	}
	if countRegeneration && existing.RegenerationCount < s.maxRegenerations {
		existing.RegenerationCount++
	}
	finalize(existing)
	if err := s.plans.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// finalize recomputes the derived fields of a plan before it is written.
func finalize(plan *MealPlan) {
	uc := &plan.UserContext
	if uc.NutritionTargets != nil {
		uc.DailySummaries = nutrition.DailySummaries(dayCalories(plan), uc.NutritionTargets.DailyCalories)
	}
	plan.Status = DeriveStatus(*uc)
}

// dayCalories sums the displayed option of each slot, overrides included.
func dayCalories(plan *MealPlan) []nutrition.DayCalories {
	var out []nutrition.DayCalories
	for _, rd := range ResolveWeek(plan) {
		dc := nutrition.DayCalories{Day: rd.Day}
		for _, rm := range rd.Meals {
			if rm.Meal == nil {
				continue
			}
			sc := nutrition.SlotCalories{Calories: rm.Meal.Calories, Source: string(rm.Meal.Source)}
			switch rm.MealType {
			case Breakfast:
				dc.Breakfast = sc
			case Lunch:
				dc.Lunch = sc
			case Dinner:
				dc.Dinner = sc
			}
		}
		out = append(out, dc)
	}
	return out
}

func (s *Service) lock(key string) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// enrichMeals attaches a picture to every option of meals.
func (s *Service) enrichMeals(ctx context.Context, meals []GeneratedMeal) []GeneratedMeal {
	if s.images == nil || len(meals) == 0 {
		return meals
	}

	var items []enrichment.ImageItem
	for i, m := range meals {
		items = append(items, imageItem(strconv.Itoa(i)+"/p", m.MealType, m.Primary))
		if !m.Alternative.IsEmpty() {
			items = append(items, imageItem(strconv.Itoa(i)+"/a", m.MealType, *m.Alternative))
		}
	}

	enriched := enrichment.EnrichImages(ctx, s.images, items, s.imageLimit, s.logger)

	out := make([]GeneratedMeal, len(meals))
	for i, m := range meals {
		out[i] = GeneratedMeal{Day: m.Day, MealType: m.MealType, Primary: m.Primary.clone()}
		if m.Alternative != nil {
			alt := m.Alternative.clone()
			out[i].Alternative = &alt
		}
	}
	for _, item := range enriched {
		idx, which, _ := strings.Cut(item.Key, "/")
		i, err := strconv.Atoi(idx)
		if err != nil || i >= len(out) {
			continue
		}
		if which == "a" && out[i].Alternative != nil {
			out[i].Alternative.ImageURL = item.ImageURL
		} else if which == "p" {
			out[i].Primary.ImageURL = item.ImageURL
		}
		if s.recorder != nil && item.Source != "" {
			s.recorder.ObserveImage(item.Source)
		}
	}
	return out
}

func imageItem(key string, mt MealType, opt MealOption) enrichment.ImageItem {
	return enrichment.ImageItem{
		Key:      key,
		Name:     opt.Name,
		ImageURL: opt.ImageURL,
		Hints: enrichment.ImageHints{
			Cuisine:     opt.Cuisine,
			MealType:    string(mt),
			SearchTerms: opt.SearchTerms,
		},
	}
}

// PlanStatusView is the readiness report of the current week.
type PlanStatusView struct {
	Exists                 bool              `json:"exists"`
	PlanID                 string            `json:"planId,omitempty"`
	Status                 PlanStatus        `json:"status"`
	RegenerationCount      int               `json:"regenerationCount"`
	RemainingRegenerations int               `json:"remainingRegenerations"`
	WeekOf                 time.Time         `json:"weekOf"`
	Generators             GeneratorFlags    `json:"generators"`
	Errors                 map[string]string `json:"errors,omitempty"`
}

// Status reports the plan of the current week. A survey without a plan
// reports Exists false.
func (s *Service) Status(ctx context.Context, l Lookup) (*PlanStatusView, error) {
	plan, err := s.currentPlan(ctx, l)
	if err != nil {
		return nil, err
	}

	view := &PlanStatusView{
		Status:                 StatusPending,
		RemainingRegenerations: s.maxRegenerations,
		WeekOf:                 StartOfWeek(s.now()),
		Generators:             GeneratorFlags{HomeMeals: GeneratorPending, RestaurantMeals: GeneratorPending},
	}
	if plan == nil {
		return view, nil
	}

	view.Exists = true
	view.PlanID = plan.ID
	view.Status = plan.Status
	view.RegenerationCount = plan.RegenerationCount
	view.RemainingRegenerations = max(0, s.maxRegenerations-plan.RegenerationCount)
	view.WeekOf = plan.WeekOf
	view.Generators = plan.UserContext.Metadata.Generators
	view.Errors = plan.UserContext.Metadata.Errors
	return view, nil
}

// CurrentPlan is a stored plan with its displayed week.
type CurrentPlan struct {
	Plan *MealPlan     `json:"plan"`
	Week []ResolvedDay `json:"week"`
}

// Current returns the plan of the current week with every override resolved.
func (s *Service) Current(ctx context.Context, l Lookup) (*CurrentPlan, error) {
	plan, err := s.currentPlan(ctx, l)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, apperrors.NewNotFound("meal plan", "current week")
	}
	return &CurrentPlan{Plan: plan, Week: ResolveWeek(plan)}, nil
}

func (s *Service) currentPlan(ctx context.Context, l Lookup) (*MealPlan, error) {
	survey, plan, err := s.resolve(ctx, l)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		return plan, nil
	}
	if survey == nil {
		return nil, nil
	}
	plan, err = s.plans.FindForWeek(ctx, survey.ID, StartOfWeek(s.now()))
	if err != nil {
		return nil, apperrors.NewDatabase("find meal plan", err)
	}
	return plan, nil
}

// UpdatePreferences replaces the stored overrides of a plan.
func (s *Service) UpdatePreferences(ctx context.Context, planID string, overrides map[string]Override) (*MealPlan, error) {
	if planID == "" {
		return nil, apperrors.NewValidation("mealPlanId", "missing mealPlanId")
	}
	for key, ov := range overrides {
		if _, _, ok := ParseSlotKey(key); !ok {
			return nil, apperrors.NewValidation("selectedMealOptions", fmt.Sprintf("invalid slot %q", key))
		}
		if err := ov.Validate(); err != nil {
			return nil, apperrors.NewValidation("selectedMealOptions", fmt.Sprintf("%s: %v", key, err))
		}
	}

	plan, err := s.plans.Load(ctx, planID)
	if errors.Is(err, ErrPlanNotFound) {
		return nil, apperrors.NewNotFound("meal plan", planID)
	}
	if err != nil {
		return nil, apperrors.NewDatabase("load meal plan", err)
	}

	unlock := s.lock(plan.SurveyID + "/" + weekKey(plan.WeekOf))
	defer unlock()

	// Reload under the lock so a pipeline write in between is not lost.
	plan, err = s.plans.Load(ctx, planID)
	if err != nil {
		return nil, apperrors.NewDatabase("load meal plan", err)
	}
	plan.UserContext.SelectedMealOptions = overrides
	finalize(plan)
	if err := s.plans.Update(ctx, plan); err != nil {
		return nil, apperrors.NewDatabase("update meal plan", err)
	}
	s.logger.Info("updated meal preferences", zap.String("plan_id", planID), zap.Int("overrides", len(overrides)))
	return plan, nil
}

// ParseSlotKey splits a "{day}-{mealType}" key.
func ParseSlotKey(key string) (string, MealType, bool) {
	day, mt, ok := strings.Cut(strings.ToLower(key), "-")
	if !ok || DayIndex(day) < 0 || !MealType(mt).Valid() {
		return "", "", false
	}
	return day, MealType(mt), true
}

func derefTargets(t *nutrition.Targets) nutrition.Targets {
	if t == nil {
		return nutrition.Targets{}
	}
	return *t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
