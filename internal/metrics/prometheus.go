package metrics

import (
	"context"
	"time"

	"mealsynth/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collectors are the Prometheus instruments of the generation pipelines.
type Collectors struct {
	Pipelines    *prometheus.CounterVec
	PipelineTime *prometheus.HistogramVec
	StageTime    *prometheus.HistogramVec
	Tokens       *prometheus.CounterVec
	Attempts     *prometheus.CounterVec
	Images       *prometheus.CounterVec
}

// NewCollectors registers the collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Pipelines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsynth_pipeline_runs_total",
			Help: "Generation pipeline runs by pipeline and outcome.",
		}, []string{"pipeline", "outcome"}),
		PipelineTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealsynth_pipeline_duration_seconds",
			Help:    "End to end duration of a generation pipeline.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}, []string{"pipeline"}),
		StageTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealsynth_stage_duration_seconds",
			Help:    "Duration of one generation stage including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"pipeline", "stage"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsynth_llm_tokens_total",
			Help: "Language model tokens by pipeline and kind.",
		}, []string{"pipeline", "kind"}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsynth_llm_attempts_total",
			Help: "Language model call attempts by pipeline.",
		}, []string{"pipeline"}),
		Images: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mealsynth_image_lookups_total",
			Help: "Image lookups by result source.",
		}, []string{"source"}),
	}
}

// Recorder feeds pipeline results to the SQLite store and Prometheus.
// Either sink may be nil.
type Recorder struct {
	store      *Store
	collectors *Collectors
	logger     *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store *Store, collectors *Collectors, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, collectors: collectors, logger: logger}
}

// RecordStages stores every stage and updates the stage collectors.
func (r *Recorder) RecordStages(ctx context.Context, stages []shared.StageMeta) {
	for _, st := range stages {
		if r.collectors != nil {
			r.collectors.StageTime.WithLabelValues(st.Pipeline, st.Stage).Observe(st.Latency.Seconds())
			r.collectors.Tokens.WithLabelValues(st.Pipeline, "prompt").Add(float64(st.Usage.PromptTokens))
			r.collectors.Tokens.WithLabelValues(st.Pipeline, "completion").Add(float64(st.Usage.CompletionTokens))
			r.collectors.Attempts.WithLabelValues(st.Pipeline).Add(float64(st.Attempts))
		}
		if r.store != nil {
			if err := r.store.RecordMeta(ctx, st); err != nil {
				r.logger.Warn("failed to record stage metric", zap.String("stage", st.Stage), zap.Error(err))
			}
		}
	}
}

// ObservePipeline counts one pipeline run.
func (r *Recorder) ObservePipeline(pipeline, outcome string, elapsed time.Duration) {
	if r.collectors == nil {
		return
	}
	r.collectors.Pipelines.WithLabelValues(pipeline, outcome).Inc()
	r.collectors.PipelineTime.WithLabelValues(pipeline).Observe(elapsed.Seconds())
}

// ObserveImage counts one image lookup by source.
func (r *Recorder) ObserveImage(source string) {
	if r.collectors == nil {
		return
	}
	r.collectors.Images.WithLabelValues(source).Inc()
}
