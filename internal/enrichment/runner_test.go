package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerRecoversAndWaits(t *testing.T) {
	r := NewRunner(time.Second, zap.NewNop())

	var ran atomic.Int32
	r.Go("ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	r.Go("fails", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("boom")
	})
	r.Go("panics", func(ctx context.Context) error {
		ran.Add(1)
		panic("unexpected")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	assert.EqualValues(t, 3, ran.Load())
}

func TestRunnerTaskTimeout(t *testing.T) {
	r := NewRunner(20*time.Millisecond, zap.NewNop())

	var deadlineHit atomic.Bool
	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadlineHit.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})

	require.NoError(t, r.Wait(context.Background()))
	assert.True(t, deadlineHit.Load())
}

func TestHTTPPriceTrigger(t *testing.T) {
	var got PriceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	trigger := NewHTTPPriceTrigger(srv.URL)
	runner := NewRunner(time.Second, zap.NewNop())
	SchedulePriceLookup(runner, trigger, PriceRequest{SurveyID: "s-1", PlanID: "p-1"}, zap.NewNop())
	require.NoError(t, runner.Wait(context.Background()))

	assert.Equal(t, PriceRequest{SurveyID: "s-1", PlanID: "p-1"}, got)
}

func TestHTTPPriceTriggerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPPriceTrigger(srv.URL).TriggerPriceLookup(context.Background(), PriceRequest{PlanID: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}
