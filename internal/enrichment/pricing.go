package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PriceRequest asks the price service to refresh a plan's grocery costs.
type PriceRequest struct {
	SurveyID string `json:"surveyId"`
	PlanID   string `json:"planId"`
}

// PriceTrigger starts a price lookup. Callers never wait on the lookup itself.
type PriceTrigger interface {
	TriggerPriceLookup(ctx context.Context, req PriceRequest) error
}

// HTTPPriceTrigger posts price requests to an external endpoint.
type HTTPPriceTrigger struct {
	url        string
	httpClient *http.Client
}

// NewHTTPPriceTrigger creates a trigger posting to url.
func NewHTTPPriceTrigger(url string) *HTTPPriceTrigger {
	return &HTTPPriceTrigger{url: url, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// TriggerPriceLookup implements PriceTrigger.
func (t *HTTPPriceTrigger) TriggerPriceLookup(ctx context.Context, req PriceRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal price request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("price lookup error: status=%d body=%s", resp.StatusCode, msg)
	}
	return nil
}

// SchedulePriceLookup fires a price lookup on the runner.
func SchedulePriceLookup(r *Runner, trigger PriceTrigger, req PriceRequest, logger *zap.Logger) {
	if trigger == nil {
		return
	}
	r.Go("price-lookup:"+req.PlanID, func(ctx context.Context) error {
		if err := trigger.TriggerPriceLookup(ctx, req); err != nil {
			return err
		}
		logger.Info("price lookup triggered", zap.String("plan_id", req.PlanID))
		return nil
	})
}
