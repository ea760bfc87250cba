package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/backend/internal/metrics"
	"github.com/modelgate/backend/internal/retry"
	"go.uber.org/zap"
)

var ErrInferenceUnavailable = errors.New("inference service unavailable")

// InferenceClient talks to the model serving API.
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
	rec        metrics.Recorder
	log        *zap.Logger
}

func NewInferenceClient(baseURL string, timeout time.Duration, policy retry.Policy, rec metrics.Recorder, log *zap.Logger) *InferenceClient {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &InferenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: policy,
		rec:   rec,
		log:   log,
	}
}

type InferenceRequest struct {
	ModelRef string          `json:"model_ref"`
	Features json.RawMessage `json:"features"`
}

type PredictResult struct {
	Result json.RawMessage `json:"result"`
}

type EDAResult struct {
	Report json.RawMessage `json:"report"`
}

func (c *InferenceClient) Predict(ctx context.Context, req InferenceRequest) (*PredictResult, error) {
	var result PredictResult
	if err := c.post(ctx, "/predict", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *InferenceClient) EDA(ctx context.Context, req InferenceRequest) (*EDAResult, error) {
	var result EDAResult
	if err := c.post(ctx, "/eda", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post retries transport errors and 5xx answers. A 4xx answer means the
// request itself is wrong and is returned at once.
func (c *InferenceClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.log.Debug("inference attempt failed", zap.String("path", path), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("%w: returned %d: %s", ErrInferenceUnavailable, resp.StatusCode, string(b))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return retry.Permanent(fmt.Errorf("inference service returned %d: %s", resp.StatusCode, string(b)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode inference response: %w", err))
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.log.Warn("inference call failed", zap.String("path", path), zap.Error(err))
	}
	c.rec.ObserveLatency(metrics.InferenceCall, time.Since(start), map[string]string{"method": path})
	c.rec.IncCounter(metrics.InferenceCall, map[string]string{"outcome": outcome})
	return err
}
