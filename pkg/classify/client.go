// Package classify implements the classification stage: retrieved objects
// are scored by the external spam model and wrapped in a result envelope.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ModelClient posts objects to the model server through a scoped retrying
// session. The default retry policy covers connection failures and the
// {429, 500, 502, 503, 504} status family.
type ModelClient struct {
	baseURL string
	rc      *retryablehttp.Client
}

// NewModelClient creates the model server client. timeout applies per
// request attempt.
func NewModelClient(baseURL string, timeout time.Duration) *ModelClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4 // five attempts total
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 32 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	return &ModelClient{baseURL: baseURL, rc: rc}
}

// SetRetryWait overrides the retry pacing. Tests shrink it.
func (c *ModelClient) SetRetryWait(min, max time.Duration) {
	c.rc.RetryWaitMin = min
	c.rc.RetryWaitMax = max
}

type modelResponse struct {
	Prediction *float64 `json:"prediction"`
	Score      *float64 `json:"score"`
}

// Predict scores one object against the per-kind model endpoint
// <base>/predict_<kind>. The returned score is rounded to three decimals;
// a missing prediction is derived from the score with a strict > 0.5
// threshold.
func (c *ModelClient) Predict(ctx context.Context, kind string, object []byte) (prediction int, score float64, err error) {
	url := fmt.Sprintf("%s/predict_%s", c.baseURL, kind)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(object))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.rc.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("model request failed after retries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("reading model response: %w", err)
	}
	var parsed modelResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0, fmt.Errorf("decoding model response: %w", err)
	}
	if parsed.Score == nil {
		return 0, 0, fmt.Errorf("model response missing score")
	}

	score = math.Round(*parsed.Score*1000) / 1000

	if parsed.Prediction != nil {
		prediction = int(math.Round(*parsed.Prediction))
	} else if *parsed.Score > 0.5 {
		prediction = 1
	}
	return prediction, score, nil
}
