package bias

import (
	"context"
	"fmt"
	"strings"
	"time"

	domsvc "GammaScalp/internal/domain/service"
	xhttp "GammaScalp/pkg/http"
)

// HTTPScorer asks the sentiment service to score the day's headlines.
type HTTPScorer struct {
	baseURL  string
	attempts int
	client   *xhttp.Client
}

type sentimentRequest struct {
	Headlines []string `json:"headlines"`
}

type sentimentResponse struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// NewHTTPScorer builds a scorer for baseURL. timeout bounds each attempt.
func NewHTTPScorer(baseURL string, timeout time.Duration, attempts int) *HTTPScorer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPScorer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: attempts,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (s *HTTPScorer) Score(ctx context.Context, headlines []string) (int, string, error) {
	if s.baseURL == "" {
		return 0, "", fmt.Errorf("sentiment service not configured")
	}
	var resp sentimentResponse
	err := s.client.SendAndParseWithRetry(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     s.baseURL + "/sentiment",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    sentimentRequest{Headlines: headlines},
	}, &resp, s.attempts)
	if err != nil {
		return 0, "", fmt.Errorf("post sentiment: %w", err)
	}
	return resp.Score, resp.Rationale, nil
}

var _ domsvc.SentimentScorer = (*HTTPScorer)(nil)
