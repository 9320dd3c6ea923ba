package service

import (
	"context"

	"GammaScalp/internal/domain/models"
)

// Broker places market orders in live mode.
type Broker interface {
	Name() string
	PlaceMarketOrder(ctx context.Context, symbol string, qty int, side models.Side) (float64, error)
}

// SentimentScorer scores headlines in [-100, 100].
type SentimentScorer interface {
	Score(ctx context.Context, headlines []string) (int, string, error)
}
