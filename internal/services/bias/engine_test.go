package bias

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
)

type stubScorer struct {
	score int
	err   error
	calls int
}

func (s *stubScorer) Score(context.Context, []string) (int, string, error) {
	s.calls++
	return s.score, "stub", s.err
}

type biasRepo struct{ saved map[string]models.MarketBias }

func (r *biasRepo) Save(_ context.Context, b models.MarketBias) error {
	if r.saved == nil {
		r.saved = map[string]models.MarketBias{}
	}
	r.saved[b.Date] = b
	return nil
}

func (r *biasRepo) Load(_ context.Context, date string) (models.MarketBias, error) {
	b, ok := r.saved[date]
	if !ok {
		return models.MarketBias{}, errs.ErrNotFound
	}
	return b, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		sentiment int
		price     float64
		want      models.Bias
		score     int
	}{
		{25, 101, models.BiasBullish, 35},
		{25, 99, models.BiasNeutral, 15},
		{-25, 99, models.BiasBearish, -35},
		{-20, 101, models.BiasNeutral, -10},
		{500, 101, models.BiasBullish, 110},
		{20, 101, models.BiasNeutral, 30},
	}
	for _, c := range cases {
		score, got := Classify(c.sentiment, c.price, 100)
		assert.Equal(t, c.want, got, "sentiment %d", c.sentiment)
		assert.Equal(t, c.score, score)
	}
}

func TestMacroDayIsNoTrade(t *testing.T) {
	s := &stubScorer{score: 90}
	e := New(s, nil, nil, nil)
	b, err := e.Update(context.Background(), "2024-03-04", models.BiasInput{
		Headlines: []string{"Stocks drift ahead of fomc minutes"},
		Price:     101, MA20: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, models.BiasNoTrade, b.Direction)
	assert.True(t, b.MacroDay)
	assert.Zero(t, s.calls, "scorer not consulted on macro days")
}

func TestScorerFailureKeepsCachedBias(t *testing.T) {
	repo := &biasRepo{}
	s := &stubScorer{score: 40}
	e := New(s, repo, nil, nil)
	ctx := context.Background()
	in := models.BiasInput{Headlines: []string{"earnings beat"}, Price: 101, MA20: 100, VIX: 30}

	b, err := e.Update(ctx, "2024-03-04", in)
	require.NoError(t, err)
	assert.Equal(t, models.BiasBullish, b.Direction)
	assert.Contains(t, b.Rationale, "elevated volatility")
	assert.Equal(t, b, repo.saved["2024-03-04"])

	s.err = errors.New("timeout")
	b2, err := e.Update(ctx, "2024-03-04", in)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, models.BiasBullish, b2.Direction)
	assert.Equal(t, models.BiasBullish, e.Current("2024-03-04").Direction)
}

func TestScorerFailureWithoutCacheIsNoTrade(t *testing.T) {
	e := New(&stubScorer{err: errors.New("down")}, nil, nil, nil)
	b, err := e.Update(context.Background(), "2024-03-04", models.BiasInput{Price: 101, MA20: 100})
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, models.BiasNoTrade, b.Direction)
}

func TestCurrentIsDateScoped(t *testing.T) {
	e := New(&stubScorer{score: -80}, nil, nil, nil)
	_, err := e.Update(context.Background(), "2024-03-04", models.BiasInput{Price: 99, MA20: 100})
	require.NoError(t, err)
	assert.Equal(t, models.BiasBearish, e.Current("2024-03-04").Direction)
	assert.Equal(t, models.BiasNoTrade, e.Current("2024-03-05").Direction)
}

func TestInvalidInput(t *testing.T) {
	e := New(&stubScorer{}, nil, nil, nil)
	_, err := e.Update(context.Background(), "2024-03-04", models.BiasInput{Price: 0, MA20: 100})
	assert.True(t, errs.IsValidation(err))
}

func TestRestore(t *testing.T) {
	repo := &biasRepo{}
	require.NoError(t, repo.Save(context.Background(), models.MarketBias{Date: "2024-03-04", Direction: models.BiasBearish}))
	e := New(&stubScorer{}, repo, nil, nil)
	_, ok, err := e.Restore(context.Background(), "2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.BiasBearish, e.Current("2024-03-04").Direction)
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sentiment", r.URL.Path)
		var req sentimentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Headlines, 2)
		_ = json.NewEncoder(w).Encode(sentimentResponse{Score: 55, Rationale: "upbeat"})
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second, 1)
	score, why, err := s.Score(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 55, score)
	assert.Equal(t, "upbeat", why)
}
