package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/repository"
	"GammaScalp/internal/services/bias"
	"GammaScalp/pkg/queue"
)

type stubScorer struct {
	score int
	err   error
}

func (s stubScorer) Score(context.Context, []string) (int, string, error) {
	return s.score, "stub", s.err
}

func TestLevelsJob(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	job := NewLevelsJob(f.levels)
	assert.Equal(t, JobLevelsUpdate, job.Type())
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, json.RawMessage(`{"symbol":"qqq","put_wall":430,"call_wall":440}`)))
	l, ok := f.levels.Get("QQQ")
	require.True(t, ok)
	assert.Equal(t, 440.0, l.CallWall)

	assert.ErrorIs(t, job.Handle(ctx, json.RawMessage(`{"symbol":"QQQ","put_wall":440,"call_wall":430}`)), queue.ErrPermanent)
	assert.ErrorIs(t, job.Handle(ctx, json.RawMessage(`[1,2]`)), queue.ErrPermanent)
}

func TestBiasJob(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	ctx := context.Background()

	engine := bias.New(stubScorer{score: 40}, repository.NewKVBiasRepository(f.store), nil, nil)
	job := NewBiasJob(engine, f.session.Date)
	job.now = f.now

	require.NoError(t, job.Handle(ctx, json.RawMessage(`{"headlines":["stocks rally"],"price":510,"ma20":500,"vix":14}`)))
	assert.Equal(t, models.BiasBullish, engine.Current("2024-03-04").Direction)

	require.NoError(t, job.Handle(ctx, json.RawMessage(`{"date":"2024-03-05","headlines":["FOMC today"],"price":510,"ma20":500}`)))
	assert.Equal(t, models.BiasNoTrade, engine.Current("2024-03-05").Direction)

	err := job.Handle(ctx, json.RawMessage(`{"headlines":[],"price":0,"ma20":500}`))
	assert.ErrorIs(t, err, queue.ErrPermanent)
}

func TestBiasJobRetriesScorerOutage(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	engine := bias.New(stubScorer{err: errors.New("503")}, nil, nil, nil)
	job := NewBiasJob(engine, f.session.Date)
	job.now = f.now

	err := job.Handle(context.Background(), json.RawMessage(`{"headlines":["quiet"],"price":510,"ma20":500}`))
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.False(t, errors.Is(err, queue.ErrPermanent))
	assert.Equal(t, models.BiasNoTrade, engine.Current("2024-03-04").Direction)
}

func TestVIXJob(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	m := newMonitor(f)
	job := NewVIXJob(m)
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, json.RawMessage(`{"value":15,"at":"2024-03-04T15:00:00Z"}`)))
	open, _ := m.VIX()
	assert.Equal(t, 15.0, open)

	assert.ErrorIs(t, job.Handle(ctx, json.RawMessage(`{"value":-1}`)), queue.ErrPermanent)
}

func TestJobsRunThroughLocalQueue(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	q := queue.NewLocal(0, NewLevelsJob(f.levels))

	err := q.PublishMessage(context.Background(), JobLevelsUpdate, models.GammaLevels{Symbol: "SPY", PutWall: 500, CallWall: 505})
	require.NoError(t, err)
	_, ok := f.levels.Get("SPY")
	assert.True(t, ok)

	assert.ErrorIs(t, q.PublishMessage(context.Background(), "nope", nil), queue.ErrUnknownType)
}
