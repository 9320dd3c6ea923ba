package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/services/bias"
	"GammaScalp/pkg/queue"
)

// Message types accepted on the collaborator queue.
const (
	JobLevelsUpdate = "levels.update"
	JobBiasUpdate   = "bias.update"
	JobVIXUpdate    = "vix.update"
)

// permanent marks validation failures so the queue does not retry them.
func permanent(err error) error {
	if err != nil && errs.IsValidation(err) {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return err
}

// LevelsJob applies gamma level snapshots.
type LevelsJob struct {
	book *LevelsBook
}

func NewLevelsJob(book *LevelsBook) *LevelsJob { return &LevelsJob{book: book} }

func (j *LevelsJob) Name() string { return "levels_update" }
func (j *LevelsJob) Type() string { return JobLevelsUpdate }

func (j *LevelsJob) Handle(ctx context.Context, payload json.RawMessage) error {
	l, err := queue.Decode[models.GammaLevels](payload)
	if err != nil {
		return err
	}
	return permanent(j.book.Update(ctx, l))
}

// biasPayload is a bias input, optionally for an explicit date.
type biasPayload struct {
	Date string `json:"date"`
	models.BiasInput
}

// BiasJob recomputes the daily bias.
type BiasJob struct {
	engine *bias.Engine
	date   func(time.Time) string
	now    func() time.Time
}

func NewBiasJob(engine *bias.Engine, date func(time.Time) string) *BiasJob {
	return &BiasJob{engine: engine, date: date, now: time.Now}
}

func (j *BiasJob) Name() string { return "bias_update" }
func (j *BiasJob) Type() string { return JobBiasUpdate }

// Handle returns the scorer's transient error so the queue retries later;
// the fallback bias is already in force by then.
func (j *BiasJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[biasPayload](payload)
	if err != nil {
		return err
	}
	date := p.Date
	if date == "" {
		date = j.date(j.now())
	}
	_, err = j.engine.Update(ctx, date, p.BiasInput)
	return permanent(err)
}

type vixPayload struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// VIXJob feeds volatility prints to the emergency monitor.
type VIXJob struct {
	monitor *EmergencyMonitor
}

func NewVIXJob(monitor *EmergencyMonitor) *VIXJob { return &VIXJob{monitor: monitor} }

func (j *VIXJob) Name() string { return "vix_update" }
func (j *VIXJob) Type() string { return JobVIXUpdate }

// Handle never retries a critical event: the lockout and flatten have
// already been attempted and surfaced.
func (j *VIXJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[vixPayload](payload)
	if err != nil {
		return err
	}
	err = j.monitor.ObserveVIX(ctx, p.Value, p.At)
	if err != nil && !errs.IsValidation(err) {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return permanent(err)
}

var (
	_ queue.Job = (*LevelsJob)(nil)
	_ queue.Job = (*BiasJob)(nil)
	_ queue.Job = (*VIXJob)(nil)
)
