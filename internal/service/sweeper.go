package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

const (
	alertSweepLock         = "alert-sweep"
	forecastPointsPerSweep = 10
)

// SweepStore is the persistence the alert sweep reads.
type SweepStore interface {
	domain.ObservationRepository
	domain.ForecastRepository
	domain.CityRepository
}

// AlertSweeper runs the evaluator over every city's latest observation and
// upcoming forecasts, then dispatches the drafts.
type AlertSweeper struct {
	store      SweepStore
	evaluator  *Evaluator
	dispatcher *AlertDispatcher
	locker     domain.SweepLocker
	clock      clockwork.Clock
	logger     *zap.Logger
	lookahead  time.Duration
}

// NewAlertSweeper wires the sweep. lookahead bounds which forecast points are evaluated.
func NewAlertSweeper(store SweepStore, evaluator *Evaluator, dispatcher *AlertDispatcher, locker domain.SweepLocker,
	clock clockwork.Clock, logger *zap.Logger, lookahead time.Duration) *AlertSweeper {
	return &AlertSweeper{
		store:      store,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		locker:     locker,
		clock:      clock,
		logger:     logger,
		lookahead:  lookahead,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Cities     int  `json:"cities"`
	Candidates int  `json:"candidates"`
	Created    int  `json:"created"`
	Suppressed int  `json:"suppressed"`
	Skipped    bool `json:"skipped"`
}

// Sweep evaluates and dispatches alerts for all cities with observations. It
// is skipped, not queued, when another sweep holds the lock.
func (s *AlertSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	release, ok, err := s.locker.TryLock(ctx, alertSweepLock)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweeper: %w", err)
	}
	if !ok {
		s.logger.Info("alert sweep already running elsewhere, skipping")
		return SweepResult{Skipped: true}, nil
	}
	defer release()

	cities, err := s.store.Cities(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweeper: failed to list cities: %w", err)
	}
	byID := make(map[int64]domain.City, len(cities))
	for _, c := range cities {
		byID[c.ID] = c
	}

	observations, err := s.store.LatestObservations(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweeper: failed to load observations: %w", err)
	}

	now := s.clock.Now()
	var drafts []domain.AlertDraft
	var res SweepResult
	for _, obs := range observations {
		city, ok := byID[obs.CityID]
		if !ok {
			city = domain.City{ID: obs.CityID}
		}
		res.Cities++

		var upcoming []domain.ForecastPoint
		if s.lookahead > 0 {
			upcoming, err = s.store.ForecastsBetween(ctx, obs.CityID, now, now.Add(s.lookahead), forecastPointsPerSweep)
			if err != nil {
				s.logger.Warn("forecasts unavailable for sweep", zap.String("city", city.Label()), zap.Error(err))
				upcoming = nil
			}
		}
		drafts = append(drafts, s.evaluator.Evaluate(city, obs, upcoming, now)...)
	}
	res.Candidates = len(drafts)

	dispatched, err := s.dispatcher.Dispatch(ctx, drafts)
	res.Created = len(dispatched.Created)
	res.Suppressed = dispatched.Suppressed

	s.logger.Info("alert sweep finished",
		zap.Int("cities", res.Cities),
		zap.Int("candidates", res.Candidates),
		zap.Int("created", res.Created),
		zap.Int("suppressed", res.Suppressed),
	)
	if err != nil {
		return res, fmt.Errorf("sweeper: %w", err)
	}
	return res, nil
}

// LocalLocker is an in-process SweepLocker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// TryLock acquires name if no one in this process holds it.
func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
