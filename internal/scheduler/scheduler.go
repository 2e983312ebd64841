// Package scheduler fires backup runs on the hourly, daily, weekly and monthly
// cadences plus once at startup.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/lock"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// RunFunc performs one backup run for a cadence.
type RunFunc func(ctx context.Context, cadence artifact.Cadence) (artifact.Run, error)

// Result is delivered to the report hook after every fire.
type Result struct {
	Cadence artifact.Cadence
	FiredAt time.Time
	Run     artifact.Run
	Err     error
}

// Skipped reports a fire that found another run holding the lock.
func (r Result) Skipped() bool { return errors.Is(r.Err, lock.ErrRunInProgress) }

type Settings struct {
	Location       *time.Location
	HourlyInterval time.Duration
	DailyHour      int
	WeeklyDay      time.Weekday
	WeeklyHour     int
	MonthlyDay     int
	MonthlyHour    int
	PollInterval   time.Duration
	RunOnStartup   bool
}

func SettingsFromConfig(cfg config.ScheduleConfig) (Settings, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Settings{}, err
	}
	day, err := config.ParseWeekday(cfg.WeeklyDay)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Location:       loc,
		HourlyInterval: cfg.HourlyInterval,
		DailyHour:      cfg.DailyHour,
		WeeklyDay:      day,
		WeeklyHour:     cfg.WeeklyHour,
		MonthlyDay:     cfg.MonthlyDay,
		MonthlyHour:    cfg.MonthlyHour,
		PollInterval:   cfg.PollInterval,
		RunOnStartup:   cfg.RunOnStartup,
	}, nil
}

// Scheduler state is owned by a single coordinating goroutine between Start
// and Stop. Runs execute on their own goroutines and report back through a
// channel, so a slow run never delays the next fire.
type Scheduler struct {
	settings Settings
	run      RunFunc
	onResult func(Result)
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	nextHourly  time.Time
	nextDaily   time.Time
	nextPoll    time.Time
	lastWeekly  time.Time
	lastMonthly time.Time
}

func New(settings Settings, run RunFunc, onResult func(Result), log zerolog.Logger) *Scheduler {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	if settings.HourlyInterval <= 0 {
		settings.HourlyInterval = time.Hour
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = time.Hour
	}
	if onResult == nil {
		onResult = func(Result) {}
	}
	return &Scheduler{settings: settings, run: run, onResult: onResult, now: time.Now, log: log}
}

// SetClock replaces the time source. It must be called before Start.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.reset(s.now())
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels pending fires and in-flight runs, and waits for them to report.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) reset(now time.Time) {
	s.nextHourly = now.Add(s.settings.HourlyInterval)
	s.nextDaily = NextDaily(now, s.settings.DailyHour, s.settings.Location)
	s.nextPoll = now.Add(s.settings.PollInterval)
	s.lastWeekly = time.Time{}
	s.lastMonthly = time.Time{}
	s.log.Info().
		Time("next_hourly", s.nextHourly).
		Time("next_daily", s.nextDaily).
		Dur("poll_interval", s.settings.PollInterval).
		Msg("scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	results := make(chan Result)
	var inflight sync.WaitGroup
	fire := func(c artifact.Cadence, at time.Time) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			run, err := s.run(ctx, c)
			results <- Result{Cadence: c, FiredAt: at, Run: run, Err: err}
		}()
	}
	drain := func() {
		go func() {
			inflight.Wait()
			close(results)
		}()
		for res := range results {
			s.handle(res)
		}
	}

	if s.settings.RunOnStartup {
		fire(artifact.Startup, s.now())
	}

	timer := time.NewTimer(s.untilNext(s.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			drain()
			return
		case res := <-results:
			s.handle(res)
		case <-timer.C:
			now := s.now()
			for _, c := range s.due(now) {
				s.log.Info().Str("cadence", string(c)).Msg("firing scheduled backup")
				fire(c, now)
			}
			timer.Reset(s.untilNext(now))
		}
	}
}

func (s *Scheduler) handle(res Result) {
	log := s.log.With().Str("cadence", string(res.Cadence)).Logger()
	switch {
	case res.Skipped():
		log.Warn().Err(res.Err).Msg("run skipped, another run in progress")
	case res.Err != nil:
		log.Error().Err(res.Err).Msg("scheduled run failed")
	default:
		log.Info().Str("run_id", res.Run.ID).Str("status", res.Run.Status()).Msg("scheduled run finished")
	}
	s.onResult(res)
}

func (s *Scheduler) untilNext(now time.Time) time.Duration {
	next := s.nextHourly
	for _, t := range []time.Time{s.nextDaily, s.nextPoll} {
		if t.Before(next) {
			next = t
		}
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// due returns the cadences that fire at now and advances their state.
func (s *Scheduler) due(now time.Time) []artifact.Cadence {
	var out []artifact.Cadence
	if !now.Before(s.nextHourly) {
		out = append(out, artifact.Hourly)
		for !now.Before(s.nextHourly) {
			s.nextHourly = s.nextHourly.Add(s.settings.HourlyInterval)
		}
	}
	if !now.Before(s.nextDaily) {
		out = append(out, artifact.Daily)
		s.nextDaily = NextDaily(now.Add(time.Minute), s.settings.DailyHour, s.settings.Location)
	}
	if !now.Before(s.nextPoll) {
		for !now.Before(s.nextPoll) {
			s.nextPoll = s.nextPoll.Add(s.settings.PollInterval)
		}
		local := now.In(s.settings.Location)
		slot := local.Truncate(time.Hour)
		if WeeklyDue(local, s.settings.WeeklyDay, s.settings.WeeklyHour) && !slot.Equal(s.lastWeekly) {
			s.lastWeekly = slot
			out = append(out, artifact.Weekly)
		}
		if MonthlyDue(local, s.settings.MonthlyDay, s.settings.MonthlyHour) && !slot.Equal(s.lastMonthly) {
			s.lastMonthly = slot
			out = append(out, artifact.Monthly)
		}
	}
	return out
}

// NextDaily is the first hour:00 in loc at or after now.
func NextDaily(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if next.Before(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// WeeklyDue reports whether t falls in the weekly slot.
func WeeklyDue(t time.Time, day time.Weekday, hour int) bool {
	return t.Weekday() == day && t.Hour() == hour
}

// MonthlyDue reports whether t falls in the monthly slot.
func MonthlyDue(t time.Time, day, hour int) bool {
	return t.Day() == day && t.Hour() == hour
}
