package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/config"
	"github.com/rowjay/drkit/internal/lock"
)

func defaultSettings() Settings {
	return Settings{
		Location:       time.UTC,
		HourlyInterval: time.Hour,
		DailyHour:      2,
		WeeklyDay:      time.Sunday,
		WeeklyHour:     3,
		MonthlyDay:     1,
		MonthlyHour:    4,
		PollInterval:   time.Hour,
	}
}

func TestNextDaily(t *testing.T) {
	before := time.Date(2024, 1, 10, 1, 30, 0, 0, time.UTC)
	if got := NextDaily(before, 2, time.UTC); !got.Equal(time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected today 02:00, got %s", got)
	}
	after := time.Date(2024, 1, 10, 2, 0, 1, 0, time.UTC)
	if got := NextDaily(after, 2, time.UTC); !got.Equal(time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected tomorrow 02:00, got %s", got)
	}
	endOfMonth := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	if got := NextDaily(endOfMonth, 2, time.UTC); !got.Equal(time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected rollover to February, got %s", got)
	}
}

func TestWeeklyAndMonthlyDue(t *testing.T) {
	sunday3 := time.Date(2024, 1, 7, 3, 15, 0, 0, time.UTC)
	if !WeeklyDue(sunday3, time.Sunday, 3) {
		t.Fatalf("expected weekly due on Sunday 03:15")
	}
	if WeeklyDue(sunday3.Add(time.Hour), time.Sunday, 3) || WeeklyDue(sunday3.AddDate(0, 0, 1), time.Sunday, 3) {
		t.Fatalf("weekly should only match the configured slot")
	}
	first4 := time.Date(2024, 2, 1, 4, 59, 0, 0, time.UTC)
	if !MonthlyDue(first4, 1, 4) || MonthlyDue(first4.Add(time.Minute), 1, 4) {
		t.Fatalf("monthly slot mismatch")
	}
}

func TestDueSequence(t *testing.T) {
	s := New(defaultSettings(), nil, nil, zerolog.Nop())
	// Saturday 2024-01-06 23:30; daily 02:00 Sunday, weekly Sunday 03:00
	start := time.Date(2024, 1, 6, 23, 30, 0, 0, time.UTC)
	s.reset(start)

	counts := map[artifact.Cadence]int{}
	for now := start; now.Before(start.Add(48 * time.Hour)); now = now.Add(time.Minute) {
		for _, c := range s.due(now) {
			counts[c]++
		}
	}
	if counts[artifact.Hourly] != 47 {
		t.Fatalf("expected 47 hourly fires, got %d", counts[artifact.Hourly])
	}
	if counts[artifact.Daily] != 2 {
		t.Fatalf("expected 2 daily fires, got %d", counts[artifact.Daily])
	}
	if counts[artifact.Weekly] != 1 {
		t.Fatalf("expected 1 weekly fire, got %d", counts[artifact.Weekly])
	}
	if counts[artifact.Monthly] != 0 {
		t.Fatalf("expected no monthly fire, got %d", counts[artifact.Monthly])
	}
}

func TestDueMonthlyOncePerSlot(t *testing.T) {
	settings := defaultSettings()
	settings.PollInterval = 15 * time.Minute
	s := New(settings, nil, nil, zerolog.Nop())
	start := time.Date(2024, 2, 1, 3, 50, 0, 0, time.UTC)
	s.reset(start)

	monthly := 0
	for now := start; now.Before(start.Add(3 * time.Hour)); now = now.Add(time.Minute) {
		for _, c := range s.due(now) {
			if c == artifact.Monthly {
				monthly++
			}
		}
	}
	if monthly != 1 {
		t.Fatalf("expected one monthly fire with a short poll interval, got %d", monthly)
	}
}

func TestStartRunsStartupAndHourly(t *testing.T) {
	settings := defaultSettings()
	settings.HourlyInterval = 20 * time.Millisecond
	settings.PollInterval = time.Hour
	settings.RunOnStartup = true

	var mu sync.Mutex
	var fired []artifact.Cadence
	results := make(chan Result, 16)
	run := func(ctx context.Context, c artifact.Cadence) (artifact.Run, error) {
		mu.Lock()
		fired = append(fired, c)
		mu.Unlock()
		return artifact.Run{ID: string(c), Cadence: c}, nil
	}
	s := New(settings, run, func(r Result) {
		select {
		case results <- r:
		default:
		}
	}, zerolog.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	seen := map[artifact.Cadence]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[artifact.Startup] && seen[artifact.Hourly]) {
		select {
		case r := <-results:
			seen[r.Cadence] = true
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	s.Stop()
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if fired[0] != artifact.Startup {
		t.Fatalf("startup run should fire first, got %v", fired)
	}
}

func TestRunInProgressIsReportedAsSkipped(t *testing.T) {
	settings := defaultSettings()
	settings.RunOnStartup = true
	results := make(chan Result, 1)
	run := func(ctx context.Context, c artifact.Cadence) (artifact.Run, error) {
		return artifact.Run{}, &lock.RunInProgressError{Key: lock.KeyBackup}
	}
	s := New(settings, run, func(r Result) { results <- r }, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case r := <-results:
		if !r.Skipped() || r.Cadence != artifact.Startup {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result delivered")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	s, err := SettingsFromConfig(config.ScheduleConfig{Timezone: "UTC", WeeklyDay: "sun", DailyHour: 2, MonthlyDay: 1})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.WeeklyDay != time.Sunday || s.Location != time.UTC {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if _, err := SettingsFromConfig(config.ScheduleConfig{WeeklyDay: "someday"}); err == nil {
		t.Fatalf("expected weekday error")
	}
}
