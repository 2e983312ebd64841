package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values that would otherwise surface as confusing runtime
// failures deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if !c.Database.Enabled && !c.Cache.Enabled {
		errs = append(errs, errors.New("at least one of database or cache must be enabled"))
	}
	if c.Database.Enabled && c.Database.Database == "" {
		errs = append(errs, errors.New("database.database is required"))
	}
	if c.Cache.Enabled && c.Cache.Container == "" && c.Cache.RDBPath == "" {
		errs = append(errs, errors.New("cache.container or cache.rdb_path is required"))
	}
	if c.Storage.Local.Path == "" {
		errs = append(errs, errors.New("storage.local.path is required"))
	}
	for name, v := range map[string]int{
		"retention.hourly":  c.Retention.Hourly,
		"retention.daily":   c.Retention.Daily,
		"retention.weekly":  c.Retention.Weekly,
		"retention.monthly": c.Retention.Monthly,
		"retention.manual":  c.Retention.Manual,
		"retention.startup": c.Retention.Startup,
		"retention.quick":   c.Retention.Quick,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	for name, h := range map[string]int{
		"schedule.daily_hour":   c.Schedule.DailyHour,
		"schedule.weekly_hour":  c.Schedule.WeeklyHour,
		"schedule.monthly_hour": c.Schedule.MonthlyHour,
	} {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 23", name))
		}
	}
	if c.Schedule.MonthlyDay < 1 || c.Schedule.MonthlyDay > 28 {
		errs = append(errs, errors.New("schedule.monthly_day must be between 1 and 28"))
	}
	if _, err := ParseWeekday(c.Schedule.WeeklyDay); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves schedule.timezone, defaulting to the process local zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(v string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday: %q", v)
}
