// Package calendar provides the trading calendar consulted by the scheduler.
// A day is a trading day when it is a weekday and not listed in the holiday
// file. The calendar is loaded once at startup and is immutable.
package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// dateLayout is the holiday file date format.
const dateLayout = "2006-01-02"

// Calendar answers trading-day queries.
type Calendar struct {
	holidays map[string]struct{}
}

// holidayFile is the YAML shape of the holiday source:
//
//	holidays:
//	  - 2026-01-01
//	  - 2026-02-16
type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// Load reads the holiday file at path. An empty path yields a weekends-only
// calendar.
func Load(path string) (*Calendar, error) {
	c := &Calendar{holidays: make(map[string]struct{})}
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading holiday file: %w", err)
	}

	var f holidayFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing holiday file: %w", err)
	}

	for _, d := range f.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		c.holidays[d] = struct{}{}
	}

	return c, nil
}

// IsTradingDay reports whether the date of t (in t's location) is a trading
// day: a weekday that is not a configured holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}
