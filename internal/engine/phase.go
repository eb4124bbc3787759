package engine

import (
	"fmt"
	"time"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

const (
	preMarketLead   = time.Hour
	closingSoonLead = 15 * time.Minute
	postMarketTail  = time.Hour
)

// Calendar maps wall-clock time onto market phases for one trading
// session per weekday.
type Calendar struct {
	loc     *time.Location
	openAt  time.Duration // offset from local midnight
	closeAt time.Duration
}

// NewCalendar creates a calendar with open and close given as offsets from
// local midnight in loc.
func NewCalendar(loc *time.Location, open, closeAt time.Duration) (*Calendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	if open < 0 || closeAt <= open || closeAt > 24*time.Hour {
		return nil, fmt.Errorf("invalid session %s to %s", open, closeAt)
	}
	return &Calendar{loc: loc, openAt: open, closeAt: closeAt}, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Phase returns the market phase at t.
func (c *Calendar) Phase(t time.Time) domain.MarketPhase {
	local := t.In(c.loc)
	if weekend(local.Weekday()) {
		return domain.MarketPhaseWeekend
	}
	tod := local.Sub(midnight(local))
	switch {
	case tod < c.openAt-preMarketLead:
		return domain.MarketPhaseClosed
	case tod < c.openAt:
		return domain.MarketPhasePreMarket
	case tod < c.closeAt-closingSoonLead:
		return domain.MarketPhaseOpen
	case tod < c.closeAt:
		return domain.MarketPhaseClosingSoon
	case tod < c.closeAt+postMarketTail:
		return domain.MarketPhasePostMarket
	default:
		return domain.MarketPhaseClosed
	}
}

// NextClose returns the first session close strictly after t.
func (c *Calendar) NextClose(t time.Time) time.Time {
	local := t.In(c.loc)
	day := midnight(local)
	for {
		if !weekend(day.Weekday()) {
			if end := day.Add(c.closeAt); end.After(local) {
				return end
			}
		}
		day = midnight(day.AddDate(0, 0, 1))
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func weekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
