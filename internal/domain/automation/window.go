package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

func parseHHMM(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func (ah *ActiveHours) validate() error {
	if _, err := parseHHMM(ah.Start); err != nil {
		return errs.Validation("active_hours.start", err.Error())
	}
	if _, err := parseHHMM(ah.End); err != nil {
		return errs.Validation("active_hours.end", err.Error())
	}
	if ah.Timezone != "" {
		if _, err := time.LoadLocation(ah.Timezone); err != nil {
			return errs.Validation("active_hours.timezone", err.Error())
		}
	}
	return nil
}

// Contains reports whether now falls on an allowed weekday inside the
// [start, end] window, evaluated in the rule's timezone. An empty day list
// allows every day.
func (ah *ActiveHours) Contains(now time.Time) bool {
	loc := time.Local
	if ah.Timezone != "" {
		if l, err := time.LoadLocation(ah.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(ah.Days) > 0 {
		ok := false
		for _, d := range ah.Days {
			if local.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	start, err1 := parseHHMM(ah.Start)
	end, err2 := parseHHMM(ah.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= start || minute <= end
}

// Contains reports whether now falls inside the pause window. Open ends are
// unbounded on that side; a pause with neither end set is always in effect.
func (p *Pause) Contains(now time.Time) bool {
	if p.From != nil && now.Before(*p.From) {
		return false
	}
	if p.To != nil && now.After(*p.To) {
		return false
	}
	return true
}

// FiringAllowed combines the active-hours and pause gates for a rule.
func (r *Rule) FiringAllowed(now time.Time) bool {
	if r.ActiveHours != nil && !r.ActiveHours.Contains(now) {
		return false
	}
	if r.Pause != nil && r.Pause.Contains(now) {
		return false
	}
	return true
}
