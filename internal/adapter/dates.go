package adapter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativeDateRegex matches phrases like "3 days ago", "il y a 2 semaines"
// or "30+ days ago". The number is optional ("a day ago", "il y a une heure").
var relativeDateRegex = regexp.MustCompile(`(\d+)?\+?\s*(minute|min|hour|heure|day|jour|week|semaine|month|mois)`)

// parseRelativeDate converts a board's relative posting phrase into an
// absolute time. Anything it cannot read is treated as now, so unknown
// dates never filter a listing out.
func parseRelativeDate(s string, now time.Time) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return now
	}

	switch {
	case strings.Contains(s, "yesterday"), strings.Contains(s, "hier"):
		return now.AddDate(0, 0, -1)
	case strings.Contains(s, "today"), strings.Contains(s, "aujourd"), strings.Contains(s, "just"):
		return now
	}

	m := relativeDateRegex.FindStringSubmatch(s)
	if m == nil {
		return now
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return now
		}
		n = v
	}

	switch m[2] {
	case "minute", "min":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour", "heure":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day", "jour":
		return now.AddDate(0, 0, -n)
	case "week", "semaine":
		return now.AddDate(0, 0, -7*n)
	case "month", "mois":
		return now.AddDate(0, -n, 0)
	}
	return now
}

// parseAbsoluteDate accepts the timestamp layouts the boards emit. It returns
// false when none match.
func parseAbsoluteDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
