package printer

import (
	"fmt"
	"time"
)

// TimeAgo returns a human-readable relative time string in UTC.
// Examples: "5 seconds ago (UTC)", "2 minutes ago (UTC)", "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())

	if diff < 0 {
		return "in the future (UTC)"
	}

	units := []struct {
		limit time.Duration
		div   time.Duration
		name  string
	}{
		{time.Minute, time.Second, "second"},
		{time.Hour, time.Minute, "minute"},
		{24 * time.Hour, time.Hour, "hour"},
	}

	for _, u := range units {
		if diff < u.limit {
			n := int(diff / u.div)
			if n == 1 {
				return fmt.Sprintf("1 %s ago (UTC)", u.name)
			}
			return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
		}
	}

	days := int(diff.Hours() / 24)
	if days == 1 {
		return "1 day ago (UTC)"
	}
	return fmt.Sprintf("%d days ago (UTC)", days)
}
