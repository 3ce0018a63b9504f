package periodic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the normalized form of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Schedule is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 3 * * *", "@hourly", "@every 10m"
//   - Go duration: "60s", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "06:00" (6 hours)
//
// A "cron:" or "every:" prefix forces the kind.
type Schedule struct {
	Kind  Kind
	Cron  string
	Every time.Duration
}

func (s Schedule) String() string {
	if s.Kind == KindInterval {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule parses raw into a cron expression or an interval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("empty cron expression in %q", raw)
		}
		return Schedule{Kind: KindCron, Cron: expr}, nil
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "@every"):
		return parseInterval(strings.TrimSpace(s[len("@every"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return Schedule{Kind: KindCron, Cron: s}, nil
	}

	sc, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')", raw)
	}
	return sc, nil
}

func parseInterval(v string) (Schedule, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Kind: KindInterval, Every: d}, nil
}
