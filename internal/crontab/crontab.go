package crontab

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// PreviewCount is how many fire times a preview lists by default.
const PreviewCount = 5

// ErrNotPreviewable is returned by Next and Preview for expressions the
// scheduler accepts but that cannot be evaluated here: L, W and # in the
// day fields, or a year other than a wildcard.
var ErrNotPreviewable = errors.New("cron expression is not previewable locally")

var (
	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	years  = regexp.MustCompile(`^[0-9*,/-]+$`)
)

// expression is a cron expression rewritten for the local parser.
type expression struct {
	spec  string
	local bool
}

// normalize accepts standard 5-field, @-descriptor, and scheduler-style
// (Quartz) 6- and 7-field expressions. Quartz counts day-of-week from
// 1 = SUN, so numeric days are shifted down by one. Fields the local
// parser cannot evaluate are replaced by wildcards and the result is
// marked as not local.
func normalize(expr string) (expression, error) {
	fields := strings.Fields(expr)
	switch {
	case len(fields) == 0:
		return expression{}, fmt.Errorf("empty cron expression")
	case len(fields) == 1 && strings.HasPrefix(fields[0], "@"):
		return expression{spec: fields[0], local: true}, nil
	case len(fields) != 6 && len(fields) != 7:
		return expression{spec: strings.Join(fields, " "), local: true}, nil
	}

	local := true
	if len(fields) == 7 {
		if year := fields[6]; year != "*" && year != "?" {
			if !years.MatchString(year) {
				return expression{}, fmt.Errorf("invalid year field %q", year)
			}
			local = false
		}
		fields = fields[:6]
	}
	if strings.ContainsAny(fields[3], "LW") {
		fields[3], local = "?", false
	}
	if strings.ContainsAny(fields[5], "L#") {
		fields[5], local = "?", false
	} else {
		dow, err := quartzWeekdays(fields[5])
		if err != nil {
			return expression{}, err
		}
		fields[5] = dow
	}
	return expression{spec: strings.Join(fields, " "), local: local}, nil
}

// quartzWeekdays rewrites a Quartz day-of-week field (1-7, 1 = SUN) to the
// 0-6 range. Names and step sizes are left alone.
func quartzWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(base, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}

// Location loads tz, defaulting to UTC when blank.
func Location(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parse(expr string) (cron.Schedule, bool, error) {
	e, err := normalize(expr)
	if err != nil {
		return nil, false, err
	}
	s, err := parser.Parse(e.spec)
	if err != nil {
		return nil, false, err
	}
	return s, e.local, nil
}

// Validate validates a cron expression. Parts only the scheduler can
// evaluate are accepted as long as the remaining fields parse.
func Validate(expr string) error {
	_, _, err := parse(expr)
	return err
}

// Previewable reports whether expr can be evaluated locally.
func Previewable(expr string) bool {
	_, local, err := parse(expr)
	return err == nil && local
}

// ValidateTimezone reports whether tz names a loadable location.
func ValidateTimezone(tz string) error {
	_, err := Location(tz)
	return err
}

func schedule(expr, tz string) (cron.Schedule, *time.Location, error) {
	s, local, err := parse(expr)
	if err != nil {
		return nil, nil, err
	}
	if !local {
		return nil, nil, ErrNotPreviewable
	}
	loc, err := Location(tz)
	if err != nil {
		return nil, nil, err
	}
	return s, loc, nil
}

// Next calculates the next fire time after from, evaluated in tz.
func Next(expr, tz string, from time.Time) (time.Time, error) {
	s, loc, err := schedule(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from.In(loc)), nil
}

// Preview lists up to n fire times after from. A non-zero until bounds
// the list.
func Preview(expr, tz string, from, until time.Time, n int) ([]time.Time, error) {
	s, loc, err := schedule(expr, tz)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = PreviewCount
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for len(out) < n {
		t = s.Next(t)
		if t.IsZero() || (!until.IsZero() && t.After(until)) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
