// Package clock converts a tenant's configured zone plus an instant into
// tenant-local wall-clock fields. Everything here is pure: no I/O besides
// the tzdata lookup done by time.LoadLocation.
//
// A zone is either an IANA name ("Europe/Berlin") or a fixed-offset
// label ("UTC+05:30", "GMT-3", "+04"). An empty zone means UTC. Zones that
// cannot be resolved fail closed to UTC: the scheduler must never stop a
// tick because one tenant has a typo in its zone.
package clock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wasilibs/go-re2"
)

// Fixed offsets are bounded to the real-world range UTC-12..UTC+14.
const (
	minOffsetMinutes = -12 * 60
	maxOffsetMinutes = 14 * 60
)

var offsetLabel = re2.MustCompile(`^(?i)(?:utc|gmt)?\s*([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)

var (
	zoneCacheMu sync.RWMutex
	zoneCache   = map[string]*time.Location{}
)

// LocalTime holds the tenant-local wall-clock fields of one instant.
type LocalTime struct {
	Instant    time.Time // the instant, expressed in the tenant location
	Hour       int
	Minute     int
	Weekday    int // 0 = Sunday
	DayOfMonth int
	Date       Date
}

// At resolves zone and converts instant into tenant-local fields.
func At(zone string, instant time.Time) LocalTime {
	t := instant.In(Resolve(zone))
	return LocalTime{
		Instant:    t,
		Hour:       t.Hour(),
		Minute:     t.Minute(),
		Weekday:    int(t.Weekday()),
		DayOfMonth: t.Day(),
		Date:       DateOf(t),
	}
}

// MinuteOfDay returns Hour*60+Minute.
func (l LocalTime) MinuteOfDay() int {
	return l.Hour*60 + l.Minute
}

// Resolve returns the location for a zone string, falling back to UTC when
// the zone is empty or malformed.
func Resolve(zone string) *time.Location {
	loc, err := Lookup(zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Lookup is Resolve without the fallback; it reports why a zone is invalid.
// Used when validating tenant documents.
func Lookup(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || strings.EqualFold(zone, "utc") || strings.EqualFold(zone, "gmt") {
		return time.UTC, nil
	}

	zoneCacheMu.RLock()
	loc, ok := zoneCache[zone]
	zoneCacheMu.RUnlock()
	if ok {
		return loc, nil
	}

	if minutes, isLabel, err := ParseOffsetLabel(zone); isLabel {
		if err != nil {
			return nil, err
		}
		loc = time.FixedZone(FormatOffsetLabel(minutes), minutes*60)
	} else {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q: %w", zone, err)
		}
	}

	zoneCacheMu.Lock()
	zoneCache[zone] = loc
	zoneCacheMu.Unlock()
	return loc, nil
}

// ParseOffsetLabel parses a fixed-offset label into minutes east of UTC.
// isLabel is false when the zone does not look like an offset at all (so the
// caller should try it as an IANA name).
func ParseOffsetLabel(label string) (minutes int, isLabel bool, err error) {
	m := offsetLabel.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0, false, nil
	}

	hours, _ := strconv.Atoi(m[2])
	mins := 0
	if m[3] != "" {
		mins, _ = strconv.Atoi(m[3])
	}
	if mins >= 60 {
		return 0, true, fmt.Errorf("invalid offset minutes in %q", label)
	}

	total := hours*60 + mins
	if m[1] == "-" {
		total = -total
	}
	if total < minOffsetMinutes || total > maxOffsetMinutes {
		return 0, true, fmt.Errorf("offset %q out of range UTC-12..UTC+14", label)
	}
	return total, true, nil
}

// FormatOffsetLabel renders minutes east of UTC as "UTC+05:30"; zero is "UTC".
func FormatOffsetLabel(minutes int) string {
	if minutes == 0 {
		return "UTC"
	}
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}

// LabelFromLongitude approximates a zone label from a geographic longitude
// (15 degrees per hour), rounded to 30 minutes. Tenants that share a
// location instead of a zone name get this label.
func LabelFromLongitude(longitude float64) string {
	halfHours := int(math.Round(longitude / 7.5))
	minutes := halfHours * 30
	if minutes < minOffsetMinutes {
		minutes = minOffsetMinutes
	}
	if minutes > maxOffsetMinutes {
		minutes = maxOffsetMinutes
	}
	return FormatOffsetLabel(minutes)
}
