// Package recurrence decides whether a broadcast item is due at a given
// tenant-local instant. Evaluation is pure: it never mutates the item.
package recurrence

import (
	"time"

	"github.com/aatumaykin/chronobot/internal/clock"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Reason explains a verdict. Used in debug logs and by `chronobot tick`.
type Reason string

const (
	ReasonDue            Reason = "due"
	ReasonDisabled       Reason = "disabled"
	ReasonOutOfDateRange Reason = "out_of_date_range"
	ReasonWeekday        Reason = "weekday_filtered"
	ReasonDayOfMonth     Reason = "day_of_month_filtered"
	ReasonOutsideSlot    Reason = "outside_slot"
	ReasonUnconfigured   Reason = "unconfigured"
	ReasonBeforeStart    Reason = "before_start_time"
	ReasonIntervalWait   Reason = "interval_not_elapsed"
	ReasonBelowThreshold Reason = "below_message_threshold"
	ReasonInvalidRule    Reason = "invalid_rule"
)

// Verdict is the result of Evaluate.
type Verdict struct {
	Due    bool
	Reason Reason
}

func notDue(r Reason) Verdict { return Verdict{Reason: r} }

// IsDue reports whether item is due at localNow given the number of chat
// messages observed since it last fired.
func IsDue(item *tenant.BroadcastItem, localNow clock.LocalTime, messagesSince int64) bool {
	return Evaluate(item, localNow, messagesSince).Due
}

// Evaluate runs the filters in order and stops at the first one that fails:
// enabled, date range, weekday, day of month, slot, repetition.
func Evaluate(item *tenant.BroadcastItem, localNow clock.LocalTime, messagesSince int64) Verdict {
	if item == nil || !item.Enabled {
		return notDue(ReasonDisabled)
	}
	if !item.InDateRange(localNow.Date) {
		return notDue(ReasonOutOfDateRange)
	}
	if !item.DaysOfWeek.Empty() && !item.DaysOfWeek.Has(localNow.Weekday) {
		return notDue(ReasonWeekday)
	}
	if !item.DaysOfMonth.Empty() && !item.DaysOfMonth.Has(localNow.DayOfMonth) {
		return notDue(ReasonDayOfMonth)
	}
	if item.Slot != nil && !item.Slot.Contains(localNow.Hour) {
		return notDue(ReasonOutsideSlot)
	}

	switch rep := item.EffectiveRepetition().(type) {
	case nil:
		return notDue(ReasonUnconfigured)
	case tenant.Interval:
		return evalInterval(item, rep, localNow)
	case tenant.MessageCount:
		if rep.N <= 0 {
			return notDue(ReasonInvalidRule)
		}
		if messagesSince >= int64(rep.N) {
			return Verdict{Due: true, Reason: ReasonDue}
		}
		return notDue(ReasonBelowThreshold)
	default:
		return notDue(ReasonInvalidRule)
	}
}

func evalInterval(item *tenant.BroadcastItem, iv tenant.Interval, localNow clock.LocalTime) Verdict {
	interval := iv.Duration()
	if interval <= 0 {
		return notDue(ReasonInvalidRule)
	}

	last := item.Bookkeeping.LastFiredAt
	if last.IsZero() {
		if item.StartTime != nil && localNow.MinuteOfDay() < item.StartTime.MinuteOfDay() {
			return notDue(ReasonBeforeStart)
		}
		return Verdict{Due: true, Reason: ReasonDue}
	}

	// Minute resolution: a tick landing a few seconds early must not miss
	// the boundary.
	elapsed := localNow.Instant.Truncate(time.Minute).Sub(last.Truncate(time.Minute))
	if elapsed >= interval {
		return Verdict{Due: true, Reason: ReasonDue}
	}
	return notDue(ReasonIntervalWait)
}
