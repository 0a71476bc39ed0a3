// Package tenant defines the typed configuration of a managed chat:
// recurring broadcast items, deletion policies and the engine-owned
// bookkeeping attached to each item.
//
// Every optional field has exactly one documented meaning when absent:
//   - StartTime nil: no time-of-day anchor.
//   - Repetition nil: no repetition. With StartTime set the item fires once a
//     day at StartTime; with neither set the item is never due.
//   - empty DaySet: no weekday / day-of-month restriction.
//   - Slot nil: active all day.
//   - StartDate/EndDate zero: open range on that side.
package tenant

import (
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/clock"
)

// CategoryScheduled is the deletion category of broadcast messages that do
// not name their own.
const CategoryScheduled = "scheduled"

// Tenant is one managed chat.
type Tenant struct {
	ChatID     int64
	Title      string
	TimeZone   string // IANA name or fixed-offset label, empty = UTC
	Broadcasts []BroadcastItem
	Policies   Policies
}

// Key addresses a broadcast item: items are index-addressed within a chat.
type Key struct {
	ChatID int64
	Index  int
}

func (k Key) String() string {
	return fmt.Sprintf("%d#%d", k.ChatID, k.Index)
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// TimeOfDay is a tenant-local wall-clock anchor.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MinuteOfDay returns Hour*60+Minute.
func (t TimeOfDay) MinuteOfDay() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Slot is an hour window [FromHour, ToHour). ToHour < FromHour spans midnight.
type Slot struct {
	FromHour int
	ToHour   int
}

// Contains reports whether hour falls inside the window. An empty window
// (FromHour == ToHour) contains nothing.
func (s Slot) Contains(hour int) bool {
	switch {
	case s.FromHour == s.ToHour:
		return false
	case s.FromHour < s.ToHour:
		return hour >= s.FromHour && hour < s.ToHour
	default:
		return hour >= s.FromHour || hour < s.ToHour
	}
}

// DaySet is a bit set of day numbers (0..6 for weekdays, 1..31 for days of
// month). The zero value is the empty set, meaning "no restriction".
type DaySet uint32

// NewDaySet builds a set from day numbers; out-of-range values are ignored.
func NewDaySet(days ...int) DaySet {
	var s DaySet
	for _, d := range days {
		if d >= 0 && d < 32 {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Has reports membership.
func (s DaySet) Has(day int) bool {
	if day < 0 || day >= 32 {
		return false
	}
	return s&(1<<uint(day)) != 0
}

// Empty reports whether no day is set.
func (s DaySet) Empty() bool { return s == 0 }

// Days returns the members in ascending order.
func (s DaySet) Days() []int {
	var out []int
	for d := 0; d < 32; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Content is passed verbatim to the messaging boundary.
type Content struct {
	Text    string        `json:"text"`
	Media   *Media        `json:"media,omitempty"`
	Buttons [][]URLButton `json:"buttons,omitempty"`
}

// MediaKind selects the Bot API send method.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
)

// Media is referenced either by a Telegram file_id or by URL.
type Media struct {
	Kind   MediaKind `json:"kind" yaml:"kind"`
	FileID string    `json:"file_id,omitempty" yaml:"file_id"`
	URL    string    `json:"url,omitempty" yaml:"url"`
}

// URLButton is an inline keyboard button opening a URL.
type URLButton struct {
	Text string `json:"text" yaml:"text"`
	URL  string `json:"url" yaml:"url"`
}

// Bookkeeping is mutated only by the engine. Rev is the optimistic
// concurrency token: every successful save increments it.
type Bookkeeping struct {
	LastFiredAt time.Time   // zero = never fired
	CounterMark int64       // message counter total at the last fire
	LastSent    *MessageRef // used by DeleteLast
	Rev         int64
}

// MessagesSince returns how many messages were observed since the last fire
// given the chat's current counter total.
func (b Bookkeeping) MessagesSince(total int64) int64 {
	if total < b.CounterMark {
		// counter store was reset underneath us
		return total
	}
	return total - b.CounterMark
}

// Fired returns the bookkeeping after a successful dispatch.
func (b Bookkeeping) Fired(at time.Time, counterTotal int64, sent MessageRef) Bookkeeping {
	return Bookkeeping{
		LastFiredAt: at.UTC(),
		CounterMark: counterTotal,
		LastSent:    &sent,
		Rev:         b.Rev + 1,
	}
}

// BroadcastItem is one recurring-message rule of a tenant.
type BroadcastItem struct {
	Index       int
	Enabled     bool
	Content     Content
	StartTime   *TimeOfDay
	Repetition  Repetition
	DaysOfWeek  DaySet
	DaysOfMonth DaySet
	Slot        *Slot
	StartDate   clock.Date
	EndDate     clock.Date
	Pin         bool
	DeleteLast  bool
	Category    string

	Bookkeeping Bookkeeping
}

// PolicyCategory returns the deletion category for messages sent by this item.
func (b *BroadcastItem) PolicyCategory() string {
	if b.Category == "" {
		return CategoryScheduled
	}
	return b.Category
}

// EffectiveRepetition resolves the documented defaults: an explicit
// repetition wins; a bare StartTime means daily; otherwise nil (never due).
func (b *BroadcastItem) EffectiveRepetition() Repetition {
	if b.Repetition != nil {
		return b.Repetition
	}
	if b.StartTime != nil {
		return Interval{Hours: 24}
	}
	return nil
}

// InDateRange reports whether d is inside [StartDate, EndDate].
func (b *BroadcastItem) InDateRange(d clock.Date) bool {
	if !b.StartDate.IsZero() && d.Compare(b.StartDate) < 0 {
		return false
	}
	if !b.EndDate.IsZero() && d.Compare(b.EndDate) > 0 {
		return false
	}
	return true
}
