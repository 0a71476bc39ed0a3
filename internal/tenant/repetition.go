package tenant

import (
	"errors"
	"fmt"
	"time"
)

// RepetitionKind names the variant of a Repetition.
type RepetitionKind string

const (
	KindInterval     RepetitionKind = "interval"
	KindMessageCount RepetitionKind = "messages"
)

// ErrBothRepetitions is returned when a document sets both an interval and
// a message-count trigger on the same item.
var ErrBothRepetitions = errors.New("repetition: interval and per-messages are mutually exclusive")

// Repetition is a closed sum type: Interval or MessageCount.
type Repetition interface {
	Kind() RepetitionKind
	repetition()
}

// Interval repeats after a fixed wall-clock duration.
type Interval struct {
	Hours   int
	Minutes int
}

// NewInterval validates and builds an Interval. Zero is rejected: it would
// fire on every tick.
func NewInterval(hours, minutes int) (Interval, error) {
	if hours < 0 || minutes < 0 {
		return Interval{}, fmt.Errorf("interval must not be negative (hours=%d, minutes=%d)", hours, minutes)
	}
	if minutes >= 60 {
		hours += minutes / 60
		minutes %= 60
	}
	iv := Interval{Hours: hours, Minutes: minutes}
	if iv.Duration() == 0 {
		return Interval{}, errors.New("interval must be greater than zero")
	}
	return iv, nil
}

// Kind implements Repetition.
func (Interval) Kind() RepetitionKind { return KindInterval }
func (Interval) repetition()          {}

// Duration returns hours*1h + minutes*1m.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Hours)*time.Hour + time.Duration(i.Minutes)*time.Minute
}

func (i Interval) String() string {
	return fmt.Sprintf("every %dh%02dm", i.Hours, i.Minutes)
}

// MessageCount fires after N chat messages were observed.
type MessageCount struct {
	N int
}

// NewMessageCount validates and builds a MessageCount.
func NewMessageCount(n int) (MessageCount, error) {
	if n <= 0 {
		return MessageCount{}, fmt.Errorf("per-messages threshold must be positive, got %d", n)
	}
	return MessageCount{N: n}, nil
}

// Kind implements Repetition.
func (MessageCount) Kind() RepetitionKind { return KindMessageCount }
func (MessageCount) repetition()          {}

func (m MessageCount) String() string {
	return fmt.Sprintf("every %d messages", m.N)
}
