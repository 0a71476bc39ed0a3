package tenant

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/chronobot/internal/clock"
)

// Document is the YAML form of a tenant, produced by whatever edits tenant
// configuration (the conversational UI, an operator, a repository of files).
type Document struct {
	ChatID    int64                        `yaml:"chat_id"`
	Title     string                       `yaml:"title"`
	TimeZone  string                       `yaml:"timezone"`
	Location  *LocationDoc                 `yaml:"location"`
	Broadcast []BroadcastDoc               `yaml:"broadcasts"`
	Deletion  map[string]DeletionPolicyDoc `yaml:"deletion"`
}

// LocationDoc is used when a tenant shares a location instead of a zone name.
type LocationDoc struct {
	Longitude float64 `yaml:"longitude"`
}

// BroadcastDoc is one item of Document.Broadcast.
type BroadcastDoc struct {
	Enabled     *bool         `yaml:"enabled"`
	Text        string        `yaml:"text"`
	Media       *Media        `yaml:"media"`
	Buttons     [][]URLButton `yaml:"buttons"`
	StartTime   string        `yaml:"start_time"`
	Every       *IntervalDoc  `yaml:"every"`
	PerMessages *int          `yaml:"per_messages"`
	DaysOfWeek  []int         `yaml:"days_of_week"`
	DaysOfMonth []int         `yaml:"days_of_month"`
	Slot        *SlotDoc      `yaml:"slot"`
	StartDate   string        `yaml:"start_date"`
	EndDate     string        `yaml:"end_date"`
	Pin         bool          `yaml:"pin"`
	DeleteLast  bool          `yaml:"delete_last"`
	Category    string        `yaml:"category"`
}

// IntervalDoc is the YAML form of Interval.
type IntervalDoc struct {
	Hours   int `yaml:"hours"`
	Minutes int `yaml:"minutes"`
}

// SlotDoc is the YAML form of Slot.
type SlotDoc struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// DeletionPolicyDoc is the YAML form of DeletionPolicy. TTL is a Go duration
// string ("0s", "90s", "10m", "24h").
type DeletionPolicyDoc struct {
	Enabled *bool  `yaml:"enabled"`
	TTL     string `yaml:"ttl"`
}

// ParseDocument decodes and validates a YAML tenant document. It returns the
// tenant together with every validation error found; a non-empty error
// slice means the document must not be imported.
func ParseDocument(data []byte) (*Tenant, []error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, []error{fmt.Errorf("decode tenant document: %w", err)}
	}
	return doc.ToTenant()
}

// ToTenant converts a decoded document into the typed model.
func (d *Document) ToTenant() (*Tenant, []error) {
	var errs []error

	if d.ChatID == 0 {
		errs = append(errs, errors.New("chat_id is required"))
	}

	zone := strings.TrimSpace(d.TimeZone)
	switch {
	case zone != "" && d.Location != nil:
		errs = append(errs, errors.New("timezone and location are mutually exclusive"))
	case zone != "":
		if _, err := clock.Lookup(zone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	case d.Location != nil:
		if d.Location.Longitude < -180 || d.Location.Longitude > 180 {
			errs = append(errs, fmt.Errorf("location.longitude %v out of range", d.Location.Longitude))
		} else {
			zone = clock.LabelFromLongitude(d.Location.Longitude)
		}
	}

	t := &Tenant{
		ChatID:   d.ChatID,
		Title:    d.Title,
		TimeZone: zone,
		Policies: Policies{},
	}

	for i, bd := range d.Broadcast {
		item, itemErrs := bd.toItem(i)
		for _, err := range itemErrs {
			errs = append(errs, fmt.Errorf("broadcasts[%d]: %w", i, err))
		}
		t.Broadcasts = append(t.Broadcasts, item)
	}

	for category, pd := range d.Deletion {
		if strings.TrimSpace(category) == "" {
			errs = append(errs, errors.New("deletion: empty category"))
			continue
		}
		pol, err := pd.toPolicy()
		if err != nil {
			errs = append(errs, fmt.Errorf("deletion[%s]: %w", category, err))
			continue
		}
		t.Policies[category] = pol
	}

	return t, errs
}

func (bd BroadcastDoc) toItem(index int) (BroadcastItem, []error) {
	var errs []error
	item := BroadcastItem{
		Index:      index,
		Enabled:    bd.Enabled == nil || *bd.Enabled,
		Content:    Content{Text: bd.Text, Media: bd.Media, Buttons: bd.Buttons},
		Pin:        bd.Pin,
		DeleteLast: bd.DeleteLast,
		Category:   strings.TrimSpace(bd.Category),
	}

	if strings.TrimSpace(bd.Text) == "" && bd.Media == nil {
		errs = append(errs, errors.New("text or media is required"))
	}
	if bd.Media != nil {
		if err := validateMedia(bd.Media); err != nil {
			errs = append(errs, err)
		}
	}
	for r, row := range bd.Buttons {
		for c, b := range row {
			if b.Text == "" || b.URL == "" {
				errs = append(errs, fmt.Errorf("buttons[%d][%d]: text and url are required", r, c))
			}
		}
	}

	if bd.StartTime != "" {
		st, err := ParseTimeOfDay(bd.StartTime)
		if err != nil {
			errs = append(errs, err)
		} else {
			item.StartTime = &st
		}
	}

	switch {
	case bd.Every != nil && bd.PerMessages != nil:
		errs = append(errs, ErrBothRepetitions)
	case bd.Every != nil:
		iv, err := NewInterval(bd.Every.Hours, bd.Every.Minutes)
		if err != nil {
			errs = append(errs, err)
		} else {
			item.Repetition = iv
		}
	case bd.PerMessages != nil:
		mc, err := NewMessageCount(*bd.PerMessages)
		if err != nil {
			errs = append(errs, err)
		} else {
			item.Repetition = mc
		}
	}

	if item.StartTime == nil && item.Repetition == nil && len(errs) == 0 {
		errs = append(errs, errors.New("start_time or a repetition (every / per_messages) is required"))
	}

	for _, d := range bd.DaysOfWeek {
		if d < 0 || d > 6 {
			errs = append(errs, fmt.Errorf("days_of_week: %d out of range 0..6", d))
		}
	}
	item.DaysOfWeek = NewDaySet(bd.DaysOfWeek...)

	for _, d := range bd.DaysOfMonth {
		if d < 1 || d > 31 {
			errs = append(errs, fmt.Errorf("days_of_month: %d out of range 1..31", d))
		}
	}
	item.DaysOfMonth = NewDaySet(bd.DaysOfMonth...)

	if bd.Slot != nil {
		s := Slot{FromHour: bd.Slot.From, ToHour: bd.Slot.To}
		switch {
		case s.FromHour < 0 || s.FromHour > 23 || s.ToHour < 0 || s.ToHour > 23:
			errs = append(errs, fmt.Errorf("slot: hours must be in 0..23 (from=%d, to=%d)", s.FromHour, s.ToHour))
		case s.FromHour == s.ToHour:
			errs = append(errs, fmt.Errorf("slot: empty window (from == to == %d)", s.FromHour))
		default:
			item.Slot = &s
		}
	}

	var err error
	if bd.StartDate != "" {
		if item.StartDate, err = clock.ParseDate(bd.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("start_date: %w", err))
		}
	}
	if bd.EndDate != "" {
		if item.EndDate, err = clock.ParseDate(bd.EndDate); err != nil {
			errs = append(errs, fmt.Errorf("end_date: %w", err))
		}
	}
	if !item.StartDate.IsZero() && !item.EndDate.IsZero() && item.EndDate.Compare(item.StartDate) < 0 {
		errs = append(errs, fmt.Errorf("end_date %s is before start_date %s", item.EndDate, item.StartDate))
	}

	return item, errs
}

func validateMedia(m *Media) error {
	switch m.Kind {
	case MediaPhoto, MediaVideo, MediaAnimation, MediaDocument:
	default:
		return fmt.Errorf("media: unknown kind %q", m.Kind)
	}
	if (m.FileID == "") == (m.URL == "") {
		return errors.New("media: exactly one of file_id and url is required")
	}
	return nil
}

func (pd DeletionPolicyDoc) toPolicy() (DeletionPolicy, error) {
	pol := DeletionPolicy{Enabled: pd.Enabled == nil || *pd.Enabled}
	if pd.TTL == "" {
		return pol, nil
	}
	ttl, err := time.ParseDuration(pd.TTL)
	if err != nil {
		return DeletionPolicy{}, fmt.Errorf("ttl: %w", err)
	}
	if ttl < 0 {
		return DeletionPolicy{}, fmt.Errorf("ttl must not be negative, got %s", pd.TTL)
	}
	pol.TTL = ttl
	return pol, nil
}
