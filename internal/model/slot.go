package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday is a lowercase english day name as stored in slot definitions.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// AllWeekdays lists days in display order.
var AllWeekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Defaults for a freshly added slot and for legacy records.
const (
	DefaultTimeFrom     = "18:00"
	DefaultTimeTo       = "20:00"
	DefaultCapacity     = 10
	DefaultMaxPartySize = 7
	legacyDuration      = 2 * 60
)

var ErrInvalidClock = errors.New("invalid HH:mm time")

// WeekdayOf returns the weekday name of t in its own location.
func WeekdayOf(t time.Time) Weekday {
	// time.Sunday == 0
	return AllWeekdays[(int(t.Weekday())+6)%7]
}

// Valid reports whether d is one of the seven known names.
func (d Weekday) Valid() bool {
	for _, w := range AllWeekdays {
		if w == d {
			return true
		}
	}
	return false
}

// TimeSlot is a recurring capacity window of a business.
type TimeSlot struct {
	ID           string    `json:"id" yaml:"id"`
	TimeFrom     string    `json:"timeFrom" yaml:"time_from"`
	TimeTo       string    `json:"timeTo" yaml:"time_to"`
	Capacity     int       `json:"capacity" yaml:"capacity"`
	MaxPartySize int       `json:"maxPartySize" yaml:"max_party_size"`
	Days         []Weekday `json:"days" yaml:"days"`
}

// NewSlotID returns a fresh opaque slot id.
func NewSlotID() string {
	return uuid.NewString()
}

// DefaultSlot builds the slot inserted by the editor's add action.
func DefaultSlot(id string) TimeSlot {
	return TimeSlot{
		ID:           id,
		TimeFrom:     DefaultTimeFrom,
		TimeTo:       DefaultTimeTo,
		Capacity:     DefaultCapacity,
		MaxPartySize: DefaultMaxPartySize,
		Days:         append([]Weekday(nil), AllWeekdays...),
	}
}

// Active reports whether the slot runs on at least one day.
func (s TimeSlot) Active() bool {
	return len(s.Days) > 0
}

// HasDay reports whether the slot runs on d.
func (s TimeSlot) HasDay(d Weekday) bool {
	for _, day := range s.Days {
		if day == d {
			return true
		}
	}
	return false
}

// Clone returns a deep copy with its own days slice.
func (s TimeSlot) Clone() TimeSlot {
	s.Days = append([]Weekday(nil), s.Days...)
	return s
}

// Check validates the slot fields, ignoring the days set.
func (s TimeSlot) Check() error {
	if _, err := ParseClock(s.TimeFrom); err != nil {
		return fmt.Errorf("timeFrom: %w", err)
	}
	if _, err := ParseClock(s.TimeTo); err != nil {
		return fmt.Errorf("timeTo: %w", err)
	}
	if s.TimeFrom == s.TimeTo {
		return fmt.Errorf("timeTo must differ from timeFrom")
	}
	if s.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1")
	}
	if s.MaxPartySize < 1 {
		return fmt.Errorf("maxPartySize must be at least 1")
	}
	for _, d := range s.Days {
		if !d.Valid() {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	return nil
}

// NormalizeDays sorts days into display order and drops duplicates.
func NormalizeDays(days []Weekday) []Weekday {
	out := make([]Weekday, 0, len(days))
	for _, w := range AllWeekdays {
		for _, d := range days {
			if d == w {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// SortSlots orders slots by start time, keeping insertion order for ties.
func SortSlots(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].TimeFrom < slots[j].TimeFrom
	})
}

// ParseClock parses a zero-padded "HH:mm" into minutes after midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes after midnight as "HH:mm", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// legacySlot is the single-start-time shape stored before slots had ranges.
type legacySlot struct {
	ID           string `json:"id"`
	Time         string `json:"time"`
	Capacity     int    `json:"capacity"`
	MaxPartySize *int   `json:"maxPartySize"`
}

func (l legacySlot) migrate(newID func() string) TimeSlot {
	slot := TimeSlot{
		ID:           l.ID,
		TimeFrom:     l.Time,
		Capacity:     l.Capacity,
		MaxPartySize: DefaultMaxPartySize,
		Days:         append([]Weekday(nil), AllWeekdays...),
	}
	if slot.ID == "" {
		slot.ID = newID()
	}
	if l.MaxPartySize != nil {
		slot.MaxPartySize = *l.MaxPartySize
	}
	if start, err := ParseClock(l.Time); err == nil {
		slot.TimeTo = FormatClock(start + legacyDuration)
	}
	return slot
}

// DecodeSlots reads a stored slot list, normalizing legacy records in memory.
// Each element is classified by the fields it carries.
func DecodeSlots(data []byte, newID func() string) ([]TimeSlot, error) {
	if newID == nil {
		newID = NewSlotID
	}
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		return []TimeSlot{}, nil
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	slots := make([]TimeSlot, 0, len(raw))
	for i, fields := range raw {
		elem, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}

		_, hasFrom := fields["timeFrom"]
		_, hasTime := fields["time"]
		switch {
		case hasFrom:
			var s TimeSlot
			if err := json.Unmarshal(elem, &s); err != nil {
				return nil, fmt.Errorf("slot %d: %w", i, err)
			}
			if s.ID == "" {
				s.ID = newID()
			}
			if s.Days == nil {
				s.Days = []Weekday{}
			}
			slots = append(slots, s)
		case hasTime:
			var l legacySlot
			if err := json.Unmarshal(elem, &l); err != nil {
				return nil, fmt.Errorf("slot %d: %w", i, err)
			}
			slots = append(slots, l.migrate(newID))
		default:
			return nil, fmt.Errorf("slot %d: neither timeFrom nor time present", i)
		}
	}
	return slots, nil
}

// EncodeSlots serializes slots in the current shape.
func EncodeSlots(slots []TimeSlot) ([]byte, error) {
	if slots == nil {
		slots = []TimeSlot{}
	}
	return json.Marshal(slots)
}
