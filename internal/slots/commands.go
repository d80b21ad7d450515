package slots

import (
	"fmt"

	"tablebook/internal/model"
)

// Command is one field edit of a slot.
type Command interface {
	target() string
	apply(*model.TimeSlot) error
}

type SetTimeFrom struct {
	SlotID string
	Value  string
}

type SetTimeTo struct {
	SlotID string
	Value  string
}

type SetCapacity struct {
	SlotID string
	Value  int
}

type SetMaxPartySize struct {
	SlotID string
	Value  int
}

// ToggleDay adds or removes one weekday.
type ToggleDay struct {
	SlotID string
	Day    model.Weekday
}

// ApplyToAllDays activates the slot on every weekday.
type ApplyToAllDays struct {
	SlotID string
}

func (c SetTimeFrom) target() string     { return c.SlotID }
func (c SetTimeTo) target() string       { return c.SlotID }
func (c SetCapacity) target() string     { return c.SlotID }
func (c SetMaxPartySize) target() string { return c.SlotID }
func (c ToggleDay) target() string       { return c.SlotID }
func (c ApplyToAllDays) target() string  { return c.SlotID }

func (c SetTimeFrom) apply(s *model.TimeSlot) error {
	if _, err := model.ParseClock(c.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	s.TimeFrom = c.Value
	return nil
}

func (c SetTimeTo) apply(s *model.TimeSlot) error {
	if _, err := model.ParseClock(c.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	s.TimeTo = c.Value
	return nil
}

func (c SetCapacity) apply(s *model.TimeSlot) error {
	if c.Value < 1 {
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalidSlot)
	}
	s.Capacity = c.Value
	return nil
}

func (c SetMaxPartySize) apply(s *model.TimeSlot) error {
	if c.Value < 1 {
		return fmt.Errorf("%w: max party size must be at least 1", ErrInvalidSlot)
	}
	s.MaxPartySize = c.Value
	return nil
}

func (c ToggleDay) apply(s *model.TimeSlot) error {
	if !c.Day.Valid() {
		return fmt.Errorf("%w: unknown day %q", ErrInvalidSlot, c.Day)
	}
	if s.HasDay(c.Day) {
		kept := s.Days[:0]
		for _, d := range s.Days {
			if d != c.Day {
				kept = append(kept, d)
			}
		}
		s.Days = kept
		return nil
	}
	s.Days = model.NormalizeDays(append(s.Days, c.Day))
	return nil
}

func (c ApplyToAllDays) apply(s *model.TimeSlot) error {
	s.Days = append([]model.Weekday(nil), model.AllWeekdays...)
	return nil
}
