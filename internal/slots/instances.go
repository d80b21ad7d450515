package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tablebook/internal/model"
)

// Instance is a slot definition resolved onto one calendar date.
type Instance struct {
	SlotID       string    `json:"slot_id"`
	SlotTime     string    `json:"slot_time"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Capacity     int       `json:"capacity"`
	MaxPartySize int       `json:"max_party_size"`
}

// InstancesForDate expands the slots active on date's weekday into concrete
// instants in date's location. A slot whose end is not after its start ends on
// the following day.
func InstancesForDate(defs []model.TimeSlot, date time.Time) ([]Instance, error) {
	day := model.WeekdayOf(date)
	var out []Instance

	for _, s := range defs {
		if !s.HasDay(day) {
			continue
		}

		start, err := parseTimeOnDate(date, s.TimeFrom)
		if err != nil {
			return nil, fmt.Errorf("slot %s: parse start time: %w", s.ID, err)
		}
		end, err := parseTimeOnDate(date, s.TimeTo)
		if err != nil {
			return nil, fmt.Errorf("slot %s: parse end time: %w", s.ID, err)
		}
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}

		out = append(out, Instance{
			SlotID:       s.ID,
			SlotTime:     s.TimeFrom,
			Start:        start,
			End:          end,
			Capacity:     s.Capacity,
			MaxPartySize: s.MaxPartySize,
		})
	}
	return out, nil
}

// FindInstance returns the instance starting at slotTime.
func FindInstance(instances []Instance, slotTime string) (Instance, bool) {
	for _, in := range instances {
		if in.SlotTime == slotTime {
			return in, true
		}
	}
	return Instance{}, false
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(model.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return d, nil
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}
