package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tablebook/internal/model"
)

// BusinessesConfig is the root of businesses.yaml, used to seed businesses
// and their initial slot lists.
type BusinessesConfig struct {
	Businesses []model.Business `yaml:"businesses"`
	Defaults   struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"defaults"`
}

// LoadBusinessesConfig loads and validates businesses configuration from YAML file.
func LoadBusinessesConfig(path string) (*BusinessesConfig, error) {
	if path == "" {
		path = "configs/businesses.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read businesses config: %w", err)
	}

	var cfg BusinessesConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse businesses config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate businesses config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *BusinessesConfig) Validate() error {
	ids := make(map[string]bool)

	for i, b := range c.Businesses {
		if b.ID == "" {
			return fmt.Errorf("business[%d]: id is required", i)
		}
		if ids[b.ID] {
			return fmt.Errorf("business[%d]: duplicate id '%s'", i, b.ID)
		}
		ids[b.ID] = true

		if b.Name == "" {
			return fmt.Errorf("business[%d]: name is required", i)
		}
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("business[%d]: unknown timezone '%s'", i, b.Timezone)
		}
		starts := make(map[string]bool)
		for j, s := range b.TimeSlots {
			if err := s.Check(); err != nil {
				return fmt.Errorf("business[%d].time_slots[%d]: %v", i, j, err)
			}
			for _, d := range s.Days {
				key := s.TimeFrom + " " + string(d)
				if starts[key] {
					return fmt.Errorf("business[%d].time_slots[%d]: another slot starts at %s on %s", i, j, s.TimeFrom, d)
				}
				starts[key] = true
			}
		}
		if b.AcceptsDirectReservations && len(b.TimeSlots) == 0 {
			return fmt.Errorf("business[%d]: accepts_direct_reservations requires time_slots", i)
		}
	}
	return nil
}

func (c *BusinessesConfig) applyDefaults() {
	if c.Defaults.Timezone == "" {
		c.Defaults.Timezone = "UTC"
	}
	for i := range c.Businesses {
		b := &c.Businesses[i]
		if b.Timezone == "" {
			b.Timezone = c.Defaults.Timezone
		}
		for j := range b.TimeSlots {
			s := &b.TimeSlots[j]
			if s.ID == "" {
				s.ID = model.NewSlotID()
			}
			if s.Days == nil {
				s.Days = append([]model.Weekday(nil), model.AllWeekdays...)
			}
			if s.MaxPartySize == 0 {
				s.MaxPartySize = model.DefaultMaxPartySize
			}
		}
	}
}

// GetBusinessByID returns business config by ID.
func (c *BusinessesConfig) GetBusinessByID(id string) *model.Business {
	for i := range c.Businesses {
		if c.Businesses[i].ID == id {
			return &c.Businesses[i]
		}
	}
	return nil
}
