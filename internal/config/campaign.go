package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Campaign is the operator-edited campaign definition: the sales script
// the advisor follows, the calling window, and dispatch pacing.
type Campaign struct {
	Name   string `yaml:"name"`
	Script string `yaml:"script"`

	// Fixed lines used when the response engine is unavailable.
	FallbackGreeting string `yaml:"fallbackGreeting"`
	FallbackResponse string `yaml:"fallbackResponse"`
	ClosingLine      string `yaml:"closingLine"`

	Window struct {
		Days      []string `yaml:"days"`
		StartHour int      `yaml:"startHour"`
		EndHour   int      `yaml:"endHour"`
		Timezone  string   `yaml:"timezone"`
	} `yaml:"window"`

	BatchSize       int           `yaml:"batchSize"`
	InterCallDelay  time.Duration `yaml:"interCallDelay"`
	MaxCallDuration time.Duration `yaml:"maxCallDuration"`
}

// LoadCampaign reads and validates a campaign YAML file.
func LoadCampaign(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign file: %w", err)
	}

	campaign := &Campaign{}
	if err := yaml.Unmarshal(data, campaign); err != nil {
		return nil, fmt.Errorf("parse campaign file: %w", err)
	}
	campaign.applyDefaults()

	if campaign.Script == "" {
		return nil, fmt.Errorf("campaign script is required")
	}
	if campaign.Window.StartHour < 0 || campaign.Window.EndHour > 24 ||
		campaign.Window.StartHour >= campaign.Window.EndHour {
		return nil, fmt.Errorf("invalid calling window %d-%d", campaign.Window.StartHour, campaign.Window.EndHour)
	}
	for _, day := range campaign.Window.Days {
		if _, err := ParseWeekday(day); err != nil {
			return nil, err
		}
	}

	return campaign, nil
}

func (c *Campaign) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if len(c.Window.Days) == 0 {
		c.Window.Days = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	}
	if c.Window.StartHour == 0 && c.Window.EndHour == 0 {
		c.Window.StartHour = 9
		c.Window.EndHour = 18
	}
	if c.Window.Timezone == "" {
		c.Window.Timezone = "Europe/Madrid"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.InterCallDelay <= 0 {
		c.InterCallDelay = 20 * time.Second
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 10 * time.Minute
	}
	if c.FallbackGreeting == "" {
		c.FallbackGreeting = "Hola, buenos días. Le llamo de Enerlux Soluciones. ¿Tiene un momento para hablar de su factura de energía?"
	}
	if c.FallbackResponse == "" {
		c.FallbackResponse = "Entiendo. ¿Le parece si le explico brevemente nuestra oferta de electricidad y gas?"
	}
	if c.ClosingLine == "" {
		c.ClosingLine = "Muchas gracias por su tiempo. Que tenga un buen día."
	}
}

// Weekdays returns the parsed calling-window weekdays.
func (c *Campaign) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, len(c.Window.Days))
	for _, raw := range c.Window.Days {
		if day, err := ParseWeekday(raw); err == nil {
			days = append(days, day)
		}
	}
	return days
}

// Location resolves the calling-window timezone, falling back to UTC.
func (c *Campaign) Location() *time.Location {
	loc, err := time.LoadLocation(c.Window.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseWeekday maps an English weekday name to time.Weekday.
func ParseWeekday(raw string) (time.Weekday, error) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if day.String() == raw {
			return day, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", raw)
}
