package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jregier/n1sim/internal/dropout"
	"github.com/jregier/n1sim/internal/study"
)

const (
	DefaultDaysPerPeriod = 14
	DefaultPatients      = 3
	DefaultHazard        = 0.01
	DefaultVacation      = 7
)

// Config is one run description, usually loaded from a YAML file.
type Config struct {
	Params        string       `yaml:"params"`
	Design        study.Design `yaml:"study_design"`
	DaysPerPeriod int          `yaml:"days_per_period"`
	Patients      int          `yaml:"n_patients"`
	Seed          int64        `yaml:"seed"`
	StartDate     string       `yaml:"start_date,omitempty"`
	DropOut       DropOut      `yaml:"drop_out"`
	Workers       int          `yaml:"workers,omitempty"`
}

// DropOut is the drop_out key. It accepts a bare bool (true selects the
// default hazard) or a mapping with hazard/max_days/vacation fields.
type DropOut struct {
	Enabled bool
	Spec    dropout.Spec
}

func (d *DropOut) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("config: drop_out: %w", err)
		}
		d.Enabled = enabled
		d.Spec = dropout.Spec{}
		if enabled {
			d.Spec = dropout.Spec{Hazard: DefaultHazard, Vacation: DefaultVacation}
		}
		return nil
	case yaml.MappingNode:
		if err := value.Decode(&d.Spec); err != nil {
			return fmt.Errorf("config: drop_out: %w", err)
		}
		d.Enabled = d.Spec.Enabled()
		return nil
	default:
		return fmt.Errorf("config: drop_out must be a bool or a mapping")
	}
}

func (d DropOut) MarshalYAML() (any, error) {
	if !d.Enabled {
		return false, nil
	}
	return d.Spec, nil
}

func DefaultConfig() *Config {
	return &Config{
		DaysPerPeriod: DefaultDaysPerPeriod,
		Patients:      DefaultPatients,
	}
}

// Load reads a run config, applying defaults for absent keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Params == "" {
		return fmt.Errorf("config: params path is required")
	}
	if len(c.Design) == 0 {
		return fmt.Errorf("config: study_design is required")
	}
	if c.Patients <= 0 {
		return fmt.Errorf("config: n_patients must be positive, got %d", c.Patients)
	}
	return nil
}

// StartTime parses start_date as 2006-01-02. Zero when unset.
func (c *Config) StartTime() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: start_date: %w", err)
	}
	return ts, nil
}

// DropoutSpec returns the configured dropout spec, nil when disabled.
func (c *Config) DropoutSpec() *dropout.Spec {
	if !c.DropOut.Enabled {
		return nil
	}
	spec := c.DropOut.Spec
	return &spec
}
