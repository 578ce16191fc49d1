// Package config loads and validates the YAML configuration: transport
// addresses, the sensor roster, and the audio/lighting/MIDI mappings
// each sensor drives. Validation failures are the one fatal error
// class; everything after startup recovers locally.
package config

import (
	"fmt"
	"os"

	"github.com/lestrrat-go/strftime"
	"gopkg.in/yaml.v3"

	"github.com/schuyler/corazonn/internal/domain"
)

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultListen        = ":9000"
	DefaultRecordPattern = "corazonn-%Y%m%d-%H%M%S.jsonl"
	DefaultBulbPort      = 55443
)

// Config is the full configuration surface.
type Config struct {
	OSC     OSC      `yaml:"osc"`
	Sensors []Sensor `yaml:"sensors"`
	Audio   Audio    `yaml:"audio"`
	Lights  []Light  `yaml:"lights"`
	MIDI    MIDI     `yaml:"midi"`
	Record  Record   `yaml:"record"`
	Replay  Replay   `yaml:"replay"`
}

// OSC holds transport addresses.
type OSC struct {
	Listen      string   `yaml:"listen"`
	Announce    bool     `yaml:"announce"`
	BeatTargets []string `yaml:"beat_targets"`
}

// Sensor maps one sensor id onto its downstream identity: the audio
// sample it triggers, its lighting hue, and its MIDI note.
type Sensor struct {
	ID     int     `yaml:"id"`
	Name   string  `yaml:"name"`
	Sample string  `yaml:"sample"`
	Hue    float64 `yaml:"hue"`
	Note   int     `yaml:"note"`
}

// Audio toggles the sample mixer.
type Audio struct {
	Enabled bool `yaml:"enabled"`
}

// Light names one LAN bulb.
type Light struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MIDI configures the beat output port and control surface input.
type MIDI struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Record configures sample-stream capture. An empty Dir disables it.
type Record struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// Replay names a capture file to feed the virtual channels. Empty
// disables replay.
type Replay struct {
	File string `yaml:"file"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: OSC
// ingress on DefaultListen, no beat targets, everything else off.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.OSC.Listen == "" {
		c.OSC.Listen = DefaultListen
	}
	if c.Record.Pattern == "" {
		c.Record.Pattern = DefaultRecordPattern
	}
	for i := range c.Lights {
		if c.Lights[i].Port == 0 {
			c.Lights[i].Port = DefaultBulbPort
		}
	}
	for i := range c.Sensors {
		if c.Sensors[i].Name == "" {
			c.Sensors[i].Name = fmt.Sprintf("sensor-%d", c.Sensors[i].ID)
		}
	}
}

// Validate enforces the startup invariants. Any violation aborts init.
func (c *Config) Validate() error {
	seen := make(map[int]bool)
	for _, s := range c.Sensors {
		if !domain.SensorID(s.ID).Valid() {
			return fmt.Errorf("%w: sensor id %d out of range", domain.ErrInvalidConfig, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate sensor id %d", domain.ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Hue < 0 || s.Hue >= 360 {
			return fmt.Errorf("%w: sensor %d hue %.1f outside [0,360)", domain.ErrInvalidConfig, s.ID, s.Hue)
		}
		if s.Note < 0 || s.Note > 127 {
			return fmt.Errorf("%w: sensor %d note %d outside [0,127]", domain.ErrInvalidConfig, s.ID, s.Note)
		}
	}

	for _, t := range c.OSC.BeatTargets {
		if t == "" {
			return fmt.Errorf("%w: empty beat target", domain.ErrInvalidConfig)
		}
	}

	for _, l := range c.Lights {
		if l.Host == "" {
			return fmt.Errorf("%w: light with empty host", domain.ErrInvalidConfig)
		}
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("%w: light %s port %d", domain.ErrInvalidConfig, l.Host, l.Port)
		}
	}

	if _, err := strftime.New(c.Record.Pattern); err != nil {
		return fmt.Errorf("%w: record pattern %q: %v", domain.ErrInvalidConfig, c.Record.Pattern, err)
	}

	return nil
}

// SensorByID returns the sensor entry for id, or nil when the id is
// unconfigured. Replayed channels inherit the configuration of the
// physical sensor they mirror.
func (c *Config) SensorByID(id domain.SensorID) *Sensor {
	lookup := int(id)
	if id.Virtual() {
		lookup = int(id) - domain.NumPhysical
	}
	for i := range c.Sensors {
		if c.Sensors[i].ID == lookup {
			return &c.Sensors[i]
		}
	}
	return nil
}
