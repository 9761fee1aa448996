package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"brake-to-pause/internal/motion"
)

const (
	DefaultPort        = 8420
	DefaultHistoryPath = "brake-to-pause.db"
	DefaultLogLevel    = "info"
	DefaultEventBuffer = 256
)

// Config holds the daemon settings and the preferences new sessions start
// from.
type Config struct {
	Motion      motion.Config
	Port        int
	HistoryPath string
	LogLevel    string
	EventBuffer int
	StaticDir   string
}

// file mirrors the preferences file. Pointer fields distinguish an absent
// key from a false or zero value.
type file struct {
	SpeedThresholdKph   *int  `yaml:"speedThresholdKph"`
	Location            *bool `yaml:"location"`
	ActivityRecognition *bool `yaml:"activityRecognition"`
	Activities          struct {
		InVehicle *bool `yaml:"inVehicle"`
		OnBicycle *bool `yaml:"onBicycle"`
		Running   *bool `yaml:"running"`
		Walking   *bool `yaml:"walking"`
	} `yaml:"activities"`

	Port        int    `yaml:"port"`
	HistoryPath string `yaml:"historyPath"`
	LogLevel    string `yaml:"logLevel"`
	EventBuffer int    `yaml:"eventBuffer"`
	StaticDir   string `yaml:"staticDir"`
}

// Default returns the configuration used when no preferences file exists.
func Default() Config {
	return Config{
		Motion:      motion.DefaultConfig(),
		Port:        DefaultPort,
		HistoryPath: DefaultHistoryPath,
		LogLevel:    DefaultLogLevel,
		EventBuffer: DefaultEventBuffer,
	}
}

// Load reads the preferences file at path and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if cfg, err = Parse(data); err != nil {
				return cfg, err
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes preferences over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if f.SpeedThresholdKph != nil {
		cfg.Motion.SpeedThresholdKph = *f.SpeedThresholdKph
	}
	if f.Location != nil {
		cfg.Motion.UsesLocation = *f.Location
	}
	if f.ActivityRecognition != nil {
		cfg.Motion.UsesActivityRecognition = *f.ActivityRecognition
	}
	setActivity(cfg.Motion.SelectedActivities, motion.InVehicle, f.Activities.InVehicle)
	setActivity(cfg.Motion.SelectedActivities, motion.OnBicycle, f.Activities.OnBicycle)
	setActivity(cfg.Motion.SelectedActivities, motion.Running, f.Activities.Running)
	setActivity(cfg.Motion.SelectedActivities, motion.Walking, f.Activities.Walking)

	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.HistoryPath != "" {
		cfg.HistoryPath = f.HistoryPath
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.EventBuffer != 0 {
		cfg.EventBuffer = f.EventBuffer
	}
	cfg.StaticDir = f.StaticDir

	return cfg, nil
}

func setActivity(set motion.ActivitySet, a motion.ActivityType, v *bool) {
	if v == nil {
		return
	}
	if *v {
		set[a] = true
	} else {
		delete(set, a)
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BTP_PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("BTP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("BTP_SPEED_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BTP_SPEED_THRESHOLD: %w", err)
		}
		cfg.Motion.SpeedThresholdKph = n
	}
	if v := os.Getenv("BTP_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if err := c.Motion.Validate(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("eventBuffer must not be negative: %d", c.EventBuffer)
	}
	return nil
}
