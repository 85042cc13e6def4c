// Package config loads the handset daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/yeaphone/handset/display"
	"github.com/yeaphone/handset/input"
	"github.com/yeaphone/handset/mainloop"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Durations are Go duration strings,
// e.g. "10ms".
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Display DisplayConfig `yaml:"display"`
	Input   InputConfig   `yaml:"input"`
	Metrics MetricsConfig `yaml:"metrics"`
	Loop    LoopConfig    `yaml:"loop"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type LoopConfig struct {
	TimerResolution time.Duration `yaml:"timer_resolution"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	InitialSlots    int           `yaml:"initial_slots"`
	// MaxSlots bounds the event table, zero for no bound.
	MaxSlots int `yaml:"max_slots"`
	// LatencyMetrics enables callback latency sampling.
	LatencyMetrics bool `yaml:"latency_metrics"`
}

type DisplayConfig struct {
	// ControlDir is the display driver's control attribute directory.
	ControlDir  string        `yaml:"control_dir"`
	RingIcon    string        `yaml:"ring_icon"`
	Text        string        `yaml:"text"`
	// Ringtone is uploaded at startup when set, see display.ReadRingtone.
	Ringtone       string `yaml:"ringtone"`
	RingtoneVolume int    `yaml:"ringtone_volume"`
	DateDelay   time.Duration `yaml:"date_delay"`
	Enabled     bool          `yaml:"enabled"`
	InvertedLED bool          `yaml:"inverted_led"`
}

type InputConfig struct {
	// Device is the keypad's evdev node, e.g. /dev/input/event0.
	Device    string        `yaml:"device"`
	LongPress time.Duration `yaml:"long_press"`
	Enabled   bool          `yaml:"enabled"`
	// Grab takes the device exclusively so keys do not reach the console.
	Grab bool `yaml:"grab"`
}

type MetricsConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: logiface.LevelInformational.String()},
		Loop: LoopConfig{
			TimerResolution: mainloop.DefaultTimerResolution,
			IdleTimeout:     mainloop.DefaultIdleTimeout,
			InitialSlots:    mainloop.DefaultInitialSlots,
		},
		Display: DisplayConfig{
			RingIcon:  display.DefaultRingIcon,
			DateDelay: display.DefaultDateDelay,
		},
		Input: InputConfig{
			LongPress: input.DefaultLongPress,
			Grab:      true,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.decode(b); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(b); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Loop.TimerResolution < 0 {
		errs = append(errs, fmt.Errorf("loop.timer_resolution: negative duration %s", c.Loop.TimerResolution))
	}
	if c.Loop.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("loop.idle_timeout: must be positive, got %s", c.Loop.IdleTimeout))
	}
	if c.Loop.InitialSlots < 0 {
		errs = append(errs, fmt.Errorf("loop.initial_slots: negative value %d", c.Loop.InitialSlots))
	}
	if c.Loop.MaxSlots < 0 {
		errs = append(errs, fmt.Errorf("loop.max_slots: negative value %d", c.Loop.MaxSlots))
	}
	if c.Display.Enabled && c.Display.ControlDir == "" {
		errs = append(errs, errors.New("display.control_dir: required when the display is enabled"))
	}
	if c.Display.DateDelay < 0 {
		errs = append(errs, fmt.Errorf("display.date_delay: negative duration %s", c.Display.DateDelay))
	}
	if c.Display.RingtoneVolume < 0 || c.Display.RingtoneVolume > 255 {
		errs = append(errs, fmt.Errorf("display.ringtone_volume: out of range 0-255: %d", c.Display.RingtoneVolume))
	}
	if c.Input.Enabled && c.Input.Device == "" {
		errs = append(errs, errors.New("input.device: required when input is enabled"))
	}
	if c.Input.LongPress < 0 {
		errs = append(errs, fmt.Errorf("input.long_press: negative duration %s", c.Input.LongPress))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr: required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// LoopOptions converts the loop section. The logger is added by the caller.
func (c *Config) LoopOptions() []mainloop.LoopOption {
	return []mainloop.LoopOption{
		mainloop.WithTimerResolution(c.Loop.TimerResolution),
		mainloop.WithIdleTimeout(c.Loop.IdleTimeout),
		mainloop.WithInitialSlots(c.Loop.InitialSlots),
		mainloop.WithMaxSlots(c.Loop.MaxSlots),
		mainloop.WithMetrics(c.Loop.LatencyMetrics),
	}
}

func (c *Config) DisplayOptions() []display.Option {
	return []display.Option{
		display.WithDateDelay(c.Display.DateDelay),
		display.WithInvertedLED(c.Display.InvertedLED),
		display.WithRingIcon(c.Display.RingIcon),
	}
}

func (c *Config) InputOptions() []input.Option {
	return []input.Option{input.WithLongPress(c.Input.LongPress)}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseLevel parses a syslog keyword as printed by logiface.Level, or one of
// the common aliases "error", "warn" and "information".
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	case "emerg", "emergency":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit", "critical":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "info", "information", "informational":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("log.level: unknown level %q", s)
	}
}
