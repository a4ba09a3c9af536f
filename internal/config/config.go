// Package config is the runtime configuration of the sequencer, stored as
// YAML under os.UserConfigDir():
//
//	~/.config/clipseq/config.yaml                        (Linux)
//	~/Library/Application Support/clipseq/config.yaml    (macOS)
//	%AppData%/clipseq/config.yaml                        (Windows)
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	appDir   = "clipseq"
	fileName = "config.yaml"
)

type Config struct {
	Audio     Audio     `yaml:"audio"`
	Scheduler Scheduler `yaml:"scheduler"`
	Transport Transport `yaml:"transport"`
	Metronome Metronome `yaml:"metronome"`
	LogLevel  string    `yaml:"logLevel"`
}

type Audio struct {
	SampleRate int           `yaml:"sampleRate"`
	Buffer     time.Duration `yaml:"buffer"`
	MasterGain float64       `yaml:"masterGain"`
}

type Scheduler struct {
	Interval   time.Duration `yaml:"interval"`
	Horizon    time.Duration `yaml:"horizon"`
	Lead       time.Duration `yaml:"lead"`
	StaleAfter time.Duration `yaml:"staleAfter"`
}

type Transport struct {
	BPM           float64 `yaml:"bpm"`
	Quantization  int     `yaml:"quantization"`
	Swing         float64 `yaml:"swing"`
	TimeSignature [2]int  `yaml:"timeSignature,flow"`
}

type Metronome struct {
	Enabled bool    `yaml:"enabled"`
	Volume  float64 `yaml:"volume"`
}

func Default() *Config {
	return &Config{
		Audio: Audio{
			SampleRate: 48000,
			Buffer:     40 * time.Millisecond,
			MasterGain: 0.8,
		},
		Scheduler: Scheduler{
			Interval:   20 * time.Millisecond,
			Horizon:    100 * time.Millisecond,
			Lead:       50 * time.Millisecond,
			StaleAfter: time.Second,
		},
		Transport: Transport{
			BPM:           120,
			Quantization:  16,
			TimeSignature: [2]int{4, 4},
		},
		Metronome: Metronome{Volume: 0.5},
		LogLevel:  "info",
	}
}

// DefaultPath returns the config file location under os.UserConfigDir().
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, fileName), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Validate()
	return cfg, nil
}

// Save writes c to path, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate clamps every field to its usable range.
func (c *Config) Validate() {
	d := Default()
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	c.Audio.Buffer = clampDur(c.Audio.Buffer, 5*time.Millisecond, time.Second)
	c.Audio.MasterGain = clamp(c.Audio.MasterGain, 0, 1)

	s := &c.Scheduler
	s.Interval = clampDur(s.Interval, time.Millisecond, 200*time.Millisecond)
	s.Horizon = clampDur(s.Horizon, s.Interval, 2*time.Second)
	s.Lead = clampDur(s.Lead, 0, s.Horizon)
	s.StaleAfter = clampDur(s.StaleAfter, 100*time.Millisecond, time.Minute)

	t := &c.Transport
	t.BPM = clamp(t.BPM, 60, 200)
	if t.Quantization < 1 {
		t.Quantization = 1
	}
	if t.Quantization > 64 {
		t.Quantization = 64
	}
	t.Swing = clamp(t.Swing, 0, 100)
	if t.TimeSignature[0] < 1 || t.TimeSignature[1] < 1 {
		t.TimeSignature = d.Transport.TimeSignature
	}

	c.Metronome.Volume = clamp(c.Metronome.Volume, 0, 1)
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		c.LogLevel = d.LogLevel
	}
}

// Level returns the configured log level.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
