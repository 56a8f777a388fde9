// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package config loads the settings of frame loops.
// Settings come from a TOML file, then from .env files and
// finally from the process environment, each overriding
// the previous one.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/frame/swapchain"
)

// EnvPrefix is the prefix of every environment variable
// that Load reads.
const EnvPrefix = "FRAME_"

// Config is the configuration of a frame loop.
type Config struct {
	Driver    string    `toml:"driver"`
	Swapchain Swapchain `toml:"swapchain"`
	Frames    int       `toml:"frames"`
	LogLevel  string    `toml:"log_level"`
	Heap      Heap      `toml:"heap"`
}

// Swapchain is the swapchain section of a Config.
// Formats and present modes are named as gputypes names
// them, ignoring case.
type Swapchain struct {
	Type        string `toml:"type"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	ImageCount  int    `toml:"image_count"`
	ColorFormat string `toml:"color_format"`
	// DepthFormat may be empty or "none" to disable depth.
	DepthFormat string `toml:"depth_format"`
	PresentMode string `toml:"present_mode"`
}

// Heap is the descriptor heap section of a Config.
// It sets the capacity of command buffers' heaps.
type Heap struct {
	General int `toml:"general"`
	Sampler int `toml:"sampler"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Driver: "soft",
		Swapchain: Swapchain{
			Type:        swapchain.TVirtual.String(),
			Width:       1280,
			Height:      720,
			ImageCount:  3,
			ColorFormat: gputypes.TextureFormatBGRA8Unorm.String(),
			DepthFormat: gputypes.TextureFormatDepth32Float.String(),
			PresentMode: gputypes.PresentModeFifo.String(),
		},
		Frames:   60,
		LogLevel: logrus.InfoLevel.String(),
		Heap:     Heap{General: 64, Sampler: 16},
	}
}

// Load loads a configuration.
// It starts from Default, decodes the TOML file at path
// (if path is not empty) and then applies the FRAME_*
// variables found in the given .env files and in the
// environment. Variables already set in the environment
// take precedence over .env files. Missing .env files are
// ignored.
// The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cfg.decode(b); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	for _, f := range envFiles {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode decodes TOML over cfg.
// Unknown keys are errors.
func (cfg *Config) decode(b []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Encode encodes cfg as TOML.
func (cfg *Config) Encode() ([]byte, error) { return toml.Marshal(cfg) }

// ApplyEnv overrides the fields of cfg whose variables
// lookup finds.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"DRIVER", &cfg.Driver},
		{"SWAPCHAIN_TYPE", &cfg.Swapchain.Type},
		{"COLOR_FORMAT", &cfg.Swapchain.ColorFormat},
		{"DEPTH_FORMAT", &cfg.Swapchain.DepthFormat},
		{"PRESENT_MODE", &cfg.Swapchain.PresentMode},
		{"LOG_LEVEL", &cfg.LogLevel},
	}
	for _, s := range strs {
		if v, ok := lookup(EnvPrefix + s.name); ok {
			*s.dst = v
		}
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"WIDTH", &cfg.Swapchain.Width},
		{"HEIGHT", &cfg.Swapchain.Height},
		{"IMAGE_COUNT", &cfg.Swapchain.ImageCount},
		{"FRAMES", &cfg.Frames},
		{"HEAP_GENERAL", &cfg.Heap.General},
		{"HEAP_SAMPLER", &cfg.Heap.Sampler},
	}
	for _, x := range ints {
		v, ok := lookup(EnvPrefix + x.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, x.name, err)
		}
		*x.dst = n
	}
	return nil
}

// Validate checks that every name in cfg is known and
// that every size is positive.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Driver == "" {
		errs = append(errs, errors.New("config: empty driver name"))
	}
	if _, err := cfg.SwapchainType(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.ColorFormat(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.DepthFormat(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.PresentMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Level(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	for _, x := range [...]struct {
		name string
		n    int
	}{
		{"width", cfg.Swapchain.Width},
		{"height", cfg.Swapchain.Height},
		{"image_count", cfg.Swapchain.ImageCount},
		{"frames", cfg.Frames},
	} {
		if x.n <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive (got %d)", x.name, x.n))
		}
	}
	if cfg.Heap.General < 0 || cfg.Heap.Sampler < 0 {
		errs = append(errs, fmt.Errorf("config: negative heap size %d/%d", cfg.Heap.General, cfg.Heap.Sampler))
	}
	return errors.Join(errs...)
}

// SwapchainType parses cfg.Swapchain.Type.
func (cfg *Config) SwapchainType() (swapchain.Type, error) {
	return swapchain.ParseType(strings.ToLower(cfg.Swapchain.Type))
}

// ColorFormat parses cfg.Swapchain.ColorFormat.
// It must name a color format.
func (cfg *Config) ColorFormat() (gputypes.TextureFormat, error) {
	f, err := ParseFormat(cfg.Swapchain.ColorFormat)
	if err != nil {
		return f, err
	}
	if f == gputypes.TextureFormatUndefined || f.IsDepthStencil() {
		return f, fmt.Errorf("config: %s is not a color format", f)
	}
	return f, nil
}

// DepthFormat parses cfg.Swapchain.DepthFormat.
// It returns gputypes.TextureFormatUndefined when depth is
// disabled.
func (cfg *Config) DepthFormat() (gputypes.TextureFormat, error) {
	switch s := strings.ToLower(cfg.Swapchain.DepthFormat); s {
	case "", "none":
		return gputypes.TextureFormatUndefined, nil
	}
	f, err := ParseFormat(cfg.Swapchain.DepthFormat)
	if err != nil {
		return f, err
	}
	if !f.HasDepth() {
		return f, fmt.Errorf("config: %s is not a depth format", f)
	}
	return f, nil
}

// PresentMode parses cfg.Swapchain.PresentMode.
func (cfg *Config) PresentMode() (gputypes.PresentMode, error) {
	return ParsePresentMode(cfg.Swapchain.PresentMode)
}

// Level parses cfg.LogLevel.
func (cfg *Config) Level() (logrus.Level, error) { return logrus.ParseLevel(cfg.LogLevel) }

// SwapchainInfo converts the swapchain section into a
// swapchain.Info.
// The caller must set the field that the swapchain type
// requires (Queue, Surface or Compositor).
func (cfg *Config) SwapchainInfo() (*swapchain.Info, error) {
	typ, err := cfg.SwapchainType()
	if err != nil {
		return nil, err
	}
	color, err := cfg.ColorFormat()
	if err != nil {
		return nil, err
	}
	depth, err := cfg.DepthFormat()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.PresentMode()
	if err != nil {
		return nil, err
	}
	return &swapchain.Info{
		Type:        typ,
		Width:       cfg.Swapchain.Width,
		Height:      cfg.Swapchain.Height,
		ColorFormat: color,
		DepthFormat: depth,
		ImageCount:  cfg.Swapchain.ImageCount,
		PresentMode: mode,
		Samples:     1,
	}, nil
}

// Last texture format that gputypes defines.
const lastFormat = gputypes.TextureFormatASTC12x12UnormSrgb

// ParseFormat parses the name of a texture format.
func ParseFormat(s string) (gputypes.TextureFormat, error) {
	for f := gputypes.TextureFormatUndefined; f <= lastFormat; f++ {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("config: unknown texture format %q", s)
}

// ParsePresentMode parses the name of a present mode.
func ParsePresentMode(s string) (gputypes.PresentMode, error) {
	for _, m := range [...]gputypes.PresentMode{
		gputypes.PresentModeFifo,
		gputypes.PresentModeFifoRelaxed,
		gputypes.PresentModeImmediate,
		gputypes.PresentModeMailbox,
	} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return gputypes.PresentModeUndefined, fmt.Errorf("config: unknown present mode %q", s)
}
