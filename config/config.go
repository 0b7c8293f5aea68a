// Package config loads samrt.toml runtime configuration.
//
// A file only needs the keys it overrides; everything else keeps the value
// from Default. Unknown keys are rejected.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/layout"
)

// FileName is the configuration file Find looks for.
const FileName = "samrt.toml"

// DefaultEntry is the entry export emitted by the samlang wasm backend.
const DefaultEntry = "_compiled_program_main"

// Config is the complete runtime configuration.
type Config struct {
	Layout   LayoutConfig   `toml:"layout"`
	Heap     HeapConfig     `toml:"heap"`
	Entry    EntryConfig    `toml:"entry"`
	Builtins BuiltinsConfig `toml:"builtins"`
	Log      LogConfig      `toml:"log"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// LayoutConfig selects the cell layout compiled programs were built with.
type LayoutConfig struct {
	WordSize uint32 `toml:"word_size"`
	Header   string `toml:"header"` // inline | before
	Tagged   bool   `toml:"tagged"`
}

// HeapConfig configures the allocator.
type HeapConfig struct {
	Mode string `toml:"mode"` // collected | arena
	// MemoryLimitPages caps guest linear memory; 0 keeps the wasm32 maximum.
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
}

// EntryConfig names the program entry point and its calling convention.
type EntryConfig struct {
	Export string `toml:"export"`
	// Receiver passes the leading context word samlang class functions take
	// to intToString, stringToInt, println and panic.
	Receiver bool `toml:"receiver"`
}

type BuiltinsConfig struct {
	Diagnostics bool `toml:"diagnostics"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the configuration matching the samlang wasm backend.
func Default() Config {
	l := layout.Default()
	return Config{
		Layout: LayoutConfig{
			WordSize: l.WordSize,
			Header:   l.Placement.String(),
			Tagged:   l.Tagged,
		},
		Heap:  HeapConfig{Mode: heap.Collected.String()},
		Entry: EntryConfig{Export: DefaultEntry, Receiver: true},
		Log:   LogConfig{Level: "info"},
	}
}

// Parse decodes TOML data over Default and validates the result. name is
// used in error messages.
func Parse(data []byte, name string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, errors.ParseFailed(errors.PhaseConfig, name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(name).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "read "+path)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return cfg, nil
}

// Find walks up from startDir looking for FileName. It returns "" when no
// file is found.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "resolve "+startDir)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if _, err := c.CellLayout(); err != nil {
		return err
	}
	if _, err := heap.ParseMode(c.Heap.Mode); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "heap.mode")
	}
	if c.Heap.MemoryLimitPages > 65536 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("heap", "memory_limit_pages").
			Value(c.Heap.MemoryLimitPages).
			Detail("limit %d exceeds 65536 pages", c.Heap.MemoryLimitPages).
			Build()
	}
	if c.Entry.Export == "" {
		return errors.InvalidInput(errors.PhaseConfig, "entry.export must not be empty")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// CellLayout converts the [layout] table.
func (c Config) CellLayout() (layout.Layout, error) {
	p, err := layout.ParsePlacement(c.Layout.Header)
	if err != nil {
		return layout.Layout{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "layout.header")
	}
	l := layout.Layout{WordSize: c.Layout.WordSize, Placement: p, Tagged: c.Layout.Tagged}
	if err := l.Validate(); err != nil {
		return layout.Layout{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "layout")
	}
	return l, nil
}

// HeapOptions converts the [heap] table.
func (c Config) HeapOptions() (heap.Options, error) {
	mode, err := heap.ParseMode(c.Heap.Mode)
	if err != nil {
		return heap.Options{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "heap.mode")
	}
	return heap.Options{Mode: mode}, nil
}

// LogLevel parses log.level.
func (c Config) LogLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	return lvl, nil
}
