// Package config loads engine settings.
//
// Defaults live in an embedded CUE schema. A user file (YAML or CUE) is
// unified over it, which both deep-merges the overrides and rejects unknown
// keys or out-of-range values.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rshare/internal/events"
)

//go:embed schema.cue
var schemaSource string

// Config is the effective engine configuration.
type Config struct {
	InlineTransferLimit int
	SizeCeiling         int64
	GateTimeout         time.Duration
	PingInterval        time.Duration
	HandshakeTimeout    time.Duration
	RequestTimeout      time.Duration
	RetryCount          int
	RetryDelay          time.Duration
	BootstrapFile       string
	LogLevel            events.Level
}

// fileConfig is the on-disk shape, shared by CUE decoding and YAML output.
type fileConfig struct {
	InlineTransferLimit int       `json:"inline_transfer_limit" yaml:"inline_transfer_limit"`
	SizeCeiling         int64     `json:"size_ceiling" yaml:"size_ceiling"`
	GateTimeout         string    `json:"gate_timeout" yaml:"gate_timeout"`
	PingInterval        string    `json:"ping_interval" yaml:"ping_interval"`
	HandshakeTimeout    string    `json:"handshake_timeout" yaml:"handshake_timeout"`
	RequestTimeout      string    `json:"request_timeout" yaml:"request_timeout"`
	Retry               retryFile `json:"retry" yaml:"retry"`
	BootstrapFile       string    `json:"bootstrap_file" yaml:"bootstrap_file"`
	LogLevel            string    `json:"log_level" yaml:"log_level"`
}

type retryFile struct {
	Count int    `json:"count" yaml:"count"`
	Delay string `json:"delay" yaml:"delay"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, err := Parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads the overlay at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies overlay over the defaults. filename selects the format:
// ".cue" files are compiled as CUE, anything else is read as YAML.
func Parse(overlay []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compiling schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("config"))

	if len(strings.TrimSpace(string(overlay))) > 0 {
		ov, err := compileOverlay(ctx, overlay, filename)
		if err != nil {
			return Config{}, err
		}
		v = v.Unify(ov)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", displayName(filename), err)
	}

	var fc fileConfig
	if err := v.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return fc.resolve()
}

func compileOverlay(ctx *cue.Context, data []byte, filename string) (cue.Value, error) {
	if filepath.Ext(filename) == ".cue" {
		ov := ctx.CompileBytes(data, cue.Filename(filename))
		if err := ov.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("compiling %s: %w", filename, err)
		}
		return ov, nil
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return cue.Value{}, fmt.Errorf("parsing %s: %w", displayName(filename), err)
	}
	if len(m) == 0 {
		return ctx.CompileString("{}"), nil
	}
	ov := ctx.Encode(m)
	if err := ov.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("encoding %s: %w", displayName(filename), err)
	}
	return ov, nil
}

func (fc fileConfig) resolve() (Config, error) {
	cfg := Config{
		InlineTransferLimit: fc.InlineTransferLimit,
		SizeCeiling:         fc.SizeCeiling,
		RetryCount:          fc.Retry.Count,
		BootstrapFile:       fc.BootstrapFile,
		LogLevel:            events.Level(fc.LogLevel),
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gate_timeout", fc.GateTimeout, &cfg.GateTimeout},
		{"ping_interval", fc.PingInterval, &cfg.PingInterval},
		{"handshake_timeout", fc.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"retry.delay", fc.Retry.Delay, &cfg.RetryDelay},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// YAML renders the configuration in overlay format.
func (c Config) YAML() ([]byte, error) {
	fc := fileConfig{
		InlineTransferLimit: c.InlineTransferLimit,
		SizeCeiling:         c.SizeCeiling,
		GateTimeout:         c.GateTimeout.String(),
		PingInterval:        c.PingInterval.String(),
		HandshakeTimeout:    c.HandshakeTimeout.String(),
		RequestTimeout:      c.RequestTimeout.String(),
		Retry:               retryFile{Count: c.RetryCount, Delay: c.RetryDelay.String()},
		BootstrapFile:       c.BootstrapFile,
		LogLevel:            string(c.LogLevel),
	}
	return yaml.Marshal(fc)
}

func displayName(filename string) string {
	if filename == "" {
		return "(defaults)"
	}
	return filename
}
