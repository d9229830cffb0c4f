// Package config loads the autolock configuration.
//
// A config file is optional. YAML files are decoded directly; .cue files
// are unified with the embedded schema and must be concrete. Environment
// variables (optionally read from a .env file) override the file, and
// defaults fill whatever is still unset.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/sessionlog"
)

//go:embed schema.cue
var schemaSource string

// Environment overrides.
const (
	EnvEngine       = "AUTOLOCK_ENGINE"
	EnvDataDir      = "AUTOLOCK_DATA_DIR"
	EnvTemplatesDir = "AUTOLOCK_TEMPLATES_DIR"
	EnvDebug        = "AUTOLOCK_DEBUG"
)

const defaultStopGrace = "5s"

// Config is the full configuration.
type Config struct {
	DataDir      string `yaml:"data_dir" json:"data_dir,omitempty"`
	TemplatesDir string `yaml:"templates_dir" json:"templates_dir,omitempty"`
	LogRetention int    `yaml:"log_retention" json:"log_retention,omitempty"`
	Engine       Engine `yaml:"engine" json:"engine"`
	Ports        Ports  `yaml:"ports" json:"ports"`
}

// Engine describes how the engine is invoked.
type Engine struct {
	Path          string   `yaml:"path" json:"path,omitempty"`
	Args          []string `yaml:"args" json:"args,omitempty"`
	Debug         *bool    `yaml:"debug" json:"debug,omitempty"`
	RequiredFiles []string `yaml:"required_files" json:"required_files,omitempty"`
	StopGrace     string   `yaml:"stop_grace" json:"stop_grace,omitempty"`
}

// Ports lists the intercepted destination ports per family.
type Ports struct {
	TLS  []string `yaml:"tls" json:"tls,omitempty"`
	HTTP []string `yaml:"http" json:"http,omitempty"`
	UDP  []string `yaml:"udp" json:"udp,omitempty"`
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		LogRetention: sessionlog.DefaultRetention,
		Engine: Engine{
			StopGrace: defaultStopGrace,
		},
		Ports: Ports{
			TLS:  []string{"443"},
			HTTP: []string{"80"},
			UDP:  []string{"443", "50000-50100"},
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "autolock")
	}
	return ".autolock"
}

// Load reads path (empty means no file), applies the process environment
// and validates the result. A .env file in the working directory, if
// present, is merged into the environment first.
func Load(path string) (*Config, error) {
	lookup, err := DotEnv(".env")
	if err != nil {
		return nil, err
	}
	return LoadWith(path, lookup)
}

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		cfg, err = readFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DotEnv returns a lookup that prefers the process environment and falls
// back to the variables in path. A missing file yields the plain process
// environment.
func DotEnv(path string) (LookupFunc, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return os.LookupEnv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		if err := decodeCUE(path, data, &cfg); err != nil {
			return nil, err
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return &cfg, nil
}

func decodeCUE(path string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile %s: %w", path, err)
	}
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if err := unified.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvEngine); ok && v != "" {
		c.Engine.Path = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvTemplatesDir); ok && v != "" {
		c.TemplatesDir = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Engine.Debug = &debug
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = filepath.Join(c.DataDir, "templates")
	}
	if c.LogRetention == 0 {
		c.LogRetention = d.LogRetention
	}
	if c.Engine.StopGrace == "" {
		c.Engine.StopGrace = d.Engine.StopGrace
	}
	if len(c.Ports.TLS) == 0 {
		c.Ports.TLS = d.Ports.TLS
	}
	if len(c.Ports.HTTP) == 0 {
		c.Ports.HTTP = d.Ports.HTTP
	}
	if len(c.Ports.UDP) == 0 {
		c.Ports.UDP = d.Ports.UDP
	}
}

// Validate checks the values a file or environment could get wrong.
func (c *Config) Validate() error {
	var errs []error
	if c.LogRetention < 1 {
		errs = append(errs, fmt.Errorf("log_retention must be at least 1, got %d", c.LogRetention))
	}
	if _, err := c.StopGrace(); err != nil {
		errs = append(errs, err)
	}
	ports := c.PortMap()
	for _, p := range protocol.All {
		for _, port := range ports[p] {
			if err := validatePort(port); err != nil {
				errs = append(errs, fmt.Errorf("ports.%s: %w", p, err))
			}
		}
	}
	return errors.Join(errs...)
}

func validatePort(s string) error {
	lo, hi, isRange := strings.Cut(s, "-")
	first, err := strconv.Atoi(lo)
	if err != nil || first < 1 || first > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	if !isRange {
		return nil
	}
	last, err := strconv.Atoi(hi)
	if err != nil || last < first || last > 65535 {
		return fmt.Errorf("invalid port range %q", s)
	}
	return nil
}

// DebugEnabled reports whether the engine should emit its event lines.
// Unset means enabled; the learner sees nothing without them.
func (e Engine) DebugEnabled() bool {
	return e.Debug == nil || *e.Debug
}

// StopGrace parses the engine stop grace period.
func (c *Config) StopGrace() (time.Duration, error) {
	if c.Engine.StopGrace == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Engine.StopGrace)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("engine.stop_grace: invalid duration %q", c.Engine.StopGrace)
	}
	return d, nil
}

// PortMap keys the ports by family.
func (c *Config) PortMap() map[protocol.Protocol][]string {
	return map[protocol.Protocol][]string{
		protocol.TLS:  c.Ports.TLS,
		protocol.HTTP: c.Ports.HTTP,
		protocol.UDP:  c.Ports.UDP,
	}
}

// DBPath is the SQLite state database.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "state.db") }

// WorkDir receives the generated artifacts.
func (c *Config) WorkDir() string { return filepath.Join(c.DataDir, "run") }

// LogDir holds the session logs.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }
