// Package config parses and validates the command line.
package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/hailam/reflex/internal/transport"
	"github.com/pkg/errors"
)

// Environment variables consulted when the matching flag is not given.
const (
	EnvShmDir     = "REFLEX_SHM_DIR"
	EnvStore      = "REFLEX_STORE"
	EnvCPUProfile = "CPUPROFILE"
)

// ErrUsage is matched by every validation error.
var ErrUsage = errors.New("invalid usage")

// Mode is what a parsed command line asks the process to do.
type Mode int

const (
	ModeHelp Mode = iota
	ModeVersion
	ModeStandalone
	ModeManaged
	// ModeOffline runs no control loop: only -export and -history work.
	ModeOffline
)

func (m Mode) String() string {
	switch m {
	case ModeHelp:
		return "help"
	case ModeVersion:
		return "version"
	case ModeStandalone:
		return "standalone"
	case ModeManaged:
		return "managed"
	case ModeOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Config is the parsed command line.
type Config struct {
	Standalone bool
	Managed    bool
	Help       bool
	Version    bool

	Env     string
	Action  string
	Control string
	ShmDir  string
	Create  bool

	Load     string
	Model    string
	Seed     int64
	Strict   bool
	Interval time.Duration

	Store   string
	History int
	Export  string

	Verbosity  int
	CPUProfile string
	Console    bool

	getenv func(string) string
}

// Parse reads args (without the program name). Missing values fall back to the
// environment through getenv. Usage and flag errors are written to out.
func Parse(args []string, getenv func(string) string, out io.Writer) (*Config, *flag.FlagSet, error) {
	cfg := &Config{getenv: getenv}
	fs := flag.NewFlagSet("reflex", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.BoolVar(&cfg.Standalone, "standalone", false, "run against environment and action regions")
	fs.BoolVar(&cfg.Managed, "managed", false, "run against environment, action and control regions")
	fs.BoolVar(&cfg.Help, "help", false, "print usage and exit")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")

	fs.StringVar(&cfg.Env, "env", "", "environment region `name`")
	fs.StringVar(&cfg.Action, "action", "", "action region `name`")
	fs.StringVar(&cfg.Control, "control", "", "control region `name` (managed mode)")
	fs.StringVar(&cfg.ShmDir, "shm-dir", "", "directory holding shared regions (default $"+EnvShmDir+" or "+transport.DefaultDir+")")
	fs.BoolVar(&cfg.Create, "create", false, "create missing regions instead of failing")

	fs.StringVar(&cfg.Load, "load", "", "load the network from a model `file` instead of generating one")
	fs.StringVar(&cfg.Model, "model", "", "run the archived model with this `checksum` (see -history)")
	fs.Int64Var(&cfg.Seed, "seed", 1, "seed for the generated network")
	fs.BoolVar(&cfg.Strict, "strict", false, "treat layer shape mismatches as errors")
	fs.DurationVar(&cfg.Interval, "interval", 0, "minimum control cycle period (0 runs back to back)")

	fs.StringVar(&cfg.Store, "store", "", "archive models and runs in this `dir` (default $"+EnvStore+")")
	fs.IntVar(&cfg.History, "history", 0, "print the last `n` recorded runs")
	fs.StringVar(&cfg.Export, "export", "", "write the network to a model `file`")

	fs.IntVar(&cfg.Verbosity, "v", 0, "log verbosity")
	fs.StringVar(&cfg.CPUProfile, "cpuprofile", "", "write cpu profile to file")
	fs.BoolVar(&cfg.Console, "console", false, "read status/quit commands from stdin")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if fs.NArg() > 0 {
		return nil, fs, errors.Wrapf(ErrUsage, "unexpected arguments %q", fs.Args())
	}

	if cfg.ShmDir == "" {
		cfg.ShmDir = getenv(EnvShmDir)
	}
	if cfg.ShmDir == "" {
		cfg.ShmDir = transport.DefaultDir
	}
	if cfg.Store == "" {
		cfg.Store = getenv(EnvStore)
	}
	if cfg.CPUProfile == "" {
		cfg.CPUProfile = getenv(EnvCPUProfile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

// Mode reports what the configuration asks for. Help wins over version, which
// wins over everything else.
func (c *Config) Mode() Mode {
	switch {
	case c.Help:
		return ModeHelp
	case c.Version:
		return ModeVersion
	case c.Standalone:
		return ModeStandalone
	case c.Managed:
		return ModeManaged
	default:
		return ModeOffline
	}
}

func usageErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUsage, format, args...)
}

// Validate rejects inconsistent combinations. It runs before anything is opened.
func (c *Config) Validate() error {
	if c.Standalone && c.Managed {
		return usageErr("-standalone and -managed are mutually exclusive")
	}
	if c.Help || c.Version {
		return nil
	}

	switch c.Mode() {
	case ModeStandalone:
		if c.Env == "" || c.Action == "" {
			return usageErr("-standalone needs -env and -action")
		}
		if c.Control != "" {
			return usageErr("-control is only valid with -managed")
		}
	case ModeManaged:
		if c.Env == "" || c.Action == "" || c.Control == "" {
			return usageErr("-managed needs -env, -action and -control")
		}
	case ModeOffline:
		if c.Export == "" && c.History == 0 {
			return usageErr("one of -standalone or -managed is required")
		}
		if c.Env != "" || c.Action != "" || c.Control != "" {
			return usageErr("region names need -standalone or -managed")
		}
	}

	for flagName, name := range map[string]string{"env": c.Env, "action": c.Action, "control": c.Control} {
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return usageErr("-%s %q must be a plain region name", flagName, name)
		}
	}
	if c.Env != "" && (c.Env == c.Action || c.Env == c.Control) || c.Action != "" && c.Action == c.Control {
		return usageErr("region names must be distinct")
	}
	if c.Load != "" && c.Model != "" {
		return usageErr("-load and -model are mutually exclusive")
	}
	if c.History < 0 {
		return usageErr("-history must not be negative")
	}
	if c.Interval < 0 {
		return usageErr("-interval must not be negative")
	}
	if c.Verbosity < 0 {
		return usageErr("-v must not be negative")
	}
	return nil
}

// Names returns the transport region names.
func (c *Config) Names() transport.Names {
	names := transport.Names{Environment: c.Env, Action: c.Action}
	if c.Managed {
		names.Control = c.Control
	}
	return names
}

// StoreDir returns the archive directory. -history or -model without -store falls
// back to the default data directory; otherwise an empty result disables the archive.
func (c *Config) StoreDir() (string, error) {
	if c.Store != "" {
		return c.Store, nil
	}
	if c.History == 0 && c.Model == "" {
		return "", nil
	}
	return DatabaseDir(c.getenv)
}
