package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mrproliu/go-perfmark/instrument"
)

const configEnv = "PERFMARK_CONFIG"

type config struct {
	Directive     string `toml:"directive"`
	RuntimePath   string `toml:"runtime_path"`
	RuntimeName   string `toml:"runtime_name"`
	Prefix        string `toml:"prefix"`
	KeepDirective bool   `toml:"keep_directive"`
	Verbosity     int    `toml:"verbosity"`
	LogFile       string `toml:"log_file"`
}

// loadConfig reads the TOML file named by -config or $PERFMARK_CONFIG, then applies the
// flags given on the command line over it.
func loadConfig(f *flags) (*config, error) {
	cfg := &config{}
	path := f.config
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if f.set["v"] {
		cfg.Verbosity = f.verbose
	}
	if f.set["log"] {
		cfg.LogFile = f.logFile
	}
	if f.set["keep"] {
		cfg.KeepDirective = f.keep
	}
	if strings.ContainsAny(cfg.Directive, " \t\n") {
		return nil, fmt.Errorf("invalid directive %q: must not contain spaces", cfg.Directive)
	}
	return cfg, nil
}

func (c *config) instrumentOptions() instrument.Options {
	return instrument.Options{
		Directive:     strings.TrimPrefix(c.Directive, "//"),
		RuntimePath:   c.RuntimePath,
		RuntimeName:   c.RuntimeName,
		Prefix:        c.Prefix,
		KeepDirective: c.KeepDirective,
	}
}
