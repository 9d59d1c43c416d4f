// Package config loads the compiler's tunable flags from a TOML file, the
// same way manifest/manifest.go loads maggie.toml project configuration.
// The three compile flags from spec §6 and the pass-2 inlining threshold
// from spec §4.9 are the only knobs the core exposes; everything else
// about a compilation is decided by the host through package host.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chazu/schemec/ir"
)

// Flags mirrors the three compiler flags queried via
// vm-compiler-flag-is-set? (spec §6), plus the SMALL_LAMBDA_SIZE
// threshold (spec §4.9), so a host can tune them from a config file
// instead of recompiling.
type Flags struct {
	NoInlineConsts  bool `toml:"noinline-consts"`
	NoInlineGlobals bool `toml:"noinline-globals"`
	NoInlineLocals  bool `toml:"noinline-locals"`
	SmallLambdaSize int  `toml:"small-lambda-size"`
}

// Config is the top-level schemec.toml shape.
type Config struct {
	Compiler Flags `toml:"compiler"`
}

// Default returns the spec's built-in defaults: every inlining
// optimization on, and the threshold from spec §4.9.
func Default() Config {
	return Config{Compiler: Flags{SmallLambdaSize: ir.SmallLambdaSize}}
}

// Load parses a schemec.toml file from path. A missing file is not an
// error — it just yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.Compiler.SmallLambdaSize <= 0 {
		cfg.Compiler.SmallLambdaSize = ir.SmallLambdaSize
	}
	return cfg, nil
}
