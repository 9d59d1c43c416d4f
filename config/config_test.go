package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compiler.SmallLambdaSize == 0 {
		t.Fatal("expected default SmallLambdaSize")
	}
	if cfg.Compiler.NoInlineConsts {
		t.Fatal("expected NoInlineConsts false by default")
	}
}

func TestLoadParsesFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schemec.toml")
	contents := `
[compiler]
noinline-consts = true
small-lambda-size = 20
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Compiler.NoInlineConsts {
		t.Fatal("expected NoInlineConsts true")
	}
	if cfg.Compiler.SmallLambdaSize != 20 {
		t.Fatalf("SmallLambdaSize = %d, want 20", cfg.Compiler.SmallLambdaSize)
	}
	if cfg.Compiler.NoInlineGlobals {
		t.Fatal("expected NoInlineGlobals to stay false")
	}
}
