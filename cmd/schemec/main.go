// schemec is a small CLI wrapping the compiler core: it reads one or
// more Scheme forms from a file (or stdin), runs them through
// schemec.CompileTopLevelLambda, and prints the resulting disassembly —
// the same "load a file, show what it became" shape cmd/mag/main.go's
// flag-based CLI gives the Maggie VM, scaled down to one compiler
// instead of a whole runtime.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/schemec"
	"github.com/chazu/schemec/config"
	"github.com/chazu/schemec/host"
	"github.com/chazu/schemec/logging"
	"github.com/chazu/schemec/sexp"
)

func main() {
	configPath := flag.String("config", "schemec.toml", "path to compiler config (missing file uses defaults)")
	dumpLiterals := flag.Bool("literals", true, "include the literal pool in the disassembly")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: schemec [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles the Scheme forms in file (or stdin, if omitted) and prints\n")
		fmt.Fprintf(os.Stderr, "the disassembled bytecode for the resulting toplevel lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *dumpLiterals, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "schemec: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, dumpLiterals bool, args []string) error {
	var src []byte
	var err error
	switch len(args) {
	case 0:
		src, err = io.ReadAll(os.Stdin)
	case 1:
		src, err = os.ReadFile(args[0])
	default:
		return fmt.Errorf("expected at most one file argument, got %d", len(args))
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tab := sexp.NewTable()
	forms, err := ReadAll(string(src), tab)
	if err != nil {
		return err
	}

	rt := host.NewRuntime()
	rt.InstallPrelude(tab)

	logging.Infof("compiling %d toplevel form(s)", len(forms))
	cc, err := schemec.CompileTopLevelLambda(rt, tab, cfg.Compiler, forms)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	logging.Infof("compiled to %d instruction(s), %d literal(s)", len(cc.Insns), len(cc.Literals))

	listing := disassembleFull(cc, tab, dumpLiterals)
	fmt.Print(listing)
	return nil
}
