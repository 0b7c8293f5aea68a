// Command samrt runs compiled samlang programs.
//
//	samrt [flags] <program.wasm> [args...]
//
// The program receives [program.wasm, args...] as its argument array and
// samrt exits with the program's status. Statuses outside 0..255 cannot be
// reported by the process and become 1.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/samlang-runtime/config"
	"github.com/wippyai/samlang-runtime/runtime"
)

type flags struct {
	config      string
	entry       string
	word        uint
	header      string
	untagged    bool
	arena       bool
	receiver    bool
	diagnostics bool
	memoryLimit uint
	list        bool
	interactive bool
	verbose     bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "Path to "+config.FileName+" (default: search upward from the working directory)")
	flag.StringVar(&f.entry, "entry", "", "Entry export name")
	flag.UintVar(&f.word, "word", 0, "Word size in bytes (4 or 8)")
	flag.StringVar(&f.header, "header", "", "Header placement (inline or before)")
	flag.BoolVar(&f.untagged, "untagged", false, "Cells carry no tag word")
	flag.BoolVar(&f.arena, "arena", false, "Arena heap: _builtin_free releases blocks")
	flag.BoolVar(&f.receiver, "receiver", true, "Builtins take a leading context argument (samlang class-function convention)")
	flag.BoolVar(&f.diagnostics, "diagnostics", false, "Print 'Bad string' for unparsable integers")
	flag.UintVar(&f.memoryLimit, "memory-limit", 0, "Maximum guest memory in 64 KiB pages")
	flag.BoolVar(&f.list, "list", false, "List imports, exports and builtins, then exit")
	flag.BoolVar(&f.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&f.verbose, "v", false, "Verbose (debug) logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg, f.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()
	runtime.SetLogger(logger)

	wasmFile := flag.Arg(0)
	argv := flag.Args()

	if f.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i requires a terminal")
			os.Exit(2)
		}
		if err := runInteractive(cfg, wasmFile, argv[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	status, err := run(cfg, wasmFile, argv, f.list)
	if err != nil {
		logger.Debug("run failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	code := processStatus(status)
	if code != status {
		logger.Warn("program status out of process exit range",
			zap.Int("status", status),
			zap.Int("exit_code", code))
	}
	_ = logger.Sync()
	os.Exit(code)
}

// processStatus maps a program status to a process exit code. Only 0..255
// survives exit on POSIX systems; anything else is reported as 1.
func processStatus(status int) int {
	if status < 0 || status > 255 {
		return 1
	}
	return status
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: samrt [flags] <program.wasm> [args...]")
	fmt.Fprintln(os.Stderr, "       samrt -list <program.wasm>")
	fmt.Fprintln(os.Stderr, "       samrt -i <program.wasm> [args...]  (interactive mode)")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

// loadConfig reads the configuration file and applies flags given on the
// command line on top of it.
func loadConfig(f flags) (config.Config, error) {
	path := f.config
	if path == "" {
		found, err := config.Find(".")
		if err != nil {
			return config.Config{}, err
		}
		path = found
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "entry":
			cfg.Entry.Export = f.entry
		case "word":
			cfg.Layout.WordSize = uint32(f.word)
		case "header":
			cfg.Layout.Header = f.header
		case "untagged":
			cfg.Layout.Tagged = !f.untagged
		case "arena":
			if f.arena {
				cfg.Heap.Mode = "arena"
			} else {
				cfg.Heap.Mode = "collected"
			}
		case "receiver":
			cfg.Entry.Receiver = f.receiver
		case "diagnostics":
			cfg.Builtins.Diagnostics = f.diagnostics
		case "memory-limit":
			cfg.Heap.MemoryLimitPages = uint32(f.memoryLimit)
		}
	})
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, verbose bool) (*zap.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development || verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func run(cfg config.Config, wasmFile string, argv []string, listOnly bool) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return 1, fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.LoadFile(ctx, wasmFile)
	if err != nil {
		return 1, fmt.Errorf("load %s: %w", wasmFile, err)
	}
	defer mod.Close(ctx)

	if listOnly {
		printModule(mod, rt.Layout().String())
		return 0, nil
	}

	return mod.Run(ctx, argv)
}

func printModule(mod *runtime.Module, layout string) {
	fmt.Printf("Program: %s (layout %s, entry %s)\n", mod.Name(), layout, mod.Entry())

	fmt.Printf("\nImports:\n")
	for _, imp := range mod.Imports() {
		if imp.Kind == "memory" {
			fmt.Printf("  %s#%s (memory)\n", imp.Module, imp.Name)
			continue
		}
		fmt.Printf("  %s#%s%s\n", imp.Module, imp.Name, valueTypes(imp.Params, imp.Results))
	}

	fmt.Printf("\nExports:\n")
	for _, exp := range mod.Exports() {
		fmt.Printf("  %-6s %s\n", exp.Kind, exp.Name)
	}

	fmt.Printf("\nBuiltins:\n")
	for _, sig := range mod.Signatures() {
		fmt.Printf("  %s: %s\n", sig.Name, sig.WIT)
	}
}

func valueTypes(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		s := make([]string, len(ts))
		for i, t := range ts {
			s[i] = api.ValueTypeName(t)
		}
		return strings.Join(s, ", ")
	}
	out := "(" + names(params) + ")"
	if len(results) > 0 {
		out += " -> " + names(results)
	}
	return out
}
