package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmlift/wasmlift/internal/cache"
	"github.com/wasmlift/wasmlift/internal/compiler"
	"github.com/wasmlift/wasmlift/internal/config"
	"github.com/wasmlift/wasmlift/internal/diagnostics"
	"github.com/wasmlift/wasmlift/internal/wasm"
)

// Version can be set at build time using: -ldflags "-X main.Version=v1.2.3"
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wasmlift", flag.ContinueOnError)
	var (
		output    = fs.String("o", "", "output module file (default from config, or out.wasm)")
		classpath = fs.String("cp", "", "classpath directories, '"+string(os.PathListSeparator)+"'-separated")
		format    = fs.String("format", "", "output format: wasm or wat (default from the -o extension)")
		gc        = fs.Bool("gc", false, "use the reference-types object representation (wat only)")
		verbose   = fs.Bool("v", false, "print progress while compiling")
		cfgPath   = fs.String("config", "", "project file (default: nearest wasmlift.yaml)")
		cachePath = fs.String("cache", "", "scan cache database (default from config)")
		noCache   = fs.Bool("no-cache", false, "compile without the scan cache")
		version   = fs.Bool("version", false, "print the version and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: wasmlift [flags] <root class>...\n\n")
		fmt.Fprintf(fs.Output(), "Root classes use the internal name form, e.g. com/example/Main.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *version {
		fmt.Println("wasmlift", Version)
		return 0
	}

	rep := diagnostics.NewReporter(os.Stderr, *verbose)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		rep.ReportError(err)
		return 1
	}

	roots := fs.Args()
	if len(roots) == 0 {
		roots = cfg.Roots
	}
	if len(roots) == 0 {
		fs.Usage()
		return 2
	}
	for i, root := range roots {
		roots[i] = filepath.ToSlash(strings.TrimSuffix(root, config.ClassFileExt))
	}

	cp := cfg.Classpath
	if *classpath != "" {
		cp = filepath.SplitList(*classpath)
	}
	if len(cp) == 0 {
		cp = []string{"."}
	}

	out := *output
	if out == "" {
		out = cfg.Output
	}
	if out == "" {
		out = "out.wasm"
	}

	f := *format
	if f == "" {
		f = cfg.Format
	}
	f = config.FormatFor(f, out)

	useGC := *gc || cfg.GC
	if useGC && f == config.FormatBinary {
		rep.ReportError(fmt.Errorf("gc output requires the %s format", config.FormatText))
		return 1
	}

	opts := compiler.Options{
		Classpath: cp,
		Roots:     roots,
		UseGC:     useGC,
	}

	if !*noCache {
		path := *cachePath
		if path == "" {
			path = cfg.Cache
		}
		if path != "" {
			// a broken cache must not break the build
			store, err := cache.Open(path)
			if err != nil {
				rep.Progress("scan cache disabled: %v", err)
			} else {
				defer store.Close()
				opts.Cache = store
				rep.Progress("scan cache: %s", path)
			}
		}
	}

	comp, err := compiler.New(opts)
	if err != nil {
		rep.ReportError(err)
		return 1
	}

	// The module is assembled in memory and only written out on success, so
	// a failed run never leaves a truncated file behind.
	var buf bytes.Buffer
	var sink wasm.Sink
	if f == config.FormatText {
		sink = wasm.NewTextWriter(&buf, useGC)
	} else {
		sink = wasm.NewBinaryWriter(&buf)
	}

	rep.Progress("compiling %s", strings.Join(roots, ", "))
	if err := comp.Run(sink); err != nil {
		rep.ReportError(err)
		return 1
	}
	if err := sink.Finish(); err != nil {
		rep.ReportError(err)
		return 1
	}

	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		rep.ReportError(fmt.Errorf("writing %s: %w", out, err))
		return 1
	}
	rep.Summary("wrote %s (%d bytes)", out, buf.Len())
	return 0
}

// loadConfig loads the explicit project file, or walks up from the working
// directory looking for one. No project file is not an error.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	found, err := config.Find(wd)
	if err != nil {
		return nil, err
	}
	if found == "" {
		return &config.Config{}, nil
	}
	return config.Load(found)
}
