package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/mrproliu/go-perfmark/instrument"
)

const (
	exitOK          = 0
	exitError       = 1
	exitDiagnostics = 2
)

type compileOptions struct {
	Package string
	Output  string
	// ImportCfg is the -importcfg file, ImportCfgIndex the argument holding it.
	ImportCfg      string
	ImportCfgIndex int
	// ImportCfgJoined is set when the flag was given as -importcfg=file.
	ImportCfgJoined bool
}

func (c *compileOptions) String() string {
	return fmt.Sprintf("-p: %s, -o: %s, -importcfg: %s", c.Package, c.Output, c.ImportCfg)
}

// setImportCfg points the importcfg argument at path.
func (c *compileOptions) setImportCfg(args []string, path string) {
	if c.ImportCfgJoined {
		args[c.ImportCfgIndex] = "-importcfg=" + path
	} else {
		args[c.ImportCfgIndex] = path
	}
	c.ImportCfg = path
}

type flags struct {
	write    bool
	diff     bool
	list     bool
	keep     bool
	config   string
	verbose  int
	logFile  string
	set      map[string]bool
	commands []string
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	f := &flags{set: make(map[string]bool)}
	fs.BoolVar(&f.write, "w", false, "write result to (source) file instead of stdout")
	fs.BoolVar(&f.diff, "d", false, "display diffs instead of rewriting files")
	fs.BoolVar(&f.list, "l", false, "list files whose instrumentation differs from the source")
	fs.BoolVar(&f.keep, "keep", false, "keep the directives in the instrumented source")
	fs.StringVar(&f.config, "config", "", "TOML configuration file, defaults to $PERFMARK_CONFIG")
	fs.IntVar(&f.verbose, "v", 0, "log verbosity")
	fs.StringVar(&f.logFile, "log", "", "append logs to this file instead of stderr")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: perfmark [flags] [path ...]\n"+
			"       go build -a -toolexec 'perfmark [flags]' ...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})
	f.commands = fs.Args()
	return f, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("perfmark", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f, err := parseFlags(fs, args)
	if err != nil {
		return exitError
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitError
	}

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitError
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	toolexec := isToolexec(f.commands)
	inst := instrument.New(cfg.instrumentOptions(), instrumentLogger(logger, cfg, toolexec))
	if toolexec {
		return runToolexec(ctx, inst, logger, f.commands, stderr)
	}
	return runStandalone(ctx, inst, logger, f, stdin, stdout, stderr)
}

// newLogger builds the stdr logger over the std log output, or over the configured log file.
func newLogger(cfg *config, stderr io.Writer) (logr.Logger, func(), error) {
	out, closeFn := stderr, func() {}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o666)
		if err != nil {
			return logr.Discard(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = file, func() { _ = file.Close() }
	}
	stdr.SetVerbosity(cfg.Verbosity)
	return stdr.New(log.New(out, "perfmark ", log.LstdFlags)).WithName("perfmark"), closeFn, nil
}

// instrumentLogger lowers the instrumenter logs by one level in toolexec builds that log to
// stderr, where the go command prints them under the package header of every compile.
func instrumentLogger(logger logr.Logger, cfg *config, toolexec bool) logr.Logger {
	if toolexec && cfg.LogFile == "" {
		return logger.V(1)
	}
	return logger
}

// isToolexec reports whether perfmark was started by go build -toolexec: the first
// argument is then the absolute path of a Go tool rather than a source file or directory.
func isToolexec(args []string) bool {
	if len(args) == 0 || !filepath.IsAbs(args[0]) || strings.HasSuffix(args[0], ".go") {
		return false
	}
	info, err := os.Stat(args[0])
	return err == nil && info.Mode().IsRegular()
}

// toolName returns the tool name of a toolexec command line: compile, link, asm, ...
func toolName(args []string) string {
	if len(args) == 0 {
		return ""
	}
	cmd := filepath.Base(args[0])
	if ext := filepath.Ext(cmd); ext != "" {
		cmd = strings.TrimSuffix(cmd, ext)
	}
	return cmd
}

// parseCompileOption reads the options of a compile or link command line, nil for other tools:
// go build -a -work -toolexec /path/to/perfmark .
func parseCompileOption(args []string) *compileOptions {
	if tool := toolName(args); tool != "compile" && tool != "link" {
		return nil
	}

	opt := &compileOptions{}
	i := 1
	for i < len(args)-1 {
		if args[i] == "" || args[i][0] != '-' {
			i += 1
			continue
		}

		kv := strings.SplitN(args[i], "=", 2)
		var valRef *string
		switch kv[0] {
		case "-p":
			valRef = &opt.Package
		case "-o":
			valRef = &opt.Output
		case "-importcfg":
			valRef = &opt.ImportCfg
			opt.ImportCfgIndex = i + 1
			opt.ImportCfgJoined = len(kv) == 2
			if opt.ImportCfgJoined {
				opt.ImportCfgIndex = i
			}
		default:
			if len(kv) == 2 {
				i += 1
			} else if args[i+1] == "" || (len(args[i+1]) > 1 && args[i+1][0] != '-') {
				i += 2
			} else {
				i += 1
			}
			continue
		}

		if len(kv) == 2 {
			*valRef = kv[1]
			i += 1
		} else {
			*valRef = args[i+1]
			i += 2
		}
	}

	return opt
}

// executeCommand runs the (possibly rewritten) tool command line.
func executeCommand(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitError
	}
	return exitOK
}
