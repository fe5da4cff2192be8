package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/mrproliu/go-perfmark/instrument"
)

// runToolexec instruments the sources of a compile command, extends the importcfg of compile
// and link commands, and then runs the tool.
func runToolexec(ctx context.Context, inst *instrument.Instrumenter, log logr.Logger, args []string, stderr io.Writer) int {
	log.V(2).Info("tool command", "args", args)

	args, err := prepareCommand(ctx, inst, log, args)
	if err != nil {
		var diags instrument.Diagnostics
		if errors.As(err, &diags) {
			printDiagnostics(stderr, diags)
			return exitDiagnostics
		}
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitError
	}
	return executeCommand(ctx, args, stderr)
}

// prepareCommand returns the tool command line to run in place of args. Only compile and link
// commands are changed, and the runtime package is compiled as is.
func prepareCommand(ctx context.Context, inst *instrument.Instrumenter, log logr.Logger, args []string) ([]string, error) {
	option := parseCompileOption(args)
	if option == nil || option.Output == "" {
		return args, nil
	}
	switch toolName(args) {
	case "compile":
		if option.Package == "" || option.Package == inst.Options().RuntimePath {
			return args, nil
		}
		newArgs, err := instrumentPackage(ctx, inst, log, args, option)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", option.Package, err)
		}
		return newArgs, nil
	case "link":
		if err := extendLinkImportCfg(ctx, inst, log, args, option); err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
	}
	return args, nil
}

// instrumentPackage rewrites the marked files of the compiled package into the build directory
// and swaps them into args.
func instrumentPackage(ctx context.Context, inst *instrument.Instrumenter, log logr.Logger,
	args []string, opt *compileOptions) ([]string, error) {
	buildDir := filepath.Dir(opt.Output)

	var files []string
	var indexes []int
	for idx, path := range args[1:] {
		if strings.HasPrefix(path, "-") || !strings.HasSuffix(path, ".go") {
			continue
		}
		files = append(files, path)
		indexes = append(indexes, idx+1)
	}
	if len(files) == 0 {
		return args, nil
	}

	results, err := inst.Files(ctx, files)
	if err != nil {
		return nil, err
	}

	var diags instrument.Diagnostics
	imports := make(map[string]bool)
	for i, res := range results {
		if res.Err != nil {
			var fileDiags instrument.Diagnostics
			if errors.As(res.Err, &fileDiags) {
				diags = append(diags, fileDiags...)
				continue
			}
			return nil, res.Err
		}
		if !res.Changed {
			continue
		}

		dest := filepath.Join(buildDir, "perfmark_"+filepath.Base(res.Filename))
		if err := writeFile(dest, res); err != nil {
			return nil, err
		}
		log.V(1).Info("rewrote file", "package", opt.Package, "file", res.Filename, "dest", dest)
		args[indexes[i]] = dest
		for _, path := range res.Imports {
			imports[path] = true
		}
	}
	if len(diags) > 0 {
		return nil, diags
	}

	if len(imports) > 0 && opt.ImportCfg != "" {
		paths := make([]string, 0, len(imports))
		for path := range imports {
			paths = append(paths, path)
		}
		cfgPath, err := extendImportCfg(ctx, log, goCommand(args[0]), opt.ImportCfg, buildDir, paths, false)
		if err != nil {
			return nil, err
		}
		opt.setImportCfg(args, cfgPath)
	}
	return args, nil
}

// extendLinkImportCfg makes the runtime package and its dependencies available to the linker.
// Extra importcfg entries are ignored when the program does not reference them.
func extendLinkImportCfg(ctx context.Context, inst *instrument.Instrumenter, log logr.Logger,
	args []string, opt *compileOptions) error {
	if opt.ImportCfg == "" {
		return nil
	}
	cfgPath, err := extendImportCfg(ctx, log, goCommand(args[0]), opt.ImportCfg, filepath.Dir(opt.Output),
		[]string{inst.Options().RuntimePath}, true)
	if err != nil {
		return err
	}
	opt.setImportCfg(args, cfgPath)
	return nil
}

// writeFile writes the instrumented source with a line directive pointing back at the original file.
func writeFile(dest string, res *instrument.Result) error {
	output, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer output.Close()
	if _, err := fmt.Fprintf(output, "//line %s:1\n", res.Filename); err != nil {
		return err
	}
	if _, err := output.Write(res.Output); err != nil {
		return err
	}
	return output.Close()
}
