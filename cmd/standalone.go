package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/mrproliu/go-perfmark/instrument"
)

var (
	posColor  = color.New(color.Bold)
	nameColor = color.New(color.FgRed, color.Bold)
)

// runStandalone instruments files and directories given on the command line, or stdin
// when there are none.
func runStandalone(ctx context.Context, inst *instrument.Instrumenter, log logr.Logger, f *flags,
	stdin io.Reader, stdout, stderr io.Writer) int {
	if len(f.commands) == 0 {
		if f.write {
			fmt.Fprintln(stderr, "perfmark: cannot use -w with standard input")
			return exitDiagnostics
		}
		src, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "perfmark: %v\n", err)
			return exitDiagnostics
		}
		res, err := inst.Source("<standard input>", src)
		if err != nil {
			res = &instrument.Result{Filename: "<standard input>", Source: src, Err: err}
		}
		return report(f, []*instrument.Result{res}, stdout, stderr)
	}

	files, err := collectFiles(f.commands)
	if err != nil {
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitDiagnostics
	}
	log.V(1).Info("collected files", "count", len(files))

	results, err := inst.Files(ctx, files)
	if err != nil {
		fmt.Fprintf(stderr, "perfmark: %v\n", err)
		return exitDiagnostics
	}
	return report(f, results, stdout, stderr)
}

// collectFiles expands directories into their non-test Go files, skipping testdata and
// directories the go tool ignores.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if p != path && (name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") &&
				!strings.HasPrefix(name, ".") && !strings.HasPrefix(name, "_") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func report(f *flags, results []*instrument.Result, stdout, stderr io.Writer) int {
	status := exitOK
	for _, res := range results {
		if res.Err != nil {
			var diags instrument.Diagnostics
			if errors.As(res.Err, &diags) {
				printDiagnostics(stderr, diags)
			} else {
				fmt.Fprintf(stderr, "perfmark: %v\n", res.Err)
			}
			status = exitDiagnostics
			continue
		}

		if !f.list && !f.write && !f.diff {
			if res.Output != nil {
				_, _ = stdout.Write(res.Output)
			} else {
				_, _ = stdout.Write(res.Source)
			}
			continue
		}
		if !res.Changed {
			continue
		}
		if f.list {
			fmt.Fprintln(stdout, res.Filename)
		}
		if f.write {
			if err := writeBack(res); err != nil {
				fmt.Fprintf(stderr, "perfmark: %v\n", err)
				status = exitDiagnostics
				continue
			}
		}
		if f.diff {
			text, err := unifiedDiff(res)
			if err != nil {
				fmt.Fprintf(stderr, "perfmark: %s: %v\n", res.Filename, err)
				status = exitDiagnostics
				continue
			}
			_, _ = io.WriteString(stdout, text)
		}
	}
	return status
}

func writeBack(res *instrument.Result) error {
	info, err := os.Stat(res.Filename)
	if err != nil {
		return err
	}
	return os.WriteFile(res.Filename, res.Output, info.Mode().Perm())
}

func unifiedDiff(res *instrument.Result) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(res.Source)),
		B:        difflib.SplitLines(string(res.Output)),
		FromFile: res.Filename + ".orig",
		ToFile:   res.Filename,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// printDiagnostics writes one line per diagnostic: file:line:col: perfmark: message.
func printDiagnostics(w io.Writer, diags instrument.Diagnostics) {
	for _, diag := range diags {
		fmt.Fprintf(w, "%s %s %v\n", posColor.Sprintf("%s:", diag.Pos), nameColor.Sprint("perfmark:"), diag.Err)
	}
}
