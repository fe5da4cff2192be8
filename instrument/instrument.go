// Package instrument applies the perfmark rewrite to Go source files.
//
// A file is parsed once, every //perfmark:mark directive is validated and its function
// rewritten, the imports needed by the generated code are added, and the result is
// formatted. A file with any diagnostic produces no output.
package instrument

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"runtime"
	"strings"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/mrproliu/go-perfmark/attr"
	"github.com/mrproliu/go-perfmark/rewrite"
)

const (
	DefaultDirective   = "perfmark:mark"
	DefaultRuntimePath = "github.com/mrproliu/go-perfmark"
	DefaultRuntimeName = "perfmark"
	DefaultPrefix      = "perfmark"
)

// Options configures an Instrumenter. Zero values select the defaults.
type Options struct {
	Directive   string
	RuntimePath string
	RuntimeName string
	Prefix      string
	// KeepDirective leaves the consumed directives in the output, a second run then instruments again.
	KeepDirective bool
}

func (o Options) withDefaults() Options {
	if o.Directive == "" {
		o.Directive = DefaultDirective
	}
	if o.RuntimePath == "" {
		o.RuntimePath = DefaultRuntimePath
	}
	if o.RuntimeName == "" {
		o.RuntimeName = DefaultRuntimeName
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	return o
}

// Result is the outcome of instrumenting one file.
type Result struct {
	Filename string
	Source   []byte
	// Output is the rewritten source, nil when the file has no directive.
	Output []byte
	// Functions lists the instrumented functions in source order.
	Functions []string
	// Imports lists the import paths added to the file.
	Imports []string
	Changed bool
	// Err is set by Files when the file could not be read or instrumented.
	Err error
}

// Instrumenter rewrites marked functions. It holds no per file state and is safe for concurrent use.
type Instrumenter struct {
	opts Options
	log  logr.Logger
}

func New(opts Options, log logr.Logger) *Instrumenter {
	return &Instrumenter{opts: opts.withDefaults(), log: log}
}

// Options returns the effective options.
func (i *Instrumenter) Options() Options {
	return i.opts
}

// Source instruments src. The returned error is Diagnostics when directives are misused,
// or a parse/format error.
func (i *Instrumenter) Source(filename string, src []byte) (*Result, error) {
	result := &Result{Filename: filename, Source: src}
	if !bytes.Contains(src, []byte("//"+i.opts.Directive)) {
		return result, nil
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	marks, diags := findMarks(fset, file, i.opts.Directive)
	if len(marks) == 0 && len(diags) == 0 {
		return result, nil
	}

	dec := decorator.NewDecorator(fset)
	dstFile, err := dec.DecorateFile(file)
	if err != nil {
		return nil, fmt.Errorf("decorate %s: %w", filename, err)
	}

	timeRef := resolveImport(file, "time", "time", i.opts.Prefix+"Time")
	fmtRef := resolveImport(file, "fmt", "fmt", i.opts.Prefix+"Fmt")
	runtimeRef := resolveImport(file, i.opts.RuntimePath, i.opts.RuntimeName, i.opts.Prefix+"Runtime")
	rwOpts := rewrite.Options{
		Prefix:     i.opts.Prefix,
		TimePkg:    timeRef.name,
		FmtPkg:     fmtRef.name,
		RuntimePkg: runtimeRef.name,
		ContextPkg: lookupImport(file, "context"),
	}

	usesFmt := false
	for _, m := range marks {
		cfg, err := attr.ParseDirective(m.args, m.argsPos)
		if _, isFunc := m.decl.(*ast.FuncDecl); isFunc && err != nil {
			diags = append(diags, newDiagnostic(fset, m.comment.Pos(), err))
			continue
		}

		target, ok := dec.Dst.Nodes[m.decl].(dst.Decl)
		if !ok {
			return nil, fmt.Errorf("decorate %s: missing declaration at %s", filename, fset.Position(m.decl.Pos()))
		}
		report, err := rewrite.Func(target, cfg, rwOpts)
		if err != nil {
			diags = append(diags, newDiagnostic(fset, m.decl.Pos(), err))
			continue
		}

		if cfg.Callback == nil {
			usesFmt = true
		}
		if cfg.Async && cfg.Callback != nil && report.ContextParam == "" {
			i.log.Info("async callback on a function without context.Context parameter, ctx must be in scope",
				"file", filename, "function", report.Function)
		}
		i.log.V(1).Info("instrumented function", "file", filename, "function", report.Function,
			"sites", report.Sites, "appended", report.Appended)
		result.Functions = append(result.Functions, report.Function)
		if !i.opts.KeepDirective {
			stripDirective(target, i.opts.Directive)
		}
	}
	if len(diags) > 0 {
		return nil, diags
	}

	restoredFset, restored, err := decorator.RestoreFile(dstFile)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", filename, err)
	}
	refs := []importRef{timeRef, runtimeRef}
	if usesFmt {
		refs = append(refs, fmtRef)
	}
	addImports(restoredFset, restored, refs...)
	for _, ref := range refs {
		if ref.added {
			result.Imports = append(result.Imports, ref.path)
		}
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, restoredFset, restored); err != nil {
		return nil, fmt.Errorf("format %s: %w", filename, err)
	}
	result.Output = buf.Bytes()
	result.Changed = !bytes.Equal(result.Output, src)
	return result, nil
}

// Files instruments every file concurrently. Results keep the order of filenames and carry
// their own errors; the returned error is only set when ctx is done.
func (i *Instrumenter) Files(ctx context.Context, filenames []string) ([]*Result, error) {
	results := make([]*Result, len(filenames))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for idx, filename := range filenames {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(filename)
			if err != nil {
				results[idx] = &Result{Filename: filename, Err: err}
				return nil
			}
			res, err := i.Source(filename, src)
			if err != nil {
				results[idx] = &Result{Filename: filename, Source: src, Err: err}
				return nil
			}
			if len(res.Functions) > 0 {
				i.log.Info("instrumented file", "file", filename, "functions", len(res.Functions))
			}
			results[idx] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// stripDirective removes the consumed directive from the declaration's doc comment.
func stripDirective(decl dst.Decl, directive string) {
	fn, ok := decl.(*dst.FuncDecl)
	if !ok {
		return
	}
	kept := fn.Decs.Start[:0]
	for _, line := range fn.Decs.Start {
		if _, isDirective := directiveArgs(strings.TrimSpace(line), directive); isDirective {
			continue
		}
		kept = append(kept, line)
	}
	fn.Decs.Start = kept
}

// IsDiagnostics reports whether err carries source diagnostics rather than an I/O or parse failure.
func IsDiagnostics(err error) bool {
	var diags Diagnostics
	return errors.As(err, &diags)
}
