// Package rewrite injects timing instrumentation into a function declaration.
//
// The rewrite captures a start time as the first statement, wraps every return so the
// epilogue runs after the returned values are evaluated and before they leave the function,
// and appends the epilogue to bodies that can fall off their end. Function literals are
// never entered: their returns belong to the literal, not to the instrumented function.
package rewrite

import (
	"fmt"
	"go/token"

	"github.com/dave/dst"
	"github.com/dave/dst/dstutil"

	"github.com/mrproliu/go-perfmark/attr"
)

// Options holds the names the generated code refers to.
// TimePkg, FmtPkg and RuntimePkg are the file local names of the imported packages.
type Options struct {
	Prefix     string
	TimePkg    string
	FmtPkg     string
	RuntimePkg string
	// ContextPkg is the local name of the "context" import, empty when the file does not import it.
	ContextPkg string
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "perfmark"
	}
	if o.TimePkg == "" {
		o.TimePkg = "time"
	}
	if o.FmtPkg == "" {
		o.FmtPkg = "fmt"
	}
	if o.RuntimePkg == "" {
		o.RuntimePkg = "perfmark"
	}
	return o
}

func (o Options) startName() string  { return o.Prefix + "Start" }
func (o Options) ctxName() string    { return o.Prefix + "Ctx" }
func (o Options) argName() string    { return o.Prefix + "Arg" }
func (o Options) resultName() string { return o.Prefix + "Ret" }

// Report describes a completed rewrite.
type Report struct {
	Function string
	// Sites counts the wrapped returns plus the epilogue appended at the end of the body.
	Sites int
	// Appended is set when the body could fall off its end and received a trailing epilogue.
	Appended bool
	// ContextParam is the context.Context parameter used by an async callback, empty when none was found.
	ContextParam string
}

// UsageError reports a directive attached to something that cannot be instrumented.
type UsageError struct {
	Item string
	Msg  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("cannot instrument %s: %s", e.Item, e.Msg)
}

// Func rewrites decl in place. decl must be a function declaration with a body.
func Func(decl dst.Decl, cfg attr.Config, opts Options) (*Report, error) {
	fn, ok := decl.(*dst.FuncDecl)
	if !ok {
		return nil, &UsageError{Item: describeDecl(decl), Msg: "only function declarations can be marked"}
	}
	if fn.Body == nil {
		return nil, &UsageError{Item: "function " + fn.Name.Name, Msg: "function has no body"}
	}
	opts = opts.withDefaults()

	report := &Report{Function: funcName(fn)}
	ctxParam := ""
	if cfg.Async && cfg.Callback != nil {
		ctxParam = contextParam(fn, opts)
		report.ContextParam = ctxParam
		if ctxParam == "" {
			// resolution is left to the compiler, which rejects functions without a context
			ctxParam = "ctx"
		}
	}

	ep := &epilogue{
		opts:     opts,
		function: report.Function,
		callback: cfg.Callback,
		async:    cfg.Async,
		ctxParam: ctxParam,
	}
	ep.build()

	w := &exitWriter{
		epilogue: ep,
		results:  resultTypes(fn.Type),
		opts:     opts,
	}
	dstutil.Apply(fn.Body, w.pre, nil)
	report.Sites = w.sites

	if len(w.results) == 0 && !isTerminatingList(fn.Body.List, "") {
		fn.Body.List = append(fn.Body.List, ep.stmts()...)
		report.Appended = true
		report.Sites++
	}

	prelude := []dst.Stmt{startStmt(opts)}
	if report.Sites == 0 {
		prelude = append(prelude, blankUse(opts.startName()))
	}
	fn.Body.List = append(prelude, fn.Body.List...)
	return report, nil
}

func describeDecl(decl dst.Decl) string {
	gen, ok := decl.(*dst.GenDecl)
	if !ok {
		return "declaration"
	}
	switch gen.Tok {
	case token.TYPE:
		return "type declaration"
	case token.VAR:
		return "variable declaration"
	case token.CONST:
		return "constant declaration"
	case token.IMPORT:
		return "import declaration"
	}
	return "declaration"
}
