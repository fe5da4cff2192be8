package rewrite

import (
	"go/token"
	"strconv"

	"github.com/dave/dst"

	"github.com/mrproliu/go-perfmark/attr"
)

// defaultFormat is the line printed when no callback is configured.
const defaultFormat = "(performance_mark) %s took %v\n"

// epilogue is the statement sequence run at every exit.
// The template is built once; every site receives its own clone since dst nodes cannot be shared.
type epilogue struct {
	opts     Options
	function string
	callback *attr.Ident
	async    bool
	ctxParam string

	template []dst.Stmt
}

func (e *epilogue) build() {
	e.template = []dst.Stmt{e.contextStmt(), e.dispatchStmt()}
}

// stmts returns a fresh copy of the epilogue.
func (e *epilogue) stmts() []dst.Stmt {
	result := make([]dst.Stmt, 0, len(e.template))
	for _, s := range e.template {
		result = append(result, dst.Clone(s).(dst.Stmt))
	}
	return result
}

// perfmarkCtx := perfmark.LogContext{Function: "name", Duration: time.Since(perfmarkStart)}
func (e *epilogue) contextStmt() dst.Stmt {
	return &dst.AssignStmt{
		Lhs: []dst.Expr{dst.NewIdent(e.opts.ctxName())},
		Tok: token.DEFINE,
		Rhs: []dst.Expr{
			&dst.CompositeLit{
				Type: selector(e.opts.RuntimePkg, "LogContext"),
				Elts: []dst.Expr{
					&dst.KeyValueExpr{
						Key:   dst.NewIdent("Function"),
						Value: stringLit(e.function),
					},
					&dst.KeyValueExpr{
						Key:   dst.NewIdent("Duration"),
						Value: call(selector(e.opts.TimePkg, "Since"), dst.NewIdent(e.opts.startName())),
					},
				},
			},
		},
	}
}

func (e *epilogue) dispatchStmt() dst.Stmt {
	if e.callback == nil {
		// fmt.Printf("(performance_mark) %s took %v\n", perfmarkCtx.Function, perfmarkCtx.Duration)
		return &dst.ExprStmt{X: call(selector(e.opts.FmtPkg, "Printf"),
			stringLit(defaultFormat),
			selector(e.opts.ctxName(), "Function"),
			selector(e.opts.ctxName(), "Duration"),
		)}
	}
	if !e.async {
		// logIt(perfmarkCtx)
		return &dst.ExprStmt{X: call(e.callbackExpr(), dst.NewIdent(e.opts.ctxName()))}
	}
	// _ = perfmark.Await(ctx, func() { logIt(ctx, perfmarkCtx) })
	// a canceled ctx only ends the wait, the exit goes on
	body := &dst.ExprStmt{X: call(e.callbackExpr(), dst.NewIdent(e.ctxParam), dst.NewIdent(e.opts.ctxName()))}
	return &dst.AssignStmt{
		Lhs: []dst.Expr{dst.NewIdent("_")},
		Tok: token.ASSIGN,
		Rhs: []dst.Expr{call(selector(e.opts.RuntimePkg, "Await"),
			dst.NewIdent(e.ctxParam),
			&dst.FuncLit{
				Type: &dst.FuncType{Func: true, Params: &dst.FieldList{}},
				Body: &dst.BlockStmt{List: []dst.Stmt{body}},
			},
		)},
	}
}

func (e *epilogue) callbackExpr() dst.Expr {
	if e.callback.Package != "" {
		return selector(e.callback.Package, e.callback.Name)
	}
	return dst.NewIdent(e.callback.Name)
}

// perfmarkStart := time.Now()
func startStmt(opts Options) dst.Stmt {
	return &dst.AssignStmt{
		Lhs: []dst.Expr{dst.NewIdent(opts.startName())},
		Tok: token.DEFINE,
		Rhs: []dst.Expr{call(selector(opts.TimePkg, "Now"))},
	}
}

// _ = name
func blankUse(name string) dst.Stmt {
	return &dst.AssignStmt{
		Lhs: []dst.Expr{dst.NewIdent("_")},
		Tok: token.ASSIGN,
		Rhs: []dst.Expr{dst.NewIdent(name)},
	}
}

func selector(x, sel string) *dst.SelectorExpr {
	return &dst.SelectorExpr{X: dst.NewIdent(x), Sel: dst.NewIdent(sel)}
}

func call(fun dst.Expr, args ...dst.Expr) *dst.CallExpr {
	return &dst.CallExpr{Fun: fun, Args: args}
}

func stringLit(s string) *dst.BasicLit {
	return &dst.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}
