package rewrite

import (
	"fmt"
	"go/token"

	"github.com/dave/dst"
	"github.com/dave/dst/dstutil"
)

// exitWriter replaces every return of the function body with a block running the epilogue.
type exitWriter struct {
	epilogue *epilogue
	results  []dst.Expr
	opts     Options
	sites    int
}

func (w *exitWriter) pre(cursor *dstutil.Cursor) bool {
	switch n := cursor.Node().(type) {
	case *dst.FuncLit:
		// returns inside a closure leave the closure, not the instrumented function
		return false
	case *dst.ReturnStmt:
		cursor.Replace(w.wrap(n))
		w.sites++
		// the wrapper holds a return of its own
		return false
	}
	return true
}

// wrap builds
//
//	{
//		var perfmarkRet0 T0
//		perfmarkRet0 = <value>
//		<epilogue>
//		return perfmarkRet0
//	}
//
// so the returned values are computed before the epilogue observes the elapsed time.
// Bare returns keep their form: { <epilogue>; return }.
func (w *exitWriter) wrap(ret *dst.ReturnStmt) *dst.BlockStmt {
	block := &dst.BlockStmt{}
	block.Decs.NodeDecs = ret.Decs.NodeDecs
	ret.Decs.NodeDecs = dst.NodeDecs{}

	if len(ret.Results) == 0 || len(w.results) == 0 {
		block.List = append(w.epilogue.stmts(), ret)
		return block
	}

	names := make([]dst.Expr, 0, len(w.results))
	specs := make([]dst.Spec, 0, len(w.results))
	for i, typ := range w.results {
		name := fmt.Sprintf("%s%d", w.opts.resultName(), i)
		names = append(names, dst.NewIdent(name))
		specs = append(specs, &dst.ValueSpec{
			Names: []*dst.Ident{dst.NewIdent(name)},
			Type:  dst.Clone(typ).(dst.Expr),
		})
	}

	block.List = append(block.List,
		&dst.DeclStmt{Decl: &dst.GenDecl{Tok: token.VAR, Lparen: len(specs) > 1, Specs: specs}},
		&dst.AssignStmt{Lhs: names, Tok: token.ASSIGN, Rhs: ret.Results},
	)
	block.List = append(block.List, w.epilogue.stmts()...)

	results := make([]dst.Expr, 0, len(names))
	for _, name := range names {
		results = append(results, dst.Clone(name).(dst.Expr))
	}
	block.List = append(block.List, &dst.ReturnStmt{Results: results, Decs: ret.Decs})
	return block
}

// resultTypes flattens the result list, (a, b int) yields two entries.
func resultTypes(ft *dst.FuncType) []dst.Expr {
	if ft.Results == nil {
		return nil
	}
	var types []dst.Expr
	for _, field := range ft.Results.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			types = append(types, field.Type)
		}
	}
	return types
}
