package rewrite

import (
	"fmt"

	"github.com/dave/dst"
)

// funcName renders the reported name: F, T.F or (*T).F.
func funcName(fn *dst.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	typ := fn.Recv.List[0].Type
	pointer := false
	if star, ok := typ.(*dst.StarExpr); ok {
		pointer = true
		typ = star.X
	}
	switch t := typ.(type) {
	case *dst.IndexExpr:
		typ = t.X
	case *dst.IndexListExpr:
		typ = t.X
	}
	ident, ok := typ.(*dst.Ident)
	if !ok {
		return fn.Name.Name
	}
	if pointer {
		return fmt.Sprintf("(*%s).%s", ident.Name, fn.Name.Name)
	}
	return ident.Name + "." + fn.Name.Name
}

// contextParam returns the name of the first context.Context parameter, naming the
// parameters first when they are unnamed or the context is blank.
func contextParam(fn *dst.FuncDecl, opts Options) string {
	if opts.ContextPkg == "" || fn.Type.Params == nil {
		return ""
	}
	for i, field := range fn.Type.Params.List {
		if !isContextType(field.Type, opts.ContextPkg) {
			continue
		}
		if len(field.Names) == 0 {
			nameParameters(fn.Type.Params, opts.argName())
		}
		ident := field.Names[0]
		if ident.Name == "_" {
			ident.Name = fmt.Sprintf("%s%d", opts.argName(), i)
		}
		return ident.Name
	}
	return ""
}

func isContextType(expr dst.Expr, pkg string) bool {
	sel, ok := expr.(*dst.SelectorExpr)
	if !ok || sel.Sel.Name != "Context" {
		return false
	}
	x, ok := sel.X.(*dst.Ident)
	return ok && x.Name == pkg
}

// nameParameters gives every unnamed parameter a synthesized name. Go requires either all
// parameters to be named or none, so unnamed lists are named as a whole.
func nameParameters(fields *dst.FieldList, prefix string) {
	for i, f := range fields.List {
		if len(f.Names) == 0 {
			f.Names = []*dst.Ident{dst.NewIdent(fmt.Sprintf("%s%d", prefix, i))}
		}
	}
}
