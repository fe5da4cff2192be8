package rewrite

import (
	"go/token"

	"github.com/dave/dst"
)

// Terminating statements as defined by the Go specification. A body ending in one cannot
// fall off its end, so it never receives a trailing epilogue.

func isTerminating(s dst.Stmt, label string) bool {
	switch s := s.(type) {
	case *dst.ReturnStmt:
		return true

	case *dst.BranchStmt:
		return s.Tok == token.GOTO || s.Tok == token.FALLTHROUGH

	case *dst.ExprStmt:
		if call, ok := s.X.(*dst.CallExpr); ok {
			if ident, ok := call.Fun.(*dst.Ident); ok && ident.Name == "panic" && ident.Path == "" {
				return true
			}
		}

	case *dst.BlockStmt:
		return isTerminatingList(s.List, "")

	case *dst.IfStmt:
		return s.Else != nil && isTerminating(s.Body, "") && isTerminating(s.Else, "")

	case *dst.LabeledStmt:
		return isTerminating(s.Stmt, s.Label.Name)

	case *dst.SwitchStmt:
		return isTerminatingSwitch(s.Body, label)

	case *dst.TypeSwitchStmt:
		return isTerminatingSwitch(s.Body, label)

	case *dst.SelectStmt:
		for _, cc := range s.Body.List {
			cc := cc.(*dst.CommClause)
			if !isTerminatingList(cc.Body, "") || hasBreakList(cc.Body, label, true) {
				return false
			}
		}
		return true

	case *dst.ForStmt:
		return s.Cond == nil && !hasBreak(s.Body, label, true)
	}
	return false
}

func isTerminatingList(list []dst.Stmt, label string) bool {
	// trailing empty statements are permitted
	i := len(list) - 1
	for i >= 0 {
		if _, ok := list[i].(*dst.EmptyStmt); !ok {
			break
		}
		i--
	}
	return i >= 0 && isTerminating(list[i], label)
}

func isTerminatingSwitch(body *dst.BlockStmt, label string) bool {
	hasDefault := false
	for _, cc := range body.List {
		cc := cc.(*dst.CaseClause)
		if cc.List == nil {
			hasDefault = true
		}
		if !isTerminatingList(cc.Body, "") || hasBreakList(cc.Body, label, true) {
			return false
		}
	}
	return hasDefault
}

// hasBreak reports whether s contains a break referring to the enclosing statement.
// implicit is set when an unlabeled break would refer to it.
func hasBreak(s dst.Stmt, label string, implicit bool) bool {
	switch s := s.(type) {
	case *dst.BranchStmt:
		if s.Tok == token.BREAK {
			if s.Label == nil {
				return implicit
			}
			return s.Label.Name == label
		}

	case *dst.LabeledStmt:
		return hasBreak(s.Stmt, label, implicit)

	case *dst.BlockStmt:
		return hasBreakList(s.List, label, implicit)

	case *dst.IfStmt:
		if hasBreak(s.Body, label, implicit) || (s.Else != nil && hasBreak(s.Else, label, implicit)) {
			return true
		}

	case *dst.CaseClause:
		return hasBreakList(s.Body, label, implicit)

	case *dst.CommClause:
		return hasBreakList(s.Body, label, implicit)

	case *dst.SwitchStmt:
		return label != "" && hasBreak(s.Body, label, false)

	case *dst.TypeSwitchStmt:
		return label != "" && hasBreak(s.Body, label, false)

	case *dst.SelectStmt:
		return label != "" && hasBreak(s.Body, label, false)

	case *dst.ForStmt:
		return label != "" && hasBreak(s.Body, label, false)

	case *dst.RangeStmt:
		return label != "" && hasBreak(s.Body, label, false)
	}
	return false
}

func hasBreakList(list []dst.Stmt, label string, implicit bool) bool {
	for _, s := range list {
		if hasBreak(s, label, implicit) {
			return true
		}
	}
	return false
}
