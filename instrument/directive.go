package instrument

import (
	"go/ast"
	"go/token"
	"strings"

	"github.com/mrproliu/go-perfmark/attr"
	"github.com/mrproliu/go-perfmark/rewrite"
)

// mark is a directive attached to a declaration.
type mark struct {
	decl    ast.Decl
	comment *ast.Comment
	args    string
	argsPos token.Pos
}

// directiveArgs returns the arguments of a //<directive> comment line.
func directiveArgs(text, directive string) (string, bool) {
	prefix := "//" + directive
	if !strings.HasPrefix(text, prefix) {
		return "", false
	}
	rest := text[len(prefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return rest, true
}

// findMarks collects the directives of a file. Directives that are not part of a
// declaration doc comment, and repeated directives, are reported as diagnostics.
func findMarks(fset *token.FileSet, file *ast.File, directive string) ([]*mark, Diagnostics) {
	var marks []*mark
	var diags Diagnostics
	attached := make(map[*ast.Comment]bool)

	for _, decl := range file.Decls {
		var doc *ast.CommentGroup
		switch d := decl.(type) {
		case *ast.FuncDecl:
			doc = d.Doc
		case *ast.GenDecl:
			doc = d.Doc
		}
		if doc == nil {
			continue
		}
		seen := false
		for _, c := range doc.List {
			args, ok := directiveArgs(c.Text, directive)
			if !ok {
				continue
			}
			attached[c] = true
			if seen {
				diags = append(diags, newDiagnostic(fset, c.Pos(), &attr.ConfigError{
					Pos: c.Pos(),
					Msg: "duplicate //" + directive + " directive",
				}))
				continue
			}
			seen = true
			marks = append(marks, &mark{
				decl:    decl,
				comment: c,
				args:    args,
				argsPos: c.Slash + token.Pos(len("//"+directive)),
			})
		}
	}

	for _, group := range file.Comments {
		for _, c := range group.List {
			if _, ok := directiveArgs(c.Text, directive); !ok || attached[c] {
				continue
			}
			diags = append(diags, newDiagnostic(fset, c.Pos(), detachedError(file, c, directive)))
		}
	}
	return marks, diags
}

func detachedError(file *ast.File, c *ast.Comment, directive string) error {
	for _, decl := range file.Decls {
		if c.Pos() < decl.Pos() || c.Pos() >= decl.End() {
			continue
		}
		switch d := decl.(type) {
		case *ast.FuncDecl:
			return &rewrite.UsageError{
				Item: "statement",
				Msg:  "//" + directive + " inside " + d.Name.Name + " must be moved to the doc comment of a function declaration",
			}
		case *ast.GenDecl:
			return &rewrite.UsageError{
				Item: genDeclItem(d.Tok),
				Msg:  "only function declarations can be marked",
			}
		}
	}
	return &rewrite.UsageError{
		Item: "detached directive",
		Msg:  "//" + directive + " must be part of the doc comment of a function declaration",
	}
}

func genDeclItem(tok token.Token) string {
	switch tok {
	case token.TYPE:
		return "type declaration"
	case token.VAR:
		return "variable declaration"
	case token.CONST:
		return "constant declaration"
	}
	return "declaration"
}
