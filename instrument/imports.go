package instrument

import (
	"go/ast"
	"go/token"
	"path"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// importRef is the file local name of a package used by the generated code.
type importRef struct {
	path  string
	name  string
	alias string // name given to a newly added import, empty for the default
	added bool   // set when the file does not import the package yet
}

// resolveImport finds how path is referenced in file. A missing import is given its
// default name, or fallback when the default is already taken by another identifier.
func resolveImport(file *ast.File, pkgPath, defaultName, fallback string) importRef {
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil || p != pkgPath {
			continue
		}
		if spec.Name == nil {
			return importRef{path: pkgPath, name: defaultName}
		}
		if spec.Name.Name != "_" && spec.Name.Name != "." {
			return importRef{path: pkgPath, name: spec.Name.Name}
		}
	}

	ref := importRef{path: pkgPath, name: defaultName, added: true}
	if nameTaken(file, defaultName) {
		ref.name = fallback
		ref.alias = fallback
	} else if path.Base(pkgPath) != defaultName {
		ref.alias = defaultName
	}
	return ref
}

// lookupImport returns the local name of an existing import, empty when absent.
func lookupImport(file *ast.File, pkgPath string) string {
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil || p != pkgPath {
			continue
		}
		if spec.Name == nil {
			return path.Base(pkgPath)
		}
		if spec.Name.Name != "_" && spec.Name.Name != "." {
			return spec.Name.Name
		}
	}
	return ""
}

func nameTaken(file *ast.File, name string) bool {
	for _, spec := range file.Imports {
		local := ""
		if spec.Name != nil {
			local = spec.Name.Name
		} else if p, err := strconv.Unquote(spec.Path.Value); err == nil {
			local = path.Base(p)
		}
		if local == name {
			return true
		}
	}
	//nolint:staticcheck // the file scope is enough to detect top level collisions
	return file.Scope != nil && file.Scope.Lookup(name) != nil
}

// addImports inserts the imports the generated code needs into the restored file.
func addImports(fset *token.FileSet, file *ast.File, refs ...importRef) {
	for _, ref := range refs {
		if ref.added {
			astutil.AddNamedImport(fset, file, ref.alias, ref.path)
		}
	}
}
