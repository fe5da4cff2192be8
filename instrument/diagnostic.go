package instrument

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"github.com/mrproliu/go-perfmark/attr"
	"github.com/mrproliu/go-perfmark/rewrite"
)

// Diagnostic is a compile time error located in the instrumented source.
// Err is an *attr.ConfigError or a *rewrite.UsageError.
type Diagnostic struct {
	Pos token.Position
	Err error
}

func newDiagnostic(fset *token.FileSet, pos token.Pos, err error) *Diagnostic {
	var cfgErr *attr.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Pos.IsValid() {
		pos = cfgErr.Pos
	}
	return &Diagnostic{Pos: fset.Position(pos), Err: err}
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %v", d.Pos, d.Err)
}

func (d *Diagnostic) Unwrap() error {
	return d.Err
}

// IsConfig reports whether the directive arguments were malformed.
func (d *Diagnostic) IsConfig() bool {
	var cfgErr *attr.ConfigError
	return errors.As(d.Err, &cfgErr)
}

// IsUsage reports whether the directive was attached to something other than a function.
func (d *Diagnostic) IsUsage() bool {
	var usageErr *rewrite.UsageError
	return errors.As(d.Err, &usageErr)
}

// Diagnostics collects every diagnostic of a file. A file with diagnostics produces no output.
type Diagnostics []*Diagnostic

func (d Diagnostics) Error() string {
	lines := make([]string, 0, len(d))
	for _, diag := range d {
		lines = append(lines, diag.Error())
	}
	return strings.Join(lines, "\n")
}
