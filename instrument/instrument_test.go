package instrument

import (
	"context"
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstrumenter(t *testing.T, opts Options) *Instrumenter {
	return New(opts, testr.New(t))
}

func instrumentSource(t *testing.T, opts Options, src string) *Result {
	t.Helper()
	res, err := newTestInstrumenter(t, opts).Source("sample.go", []byte(src))
	require.NoError(t, err)
	require.NotNil(t, res.Output)

	_, err = parser.ParseFile(token.NewFileSet(), "output.go", res.Output, parser.ParseComments)
	require.NoError(t, err, string(res.Output))
	return res
}

func diagnosticsOf(t *testing.T, src string) Diagnostics {
	t.Helper()
	res, err := newTestInstrumenter(t, Options{}).Source("sample.go", []byte(src))
	require.Error(t, err)
	assert.Nil(t, res)
	require.True(t, IsDiagnostics(err), err.Error())

	var diags Diagnostics
	require.True(t, errors.As(err, &diags))
	return diags
}

func TestSourceWithoutDirective(t *testing.T) {
	src := "package sample\n\nfunc work() int { return 1 }\n"
	res, err := newTestInstrumenter(t, Options{}).Source("sample.go", []byte(src))
	require.NoError(t, err)
	assert.Nil(t, res.Output)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Functions)
}

func TestSourceDefaultPrint(t *testing.T) {
	res := instrumentSource(t, Options{}, `package sample

// work does some work.
//perfmark:mark
func work() int {
	return 1
}
`)
	out := string(res.Output)

	assert.True(t, res.Changed)
	assert.Equal(t, []string{"work"}, res.Functions)
	assert.Equal(t, []string{"time", DefaultRuntimePath, "fmt"}, res.Imports)
	assert.Contains(t, out, `perfmark "github.com/mrproliu/go-perfmark"`)
	assert.Contains(t, out, "perfmarkStart := time.Now()")
	assert.Contains(t, out, `perfmark.LogContext{Function: "work", Duration: time.Since(perfmarkStart)}`)
	assert.Contains(t, out, `fmt.Printf("(performance_mark) %s took %v\n", perfmarkCtx.Function, perfmarkCtx.Duration)`)
	assert.Contains(t, out, "// work does some work.")
	assert.NotContains(t, out, "//perfmark:mark")
}

func TestSourceKeepDirective(t *testing.T) {
	res := instrumentSource(t, Options{KeepDirective: true}, `package sample

//perfmark:mark
func work() {}
`)
	assert.Contains(t, string(res.Output), "//perfmark:mark\nfunc work() {")
}

func TestSourceReusesExistingImports(t *testing.T) {
	res := instrumentSource(t, Options{}, `package sample

import (
	"context"
	t "time"

	pm "github.com/mrproliu/go-perfmark"
)

var started = t.Now()

func logIt(ctx context.Context, lc pm.LogContext) {}

//perfmark:mark async logIt
func work(ctx context.Context) {}
`)
	out := string(res.Output)

	assert.Empty(t, res.Imports)
	assert.Contains(t, out, "perfmarkStart := t.Now()")
	assert.Contains(t, out, "pm.LogContext{")
	assert.Contains(t, out, "_ = pm.Await(ctx, func() {")
	assert.NotContains(t, out, `"fmt"`)
}

func TestSourceAliasesTakenNames(t *testing.T) {
	res := instrumentSource(t, Options{}, `package sample

var time = 1

//perfmark:mark
func work() {}
`)
	out := string(res.Output)

	assert.Contains(t, out, `perfmarkTime "time"`)
	assert.Contains(t, out, "perfmarkStart := perfmarkTime.Now()")
	assert.Contains(t, out, "perfmarkTime.Since(perfmarkStart)")
}

func TestSourceCallbackSkipsFmt(t *testing.T) {
	res := instrumentSource(t, Options{}, `package sample

import perfmark "github.com/mrproliu/go-perfmark"

func logIt(lc perfmark.LogContext) {}

//perfmark:mark logIt
func work() error {
	return nil
}
`)
	assert.Equal(t, []string{"time"}, res.Imports)
	assert.Contains(t, string(res.Output), "logIt(perfmarkCtx)")
}

func TestSourceCustomOptions(t *testing.T) {
	res := instrumentSource(t, Options{
		Directive:   "timing:mark",
		RuntimePath: "example.com/timing",
		RuntimeName: "timing",
		Prefix:      "tm",
	}, `package sample

//perfmark:mark
func untouched() {}

//timing:mark
func work() {}
`)
	out := string(res.Output)

	assert.Equal(t, []string{"work"}, res.Functions)
	assert.Contains(t, out, `"example.com/timing"`)
	assert.Contains(t, out, "tmStart := time.Now()")
	assert.Contains(t, out, "tmCtx := timing.LogContext{")
	assert.Contains(t, out, "//perfmark:mark\nfunc untouched() {}")
}

func TestSourceConfigError(t *testing.T) {
	diags := diagnosticsOf(t, `package sample

//perfmark:mark logIt extra
func work() {}
`)
	require.Len(t, diags, 1)
	assert.True(t, diags[0].IsConfig())
	assert.Equal(t, 3, diags[0].Pos.Line)
	assert.Equal(t, 23, diags[0].Pos.Column)
	assert.Contains(t, diags[0].Error(), `sample.go:3:23: unexpected token "extra"`)
}

func TestSourceUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{
			name: "type",
			src:  "package sample\n\n//perfmark:mark\ntype T struct{}\n",
			line: 4,
			msg:  "cannot instrument type declaration: only function declarations can be marked",
		},
		{
			name: "var",
			src:  "package sample\n\n//perfmark:mark\nvar v = 1\n",
			line: 4,
			msg:  "cannot instrument variable declaration",
		},
		{
			name: "statement",
			src:  "package sample\n\nfunc work() {\n\t//perfmark:mark\n\t_ = 1\n}\n",
			line: 4,
			msg:  "cannot instrument statement",
		},
		{
			name: "detached",
			src:  "package sample\n\n//perfmark:mark\n\nfunc work() {}\n",
			line: 3,
			msg:  "cannot instrument detached directive",
		},
		{
			name: "no_body",
			src:  "package sample\n\n//perfmark:mark\nfunc work()\n",
			line: 4,
			msg:  "function has no body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := diagnosticsOf(t, tt.src)
			require.Len(t, diags, 1)
			assert.True(t, diags[0].IsUsage())
			assert.Equal(t, tt.line, diags[0].Pos.Line)
			assert.Contains(t, diags[0].Error(), tt.msg)
		})
	}
}

func TestSourceDuplicateDirective(t *testing.T) {
	diags := diagnosticsOf(t, `package sample

//perfmark:mark
//perfmark:mark
func work() {}
`)
	require.Len(t, diags, 1)
	assert.True(t, diags[0].IsConfig())
	assert.Equal(t, 4, diags[0].Pos.Line)
}

func TestSourceCollectsAllDiagnostics(t *testing.T) {
	diags := diagnosticsOf(t, `package sample

//perfmark:mark async async
func first() {}

//perfmark:mark
type T struct{}

//perfmark:mark
func fine() {}
`)
	require.Len(t, diags, 2)
	assert.Equal(t, 3, diags[0].Pos.Line)
	assert.Equal(t, 7, diags[1].Pos.Line)
	assert.Len(t, strings.Split(diags.Error(), "\n"), 2)
}

func TestSourceParseError(t *testing.T) {
	_, err := newTestInstrumenter(t, Options{}).Source("sample.go", []byte("package sample\n\n//perfmark:mark\nfunc {"))
	require.Error(t, err)
	assert.False(t, IsDiagnostics(err))
	assert.Contains(t, err.Error(), "parse sample.go")
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		filename := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(filename, []byte(src), 0o600))
		return filename
	}
	marked := write("marked.go", "package sample\n\n//perfmark:mark\nfunc work() {}\n")
	plain := write("plain.go", "package sample\n\nfunc other() {}\n")
	broken := write("broken.go", "package sample\n\n//perfmark:mark\ntype T int\n")
	missing := filepath.Join(dir, "missing.go")

	results, err := newTestInstrumenter(t, Options{}).Files(context.Background(), []string{marked, plain, broken, missing})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, marked, results[0].Filename)
	assert.True(t, results[0].Changed)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, plain, results[1].Filename)
	assert.False(t, results[1].Changed)
	assert.NoError(t, results[1].Err)

	assert.Equal(t, broken, results[2].Filename)
	assert.True(t, IsDiagnostics(results[2].Err))

	assert.Equal(t, missing, results[3].Filename)
	assert.ErrorIs(t, results[3].Err, os.ErrNotExist)
}

func TestFilesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestInstrumenter(t, Options{}).Files(ctx, []string{"a.go"})
	assert.ErrorIs(t, err, context.Canceled)
}
