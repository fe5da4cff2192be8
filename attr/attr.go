// Package attr parses the arguments of a //perfmark:mark directive.
//
// The grammar is ( "async" )? ( callback )? in either order, each slot at most once, where
// callback is a Go identifier or a package qualified identifier such as report.Observe.
package attr

import (
	"fmt"
	"go/scanner"
	"go/token"
)

// AsyncMarker marks the callback as a suspending call.
const AsyncMarker = "async"

// Ident is a callback reference, resolved later by the compiler.
type Ident struct {
	Package string
	Name    string
	Pos     token.Pos
}

func (i *Ident) String() string {
	if i.Package == "" {
		return i.Name
	}
	return i.Package + "." + i.Name
}

// Config is the parsed directive. A nil Callback selects the default stdout reporter.
type Config struct {
	Callback *Ident
	Async    bool
}

// ConfigError reports directive arguments that do not match the grammar.
type ConfigError struct {
	Pos token.Pos
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

// Token is a single lexed directive argument.
type Token struct {
	Tok token.Token
	Lit string
	Pos token.Pos
}

func (t Token) String() string {
	if t.Lit != "" {
		return t.Lit
	}
	return t.Tok.String()
}

// Lex splits directive arguments into Go tokens. base is the position of text[0] in the host file.
func Lex(text string, base token.Pos) ([]Token, error) {
	src := []byte(text)
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))

	var lexErr *ConfigError
	var s scanner.Scanner
	s.Init(file, src, func(pos token.Position, msg string) {
		if lexErr == nil {
			lexErr = &ConfigError{Pos: base + token.Pos(pos.Offset), Msg: msg}
		}
	}, 0)

	var tokens []Token
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		// automatically inserted at end of input
		if tok == token.SEMICOLON && lit == "\n" {
			continue
		}
		tokens = append(tokens, Token{
			Tok: tok,
			Lit: lit,
			Pos: base + token.Pos(file.Offset(pos)),
		})
	}
	if lexErr != nil {
		return nil, lexErr
	}
	return tokens, nil
}

// Parse builds a Config from lexed tokens. No tokens yields the zero Config.
func Parse(tokens []Token) (Config, error) {
	var cfg Config
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Tok != token.IDENT {
			return Config{}, unexpected(tok)
		}

		if tok.Lit == AsyncMarker {
			if cfg.Async {
				return Config{}, &ConfigError{Pos: tok.Pos, Msg: "duplicate async marker"}
			}
			cfg.Async = true
			continue
		}

		if cfg.Callback != nil {
			return Config{}, unexpected(tok)
		}
		if tok.Lit == "_" {
			return Config{}, &ConfigError{Pos: tok.Pos, Msg: "cannot use _ as callback"}
		}
		ident := &Ident{Name: tok.Lit, Pos: tok.Pos}
		if i+1 < len(tokens) && tokens[i+1].Tok == token.PERIOD {
			if i+2 >= len(tokens) || tokens[i+2].Tok != token.IDENT {
				return Config{}, &ConfigError{Pos: tokens[i+1].Pos, Msg: "expected identifier after ."}
			}
			ident.Package, ident.Name = tok.Lit, tokens[i+2].Lit
			i += 2
		}
		cfg.Callback = ident
	}
	return cfg, nil
}

// ParseDirective lexes and parses directive arguments in one step.
func ParseDirective(text string, base token.Pos) (Config, error) {
	tokens, err := Lex(text, base)
	if err != nil {
		return Config{}, err
	}
	return Parse(tokens)
}

func unexpected(tok Token) *ConfigError {
	return &ConfigError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected token %q", tok.String())}
}
