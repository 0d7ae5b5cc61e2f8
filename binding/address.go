// Package binding connects external values to registered commands through
// compact string addresses. An address names one aspect of one command, for
// example "backup arg 1" or "backup run wait"; typed bindings resolve an
// address against a registry once and then read or write that aspect.
package binding

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the aspect of a command an address refers to. Kinds form
// a bitmask so a call site can state the set of kinds it accepts.
type Kind uint8

const (
	// KindArgument addresses one argument position ("arg <position>").
	KindArgument Kind = 1 << iota

	// KindEnvVar addresses one environment override ("env <name>").
	KindEnvVar

	// KindExitCode addresses the recorded exit code ("exit_code").
	KindExitCode

	// KindRun addresses the run trigger ("run", optionally "run wait").
	KindRun

	// KindStderr addresses the captured stderr ("stderr").
	KindStderr

	// KindStdin addresses the stdin payload ("stdin", optionally
	// "stdin null_terminated").
	KindStdin

	// KindStdout addresses the captured stdout ("stdout").
	KindStdout
)

// String returns the address token of a single kind.
func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "arg"
	case KindEnvVar:
		return "env"
	case KindExitCode:
		return "exit_code"
	case KindRun:
		return "run"
	case KindStderr:
		return "stderr"
	case KindStdin:
		return "stdin"
	case KindStdout:
		return "stdout"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrKindNotAllowed indicates a syntactically valid address whose kind the
// call site does not accept.
var ErrKindNotAllowed = errors.New("address kind is not allowed here")

// Address is a parsed command address.
type Address struct {
	// CommandID is the registry key of the addressed command.
	CommandID string

	// Kind is the addressed aspect.
	Kind Kind

	// Position is the argument position for KindArgument.
	Position int

	// EnvName is the variable name for KindEnvVar.
	EnvName string

	// Wait is the "wait" option of a KindRun address.
	Wait bool

	// NullTerminated is the "null_terminated" option of a KindStdin
	// address.
	NullTerminated bool
}

// ParseError is a syntax error in an address.
type ParseError struct {
	// Position is the 1-based character position the error was found at.
	Position int

	// Message describes what was expected or found.
	Message string
}

// Error returns the error message.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address at character %d: %s", e.Position, e.Message)
}

// ParseAddress parses text against the address grammar:
//
//	<address>   := <commandID> <sep>+ <kind-spec>
//	<commandID> := [A-Za-z0-9_]+
//	<kind-spec> := "arg" <sep>+ <position>
//	             | "env" <sep>+ <name>
//	             | "exit_code"
//	             | "run" [<sep>+ "wait"]
//	             | "stderr"
//	             | "stdin" [<sep>+ "null_terminated"]
//	             | "stdout"
//
// allowed is the bitmask of kinds the caller accepts; a valid address with
// a kind outside the mask fails with ErrKindNotAllowed. Anything after a
// complete address is an error.
func ParseAddress(text string, allowed Kind) (Address, error) {
	p := &parser{text: text, allowed: allowed}
	return p.parse()
}

const (
	identChars     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_0123456789"
	separatorChars = " \t"
	digitChars     = "0123456789"
	digitChars1To9 = "123456789"
)

type parser struct {
	text    string
	allowed Kind
	pos     int
}

func (p *parser) parse() (Address, error) {
	var addr Address

	id, err := p.ident("a command ID")
	if err != nil {
		return Address{}, err
	}
	addr.CommandID = id

	if err := p.separator(); err != nil {
		return Address{}, err
	}

	kind, err := p.kind()
	if err != nil {
		return Address{}, err
	}
	addr.Kind = kind

	switch kind {
	case KindArgument:
		if err := p.separator(); err != nil {
			return Address{}, err
		}
		position, err := p.argumentPosition()
		if err != nil {
			return Address{}, err
		}
		addr.Position = position
	case KindEnvVar:
		if err := p.separator(); err != nil {
			return Address{}, err
		}
		name, err := p.ident("an environment variable name")
		if err != nil {
			return Address{}, err
		}
		addr.EnvName = name
	case KindRun:
		// The option is optional, but when present it must be separated.
		if !p.end() {
			if err := p.separator(); err != nil {
				return Address{}, err
			}
			addr.Wait = p.accept("wait")
		}
	case KindStdin:
		if !p.end() {
			if err := p.separator(); err != nil {
				return Address{}, err
			}
			addr.NullTerminated = p.accept("null_terminated")
		}
	}

	if !p.end() {
		return Address{}, p.errorf("expected end of input, found %q", p.excerpt())
	}
	return addr, nil
}

func (p *parser) kind() (Kind, error) {
	if p.end() {
		return 0, p.errorf("expected a kind, found end of input")
	}
	kinds := []struct {
		token string
		kind  Kind
	}{
		{"arg", KindArgument},
		{"env", KindEnvVar},
		{"exit_code", KindExitCode},
		{"run", KindRun},
		{"stderr", KindStderr},
		{"stdin", KindStdin},
		{"stdout", KindStdout},
	}
	for _, k := range kinds {
		if p.accept(k.token) {
			if p.allowed&k.kind == 0 {
				return 0, fmt.Errorf("%w: %s", ErrKindNotAllowed, k.token)
			}
			return k.kind, nil
		}
	}
	return 0, p.errorf("expected a kind, found %q", p.excerpt())
}

func (p *parser) argumentPosition() (int, error) {
	if p.end() {
		return 0, p.errorf("expected an argument position, found end of input")
	}
	if strings.IndexByte(digitChars1To9, p.text[p.pos]) < 0 {
		return 0, p.errorf("expected an argument position without a leading zero, found %q", p.excerpt())
	}
	value := int(p.text[p.pos] - '0')
	p.pos++

	digits := 1
	for !p.end() && strings.IndexByte(digitChars, p.text[p.pos]) >= 0 {
		value = value*10 + int(p.text[p.pos]-'0')
		p.pos++
		digits++
		// Every position below the highest one gets an argument vector
		// slot, so an absurdly large position would pin memory for
		// thousands of empty arguments.
		if digits > 4 {
			return 0, p.errorf("the argument position must have at most four digits")
		}
	}
	return value, nil
}

func (p *parser) ident(what string) (string, error) {
	start := p.pos
	if !p.acceptAnyOf(identChars) {
		if p.end() {
			return "", p.errorf("expected %s, found end of input", what)
		}
		return "", p.errorf("expected %s, found %q", what, p.excerpt())
	}
	for p.acceptAnyOf(identChars) {
	}
	return p.text[start:p.pos], nil
}

func (p *parser) separator() error {
	if !p.acceptAnyOf(separatorChars) {
		if p.end() {
			return p.errorf("expected a separator, found end of input")
		}
		return p.errorf("expected a separator, found %q", p.excerpt())
	}
	for p.acceptAnyOf(separatorChars) {
	}
	return nil
}

func (p *parser) accept(token string) bool {
	if len(p.text)-p.pos < len(token) {
		return false
	}
	if p.text[p.pos:p.pos+len(token)] != token {
		return false
	}
	p.pos += len(token)
	return true
}

func (p *parser) acceptAnyOf(set string) bool {
	if p.end() {
		return false
	}
	if strings.IndexByte(set, p.text[p.pos]) < 0 {
		return false
	}
	p.pos++
	return true
}

func (p *parser) end() bool {
	return p.pos == len(p.text)
}

// excerpt returns up to five characters from the current position, enough
// to locate the problem without quoting the whole address.
func (p *parser) excerpt() string {
	if len(p.text)-p.pos > 5 {
		return p.text[p.pos : p.pos+5]
	}
	return p.text[p.pos:]
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Position: p.pos + 1, Message: fmt.Sprintf(format, args...)}
}
