// Package pack loads target definitions from packs: BSDL files given
// explicitly or found through a managed pack cache.
package pack

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

// FormatError reports a pack document that could not be turned into target
// definitions.
type FormatError struct {
	Source string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pack: %s: %v", e.Source, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Parser turns BSDL text into target definitions.
type Parser struct {
	parser *participle.Parser[packFile]
}

// NewParser builds the grammar.
func NewParser() (*Parser, error) {
	p, err := participle.Build[packFile](
		participle.Lexer(packLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("pack: build parser: %w", err)
	}
	return &Parser{parser: p}, nil
}

// Parse reads one pack document. source names it in errors and in the
// returned definitions.
func (p *Parser) Parse(source string, r io.Reader) ([]target.Definition, error) {
	file, err := p.parser.Parse(source, r)
	if err != nil {
		return nil, &FormatError{Source: source, Err: err}
	}
	defs := make([]target.Definition, 0, len(file.Entities))
	for _, ent := range file.Entities {
		def, err := definitionOf(ent)
		if err != nil {
			return nil, &FormatError{Source: source, Err: err}
		}
		def.Source = source
		defs = append(defs, def)
	}
	return defs, nil
}

// ParseString is Parse over a string.
func (p *Parser) ParseString(source, text string) ([]target.Definition, error) {
	return p.Parse(source, strings.NewReader(text))
}

// ParseFile parses the pack file at path.
func (p *Parser) ParseFile(path string) ([]target.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	defer f.Close()
	return p.Parse(path, f)
}

func definitionOf(ent *entityDecl) (target.Definition, error) {
	if ent.EndName != "" && !equalFold(ent.EndName, ent.Name) {
		return target.Definition{}, fmt.Errorf("entity %s closed as %s", ent.Name, ent.EndName)
	}
	def := target.Definition{
		Name:   target.Normalize(ent.Name),
		Entity: ent.Name,
	}

	id := ent.attribute("IDCODE_REGISTER")
	if id == nil {
		return target.Definition{}, fmt.Errorf("entity %s has no IDCODE_REGISTER", ent.Name)
	}
	value, mask, err := parseIDCodePattern(id.Value.text())
	if err != nil {
		return target.Definition{}, fmt.Errorf("entity %s: %w", ent.Name, err)
	}
	def.IDCode, def.IDMask = value, mask

	if ir := ent.attribute("INSTRUCTION_LENGTH"); ir != nil {
		n, ok := ir.Value.integer()
		if !ok || n <= 0 {
			return target.Definition{}, fmt.Errorf("entity %s: bad INSTRUCTION_LENGTH", ent.Name)
		}
		def.IRLength = n
	}
	return def, nil
}

// parseIDCodePattern reads a 32-digit binary IDCODE where X marks a
// don't-care bit. Whitespace is ignored.
func parseIDCodePattern(s string) (value, mask uint32, err error) {
	digits := 0
	for _, ch := range s {
		switch ch {
		case '0', '1', 'X', 'x':
			digits++
			value <<= 1
			mask <<= 1
			if ch == '1' {
				value |= 1
			}
			if ch == '0' || ch == '1' {
				mask |= 1
			}
		case ' ', '\t', '\n', '\r':
		default:
			return 0, 0, fmt.Errorf("IDCODE contains %q", ch)
		}
	}
	if digits != 32 {
		return 0, 0, fmt.Errorf("IDCODE must be 32 bits, got %d", digits)
	}
	if mask == 0 {
		return 0, 0, fmt.Errorf("IDCODE mask is zero")
	}
	return value, mask, nil
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
