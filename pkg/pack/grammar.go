package pack

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// packLexer tokenizes BSDL. Keywords are case-insensitive as in VHDL and must
// precede Ident.
var packLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},

	{Name: "KwEntity", Pattern: `(?i)\bentity\b`},
	{Name: "KwIs", Pattern: `(?i)\bis\b`},
	{Name: "KwEnd", Pattern: `(?i)\bend\b`},
	{Name: "KwGeneric", Pattern: `(?i)\bgeneric\b`},
	{Name: "KwPort", Pattern: `(?i)\bport\b`},
	{Name: "KwUse", Pattern: `(?i)\buse\b`},
	{Name: "KwAttribute", Pattern: `(?i)\battribute\b`},
	{Name: "KwConstant", Pattern: `(?i)\bconstant\b`},
	{Name: "KwOf", Pattern: `(?i)\bof\b`},
	{Name: "Mode", Pattern: `(?i)\b(inout|in|out|buffer|linkage)\b`},

	{Name: "Assign", Pattern: `:=`},
	{Name: "Punct", Pattern: `[:;,.&()]`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Real", Pattern: `[-+]?[0-9]+\.[0-9]+([eE][-+]?[0-9]+)?`},
	{Name: "Integer", Pattern: `[-+]?[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_]*`},
})

// packFile is one pack document: usually a single BSDL entity, but bundles
// concatenating several are accepted.
type packFile struct {
	Entities []*entityDecl `@@+`
}

type entityDecl struct {
	Pos lexer.Position

	Name     string       `KwEntity @Ident KwIs`
	Generics []*generic   `( KwGeneric "(" @@ ( ";" @@ )* ")" ";" )?`
	Ports    []*port      `( KwPort "(" @@ ( ";" @@ )* ";"? ")" ";" )?`
	Body     []*statement `@@*`
	EndName  string       `KwEnd KwEntity? @Ident? ";"`
}

type generic struct {
	Name    string  `@Ident ":"`
	Type    string  `@Ident`
	Default *string `( ":=" @String )?`
}

type port struct {
	Names []string   `@Ident ( "," @Ident )* ":"`
	Mode  string     `@Mode`
	Type  string     `@Ident`
	Range *portRange `( "(" @@ ")" )?`
}

type portRange struct {
	From int    `@Integer`
	Dir  string `@Ident`
	To   int    `@Integer`
}

type statement struct {
	Use       *useClause `  @@`
	Constant  *constant  `| @@`
	Attribute *attribute `| @@`
}

type useClause struct {
	Package string `KwUse @Ident "."`
	Member  string `@Ident ";"`
}

type constant struct {
	Name  string `KwConstant @Ident ":"`
	Type  string `@Ident ":="`
	Value *expr  `@@ ";"`
}

type attribute struct {
	Name  string   `KwAttribute @Ident KwOf`
	Of    []string `@Ident ( "," @Ident )* ":"`
	Class string   `@( Ident | KwEntity ) KwIs`
	Value *expr    `@@ ";"`
}

type expr struct {
	Terms []*term `@@ ( "&" @@ )*`
}

type term struct {
	String  *string  `  @String`
	Real    *float64 `| @Real`
	Integer *int     `| @Integer`
	Tuple   []*expr  `| "(" @@ ( "," @@ )* ")"`
	Ident   *string  `| @Ident`
}

// text joins the string literals of a concatenation, without quotes.
func (e *expr) text() string {
	if e == nil {
		return ""
	}
	var out string
	for _, t := range e.Terms {
		if t.String != nil {
			s := *t.String
			out += s[1 : len(s)-1]
		}
	}
	return out
}

func (e *expr) integer() (int, bool) {
	if e != nil && len(e.Terms) == 1 && e.Terms[0].Integer != nil {
		return *e.Terms[0].Integer, true
	}
	return 0, false
}

func (d *entityDecl) attribute(name string) *attribute {
	for _, st := range d.Body {
		if st.Attribute != nil && equalFold(st.Attribute.Name, name) {
			return st.Attribute
		}
	}
	return nil
}
