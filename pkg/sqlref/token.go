package sqlref

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL

	TOKEN_IDENT   // orders, "Order Items"
	TOKEN_KEYWORD // SELECT, FROM, ...
	TOKEN_NUMBER  // 123, 45.67, 1e10
	TOKEN_STRING  // 'hello'

	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_SEMICOLON // ;
	TOKEN_STAR      // *
	TOKEN_OPERATOR  // + - / % || = <> < > :: etc.
)

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_IDENT:     "IDENT",
	TOKEN_KEYWORD:   "KEYWORD",
	TOKEN_NUMBER:    "NUMBER",
	TOKEN_STRING:    "STRING",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_SEMICOLON: ";",
	TOKEN_STAR:      "*",
	TOKEN_OPERATOR:  "OPERATOR",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position represents a position in the source SQL.
type Position struct {
	Line   int
	Column int
	Offset int // byte offset of the first character
}

// Token is a lexical token with its source span.
type Token struct {
	Type    TokenType
	Literal string // unquoted text for identifiers and strings
	Keyword string // upper-cased keyword, set for TOKEN_KEYWORD only
	Quoted  bool   // identifier was written in double quotes
	Pos     Position
	End     int // byte offset just past the token
}

// Is reports whether the token is the given keyword.
func (t Token) Is(keyword string) bool {
	return t.Type == TOKEN_KEYWORD && t.Keyword == keyword
}

// IsIdent reports whether the token names something (quoted or not).
func (t Token) IsIdent() bool {
	return t.Type == TOKEN_IDENT
}

// keywords are the reserved words the reference scanner needs to recognise.
// Words that commonly double as column names (year, month, first, ...) are left out.
var keywords = map[string]bool{
	"ALL": true, "ALTER": true, "AND": true, "ANTI": true, "AS": true, "ASC": true, "ASOF": true,
	"ATTACH": true, "BETWEEN": true, "BY": true, "CALL": true, "CASE": true, "CAST": true,
	"CHECKPOINT": true, "COPY": true, "CREATE": true, "CROSS": true, "DELETE": true, "DESC": true,
	"DESCRIBE": true, "DETACH": true, "DISTINCT": true, "DROP": true, "ELSE": true, "END": true,
	"EXCEPT": true, "EXISTS": true, "EXPORT": true, "FALSE": true, "FILTER": true, "FROM": true,
	"FULL": true, "GRANT": true, "GROUP": true, "HAVING": true, "ILIKE": true, "IMPORT": true,
	"IN": true, "INNER": true, "INSERT": true, "INSTALL": true, "INTERSECT": true, "INTERVAL": true,
	"INTO": true, "IS": true, "JOIN": true, "LATERAL": true, "LEFT": true, "LIKE": true,
	"LIMIT": true, "LOAD": true, "MERGE": true, "NATURAL": true, "NOT": true, "NULL": true,
	"OFFSET": true, "ON": true, "OR": true, "ORDER": true, "OUTER": true, "OVER": true,
	"PARTITION": true, "PIVOT": true, "POSITIONAL": true, "PRAGMA": true, "QUALIFY": true,
	"RECURSIVE": true, "REVOKE": true, "RIGHT": true, "SELECT": true, "SEMI": true, "SET": true,
	"SHOW": true, "SUMMARIZE": true, "THEN": true, "TRUE": true, "TRUNCATE": true, "UNION": true,
	"UNPIVOT": true, "UPDATE": true, "USE": true, "USING": true, "VACUUM": true, "VALUES": true,
	"WHEN": true, "WHERE": true, "WINDOW": true, "WITH": true,
}

// IsKeyword reports whether word is a recognised keyword (case-insensitive).
func IsKeyword(word string) bool {
	return keywords[upper(word)]
}
