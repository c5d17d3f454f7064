package sqlref

import (
	"fmt"
	"strings"
)

// mutating keywords may not appear as the main verb of a governed query.
var mutating = map[string]bool{
	"ALTER": true, "ATTACH": true, "CALL": true, "CHECKPOINT": true, "COPY": true,
	"CREATE": true, "DELETE": true, "DETACH": true, "DROP": true, "EXPORT": true,
	"GRANT": true, "IMPORT": true, "INSERT": true, "INSTALL": true, "INTO": true,
	"LOAD": true, "MERGE": true, "PRAGMA": true, "REVOKE": true, "SET": true,
	"TRUNCATE": true, "UPDATE": true, "USE": true, "VACUUM": true,
}

// Statements splits tokens on top-level semicolons, dropping empty statements.
func Statements(tokens []Token) [][]Token {
	var out [][]Token
	start := 0
	for i, tok := range tokens {
		if tok.Type == TOKEN_SEMICOLON {
			if i > start {
				out = append(out, tokens[start:i])
			}
			start = i + 1
		}
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out
}

// CheckReadOnly returns an error unless sql is exactly one query statement
// that cannot modify data or session state.
func CheckReadOnly(sql string) error {
	stmts := Statements(Tokenize(sql))
	switch len(stmts) {
	case 0:
		return fmt.Errorf("empty statement")
	case 1:
	default:
		return fmt.Errorf("expected a single statement, got %d", len(stmts))
	}

	tokens := stmts[0]
	main := mainVerb(tokens)
	if main < 0 {
		return fmt.Errorf("statement is not a query")
	}
	verb := tokens[main]
	if verb.Type == TOKEN_KEYWORD && mutating[verb.Keyword] {
		return fmt.Errorf("%s statements are not allowed", verb.Keyword)
	}
	if verb.Type != TOKEN_LPAREN && !verb.Is("SELECT") && !verb.Is("FROM") && !verb.Is("VALUES") {
		return fmt.Errorf("statement is not a query")
	}
	// a query body never carries a mutating verb at its own level
	depth := 0
	for _, tok := range tokens[main:] {
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_KEYWORD:
			if depth == 0 && mutating[tok.Keyword] {
				return fmt.Errorf("%s is not allowed in a query", tok.Keyword)
			}
		}
	}
	return nil
}

// IsReadOnly reports whether CheckReadOnly accepts sql.
func IsReadOnly(sql string) bool {
	return CheckReadOnly(sql) == nil
}

// mainVerb returns the index of the first token after any WITH clause, or -1.
func mainVerb(tokens []Token) int {
	if len(tokens) == 0 {
		return -1
	}
	if !tokens[0].Is("WITH") {
		return 0
	}
	j := 1
	if j < len(tokens) && tokens[j].Is("RECURSIVE") {
		j++
	}
	for j < len(tokens) {
		// name [ (cols) ] AS [NOT] [MATERIALIZED] ( body )
		j++
		if j < len(tokens) && tokens[j].Type == TOKEN_LPAREN {
			j = matchParen(tokens, j) + 1
		}
		for j < len(tokens) && tokens[j].Type != TOKEN_LPAREN {
			j++
		}
		if j >= len(tokens) {
			return -1
		}
		j = matchParen(tokens, j) + 1
		if j < len(tokens) && tokens[j].Type == TOKEN_COMMA {
			j++
			continue
		}
		break
	}
	if j >= len(tokens) {
		return -1
	}
	return j
}

// HasLimit reports whether the outermost query carries a LIMIT clause.
func HasLimit(sql string) bool {
	depth := 0
	for _, tok := range Tokenize(sql) {
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_KEYWORD:
			if depth == 0 && tok.Keyword == "LIMIT" {
				return true
			}
		}
	}
	return false
}

// EnsureLimit appends a LIMIT clause when the outermost query has none.
func EnsureLimit(sql string, limit int) string {
	if limit <= 0 || HasLimit(sql) {
		return sql
	}
	body := strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
	return fmt.Sprintf("%s\nLIMIT %d", body, limit)
}

// Projections returns the output column names of the outermost SELECT list.
// Aliases win; bare columns yield their last name part; other expressions
// yield their source text, which is how DuckDB names them.
func Projections(sql string) []string {
	tokens := Tokenize(sql)
	stmts := Statements(tokens)
	if len(stmts) == 0 {
		return nil
	}
	tokens = stmts[0]
	start := mainVerb(tokens)
	if start < 0 {
		return nil
	}

	// locate the SELECT list at depth zero (FROM-first queries put it later)
	depth := 0
	sel := -1
	for k := start; k < len(tokens); k++ {
		switch tokens[k].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_KEYWORD:
			if depth == 0 && tokens[k].Keyword == "SELECT" {
				sel = k
			}
		}
		if sel >= 0 {
			break
		}
	}
	if sel < 0 {
		return nil
	}

	k := sel + 1
	if k < len(tokens) && (tokens[k].Is("DISTINCT") || tokens[k].Is("ALL")) {
		k++
		if k+1 < len(tokens) && tokens[k].Is("ON") && tokens[k+1].Type == TOKEN_LPAREN {
			k = matchParen(tokens, k+1) + 1
		}
	}

	var items [][]Token
	var item []Token
	depth = 0
loop:
	for ; k < len(tokens); k++ {
		tok := tokens[k]
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_COMMA:
			if depth == 0 {
				items = append(items, item)
				item = nil
				continue
			}
		case TOKEN_KEYWORD:
			if depth == 0 && (tok.Keyword == "FROM" || clauseEnd[tok.Keyword]) {
				break loop
			}
		}
		item = append(item, tok)
	}
	if len(item) > 0 {
		items = append(items, item)
	}

	names := make([]string, 0, len(items))
	for _, it := range items {
		if name := projectionName(sql, it); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func projectionName(sql string, item []Token) string {
	if len(item) == 0 {
		return ""
	}
	last := item[len(item)-1]
	if last.Type == TOKEN_STAR {
		return "*"
	}
	if len(item) >= 2 && item[len(item)-2].Is("AS") && last.Type == TOKEN_IDENT {
		return last.Literal
	}
	if last.Type == TOKEN_STRING && len(item) >= 2 && item[len(item)-2].Is("AS") {
		return last.Literal
	}
	// bare or dotted column reference
	if isDottedName(item) {
		return last.Literal
	}
	// implicit alias: expression followed by an identifier
	if len(item) >= 2 && last.Type == TOKEN_IDENT {
		prev := item[len(item)-2]
		if prev.Type == TOKEN_RPAREN || prev.Type == TOKEN_IDENT || prev.Type == TOKEN_NUMBER || prev.Type == TOKEN_STRING || prev.Is("END") {
			return last.Literal
		}
	}
	return strings.TrimSpace(sql[item[0].Pos.Offset:last.End])
}

func isDottedName(item []Token) bool {
	for i, tok := range item {
		if i%2 == 0 && tok.Type != TOKEN_IDENT {
			return false
		}
		if i%2 == 1 && tok.Type != TOKEN_DOT {
			return false
		}
	}
	return len(item)%2 == 1
}

// niladic are functions called without parentheses.
var niladic = map[string]bool{
	"current_date": true, "current_time": true, "current_timestamp": true,
	"localtime": true, "localtimestamp": true, "current_user": true,
	"session_user": true, "current_role": true, "current_schema": true,
	"current_catalog": true,
}

// Identifiers returns the column names an expression refers to, lower-cased
// and de-duplicated in order of appearance. Function names, keywords, type
// names after AS or ::, typed literal prefixes (DATE '2024-01-01'),
// unquoted niladic functions, qualifiers and interval units are skipped.
func Identifiers(expr string) []string {
	tokens := Tokenize(expr)
	seen := make(map[string]bool)
	var out []string
	for i, tok := range tokens {
		if tok.Type != TOKEN_IDENT {
			continue
		}
		var prev, next Token
		if i > 0 {
			prev = tokens[i-1]
		}
		if i+1 < len(tokens) {
			next = tokens[i+1]
		}
		switch {
		case next.Type == TOKEN_LPAREN:
			continue // function call
		case next.Type == TOKEN_DOT:
			continue // qualifier
		case prev.Is("AS"), prev.Type == TOKEN_OPERATOR && prev.Literal == "::":
			continue // type name
		case prev.Type == TOKEN_NUMBER, prev.Type == TOKEN_STRING:
			continue // INTERVAL 1 DAY
		case next.Is("FROM") && prev.Type == TOKEN_LPAREN:
			continue // EXTRACT(YEAR FROM ...)
		case !tok.Quoted && next.Type == TOKEN_STRING:
			continue // TIMESTAMP '2024-01-01 00:00'
		case !tok.Quoted && niladic[strings.ToLower(tok.Literal)]:
			continue
		}
		name := strings.ToLower(tok.Literal)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// StripFences removes markdown code fences and trailing semicolons from
// generated SQL.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			lang := strings.TrimSpace(s[:nl])
			if lang == "" || !strings.ContainsAny(lang, " \t") {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ";"))
}

// scanFunctions read files or foreign systems directly.
var scanFunctions = map[string]bool{
	"read_csv": true, "read_csv_auto": true, "read_parquet": true, "parquet_scan": true,
	"read_json": true, "read_json_auto": true, "read_ndjson": true, "read_ndjson_auto": true,
	"read_text": true, "read_blob": true, "read_xlsx": true, "glob": true, "sniff_csv": true,
	"query": true, "query_table": true, "iceberg_scan": true, "delta_scan": true,
	"sqlite_scan": true, "postgres_scan": true, "postgres_query": true, "mysql_query": true,
}

// ExternalScans returns the table functions and file replacement scans of
// sql, i.e. reads that bypass catalog relations.
func ExternalScans(sql string) []string {
	tokens := Tokenize(sql)
	var out []string
	for i, tok := range tokens {
		if i+1 >= len(tokens) {
			break
		}
		next := tokens[i+1]
		switch {
		case tok.Type == TOKEN_IDENT && next.Type == TOKEN_LPAREN && scanFunctions[strings.ToLower(tok.Literal)]:
			out = append(out, strings.ToLower(tok.Literal))
		case (tok.Is("FROM") || tok.Is("JOIN")) && next.Type == TOKEN_STRING:
			out = append(out, next.Literal)
		}
	}
	return out
}
