package sqlref

import "strings"

// TableRef is a relation reference found in a FROM or JOIN position.
type TableRef struct {
	// Parts are the dotted name components, unquoted
	Parts []string
	// Start and End are the byte span of the whole dotted name
	Start int
	End   int
}

// Name returns the last component of the reference.
func (r TableRef) Name() string {
	return r.Parts[len(r.Parts)-1]
}

// String joins the parts with dots.
func (r TableRef) String() string {
	return strings.Join(r.Parts, ".")
}

// frame tracks clause state for one level of parenthesis nesting.
type frame struct {
	query       bool // a SELECT (or FROM-first query) was seen at this level
	inFrom      bool
	expectTable bool
	seen        bool // any token was read at this level
}

// clauseEnd are keywords that terminate a FROM clause at the current level.
var clauseEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "QUALIFY": true, "WINDOW": true, "UNION": true, "INTERSECT": true,
	"EXCEPT": true, "SELECT": true, "SET": true, "VALUES": true, "RETURNING": true,
}

// TableRefs returns the relation references of sql in source order.
// Common table expression names, table functions, file scans and subqueries
// are not references and are skipped.
func TableRefs(sql string) []TableRef {
	tokens := Tokenize(sql)
	ctes := cteNames(tokens)

	var refs []TableRef
	// The outermost level may start with FROM (DuckDB's FROM-first syntax).
	stack := []*frame{{query: true}}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		cur := stack[len(stack)-1]
		first := !cur.seen
		cur.seen = true

		switch tok.Type {
		case TOKEN_LPAREN:
			if cur.expectTable {
				// derived table: the alias follows the closing paren
				cur.expectTable = false
			}
			stack = append(stack, &frame{})
			continue
		case TOKEN_RPAREN:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		case TOKEN_SEMICOLON:
			stack = []*frame{{query: true}}
			continue
		case TOKEN_COMMA:
			if cur.inFrom && !cur.expectTable {
				cur.expectTable = true
			}
			continue
		case TOKEN_KEYWORD:
			switch {
			case tok.Keyword == "SELECT":
				cur.query = true
				cur.inFrom = false
				cur.expectTable = false
			case tok.Keyword == "FROM" && (cur.query || first):
				// a frame opening with FROM is a FROM-first subquery or CTE body
				cur.query = true
				cur.inFrom = true
				cur.expectTable = true
			case tok.Keyword == "JOIN" && cur.inFrom:
				cur.expectTable = true
			case tok.Keyword == "ON" || tok.Keyword == "USING":
				cur.expectTable = false
			case tok.Keyword == "LATERAL":
				// keep expecting: LATERAL precedes a subquery or function
			case clauseEnd[tok.Keyword]:
				cur.inFrom = false
				cur.expectTable = false
			default:
				if cur.expectTable {
					cur.expectTable = false
				}
			}
			continue
		case TOKEN_IDENT:
			if !cur.expectTable {
				continue
			}
			cur.expectTable = false
			ref, next := readDottedName(tokens, i)
			i = next - 1
			if next < len(tokens) && tokens[next].Type == TOKEN_LPAREN {
				// table function such as read_csv(...)
				continue
			}
			if len(ref.Parts) == 1 && ctes[strings.ToLower(ref.Parts[0])] {
				continue
			}
			refs = append(refs, ref)
		default:
			// string file scans, numbers and operators end the expectation
			cur.expectTable = false
		}
	}
	return refs
}

// readDottedName reads IDENT (. IDENT)* starting at tokens[i].
// It returns the reference and the index of the first token after it.
func readDottedName(tokens []Token, i int) (TableRef, int) {
	ref := TableRef{Parts: []string{tokens[i].Literal}, Start: tokens[i].Pos.Offset, End: tokens[i].End}
	j := i + 1
	for j+1 < len(tokens) && tokens[j].Type == TOKEN_DOT && tokens[j+1].Type == TOKEN_IDENT {
		ref.Parts = append(ref.Parts, tokens[j+1].Literal)
		ref.End = tokens[j+1].End
		j += 2
	}
	return ref, j
}

// cteNames collects the names bound by WITH clauses anywhere in the statement.
func cteNames(tokens []Token) map[string]bool {
	names := make(map[string]bool)
	for i := 0; i < len(tokens); i++ {
		if !tokens[i].Is("WITH") {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].Is("RECURSIVE") {
			j++
		}
		for j < len(tokens) && tokens[j].Type == TOKEN_IDENT {
			names[strings.ToLower(tokens[j].Literal)] = true
			j++
			if j < len(tokens) && tokens[j].Type == TOKEN_LPAREN {
				// column list
				j = matchParen(tokens, j) + 1
			}
			// AS [NOT] [MATERIALIZED]
			for j < len(tokens) && tokens[j].Type != TOKEN_LPAREN {
				j++
			}
			if j >= len(tokens) {
				break
			}
			j = matchParen(tokens, j) + 1
			if j < len(tokens) && tokens[j].Type == TOKEN_COMMA {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return names
}

// matchParen returns the index of the paren closing tokens[open], or len(tokens)-1.
func matchParen(tokens []Token, open int) int {
	depth := 0
	for k := open; k < len(tokens); k++ {
		switch tokens[k].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return len(tokens) - 1
}

// QualifyTables prefixes every bare or schema-qualified relation reference
// with catalog. Fully qualified references are left untouched, as are string
// literals, comments, column names and common table expression names.
func QualifyTables(sql, catalog string) string {
	refs := TableRefs(sql)
	if len(refs) == 0 {
		return sql
	}
	prefix := QuoteIdent(catalog) + "."

	var b strings.Builder
	b.Grow(len(sql) + len(refs)*len(prefix))
	last := 0
	for _, ref := range refs {
		if len(ref.Parts) > 2 {
			continue
		}
		b.WriteString(sql[last:ref.Start])
		b.WriteString(prefix)
		last = ref.Start
	}
	b.WriteString(sql[last:])
	return b.String()
}

// QuoteIdent quotes an identifier for DuckDB.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString quotes a string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
