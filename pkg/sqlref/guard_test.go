package sqlref

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"select", "SELECT region FROM sales", true},
		{"trailing semicolon", "SELECT 1;", true},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"parenthesized", "(SELECT 1) UNION (SELECT 2)", true},
		{"from first", "FROM sales SELECT region", true},
		{"mutating keyword in string", "SELECT 'DROP TABLE x' AS s FROM sales", true},
		{"empty", "  -- nothing\n", false},
		{"two statements", "SELECT 1; SELECT 2", false},
		{"drop", "DROP TABLE sales", false},
		{"insert", "INSERT INTO sales VALUES (1)", false},
		{"cte into insert", "WITH t AS (SELECT 1) INSERT INTO sales SELECT * FROM t", false},
		{"attach", "ATTACH 'x.db' AS x", false},
		{"set", "SET threads = 1", false},
		{"piggyback", "SELECT 1; DELETE FROM sales", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.sql)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, tt.ok, IsReadOnly(tt.sql))
		})
	}
}

func TestEnsureLimit(t *testing.T) {
	assert.Equal(t, "SELECT * FROM sales\nLIMIT 100", EnsureLimit("SELECT * FROM sales;", 100))
	assert.Equal(t, "SELECT * FROM sales LIMIT 5", EnsureLimit("SELECT * FROM sales LIMIT 5", 100))
	// a LIMIT inside a subquery does not bound the outer query
	assert.Equal(t,
		"SELECT * FROM (SELECT * FROM sales LIMIT 5) t\nLIMIT 10",
		EnsureLimit("SELECT * FROM (SELECT * FROM sales LIMIT 5) t", 10))
	assert.Equal(t, "SELECT 1", EnsureLimit("SELECT 1", 0))
}

func TestProjections(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"aliases", "SELECT region, SUM(price * qty) AS revenue FROM sales GROUP BY region", []string{"region", "revenue"}},
		{"qualified column", "SELECT s.region FROM sales s", []string{"region"}},
		{"implicit alias", "SELECT count(*) n, sku FROM sales", []string{"n", "sku"}},
		{"expression text", "SELECT count(*) FROM sales", []string{"count(*)"}},
		{"star", "SELECT * FROM sales", []string{"*"}},
		{"distinct", "SELECT DISTINCT region FROM sales", []string{"region"}},
		{"cte", "WITH t AS (SELECT a, b FROM x) SELECT b AS total FROM t", []string{"total"}},
		{"case alias", "SELECT CASE WHEN qty > 1 THEN 'bulk' ELSE 'single' END AS kind FROM sales", []string{"kind"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Projections(tt.sql))
		})
	}
}

func TestIdentifiers(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"SUM(price * qty)", []string{"price", "qty"}},
		{"COUNT(DISTINCT customer_id)", []string{"customer_id"}},
		{"COUNT(*)", nil},
		{"SUM(CASE WHEN status = 'paid' THEN amount ELSE 0 END)", []string{"status", "amount"}},
		{"AVG(CAST(price AS DOUBLE))", []string{"price"}},
		{"SUM(price::DECIMAL(10,2))", []string{"price"}},
		{"SUM(s.Price) / NULLIF(SUM(s.qty), 0)", []string{"price", "qty"}},
		{"COUNT(*) FILTER (WHERE EXTRACT(year FROM ordered_at) = 2024)", []string{"ordered_at"}},
		{"SUM(CASE WHEN ordered_at >= current_date - INTERVAL 30 DAY THEN amount END)", []string{"ordered_at", "amount"}},
		{"COUNT(*) FILTER (WHERE ordered_at < TIMESTAMP '2024-01-01 00:00:00')", []string{"ordered_at"}},
		{"MAX(CURRENT_TIMESTAMP - shipped_at)", []string{"shipped_at"}},
		{"SUM(DATE '2024-01-01' - due)", []string{"due"}},
		{`SUM("current_date")`, []string{"current_date"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := Identifiers(tt.expr)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```sql\nSELECT 1;\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"  SELECT 1 ;  ", "SELECT 1"},
		{"```SELECT 1```", "SELECT 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in))
	}
}

func TestTokenize_Positions(t *testing.T) {
	tokens := Tokenize("SELECT\n  \"a b\" FROM t")
	if assert.Len(t, tokens, 4) {
		assert.True(t, tokens[0].Is("SELECT"))
		assert.Equal(t, "a b", tokens[1].Literal)
		assert.True(t, tokens[1].Quoted)
		assert.Equal(t, 2, tokens[1].Pos.Line)
		assert.Equal(t, 9, tokens[1].Pos.Offset)
		assert.Equal(t, 14, tokens[1].End)
	}
}

func TestExternalScans(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{name: "view only", sql: "SELECT region FROM sales", want: nil},
		{name: "read_csv", sql: "SELECT * FROM read_csv('/etc/passwd')", want: []string{"read_csv"}},
		{name: "replacement scan", sql: "SELECT * FROM sales JOIN 'secrets.parquet' s ON true", want: []string{"secrets.parquet"}},
		{name: "string literal elsewhere", sql: "SELECT 'read_csv(x)' FROM sales", want: nil},
		{name: "column named glob", sql: "SELECT glob FROM sales", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExternalScans(tt.sql))
		})
	}
}
