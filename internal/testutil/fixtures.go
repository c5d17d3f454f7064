package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// SalesCSV is a small sales table: three regions, four SKUs.
const SalesCSV = `region,sku,price,qty
north,A1,10.0,2
north,B2,5.5,4
south,A1,10.0,1
south,C3,20.0,3
west,D4,7.25,8
west,A1,10.0,5
`

// SalesMetric returns the sales metric over a raw table named table.
func SalesMetric(table string) core.Metric {
	return core.Metric{
		Name:        "sales",
		Description: "Line-level sales with revenue",
		Dimensions: []core.Dimension{
			{Name: "region", Description: "Sales region", DataType: "VARCHAR"},
			{Name: "sku", Description: "Product SKU", DataType: "VARCHAR"},
			{Name: "price", Description: "Unit price", DataType: "DOUBLE"},
			{Name: "qty", Description: "Units sold", DataType: "BIGINT"},
		},
		Measures: []core.Measure{
			{Name: "revenue", Description: "Total revenue", Expr: "SUM(price * qty)"},
		},
		SampleQuestions: []string{"total revenue by region"},
		SQL:             fmt.Sprintf("SELECT region, sku, price, qty FROM %s", table),
	}
}

// WriteFile writes content to name under dir and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// NumberedCSV returns a single integer column named col holding 0..n-1.
func NumberedCSV(col string, n int) string {
	var b strings.Builder
	b.WriteString(col + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return b.String()
}
