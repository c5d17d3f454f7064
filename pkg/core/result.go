package core

// ResultSet holds rows returned by a governed query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Records returns the rows keyed by column name.
func (r *ResultSet) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// ResultFromRecords builds a result set from keyed rows using the given column order.
// Columns missing from a record are returned as nil.
func ResultFromRecords(columns []string, records []map[string]any) *ResultSet {
	rs := &ResultSet{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, len(records))}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
