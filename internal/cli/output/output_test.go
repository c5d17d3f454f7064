package output

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func TestMode_Resolve(t *testing.T) {
	tests := []struct {
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
		{ModeMarkdown, true, ModeMarkdown},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.Resolve(tt.isTTY))
		})
	}
}

func TestRenderer_NonTTYHasNoANSI(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)

	r.Header(1, "Metrics")
	r.KeyValue("Dimensions", "region")
	r.StatusLine("sales", true, "(3 categories)")
	r.StatusLine("churn", false, "")
	r.Success("deployed")
	r.Warning("stale")
	r.Error("boom")

	assert.False(t, ansiPattern.MatchString(out.String()+errOut.String()))
	assert.Contains(t, out.String(), "✓ sales (3 categories)")
	assert.Contains(t, out.String(), "✗ churn")
	assert.Contains(t, errOut.String(), "warning: stale")
	assert.Contains(t, errOut.String(), "boom")
}

func TestRenderer_JSONKeepsStdoutClean(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeJSON)

	r.Success("saved")
	r.Muted("thread 1")
	require.NoError(t, r.JSON(map[string]int{"rows": 3}))

	assert.JSONEq(t, `{"rows": 3}`, out.String())
	assert.Contains(t, errOut.String(), "saved")
	assert.Contains(t, errOut.String(), "thread 1")
}

func TestRenderer_Markdown(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeAuto)
	require.Equal(t, ModeMarkdown, r.EffectiveMode())

	r.Header(2, "sales")
	r.KeyValue("Table", "orders")

	assert.Equal(t, "## sales\n- **Table**: orders\n", out.String())
}

func TestRenderTable(t *testing.T) {
	rs := &core.ResultSet{
		Columns: []string{"region", "revenue"},
		Rows: [][]any{
			{"north", 42.0},
			{nil, int64(7)},
		},
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderTable(&buf, rs, ModeText))
		s := buf.String()
		assert.Contains(t, s, "region")
		assert.Contains(t, s, "north")
		assert.Contains(t, s, "NULL")
		assert.True(t, strings.HasSuffix(s, "(2 rows)\n"))
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderTable(&buf, rs, ModeMarkdown))
		assert.Contains(t, buf.String(), "| north | 42 |")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderTable(&buf, &core.ResultSet{Columns: []string{"a"}}, ModeText))
		assert.Equal(t, "(0 rows)\n", buf.String())
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		RenderCSV(&buf, rs)
		assert.Contains(t, buf.String(), "north,42")
	})
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"bytes", []byte("x"), "x"},
		{"float", 1.5, "1.5"},
		{"int", int64(3), "3"},
		{"date", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02"},
		{"timestamp", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Last Hydrated", Label("last_hydrated"))
}
