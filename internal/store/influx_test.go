package store

import (
	"encoding/json"
	"testing"
)

func TestEscapeValue(t *testing.T) {
	tests := []struct{ in, want string }{
		{"polar-h10", "polar-h10"},
		{"o'brien", `o\'brien`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeValue(tt.in); got != tt.want {
			t.Errorf("escapeValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToInt64(t *testing.T) {
	if v, err := toInt64(json.Number("1700000000123")); err != nil || v != 1700000000123 {
		t.Errorf("toInt64 = (%d, %v), want 1700000000123", v, err)
	}
	if _, err := toInt64("not a number"); err == nil {
		t.Error("toInt64 on string = nil error, want failure")
	}
}

func TestToFloatHandlesNullColumns(t *testing.T) {
	col := map[string]int{"time": 0, "rr_interval": 1, "rr_clean": 2}
	vals := []any{json.Number("1000"), json.Number("812.5"), nil}

	if got := toFloat(vals, col, "rr_interval"); got != 812.5 {
		t.Errorf("rr_interval = %v, want 812.5", got)
	}
	if got := toFloat(vals, col, "rr_clean"); got != 0 {
		t.Errorf("null rr_clean = %v, want 0", got)
	}
	if got := toFloat(vals, col, "missing"); got != 0 {
		t.Errorf("missing column = %v, want 0", got)
	}
}
