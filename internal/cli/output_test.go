package cli

import (
	"bytes"
	"strings"
	"testing"
)

func testOutput(buf *bytes.Buffer) *Output {
	return &Output{writer: buf, colorEnabled: false}
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	out := testOutput(&buf)

	table := NewTable(out, "Date", "Symbol", "P&L")
	table.AddRow("2026-03-02", "HDFCBANK26SEP900CE", "+352.00")
	table.AddRow("2026-03-03", "RELIANCE26SEP1400CE", "-120.50")
	table.Render()

	got := buf.String()
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and 2 rows, got %d lines:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[0], "Symbol") {
		t.Errorf("header missing: %q", lines[0])
	}
	if !strings.Contains(lines[1], "---") {
		t.Errorf("separator missing: %q", lines[1])
	}
	// Columns align on the widest cell.
	if !strings.Contains(lines[2], "HDFCBANK26SEP900CE ") {
		t.Errorf("padding missing: %q", lines[2])
	}
}

func TestStripANSI(t *testing.T) {
	colored := ColorGreen + "+352.00" + ColorReset
	if got := stripANSI(colored); got != "+352.00" {
		t.Errorf("stripANSI = %q", got)
	}
	if got := stripANSI("plain"); got != "plain" {
		t.Errorf("stripANSI = %q", got)
	}
}

func TestFormatPercentSign(t *testing.T) {
	var buf bytes.Buffer
	out := testOutput(&buf)

	if got := out.FormatPercent(8.25); got != "+8.25%" {
		t.Errorf("FormatPercent(8.25) = %q", got)
	}
	if got := out.FormatPercent(-3.1); got != "-3.10%" {
		t.Errorf("FormatPercent(-3.1) = %q", got)
	}
	if got := out.FormatPercent(0); got != "0.00%" {
		t.Errorf("FormatPercent(0) = %q", got)
	}
}
