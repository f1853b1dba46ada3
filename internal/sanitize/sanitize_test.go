package sanitize

import (
	"testing"
)

func TestForTerminal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "normal text unchanged",
			input:    "PRICE_UPDATED Trail Runner 89.00 -> 79.00 EUR",
			expected: "PRICE_UPDATED Trail Runner 89.00 -> 79.00 EUR",
		},
		{
			name:     "color codes removed",
			input:    "\x1b[31mred\x1b[0m alert",
			expected: "red alert",
		},
		{
			name:     "cursor movement removed",
			input:    "ok\x1b[2K\x1b[1Gforged",
			expected: "okforged",
		},
		{
			name:     "window title removed",
			input:    "\x1b]0;pwned\x07title",
			expected: "title",
		},
		{
			name:     "line breaks flattened",
			input:    "line one\nline two\r\tend",
			expected: "line one line two  end",
		},
		{
			name:     "bell and backspace removed",
			input:    "ding\x07\x08dong",
			expected: "dingdong",
		},
		{
			name:     "unicode tags removed",
			input:    "hello\U000E0001\U000E0049world",
			expected: "helloworld",
		},
		{
			name:     "bidi override removed",
			input:    "safe\u202Eevil\u202Ctext",
			expected: "safeeviltext",
		},
		{
			name:     "all bidi characters removed",
			input:    "a\u200Eb\u200Fc\u202Ad\u202Be\u202Cf\u202Dg\u202Eh\u2066i\u2067j\u2068k\u2069l",
			expected: "abcdefghijkl",
		},
		{
			name:     "zero width characters removed",
			input:    "no\u200Bspace\u200Cjoin\u2060word\uFEFF",
			expected: "nospacejoinword",
		},
		{
			name:     "variation selectors removed",
			input:    "text\uFE00\uFE0Fmore",
			expected: "textmore",
		},
		{
			name:     "preserves regular unicode",
			input:    "Grüße 世界 Ωmega",
			expected: "Grüße 世界 Ωmega",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ForTerminal(tt.input)
			if result != tt.expected {
				t.Errorf("ForTerminal(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSuspicious(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantFound bool
	}{
		{"empty", "", false},
		{"plain text", "Failed admin login", false},
		{"escape sequence", "\x1b[31mred", true},
		{"unicode tag", "a\U000E0041b", true},
		{"variation selector", "a\uFE0Fb", true},
		{"bidi override", "a\u202Eb", true},
		{"zero width space", "a\u200Bb", true},
		{"newline is not suspicious", "a\nb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, reason := Suspicious(tt.input)
			if found != tt.wantFound {
				t.Errorf("Suspicious(%q) = %v (%s), want %v", tt.input, found, reason, tt.wantFound)
			}
			if found && reason == "" {
				t.Error("Expected a reason for suspicious input")
			}
		})
	}
}
