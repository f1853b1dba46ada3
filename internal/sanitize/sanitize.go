// Package sanitize cleans backend-supplied text before it reaches a terminal.
// Event fields such as descriptions and titles are untrusted: escape sequences
// could rewrite the screen and invisible characters could disguise content.
package sanitize

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

var (
	// CSI and OSC escape sequences, e.g. colors, cursor movement, window titles
	escapeSeqRegex = regexp.MustCompile(`\x1b(\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(\x07|\x1b\\)?)`)

	// Unicode Tags block (U+E0000-U+E007F) - invisible tag characters
	unicodeTagsRegex = regexp.MustCompile(`[\x{E0000}-\x{E007F}]`)

	// FE00-FE0F: Variation Selectors
	// E0100-E01EF: Variation Selectors Supplement
	variationSelectorsRegex = regexp.MustCompile(`[\x{FE00}-\x{FE0F}\x{E0100}-\x{E01EF}]`)
)

// Bidirectional control characters - can reverse text display direction
var bidiControlChars = []rune{
	'\u200E', // LEFT-TO-RIGHT MARK
	'\u200F', // RIGHT-TO-LEFT MARK
	'\u202A', // LEFT-TO-RIGHT EMBEDDING
	'\u202B', // RIGHT-TO-LEFT EMBEDDING
	'\u202C', // POP DIRECTIONAL FORMATTING
	'\u202D', // LEFT-TO-RIGHT OVERRIDE
	'\u202E', // RIGHT-TO-LEFT OVERRIDE
	'\u2066', // LEFT-TO-RIGHT ISOLATE
	'\u2067', // RIGHT-TO-LEFT ISOLATE
	'\u2068', // FIRST STRONG ISOLATE
	'\u2069', // POP DIRECTIONAL ISOLATE
}

// Zero-width and invisible characters - can encode hidden data
var zeroWidthChars = []rune{
	'\u200B', // ZERO WIDTH SPACE
	'\u200C', // ZERO WIDTH NON-JOINER
	'\u200D', // ZERO WIDTH JOINER
	'\u2060', // WORD JOINER
	'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
}

// ForTerminal returns input safe to print on one terminal line.
//
// Removed characters:
//   - escape sequences (CSI, OSC)
//   - other control characters; line breaks and tabs become spaces
//   - Unicode Tags (U+E0000-U+E007F) and variation selectors
//   - bidirectional controls and zero-width characters
func ForTerminal(input string) string {
	if input == "" {
		return ""
	}

	result := escapeSeqRegex.ReplaceAllString(input, "")
	result = unicodeTagsRegex.ReplaceAllString(result, "")
	result = variationSelectorsRegex.ReplaceAllString(result, "")

	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r), isInvisible(r):
			return -1
		}
		return r
	}, result)
}

func isInvisible(r rune) bool {
	return slices.Contains(bidiControlChars, r) || slices.Contains(zeroWidthChars, r)
}

// Suspicious reports whether input carries content ForTerminal removes to keep
// it from hiding or disguising text, with a description of the first found
func Suspicious(input string) (bool, string) {
	if input == "" {
		return false, ""
	}
	if escapeSeqRegex.MatchString(input) {
		return true, "contains terminal escape sequences"
	}
	if unicodeTagsRegex.MatchString(input) {
		return true, "contains unicode tag characters (U+E0000-U+E007F)"
	}
	if variationSelectorsRegex.MatchString(input) {
		return true, "contains variation selector characters"
	}
	for _, char := range bidiControlChars {
		if strings.ContainsRune(input, char) {
			return true, fmt.Sprintf("contains bidirectional control character (U+%04X)", char)
		}
	}
	for _, char := range zeroWidthChars {
		if strings.ContainsRune(input, char) {
			return true, fmt.Sprintf("contains zero-width character (U+%04X)", char)
		}
	}
	return false, ""
}
