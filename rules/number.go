package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// unicodeFractions maps vulgar fraction characters to their values
var unicodeFractions = map[rune]float64{
	'¼': 0.25,
	'½': 0.5,
	'¾': 0.75,
	'⅓': 1.0 / 3.0,
	'⅔': 2.0 / 3.0,
	'⅛': 0.125,
	'⅜': 0.375,
	'⅝': 0.625,
	'⅞': 0.875,
	'⅕': 0.2,
	'⅖': 0.4,
	'⅗': 0.6,
	'⅘': 0.8,
	'⅙': 1.0 / 6.0,
	'⅚': 5.0 / 6.0,
	'⅑': 1.0 / 9.0,
	'⅒': 0.1,
}

const fractionChars = `¼½¾⅓⅔⅛⅜⅝⅞⅕⅖⅗⅘⅙⅚⅑⅒`

var (
	// decimal, mixed fraction, whole plus unicode fraction, simple fraction,
	// bare unicode fraction, integer
	numericToken  = regexp.MustCompile(`(?:\d+[.,]\d+|\d+\s+\d+/\d+|\d+[` + fractionChars + `]|\d+/\d+|[` + fractionChars + `]|\d+)`)
	mixedFraction = regexp.MustCompile(`^(\d+)\s+(\d+)\s*/\s*(\d+)$`)
	fraction      = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)$`)
	wholeUnicode  = regexp.MustCompile(`^(\d*)\s*([` + fractionChars + `])$`)
)

// normalizeWhitespace turns unicode spaces into plain ones and collapses runs
func normalizeWhitespace(text string) string {
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// extractNumericToken returns the first number-like token in text
func extractNumericToken(text string) string {
	return strings.TrimSpace(numericToken.FindString(normalizeWhitespace(text)))
}

// parseNumber parses a token produced by extractNumericToken. Thousands
// separators are not supported: "2,5" reads as 2.5.
func parseNumber(token string) (float64, error) {
	token = strings.TrimSpace(strings.ReplaceAll(normalizeWhitespace(token), ",", "."))
	if token == "" {
		return 0, fmt.Errorf("empty token")
	}

	if m := wholeUnicode.FindStringSubmatch(token); m != nil {
		whole := 0.0
		if m[1] != "" {
			whole, _ = strconv.ParseFloat(m[1], 64)
		}
		r := []rune(m[2])[0]
		return whole + unicodeFractions[r], nil
	}

	if m := mixedFraction.FindStringSubmatch(token); m != nil {
		whole, _ := strconv.ParseFloat(m[1], 64)
		num, _ := strconv.ParseFloat(m[2], 64)
		den, _ := strconv.ParseFloat(m[3], 64)
		if den != 0 {
			return whole + num/den, nil
		}
	}

	if m := fraction.FindStringSubmatch(token); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den != 0 {
			return num / den, nil
		}
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse token: %s", token)
	}
	return v, nil
}

// ParseNumber extracts and parses the first number in text. ok is false when
// text holds no number.
func ParseNumber(text string) (v float64, ok bool) {
	token := extractNumericToken(text)
	if token == "" {
		return 0, false
	}
	v, err := parseNumber(token)
	if err != nil {
		return 0, false
	}
	return v, true
}
