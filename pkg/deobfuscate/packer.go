// Package deobfuscate reverses the obfuscation schemes found in scraped
// player pages: P.A.C.K.E.R. packed scripts, stacked base64 layers and
// pattern-based URL harvesting. Every function here is pure; malformed input
// yields "no match" or ErrMalformedPayload, never a panic.
package deobfuscate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"stream-resolver-go/pkg/types"
)

const packerAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	// eval(function(p,a,c,k,e,d){...}('payload',62,120,'a|b|c'.split('|'),0,{}))
	packedBlockRe = regexp.MustCompile(`(?s)eval\(function\(p,a,c,k,e,[rd]\).*?\.split\(['"]\|['"]\)(?:\s*,\s*0\s*,\s*\{\})?\s*\)\s*\)`)

	packerArgsSingleRe = regexp.MustCompile(`(?s)\}\s*\(\s*'((?:[^'\\]|\\.)*)'\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*'((?:[^'\\]|\\.)*)'\s*\.split\(\s*'\|'\s*\)`)
	packerArgsDoubleRe = regexp.MustCompile(`(?s)\}\s*\(\s*"((?:[^"\\]|\\.)*)"\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*"((?:[^"\\]|\\.)*)"\s*\.split\(\s*"\|"\s*\)`)

	wordRe = regexp.MustCompile(`\b\w+\b`)
)

// IsPacked reports whether code carries the packed-function calling convention.
func IsPacked(code string) bool {
	return packerArgsSingleRe.MatchString(code) || packerArgsDoubleRe.MatchString(code)
}

// FindPacked returns every packed script block embedded in text, in document order.
func FindPacked(text string) []string {
	return packedBlockRe.FindAllString(text, -1)
}

// UnpackScript expands a packed script back to its literal source.
// It returns ErrMalformedPayload when code does not match the calling convention.
func UnpackScript(code string) (string, error) {
	match := packerArgsSingleRe.FindStringSubmatch(code)
	if match == nil {
		match = packerArgsDoubleRe.FindStringSubmatch(code)
	}
	if match == nil {
		return "", fmt.Errorf("%w: packed arguments not found", types.ErrMalformedPayload)
	}

	payload := unescapeJS(match[1])
	radix, err := strconv.Atoi(match[2])
	if err != nil || radix < 2 || radix > len(packerAlphabet) {
		return "", fmt.Errorf("%w: unsupported radix %q", types.ErrMalformedPayload, match[2])
	}
	count, err := strconv.Atoi(match[3])
	if err != nil || count < 0 {
		return "", fmt.Errorf("%w: bad symbol count %q", types.ErrMalformedPayload, match[3])
	}
	keywords := strings.Split(unescapeJS(match[4]), "|")

	symbols := make(map[string]string, count)
	for i := 0; i < count && i < len(keywords); i++ {
		if keywords[i] != "" {
			symbols[encodeIndex(i, radix)] = keywords[i]
		}
	}

	return wordRe.ReplaceAllStringFunc(payload, func(word string) string {
		if kw, ok := symbols[word]; ok {
			return kw
		}
		return word
	}), nil
}

// encodeIndex renders n the way the packer's e() function does.
func encodeIndex(n, radix int) string {
	if n < radix {
		return string(packerAlphabet[n])
	}
	return encodeIndex(n/radix, radix) + string(packerAlphabet[n%radix])
}

// unescapeJS undoes the backslash escapes a packer applies to its string literals.
func unescapeJS(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
