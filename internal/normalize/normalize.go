// Package normalize provides Unicode normalization for scanned repository
// content. Every pattern-matching path (secret detection, dangerous calls,
// injection heuristics, typosquat comparison) runs on normalized text so
// zero-width characters, bidi controls, and cross-script homoglyphs cannot
// hide a match.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// InvisibleRanges defines Unicode ranges stripped before any scan.
// Covers zero-width characters, bidi embedding and isolate controls, the
// Tags block, and variation selectors.
var InvisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// confusableMap maps non-Latin characters that are visually identical to
// Latin letters. NFKC does not handle cross-script confusables (Cyrillic а,
// U+0430, stays Cyrillic), so "reаct" survives normalization unless folded
// here. Focused on characters that plausibly appear in package names and
// source text, not exhaustive.
var confusableMap = map[rune]rune{
	// Cyrillic uppercase → Latin
	'А': 'A', // А
	'В': 'B', // В
	'С': 'C', // С
	'Е': 'E', // Е
	'Н': 'H', // Н
	'І': 'I', // І (Ukrainian)
	'Ј': 'J', // Ј (Serbian)
	'К': 'K', // К
	'М': 'M', // М
	'О': 'O', // О
	'Р': 'P', // Р
	'Ѕ': 'S', // Ѕ (Macedonian)
	'Т': 'T', // Т
	'Х': 'X', // Х

	// Cyrillic lowercase → Latin
	'а': 'a', // а
	'в': 'v', // в
	'е': 'e', // е
	'н': 'h', // н
	'і': 'i', // і (Ukrainian)
	'к': 'k', // к
	'м': 'm', // м
	'о': 'o', // о
	'р': 'p', // р
	'с': 'c', // с
	'т': 't', // т
	'у': 'y', // у
	'х': 'x', // х
	'ј': 'j', // ј (Serbian)
	'ѕ': 's', // ѕ (Macedonian)

	// Greek uppercase → Latin
	'Α': 'A', // Α
	'Β': 'B', // Β
	'Ε': 'E', // Ε
	'Ζ': 'Z', // Ζ
	'Η': 'H', // Η
	'Ι': 'I', // Ι
	'Κ': 'K', // Κ
	'Μ': 'M', // Μ
	'Ν': 'N', // Ν
	'Ο': 'O', // Ο
	'Ρ': 'P', // Ρ
	'Τ': 'T', // Τ
	'Υ': 'Y', // Υ
	'Χ': 'X', // Χ

	// Greek lowercase → Latin
	'α': 'a', // α
	'ε': 'e', // ε
	'ι': 'i', // ι
	'κ': 'k', // κ
	'ν': 'v', // ν
	'ο': 'o', // ο

	// Latin Extended / IPA small caps that survive NFKC
	'ᴀ': 'A', // ᴀ
	'ᴄ': 'C', // ᴄ
	'ᴇ': 'E', // ᴇ
	'ᴏ': 'O', // ᴏ
	'ɪ': 'I', // ɪ
	'ʙ': 'B', // ʙ
}

// StripInvisible removes ASCII control characters (except \t, \n, \r) and
// Unicode zero-width/invisible characters. Newlines are preserved because
// finding locations count them.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		if r >= 0x80 && r <= 0x9F {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// ConfusableToASCII maps visually identical non-Latin characters to their
// Latin equivalents. Applied after NFKC to catch cross-script homoglyphs
// NFKC leaves alone.
func ConfusableToASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		return r
	}, s)
}

// StripCombiningMarks removes combining marks (category Mn) that survive
// NFKC. NFD decomposition first so marks become separable.
func StripCombiningMarks(s string) string {
	s = norm.NFD.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
}

// ForScan is the pipeline applied to file content before regex matching:
// strip invisibles (keeping newlines), NFKC, confusable folding, combining
// mark removal.
func ForScan(s string) string {
	s = StripInvisible(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	return s
}

// Skeleton folds a package or project name to its comparison form for
// typosquat detection: invisibles stripped, NFKC, confusables mapped,
// combining marks removed, lowercased. Two names with the same skeleton are
// visually indistinguishable.
func Skeleton(name string) string {
	return strings.ToLower(ForScan(name))
}
