// Package normalize derives the matching keys used throughout the pipeline:
// normalized company names, registrable domain keys, and the aggregator
// denylist check. Keys are for matching only and are never displayed.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSuffixes lists the legal entity suffixes stripped during name
// normalization. Entries are matched case-insensitively at the end of the
// name, longest first.
var DefaultSuffixes = []string{
	"incorporated", "corporation", "limited", "company",
	"l.l.c.", "l.l.c", "llc",
	"inc.", "inc",
	"corp.", "corp",
	"ltd.", "ltd",
	"l.p.", "lp",
	"llp",
	"plc",
	"co.", "co",
	"gmbh", "ag", "s.a.", "sa", "b.v.", "bv",
}

var (
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

	// foldMarks strips combining diacritical marks after NFKD decomposition,
	// so "Génentech" and "Genentech" normalize identically.
	foldMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Name normalizes a company name into its matching key: lowercase, legal
// suffixes stripped, punctuation removed, whitespace collapsed. Empty input
// yields an empty key.
func Name(name string) string {
	return NameWith(name, DefaultSuffixes)
}

// NameWith is Name with a caller-supplied suffix list.
func NameWith(name string, suffixes []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(foldMarks, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)

	// Strip a trailing legal suffix. The suffix must be a separate trailing
	// token so that "Zinco" does not lose its "co". One pass is enough:
	// chained suffixes ("Acme Bio Co. Inc.") are rare and the leftover suffix
	// still matches the grouping key of its sibling records.
	for _, suffix := range suffixes {
		if !endsAtBoundary(name, suffix) {
			continue
		}
		name = strings.TrimRight(strings.TrimSuffix(name, suffix), " ,.")
		break
	}

	name = punctuationRe.ReplaceAllString(name, " ")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// endsAtBoundary reports whether name ends with suffix preceded by a space,
// comma, or period.
func endsAtBoundary(name, suffix string) bool {
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	idx := len(name) - len(suffix)
	if idx <= 0 {
		return false
	}
	switch name[idx-1] {
	case ' ', ',', '.':
		return true
	}
	return false
}
