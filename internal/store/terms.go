package store

import (
	"strings"
	"unicode"
)

// queryTerms splits a keyword into lowercase word terms, dropping
// punctuation and duplicates. Order of first occurrence is kept.
func queryTerms(keyword string) []string {
	fields := strings.FieldsFunc(keyword, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(f)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// ftsMatchExpr builds an FTS5 MATCH expression that ORs the quoted terms,
// so user input is never parsed as FTS5 query syntax.
func ftsMatchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
