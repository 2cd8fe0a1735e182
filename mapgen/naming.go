package mapgen

import (
	"strings"
	"unicode"
)

// splitName splits a name on hyphens, underscores and lower-to-upper case
// boundaries.
func splitName(name string) []string {
	var parts []string
	for _, chunk := range strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_'
	}) {
		runes := []rune(chunk)
		start := 0
		for i := 1; i < len(runes); i++ {
			if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

// ToPascalCase joins the words of name, capitalizing the first letter of
// each and keeping the rest as written.
func ToPascalCase(name string) string {
	var b strings.Builder
	for _, part := range splitName(name) {
		runes := []rune(part)
		b.WriteRune(unicode.ToUpper(runes[0]))
		b.WriteString(string(runes[1:]))
	}
	return b.String()
}

// CommonAcronyms defines abbreviations that are fully uppercased when
// generating Go names.
var CommonAcronyms = map[string]string{
	"id":   "ID",
	"ids":  "IDs",
	"url":  "URL",
	"uri":  "URI",
	"uuid": "UUID",
	"api":  "API",
	"http": "HTTP",
	"json": "JSON",
	"html": "HTML",
	"ip":   "IP",
	"sql":  "SQL",
	"db":   "DB",
	"isbn": "ISBN",
	"ttl":  "TTL",
}

// ToPascalCaseAcronyms is ToPascalCase with CommonAcronyms applied to
// each word.
func ToPascalCaseAcronyms(name string) string {
	var b strings.Builder
	for _, part := range splitName(name) {
		if acronym, ok := CommonAcronyms[strings.ToLower(part)]; ok {
			b.WriteString(acronym)
			continue
		}
		runes := []rune(part)
		b.WriteRune(unicode.ToUpper(runes[0]))
		b.WriteString(string(runes[1:]))
	}
	return b.String()
}

