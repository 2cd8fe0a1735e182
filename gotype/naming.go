package gotype

import (
	"fmt"
	"strings"
	"unicode"
)

// NamingStrategy converts Go identifiers into storage names.
type NamingStrategy string

// Supported naming strategies.
const (
	NamingIdentity   NamingStrategy = "identity"
	NamingLowerCamel NamingStrategy = "lowerCamel"
	NamingSnake      NamingStrategy = "snake"
	NamingKebab      NamingStrategy = "kebab"
	NamingLower      NamingStrategy = "lower"
)

// Validate returns an error for unknown strategies. The empty strategy is
// treated as identity.
func (s NamingStrategy) Validate() error {
	switch s {
	case "", NamingIdentity, NamingLowerCamel, NamingSnake, NamingKebab, NamingLower:
		return nil
	}
	return fmt.Errorf("unknown naming strategy %q", string(s))
}

// Apply converts name according to the strategy.
func (s NamingStrategy) Apply(name string) string {
	switch s {
	case NamingLowerCamel:
		return toLowerCamel(name)
	case NamingSnake:
		return joinWords(name, '_')
	case NamingKebab:
		return joinWords(name, '-')
	case NamingLower:
		return strings.ToLower(name)
	}
	return name
}

// toLowerCamel lowers the leading upper-case run of name, keeping the last
// capital of an acronym that starts the next word.
// e.g. "Name" → "name", "HTTPServer" → "httpServer", "ID" → "id"
func toLowerCamel(name string) string {
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// joinWords splits a PascalCase name into lower-case words joined by sep.
// e.g. "UserAccount" → "user_account", "HTTPServer" → "http_server"
func joinWords(name string, sep rune) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			acronymEnd := i > 0 && unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || acronymEnd {
				b.WriteRune(sep)
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
