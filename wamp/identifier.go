package wamp

import (
	"regexp"
	"strings"
)

// ID is a WAMP identifier: session, request, subscription, registration and
// publication IDs are all unsigned integers in [0, 2^53).
type ID uint64

// URI is a dot-separated WAMP URI. Depending on match policy, individual
// dot-separated components may be empty (prefix: only the last component;
// wildcard: any component).
type URI string

var (
	looseURINonEmpty  = regexp.MustCompile(`^([^\s\.#]+\.)*([^\s\.#]+)$`)
	looseURILastEmpty = regexp.MustCompile(`^([^\s\.#]+\.)*([^\s\.#]*)$`)
	looseURIEmpty     = regexp.MustCompile(`^(([^\s\.#]+\.)|\.)*([^\s\.#]+)?$`)

	strictURINonEmpty  = regexp.MustCompile(`^([0-9a-z_]+\.)*([0-9a-z_]+)$`)
	strictURILastEmpty = regexp.MustCompile(`^([0-9a-z_]+\.)*([0-9a-z_]*)$`)
	strictURIEmpty     = regexp.MustCompile(`^(([0-9a-z_]+\.)|\.)*([0-9a-z_]+)?$`)
)

// ValidURI reports whether u is a syntactically valid URI for the given
// match policy. strict selects the `[0-9a-z_]+` component grammar over the
// looser "anything but whitespace/dot/hash" grammar.
func (u URI) ValidURI(strict bool, match string) bool {
	switch {
	case strict && match == MatchWildcard:
		return strictURIEmpty.MatchString(string(u))
	case strict && match == MatchPrefix:
		return strictURILastEmpty.MatchString(string(u))
	case strict:
		return strictURINonEmpty.MatchString(string(u))
	case match == MatchWildcard:
		return looseURIEmpty.MatchString(string(u))
	case match == MatchPrefix:
		return looseURILastEmpty.MatchString(string(u))
	default:
		return looseURINonEmpty.MatchString(string(u))
	}
}

// PrefixMatch reports whether u is matched by the prefix pattern: u equals
// prefix, or u starts with prefix followed by a dot.
func (u URI) PrefixMatch(prefix URI) bool {
	s, p := string(u), string(prefix)
	if s == p {
		return true
	}
	return strings.HasPrefix(s, p) && s[len(p)] == '.'
}

// WildcardMatch reports whether u is matched by the wildcard pattern:
// identical component count, and every non-empty pattern component equal
// to the corresponding concrete component.
func (u URI) WildcardMatch(pattern URI) bool {
	patternParts := strings.Split(string(pattern), ".")
	uriParts := strings.Split(string(u), ".")
	if len(patternParts) != len(uriParts) {
		return false
	}
	for i, p := range patternParts {
		if p != "" && p != uriParts[i] {
			return false
		}
	}
	return true
}
