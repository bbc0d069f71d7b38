// Package match implements the generic pattern matcher and condition-tree
// evaluator of spec.md §4.1, grounded on the teacher's discovery.Service
// regex-based routing (app/discovery/discovery.go in umputun/reproxy),
// generalized from a flat src-regex match into a recursive condition tree.
package match

import (
	"regexp"
	"strings"

	"github.com/coreproxy/coreproxy/internal/model"
)

// MatchPattern evaluates a single pattern/flavor/flags combination against
// text, returning whether it matched and (for regex flavors) the capture
// groups including the whole match at index 0.
func MatchPattern(c *model.Condition, text string) (bool, []string, error) {
	switch c.Flavor {
	case model.FlavorExact:
		if ci(c.Flags.ICase, text) == ci(c.Flags.ICase, c.Pattern) {
			return true, []string{text}, nil
		}
		return false, nil, nil
	case model.FlavorPrefix:
		if strings.HasPrefix(ci(c.Flags.ICase, text), ci(c.Flags.ICase, c.Pattern)) {
			return true, []string{text}, nil
		}
		return false, nil, nil
	case model.FlavorSuffix:
		if strings.HasSuffix(ci(c.Flags.ICase, text), ci(c.Flags.ICase, c.Pattern)) {
			return true, []string{text}, nil
		}
		return false, nil, nil
	case model.FlavorContain:
		if strings.Contains(ci(c.Flags.ICase, text), ci(c.Flags.ICase, c.Pattern)) {
			return true, []string{text}, nil
		}
		return false, nil, nil
	default: // POSIX ERE or PCRE: Go's regexp covers both reasonably for our purposes
		re, err := c.Compiled()
		if err != nil {
			return false, nil, err
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			return false, nil, nil
		}
		return true, m, nil
	}
}

func ci(icase bool, s string) string {
	if icase {
		return strings.ToLower(s)
	}
	return s
}

// HostMatchRegex synthesizes the regex used for a Host-match leaf: the raw
// expression anchored as ^pattern$ against the Host header value alone,
// prefixed with (?i) when icase is set (spec.md §4.1).
func HostMatchRegex(pattern string, icase bool) (*regexp.Regexp, error) {
	prefix := ""
	if icase {
		prefix = "(?i)"
	}
	return regexp.Compile(prefix + "^" + pattern + "$")
}
