package rewrite

import (
	"net/url"
	"strings"
)

// setQueryParamOrdered adds-or-replaces name=value in rawQuery while
// preserving the relative order of every other parameter (spec.md §4.2
// "SetQueryParam... preserving order of others" - url.Values.Encode()
// alphabetizes keys and would violate that, so we rewrite the raw string
// in place instead).
func setQueryParamOrdered(rawQuery, name, value string) string {
	pairs := strings.Split(rawQuery, "&")
	found := false
	for i, p := range pairs {
		if p == "" {
			continue
		}
		k := p
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			k = p[:idx]
		}
		if decodedKey(k) == name {
			pairs[i] = name + "=" + url.QueryEscape(value)
			found = true
		}
	}
	if !found {
		pair := name + "=" + url.QueryEscape(value)
		if rawQuery == "" {
			return pair
		}
		pairs = append(pairs, pair)
	}
	return strings.Join(filterEmpty(pairs), "&")
}

func decodedKey(k string) string {
	if v, err := url.QueryUnescape(k); err == nil {
		return v
	}
	return k
}

func filterEmpty(pairs []string) []string {
	out := pairs[:0]
	for _, p := range pairs {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
