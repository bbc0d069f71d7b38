// Package rewrite implements the rewrite engine of spec.md §4.2: template
// expansion with $N backrefs and the operation list (SetHeader,
// DeleteHeader, SetURL, SetPath, SetQuery, SetQueryParam, SubRewrite).
// Grounded on the teacher's discovery.Service.extendMapper/redirects
// (app/discovery/discovery.go), generalized from regexp.ReplaceAllString's
// fixed $N syntax into an explicit per-template expander so `$$` and a
// trailing stray `$` behave exactly as spec.md requires.
package rewrite

import "strings"

// Expand substitutes $0..$9 from vector (vector[0] is the whole match), $$
// becomes a literal $, and a stray trailing $ is literal (spec.md §4.2).
func Expand(template string, vector []string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		ch := template[i]
		if ch != '$' {
			b.WriteByte(ch)
			continue
		}
		if i+1 >= len(template) {
			b.WriteByte('$') // stray trailing $ is literal
			break
		}
		next := template[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next >= '0' && next <= '9':
			idx := int(next - '0')
			if idx < len(vector) {
				b.WriteString(vector[idx])
			}
			i++
		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}
