package domain

import "strings"

// NormalizePhone rewrites a raw phone number into the 628-prefixed trunk
// form the gateway accepts. The rules are applied in order, first match
// wins:
//
//  1. surrounding whitespace is trimmed; an empty result stays empty
//  2. "+628..." becomes "628..."
//  3. "08..."   becomes "628..."
//  4. anything else (including numbers already on "628") passes through
//     unchanged
//
// The function is pure and total: it never fails and never drops input, so
// unrecognized formats reach the gateway as-is. It is idempotent under
// re-normalization.
func NormalizePhone(raw string) string {
	num := strings.TrimSpace(raw)
	switch {
	case num == "":
		return ""
	case strings.HasPrefix(num, "+628"):
		return "628" + num[4:]
	case strings.HasPrefix(num, "08"):
		return "628" + num[2:]
	}
	return num
}
