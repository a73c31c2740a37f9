package tenants

import "strings"

// NormalizeNumber reduces a dialed number to E.164-ish form: a leading '+'
// followed by digits. Provider payloads are already E.164, but numbers entered
// in the portal may carry spaces, dashes or parentheses.
func NormalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	if n == "" {
		return ""
	}
	var b strings.Builder
	if strings.HasPrefix(n, "+") {
		b.WriteByte('+')
	}
	for _, r := range n {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
