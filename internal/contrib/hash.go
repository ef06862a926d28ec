package contrib

import "strings"

// FormatHash renders a raw hex contribution hash for display and storage:
// an optional 0x prefix is stripped, the hex digits are split into 8-char
// groups joined by single spaces, and a line break follows every 4th group.
// The exact output shape is load-bearing: stored hashes are compared
// byte-for-byte against previously recorded ones.
func FormatHash(hash string) string {
	raw := strings.TrimPrefix(hash, "0x")

	var b strings.Builder
	separator := ""
	j := 0
	for i := 0; i < len(raw); i += 8 {
		end := i + 8
		if end > len(raw) {
			end = len(raw)
		}
		b.WriteString(separator)
		b.WriteString(raw[i:end])
		if j >= 3 {
			b.WriteByte('\n')
			j = 0
		} else {
			j++
		}
		separator = " "
	}
	return b.String()
}
