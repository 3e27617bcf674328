package automation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{4,20}$`)

// IsIdentifier reports whether s looks like a contact identifier.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ExtractIdentifier pulls the identifier out of a label such as
// "微信号：abc_123". It returns "" when the label holds no identifier.
func ExtractIdentifier(label string) string {
	label = strings.TrimSpace(label)
	if i := strings.LastIndexAny(label, ":："); i >= 0 {
		_, size := utf8.DecodeRuneInString(label[i:])
		label = strings.TrimSpace(label[i+size:])
	}
	if IsIdentifier(label) {
		return label
	}
	return ""
}

// remarkLabels prefix the remark line of a detail pane.
var remarkLabels = []string{"备注", "Remark"}

// ExtractRemark returns the value of a remark line such as "备注：老客户".
// A bare label or an empty line yields "".
func ExtractRemark(label string) string {
	label = strings.TrimSpace(label)
	for _, prefix := range remarkLabels {
		if rest, ok := strings.CutPrefix(label, prefix); ok {
			label = rest
			break
		}
	}
	return strings.TrimSpace(strings.TrimLeft(label, ":： "))
}

// NormalizeName folds a display name for comparison: NFKC, lower case,
// whitespace collapsed.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NamesMatch reports whether either normalized name contains the other.
func NamesMatch(a, b string) bool {
	a, b = NormalizeName(a), NormalizeName(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// CleanNickname drops everything from the first self-introduction marker
// onwards ("张三我是..." → "张三").
func CleanNickname(raw, marker string) string {
	if marker != "" {
		if i := strings.Index(raw, marker); i >= 0 {
			raw = raw[:i]
		}
	}
	return strings.TrimSpace(raw)
}
