package extract

import "strings"

var nbsp = strings.NewReplacer(
	"&nbsp;", " ",
	"\u00a0", " ",
	"\u2007", " ",
	"\u2009", " ",
	"\u202f", " ",
)

// CleanText replaces non-breaking spaces with plain ones and collapses runs
// of whitespace to a single space.
func CleanText(s string) string {
	return strings.Join(strings.Fields(nbsp.Replace(s)), " ")
}
