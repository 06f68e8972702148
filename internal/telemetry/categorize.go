package telemetry

import "strings"

// Category groups recorded errors for operator statistics.
type Category string

// Error categories, in matching order.
const (
	CategoryConfiguration Category = "configuration"
	CategoryRetry         Category = "retry"
	CategoryTimeout       Category = "timeout"
	CategoryHTTP          Category = "http"
	CategorySSL           Category = "ssl"
	CategoryDNS           Category = "dns"
	CategoryGeneral       Category = "general"
)

var categoryTriggers = []struct {
	category Category
	keywords []string
}{
	{CategoryConfiguration, []string{"url"}},
	{CategoryRetry, []string{"retry"}},
	{CategoryTimeout, []string{"timeout", "timed out"}},
	{CategoryHTTP, []string{"http", "status"}},
	{CategorySSL, []string{"ssl", "tls"}},
	{CategoryDNS, []string{"dns", "resolve"}},
}

// Categorize returns the first category whose keyword occurs in msg (case-insensitive),
// or CategoryGeneral.
func Categorize(msg string) Category {
	lower := strings.ToLower(msg)
	for _, rule := range categoryTriggers {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

// Categories lists every category in matching order, general last.
func Categories() []Category {
	out := make([]Category, 0, len(categoryTriggers)+1)
	for _, rule := range categoryTriggers {
		out = append(out, rule.category)
	}
	return append(out, CategoryGeneral)
}
