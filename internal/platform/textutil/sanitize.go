package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup from free text and trims it. Entities produced by the policy are
// decoded back so stored text stays readable.
func SanitizePlainText(value string) string {
	cleaned := plainTextPolicy.Sanitize(value)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// SanitizeOptional applies SanitizePlainText and maps empty results to nil.
func SanitizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := SanitizePlainText(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
