package validation

import (
	"github.com/microcosm-cc/bluemonday"
)

var strictHTMLPolicy *bluemonday.Policy

func init() {
	strictHTMLPolicy = bluemonday.StrictPolicy() // Removes all HTML tags
}

// SanitizeText removes all HTML tags and attributes from an input string,
// preventing XSS before saving to the database. Account names and
// transaction descriptions pass through here.
func SanitizeText(s string) string {
	return strictHTMLPolicy.Sanitize(s)
}
