package utils

import "github.com/microcosm-cc/bluemonday"

var sanitizer = bluemonday.StrictPolicy()

// Sanitize strips any markup from user supplied text such as album titles and display names.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}
