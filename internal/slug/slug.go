// Package slug turns team display names into URL-safe identifiers.
package slug

import (
	"regexp"
	"strconv"
	"strings"

	gslug "github.com/gosimple/slug"
)

// jargon is applied in order, after lower-casing and before transliteration.
var jargon = []struct{ from, to string }{
	{"квиз", "quiz"},
	{"плиз", "please"},
	{"1?=!", "one-question-is-fine"},
	{`¯\_(ツ)_/¯`, " shrug "},
	{".*", " wildcard "},
	{"*", " star "},
	{"+", " plus "},
}

var (
	reNonSlug = regexp.MustCompile(`[^a-z0-9-]+`)
	reDashes  = regexp.MustCompile(`-{2,}`)
)

// Generate returns the slug for name. It is deterministic and idempotent:
// feeding a slug back in returns the same slug.
func Generate(name string) string {
	s := strings.ToLower(name)
	for _, j := range jargon {
		s = strings.ReplaceAll(s, j.from, j.to)
	}
	s = gslug.MakeLang(s, "en")
	s = reNonSlug.ReplaceAllString(s, "-")
	s = reDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// WithSuffix appends the numeric collision suffix used for duplicate names
// in one city.
func WithSuffix(base string, n int) string {
	if n <= 0 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}
