// Package normalize cleans text extracted from wiki pages before it is stored.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Field names with dedicated normalization rules.
const (
	FieldAppearance         = "appearance"
	FieldPersonality        = "personality"
	FieldAbilitiesAndPowers = "abilities_and_powers"
	FieldYear               = "year"
)

var (
	citationPattern     = regexp.MustCompile(`\[\d+\]`)
	spaceRunPattern     = regexp.MustCompile(` +`)
	nonPrintablePattern = regexp.MustCompile(`[^\x20-\x7E]+`)
)

// Error reports a value that could not be converted to its stored type.
type Error struct {
	Field string
	Raw   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Raw, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Text cleans a long-form section. The steps run in a fixed order: trim,
// drop citation markers like [12], drop newlines and backslashes, collapse
// space runs, then strip anything outside printable ASCII.
func Text(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = citationPattern.ReplaceAllString(clean, "")
	clean = strings.ReplaceAll(clean, "\n", "")
	clean = strings.ReplaceAll(clean, `\`, "")
	clean = spaceRunPattern.ReplaceAllString(clean, " ")
	clean = nonPrintablePattern.ReplaceAllString(clean, "")
	return clean
}

// Year parses the first-appearance year. Anything that is not a base-10
// integer after trimming is an *Error.
func Year(raw string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &Error{Field: FieldYear, Raw: raw, Err: err}
	}
	return year, nil
}

// Field applies the rule registered for name. Long-form sections return a
// string, year returns an int, every other field is returned unchanged.
func Field(name, raw string) (any, error) {
	switch name {
	case FieldAppearance, FieldPersonality, FieldAbilitiesAndPowers:
		return Text(raw), nil
	case FieldYear:
		return Year(raw)
	default:
		return raw, nil
	}
}
