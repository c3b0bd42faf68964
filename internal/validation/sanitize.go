package validation

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/locshare/internal/errs"
)

const (
	MaxNameLength = 30
	MaxTextLength = 200
	MaxAccuracy   = 10000.0
	MinLatitude   = -90.0
	MaxLatitude   = 90.0
	MinLongitude  = -180.0
	MaxLongitude  = 180.0
)

// SanitizeName trims, caps at MaxNameLength runes and HTML-escapes a display name.
func SanitizeName(name string) string {
	return sanitize(name, MaxNameLength)
}

// SanitizeText trims, caps at MaxTextLength runes and HTML-escapes chat or notification text.
func SanitizeText(text string) string {
	return sanitize(text, MaxTextLength)
}

// The cap applies before escaping so an entity is never cut in half.
func sanitize(s string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return html.EscapeString(s)
}

// ClampAccuracy bounds accuracy to [0, MaxAccuracy]. nil stays nil.
func ClampAccuracy(acc *float64) *float64 {
	if acc == nil {
		return nil
	}
	v := *acc
	if v < 0 {
		v = 0
	}
	if v > MaxAccuracy {
		v = MaxAccuracy
	}
	return &v
}

// Coordinates checks that both coordinates are present and in range.
func Coordinates(lat, lon *float64) (float64, float64, error) {
	if lat == nil || lon == nil {
		return 0, 0, errs.Validation("latitude and longitude are required")
	}
	if *lat < MinLatitude || *lat > MaxLatitude || *lon < MinLongitude || *lon > MaxLongitude {
		return 0, 0, errs.Validation("coordinates out of range")
	}
	return *lat, *lon, nil
}

// Identifier checks a required identity field.
func Identifier(field, value string) error {
	if value == "" {
		return errs.Validationf("%s is required", field)
	}
	if !IsIdentifier(value) {
		return errs.Validationf("%s must be a valid identifier", field)
	}
	return nil
}
