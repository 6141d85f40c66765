package i18n

import (
	"strings"

	"finitefield.org/edu-storefront/internal/record"
)

const (
	defaultLocaleKey = "en"
	translationsKey  = "translations"
)

// LocaleKey normalizes a locale identifier ("en-US", "PT_br") to the two-character key used for
// field lookups.
func LocaleKey(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	runes := []rune(locale)
	if len(runes) > 2 {
		return string(runes[:2])
	}
	return locale
}

// Field returns the best available localized value of field for locale:
//
//  1. translations[field][localeKey], then translations[field]["en"]
//  2. the flat column field_<localeKey>
//  3. the untranslated field itself
//
// Null and empty values fall through to the next tier; the result is "" when nothing matches.
func Field(rec record.Record, field, locale string) string {
	key := LocaleKey(locale)
	if v := translated(rec, field, key); v != "" {
		return v
	}
	if key != "" {
		if v := rec.String(field + "_" + key); v != "" {
			return v
		}
	}
	return rec.String(field)
}

func translated(rec record.Record, field, key string) string {
	translations, ok := rec.Map(translationsKey)
	if !ok {
		return ""
	}
	byLocale, ok := translations.Map(field)
	if !ok {
		return ""
	}
	if key != "" {
		if v := byLocale.String(key); v != "" {
			return v
		}
	}
	return byLocale.String(defaultLocaleKey)
}

// Localizer binds a locale so page code can resolve several fields of the same record.
type Localizer struct {
	locale string
}

// NewLocalizer returns a Localizer for locale.
func NewLocalizer(locale string) Localizer {
	return Localizer{locale: locale}
}

// Locale returns the normalized locale key.
func (l Localizer) Locale() string { return LocaleKey(l.locale) }

// Field resolves field on rec.
func (l Localizer) Field(rec record.Record, field string) string {
	return Field(rec, field, l.locale)
}
